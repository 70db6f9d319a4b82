package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kbretrieval/core/internal/apierr"
	"github.com/kbretrieval/core/internal/logger"
)

// Recovery recovers from a panic anywhere downstream and responds with the
// same taxonomy-coded JSON body (spec §7) httpapi's errorResponder uses for
// every other error path, so a panicking handler looks no different to a
// caller than one that returned apierr.InternalError.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Get("RequestID")
				logger.ErrorWithFields(c.Request.Context(), fmt.Errorf("panic: %v", r), logrus.Fields{
					"request_id": requestID,
					"stacktrace": string(debug.Stack()),
				})

				err := apierr.Newf(apierr.InternalError, "%v", r)
				c.AbortWithStatusJSON(err.HTTPStatus(), gin.H{
					"success": false,
					"code":    apierr.CodeOf(err),
					"message": err.Error(),
				})
			}
		}()

		c.Next()
	}
}
