// Package httpapi is a thin gin façade over internal/orchestrator — three
// demonstration routes (document ingestion, retrieval, KB config update)
// standing in for
// the full HTTP admin surface spec.md's non-goals explicitly exclude.
// Authentication itself is out of scope (spec §3: the core receives an
// already-validated types.APIKeyIdentity); identityMiddleware here only
// resolves the bearer API key presented against IdentityRepository and
// attaches the result to the request context, mirroring the teacher's
// internal/handler validateKnowledgeBaseAccess gin.Context error idiom
// (c.Error(err) + a single recovery middleware translating it to JSON).
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kbretrieval/core/internal/apierr"
	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/middleware"
	"github.com/kbretrieval/core/internal/orchestrator"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// Server wires the orchestrator and identity repository into a gin engine.
type Server struct {
	orch       *orchestrator.Orchestrator
	identities interfaces.IdentityRepository
}

func New(orch *orchestrator.Orchestrator, identities interfaces.IdentityRepository) *Server {
	return &Server{orch: orch, identities: identities}
}

// Engine builds the gin engine with CORS, recovery, identity resolution,
// and the three demonstration routes registered.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(cors.Default())
	r.Use(s.errorResponder())

	v1 := r.Group("/v1")
	v1.Use(s.identityMiddleware())
	v1.POST("/documents", s.createDocument)
	v1.POST("/retrieve", s.retrieve)
	v1.PATCH("/kbs/:id", s.updateKBConfig)

	return r
}

// errorResponder translates the last gin.Context error (set via c.Error)
// into the taxonomy-coded JSON body spec §7 defines.
func (s *Server) errorResponder() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		code := apierr.CodeOf(err)
		c.JSON(statusFor(err), gin.H{
			"success": false,
			"code":    code,
			"message": err.Error(),
		})
	}
}

func statusFor(err error) int {
	if e, ok := err.(*apierr.Error); ok {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// identityMiddleware resolves the Authorization: Bearer <key-id> header
// against IdentityRepository and stores the resolved identity in the gin
// context for handlers to read back.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if keyID == "" {
			c.Error(apierr.New(apierr.NoPermission, "missing bearer api key"))
			c.Abort()
			return
		}
		identity, err := s.identities.GetAPIKeyWithIdentity(c.Request.Context(), keyID)
		if err != nil {
			c.Error(apierr.Wrap(apierr.NoPermission, "resolving api key", err))
			c.Abort()
			return
		}
		c.Set(identityContextKey, identity)
		c.Next()
	}
}

const identityContextKey = "retrieval_core.identity"

func callerFrom(c *gin.Context) *types.APIKeyIdentity {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*types.APIKeyIdentity)
	return identity
}

type createDocumentRequest struct {
	KBID           string                 `json:"kb_id" binding:"required"`
	Title          string                 `json:"title"`
	Content        string                 `json:"content" binding:"required"`
	SourceMetadata map[string]any         `json:"source_metadata,omitempty"`
	ACL            types.ACL              `json:"acl,omitempty"`
	Sensitivity    types.SensitivityLevel `json:"sensitivity_level,omitempty"`
	Async          bool                   `json:"async,omitempty"`
}

func (s *Server) createDocument(c *gin.Context) {
	caller := callerFrom(c)

	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.Wrap(apierr.ValidationError, "decoding request body", err))
		return
	}
	if caller.Role == types.RoleRead {
		c.Error(apierr.New(apierr.NoPermission, "read-only api key cannot ingest documents"))
		return
	}
	if !caller.InScope(req.KBID) {
		c.Error(apierr.New(apierr.KBNotInScope, "api key is not scoped to this knowledge base"))
		return
	}

	sensitivity := req.Sensitivity
	if sensitivity == "" {
		sensitivity = types.SensitivityPublic
	}

	result, err := s.orch.Ingest(c.Request.Context(), orchestrator.IngestRequest{
		TenantID:       caller.TenantID,
		KBID:           req.KBID,
		Title:          req.Title,
		Content:        req.Content,
		SourceMetadata: req.SourceMetadata,
		ACL:            req.ACL,
		Sensitivity:    sensitivity,
		Async:          req.Async,
	})
	if err != nil {
		c.Error(err)
		return
	}

	logger.Infof(c.Request.Context(), "[httpapi] ingested document=%s kb=%s chunks=%d", result.DocumentID, req.KBID, result.ChunkCount)
	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"document_id": result.DocumentID,
		"chunk_count": result.ChunkCount,
	})
}

type retrieveRequest struct {
	KBID  string   `json:"kb_id" binding:"required"`
	KBIDs []string `json:"kb_ids,omitempty"`
	Query string   `json:"query" binding:"required"`
	TopK  int      `json:"top_k,omitempty"`
}

func (s *Server) retrieve(c *gin.Context) {
	caller := callerFrom(c)

	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.Wrap(apierr.ValidationError, "decoding request body", err))
		return
	}
	if !caller.InScope(req.KBID) {
		c.Error(apierr.New(apierr.KBNotInScope, "api key is not scoped to this knowledge base"))
		return
	}

	hits, err := s.orch.Retrieve(c.Request.Context(), orchestrator.RetrieveRequest{
		TenantID: caller.TenantID,
		KBID:     req.KBID,
		KBIDs:    req.KBIDs,
		Query:    req.Query,
		TopK:     req.TopK,
		Caller:   caller,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"hits":    hits,
	})
}

type updateKBConfigRequest struct {
	Chunker   *types.OperatorRef   `json:"chunker,omitempty"`
	Enrichers []types.OperatorRef  `json:"enrichers,omitempty"`
	Indexer   *types.OperatorRef   `json:"indexer,omitempty"`
	Retriever *types.OperatorRef   `json:"retriever,omitempty"`
	Embedding *types.ModelConfig   `json:"embedding,omitempty"`
	Query     *types.QueryConfig   `json:"query,omitempty"`
}

// updateKBConfig handles a KB pipeline-config PATCH (spec §3 invariant 5,
// §8 scenario S5). Only an admin or write-role key scoped to the KB may
// reconfigure it.
func (s *Server) updateKBConfig(c *gin.Context) {
	caller := callerFrom(c)
	kbID := c.Param("id")

	if caller.Role == types.RoleRead {
		c.Error(apierr.New(apierr.NoPermission, "read-only api key cannot modify knowledge base config"))
		return
	}
	if !caller.InScope(kbID) {
		c.Error(apierr.New(apierr.KBNotInScope, "api key is not scoped to this knowledge base"))
		return
	}

	var req updateKBConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.Wrap(apierr.ValidationError, "decoding request body", err))
		return
	}

	kb, err := s.orch.UpdateKBConfig(c.Request.Context(), orchestrator.UpdateKBConfigRequest{
		TenantID:  caller.TenantID,
		KBID:      kbID,
		Chunker:   req.Chunker,
		Enrichers: req.Enrichers,
		Indexer:   req.Indexer,
		Retriever: req.Retriever,
		Embedding: req.Embedding,
		Query:     req.Query,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"kb_id":   kb.ID,
		"config":  kb.Config,
	})
}
