package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
	"github.com/kbretrieval/core/internal/utils"
)

// FilterConstraint is one metadata predicate an LLM decomposed out of the
// query (spec §4.5 self-query: "decompose the query into a semantic part
// and a metadata filter").
type FilterConstraint struct {
	Field string `json:"field"`
	Op    string `json:"op"` // eq, neq, gt, lt, gte, lte, contains
	Value any    `json:"value"`
}

var allowedFilterOps = map[string]bool{
	"eq": true, "neq": true, "gt": true, "lt": true, "gte": true, "lte": true, "contains": true,
}

// SelfQueryRetriever asks an LLM to split the query into a semantic part
// and a metadata filter, runs the base retriever on the semantic part,
// then trims hits to those passing the filter (spec §4.5). Before a
// filter is applied it is rendered as a SQL WHERE fragment and run
// through the relational store's SQL validator purely as an
// injection/shape sanitizer on LLM-derived field/value content — no SQL
// actually executes against the filter; it is evaluated in-process
// against each hit's metadata, since the abstract dense/sparse store
// contracts only expose id/kb/doc scoping, not arbitrary predicate
// push-down (spec §6). A filter that fails sanitization is dropped and
// the retriever degrades to the unfiltered semantic result instead of
// failing the request.
type SelfQueryRetriever struct {
	Base types.Retriever
	LLM  interfaces.LLM
}

func NewSelfQueryRetriever(base types.Retriever, llm interfaces.LLM) *SelfQueryRetriever {
	return &SelfQueryRetriever{Base: base, LLM: llm}
}

func (r *SelfQueryRetriever) Name() string { return string(types.SelfQueryRetriever) }

func (r *SelfQueryRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	if r.LLM == nil {
		return nil, fmt.Errorf("retrieval: self-query retriever requires LLM access")
	}
	semanticQuery, filters, err := r.decompose(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: self-query decomposition: %w", err)
	}

	sanitized := sanitizeFilters(ctx, params.TenantID, filters)

	legParams := params
	legParams.Query = semanticQuery
	hits, err := r.Base.Retrieve(ctx, legParams)
	if err != nil {
		return nil, fmt.Errorf("retrieval: self-query base retrieve: %w", err)
	}

	out := make([]*types.RetrieveResult, 0, len(hits))
	parsed := make(map[string]any, len(sanitized))
	for _, f := range sanitized {
		parsed[f.Field] = map[string]any{"op": f.Op, "value": f.Value}
	}
	for _, hit := range hits {
		if matchesFilters(hit.Metadata, sanitized) {
			hit.SemanticQuery = semanticQuery
			hit.ParsedFilters = parsed
			hit.SourceTag = r.Name()
			out = append(out, hit)
		}
	}
	return truncate(out, params.TopK), nil
}

func (r *SelfQueryRetriever) decompose(ctx context.Context, query string) (string, []FilterConstraint, error) {
	prompt := "Decompose this search query into a semantic search phrase and any metadata " +
		"filters it implies. Respond with JSON only: " +
		`{"semantic_query": "...", "filters": [{"field": "...", "op": "eq|neq|gt|lt|gte|lte|contains", "value": ...}]}` +
		"\n\nQuery: " + query

	completion, err := r.LLM.Complete(ctx, prompt, 512)
	if err != nil {
		return "", nil, err
	}

	var decoded struct {
		SemanticQuery string             `json:"semantic_query"`
		Filters       []FilterConstraint `json:"filters"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(completion)), &decoded); err != nil {
		// LLM didn't return parseable JSON: degrade to semantic-only (spec
		// §9's provider-failure philosophy extends to malformed LLM output).
		return query, nil, nil
	}
	if decoded.SemanticQuery == "" {
		decoded.SemanticQuery = query
	}
	return decoded.SemanticQuery, decoded.Filters, nil
}

// sanitizeFilters drops any constraint whose field/value, rendered as a
// SQL WHERE fragment, fails the relational store's injection/shape
// validator — field names must look like identifiers and string values
// must not carry a statement separator or comment marker (";", "--",
// "/*"), regardless of the declared op.
func sanitizeFilters(ctx context.Context, tenantID uint64, filters []FilterConstraint) []FilterConstraint {
	out := make([]FilterConstraint, 0, len(filters))
	for _, f := range filters {
		if !allowedFilterOps[f.Op] || !isSafeIdentifier(f.Field) {
			logger.Warnf(ctx, "[SelfQuery] dropping filter on field %q: invalid field or op", f.Field)
			continue
		}
		if s, ok := f.Value.(string); ok && (strings.Contains(s, ";") || strings.Contains(s, "--") || strings.Contains(s, "/*")) {
			logger.Warnf(ctx, "[SelfQuery] dropping filter on field %q: value carries SQL metacharacters", f.Field)
			continue
		}
		sql := fmt.Sprintf("SELECT id FROM chunks WHERE %s", renderPredicate(f))
		_, validation := utils.ValidateSQL(sql,
			utils.WithSelectOnly(),
			utils.WithSingleStatement(),
			utils.WithAllowedTables("chunks"),
			utils.WithInjectionRiskCheck(),
			utils.WithNoSubqueries(),
			utils.WithNoCTEs(),
			utils.WithTenantIsolation(tenantID, "chunks"),
		)
		if !validation.Valid {
			logger.Warnf(ctx, "[SelfQuery] dropping filter on field %q: failed SQL sanitization", f.Field)
			continue
		}
		out = append(out, f)
	}
	return out
}

func isSafeIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

func renderPredicate(f FilterConstraint) string {
	op := map[string]string{"eq": "=", "neq": "!=", "gt": ">", "lt": "<", "gte": ">=", "lte": "<=", "contains": "LIKE"}[f.Op]
	value := renderValue(f.Op, f.Value)
	return fmt.Sprintf("%s %s %s", f.Field, op, value)
}

func renderValue(op string, v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		s := fmt.Sprintf("%v", v)
		s = strings.ReplaceAll(s, "'", "''")
		if op == "contains" {
			return "'%" + s + "%'"
		}
		return "'" + s + "'"
	}
}

func matchesFilters(metadata map[string]any, filters []FilterConstraint) bool {
	for _, f := range filters {
		if metadata == nil {
			return false
		}
		actual, ok := metadata[f.Field]
		if !ok {
			return false
		}
		if !matchesOne(actual, f.Op, f.Value) {
			return false
		}
	}
	return true
}

func matchesOne(actual any, op string, expected any) bool {
	af, aok := toFloat(actual)
	ef, eok := toFloat(expected)
	switch op {
	case "eq":
		return fmt.Sprintf("%v", actual) == fmt.Sprintf("%v", expected)
	case "neq":
		return fmt.Sprintf("%v", actual) != fmt.Sprintf("%v", expected)
	case "gt":
		return aok && eok && af > ef
	case "lt":
		return aok && eok && af < ef
	case "gte":
		return aok && eok && af >= ef
	case "lte":
		return aok && eok && af <= ef
	case "contains":
		return strings.Contains(fmt.Sprintf("%v", actual), fmt.Sprintf("%v", expected))
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

// extractJSONObject pulls the first top-level {...} span out of text, in
// case the LLM wrapped its JSON in prose or a code fence.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
