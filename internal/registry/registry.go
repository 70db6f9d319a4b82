// Package registry implements the Operator Registry (C1): a process-wide,
// name-based lookup of pluggable chunker/enricher/indexer/retriever/
// post-processor constructors (spec §4.1). Grounded on
// other_examples/804db6a0_yuewanzhe-WeKnora__internal-types-interfaces-retriever.go.go's
// RetrieveEngineRegistry shape (Register/GetXService/GetAllXServices),
// generalized to all five operator categories and given the sealed-variant
// treatment SPEC_FULL.md §4.1 / spec §9 call for: compatibility is data on
// each variant (a Requires struct), not a runtime string check.
package registry

import (
	"fmt"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/kbretrieval/core/internal/apierr"
)

// Category is one of the five pluggable operator kinds (spec §4.1).
type Category string

const (
	CategoryChunker       Category = "chunker"
	CategoryEnricher      Category = "enricher"
	CategoryIndexer       Category = "indexer"
	CategoryRetriever     Category = "retriever"
	CategoryPostprocessor Category = "postprocessor"
)

// Requires names the operator-compatibility constraints validate(kb_config)
// checks (spec §4.1: "parent_document retriever requires chunker=parent_child;
// hierarchical-tree retriever requires indexer=hierarchical").
type Requires struct {
	Chunker string // required chunker name, empty if none
	Indexer string // required indexer name, empty if none
}

// Constructor builds a stateless operator value from a decoded parameter
// struct. T is the operator's interface type (chunking.Chunker,
// retrieval.Retriever, ...); params is the already-decoded options struct
// for this operator.
type Constructor[T any] func(params any) (T, error)

// entry pairs one registered constructor with its compatibility data and a
// factory for decoding a raw parameter map into the operator's typed
// options struct, so Get can be generic over T while decode stays common.
type entry[T any] struct {
	ctor     Constructor[T]
	requires Requires
	newOpts  func() any
}

// Registry[T] holds all operators of one category. A single process runs
// one Registry[chunking.Chunker], one Registry[retrieval.Retriever], etc.
type Registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
}

// New creates an empty registry for one operator category.
func New[T any]() *Registry[T] {
	return &Registry[T]{entries: map[string]entry[T]{}}
}

// Register adds a named operator constructor. newOpts must return a fresh
// pointer to the operator's parameter struct each call (mapstructure
// decodes into it). Registration is not idempotent: Go funcs cannot be
// compared, so — mirroring the teacher's registry — any second Register
// for a name already present is rejected as a conflict, even from the
// same call site; callers guard their own init() against
// double-invocation. In practice this registry is populated once at
// container-build time.
func (r *Registry[T]) Register(name string, requires Requires, newOpts func() any, ctor Constructor[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return apierr.Newf(apierr.InternalError, "operator %q already registered (OPERATOR_CONFLICT)", name)
	}
	r.entries[name] = entry[T]{ctor: ctor, requires: requires, newOpts: newOpts}
	return nil
}

// MustRegister panics on conflict; used at package init() for built-ins,
// where a conflict is a programming error, not a runtime condition.
func (r *Registry[T]) MustRegister(name string, requires Requires, newOpts func() any, ctor Constructor[T]) {
	if err := r.Register(name, requires, newOpts, ctor); err != nil {
		panic(err)
	}
}

// Get resolves a named operator, decoding params (a map[string]any as
// produced by KBConfig.OperatorRef.Params, or nil) into the operator's
// typed options struct before invoking its constructor (spec §4.1).
func (r *Registry[T]) Get(name string, params map[string]any) (T, error) {
	var zero T
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return zero, apierr.Newf(apierr.OperatorNotFound, "no operator registered for %q", name)
	}
	opts := e.newOpts()
	if len(params) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           opts,
			WeaklyTypedInput: true,
			TagName:          "mapstructure",
		})
		if err != nil {
			return zero, apierr.Wrap(apierr.InternalError, "building param decoder", err)
		}
		if err := dec.Decode(params); err != nil {
			return zero, apierr.Wrap(apierr.KBConfigError, fmt.Sprintf("decoding params for operator %q", name), err)
		}
	}
	return e.ctor(opts)
}

// Requires returns the compatibility data for a named operator, used by
// Validate without instantiating the operator.
func (r *Registry[T]) Requires(name string) (Requires, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Requires{}, false
	}
	return e.requires, true
}

// Names lists every registered operator name in this category.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}
