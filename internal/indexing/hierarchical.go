package indexing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// defaultClusterTargetSize is the rough number of members a cluster
// summary node should cover; the branching factor for a level with n
// leaves is derived from it (spec §4.4 leaves the exact cluster count per
// level unspecified, only that it's "configurable... with a minimum
// cluster size guard" — this is the Open Question-style decision recorded
// in DESIGN.md).
const defaultClusterTargetSize = 5

const defaultClusterSummaryPrompt = "Summarize the following {{count}} related passages into one coherent " +
	"paragraph that captures their shared topic, in {{max_words}} words or fewer:\n\n{{passages}}"

// HierarchicalOptions configures the hierarchical indexer (spec §4.4).
type HierarchicalOptions struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxLevels        int           `mapstructure:"max_levels"`
	MinClusterSize   int           `mapstructure:"min_cluster_size"`
	Method           ClusterMethod `mapstructure:"method"`
	ClusterTargetSize int          `mapstructure:"cluster_target_size"`
	SummaryMaxWords  int           `mapstructure:"summary_max_words"`
	PromptTemplate   string        `mapstructure:"prompt_template"`
}

func (o *HierarchicalOptions) applyDefaults() {
	if o.MaxLevels <= 0 {
		o.MaxLevels = 3
	}
	if o.MinClusterSize <= 0 {
		o.MinClusterSize = 2
	}
	if o.Method == "" {
		o.Method = ClusterKMeans
	}
	if o.ClusterTargetSize <= 0 {
		o.ClusterTargetSize = defaultClusterTargetSize
	}
	if o.SummaryMaxWords <= 0 {
		o.SummaryMaxWords = 150
	}
	if o.PromptTemplate == "" {
		o.PromptTemplate = defaultClusterSummaryPrompt
	}
}

// HierarchicalIndexer builds a KB's optional summary tree on top of its
// current indexed chunks (spec §4.4 "Hierarchical indexer"). Grounded on
// spec.md §4.4 directly (no pack repo implements tree summarization) and
// on internal/enrichment's {{placeholder}} prompt-templating convention
// for the cluster-summary LLM call.
type HierarchicalIndexer struct {
	opts     HierarchicalOptions
	chunks   interfaces.ChunkRepository
	tree     interfaces.HierarchyRepository
	embedder interfaces.Embedder
	llm      interfaces.LLM
	epoch    func() int64
}

func NewHierarchicalIndexer(
	opts HierarchicalOptions,
	chunks interfaces.ChunkRepository,
	tree interfaces.HierarchyRepository,
	embedder interfaces.Embedder,
	llm interfaces.LLM,
	epoch func() int64,
) *HierarchicalIndexer {
	opts.applyDefaults()
	return &HierarchicalIndexer{opts: opts, chunks: chunks, tree: tree, embedder: embedder, llm: llm, epoch: epoch}
}

func (h *HierarchicalIndexer) Name() string { return "hierarchical" }

// leaf is one level-0 or summary-level node carried between iterations:
// enough to re-cluster and re-summarize without re-reading the store.
type leaf struct {
	node   *types.HierarchyNode
	vector []float32
}

// Rebuild re-embeds the KB's current indexed chunks as level-0 leaves and
// repeatedly clusters/summarizes upward until max_levels is reached or
// fewer than two clusters remain (spec §4.4), then atomically replaces
// the KB's tree via HierarchyRepository.ReplaceTree. Not part of the
// Indexer interface (IndexDocument operates per-document; a tree rebuild
// is always whole-KB) — the asynq handler in tasks.go calls this
// directly.
func (h *HierarchicalIndexer) Rebuild(ctx context.Context, tenantID uint64, kbID string) error {
	if !h.opts.Enabled {
		return nil
	}
	chunks, err := h.chunks.ListIndexedChunksByKBID(ctx, tenantID, kbID)
	if err != nil {
		return fmt.Errorf("hierarchical: listing indexed chunks for kb %s: %w", kbID, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	buildEpoch := h.epoch()
	leaves, err := h.embedLeafChunks(ctx, chunks, buildEpoch)
	if err != nil {
		return err
	}
	all := make([]*types.HierarchyNode, 0, len(leaves))
	for _, l := range leaves {
		all = append(all, l.node)
	}

	current := leaves
	for level := 1; level <= h.opts.MaxLevels; level++ {
		if len(current) < 2 {
			break
		}
		k := branchingFactor(len(current), h.opts.ClusterTargetSize)
		vectors := make([][]float32, len(current))
		for i, l := range current {
			vectors[i] = l.vector
		}
		groups := cluster(vectors, k, h.opts.Method, h.opts.MinClusterSize, level)
		if len(groups) < 2 {
			break
		}

		next := make([]leaf, 0, len(groups))
		for _, members := range groups {
			node, vec, err := h.summarizeCluster(ctx, current, members, level, buildEpoch)
			if err != nil {
				return err
			}
			all = append(all, node)
			next = append(next, leaf{node: node, vector: vec})
		}
		current = next
	}

	if err := h.tree.ReplaceTree(ctx, kbID, all); err != nil {
		return fmt.Errorf("hierarchical: replacing tree for kb %s: %w", kbID, err)
	}
	logger.Infof(ctx, "[Indexing] rebuilt hierarchy tree for kb=%s epoch=%d nodes=%d", kbID, buildEpoch, len(all))
	return nil
}

func (h *HierarchicalIndexer) embedLeafChunks(ctx context.Context, chunks []*types.Chunk, epoch int64) ([]leaf, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EmbeddingInput()
	}
	vectors, err := h.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("hierarchical: embedding leaf chunks: %w", err)
	}
	leaves := make([]leaf, len(chunks))
	for i, c := range chunks {
		leaves[i] = leaf{
			vector: vectors[i],
			node: &types.HierarchyNode{
				ID: uuid.NewString(), KBID: c.KBID, Level: 0,
				ChunkID: c.ID, Text: c.Text, Embedding: vectors[i], BuildEpoch: epoch,
			},
		}
	}
	return leaves, nil
}

func (h *HierarchicalIndexer) summarizeCluster(ctx context.Context, members []leaf, idxs []int, level int, epoch int64) (*types.HierarchyNode, []float32, error) {
	childIDs := make([]string, len(idxs))
	passages := make([]string, len(idxs))
	for i, idx := range idxs {
		childIDs[i] = members[idx].node.ID
		passages[i] = members[idx].node.Text
	}
	summary, err := h.summarize(ctx, passages)
	if err != nil {
		return nil, nil, fmt.Errorf("hierarchical: summarizing level %d cluster: %w", level, err)
	}
	vec, err := h.embedder.Embed(ctx, summary)
	if err != nil {
		return nil, nil, fmt.Errorf("hierarchical: embedding level %d summary: %w", level, err)
	}
	node := &types.HierarchyNode{
		ID: uuid.NewString(), KBID: members[idxs[0]].node.KBID, Level: level,
		ChildrenIDs: childIDs, Text: summary, Embedding: vec, BuildEpoch: epoch,
	}
	return node, vec, nil
}

// summarize calls the LLM for one cluster's summary, or falls back to a
// naive concatenation truncated to the word budget when no LLM is
// configured — tree-building must not hard-fail an entire KB's rebuild
// for lack of an LLM capability (mirrors internal/enrichment's
// disabled-enricher tolerance, spec §4.3).
func (h *HierarchicalIndexer) summarize(ctx context.Context, passages []string) (string, error) {
	if h.llm == nil {
		return truncateWords(strings.Join(passages, " "), h.opts.SummaryMaxWords), nil
	}
	prompt := h.buildPrompt(passages)
	return h.llm.Complete(ctx, prompt, h.opts.SummaryMaxWords*2)
}

func (h *HierarchicalIndexer) buildPrompt(passages []string) string {
	r := strings.NewReplacer(
		"{{count}}", strconv.Itoa(len(passages)),
		"{{max_words}}", strconv.Itoa(h.opts.SummaryMaxWords),
		"{{passages}}", strings.Join(passages, "\n---\n"),
	)
	return r.Replace(h.opts.PromptTemplate)
}

func truncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}

// branchingFactor picks a per-level cluster count that keeps clusters
// near targetSize members, bounded to [2, n].
func branchingFactor(n, targetSize int) int {
	k := n / targetSize
	if k < 2 {
		k = 2
	}
	if k > n {
		k = n
	}
	return k
}
