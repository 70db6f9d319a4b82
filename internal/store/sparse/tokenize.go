package sparse

import (
	"strings"
	"sync"
	"unicode"

	"github.com/yanyiwu/gojieba"
)

// Tokenizer splits document/query content into the term list a
// SparseStore indexes and searches over. jieba handles CJK text (word
// segmentation is required there, unlike whitespace-delimited scripts);
// ASCII/Latin text is lowercased and split on non-letter/digit runes.
type Tokenizer struct {
	mu    sync.Mutex
	jieba *gojieba.Jieba
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{jieba: gojieba.NewJieba()}
}

func (t *Tokenizer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jieba.Free()
}

// Tokenize returns the lowercased term list for content, filtering stop
// runes. Safe for concurrent use; gojieba's underlying CGO handle is
// shared under a mutex since it is not documented as goroutine-safe.
func (t *Tokenizer) Tokenize(content string) []string {
	t.mu.Lock()
	segments := t.jieba.CutForSearch(content, true)
	t.mu.Unlock()

	terms := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(strings.ToLower(seg))
		if seg == "" || isPunctuationOnly(seg) {
			continue
		}
		terms = append(terms, seg)
	}
	return terms
}

func isPunctuationOnly(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
