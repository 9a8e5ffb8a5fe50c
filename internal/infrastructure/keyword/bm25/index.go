package bm25

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

// Index is an in-memory inverted index scored with standard BM25. Term
// frequency saturation (k1) and document-length normalization (b) carry the
// precision on domain jargon that dense retrieval misses.
//
// The index is read-mostly: searches load an immutable snapshot through an
// atomic pointer, while rebuilds assemble a fresh snapshot off to the side
// and swap it in. Readers always see either the old or the new index as a
// whole, never a partially rebuilt one.
type Index struct {
	k1 float64
	b  float64

	snap atomic.Pointer[snapshot]

	// rebuildMu serializes writers only; readers never take it.
	rebuildMu sync.Mutex
}

type snapshot struct {
	chunks   []indexedChunk
	postings map[string][]posting
	avgLen   float64
}

type indexedChunk struct {
	record domain.ChunkRecord
	length int
}

type posting struct {
	chunk int // index into snapshot.chunks
	tf    int
}

func NewIndex(k1, b float64) *Index {
	if k1 <= 0 {
		k1 = 1.5
	}
	if b < 0 || b > 1 {
		b = 0.75
	}
	idx := &Index{k1: k1, b: b}
	idx.snap.Store(&snapshot{postings: map[string][]posting{}})
	return idx
}

// Rebuild replaces the whole index with the given chunk set.
func (idx *Index) Rebuild(chunks []domain.ChunkRecord) {
	idx.rebuildMu.Lock()
	defer idx.rebuildMu.Unlock()
	idx.snap.Store(buildSnapshot(chunks))
}

// ReindexDocument replaces every chunk of one document, keeping the rest of
// the corpus intact. Used when a document-updated event arrives.
func (idx *Index) ReindexDocument(documentID string, chunks []domain.ChunkRecord) {
	idx.rebuildMu.Lock()
	defer idx.rebuildMu.Unlock()

	current := idx.snap.Load()
	next := make([]domain.ChunkRecord, 0, len(current.chunks)+len(chunks))
	for _, c := range current.chunks {
		if c.record.DocumentID != documentID {
			next = append(next, c.record)
		}
	}
	next = append(next, chunks...)
	idx.snap.Store(buildSnapshot(next))
}

// Size reports the number of indexed chunks.
func (idx *Index) Size() int {
	return len(idx.snap.Load().chunks)
}

// Search ranks chunks by BM25 over the query terms. The context is accepted
// for interface symmetry with the remote backends; scoring itself is local
// and non-blocking.
func (idx *Index) Search(ctx context.Context, terms []string, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "bm25 search", err)
	}
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	snap := idx.snap.Load()
	n := len(snap.chunks)
	if n == 0 {
		return nil, nil
	}

	scores := make(map[int]float64)
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = normalizeTerm(term)
		if term == "" {
			continue
		}
		// Repeated query terms do not double-count: BM25 query-side
		// weighting is uniform here, matching rank_bm25 defaults.
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		plist := snap.postings[term]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (float64(n)-df+0.5)/(df+0.5))
		for _, p := range plist {
			tf := float64(p.tf)
			docLen := float64(snap.chunks[p.chunk].length)
			denom := tf + idx.k1*(1-idx.b+idx.b*docLen/snap.avgLen)
			scores[p.chunk] += idf * tf * (idx.k1 + 1) / denom
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	ranked := make([]int, 0, len(scores))
	for chunk := range scores {
		if !matchesFilter(snap.chunks[chunk].record, filter) {
			continue
		}
		ranked = append(ranked, chunk)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return snap.chunks[ranked[i]].record.ChunkID < snap.chunks[ranked[j]].record.ChunkID
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]domain.RetrievalCandidate, 0, len(ranked))
	for _, chunk := range ranked {
		record := snap.chunks[chunk].record
		out = append(out, domain.RetrievalCandidate{
			ChunkID:    record.ChunkID,
			DocumentID: record.DocumentID,
			Text:       record.Text,
			Score:      scores[chunk],
			Backend:    domain.BackendKeyword,
			Position:   record.Position,
		})
	}
	return out, nil
}

func buildSnapshot(chunks []domain.ChunkRecord) *snapshot {
	snap := &snapshot{
		chunks:   make([]indexedChunk, 0, len(chunks)),
		postings: make(map[string][]posting),
	}

	totalLen := 0
	for _, record := range chunks {
		tokens := tokenizeChunk(record.Text)
		chunkIdx := len(snap.chunks)
		snap.chunks = append(snap.chunks, indexedChunk{record: record, length: len(tokens)})
		totalLen += len(tokens)

		tf := make(map[string]int, len(tokens))
		for _, token := range tokens {
			tf[token]++
		}
		for term, count := range tf {
			snap.postings[term] = append(snap.postings[term], posting{chunk: chunkIdx, tf: count})
		}
	}
	if len(snap.chunks) > 0 {
		snap.avgLen = float64(totalLen) / float64(len(snap.chunks))
	} else {
		snap.avgLen = 1
	}
	return snap
}

func matchesFilter(record domain.ChunkRecord, filter domain.SearchFilter) bool {
	if filter.ProjectID != "" && record.ProjectID != filter.ProjectID {
		return false
	}
	if filter.DocumentID != "" && record.DocumentID != filter.DocumentID {
		return false
	}
	return true
}

func normalizeTerm(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}

func tokenizeChunk(s string) []string {
	if s == "" {
		return nil
	}
	tokens := make([]string, 0, 64)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// Stats summarizes the live snapshot, useful for health reporting.
func (idx *Index) Stats() string {
	snap := idx.snap.Load()
	return fmt.Sprintf("chunks=%d terms=%d avg_len=%.1f", len(snap.chunks), len(snap.postings), snap.avgLen)
}
