package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryVector is an in-process VectorStore used in tests and in
// deterministic-mock coordinator runs where no Postgres/Qdrant is available.
type MemoryVector struct {
	mu   sync.RWMutex
	vecs map[string][]float32
	meta map[string]map[string]string
}

func NewMemoryVector() *MemoryVector {
	return &MemoryVector{vecs: map[string][]float32{}, meta: map[string]map[string]string{}}
}

func (m *MemoryVector) Upsert(_ context.Context, id string, vector []float32, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]float32, len(vector))
	copy(v, vector)
	m.vecs[id] = v
	m.meta[id] = metadata
	return nil
}

func (m *MemoryVector) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vecs, id)
	delete(m.meta, id)
	return nil
}

func (m *MemoryVector) SimilaritySearch(_ context.Context, vector []float32, k int, filter map[string]string) ([]VectorResult, error) {
	if k <= 0 {
		k = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]VectorResult, 0, len(m.vecs))
	for id, v := range m.vecs {
		if !matchesFilter(m.meta[id], filter) {
			continue
		}
		out = append(out, VectorResult{ID: id, Score: cosine(vector, v), Metadata: m.meta[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *MemoryVector) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vecs)
}

// CountPoints satisfies the reconciler's secondary-store counting contract.
func (m *MemoryVector) CountPoints(_ context.Context) (int, error) {
	return m.Count(), nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryKeyword is an in-process KeywordStore scoring by token-overlap
// ratio, a stand-in for Postgres trigram similarity in tests.
type MemoryKeyword struct {
	mu   sync.RWMutex
	text map[string]string
	meta map[string]map[string]string
}

func NewMemoryKeyword() *MemoryKeyword {
	return &MemoryKeyword{text: map[string]string{}, meta: map[string]map[string]string{}}
}

func (k *MemoryKeyword) Index(_ context.Context, id, text string, metadata map[string]string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.text[id] = text
	k.meta[id] = metadata
	return nil
}

func (k *MemoryKeyword) Remove(_ context.Context, id string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.text, id)
	delete(k.meta, id)
	return nil
}

func (k *MemoryKeyword) Search(_ context.Context, query string, limit int) ([]KeywordResult, error) {
	if limit <= 0 {
		limit = 10
	}
	q := strings.Fields(strings.ToLower(strings.TrimSpace(query)))
	if len(q) == 0 {
		return nil, nil
	}
	qset := make(map[string]bool, len(q))
	for _, t := range q {
		qset[t] = true
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	perDoc := map[string]int{}
	out := make([]KeywordResult, 0, limit)
	type scored struct {
		KeywordResult
		score float64
	}
	all := make([]scored, 0, len(k.text))
	for id, text := range k.text {
		words := strings.Fields(strings.ToLower(text))
		if len(words) == 0 {
			continue
		}
		hits := 0
		for _, w := range words {
			if qset[w] {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		score := float64(hits) / float64(len(words))
		snippet := text
		if len(snippet) > 160 {
			snippet = snippet[:160]
		}
		all = append(all, scored{KeywordResult{ID: id, Score: score, Snippet: snippet, Metadata: k.meta[id]}, score})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	for _, s := range all {
		docID := s.Metadata["doc_id"]
		if perDoc[docID] >= 2 {
			continue
		}
		perDoc[docID]++
		out = append(out, s.KeywordResult)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MemoryDocStore is an in-process DocStore with cascading delete semantics
// matching the Postgres FK-cascade behavior.
type MemoryDocStore struct {
	mu     sync.RWMutex
	docs   map[string]Document
	chunks map[string]Chunk // chunk ID -> chunk
}

func NewMemoryDocStore() *MemoryDocStore {
	return &MemoryDocStore{docs: map[string]Document{}, chunks: map[string]Chunk{}}
}

func (s *MemoryDocStore) PutDocument(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *MemoryDocStore) GetDocument(_ context.Context, id string) (Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok, nil
}

func (s *MemoryDocStore) PutChunk(_ context.Context, chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[chunk.ID] = chunk
	return nil
}

func (s *MemoryDocStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
	for cid, c := range s.chunks {
		if c.DocID == id {
			delete(s.chunks, cid)
		}
	}
	return nil
}

func (s *MemoryDocStore) CountChunks(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}
