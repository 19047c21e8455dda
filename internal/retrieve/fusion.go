package retrieve

import (
	"sort"

	"github.com/henryperkins/agentic-rag/internal/store"
)

// Fuse combines deduped vector and keyword candidates into a single ranked
// list: prior score = vectorWeight*vectorSim + keywordWeight*keywordSim,
// with missing components treated as zero. Items present in both the
// primary and secondary vector stores are collapsed to their max score
// before fusion; dedup is by chunk ID throughout.
func Fuse(src candidateSources, vectorWeight, keywordWeight float64) []RetrievedItem {
	vecByID := make(map[string]store.VectorResult, len(src.primary)+len(src.secondary))
	mergeMax := func(hits []store.VectorResult) {
		for _, h := range hits {
			if cur, ok := vecByID[h.ID]; !ok || h.Score > cur.Score {
				vecByID[h.ID] = h
			}
		}
	}
	mergeMax(src.primary)
	mergeMax(src.secondary)

	keyByID := make(map[string]store.KeywordResult, len(src.keyword))
	for _, h := range src.keyword {
		if cur, ok := keyByID[h.ID]; !ok || h.Score > cur.Score {
			keyByID[h.ID] = h
		}
	}

	seen := make(map[string]struct{}, len(vecByID)+len(keyByID))
	ids := make([]string, 0, len(vecByID)+len(keyByID))
	addID := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for id := range vecByID {
		addID(id)
	}
	for id := range keyByID {
		addID(id)
	}

	out := make([]RetrievedItem, 0, len(ids))
	for _, id := range ids {
		var vecSim, keySim float64
		metadata := map[string]string{}
		var text, snippet string
		if v, ok := vecByID[id]; ok {
			vecSim = v.Score
			for k, val := range v.Metadata {
				metadata[k] = val
			}
		}
		if k, ok := keyByID[id]; ok {
			keySim = k.Score
			snippet = k.Snippet
			for key, val := range k.Metadata {
				if _, exists := metadata[key]; !exists {
					metadata[key] = val
				}
			}
		}
		text = metadata["text"]
		if snippet == "" {
			snippet = text
		}
		prior := vectorWeight*vecSim + keywordWeight*keySim
		out = append(out, RetrievedItem{
			ID:       id,
			DocID:    metadata["doc_id"],
			Score:    prior,
			Prior:    prior,
			Text:     text,
			Snippet:  snippet,
			Metadata: metadata,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Prior != out[j].Prior {
			return out[i].Prior > out[j].Prior
		}
		return out[i].ID < out[j].ID
	})
	return out
}
