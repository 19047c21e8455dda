// Package ingest implements the Dual-Store Ingestion Pipeline (C10): a
// deterministic windowed chunker feeding an ordered two-phase write across
// the primary and secondary stores, with compensating rollback guaranteeing
// no orphan records on failure.
package ingest

// Chunker splits text into consecutive overlapping windows. The same input
// always produces the same chunks; the last chunk may be shorter than Size.
type Chunker struct {
	Size    int // window size in runes, default 1000
	Overlap int // overlap between consecutive windows in runes, default 100
}

// Split windows text. Windowing is rune-based so multi-byte characters are
// never cut mid-sequence.
func (c Chunker) Split(text string) []string {
	size := c.Size
	if size <= 0 {
		size = 1000
	}
	overlap := c.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end >= len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}
