package ingest

// Chunker splits raw content into one or more passages to embed
// separately, per §1's "pluggable Chunker interface" — document-ingestion
// chunking strategy itself is out of scope; ingest only needs this seam.
type Chunker interface {
	Chunk(content string) ([]string, error)
}

// FixedChunker splits content into overlapping fixed-rune windows,
// grounded on pkg/upload/chunker.go's FixedChunker (MaxRunes/Overlap
// sliding window), reduced to the MaxRunes/Overlap pair ingest needs since
// the richer block-aware chunking pipeline in pkg/upload is out of scope
// here.
type FixedChunker struct {
	MaxRunes int
	Overlap  int
}

// NewFixedChunker constructs a FixedChunker with sane defaults when given
// non-positive bounds.
func NewFixedChunker(maxRunes, overlap int) FixedChunker {
	if maxRunes <= 0 {
		maxRunes = 1200
	}
	if overlap < 0 || overlap >= maxRunes {
		overlap = 0
	}
	return FixedChunker{MaxRunes: maxRunes, Overlap: overlap}
}

func (c FixedChunker) Chunk(content string) ([]string, error) {
	runes := []rune(content)
	if len(runes) == 0 {
		return []string{""}, nil
	}
	stride := c.MaxRunes - c.Overlap
	if stride <= 0 {
		stride = c.MaxRunes
	}
	var out []string
	for i := 0; i < len(runes); i += stride {
		end := i + c.MaxRunes
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return out, nil
}
