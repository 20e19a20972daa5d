// Package keyword maintains an in-process full-text index over memory
// essences, feeding the keyword-boost term of the hybrid score for the
// hybrid and deep tiers. The fast and smart tiers skip it entirely and
// score token overlap by plain set intersection in the tokenizer
// package.
package keyword

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"
)

type document struct {
	Content string `json:"content"`
}

// Index wraps a memory-only bleve index keyed by memory id. bleve
// indexes are safe for concurrent Index/Search calls, so Index carries
// no lock of its own.
type Index struct {
	idx bleve.Index
}

// NewIndex constructs an empty in-memory index.
func NewIndex() (*Index, error) {
	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx}, nil
}

// Add indexes (or reindexes) the stored essence of one memory.
func (i *Index) Add(id uuid.UUID, content string) error {
	return i.idx.Index(id.String(), document{Content: content})
}

// Remove drops a memory from the index. Removing an id that was never
// indexed is a no-op.
func (i *Index) Remove(id uuid.UUID) error {
	return i.idx.Delete(id.String())
}

// Boosts runs query against the index and returns each hit's score
// normalized by the best hit, so values land in (0, 1] and the top
// match always contributes the full configured keyword_boost.
func (i *Index) Boosts(query string, limit int) (map[uuid.UUID]float64, error) {
	if limit <= 0 {
		limit = 100
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]float64, len(res.Hits))
	var best float64
	for _, hit := range res.Hits {
		if hit.Score > best {
			best = hit.Score
		}
	}
	if best == 0 {
		return out, nil
	}
	for _, hit := range res.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		out[id] = hit.Score / best
	}
	return out, nil
}

// DocCount reports how many memories are indexed.
func (i *Index) DocCount() (uint64, error) {
	return i.idx.DocCount()
}

// Close releases the index.
func (i *Index) Close() error {
	return i.idx.Close()
}
