// Package classify scores a memory's text against per-sector regex
// pattern tables, generalizing the keyword-weighted importanceScore idiom
// in engine/engine.go from a single scalar to a five-sector distribution.
package classify

import (
	"regexp"
	"sort"

	"github.com/Raezil/hsg-memory/model"
)

// Pattern pairs a compiled regex with the weight each match contributes.
type Pattern struct {
	Regex  *regexp.Regexp
	Weight float64
}

// Table is the full set of per-sector pattern lists used to score content.
type Table map[model.Sector][]Pattern

// must compiles a case-insensitive pattern, panicking on a malformed
// literal since the default table is a compile-time constant.
func must(expr string) *regexp.Regexp {
	return regexp.MustCompile("(?i)" + expr)
}

// DefaultTable is the reference sector pattern table. It is intentionally
// small and readable; callers needing a richer vocabulary can supply their
// own Table to Classifier.
func DefaultTable() Table {
	return Table{
		model.Episodic: {
			{must(`\byesterday\b`), 1},
			{must(`\btoday\b`), 1},
			{must(`\bi (met|saw|visited|went|attended)\b`), 1.5},
			{must(`\b\d{1,2}:\d{2}\b`), 1},
			{must(`\blast (week|night|month|year)\b`), 1},
			{must(`\bremember when\b`), 1.5},
		},
		model.Semantic: {
			{must(`\bis a\b`), 1},
			{must(`\bdefin(e|ition|ed)\b`), 1.5},
			{must(`\bmeans?\b`), 1},
			{must(`\bconsists? of\b`), 1},
			{must(`\bfact\b`), 1},
			{must(`\bcapital of\b`), 1.5},
		},
		model.Procedural: {
			{must(`\bstep \d+\b`), 2},
			{must(`\bfirst\b.*\bthen\b`), 1},
			{must(`\bhow to\b`), 1.5},
			{must(`\binstall\b`), 1},
			{must(`\bconfigure\b`), 1},
			{must(`\brun\b`), 0.5},
		},
		model.Emotional: {
			{must(`\bi feel\b`), 2},
			{must(`\bhappy|sad|angry|afraid|anxious|excited\b`), 1.5},
			{must(`\blove|hate\b`), 1},
			{must(`\bproud of\b`), 1.5},
			{must(`!{1,}`), 0.5},
		},
		model.Reflective: {
			{must(`\bi (realized|learned|think|wonder)\b`), 1.5},
			{must(`\bin retrospect\b`), 2},
			{must(`\bnext time\b`), 1},
			{must(`\bwhat if\b`), 1},
			{must(`\blooking back\b`), 1.5},
		},
	}
}

// Classification is the result of scoring one piece of text.
type Classification struct {
	Primary    model.Sector
	Additional []model.Sector
	Confidence float64
	Scores     map[model.Sector]float64
}

// Classifier scores content against a Table.
type Classifier struct {
	table Table
}

// New builds a Classifier over the given table, falling back to
// DefaultTable when table is nil.
func New(table Table) *Classifier {
	if table == nil {
		table = DefaultTable()
	}
	return &Classifier{table: table}
}

func (c *Classifier) score(text string) map[model.Sector]float64 {
	scores := make(map[model.Sector]float64, len(model.Sectors))
	for _, sector := range model.Sectors {
		var s float64
		for _, p := range c.table[sector] {
			matches := p.Regex.FindAllStringIndex(text, -1)
			s += float64(len(matches)) * p.Weight
		}
		scores[sector] = s
	}
	return scores
}

// Classify scores text against every sector and applies §4.2's selection
// rules. metaSector, if it is an allowed sector, overrides classification
// with confidence 1.0.
func (c *Classifier) Classify(text string, metaSector model.Sector) Classification {
	if model.ValidSector(metaSector) {
		scores := make(map[model.Sector]float64, len(model.Sectors))
		for _, s := range model.Sectors {
			scores[s] = 0
		}
		scores[metaSector] = 1
		return Classification{Primary: metaSector, Confidence: 1.0, Scores: scores}
	}

	scores := c.score(text)

	primary := model.Semantic
	primaryScore := -1.0
	for _, sector := range model.Sectors { // enumeration order breaks ties
		if scores[sector] > primaryScore {
			primaryScore = scores[sector]
			primary = sector
		}
	}

	if primaryScore == 0 {
		return Classification{Primary: model.Semantic, Confidence: 0.2, Scores: scores}
	}

	threshold := 0.3 * primaryScore
	if threshold < 1 {
		threshold = 1
	}
	var additional []model.Sector
	for _, sector := range model.Sectors {
		if sector == primary {
			continue
		}
		if scores[sector] > 0 && scores[sector] >= threshold {
			additional = append(additional, sector)
		}
	}

	second := 0.0
	for _, sector := range model.Sectors {
		if sector == primary {
			continue
		}
		if scores[sector] > second {
			second = scores[sector]
		}
	}
	confidence := primaryScore / (primaryScore + second + 1)
	confidence = model.Clamp01(confidence)

	sort.Slice(additional, func(i, j int) bool {
		return sectorRank(additional[i]) < sectorRank(additional[j])
	})

	return Classification{
		Primary:    primary,
		Additional: additional,
		Confidence: confidence,
		Scores:     scores,
	}
}

func sectorRank(s model.Sector) int {
	for i, v := range model.Sectors {
		if v == s {
			return i
		}
	}
	return len(model.Sectors)
}

// Sectors returns Primary first, followed by Additional in its stored
// (enumeration) order: the candidate-sector set used by both ingest and
// query.
func (cl Classification) Sectors() []model.Sector {
	out := []model.Sector{cl.Primary}
	out = append(out, cl.Additional...)
	return out
}
