package ingest

import (
	"regexp"
	"sort"
	"strings"
)

// sentenceBoundary matches of `.!?`-terminated runs, per §4.9's
// "split on .!? (len>10)" clause.
var sentenceBoundary = regexp.MustCompile(`[^.!?]*[.!?]+`)

func splitSentences(text string) []string {
	var out []string
	matches := sentenceBoundary.FindAllString(text, -1)
	if len(matches) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			out = append(out, trimmed)
		}
		return out
	}
	consumed := 0
	for _, m := range matches {
		consumed += len(m)
		s := strings.TrimSpace(m)
		if len(s) > 10 {
			out = append(out, s)
		}
	}
	if consumed < len(text) {
		tail := strings.TrimSpace(text[consumed:])
		if len(tail) > 10 {
			out = append(out, tail)
		}
	}
	return out
}

var (
	dateCue        = regexp.MustCompile(`\b\d{4}\b|\b\d{1,2}/\d{1,2}(/\d{2,4})?\b`)
	amountCue      = regexp.MustCompile(`\$\d+(\.\d+)?|\b\d+(\.\d+)?%`)
	properNounCue  = regexp.MustCompile(`\b[A-Z][a-z]+ [A-Z][a-z]+\b`)
	actionVerbCue  = regexp.MustCompile(`(?i)\b(build|create|implement|deploy|install|configure|launch|fix|write|run|ship|migrate)\b`)
	interrogCue    = regexp.MustCompile(`(?i)^(who|what|when|where|why|how)\b|\?\s*$`)
	firstPersonCue = regexp.MustCompile(`(?i)\b(i|we|my|our)\b`)
)

// scoreSentence scores a sentence against the domain cues §4.9 names:
// dates, amounts, proper-noun bigrams, action verbs, interrogatives,
// short length, first-person pronouns.
func scoreSentence(s string) float64 {
	var score float64
	if dateCue.MatchString(s) {
		score += 2
	}
	if amountCue.MatchString(s) {
		score += 2
	}
	score += float64(len(properNounCue.FindAllString(s, -1))) * 1.5
	score += float64(len(actionVerbCue.FindAllString(s, -1))) * 1.0
	if interrogCue.MatchString(s) {
		score += 1.5
	}
	if firstPersonCue.MatchString(s) {
		score += 0.5
	}
	if n := len(s); n > 0 && n < 60 {
		score += 1.0
	}
	return score
}

type scoredSentence struct {
	text  string
	index int
	score float64
}

// ExtractEssence implements §4.9: split into scorable sentences, rank by
// domain-cue score, greedily pack the highest scorers into maxLen runes
// (restoring original order in the final text), and fall back to a hard
// character truncation when nothing fits at all.
//
// Grounded on engine.clusterSummary's sentence-scoring-and-packing idiom
// in the teacher's cluster-centroid summarizer, generalized from
// multi-document clustering to single-document extraction.
func ExtractEssence(content string, maxLen int) string {
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return truncateRunes(content, maxLen)
	}

	scored := make([]scoredSentence, len(sentences))
	for i, s := range sentences {
		scored[i] = scoredSentence{text: s, index: i, score: scoreSentence(s)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var picked []scoredSentence
	used := 0
	for _, s := range scored {
		extra := len(s.text) + 1 // +1 for the joining space
		if used+extra > maxLen {
			continue
		}
		picked = append(picked, s)
		used += extra
	}

	if len(picked) == 0 {
		return truncateRunes(content, maxLen)
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })
	parts := make([]string, len(picked))
	for i, s := range picked {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
