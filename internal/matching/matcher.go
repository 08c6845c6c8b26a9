// Package matching decides whether an OCR-detected merchant name belongs to
// the business a receipt was scanned for. It is a cascade of cheap checks
// first, fuzzier ones later; the first stage that accepts wins.
package matching

import (
	"strings"
)

type Stage string

const (
	StageNone        Stage = "none"
	StageExact       Stage = "exact"
	StageCompact     Stage = "compact_containment"
	StageWordRatio   Stage = "word_ratio"
	StageBrand       Stage = "brand_token"
	StageLevenshtein Stage = "levenshtein"
)

// Config is the verification policy. The default values are long-standing
// production constants; changing them shifts the false-accept/false-reject
// balance of merchant verification.
type Config struct {
	// MinWordLength is the shortest token considered in word-level matching.
	MinWordLength int
	// MinCompactLength guards compact containment against trivial short
	// detected strings.
	MinCompactLength int
	// PartialWordWeight is the credit for a substring (non-exact) word hit.
	PartialWordWeight float64
	// WordRatioThreshold is the minimum credited-word ratio to accept.
	WordRatioThreshold float64
	// SimilarityThreshold is the minimum Levenshtein similarity to accept.
	SimilarityThreshold float64
	// BrandTokens are well-known short brand names that accept on their own
	// when present in both strings.
	BrandTokens []string
}

func DefaultConfig() Config {
	return Config{
		MinWordLength:       3,
		MinCompactLength:    4,
		PartialWordWeight:   0.7,
		WordRatioThreshold:  0.40,
		SimilarityThreshold: 0.50,
		BrandTokens: []string{
			"jollibee", "mcdo", "mcdonalds", "kfc", "chowking", "greenwich",
			"shell", "petron", "caltex", "711", "seveneleven", "ministop",
		},
	}
}

// Result tags which stage of the cascade decided, so stages are independently
// testable and callers can log the decision without the matcher logging.
type Result struct {
	Matched bool
	Stage   Stage
	Score   float64
}

type Matcher struct {
	cfg Config
}

func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

// Match reports whether detected plausibly names the same merchant as
// expected. Pure and deterministic: no I/O, no logging.
func (m *Matcher) Match(expected, detected string) Result {
	// An OCR result with no merchant name can never validate.
	if strings.TrimSpace(detected) == "" {
		return Result{Stage: StageNone}
	}

	normExpected := Normalize(expected)
	normDetected := Normalize(detected)
	// An expected name that normalizes away entirely would make the
	// containment stage accept anything.
	if normExpected == "" || normDetected == "" {
		return Result{Stage: StageNone}
	}

	if normExpected == normDetected {
		return Result{Matched: true, Stage: StageExact, Score: 1}
	}

	compactExpected := strings.ReplaceAll(normExpected, " ", "")
	compactDetected := strings.ReplaceAll(normDetected, " ", "")

	if strings.Contains(compactDetected, compactExpected) {
		return Result{Matched: true, Stage: StageCompact, Score: 1}
	}
	if strings.Contains(compactExpected, compactDetected) && len(compactDetected) >= m.cfg.MinCompactLength {
		return Result{Matched: true, Stage: StageCompact, Score: 1}
	}

	if ratio := m.wordRatio(normExpected, normDetected); ratio >= m.cfg.WordRatioThreshold {
		return Result{Matched: true, Stage: StageWordRatio, Score: ratio}
	}

	for _, token := range m.cfg.BrandTokens {
		if strings.Contains(compactExpected, token) && strings.Contains(compactDetected, token) {
			return Result{Matched: true, Stage: StageBrand, Score: 1}
		}
	}

	similarity := Similarity(compactExpected, compactDetected)
	if similarity >= m.cfg.SimilarityThreshold {
		return Result{Matched: true, Stage: StageLevenshtein, Score: similarity}
	}

	return Result{Stage: StageNone, Score: similarity}
}

// wordRatio credits each expected word at most once: 1.0 for an exact word
// hit, PartialWordWeight for containment in either direction. The first
// satisfying detected word ends the scan for that expected word.
func (m *Matcher) wordRatio(normExpected, normDetected string) float64 {
	expectedWords := m.tokenize(normExpected)
	detectedWords := m.tokenize(normDetected)

	var total float64
	for _, ew := range expectedWords {
		for _, dw := range detectedWords {
			if ew == dw {
				total += 1.0
				break
			}
			if strings.Contains(dw, ew) || strings.Contains(ew, dw) {
				total += m.cfg.PartialWordWeight
				break
			}
		}
	}

	denom := len(expectedWords)
	if denom < 1 {
		denom = 1
	}
	return total / float64(denom)
}

func (m *Matcher) tokenize(s string) []string {
	var words []string
	for _, w := range strings.Fields(s) {
		if len(w) >= m.cfg.MinWordLength {
			words = append(words, w)
		}
	}
	return words
}

// Normalize lowercases, strips everything outside [a-z0-9 ], collapses
// whitespace runs and trims.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		case r == '\t', r == '\n', r == '\r':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
