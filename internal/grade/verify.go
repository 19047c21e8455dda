package grade

import (
	"strings"

	"github.com/henryperkins/agentic-rag/internal/config"
)

// technicalWhitelist holds short tokens that should never be dropped by the
// minimum-term-length filter, since they're meaningful at 2-3 characters.
var technicalWhitelist = map[string]struct{}{
	"ai": {}, "ml": {}, "api": {}, "cpu": {}, "gpu": {},
	"sql": {}, "aws": {}, "ui": {}, "io": {}, "db": {},
}

// VerifyResult is the outcome of checking an answer's grounding in evidence.
type VerifyResult struct {
	IsValid    bool
	Confidence float64
	Feedback   string
}

// Verifier checks whether a composed answer's tokens are supported by the
// union of its evidence chunks' tokens.
type Verifier struct {
	Cfg config.VerifierConfig
}

// Verify tokenizes answer and evidence, drops short non-whitelisted answer
// tokens, and scores confidence as the overlap ratio against answer size.
func (v *Verifier) Verify(answer string, evidence []string) VerifyResult {
	minLen := v.Cfg.MinTermLength
	if minLen <= 0 {
		minLen = 4
	}
	threshold := v.Cfg.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}

	answerTokens := filterTokens(tokenize(answer), minLen)
	evidenceTokens := map[string]struct{}{}
	for _, e := range evidence {
		for t := range tokenSet(e) {
			evidenceTokens[t] = struct{}{}
		}
	}

	if len(answerTokens) == 0 {
		return VerifyResult{IsValid: false, Confidence: 0, Feedback: feedbackFor(0, threshold)}
	}

	matches := 0
	for _, t := range answerTokens {
		if _, ok := evidenceTokens[t]; ok {
			matches++
		}
	}
	confidence := float64(matches) / float64(maxInt(1, len(answerTokens)))

	return VerifyResult{
		IsValid:    confidence >= threshold,
		Confidence: confidence,
		Feedback:   feedbackFor(confidence, threshold),
	}
}

func feedbackFor(confidence, threshold float64) string {
	switch {
	case confidence >= 0.8:
		return "strongly supported by the retrieved evidence"
	case confidence >= threshold:
		return "supported by the retrieved evidence"
	case confidence >= 0.7*threshold:
		return "moderately supported by the retrieved evidence"
	default:
		return "insufficiently supported by the retrieved evidence"
	}
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func filterTokens(tokens []string, minLen int) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.Trim(t, ".,;:!?\"'()[]{}")
		if t == "" {
			continue
		}
		if len(t) < minLen {
			if _, ok := technicalWhitelist[t]; !ok {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
