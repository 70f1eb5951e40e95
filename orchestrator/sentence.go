package orchestrator

import (
	"regexp"
	"strings"
)

var (
	// Sentence-ending punctuation followed by whitespace or end of input.
	sentenceEndPattern = regexp.MustCompile(`([.!?])(\s+|$)`)
	// JSON expression prefix emitted by the model in expressive mode.
	expressionPattern = regexp.MustCompile(`^\s*\{\s*"expression"\s*:\s*"(\w+)"\s*\}\s*\n?`)
)

// Thresholds bounding how long text is held back before being emitted.
const (
	maxPrefixLen   = 100
	maxSentenceLen = 400
)

// SentenceAccumulator turns an incremental token stream into complete
// sentences, optionally preceded by a single JSON expression prefix.
// Splitting is heuristic: abbreviations and decimals are not treated
// specially. One accumulator serves one generated response.
type SentenceAccumulator struct {
	buffer       string
	prefixBuffer string
	prefixDone   bool
}

// NewSentenceAccumulator creates an accumulator for one response stream.
func NewSentenceAccumulator() *SentenceAccumulator {
	return &SentenceAccumulator{}
}

// TryExtractExpression accumulates content while an expression prefix may
// still arrive. On a match it returns the expression and the text that
// followed it. Extraction is abandoned once the prefix buffer exceeds
// maxPrefixLen or contains a line break without matching; the whole buffer
// is then returned as remainder so no text is lost. After resolution,
// content passes through untouched.
func (a *SentenceAccumulator) TryExtractExpression(content string) (expression, remainder string) {
	if a.prefixDone {
		return "", content
	}

	a.prefixBuffer += content

	if m := expressionPattern.FindStringSubmatchIndex(a.prefixBuffer); m != nil {
		expression = a.prefixBuffer[m[2]:m[3]]
		remainder = a.prefixBuffer[m[1]:]
		a.prefixBuffer = ""
		a.prefixDone = true
		return expression, remainder
	}

	if len(a.prefixBuffer) > maxPrefixLen || strings.Contains(a.prefixBuffer, "\n") {
		remainder = a.prefixBuffer
		a.prefixBuffer = ""
		a.prefixDone = true
		return "", remainder
	}

	return "", ""
}

// HasPendingPrefix reports whether text is being withheld as a potential
// expression prefix.
func (a *SentenceAccumulator) HasPendingPrefix() bool {
	return a.prefixBuffer != "" && !a.prefixDone
}

// AddChunk appends content and returns any complete sentences. If the
// buffer grows past maxSentenceLen without a terminator, the whole buffer
// is emitted as one sentence to bound latency.
func (a *SentenceAccumulator) AddChunk(content string) []string {
	if content == "" {
		return nil
	}

	a.buffer += content
	var sentences []string

	for {
		m := sentenceEndPattern.FindStringIndex(a.buffer)
		if m == nil {
			if len(a.buffer) > maxSentenceLen {
				sentences = append(sentences, a.buffer)
				a.buffer = ""
			}
			break
		}

		sentence := strings.TrimSpace(a.buffer[:m[1]])
		a.buffer = a.buffer[m[1]:]
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
	}

	return sentences
}

// Flush returns and clears all remaining buffered text, called once the
// upstream stream ends so no trailing partial sentence is lost.
func (a *SentenceAccumulator) Flush() string {
	remaining := strings.TrimSpace(a.prefixBuffer) + strings.TrimSpace(a.buffer)
	a.prefixBuffer = ""
	a.buffer = ""
	return remaining
}
