package orchestrator

import "strings"

// sentenceBoundary is the set of punctuation marks that close a
// sentence and should trigger a TTS hand-off.
const sentenceBoundary = ".!?\n"

// SentenceAccumulator collects streaming LLM token deltas and yields
// complete sentences for TTS as soon as a boundary is seen, so audio
// starts before the full response has finished generating. It also
// soft-flushes after flushTokens words without a boundary so a single
// long run-on clause doesn't stall playback indefinitely.
type SentenceAccumulator struct {
	buf         strings.Builder
	flushTokens int
}

// NewSentenceAccumulator returns an accumulator that soft-flushes
// after flushTokens words without a boundary. flushTokens <= 0 disables
// the soft-flush and only sentence punctuation triggers a flush.
func NewSentenceAccumulator(flushTokens int) *SentenceAccumulator {
	return &SentenceAccumulator{flushTokens: flushTokens}
}

// Push appends a token delta and returns zero or more complete
// sentences ready to be sent to TTS. Any remainder stays buffered.
func (a *SentenceAccumulator) Push(delta string) []string {
	a.buf.WriteString(delta)
	return a.drain(false)
}

// Finish forces out whatever remains buffered, e.g. on llm.end.
func (a *SentenceAccumulator) Finish() []string {
	return a.drain(true)
}

func (a *SentenceAccumulator) drain(force bool) []string {
	var out []string
	current := a.buf.String()

	for {
		idx := strings.IndexAny(current, sentenceBoundary)
		if idx < 0 {
			break
		}
		sentence := strings.TrimSpace(current[:idx+1])
		current = current[idx+1:]
		if sentence != "" {
			out = append(out, sentence)
		}
	}

	if a.flushTokens > 0 && countWords(current) >= a.flushTokens {
		trimmed := strings.TrimSpace(current)
		if trimmed != "" {
			out = append(out, trimmed)
		}
		current = ""
	}

	if force {
		trimmed := strings.TrimSpace(current)
		if trimmed != "" {
			out = append(out, trimmed)
		}
		current = ""
	}

	a.buf.Reset()
	a.buf.WriteString(current)
	return out
}

// Reset discards any buffered, unflushed text.
func (a *SentenceAccumulator) Reset() {
	a.buf.Reset()
}
