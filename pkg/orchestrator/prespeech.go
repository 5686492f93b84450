package orchestrator

import "bytes"

// preSpeechWindowBytes is 500ms of canonical audio (16kHz, 16-bit
// mono): the rolling window replayed to STT at speech start so the
// leading phonemes that only triggered the VAD mid-utterance aren't
// lost.
const preSpeechWindowBytes = 16000

// RingBuffer accumulates audio ahead of a confirmed speech_start so
// the STT leg sees the full utterance, including the lead-in syllables
// VAD hysteresis would otherwise clip. Write and TrimToWindow keep it
// at most preSpeechWindowBytes; Append grows it without trimming.
type RingBuffer struct {
	buf *bytes.Buffer
}

// NewRingBuffer returns an empty pre-speech ring buffer.
func NewRingBuffer() *RingBuffer {
	return &RingBuffer{buf: new(bytes.Buffer)}
}

// Write appends chunk, trimming the buffer back to the 500ms window
// when it overflows. Use this while no utterance is in progress, so
// the buffer only ever holds a rolling pre-speech window.
func (r *RingBuffer) Write(chunk []byte) {
	r.Append(chunk)
	r.TrimToWindow()
}

// Append writes chunk without trimming, for the in-progress-utterance
// phase where the buffer is accumulating a full user turn rather than
// a rolling pre-speech window.
func (r *RingBuffer) Append(chunk []byte) {
	r.buf.Write(chunk)
}

// TrimToWindow drops everything but the most recent 500ms. Callers
// invoke this only while idle/listening-before-speech, never
// mid-utterance.
func (r *RingBuffer) TrimToWindow() {
	if r.buf.Len() > preSpeechWindowBytes {
		data := r.buf.Bytes()
		leadIn := data[len(data)-preSpeechWindowBytes:]
		r.buf.Reset()
		r.buf.Write(leadIn)
	}
}

// Len returns the number of buffered bytes.
func (r *RingBuffer) Len() int {
	return r.buf.Len()
}

// Bytes returns the buffer's contents without copying.
func (r *RingBuffer) Bytes() []byte {
	return r.buf.Bytes()
}

// Drain returns a copy of the buffered audio and resets the buffer.
func (r *RingBuffer) Drain() []byte {
	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()
	return data
}

// Reset discards any buffered audio.
func (r *RingBuffer) Reset() {
	r.buf.Reset()
}

// TailBytes returns at most n bytes from the end of the buffer,
// used to build a short lead-in window for echo correlation checks.
func (r *RingBuffer) TailBytes(n int) []byte {
	data := r.buf.Bytes()
	if len(data) > n {
		return data[len(data)-n:]
	}
	return data
}
