// Package audio owns the canonical audio format and the conversions in
// and out of it. Everything between the transport and the providers is
// 16kHz mono signed 16-bit little-endian PCM, carried in 20ms frames;
// transports running at other rates go through an Ingestor on the way
// in and an Emitter on the way out.
package audio

import "time"

const (
	// CanonicalRate is the sample rate of all internal audio.
	CanonicalRate = 16000

	// BytesPerSample for signed 16-bit PCM.
	BytesPerSample = 2

	// FrameDuration is the length of one canonical frame.
	FrameDuration = 20 * time.Millisecond

	// FrameSamples is the number of samples in one canonical frame.
	FrameSamples = 320

	// FrameBytes is the byte size of one canonical frame.
	FrameBytes = FrameSamples * BytesPerSample
)

// Ingestor converts transport-rate PCM into canonical frames: it
// resamples to CanonicalRate when the source rate differs and rechunks
// to exact FrameBytes boundaries, buffering any partial frame until the
// next chunk completes it. One Ingestor per inbound stream; it is not
// safe for concurrent use.
type Ingestor struct {
	sourceRate int
	resampler  *Resampler
	pending    []byte
}

// NewIngestor returns an Ingestor reading sourceRate PCM.
func NewIngestor(sourceRate int) *Ingestor {
	return &Ingestor{
		sourceRate: sourceRate,
		resampler:  NewResampler(sourceRate, CanonicalRate),
	}
}

// Ingest converts chunk and returns zero or more complete canonical
// frames. Samples that don't fill a frame yet are held for the next
// call, so no input sample is ever dropped.
func (in *Ingestor) Ingest(chunk []byte) [][]byte {
	if in.sourceRate != CanonicalRate {
		chunk = in.resampler.Resample(chunk)
	}
	in.pending = append(in.pending, chunk...)

	var frames [][]byte
	for len(in.pending) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, in.pending[:FrameBytes])
		in.pending = in.pending[FrameBytes:]
		frames = append(frames, frame)
	}
	return frames
}

// Flush returns the buffered partial frame padded with silence to a
// full frame, or nil when nothing is pending. Call at end-of-stream.
func (in *Ingestor) Flush() []byte {
	if len(in.pending) == 0 {
		return nil
	}
	frame := make([]byte, FrameBytes)
	copy(frame, in.pending)
	in.pending = in.pending[:0]
	return frame
}

// Emitter converts canonical PCM to a transport's playback rate. The
// ratio is applied chunkwise with no state carried across chunks, so a
// cancelled stream never leaves stale samples behind.
type Emitter struct {
	targetRate int
	resampler  *Resampler
}

// NewEmitter returns an Emitter producing targetRate PCM.
func NewEmitter(targetRate int) *Emitter {
	return &Emitter{
		targetRate: targetRate,
		resampler:  NewResampler(CanonicalRate, targetRate),
	}
}

// Emit converts one canonical chunk to the target rate.
func (e *Emitter) Emit(chunk []byte) []byte {
	if e.targetRate == CanonicalRate {
		return chunk
	}
	return e.resampler.Resample(chunk)
}
