package orchestrator

import (
	"bytes"
	"math"
	"sync"
	"time"
)

const (
	// echoRefBytes bounds the reference buffer of recently played
	// audio to ~2 seconds at the canonical 16kHz, 16-bit mono rate.
	echoRefBytes = 64000

	// echoFrameBytes is the granularity of offline echo muting: one
	// 20ms canonical frame.
	echoFrameBytes = 640

	// echoHoldover is how long after the last played chunk mic input
	// can still plausibly contain loudspeaker echo, covering room and
	// device playback latency.
	echoHoldover = 1200 * time.Millisecond
)

// EchoSuppressor keeps a rolling reference of audio the session has
// played and classifies mic input that correlates with it as echo, so
// the agent's own voice can't trigger the VAD or leak into STT. It is
// a correlation detector with a crude time-domain mute, not a full
// acoustic echo canceller.
type EchoSuppressor struct {
	mu           sync.Mutex
	played       *bytes.Buffer
	lastPlayedAt time.Time
	threshold    float64
	enabled      bool
}

// NewEchoSuppressor returns a suppressor with the default sensitivity.
func NewEchoSuppressor() *EchoSuppressor {
	return &EchoSuppressor{
		played:    new(bytes.Buffer),
		threshold: 0.55,
		enabled:   true,
	}
}

// RecordPlayedAudio appends a chunk the session just sent to playback,
// trimming the reference to the most recent echoRefBytes.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []byte) {
	if !es.enabled || len(chunk) == 0 {
		return
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	es.played.Write(chunk)
	es.lastPlayedAt = time.Now()

	if es.played.Len() > echoRefBytes {
		data := es.played.Bytes()
		tail := data[len(data)-echoRefBytes:]
		es.played.Reset()
		es.played.Write(tail)
	}
}

// IsEcho reports whether a mic chunk is mostly replayed output. Input
// arriving after the holdover window is never echo; within it, the
// chunk is compared against the tail of the reference, with an
// envelope fallback that still catches phase-scrambled sibilants.
func (es *EchoSuppressor) IsEcho(input []byte) bool {
	if !es.enabled || len(input) == 0 {
		return false
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	if time.Since(es.lastPlayedAt) > echoHoldover || es.played.Len() == 0 {
		return false
	}

	inSamples := bytesToSamples(input)
	refSamples := bytesToSamples(es.played.Bytes())

	if tailCorrelation(inSamples, refSamples) > es.threshold {
		return true
	}
	return maxEnvelopeCorrelation(inSamples, refSamples, 8) > es.threshold+0.05
}

// RemoveEchoRealtime mutes the incoming chunk when it aligns with the
// recently played reference, returning a copy either way. The search
// uses a coarse stride so it stays cheap enough for the capture path.
func (es *EchoSuppressor) RemoveEchoRealtime(input []byte) []byte {
	out := copyPCM(input)
	if !es.enabled || len(input) == 0 {
		return out
	}

	es.mu.Lock()
	if time.Since(es.lastPlayedAt) > echoHoldover || es.played.Len() == 0 {
		es.mu.Unlock()
		return out
	}
	ref := copyPCM(es.played.Bytes())
	threshold := es.threshold
	es.mu.Unlock()

	inSamples := bytesToSamples(input)
	refSamples := bytesToSamples(ref)
	if len(inSamples) == 0 || len(refSamples) == 0 {
		return out
	}

	compareLen := len(inSamples)
	if compareLen > len(refSamples) {
		compareLen = len(refSamples)
	}
	inSeg := inSamples[:compareLen]

	if bestAlignedCorrelation(inSeg, refSamples) < threshold {
		// Envelope matching runs slightly hot, so it gets a stricter
		// threshold when used as the fallback.
		if maxEnvelopeCorrelation(inSeg, refSamples, 8) < threshold+0.05 {
			return out
		}
	}

	// Mute the matched span rather than subtracting: residue from an
	// imperfect subtraction still trips the VAD, silence does not.
	muted := make([]byte, len(input))
	if len(muted) > compareLen*2 {
		copy(muted[compareLen*2:], input[compareLen*2:])
	}
	return muted
}

// PostProcess mutes every 20ms frame of input that correlates with the
// played reference. Frame-granular and conservative; meant for
// offline inspection of captured turns, not the live path.
func (es *EchoSuppressor) PostProcess(input []byte) []byte {
	out := copyPCM(input)
	if !es.enabled || len(input) == 0 {
		return out
	}

	es.mu.Lock()
	ref := copyPCM(es.played.Bytes())
	threshold := es.threshold
	es.mu.Unlock()

	refSamples := bytesToSamples(ref)
	for off := 0; off < len(input); off += echoFrameBytes {
		end := off + echoFrameBytes
		if end > len(input) {
			end = len(input)
		}
		frame := bytesToSamples(input[off:end])
		if len(frame) == 0 || len(refSamples) == 0 {
			continue
		}
		if len(frame) > len(refSamples) {
			frame = frame[:len(refSamples)]
		}
		if bestAlignedCorrelation(frame, refSamples) > threshold {
			for i := off; i < end; i++ {
				out[i] = 0
			}
		}
	}
	return out
}

// ClearEchoBuffer drops the played-audio reference. Called on
// interruption, when stale reference audio would otherwise keep
// classifying genuine user speech as echo.
func (es *EchoSuppressor) ClearEchoBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.played.Reset()
}

// SetThreshold adjusts detection sensitivity in [0, 1]; higher values
// require a closer match before input counts as echo.
func (es *EchoSuppressor) SetThreshold(threshold float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		es.threshold = threshold
	}
}

// SetEnabled turns suppression on or off. Disabled, every method
// passes audio through untouched.
func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

func copyPCM(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// bytesToSamples converts 16-bit little-endian PCM to float64 samples
// in [-1, 1].
func bytesToSamples(data []byte) []float64 {
	samples := make([]float64, 0, len(data)/2)
	for i := 0; i < len(data)-1; i += 2 {
		s := int16(data[i]) | (int16(data[i+1]) << 8)
		samples = append(samples, float64(s)/32768.0)
	}
	return samples
}

// calculateEnergy is the sum of squared samples.
func calculateEnergy(samples []float64) float64 {
	energy := 0.0
	for _, s := range samples {
		energy += s * s
	}
	return energy
}

// tailCorrelation is the normalized cross-correlation of input against
// the most recent len(input) samples of ref — the alignment where echo
// of just-played audio lands.
func tailCorrelation(input, ref []float64) float64 {
	if len(input) == 0 || len(ref) == 0 {
		return 0
	}

	compareLen := len(input)
	if compareLen > len(ref) {
		compareLen = len(ref)
	}
	tail := ref[len(ref)-compareLen:]

	inEnergy := calculateEnergy(input)
	tailEnergy := calculateEnergy(tail)
	if inEnergy == 0 || tailEnergy == 0 {
		return 0
	}

	dot := 0.0
	for i := 0; i < compareLen && i < len(input); i++ {
		dot += input[i] * tail[i]
	}
	return clampUnit(dot / math.Sqrt(inEnergy*tailEnergy))
}

// bestAlignedCorrelation slides input across ref and returns the
// highest normalized correlation found. The stride grows with the
// input length to bound the cost on long reference buffers.
func bestAlignedCorrelation(input, ref []float64) float64 {
	if len(input) == 0 || len(ref) == 0 {
		return 0
	}

	compareLen := len(input)
	if compareLen > len(ref) {
		compareLen = len(ref)
		input = input[:compareLen]
	}

	inEnergy := calculateEnergy(input)
	if inEnergy == 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 8 {
		stride = 8
	}

	best := 0.0
	for pos := 0; pos+compareLen <= len(ref); pos += stride {
		seg := ref[pos : pos+compareLen]
		segEnergy := calculateEnergy(seg)
		if segEnergy == 0 {
			continue
		}
		dot := 0.0
		for i := 0; i < compareLen; i++ {
			dot += input[i] * seg[i]
		}
		if corr := dot / math.Sqrt(inEnergy*segEnergy); corr > best {
			best = corr
			if best >= 0.999 {
				break
			}
		}
	}
	return clampUnit(best)
}

// maxEnvelopeCorrelation compares decimated absolute-value envelopes
// instead of raw samples, which survives the room phase shifts that
// scramble high-frequency content like sibilants.
func maxEnvelopeCorrelation(input, ref []float64, decimation int) float64 {
	inEnv := envelope(input, decimation)
	refEnv := envelope(ref, decimation)

	compareLen := len(inEnv)
	if compareLen > len(refEnv) {
		compareLen = len(refEnv)
	}
	if compareLen == 0 {
		return 0
	}

	inMean := 0.0
	for i := 0; i < compareLen; i++ {
		inMean += inEnv[i]
	}
	inMean /= float64(compareLen)

	inVar := 0.0
	for i := 0; i < compareLen; i++ {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := compareLen / 4
	if stride < 2 {
		stride = 2
	}

	best := 0.0
	for pos := 0; pos+compareLen <= len(refEnv); pos += stride {
		refMean := 0.0
		for i := 0; i < compareLen; i++ {
			refMean += refEnv[pos+i]
		}
		refMean /= float64(compareLen)

		dot := 0.0
		refVar := 0.0
		for i := 0; i < compareLen; i++ {
			r := refEnv[pos+i] - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			if corr := dot / math.Sqrt(inVar*refVar); corr > best {
				best = corr
			}
		}
	}
	return best
}

func envelope(samples []float64, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		sum := 0.0
		for j := 0; j < decimation; j++ {
			sum += math.Abs(samples[i*decimation+j])
		}
		env[i] = sum
	}
	return env
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
