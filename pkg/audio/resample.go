package audio

// Resampler converts 16-bit little-endian mono PCM between sample
// rates using linear interpolation, which is adequate for narrowband
// voice. Ingestor uses it to canonicalize transport audio (a 44.1kHz
// sound card, an 8kHz telephony leg) and Emitter uses it for the
// inverse conversion on playback.
type Resampler struct {
	fromRate int
	toRate   int
}

// NewResampler returns a Resampler converting fromRate to toRate.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{fromRate: fromRate, toRate: toRate}
}

// Resample converts pcm (16-bit LE mono samples) from fromRate to
// toRate. Returns pcm unchanged if the rates match.
func (r *Resampler) Resample(pcm []byte) []byte {
	return Resample(pcm, r.fromRate, r.toRate)
}

// Resample converts 16-bit LE mono PCM from fromRate to toRate using
// linear interpolation between adjacent samples.
func Resample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 || len(pcm) < 2 {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}

	samples := bytesToInt16(pcm)
	if len(samples) == 0 {
		return nil
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]int16, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}

		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}

	return int16ToBytes(out)
}

func bytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(b[2*i]) | (int16(b[2*i+1]) << 8)
	}
	return out
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
