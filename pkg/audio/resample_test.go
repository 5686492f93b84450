package audio

import "testing"

func TestResampleSameRateNoOp(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	out := Resample(pcm, 44100, 44100)
	if len(out) != len(pcm) {
		t.Fatalf("expected unchanged length %d, got %d", len(pcm), len(out))
	}
}

func TestResampleDownsampleHalvesLength(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i)
	}
	pcm := int16ToBytes(samples)

	out := Resample(pcm, 44100, 22050)
	outSamples := bytesToInt16(out)

	if len(outSamples) < 45 || len(outSamples) > 55 {
		t.Fatalf("expected roughly half the samples, got %d from %d", len(outSamples), len(samples))
	}
}

func TestResampleUpsampleGrowsLength(t *testing.T) {
	pcm := int16ToBytes([]int16{0, 1000, 2000, 3000})
	out := Resample(pcm, 8000, 16000)
	outSamples := bytesToInt16(out)
	if len(outSamples) < 7 {
		t.Fatalf("expected roughly double the samples, got %d", len(outSamples))
	}
}
