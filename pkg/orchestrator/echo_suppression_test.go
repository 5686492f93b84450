package orchestrator

import (
	"math"
	"testing"
	"time"
)

// sinePCM renders a 16-bit LE mono sine tone at the canonical 16kHz
// rate, the shared signal source for the echo tests.
func sinePCM(freq float64, durationMs int, amp float64) []byte {
	const rate = 16000
	n := rate * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
		s := int16(v * 32767)
		buf[2*i] = byte(s)
		buf[2*i+1] = byte(s >> 8)
	}
	return buf
}

func attenuatePCM(pcm []byte, factor float64) []byte {
	out := make([]byte, len(pcm))
	for i := 0; i < len(pcm)-1; i += 2 {
		s := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		s = int16(float64(s) * factor)
		out[i] = byte(s)
		out[i+1] = byte(s >> 8)
	}
	return out
}

func pcmEnergy(b []byte) float64 {
	sum := 0.0
	for i := 0; i < len(b)-1; i += 2 {
		s := int16(b[i]) | (int16(b[i+1]) << 8)
		f := float64(s) / 32768.0
		sum += f * f
	}
	return sum
}

func TestEchoSuppressor_IsEchoMatchesPlayedTail(t *testing.T) {
	es := NewEchoSuppressor()
	played := sinePCM(440, 200, 0.8)
	es.RecordPlayedAudio(played)
	es.lastPlayedAt = time.Now()

	// A mic chunk identical to the tail of what was just played is
	// echo; the same-length chunk at a different pitch is not.
	if !es.IsEcho(played[len(played)-echoFrameBytes:]) {
		t.Error("replayed tail should classify as echo")
	}
	if es.IsEcho(sinePCM(1100, 20, 0.8)) {
		t.Error("unrelated tone misclassified as echo")
	}
}

func TestEchoSuppressor_HoldoverExpires(t *testing.T) {
	es := NewEchoSuppressor()
	played := sinePCM(440, 100, 0.8)
	es.RecordPlayedAudio(played)

	// Pretend playback happened long ago: even a perfect match is no
	// longer treated as echo.
	es.lastPlayedAt = time.Now().Add(-2 * echoHoldover)
	if es.IsEcho(played[:echoFrameBytes]) {
		t.Error("echo classification must stop after the holdover window")
	}
}

func TestEchoSuppressor_PostProcessMutesEchoKeepsSpeech(t *testing.T) {
	es := NewEchoSuppressor()

	played := sinePCM(440, 500, 0.8)
	user := sinePCM(1200, 300, 0.8)
	echo := attenuatePCM(played, 0.25)
	silence := make([]byte, 16000*100/1000*2) // 100ms

	// Mic capture: room tone, echo of the agent, the user, echo again.
	mic := append([]byte{}, silence...)
	mic = append(mic, echo...)
	mic = append(mic, user...)
	mic = append(mic, echo...)

	es.RecordPlayedAudio(played)
	es.lastPlayedAt = time.Now()

	out := es.PostProcess(mic)

	offEcho1 := len(silence)
	offUser := offEcho1 + len(echo)
	offEcho2 := offUser + len(user)

	for _, span := range []struct {
		name     string
		off, n   int
		wantMute bool
	}{
		{"leading echo", offEcho1, len(echo), true},
		{"user speech", offUser, len(user), false},
		{"trailing echo", offEcho2, len(echo), true},
	} {
		before := pcmEnergy(mic[span.off : span.off+span.n])
		after := pcmEnergy(out[span.off : span.off+span.n])
		if span.wantMute && after > before*0.2 {
			t.Errorf("%s insufficiently muted: before=%v after=%v", span.name, before, after)
		}
		if !span.wantMute && math.Abs(after-before) > before*0.05 {
			t.Errorf("%s altered: before=%v after=%v", span.name, before, after)
		}
	}
}

func TestEchoSuppressor_DisabledPassesThrough(t *testing.T) {
	es := NewEchoSuppressor()
	played := sinePCM(440, 100, 0.8)
	es.RecordPlayedAudio(played)
	es.lastPlayedAt = time.Now()
	es.SetEnabled(false)

	if es.IsEcho(played[:echoFrameBytes]) {
		t.Error("disabled suppressor must never classify echo")
	}
	cleaned := es.RemoveEchoRealtime(played[:echoFrameBytes])
	if pcmEnergy(cleaned) == 0 {
		t.Error("disabled suppressor must not mute audio")
	}
}
