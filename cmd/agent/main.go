package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/transport"
)

// DeviceRate is the sound card's capture/playback rate. The duplex
// device runs at this rate while everything past the transport runs at
// the canonical 16kHz; pkg/audio converts at the boundary.
const DeviceRate = 44100

func main() {
	cfg := config.Load()
	logger := logging.NewLogrusLogger(cfg.LogLevel)

	stt, err := config.BuildSTT(cfg, audio.CanonicalRate)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	llm, err := config.BuildLLM(cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	tts, err := config.BuildTTS(cfg)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor\n", cfg.STTProvider, cfg.LLMProvider)
	fmt.Printf("VAD Threshold: %.3f | Device: %dHz -> %dHz | Language: %s\n", 0.02, DeviceRate, audio.CanonicalRate, cfg.Language)
	fmt.Println("Voice Agent Started! Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	vad := orchestrator.NewRMSVAD(0.02, 500*time.Millisecond)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Language = cfg.Language
	orch := orchestrator.NewWithLogger(stt, llm, tts, vad, orchCfg, logger)

	session := orch.NewSessionWithDefaults("user_123")
	orch.SetSystemPrompt(session, orchestrator.DefaultSystemPrompt(cfg.Language))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stream := orch.NewManagedStream(ctx, session)
	defer stream.Close()

	device, err := transport.NewLocalDeviceTransport(DeviceRate)
	if err != nil {
		log.Fatal(err)
	}
	defer device.Close()

	var botPlayingMu sync.Mutex
	var lastPlayedAt time.Time

	var rmsMu sync.Mutex
	lastRMS := 0.0

	// The capture callback runs at the device rate; ingest converts to
	// canonical 20ms frames before anything downstream sees the audio.
	ingest := audio.NewIngestor(DeviceRate)
	emit := audio.NewEmitter(DeviceRate)

	onCapture := func(pInput []byte) {
		var sum float64
		for i := 0; i < len(pInput)-1; i += 2 {
			sample := int16(pInput[i]) | (int16(pInput[i+1]) << 8)
			f := float64(sample) / 32768.0
			sum += f * f
		}
		rms := math.Sqrt(sum / float64(len(pInput)/2))
		rmsMu.Lock()
		lastRMS = rms
		rmsMu.Unlock()

		// Heuristic: if the bot played audio recently it's probably picking
		// up its own output, so raise the threshold temporarily.
		effectiveThreshold := 0.02
		botPlayingMu.Lock()
		isActuallyPlaying := time.Since(lastPlayedAt) < 200*time.Millisecond
		botPlayingMu.Unlock()
		if isActuallyPlaying {
			effectiveThreshold = 0.15
		}

		payload := pInput
		if rms <= effectiveThreshold {
			payload = make([]byte, len(pInput))
		}
		for _, frame := range ingest.Ingest(payload) {
			_ = stream.Write(frame)
		}
	}

	if err := device.Start(ctx, onCapture); err != nil {
		log.Fatal(err)
	}

	// Visual feedback for microphone levels
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			rmsMu.Lock()
			level := lastRMS
			rmsMu.Unlock()

			meter := ""
			dots := int(level * 500)
			if dots > 40 {
				dots = 40
			}
			for i := 0; i < dots; i++ {
				meter += "|"
			}
			fmt.Printf("\r[MIC ENERGY: %-40s] RMS: %.5f", meter, level)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	go func() {
		for event := range stream.Events() {
			switch event.Type {
			case orchestrator.UserSpeaking:
				fmt.Printf("\r\033[K[USER] Speaking...\n")
			case orchestrator.UserStopped:
				fmt.Printf("\r\033[K[STT] Processing...\n")
			case orchestrator.TranscriptFinal:
				fmt.Printf("\r\033[K[TRANSCRIPT] %s\n", event.Data.(string))
			case orchestrator.BotThinking:
				fmt.Printf("\r\033[K[LLM] Thinking...\n")
			case orchestrator.BotSpeaking:
				fmt.Printf("\r\033[K[TTS] Speaking...\n")
			case orchestrator.AudioChunk:
				chunk := event.Data.([]byte)
				botPlayingMu.Lock()
				lastPlayedAt = time.Now()
				botPlayingMu.Unlock()
				_ = device.Play(emit.Emit(chunk))
			case orchestrator.Interrupted:
				fmt.Printf("\r\033[K[INTERRUPTED] User started talking.\n")
				device.FlushPlayback()
			case orchestrator.ErrorEvent:
				fmt.Printf("\r\033[K[ERROR] %v\n", event.Data)
			}
		}
	}()

	<-ctx.Done()
	fmt.Printf("\nShutting down...\n")
}
