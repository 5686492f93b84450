package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/config"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/retrieval"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/server"
	"github.com/lokutor-ai/lokutor-orchestrator/pkg/session"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogrusLogger(cfg.LogLevel)

	stt, err := config.BuildSTT(cfg, audio.CanonicalRate)
	if err != nil {
		log.Fatalf("STT setup: %v", err)
	}
	llm, err := config.BuildLLM(cfg)
	if err != nil {
		log.Fatalf("LLM setup: %v", err)
	}
	tts, err := config.BuildTTS(cfg)
	if err != nil {
		log.Fatalf("TTS setup: %v", err)
	}

	vad := orchestrator.NewRMSVAD(0.02, 500*time.Millisecond)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.Language = cfg.Language

	orch := orchestrator.NewWithLogger(stt, llm, tts, vad, orchCfg, logger)
	orch.SetRetriever(retrieval.NoopRetriever{})

	manager := session.NewManager(orch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// g coordinates the idle-session reaper, the HTTP listener, and the
	// shutdown waiter as sibling goroutines: the first of the three to
	// return cancels gctx for the other two, so a crashed listener tears
	// down the idle sweep instead of leaking it.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		manager.RunIdleSweep(gctx, time.Minute)
		return nil
	})

	httpServer := server.New(manager, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpServer,
	}

	g.Go(func() error {
		logger.Info("http control surface listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}
