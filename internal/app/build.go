package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/httpapi"
	"github.com/ent0n29/voicerelay/internal/memory"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/pipeline"
	"github.com/ent0n29/voicerelay/internal/playback"
	"github.com/ent0n29/voicerelay/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Hub      *session.Hub
	Metrics  *observability.Metrics
	Backends httpapi.Backends

	// Cleanup should be called on shutdown, after the HTTP server has stopped.
	// It closes live websockets, aborts in-flight pipeline runs, waits for
	// them and closes the turn store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	turnStore, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("turn store init failed: %w", err)
	}
	storeMode := "in-memory"
	if _, ok := turnStore.(*memory.PostgresStore); ok {
		storeMode = "postgres"
	}

	gen, err := resolveGeneration(cfg)
	if err != nil {
		_ = turnStore.Close()
		return nil, err
	}

	proc := pipeline.New(gen.provider, gen.provider, gen.provider, gen.converter, pipeline.Config{
		SystemPrompt: cfg.SystemPrompt,
		Target:       audio.CanonicalFormat,
		OnStage: func(stage pipeline.Stage, elapsed time.Duration, err error) {
			metrics.ObserveStage(string(stage), elapsed, err)
		},
		Recorder: memory.NewRecorder(turnStore, cfg.RedactTurns),
	})

	sessions := session.NewManager(cfg.SessionRetention)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})

	hub := session.NewHub(session.Config{
		IdleTimeout:     cfg.IdleTimeout,
		RecordingsDir:   cfg.RecordingsDir,
		Format:          audio.CanonicalFormat,
		PipelineTimeout: cfg.PipelineTimeout,
	}, sessions, proc, playback.NewStreamer(cfg.FrameSize), metrics)

	backends := httpapi.Backends{
		Generation: gen.providerName,
		Normalizer: gen.normalizer,
		TurnStore:  storeMode,
	}
	api := httpapi.New(cfg, sessions, hub, turnStore, metrics)
	api.SetBackends(backends)

	cleanup := func() error {
		api.CloseConnections()
		hub.Close()
		hub.Wait()
		var errs []string
		if err := turnStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Hub:      hub,
		Metrics:  metrics,
		Backends: backends,
		Cleanup:  cleanup,
	}, nil
}
