package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"taleweave.ai/internal/compat"
	"taleweave.ai/internal/config"
	"taleweave.ai/internal/content"
	"taleweave.ai/internal/curator"
	"taleweave.ai/internal/mechanics"
	"taleweave.ai/internal/orchestrator"
	"taleweave.ai/internal/persistence/vcs"
	"taleweave.ai/internal/runtime"
	"taleweave.ai/internal/tools"
	"taleweave.ai/internal/toolserver"
	"taleweave.ai/internal/transcript"
	"taleweave.ai/internal/transport/ws"
	"taleweave.ai/internal/world"
)

const transcriptFile = "transcript.jsonl.zst"

// gameRuntime is one play session: content, save lineage and the tool stack
// bound to them.
type gameRuntime struct {
	log *zap.Logger

	game       *content.Game
	repo       *vcs.Repo
	hasher     *compat.CachingHasher
	world      *world.Store
	transcript *transcript.Transcript
	curator    *curator.Curator
	registry   *tools.Registry
	queue      *runtime.Queue
	flusher    *runtime.Flusher
	hub        *ws.Hub
	orch       *orchestrator.Orchestrator
}

func openRuntime(ctx context.Context, cfg config.Config, log *zap.Logger) (rt *gameRuntime, err error) {
	rt = &gameRuntime{log: log}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if rt.game, err = content.Load(cfg.GameDir); err != nil {
		return rt, fmt.Errorf("load content: %w", err)
	}
	if rt.repo, err = vcs.Open(ctx, cfg.SaveDir, vcs.Options{Logger: log.Named("vcs")}); err != nil {
		return rt, fmt.Errorf("open save: %w", err)
	}
	if err = checkoutBranch(ctx, rt.repo, cfg.Branch, log); err != nil {
		return rt, err
	}

	rt.hasher = compat.NewCachingHasher(rt.game.Dir, compat.ContentFiles(), log.Named("compat"))
	if cfg.WatchContent {
		if werr := rt.hasher.Watch(ctx); werr != nil {
			log.Warn("content watch disabled", zap.Error(werr))
		}
	}

	rt.world, err = world.NewStore(rt.game.WorldSeed(), world.Options{
		Repo:        rt.repo,
		Hasher:      rt.hasher,
		Logger:      log.Named("world"),
		GameID:      rt.game.Manifest.ID,
		GameVersion: rt.game.Manifest.Version,
	})
	if err != nil {
		return rt, err
	}
	res, err := rt.world.Resume(ctx)
	if err != nil {
		return rt, fmt.Errorf("resume: %w", err)
	}
	log.Info("save checked", zap.String("reason", res.Reason), zap.Int("turn", rt.world.TurnCount()))

	player := cfg.PlayerName
	if player == "" {
		player = rt.game.Manifest.Player.Name
	}
	rt.transcript, err = transcript.Open(transcript.Options{
		MaxTurns:     cfg.Transcript.MaxTurns,
		PersistEvery: cfg.Transcript.PersistEvery,
		Path:         filepath.Join(cfg.SaveDir, transcriptFile),
		PlayerName:   player,
		Logger:       log.Named("transcript"),
	})
	if err != nil {
		return rt, err
	}
	rt.curator = curator.New(rt.transcript, curator.Options{
		CacheCeiling:     cfg.Curator.CacheCeiling,
		DefaultMaxTokens: cfg.Curator.DefaultMaxTokens,
		Logger:           log.Named("curator"),
	})

	rt.registry = tools.NewRegistry(tools.Config{HistorySize: cfg.Registry.HistorySize, Logger: log.Named("tools")})
	if err = toolserver.RegisterAll(rt.registry, toolserver.Deps{
		Game:       rt.game,
		World:      rt.world,
		Roller:     mechanics.NewRoller(time.Now().UnixNano()),
		Transcript: rt.transcript,
		Curator:    rt.curator,
	}); err != nil {
		return rt, err
	}

	rt.queue = runtime.NewQueue(log.Named("queue"))
	if cfg.Transcript.FlushInterval > 0 {
		rt.flusher = runtime.NewFlusher(rt.queue, cfg.Transcript.FlushInterval, rt.transcript.Flush, log.Named("flusher"))
		rt.flusher.Start()
	}
	rt.hub = ws.NewHub(log.Named("ws"))
	rt.orch = orchestrator.New(rt.registry, orchestrator.Options{
		Queue:      rt.queue,
		Observer:   rt.hub.Publish,
		PlayerName: player,
		Logger:     log.Named("orchestrator"),
	})
	return rt, nil
}

// checkoutBranch switches the lineage to name, creating it from the current
// tip when missing. An empty name keeps whatever is checked out.
func checkoutBranch(ctx context.Context, repo *vcs.Repo, name string, log *zap.Logger) error {
	if name == "" {
		return nil
	}
	current, err := repo.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current == name {
		return nil
	}
	if _, err := repo.CreateBranch(ctx, name, ""); err != nil && !errors.Is(err, vcs.ErrBranchExists) {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	if err := repo.SwitchBranch(ctx, name); err != nil {
		return fmt.Errorf("switch branch %s: %w", name, err)
	}
	log.Info("branch checked out", zap.String("branch", name), zap.String("previous", current))
	return nil
}

// Close stops background work, then flushes the transcript and closes the
// save. Safe on a partially opened runtime.
func (rt *gameRuntime) Close() {
	if rt == nil {
		return
	}
	if rt.flusher != nil {
		rt.flusher.Stop()
	}
	if rt.queue != nil {
		rt.queue.Close()
	}
	if rt.transcript != nil {
		if err := rt.transcript.Close(); err != nil {
			rt.log.Error("transcript close", zap.Error(err))
		}
	}
	if rt.hasher != nil {
		rt.hasher.Stop()
	}
	if rt.repo != nil {
		if err := rt.repo.Close(); err != nil {
			rt.log.Error("save close", zap.Error(err))
		}
	}
}
