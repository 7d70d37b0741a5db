package world

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"taleweave.ai/internal/compat"
	"taleweave.ai/internal/persistence/vcs"
	"taleweave.ai/internal/protocol"
)

func (s *Store) needRepo() error {
	if s.repo == nil {
		return protocol.Persistence("no commit store configured", nil)
	}
	return nil
}

// Metadata returns the in-memory save metadata.
func (s *Store) Metadata() compat.SaveMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// SaveState bumps the turn counter, refreshes the save metadata and commits a
// snapshot. On failure the counter is rolled back so the call can be retried.
func (s *Store) SaveState(ctx context.Context, message string) (string, error) {
	if err := s.needRepo(); err != nil {
		return "", err
	}
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	branch, err := s.repo.CurrentBranch(ctx)
	if err != nil {
		return "", err
	}
	var contentHash string
	if s.hasher != nil {
		if contentHash, err = s.hasher.Hash(); err != nil {
			return "", protocol.Persistence("content hash", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevTurn, prevMeta := s.turnCount, s.meta
	s.turnCount++
	s.meta.TurnCount = s.turnCount
	s.meta.LastPlayed = s.now().UTC()
	s.meta.CurrentBranch = branch
	if contentHash != "" {
		s.meta.ContentHash = contentHash
	}
	if message == "" {
		message = fmt.Sprintf("turn %d", s.turnCount)
	}

	snapBytes, err := EncodeSnapshot(s.snapshotLocked())
	if err != nil {
		s.turnCount, s.meta = prevTurn, prevMeta
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	metaBytes, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		s.turnCount, s.meta = prevTurn, prevMeta
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	hash, err := s.repo.SaveState(ctx, message, snapBytes, metaBytes)
	if err != nil {
		s.turnCount, s.meta = prevTurn, prevMeta
		return "", err
	}
	s.meta.LastCommit = hash
	return hash, nil
}

// LoadState restores from ref (or the newest snapshot when ref is empty).
// It reports false and leaves the state untouched when there is nothing to
// load.
func (s *Store) LoadState(ctx context.Context, ref string) (bool, error) {
	if err := s.needRepo(); err != nil {
		return false, err
	}
	data, ok, err := s.repo.LoadState(ctx, ref)
	if err != nil || !ok {
		return false, err
	}
	if err := s.restoreBytes(data); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) restoreBytes(data []byte) error {
	snap, err := DecodeSnapshot(data)
	if err != nil {
		return protocol.Persistence("decode snapshot", err)
	}
	if err := s.Restore(snap); err != nil {
		return err
	}
	meta, ok, err := s.readMeta()
	if err != nil {
		return err
	}
	if ok {
		s.mu.Lock()
		s.meta = meta
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) readMeta() (compat.SaveMetadata, bool, error) {
	var meta compat.SaveMetadata
	b, ok, err := s.repo.ReadMeta()
	if err != nil || !ok {
		return meta, false, err
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, false, protocol.Persistence("decode metadata", err)
	}
	return meta, true, nil
}

// Resume checks the save lineage against the current content and loads the
// newest snapshot when compatible. A lineage without metadata starts fresh.
func (s *Store) Resume(ctx context.Context) (compat.Result, error) {
	if err := s.needRepo(); err != nil {
		return compat.Result{}, err
	}
	current := ""
	if s.hasher != nil {
		h, err := s.hasher.Hash()
		if err != nil {
			return compat.Result{}, protocol.Persistence("content hash", err)
		}
		current = h
	}
	meta, ok, err := s.readMeta()
	if err != nil {
		return compat.Result{}, err
	}
	var saved *compat.SaveMetadata
	if ok {
		saved = &meta
	}
	res := compat.CheckCompatibility(current, saved)
	switch res.Reason {
	case compat.ReasonContentChanged:
		s.log.Warn("save is incompatible with current content",
			zap.String("saved_hash", res.SavedHash), zap.String("current_hash", current))
		return res, protocol.IncompatibleSave("cannot resume this save: content changed since it was made")
	case compat.ReasonNoSaveMetadata:
		s.log.Info("no save metadata, starting a fresh game")
		return res, nil
	}
	if _, err := s.LoadState(ctx, ""); err != nil {
		return res, err
	}
	s.log.Info("save resumed", zap.Int("turn", s.TurnCount()), zap.String("room", s.State().CurrentRoom))
	return res, nil
}

// CheckCompatibility compares the lineage metadata with the current content.
func (s *Store) CheckCompatibility() (compat.Result, error) {
	current := ""
	if s.hasher != nil {
		h, err := s.hasher.Hash()
		if err != nil {
			return compat.Result{}, protocol.Persistence("content hash", err)
		}
		current = h
	}
	var saved *compat.SaveMetadata
	if s.repo != nil {
		meta, ok, err := s.readMeta()
		if err != nil {
			return compat.Result{}, err
		}
		if ok {
			saved = &meta
		}
	}
	return compat.CheckCompatibility(current, saved), nil
}

// reload brings the in-memory state in line with the working tree after a
// branch operation; a tree without snapshots resets to the seed.
func (s *Store) reload(ctx context.Context) error {
	data, ok, err := s.repo.LoadState(ctx, "")
	if err != nil {
		return err
	}
	if !ok {
		s.mu.Lock()
		s.resetLocked()
		s.mu.Unlock()
		return nil
	}
	return s.restoreBytes(data)
}

func (s *Store) CreateBranch(ctx context.Context, name, from string) (vcs.Branch, error) {
	if err := s.needRepo(); err != nil {
		return vcs.Branch{}, err
	}
	return s.repo.CreateBranch(ctx, name, from)
}

func (s *Store) SwitchBranch(ctx context.Context, name string) error {
	if err := s.needRepo(); err != nil {
		return err
	}
	if err := s.repo.SwitchBranch(ctx, name); err != nil {
		return err
	}
	return s.reload(ctx)
}

// ResetBranch rolls the current branch back to ref and restores that state.
func (s *Store) ResetBranch(ctx context.Context, ref string) (string, error) {
	if err := s.needRepo(); err != nil {
		return "", err
	}
	hash, err := s.repo.ResetBranch(ctx, ref)
	if err != nil {
		return "", err
	}
	return hash, s.reload(ctx)
}

// CherryPick replays snapshots from other commits and adopts the newest one.
func (s *Store) CherryPick(ctx context.Context, refs []string) ([]string, error) {
	if err := s.needRepo(); err != nil {
		return nil, err
	}
	created, err := s.repo.CherryPick(ctx, refs)
	if err != nil {
		return created, err
	}
	if len(created) > 0 {
		if err := s.reload(ctx); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (s *Store) Branches(ctx context.Context) ([]vcs.Branch, error) {
	if err := s.needRepo(); err != nil {
		return nil, err
	}
	return s.repo.Branches(ctx)
}

func (s *Store) History(ctx context.Context, branch string, limit int) ([]vcs.Commit, error) {
	if err := s.needRepo(); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, branch, limit)
}

func (s *Store) Diff(ctx context.Context, from, to string) (vcs.Diff, error) {
	if err := s.needRepo(); err != nil {
		return vcs.Diff{}, err
	}
	return s.repo.Diff(ctx, from, to)
}
