package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
)

// SaveState writes snapshot to a new state file (and meta to .meta.json when
// non-nil), then records one commit on the current branch. The branch ref
// only moves after both files are fully on disk. On failure the working
// directory is put back as it was, so a plain load still sees the last
// committed snapshot and the save can be retried.
func (r *Repo) SaveState(ctx context.Context, message string, snapshot, meta []byte) (hash string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metaPath := filepath.Join(r.dir, MetaFile)
	var prevMeta []byte
	if meta != nil {
		prevMeta, err = os.ReadFile(metaPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", protocol.Persistence("read "+MetaFile, err)
		}
	}

	name := r.nextStateName(r.now())
	statePath := filepath.Join(r.dir, name)
	if err := writeFileAtomic(statePath, snapshot); err != nil {
		_ = os.Remove(statePath)
		return "", protocol.Persistence("write "+name, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rerr := os.Remove(statePath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			r.log.Error("vcs: remove uncommitted state file", zap.String("file", name), zap.Error(rerr))
		}
		if meta == nil {
			return
		}
		var merr error
		if prevMeta != nil {
			merr = writeFileAtomic(metaPath, prevMeta)
		} else if rerr := os.Remove(metaPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			merr = rerr
		}
		if merr != nil {
			r.log.Error("vcs: restore "+MetaFile, zap.Error(merr))
		}
	}()

	if meta != nil {
		if err := writeFileAtomic(metaPath, meta); err != nil {
			return "", protocol.Persistence("write "+MetaFile, err)
		}
	}
	c, err := r.commitWorkingTree(ctx, message)
	if err != nil {
		return "", err
	}
	return c.Hash, nil
}

func (r *Repo) commitWorkingTree(ctx context.Context, message string) (Commit, error) {
	branch, err := r.currentBranch(ctx)
	if err != nil {
		return Commit{}, err
	}
	names, err := r.trackedFiles()
	if err != nil {
		return Commit{}, protocol.Persistence("scan working dir", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Commit{}, protocol.Persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	t := tree{}
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(r.dir, n))
		if err != nil {
			return Commit{}, protocol.Persistence("read "+n, err)
		}
		h, err := r.insertBlob(ctx, tx, data)
		if err != nil {
			return Commit{}, protocol.Persistence("insert blob", err)
		}
		t[n] = h
	}

	parentHash, err := r.refHash(ctx, tx, branch)
	if err != nil {
		return Commit{}, err
	}
	parent, err := readCommit(ctx, tx, parentHash)
	if err != nil {
		return Commit{}, err
	}
	parentTree, err := readTree(ctx, tx, parent.Tree)
	if err != nil {
		return Commit{}, protocol.Persistence("read parent tree", err)
	}

	c := Commit{
		Tree:      t.hash(),
		Parent:    parentHash,
		Branch:    branch,
		Message:   message,
		Timestamp: r.now().UTC(),
		Changes:   diffTrees(parentTree, t).changes(),
	}
	c.Hash = commitHash(c.Tree, c.Parent, c.Branch, c.Message, c.Timestamp)

	if err := insertTree(ctx, tx, c.Tree, t); err != nil {
		return Commit{}, protocol.Persistence("insert tree", err)
	}
	if err := insertCommit(ctx, tx, c); err != nil {
		return Commit{}, protocol.Persistence("insert commit", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE refs SET hash = ? WHERE name = ?`, c.Hash, branch); err != nil {
		return Commit{}, protocol.Persistence("update ref", err)
	}
	if err := tx.Commit(); err != nil {
		return Commit{}, protocol.Persistence("commit", err)
	}
	r.log.Info("vcs: commit", zap.String("hash", c.Hash), zap.String("branch", branch), zap.Strings("changes", c.Changes))
	return c, nil
}

// LoadState with an empty ref returns the newest snapshot in the working
// directory, or ok=false when there is none. With a ref, the commit is
// checked out first; the branch pointer does not move.
func (r *Repo) LoadState(ctx context.Context, ref string) (data []byte, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ref == "" {
		names, err := r.trackedFiles()
		if err != nil {
			return nil, false, protocol.Persistence("scan working dir", err)
		}
		name, found := newestStateFile(names)
		if !found {
			return nil, false, nil
		}
		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return nil, false, protocol.Persistence("read "+name, err)
		}
		return data, true, nil
	}

	hash, err := r.resolve(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	c, err := readCommit(ctx, r.db, hash)
	if err != nil {
		return nil, false, err
	}
	t, err := r.checkout(ctx, c.Tree)
	if err != nil {
		return nil, false, err
	}
	name, found := newestStateFile(t.names())
	if !found {
		return nil, false, nil
	}
	data, err = r.readBlob(ctx, t[name])
	if err != nil {
		return nil, false, protocol.Persistence("read blob", err)
	}
	return data, true, nil
}

// checkout makes the tracked files of the working directory match the tree.
func (r *Repo) checkout(ctx context.Context, treeHash string) (tree, error) {
	t, err := readTree(ctx, r.db, treeHash)
	if err != nil {
		return nil, protocol.Persistence("read tree", err)
	}
	for _, n := range t.names() {
		data, err := r.readBlob(ctx, t[n])
		if err != nil {
			return nil, protocol.Persistence("read blob", err)
		}
		if err := writeFileAtomic(filepath.Join(r.dir, n), data); err != nil {
			return nil, protocol.Persistence("checkout "+n, err)
		}
	}
	names, err := r.trackedFiles()
	if err != nil {
		return nil, protocol.Persistence("scan working dir", err)
	}
	for _, n := range names {
		if _, keep := t[n]; keep {
			continue
		}
		if err := os.Remove(filepath.Join(r.dir, n)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, protocol.Persistence("remove "+n, err)
		}
	}
	return t, nil
}

// ReadMeta returns the working directory's .meta.json, ok=false if absent.
func (r *Repo) ReadMeta() ([]byte, bool, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, MetaFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, protocol.Persistence("read "+MetaFile, err)
	}
	return data, true, nil
}

func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	return r.currentBranch(ctx)
}

// CreateBranch points a new branch at from (current tip when empty). The
// current branch does not change.
func (r *Repo) CreateBranch(ctx context.Context, name, from string) (Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !branchNameRE.MatchString(name) || strings.Contains(name, "..") {
		return Branch{}, protocol.Validation("invalid branch name %q", name)
	}
	if _, err := r.refHash(ctx, r.db, name); err == nil {
		return Branch{}, fmt.Errorf("%w: %s", ErrBranchExists, name)
	} else if !errors.Is(err, ErrUnknownBranch) {
		return Branch{}, err
	}

	var target string
	if from == "" {
		cur, err := r.currentBranch(ctx)
		if err != nil {
			return Branch{}, err
		}
		if target, err = r.refHash(ctx, r.db, cur); err != nil {
			return Branch{}, err
		}
	} else {
		var err error
		if target, err = r.resolve(ctx, from); err != nil {
			return Branch{}, err
		}
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO refs(name, hash) VALUES(?, ?)`, name, target); err != nil {
		return Branch{}, protocol.Persistence("insert ref", err)
	}
	r.log.Info("vcs: branch created", zap.String("branch", name), zap.String("hash", target))
	return Branch{Name: name, Head: target}, nil
}

// SwitchBranch makes name current and checks out its tip.
func (r *Repo) SwitchBranch(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tip, err := r.refHash(ctx, r.db, name)
	if err != nil {
		return err
	}
	c, err := readCommit(ctx, r.db, tip)
	if err != nil {
		return err
	}
	if _, err := r.checkout(ctx, c.Tree); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE head SET branch = ? WHERE id = 1`, name); err != nil {
		return protocol.Persistence("update head", err)
	}
	r.log.Info("vcs: switched branch", zap.String("branch", name), zap.String("hash", tip))
	return nil
}

// ResetBranch rewinds the current branch to an ancestor of its tip and
// checks it out.
func (r *Repo) ResetBranch(ctx context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := r.resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	branch, err := r.currentBranch(ctx)
	if err != nil {
		return "", err
	}
	tip, err := r.refHash(ctx, r.db, branch)
	if err != nil {
		return "", err
	}
	chain, err := r.firstParentChain(ctx, tip, 0)
	if err != nil {
		return "", err
	}
	var c *Commit
	for i := range chain {
		if chain[i].Hash == target {
			c = &chain[i]
			break
		}
	}
	if c == nil {
		return "", protocol.Validation("commit %s is not on branch %s", target, branch)
	}
	if _, err := r.checkout(ctx, c.Tree); err != nil {
		return "", err
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE refs SET hash = ? WHERE name = ?`, target, branch); err != nil {
		return "", protocol.Persistence("update ref", err)
	}
	r.log.Info("vcs: branch reset", zap.String("branch", branch), zap.String("hash", target))
	return target, nil
}

func (r *Repo) Branches(ctx context.Context) ([]Branch, error) {
	cur, err := r.currentBranch(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `SELECT name, hash FROM refs ORDER BY name`)
	if err != nil {
		return nil, protocol.Persistence("list refs", err)
	}
	defer rows.Close()
	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.Name, &b.Head); err != nil {
			return nil, protocol.Persistence("list refs", err)
		}
		b.Current = b.Name == cur
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, protocol.Persistence("list refs", err)
	}
	return out, nil
}

// History follows the first-parent chain of branch (current when empty),
// newest first. limit<=0 returns everything.
func (r *Repo) History(ctx context.Context, branch string, limit int) ([]Commit, error) {
	if branch == "" {
		var err error
		if branch, err = r.currentBranch(ctx); err != nil {
			return nil, err
		}
	}
	tip, err := r.refHash(ctx, r.db, branch)
	if err != nil {
		return nil, err
	}
	return r.firstParentChain(ctx, tip, limit)
}

func (r *Repo) firstParentChain(ctx context.Context, tip string, limit int) ([]Commit, error) {
	var out []Commit
	for h := tip; h != ""; {
		if limit > 0 && len(out) >= limit {
			break
		}
		c, err := readCommit(ctx, r.db, h)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		h = c.Parent
	}
	return out, nil
}

// CherryPick replays the snapshot files each commit added or modified onto
// the current branch, one new commit per source commit. .meta.json stays
// branch-local. Commits without snapshot changes are skipped.
func (r *Repo) CherryPick(ctx context.Context, refs []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var created []string
	for _, ref := range refs {
		hash, err := r.resolve(ctx, ref)
		if err != nil {
			return created, err
		}
		src, err := readCommit(ctx, r.db, hash)
		if err != nil {
			return created, err
		}
		srcTree, err := readTree(ctx, r.db, src.Tree)
		if err != nil {
			return created, protocol.Persistence("read tree", err)
		}
		parentTree := tree{}
		if src.Parent != "" {
			p, err := readCommit(ctx, r.db, src.Parent)
			if err != nil {
				return created, err
			}
			if parentTree, err = readTree(ctx, r.db, p.Tree); err != nil {
				return created, protocol.Persistence("read tree", err)
			}
		}
		d := diffTrees(parentTree, srcTree)
		var files []string
		for _, n := range append(d.added, d.modified...) {
			if IsStateFile(n) {
				files = append(files, n)
			}
		}
		if len(files) == 0 {
			r.log.Debug("vcs: cherry-pick skipped, no snapshot changes", zap.String("hash", hash))
			continue
		}
		for _, n := range files {
			data, err := r.readBlob(ctx, srcTree[n])
			if err != nil {
				return created, protocol.Persistence("read blob", err)
			}
			if err := writeFileAtomic(filepath.Join(r.dir, n), data); err != nil {
				return created, protocol.Persistence("write "+n, err)
			}
		}
		c, err := r.commitWorkingTree(ctx, fmt.Sprintf("cherry-pick %s: %s", src.Short(), src.Message))
		if err != nil {
			return created, err
		}
		created = append(created, c.Hash)
	}
	return created, nil
}

func (r *Repo) Diff(ctx context.Context, from, to string) (Diff, error) {
	fromHash, err := r.resolve(ctx, from)
	if err != nil {
		return Diff{}, err
	}
	toHash, err := r.resolve(ctx, to)
	if err != nil {
		return Diff{}, err
	}
	a, err := readCommit(ctx, r.db, fromHash)
	if err != nil {
		return Diff{}, err
	}
	b, err := readCommit(ctx, r.db, toHash)
	if err != nil {
		return Diff{}, err
	}
	at, err := readTree(ctx, r.db, a.Tree)
	if err != nil {
		return Diff{}, protocol.Persistence("read tree", err)
	}
	bt, err := readTree(ctx, r.db, b.Tree)
	if err != nil {
		return Diff{}, protocol.Persistence("read tree", err)
	}
	d := diffTrees(at, bt)
	return Diff{
		FromMessage: a.Message,
		ToMessage:   b.Message,
		Added:       nonNil(d.added),
		Removed:     nonNil(d.removed),
		Modified:    nonNil(d.modified),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
