// Package vcs is the version-control layer for one save lineage: a working
// directory of snapshot files plus a content-addressed object database.
package vcs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"taleweave.ai/internal/protocol"
)

const DefaultBranch = "main"

// DBPath is the object database, relative to the repo dir.
var DBPath = filepath.Join(".vcs", "repo.sqlite")

var (
	ErrUnknownCommit = &protocol.Error{Code: protocol.ErrCodeNotFound, Kind: protocol.ErrNotFound, Msg: "unknown commit"}
	ErrUnknownBranch = &protocol.Error{Code: protocol.ErrCodeNotFound, Kind: protocol.ErrNotFound, Msg: "unknown branch"}
	ErrBranchExists  = &protocol.Error{Code: protocol.ErrCodeValidation, Kind: protocol.ErrValidation, Msg: "branch already exists"}
)

var (
	branchNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)
	hexRE        = regexp.MustCompile(`^[0-9a-f]{4,64}$`)
)

type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
}

type Repo struct {
	dir string
	db  *sql.DB
	log *zap.Logger
	now func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu sync.Mutex
}

// Open opens (or creates) the repository rooted at dir and makes sure it has
// a baseline commit.
func Open(ctx context.Context, dir string, opts Options) (*Repo, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty repo dir")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Join(dir, DBPath)), 0o755); err != nil {
		return nil, protocol.Persistence("create repo dir", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, DBPath))
	if err != nil {
		return nil, protocol.Persistence("open object db", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, protocol.Persistence("pragmas", err)
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, protocol.Persistence("schema", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		_ = db.Close()
		return nil, err
	}

	r := &Repo{dir: dir, db: db, log: opts.Logger, now: opts.Now, enc: enc, dec: dec}
	if _, err := r.Init(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func initPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blobs (
			hash TEXT PRIMARY KEY,
			size INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trees (
			hash TEXT PRIMARY KEY,
			body TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commits (
			hash TEXT PRIMARY KEY,
			tree TEXT NOT NULL REFERENCES trees(hash),
			parent TEXT NOT NULL,
			branch TEXT NOT NULL,
			message TEXT NOT NULL,
			ts_ms INTEGER NOT NULL,
			changes TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS refs (
			name TEXT PRIMARY KEY,
			hash TEXT NOT NULL REFERENCES commits(hash)
		);`,
		`CREATE TABLE IF NOT EXISTS head (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			branch TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) Close() error {
	r.enc.Close()
	r.dec.Close()
	return r.db.Close()
}

func (r *Repo) Dir() string { return r.dir }

// Init creates the baseline commit on the default branch if the repository
// has none. It reports whether anything was created.
func (r *Repo) Init(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM head`).Scan(&n); err != nil {
		return false, protocol.Persistence("read head", err)
	}
	if n > 0 {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, protocol.Persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	empty := tree{}
	c := Commit{
		Tree:      empty.hash(),
		Branch:    DefaultBranch,
		Message:   "init",
		Timestamp: r.now().UTC(),
		Changes:   []string{},
	}
	c.Hash = commitHash(c.Tree, "", c.Branch, c.Message, c.Timestamp)
	if err := insertTree(ctx, tx, c.Tree, empty); err != nil {
		return false, protocol.Persistence("insert tree", err)
	}
	if err := insertCommit(ctx, tx, c); err != nil {
		return false, protocol.Persistence("insert commit", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO refs(name, hash) VALUES(?, ?)`, DefaultBranch, c.Hash); err != nil {
		return false, protocol.Persistence("insert ref", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO head(id, branch) VALUES(1, ?)`, DefaultBranch); err != nil {
		return false, protocol.Persistence("insert head", err)
	}
	if err := tx.Commit(); err != nil {
		return false, protocol.Persistence("commit", err)
	}
	r.log.Info("vcs: repository initialized", zap.String("dir", r.dir), zap.String("hash", c.Hash))
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertTree(ctx context.Context, db execer, hash string, t tree) error {
	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO trees(hash, body) VALUES(?, ?)`, hash, t.encode())
	return err
}

func insertCommit(ctx context.Context, db execer, c Commit) error {
	changes, err := json.Marshal(c.Changes)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR IGNORE INTO commits(hash, tree, parent, branch, message, ts_ms, changes) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		c.Hash, c.Tree, c.Parent, c.Branch, c.Message, c.Timestamp.UnixMilli(), string(changes))
	return err
}

func (r *Repo) insertBlob(ctx context.Context, db execer, data []byte) (string, error) {
	h := sha256Hex(data)
	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO blobs(hash, size, data) VALUES(?, ?, ?)`,
		h, len(data), r.enc.EncodeAll(data, nil))
	return h, err
}

func (r *Repo) readBlob(ctx context.Context, hash string) ([]byte, error) {
	var z []byte
	if err := r.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE hash = ?`, hash).Scan(&z); err != nil {
		return nil, fmt.Errorf("blob %s: %w", hash, err)
	}
	return r.dec.DecodeAll(z, nil)
}

func readTree(ctx context.Context, db querier, hash string) (tree, error) {
	var body string
	if err := db.QueryRowContext(ctx, `SELECT body FROM trees WHERE hash = ?`, hash).Scan(&body); err != nil {
		return nil, fmt.Errorf("tree %s: %w", hash, err)
	}
	return decodeTree(body)
}

func readCommit(ctx context.Context, db querier, hash string) (Commit, error) {
	var (
		c       Commit
		ts      int64
		changes string
	)
	err := db.QueryRowContext(ctx,
		`SELECT hash, tree, parent, branch, message, ts_ms, changes FROM commits WHERE hash = ?`, hash).
		Scan(&c.Hash, &c.Tree, &c.Parent, &c.Branch, &c.Message, &ts, &changes)
	if errors.Is(err, sql.ErrNoRows) {
		return Commit{}, fmt.Errorf("%w: %s", ErrUnknownCommit, hash)
	}
	if err != nil {
		return Commit{}, protocol.Persistence("read commit", err)
	}
	c.Timestamp = time.UnixMilli(ts).UTC()
	if err := json.Unmarshal([]byte(changes), &c.Changes); err != nil {
		return Commit{}, protocol.Persistence("decode commit changes", err)
	}
	return c, nil
}

func (r *Repo) currentBranch(ctx context.Context) (string, error) {
	var b string
	if err := r.db.QueryRowContext(ctx, `SELECT branch FROM head WHERE id = 1`).Scan(&b); err != nil {
		return "", protocol.Persistence("read head", err)
	}
	return b, nil
}

func (r *Repo) refHash(ctx context.Context, db querier, branch string) (string, error) {
	var h string
	err := db.QueryRowContext(ctx, `SELECT hash FROM refs WHERE name = ?`, branch).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	if err != nil {
		return "", protocol.Persistence("read ref", err)
	}
	return h, nil
}

// resolve accepts a branch name, a full commit hash or a unique hash prefix.
func (r *Repo) resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", protocol.Validation("empty commit reference")
	}
	if h, err := r.refHash(ctx, r.db, ref); err == nil {
		return h, nil
	} else if !errors.Is(err, ErrUnknownBranch) {
		return "", err
	}
	if !hexRE.MatchString(ref) {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommit, ref)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT hash FROM commits WHERE hash LIKE ? || '%' LIMIT 2`, ref)
	if err != nil {
		return "", protocol.Persistence("resolve commit", err)
	}
	defer rows.Close()
	var found []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return "", protocol.Persistence("resolve commit", err)
		}
		found = append(found, h)
	}
	if err := rows.Err(); err != nil {
		return "", protocol.Persistence("resolve commit", err)
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrUnknownCommit, ref)
	case 1:
		return found[0], nil
	default:
		return "", protocol.Validation("ambiguous commit prefix %q", ref)
	}
}
