package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
)

// Flush rewrites the durable file with every retained turn if anything
// changed since the last write. Turns recorded while the file is being
// written stay dirty for the next flush.
func (t *Transcript) Flush(ctx context.Context) error {
	if t.opts.Path == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.RLock()
	if !t.dirty {
		t.mu.RUnlock()
		return nil
	}
	turns := append([]TurnRecord(nil), t.turns...)
	upTo := t.nextTurn
	hook := t.afterSnapshot
	t.mu.RUnlock()

	if hook != nil {
		hook()
	}
	if err := writeFile(t.opts.Path, turns); err != nil {
		return protocol.Persistence("write transcript", err)
	}

	t.mu.Lock()
	if t.nextTurn == upTo {
		t.dirty = false
		t.sinceFlush = 0
	} else {
		t.sinceFlush = t.nextTurn - upTo
	}
	t.mu.Unlock()
	t.log.Debug("transcript: persisted", zap.Int("turns", len(turns)), zap.String("path", t.opts.Path))
	return nil
}

func (t *Transcript) Close() error {
	return t.Flush(context.Background())
}

// writeFile streams turns as zstd-compressed JSONL into a temp file and
// renames it into place.
func writeFile(path string, turns []TurnRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = tmp.Close()
		return err
	}
	w := bufio.NewWriterSize(enc, 64*1024)
	for _, r := range turns {
		b, err := json.Marshal(r)
		if err != nil {
			_ = enc.Close()
			_ = tmp.Close()
			return err
		}
		if _, err := w.Write(b); err != nil {
			_ = enc.Close()
			_ = tmp.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			_ = enc.Close()
			_ = tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = enc.Close()
		_ = tmp.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func readFile(path string) ([]TurnRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []TurnRecord
	jd := json.NewDecoder(bufio.NewReader(dec))
	for {
		var r TurnRecord
		err := jd.Decode(&r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", filepath.Base(path), len(out)+1, err)
		}
		out = append(out, r)
	}
	return out, nil
}
