package compat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type fileStamp struct {
	exists  bool
	modTime time.Time
	size    int64
}

// CachingHasher recomputes the content hash only when a tracked file's
// modification time, size or the number of present files changed, or when
// the optional watcher reported an event.
type CachingHasher struct {
	root  string
	files []string
	log   *zap.Logger

	mu       sync.Mutex
	stamps   []fileStamp
	present  int
	hash     string
	valid    bool
	computed int

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewCachingHasher(root string, files []string, log *zap.Logger) *CachingHasher {
	if log == nil {
		log = zap.NewNop()
	}
	if files == nil {
		files = ContentFiles()
	}
	return &CachingHasher{root: root, files: files, log: log}
}

func (c *CachingHasher) Root() string { return c.root }

// Computations reports how many times the hash was actually recomputed.
func (c *CachingHasher) Computations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.computed
}

func (c *CachingHasher) Hash() (string, error) {
	stamps, present, err := c.stat()
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid && present == c.present && sameStamps(stamps, c.stamps) {
		return c.hash, nil
	}
	h, err := GenerateContentHash(c.root, c.files)
	if err != nil {
		return "", err
	}
	c.hash, c.stamps, c.present, c.valid = h, stamps, present, true
	c.computed++
	c.log.Debug("content hash recomputed", zap.String("hash", h), zap.Int("files", present))
	return h, nil
}

// Invalidate forces the next Hash call to recompute.
func (c *CachingHasher) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *CachingHasher) stat() ([]fileStamp, int, error) {
	out := make([]fileStamp, len(c.files))
	present := 0
	for i, rel := range c.files {
		fi, err := os.Stat(filepath.Join(c.root, rel))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		out[i] = fileStamp{exists: true, modTime: fi.ModTime(), size: fi.Size()}
		present++
	}
	return out, present, nil
}

func sameStamps(a, b []fileStamp) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].exists != b[i].exists || a[i].size != b[i].size || !a[i].modTime.Equal(b[i].modTime) {
			return false
		}
	}
	return true
}

// Watch starts an fsnotify watcher on the directories holding tracked files.
// Any event on a tracked path invalidates the cached hash. Stop ends it.
func (c *CachingHasher) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dirs := map[string]bool{}
	tracked := map[string]bool{}
	for _, rel := range c.files {
		p := filepath.Clean(filepath.Join(c.root, rel))
		tracked[p] = true
		dirs[filepath.Dir(p)] = true
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			c.log.Warn("content watch: cannot watch dir", zap.String("dir", d), zap.Error(err))
		}
	}

	c.mu.Lock()
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	go func() {
		defer close(doneCh)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !tracked[filepath.Clean(ev.Name)] {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					c.Invalidate()
					c.log.Info("content changed on disk", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.log.Warn("content watch error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (c *CachingHasher) Stop() {
	c.mu.Lock()
	stopCh, doneCh := c.stopCh, c.doneCh
	c.stopCh = nil
	c.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
