package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	StatePrefix = "state_"
	StateSuffix = ".json"
	MetaFile    = ".meta.json"
)

// IsStateFile reports whether name follows the state_<unixMillis>.json convention.
func IsStateFile(name string) bool {
	_, ok := stateMillis(name)
	return ok
}

func stateMillis(name string) (int64, bool) {
	if !strings.HasPrefix(name, StatePrefix) || !strings.HasSuffix(name, StateSuffix) {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, StatePrefix), StateSuffix)
	ms, err := strconv.ParseInt(mid, 10, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return ms, true
}

func stateFileName(ms int64) string {
	return StatePrefix + strconv.FormatInt(ms, 10) + StateSuffix
}

func isTracked(name string) bool {
	return name == MetaFile || IsStateFile(name)
}

// sortStateFiles orders snapshot names oldest to newest by their timestamp.
func sortStateFiles(names []string) {
	sort.Slice(names, func(i, j int) bool {
		a, _ := stateMillis(names[i])
		b, _ := stateMillis(names[j])
		if a != b {
			return a < b
		}
		return names[i] < names[j]
	})
}

func newestStateFile(names []string) (string, bool) {
	var states []string
	for _, n := range names {
		if IsStateFile(n) {
			states = append(states, n)
		}
	}
	if len(states) == 0 {
		return "", false
	}
	sortStateFiles(states)
	return states[len(states)-1], true
}

func (r *Repo) trackedFiles() ([]string, error) {
	ents, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.Type().IsRegular() && isTracked(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *Repo) nextStateName(now time.Time) string {
	ms := now.UnixMilli()
	for {
		name := stateFileName(ms)
		if _, err := os.Lstat(filepath.Join(r.dir, name)); os.IsNotExist(err) {
			return name
		}
		ms++
	}
}

// writeFileAtomic writes data to a temp file in the same directory, syncs it
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
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
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
