package vcs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Commit is an immutable snapshot reference. Changes lists "A file", "M file"
// or "D file" against the parent tree.
type Commit struct {
	Hash      string    `json:"hash"`
	Tree      string    `json:"tree"`
	Parent    string    `json:"parent,omitempty"`
	Branch    string    `json:"branch"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Changes   []string  `json:"changes"`
}

func (c Commit) Short() string {
	if len(c.Hash) > 8 {
		return c.Hash[:8]
	}
	return c.Hash
}

type Branch struct {
	Name    string `json:"name"`
	Head    string `json:"head"`
	Current bool   `json:"current"`
}

type Diff struct {
	FromMessage string   `json:"fromMessage"`
	ToMessage   string   `json:"toMessage"`
	Added       []string `json:"added"`
	Removed     []string `json:"removed"`
	Modified    []string `json:"modified"`
}

// tree maps a tracked file name to its blob hash.
type tree map[string]string

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (t tree) names() []string {
	out := make([]string, 0, len(t))
	for n := range t {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// encode renders the canonical form: sorted "name SP blobhash LF" lines.
func (t tree) encode() string {
	var b strings.Builder
	for _, n := range t.names() {
		b.WriteString(n)
		b.WriteByte(' ')
		b.WriteString(t[n])
		b.WriteByte('\n')
	}
	return b.String()
}

func (t tree) hash() string {
	return sha256Hex([]byte(t.encode()))
}

func decodeTree(body string) (tree, error) {
	t := tree{}
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		i := strings.LastIndexByte(line, ' ')
		if i <= 0 {
			return nil, fmt.Errorf("bad tree line %q", line)
		}
		t[line[:i]] = line[i+1:]
	}
	return t, nil
}

func commitHash(treeHash, parent, branch, message string, ts time.Time) string {
	s := fmt.Sprintf("tree %s\nparent %s\ntimestamp %d\nbranch %s\nmessage %s\n",
		treeHash, parent, ts.UnixMilli(), branch, message)
	return sha256Hex([]byte(s))
}

type treeDiff struct {
	added, removed, modified []string
}

func diffTrees(from, to tree) treeDiff {
	var d treeDiff
	for _, n := range to.names() {
		old, ok := from[n]
		switch {
		case !ok:
			d.added = append(d.added, n)
		case old != to[n]:
			d.modified = append(d.modified, n)
		}
	}
	for _, n := range from.names() {
		if _, ok := to[n]; !ok {
			d.removed = append(d.removed, n)
		}
	}
	return d
}

func (d treeDiff) changes() []string {
	out := make([]string, 0, len(d.added)+len(d.modified)+len(d.removed))
	for _, n := range d.added {
		out = append(out, "A "+n)
	}
	for _, n := range d.modified {
		out = append(out, "M "+n)
	}
	for _, n := range d.removed {
		out = append(out, "D "+n)
	}
	return out
}
