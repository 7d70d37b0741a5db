// Package compat fingerprints game content and decides whether a save made
// against one content set can be resumed against another.
package compat

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	ManifestFile = "game.yaml"
	MissingFile  = "[MISSING]"
)

const (
	ReasonNoSaveMetadata = "no_save_metadata"
	ReasonContentMatch   = "content_match"
	ReasonContentChanged = "content_changed"
)

// SaveMetadata is the per-lineage record stored as .meta.json. ContentHash is
// the compatibility key.
type SaveMetadata struct {
	ContentHash   string    `json:"contentHash"`
	GameVersion   string    `json:"gameVersion"`
	GameID        string    `json:"gameId"`
	PlayerName    string    `json:"playerName,omitempty"`
	LastCommit    string    `json:"lastCommit,omitempty"`
	LastPlayed    time.Time `json:"lastPlayed"`
	CurrentBranch string    `json:"currentBranch"`
	TurnCount     int       `json:"turnCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Result struct {
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason"`
	SavedHash  string `json:"savedHash,omitempty"`
	Current    string `json:"currentHash"`
}

// ContentFiles is the fixed, ordered list of files the content hash covers,
// relative to the game directory.
func ContentFiles() []string {
	return []string{
		ManifestFile,
		filepath.Join("content", "world.yaml"),
		filepath.Join("content", "characters.yaml"),
		filepath.Join("content", "items.yaml"),
	}
}

// GenerateContentHash digests files (relative to root) in the given order.
// Each file is framed by a marker line; a missing file contributes
// MissingFile instead of being skipped.
func GenerateContentHash(root string, files []string) (string, error) {
	h := sha256.New()
	for _, rel := range files {
		fmt.Fprintf(h, "=== %s ===\n", filepath.ToSlash(rel))
		b, err := os.ReadFile(filepath.Join(root, rel))
		switch {
		case errors.Is(err, os.ErrNotExist):
			b = []byte(MissingFile)
		case err != nil:
			return "", fmt.Errorf("content hash: %w", err)
		}
		_, _ = h.Write(b)
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func CheckCompatibility(currentHash string, saved *SaveMetadata) Result {
	if saved == nil || saved.ContentHash == "" {
		return Result{Compatible: false, Reason: ReasonNoSaveMetadata, Current: currentHash}
	}
	if saved.ContentHash == currentHash {
		return Result{Compatible: true, Reason: ReasonContentMatch, SavedHash: saved.ContentHash, Current: currentHash}
	}
	return Result{Compatible: false, Reason: ReasonContentChanged, SavedHash: saved.ContentHash, Current: currentHash}
}
