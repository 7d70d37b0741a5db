package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"taleweave.ai/internal/protocol"
)

const SnapshotVersion = 1

type FlagEntry struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type PositionEntry struct {
	Entity   string   `json:"entity"`
	Position Position `json:"position"`
}

type StateEntry struct {
	ID    string         `json:"id"`
	State map[string]any `json:"state"`
}

// Snapshot is the persisted form of the store. Every map is written as an
// entry list sorted by key so the encoding is stable.
type Snapshot struct {
	Version         int             `json:"version"`
	CurrentRoom     string          `json:"currentRoom"`
	Party           []EntityID      `json:"party"`
	WorldTime       GameTime        `json:"worldTime"`
	Flags           []FlagEntry     `json:"flags"`
	DynamicEntities []EntityID      `json:"dynamicEntities"`
	Positions       []PositionEntry `json:"positions"`
	EntityState     []StateEntry    `json:"entityState"`
	RoomState       []StateEntry    `json:"roomState"`
	TurnCount       int             `json:"turnCount"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:         SnapshotVersion,
		CurrentRoom:     s.state.CurrentRoom,
		Party:           append([]EntityID{}, s.state.Party...),
		WorldTime:       s.state.WorldTime,
		Flags:           []FlagEntry{},
		DynamicEntities: append([]EntityID{}, s.state.DynamicEntities...),
		Positions:       []PositionEntry{},
		EntityState:     stateEntries(s.entityState),
		RoomState:       stateEntries(s.roomState),
		TurnCount:       s.turnCount,
	}
	for _, k := range sortedKeys(s.state.Flags) {
		snap.Flags = append(snap.Flags, FlagEntry{Key: k, Value: s.state.Flags[k]})
	}
	ids := make([]string, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap.Positions = append(snap.Positions, PositionEntry{Entity: id, Position: s.positions[id]})
	}
	return snap
}

func stateEntries(m map[string]map[string]any) []StateEntry {
	out := []StateEntry{}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, StateEntry{ID: id, State: cloneMap(m[id])})
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Restore replaces the whole store state with snap.
func (s *Store) Restore(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return protocol.Validation("unsupported snapshot version %d", snap.Version)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = WorldState{
		CurrentRoom:     snap.CurrentRoom,
		Party:           append([]EntityID{}, snap.Party...),
		WorldTime:       snap.WorldTime,
		Flags:           map[string]any{},
		DynamicEntities: append([]EntityID{}, snap.DynamicEntities...),
	}
	for _, f := range snap.Flags {
		s.state.Flags[f.Key] = f.Value
	}
	s.positions = make(map[string]Position, len(snap.Positions))
	for _, p := range snap.Positions {
		s.positions[p.Entity] = p.Position
	}
	s.entityState = map[string]map[string]any{}
	for _, e := range snap.EntityState {
		s.entityState[e.ID] = cloneMap(e.State)
	}
	s.roomState = map[string]map[string]any{}
	for _, e := range snap.RoomState {
		s.roomState[e.ID] = cloneMap(e.State)
	}
	s.turnCount = snap.TurnCount
	return nil
}

func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

// DecodeSnapshot keeps numbers as json.Number so re-encoding is byte-stable.
func DecodeSnapshot(b []byte) (Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
