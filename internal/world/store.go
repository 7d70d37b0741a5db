package world

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"taleweave.ai/internal/compat"
	"taleweave.ai/internal/persistence/vcs"
	"taleweave.ai/internal/protocol"
)

// ContentHasher supplies the current content fingerprint.
type ContentHasher interface {
	Hash() (string, error)
}

type Options struct {
	Repo        *vcs.Repo
	Hasher      ContentHasher
	Logger      *zap.Logger
	Now         func() time.Time
	GameID      string
	GameVersion string
}

type Store struct {
	repo   *vcs.Repo
	hasher ContentHasher
	log    *zap.Logger
	now    func() time.Time
	seed   Seed
	rooms  map[string]bool

	mu          sync.RWMutex
	state       WorldState
	positions   map[string]Position
	entityState map[string]map[string]any
	roomState   map[string]map[string]any
	turnCount   int
	meta        compat.SaveMetadata
}

func NewStore(seed Seed, opts Options) (*Store, error) {
	if seed.StartingRoom == "" {
		return nil, protocol.Validation("seed has no starting room")
	}
	if seed.Player == "" {
		return nil, protocol.Validation("seed has no player")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Store{
		repo:   opts.Repo,
		hasher: opts.Hasher,
		log:    opts.Logger,
		now:    opts.Now,
		seed:   seed,
		rooms:  map[string]bool{},
		meta: compat.SaveMetadata{
			GameID:      opts.GameID,
			GameVersion: opts.GameVersion,
			PlayerName:  seed.Player,
			CreatedAt:   opts.Now().UTC(),
		},
	}
	for _, r := range seed.Rooms {
		s.rooms[r] = true
	}
	s.rooms[seed.StartingRoom] = true
	s.resetLocked()
	return s, nil
}

// resetLocked rebuilds the initial state from the seed.
func (s *Store) resetLocked() {
	start := StartOfTime()
	if s.seed.StartTime != nil {
		start = *s.seed.StartTime
	}
	s.state = WorldState{
		CurrentRoom:     s.seed.StartingRoom,
		Party:           []EntityID{{ID: s.seed.Player, IsStatic: true}},
		WorldTime:       start,
		Flags:           map[string]any{},
		DynamicEntities: []EntityID{},
	}
	s.positions = map[string]Position{s.seed.Player: {Room: s.seed.StartingRoom}}
	s.entityState = map[string]map[string]any{}
	s.roomState = map[string]map[string]any{}
	s.turnCount = 0
	for npc, room := range s.seed.NPCs {
		s.positions[npc] = Position{Room: room}
	}
	for room, items := range s.seed.RoomItems {
		for _, it := range items {
			s.positions[it] = Position{Room: room}
		}
	}
	for holder, items := range s.seed.Carried {
		for _, it := range items {
			s.positions[it] = Position{Container: holder}
		}
	}
}

func (s *Store) Player() string { return s.seed.Player }

func (s *Store) HasRoom(id string) bool { return s.rooms[id] }

// State returns a deep copy of the root state.
func (s *Store) State() WorldState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return WorldState{
		CurrentRoom:     s.state.CurrentRoom,
		Party:           append([]EntityID(nil), s.state.Party...),
		WorldTime:       s.state.WorldTime,
		Flags:           cloneMap(s.state.Flags),
		DynamicEntities: append([]EntityID(nil), s.state.DynamicEntities...),
	}
}

func (s *Store) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnCount
}

func (s *Store) Position(entity string) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[entity]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entity)
	}
	return p, nil
}

func (s *Store) knownLocked(entity string) bool {
	if _, ok := s.positions[entity]; ok {
		return true
	}
	return s.inPartyLocked(entity)
}

func (s *Store) inPartyLocked(entity string) bool {
	for _, m := range s.state.Party {
		if m.ID == entity {
			return true
		}
	}
	return false
}

// MoveEntity sets an entity's single position. Party members may only be
// repositioned within the current room; MoveParty moves them between rooms.
func (s *Store) MoveEntity(entity string, to Position) error {
	if err := to.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.knownLocked(entity) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entity)
	}
	if to.Room != "" && !s.rooms[to.Room] {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, to.Room)
	}
	if s.inPartyLocked(entity) && to.Room != s.state.CurrentRoom {
		return protocol.Validation("%s is in the party and stays in %s; use move_party", entity, s.state.CurrentRoom)
	}
	if h := to.holder(); h != "" {
		if h == entity {
			return protocol.Validation("%s cannot contain itself", entity)
		}
		if !s.knownLocked(h) {
			return fmt.Errorf("%w: %s", ErrEntityNotFound, h)
		}
	}
	s.positions[entity] = to
	return nil
}

// MoveParty sets the current room and re-homes every party member in the
// same critical section.
func (s *Store) MoveParty(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rooms[room] {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	s.state.CurrentRoom = room
	for _, m := range s.state.Party {
		p := s.positions[m.ID]
		s.positions[m.ID] = Position{Room: room, Coordinates: p.Coordinates}
	}
	return nil
}

// Inventory lists what holder carries or wears, sorted by id.
func (s *Store) Inventory(holder string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.knownLocked(holder) {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, holder)
	}
	return s.heldByLocked(holder), nil
}

func (s *Store) heldByLocked(holder string) []string {
	out := []string{}
	for id, p := range s.positions {
		if p.holder() == holder {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// TransferItem moves item from one inventory to another. It fails without
// touching either inventory when the source does not hold the item.
func (s *Store) TransferItem(item, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.knownLocked(from) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, from)
	}
	if !s.knownLocked(to) {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, to)
	}
	p, ok := s.positions[item]
	if !ok || p.holder() != from {
		return fmt.Errorf("%w: %s not held by %s", ErrItemNotFound, item, from)
	}
	if item == to {
		return protocol.Validation("%s cannot contain itself", item)
	}
	s.positions[item] = Position{Container: to}
	return nil
}

// EntitiesInRoom lists entities positioned directly in room, sorted.
func (s *Store) EntitiesInRoom(room string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []string{}
	for id, p := range s.positions {
		if p.Room == room {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SpawnEntity registers a runtime-generated entity.
func (s *Store) SpawnEntity(id string, at Position) (EntityID, error) {
	if id == "" {
		return EntityID{}, protocol.Validation("empty entity id")
	}
	if err := at.validate(); err != nil {
		return EntityID{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.knownLocked(id) {
		return EntityID{}, protocol.Validation("entity %s already exists", id)
	}
	if at.Room != "" && !s.rooms[at.Room] {
		return EntityID{}, fmt.Errorf("%w: %s", ErrRoomNotFound, at.Room)
	}
	if h := at.holder(); h != "" && !s.knownLocked(h) {
		return EntityID{}, fmt.Errorf("%w: %s", ErrEntityNotFound, h)
	}
	eid := EntityID{ID: id}
	s.positions[id] = at
	s.state.DynamicEntities = append(s.state.DynamicEntities, eid)
	return eid, nil
}

// PatchEntity shallow-merges patch into the entity's free-form state.
func (s *Store) PatchEntity(entity string, patch map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.knownLocked(entity) {
		return nil, fmt.Errorf("%w: %s", ErrEntityNotFound, entity)
	}
	return mergeInto(s.entityState, entity, patch), nil
}

func (s *Store) EntityState(entity string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMap(s.entityState[entity])
}

func (s *Store) PatchRoom(room string, patch map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.rooms[room] {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, room)
	}
	return mergeInto(s.roomState, room, patch), nil
}

func (s *Store) RoomState(room string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneMap(s.roomState[room])
}

func mergeInto(m map[string]map[string]any, key string, patch map[string]any) map[string]any {
	cur := m[key]
	if cur == nil {
		cur = map[string]any{}
		m[key] = cur
	}
	for k, v := range patch {
		cur[k] = v
	}
	return cloneMap(cur)
}

// Flag returns the flag value and whether it is set.
func (s *Store) Flag(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.Flags[key]
	return v, ok
}

func (s *Store) SetFlag(key string, v any) error {
	if key == "" {
		return protocol.Validation("empty flag key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Flags[key] = v
	return nil
}

// AddPartyMember joins entity to the party and places it in the current room.
func (s *Store) AddPartyMember(entity string, isStatic bool) error {
	if entity == "" {
		return protocol.Validation("empty entity id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inPartyLocked(entity) {
		return nil
	}
	s.state.Party = append(s.state.Party, EntityID{ID: entity, IsStatic: isStatic})
	s.positions[entity] = Position{Room: s.state.CurrentRoom}
	return nil
}

func (s *Store) RemovePartyMember(entity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entity == s.seed.Player {
		return protocol.Validation("the player cannot leave the party")
	}
	for i, m := range s.state.Party {
		if m.ID == entity {
			s.state.Party = append(s.state.Party[:i], s.state.Party[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not in the party", ErrEntityNotFound, entity)
}

func (s *Store) AdvanceTime(minutes int) (GameTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.state.WorldTime.Advance(minutes)
	if err != nil {
		return s.state.WorldTime, err
	}
	s.state.WorldTime = t
	return t, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ctxErr lets long persistence paths bail out before touching disk.
func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
