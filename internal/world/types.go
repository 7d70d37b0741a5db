// Package world owns the single mutable WorldState of a play session:
// positions, inventories, flags, party, clock and free-form entity/room
// state. It checkpoints itself through the vcs commit store.
package world

import (
	"fmt"

	"taleweave.ai/internal/protocol"
)

var (
	ErrItemNotFound   = &protocol.Error{Code: protocol.ErrCodeNotFound, Kind: protocol.ErrNotFound, Msg: "item not found"}
	ErrEntityNotFound = &protocol.Error{Code: protocol.ErrCodeNotFound, Kind: protocol.ErrNotFound, Msg: "entity not found"}
	ErrRoomNotFound   = &protocol.Error{Code: protocol.ErrCodeNotFound, Kind: protocol.ErrNotFound, Msg: "room not found"}
)

// EntityID is immutable once created. Static entities come from authored
// content; dynamic ones are spawned at runtime.
type EntityID struct {
	ID       string `json:"id"`
	IsStatic bool   `json:"isStatic"`
}

type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Position: exactly one of Room, Container or Worn is set.
type Position struct {
	Room        string       `json:"room,omitempty"`
	Container   string       `json:"container,omitempty"`
	Worn        string       `json:"worn,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

func (p Position) validate() error {
	n := 0
	for _, s := range []string{p.Room, p.Container, p.Worn} {
		if s != "" {
			n++
		}
	}
	if n != 1 {
		return protocol.Validation("position must set exactly one of room, container, worn")
	}
	return nil
}

// holder is the entity whose inventory contains the positioned entity, if any.
func (p Position) holder() string {
	if p.Container != "" {
		return p.Container
	}
	return p.Worn
}

const (
	MinutesPerHour = 60
	HoursPerDay    = 24
	DaysPerMonth   = 30
	MonthsPerYear  = 12
)

// GameTime is the in-world clock. Month and Day are 1-based.
type GameTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func StartOfTime() GameTime {
	return GameTime{Year: 1, Month: 1, Day: 1, Hour: 8}
}

// Advance moves the clock forward with carry across every unit boundary.
func (t GameTime) Advance(minutes int) (GameTime, error) {
	if minutes < 0 {
		return t, protocol.Validation("time cannot move backwards (%d minutes)", minutes)
	}
	total := t.Minute + minutes
	t.Minute = total % MinutesPerHour
	hours := t.Hour + total/MinutesPerHour
	t.Hour = hours % HoursPerDay
	days := (t.Day - 1) + hours/HoursPerDay
	t.Day = days%DaysPerMonth + 1
	months := (t.Month - 1) + days/DaysPerMonth
	t.Month = months%MonthsPerYear + 1
	t.Year += months / MonthsPerYear
	return t, nil
}

func (t GameTime) String() string {
	return fmt.Sprintf("Y%d-M%02d-D%02d %02d:%02d", t.Year, t.Month, t.Day, t.Hour, t.Minute)
}

// PartOfDay is a coarse label used in narrative context.
func (t GameTime) PartOfDay() string {
	switch {
	case t.Hour < 5:
		return "night"
	case t.Hour < 12:
		return "morning"
	case t.Hour < 17:
		return "afternoon"
	case t.Hour < 21:
		return "evening"
	default:
		return "night"
	}
}

// WorldState is the mutable root.
type WorldState struct {
	CurrentRoom     string         `json:"currentRoom"`
	Party           []EntityID     `json:"party"`
	WorldTime       GameTime       `json:"worldTime"`
	Flags           map[string]any `json:"flags"`
	DynamicEntities []EntityID     `json:"dynamicEntities"`
}

// Seed is the initial placement derived from authored content.
type Seed struct {
	StartingRoom string
	Player       string
	Rooms        []string
	NPCs         map[string]string   // npc id -> room
	RoomItems    map[string][]string // room id -> item ids
	Carried      map[string][]string // holder id -> item ids
	StartTime    *GameTime
}
