// Package content loads the read-only game definition: the manifest plus
// room, character and item catalogs, keyed by id.
package content

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"taleweave.ai/internal/world"
)

type Manifest struct {
	ID           string          `yaml:"id" json:"id"`
	Title        string          `yaml:"title" json:"title"`
	Version      string          `yaml:"version" json:"version"`
	StartingRoom string          `yaml:"starting_room" json:"startingRoom"`
	StartTime    *world.GameTime `yaml:"start_time,omitempty" json:"startTime,omitempty"`
	Player       Character       `yaml:"player" json:"player"`
}

type Environment struct {
	Lighting    string   `yaml:"lighting" json:"lighting"`
	Temperature string   `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Sounds      []string `yaml:"sounds,omitempty" json:"sounds,omitempty"`
	Smells      []string `yaml:"smells,omitempty" json:"smells,omitempty"`
	Hazards     []string `yaml:"hazards,omitempty" json:"hazards,omitempty"`
	Indoors     bool     `yaml:"indoors" json:"indoors"`
}

type Room struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Exits       map[string]string `yaml:"exits" json:"exits"`
	Environment Environment       `yaml:"environment" json:"environment"`
	Items       []string          `yaml:"items,omitempty" json:"items,omitempty"`
}

type Character struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Room        string         `yaml:"room,omitempty" json:"room,omitempty"`
	Disposition string         `yaml:"disposition,omitempty" json:"disposition,omitempty"`
	Stats       map[string]int `yaml:"stats,omitempty" json:"stats,omitempty"`
	Inventory   []string       `yaml:"inventory,omitempty" json:"inventory,omitempty"`
}

type Item struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Weight      float64        `yaml:"weight,omitempty" json:"weight,omitempty"`
	Damage      string         `yaml:"damage,omitempty" json:"damage,omitempty"`
	Properties  map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
}

type Connection struct {
	Direction string `json:"direction"`
	RoomID    string `json:"roomId"`
	Name      string `json:"name"`
}

type worldFile struct {
	Rooms []Room `yaml:"rooms"`
}

type charactersFile struct {
	NPCs []Character `yaml:"npcs"`
}

type itemsFile struct {
	Items []Item `yaml:"items"`
}

// Game is the loaded, validated content set.
type Game struct {
	Dir      string
	Manifest Manifest

	rooms map[string]Room
	npcs  map[string]Character
	items map[string]Item
}

// Load reads dir/game.yaml and dir/content/{world,characters,items}.yaml.
// Only the manifest is required.
func Load(dir string) (*Game, error) {
	g := &Game{
		Dir:   dir,
		rooms: map[string]Room{},
		npcs:  map[string]Character{},
		items: map[string]Item{},
	}
	if err := readYAML(filepath.Join(dir, "game.yaml"), true, &g.Manifest); err != nil {
		return nil, err
	}
	var wf worldFile
	if err := readYAML(filepath.Join(dir, "content", "world.yaml"), false, &wf); err != nil {
		return nil, err
	}
	var cf charactersFile
	if err := readYAML(filepath.Join(dir, "content", "characters.yaml"), false, &cf); err != nil {
		return nil, err
	}
	var itf itemsFile
	if err := readYAML(filepath.Join(dir, "content", "items.yaml"), false, &itf); err != nil {
		return nil, err
	}
	for _, r := range wf.Rooms {
		if _, dup := g.rooms[r.ID]; dup {
			return nil, fmt.Errorf("world.yaml: duplicate room id: %s", r.ID)
		}
		g.rooms[r.ID] = r
	}
	for _, c := range cf.NPCs {
		if _, dup := g.npcs[c.ID]; dup {
			return nil, fmt.Errorf("characters.yaml: duplicate npc id: %s", c.ID)
		}
		g.npcs[c.ID] = c
	}
	for _, it := range itf.Items {
		if _, dup := g.items[it.ID]; dup {
			return nil, fmt.Errorf("items.yaml: duplicate item id: %s", it.ID)
		}
		g.items[it.ID] = it
	}
	g.normalize()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func readYAML(path string, required bool, out any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func (g *Game) normalize() {
	g.Manifest.ID = strings.TrimSpace(g.Manifest.ID)
	if g.Manifest.Player.ID == "" {
		g.Manifest.Player.ID = "player"
	}
	if g.Manifest.Player.Name == "" {
		g.Manifest.Player.Name = g.Manifest.Player.ID
	}
	if g.Manifest.StartingRoom == "" && len(g.rooms) > 0 {
		g.Manifest.StartingRoom = g.RoomIDs()[0]
	}
}

func (g *Game) Validate() error {
	if g.Manifest.ID == "" {
		return fmt.Errorf("game.yaml: id must not be empty")
	}
	if _, ok := g.rooms[g.Manifest.StartingRoom]; !ok {
		return fmt.Errorf("game.yaml: starting_room %q not found in world.yaml", g.Manifest.StartingRoom)
	}
	for id, r := range g.rooms {
		if id == "" {
			return fmt.Errorf("world.yaml: room id must not be empty")
		}
		for dir, to := range r.Exits {
			if _, ok := g.rooms[to]; !ok {
				return fmt.Errorf("world.yaml: room %s exit %s leads to unknown room %q", id, dir, to)
			}
		}
		for _, it := range r.Items {
			if _, ok := g.items[it]; !ok {
				return fmt.Errorf("world.yaml: room %s lists unknown item %q", id, it)
			}
		}
	}
	for id, c := range g.npcs {
		if c.Room != "" {
			if _, ok := g.rooms[c.Room]; !ok {
				return fmt.Errorf("characters.yaml: npc %s placed in unknown room %q", id, c.Room)
			}
		}
		for _, it := range c.Inventory {
			if _, ok := g.items[it]; !ok {
				return fmt.Errorf("characters.yaml: npc %s carries unknown item %q", id, it)
			}
		}
	}
	return nil
}

func (g *Game) Room(id string) (Room, bool) {
	r, ok := g.rooms[id]
	return r, ok
}

func (g *Game) NPC(id string) (Character, bool) {
	if id == g.Manifest.Player.ID {
		return g.Manifest.Player, true
	}
	c, ok := g.npcs[id]
	return c, ok
}

func (g *Game) Item(id string) (Item, bool) {
	it, ok := g.items[id]
	return it, ok
}

func (g *Game) IsNPC(id string) bool {
	_, ok := g.npcs[id]
	return ok
}

func (g *Game) IsItem(id string) bool {
	_, ok := g.items[id]
	return ok
}

func (g *Game) RoomIDs() []string {
	out := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ConnectedRooms lists a room's exits sorted by direction.
func (g *Game) ConnectedRooms(id string) ([]Connection, bool) {
	r, ok := g.rooms[id]
	if !ok {
		return nil, false
	}
	out := make([]Connection, 0, len(r.Exits))
	for dir, to := range r.Exits {
		out = append(out, Connection{Direction: dir, RoomID: to, Name: g.rooms[to].Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Direction < out[j].Direction })
	return out, true
}

// NPCNames maps every character id (player included) to its display name.
func (g *Game) NPCNames() map[string]string {
	out := map[string]string{g.Manifest.Player.ID: g.Manifest.Player.Name}
	for id, c := range g.npcs {
		out[id] = c.Name
	}
	return out
}

// WorldSeed is the initial placement for a new playthrough.
func (g *Game) WorldSeed() world.Seed {
	seed := world.Seed{
		StartingRoom: g.Manifest.StartingRoom,
		Player:       g.Manifest.Player.ID,
		Rooms:        g.RoomIDs(),
		NPCs:         map[string]string{},
		RoomItems:    map[string][]string{},
		Carried:      map[string][]string{},
		StartTime:    g.Manifest.StartTime,
	}
	for id, c := range g.npcs {
		if c.Room != "" {
			seed.NPCs[id] = c.Room
		}
		if len(c.Inventory) > 0 {
			seed.Carried[id] = append([]string(nil), c.Inventory...)
		}
	}
	if inv := g.Manifest.Player.Inventory; len(inv) > 0 {
		seed.Carried[g.Manifest.Player.ID] = append([]string(nil), inv...)
	}
	for id, r := range g.rooms {
		if len(r.Items) > 0 {
			seed.RoomItems[id] = append([]string(nil), r.Items...)
		}
	}
	return seed
}
