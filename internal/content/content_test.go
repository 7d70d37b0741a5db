package content

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const fixture = "testdata/crypt"

func TestLoad_Fixture(t *testing.T) {
	g, err := Load(fixture)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Manifest.ID != "crypt-of-grimwald" || g.Manifest.StartingRoom != "tavern" {
		t.Fatalf("manifest: %+v", g.Manifest)
	}
	if g.Manifest.StartTime == nil || g.Manifest.StartTime.Month != 3 {
		t.Fatalf("start time: %+v", g.Manifest.StartTime)
	}
	if diff := cmp.Diff([]string{"cellar", "street", "tavern"}, g.RoomIDs()); diff != "" {
		t.Fatalf("rooms (-want +got):\n%s", diff)
	}
	conns, ok := g.ConnectedRooms("tavern")
	if !ok || len(conns) != 2 || conns[0].Direction != "down" || conns[0].Name != "Tavern Cellar" {
		t.Fatalf("connections: %+v", conns)
	}
	if c, ok := g.NPC("hero"); !ok || c.Name != "Hero" {
		t.Fatalf("player lookup: %+v", c)
	}
}

func TestWorldSeed(t *testing.T) {
	g, err := Load(fixture)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	seed := g.WorldSeed()
	if seed.Player != "hero" || seed.StartingRoom != "tavern" {
		t.Fatalf("seed: %+v", seed)
	}
	if seed.NPCs["grimwald"] != "tavern" {
		t.Fatalf("npc placement: %+v", seed.NPCs)
	}
	if diff := cmp.Diff([]string{"cellar_key"}, seed.Carried["grimwald"]); diff != "" {
		t.Fatalf("carried (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"lantern"}, seed.RoomItems["cellar"]); diff != "" {
		t.Fatalf("room items (-want +got):\n%s", diff)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{"no manifest", map[string]string{}, "game.yaml"},
		{"bad starting room", map[string]string{"game.yaml": "id: x\nstarting_room: nope\n", "content/world.yaml": "rooms:\n  - id: a\n"}, "starting_room"},
		{"dangling exit", map[string]string{"game.yaml": "id: x\nstarting_room: a\n", "content/world.yaml": "rooms:\n  - id: a\n    exits: {north: b}\n"}, "unknown room"},
		{"duplicate room", map[string]string{"game.yaml": "id: x\n", "content/world.yaml": "rooms:\n  - id: a\n  - id: a\n"}, "duplicate room"},
	}
	for _, c := range cases {
		dir := t.TempDir()
		for rel, body := range c.files {
			p := filepath.Join(dir, rel)
			_ = os.MkdirAll(filepath.Dir(p), 0o755)
			if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		_, err := Load(dir)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: err=%v want containing %q", c.name, err, c.want)
		}
	}
}
