package toolserver

import (
	"context"

	"taleweave.ai/internal/content"
	"taleweave.ai/internal/tools"
	"taleweave.ai/internal/world"
)

var positionSchema = tools.Object(map[string]any{
	"room":      tools.String("room id"),
	"container": tools.String("holding entity id"),
	"worn":      tools.String("wearing entity id"),
	"coordinates": tools.Object(map[string]any{
		"x": tools.Number("x"),
		"y": tools.Number("y"),
		"z": tools.Number("z"),
	}),
})

var entityIDParams = tools.Object(map[string]any{"entity_id": tools.String("entity id")}, "entity_id")

// RoomEntity is an id with its display name, for room listings.
type RoomEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SaveResult struct {
	Hash string `json:"hash"`
	Turn int    `json:"turn"`
}

type LoadResult struct {
	Loaded bool             `json:"loaded"`
	State  world.WorldState `json:"state"`
}

type FlagResult struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Set   bool   `json:"set"`
}

type TimeResult struct {
	Time      world.GameTime `json:"time"`
	Display   string         `json:"display"`
	PartOfDay string         `json:"partOfDay"`
}

func World(g *content.Game, w *world.Store) tools.Server {
	roomEntities := func(room string, items bool) []RoomEntity {
		out := []RoomEntity{}
		for _, id := range w.EntitiesInRoom(room) {
			if g.IsItem(id) != items || id == w.Player() {
				continue
			}
			name := id
			if items {
				if it, ok := g.Item(id); ok && it.Name != "" {
					name = it.Name
				}
			} else if c, ok := g.NPC(id); ok && c.Name != "" {
				name = c.Name
			}
			out = append(out, RoomEntity{ID: id, Name: name})
		}
		return out
	}

	return tools.Server{
		Name: "world",
		Operations: []tools.Operation{
			{
				Name:        "get_state",
				Description: "Current room, party, clock, flags and dynamic entities.",
				Params:      tools.Object(nil),
				Returns:     tools.AnyObject("world state"),
				Handler: func(context.Context, tools.Params) (any, error) {
					return w.State(), nil
				},
			},
			{
				Name:        "get_position",
				Description: "Where an entity is.",
				Params:      entityIDParams,
				Returns:     positionSchema,
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return w.Position(p.String("entity_id"))
				},
			},
			{
				Name:        "move_entity",
				Description: "Place an entity in exactly one of a room, a container or worn by someone.",
				Params: tools.Object(map[string]any{
					"entity_id": tools.String("entity id"),
					"to":        positionSchema,
				}, "entity_id", "to"),
				Returns: positionSchema,
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						ID string         `json:"entity_id"`
						To world.Position `json:"to"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					if err := w.MoveEntity(in.ID, in.To); err != nil {
						return nil, err
					}
					return in.To, nil
				},
			},
			{
				Name:        "move_party",
				Description: "Move the whole party to a room.",
				Params:      roomIDParams,
				Returns:     tools.AnyObject("world state"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					if err := w.MoveParty(p.String("room_id")); err != nil {
						return nil, err
					}
					return w.State(), nil
				},
			},
			{
				Name:        "transfer_item",
				Description: "Move an item from one inventory to another; fails untouched if the source lacks it.",
				Params: tools.Object(map[string]any{
					"item_id": tools.String("item id"),
					"from":    tools.String("current holder"),
					"to":      tools.String("new holder"),
				}, "item_id", "from", "to"),
				Returns: tools.AnyObject("inventories"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					from, to := p.String("from"), p.String("to")
					if err := w.TransferItem(p.String("item_id"), from, to); err != nil {
						return nil, err
					}
					fromInv, _ := w.Inventory(from)
					toInv, _ := w.Inventory(to)
					return map[string][]string{from: fromInv, to: toInv}, nil
				},
			},
			{
				Name:        "get_inventory",
				Description: "Items an entity carries or wears.",
				Params:      entityIDParams,
				Returns:     tools.ArrayOf(tools.String("item id"), "items"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return w.Inventory(p.String("entity_id"))
				},
			},
			{
				Name:        "spawn_entity",
				Description: "Register a runtime-created entity at a position.",
				Params: tools.Object(map[string]any{
					"entity_id": tools.String("new entity id"),
					"at":        positionSchema,
				}, "entity_id", "at"),
				Returns: tools.AnyObject("entity id"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						ID string         `json:"entity_id"`
						At world.Position `json:"at"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					return w.SpawnEntity(in.ID, in.At)
				},
			},
			{
				Name:        "patch_entity",
				Description: "Shallow-merge fields into an entity's free-form state.",
				Params: tools.Object(map[string]any{
					"entity_id": tools.String("entity id"),
					"patch":     tools.AnyObject("fields to overwrite"),
				}, "entity_id", "patch"),
				Returns: tools.AnyObject("merged state"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					patch, _ := p["patch"].(map[string]any)
					return w.PatchEntity(p.String("entity_id"), patch)
				},
			},
			{
				Name:        "patch_room",
				Description: "Shallow-merge fields into a room's free-form state.",
				Params: tools.Object(map[string]any{
					"room_id": tools.String("room id"),
					"patch":   tools.AnyObject("fields to overwrite"),
				}, "room_id", "patch"),
				Returns: tools.AnyObject("merged state"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					patch, _ := p["patch"].(map[string]any)
					return w.PatchRoom(p.String("room_id"), patch)
				},
			},
			{
				Name:        "get_flag",
				Description: "Read a story flag.",
				Params:      tools.Object(map[string]any{"key": tools.String("flag name")}, "key"),
				Returns:     tools.AnyObject("flag"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					key := p.String("key")
					v, ok := w.Flag(key)
					return FlagResult{Key: key, Value: v, Set: ok}, nil
				},
			},
			{
				Name:        "set_flag",
				Description: "Write a story flag.",
				Params: tools.Object(map[string]any{
					"key":   tools.String("flag name"),
					"value": map[string]any{"description": "any JSON value"},
				}, "key", "value"),
				Returns: tools.AnyObject("flag"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					key := p.String("key")
					if err := w.SetFlag(key, p["value"]); err != nil {
						return nil, err
					}
					return FlagResult{Key: key, Value: p["value"], Set: true}, nil
				},
			},
			{
				Name:        "add_party_member",
				Description: "Add an entity to the party in the current room.",
				Params: tools.Object(map[string]any{
					"entity_id": tools.String("entity id"),
					"is_static": tools.Boolean("defined by content rather than spawned"),
				}, "entity_id"),
				Returns: tools.ArrayOf(tools.AnyObject("member"), "party"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					static, ok := p["is_static"].(bool)
					if !ok {
						static = g.IsNPC(p.String("entity_id"))
					}
					if err := w.AddPartyMember(p.String("entity_id"), static); err != nil {
						return nil, err
					}
					return w.State().Party, nil
				},
			},
			{
				Name:        "remove_party_member",
				Description: "Remove an entity from the party; the player cannot leave.",
				Params:      entityIDParams,
				Returns:     tools.ArrayOf(tools.AnyObject("member"), "party"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					if err := w.RemovePartyMember(p.String("entity_id")); err != nil {
						return nil, err
					}
					return w.State().Party, nil
				},
			},
			{
				Name:        "advance_time",
				Description: "Advance the game clock by a non-negative number of minutes.",
				Params:      tools.Object(map[string]any{"minutes": tools.Integer("minutes to advance")}, "minutes"),
				Returns:     tools.AnyObject("time"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						Minutes int `json:"minutes"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					t, err := w.AdvanceTime(in.Minutes)
					if err != nil {
						return nil, err
					}
					return TimeResult{Time: t, Display: t.String(), PartOfDay: t.PartOfDay()}, nil
				},
			},
			{
				Name:        "list_room_items",
				Description: "Items lying in a room.",
				Params:      roomIDParams,
				Returns:     tools.ArrayOf(tools.AnyObject("item"), "items"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return roomEntities(p.String("room_id"), true), nil
				},
			},
			{
				Name:        "list_room_npcs",
				Description: "Characters in a room other than the player.",
				Params:      roomIDParams,
				Returns:     tools.ArrayOf(tools.AnyObject("character"), "characters"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return roomEntities(p.String("room_id"), false), nil
				},
			},
			{
				Name:        "save_state",
				Description: "Checkpoint the world as a new commit on the current branch.",
				Params:      tools.Object(map[string]any{"message": tools.String("commit message")}),
				Returns:     tools.AnyObject("commit"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					hash, err := w.SaveState(ctx, p.String("message"))
					if err != nil {
						return nil, err
					}
					return SaveResult{Hash: hash, Turn: w.TurnCount()}, nil
				},
			},
			{
				Name:        "load_state",
				Description: "Restore a commit, or the newest snapshot when ref is empty.",
				Params:      tools.Object(map[string]any{"ref": tools.String("commit hash, prefix or branch")}),
				Returns:     tools.AnyObject("load result"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					ok, err := w.LoadState(ctx, p.String("ref"))
					if err != nil {
						return nil, err
					}
					return LoadResult{Loaded: ok, State: w.State()}, nil
				},
			},
			{
				Name:        "create_branch",
				Description: "Fork a timeline from a commit (default: current tip).",
				Params: tools.Object(map[string]any{
					"name": tools.String("branch name"),
					"from": tools.String("starting commit"),
				}, "name"),
				Returns: tools.AnyObject("branch"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					return w.CreateBranch(ctx, p.String("name"), p.String("from"))
				},
			},
			{
				Name:        "switch_branch",
				Description: "Check a branch out and reload its state.",
				Params:      tools.Object(map[string]any{"name": tools.String("branch name")}, "name"),
				Returns:     tools.AnyObject("world state"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					if err := w.SwitchBranch(ctx, p.String("name")); err != nil {
						return nil, err
					}
					return w.State(), nil
				},
			},
			{
				Name:        "reset_branch",
				Description: "Roll the current branch back to an earlier commit.",
				Params:      tools.Object(map[string]any{"ref": tools.String("commit on the current branch")}, "ref"),
				Returns:     tools.AnyObject("commit"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					hash, err := w.ResetBranch(ctx, p.String("ref"))
					if err != nil {
						return nil, err
					}
					return SaveResult{Hash: hash, Turn: w.TurnCount()}, nil
				},
			},
			{
				Name:        "list_branches",
				Description: "Every branch with its head commit.",
				Params:      tools.Object(nil),
				Returns:     tools.ArrayOf(tools.AnyObject("branch"), "branches"),
				Handler: func(ctx context.Context, _ tools.Params) (any, error) {
					return w.Branches(ctx)
				},
			},
			{
				Name:        "get_history",
				Description: "Commits on a branch, newest first.",
				Params: tools.Object(map[string]any{
					"branch": tools.String("branch (default current)"),
					"limit":  tools.Integer("maximum commits, 0 for all"),
				}),
				Returns: tools.ArrayOf(tools.AnyObject("commit"), "commits"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					var in struct {
						Branch string `json:"branch"`
						Limit  int    `json:"limit"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					return w.History(ctx, in.Branch, in.Limit)
				},
			},
			{
				Name:        "cherry_pick",
				Description: "Replay the snapshot files of other commits onto the current branch.",
				Params: tools.Object(map[string]any{
					"refs": tools.ArrayOf(tools.String("commit"), "commits to replay in order"),
				}, "refs"),
				Returns: tools.ArrayOf(tools.String("hash"), "new commits"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					var in struct {
						Refs []string `json:"refs"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					return w.CherryPick(ctx, in.Refs)
				},
			},
			{
				Name:        "get_diff",
				Description: "Files added, removed and modified between two commits.",
				Params: tools.Object(map[string]any{
					"from": tools.String("older commit"),
					"to":   tools.String("newer commit"),
				}, "from", "to"),
				Returns: tools.AnyObject("diff"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					return w.Diff(ctx, p.String("from"), p.String("to"))
				},
			},
			{
				Name:        "check_compatibility",
				Description: "Compare the save's content hash with the loaded content.",
				Params:      tools.Object(nil),
				Returns:     tools.AnyObject("compatibility"),
				Handler: func(context.Context, tools.Params) (any, error) {
					return w.CheckCompatibility()
				},
			},
		},
	}
}
