// Package toolserver binds each subsystem to the registry as a fixed table
// of named operations.
package toolserver

import (
	"context"

	"taleweave.ai/internal/content"
	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/tools"
)

var roomIDParams = tools.Object(map[string]any{"room_id": tools.String("room id")}, "room_id")

func Content(g *content.Game) tools.Server {
	room := func(p tools.Params) (content.Room, error) {
		id := p.String("room_id")
		r, ok := g.Room(id)
		if !ok {
			return content.Room{}, protocol.NotFound("room %q", id)
		}
		return r, nil
	}
	return tools.Server{
		Name: "content",
		Operations: []tools.Operation{
			{
				Name:        "get_room",
				Description: "Room definition by id.",
				Params:      roomIDParams,
				Returns:     tools.AnyObject("room"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return room(p)
				},
			},
			{
				Name:        "get_connected_rooms",
				Description: "Exits of a room, sorted by direction.",
				Params:      roomIDParams,
				Returns:     tools.ArrayOf(tools.AnyObject("connection"), "connections"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					id := p.String("room_id")
					conns, ok := g.ConnectedRooms(id)
					if !ok {
						return nil, protocol.NotFound("room %q", id)
					}
					return conns, nil
				},
			},
			{
				Name:        "get_environment",
				Description: "Lighting, temperature, sounds and hazards of a room.",
				Params:      roomIDParams,
				Returns:     tools.AnyObject("environment"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					r, err := room(p)
					if err != nil {
						return nil, err
					}
					return r.Environment, nil
				},
			},
			{
				Name:        "get_npc",
				Description: "Character definition by id.",
				Params:      tools.Object(map[string]any{"npc_id": tools.String("character id")}, "npc_id"),
				Returns:     tools.AnyObject("character"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					id := p.String("npc_id")
					c, ok := g.NPC(id)
					if !ok {
						return nil, protocol.NotFound("npc %q", id)
					}
					return c, nil
				},
			},
			{
				Name:        "get_item",
				Description: "Item definition by id.",
				Params:      tools.Object(map[string]any{"item_id": tools.String("item id")}, "item_id"),
				Returns:     tools.AnyObject("item"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					id := p.String("item_id")
					it, ok := g.Item(id)
					if !ok {
						return nil, protocol.NotFound("item %q", id)
					}
					return it, nil
				},
			},
			{
				Name:        "list_rooms",
				Description: "Every room id, sorted.",
				Params:      tools.Object(nil),
				Returns:     tools.ArrayOf(tools.String("room id"), "room ids"),
				Handler: func(context.Context, tools.Params) (any, error) {
					return g.RoomIDs(), nil
				},
			},
		},
	}
}
