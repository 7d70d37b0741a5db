package toolserver

import (
	"context"
	"errors"

	"taleweave.ai/internal/content"
	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/tools"
	"taleweave.ai/internal/world"
)

// Sheet combines a character's static definition with its live world state.
type Sheet struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Disposition string          `json:"disposition,omitempty"`
	Stats       map[string]int  `json:"stats,omitempty"`
	Position    *world.Position `json:"position,omitempty"`
	Inventory   []string        `json:"inventory"`
	State       map[string]any  `json:"state"`
	InParty     bool            `json:"inParty"`
}

type PartyMember struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsStatic bool   `json:"isStatic"`
}

func sheetOf(g *content.Game, w *world.Store, id string) (Sheet, error) {
	def, known := g.NPC(id)
	pos, err := w.Position(id)
	switch {
	case err == nil:
	case errors.Is(err, world.ErrEntityNotFound) && known:
	default:
		if !known {
			return Sheet{}, protocol.NotFound("character %q", id)
		}
		return Sheet{}, err
	}
	s := Sheet{
		ID:          id,
		Name:        def.Name,
		Description: def.Description,
		Disposition: def.Disposition,
		Stats:       def.Stats,
		State:       w.EntityState(id),
		Inventory:   []string{},
	}
	if s.Name == "" {
		s.Name = id
	}
	if err == nil {
		s.Position = &pos
		if inv, err := w.Inventory(id); err == nil {
			s.Inventory = inv
		}
	}
	for _, m := range w.State().Party {
		if m.ID == id {
			s.InParty = true
		}
	}
	return s, nil
}

func Character(g *content.Game, w *world.Store) tools.Server {
	idParams := tools.Object(map[string]any{"character_id": tools.String("character id")}, "character_id")
	return tools.Server{
		Name: "character",
		Operations: []tools.Operation{
			{
				Name:        "get_sheet",
				Description: "Character definition merged with position, inventory and live state.",
				Params:      idParams,
				Returns:     tools.AnyObject("sheet"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return sheetOf(g, w, p.String("character_id"))
				},
			},
			{
				Name:        "update_sheet",
				Description: "Shallow-merge fields into a character's live state.",
				Params: tools.Object(map[string]any{
					"character_id": tools.String("character id"),
					"patch":        tools.AnyObject("fields to overwrite"),
				}, "character_id", "patch"),
				Returns: tools.AnyObject("sheet"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						ID    string         `json:"character_id"`
						Patch map[string]any `json:"patch"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					if _, err := w.PatchEntity(in.ID, in.Patch); err != nil {
						return nil, err
					}
					return sheetOf(g, w, in.ID)
				},
			},
			{
				Name:        "list_party",
				Description: "Current party members in join order.",
				Params:      tools.Object(nil),
				Returns:     tools.ArrayOf(tools.AnyObject("member"), "party"),
				Handler: func(context.Context, tools.Params) (any, error) {
					party := w.State().Party
					out := make([]PartyMember, 0, len(party))
					for _, m := range party {
						name := m.ID
						if c, ok := g.NPC(m.ID); ok && c.Name != "" {
							name = c.Name
						}
						out = append(out, PartyMember{ID: m.ID, Name: name, IsStatic: m.IsStatic})
					}
					return out, nil
				},
			},
		},
	}
}
