package toolserver

import (
	"context"
	"fmt"

	"taleweave.ai/internal/content"
	"taleweave.ai/internal/curator"
	"taleweave.ai/internal/mechanics"
	"taleweave.ai/internal/tools"
	"taleweave.ai/internal/transcript"
	"taleweave.ai/internal/world"
)

// Registry exposes the registry's own diagnostics.
func Registry(reg *tools.Registry) tools.Server {
	return tools.Server{
		Name: "registry",
		Operations: []tools.Operation{
			{
				Name:        "get_history",
				Description: "The most recent tool invocations, oldest first.",
				Params:      tools.Object(map[string]any{"limit": tools.Integer("number of invocations, 0 for all retained")}),
				Returns:     tools.ArrayOf(tools.AnyObject("invocation"), "invocations"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						Limit int `json:"limit"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					return reg.History(in.Limit), nil
				},
			},
			{
				Name:        "list_tools",
				Description: "Every registered operation with its schemas.",
				Params:      tools.Object(nil),
				Returns:     tools.ArrayOf(tools.AnyObject("descriptor"), "tools"),
				Handler: func(context.Context, tools.Params) (any, error) {
					return reg.Describe(), nil
				},
			},
		},
	}
}

// Deps are the subsystems the tool servers are bound to.
type Deps struct {
	Game       *content.Game
	World      *world.Store
	Roller     *mechanics.Roller
	Transcript *transcript.Transcript
	Curator    *curator.Curator
}

// RegisterAll registers the six tool servers on reg.
func RegisterAll(reg *tools.Registry, d Deps) error {
	for _, s := range []tools.Server{
		Content(d.Game),
		Mechanics(d.Roller, d.Game),
		Character(d.Game, d.World),
		World(d.Game, d.World),
		Narrative(d.Transcript, d.Curator, d.World),
		Registry(reg),
	} {
		if err := reg.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", s.Name, err)
		}
	}
	return nil
}
