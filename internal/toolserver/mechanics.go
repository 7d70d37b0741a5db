package toolserver

import (
	"context"

	"taleweave.ai/internal/content"
	"taleweave.ai/internal/mechanics"
	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/tools"
)

var seedParam = tools.Integer("optional seed for a reproducible roll")

// Mechanics exposes dice, checks and attacks. g may be nil, in which case
// checks need an explicit modifier.
func Mechanics(r *mechanics.Roller, g *content.Game) tools.Server {
	return tools.Server{
		Name: "mechanics",
		Operations: []tools.Operation{
			{
				Name:        "roll",
				Description: "Roll dice notation such as 2d6+1.",
				Params: tools.Object(map[string]any{
					"notation": tools.String("dice notation"),
					"seed":     seedParam,
				}, "notation"),
				Returns: tools.AnyObject("roll"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						Notation string `json:"notation"`
						Seed     *int64 `json:"seed"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					return r.RollNotation(in.Notation, in.Seed)
				},
			},
			{
				Name:        "check",
				Description: "d20 check against a difficulty class. The modifier comes from modifier or from a character's ability score.",
				Params: tools.Object(map[string]any{
					"dc":           tools.Integer("difficulty class"),
					"modifier":     tools.Integer("flat modifier"),
					"character_id": tools.String("character whose ability applies"),
					"ability":      tools.String("ability name, e.g. strength"),
					"seed":         seedParam,
				}, "dc"),
				Returns: tools.AnyObject("check result"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						DC        int    `json:"dc"`
						Modifier  int    `json:"modifier"`
						Character string `json:"character_id"`
						Ability   string `json:"ability"`
						Seed      *int64 `json:"seed"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					mod := in.Modifier
					if in.Character != "" && in.Ability != "" {
						score, err := abilityScore(g, in.Character, in.Ability)
						if err != nil {
							return nil, err
						}
						mod += mechanics.Modifier(score)
					}
					return r.Check(mod, in.DC, in.Seed)
				},
			},
			{
				Name:        "attack",
				Description: "Attack roll against armor class, with damage on a hit.",
				Params: tools.Object(map[string]any{
					"attack_bonus": tools.Integer("attack bonus"),
					"armor_class":  tools.Integer("target armor class"),
					"damage":       tools.String("damage dice notation"),
					"seed":         seedParam,
				}, "armor_class", "damage"),
				Returns: tools.AnyObject("attack result"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						Bonus  int    `json:"attack_bonus"`
						AC     int    `json:"armor_class"`
						Damage string `json:"damage"`
						Seed   *int64 `json:"seed"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					return r.Attack(in.Bonus, in.AC, in.Damage, in.Seed)
				},
			},
		},
	}
}

func abilityScore(g *content.Game, character, ability string) (int, error) {
	if g == nil {
		return 0, protocol.Validation("no content loaded for ability checks")
	}
	c, ok := g.NPC(character)
	if !ok {
		return 0, protocol.NotFound("character %q", character)
	}
	score, ok := c.Stats[ability]
	if !ok {
		return 0, protocol.NotFound("%s has no %s score", character, ability)
	}
	return score, nil
}
