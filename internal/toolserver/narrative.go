package toolserver

import (
	"context"
	"encoding/json"
	"time"

	"taleweave.ai/internal/curator"
	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/tools"
	"taleweave.ai/internal/transcript"
	"taleweave.ai/internal/world"
)

type PurgeResult struct {
	Purged    int `json:"purged"`
	Remaining int `json:"remaining"`
}

type SummaryResult struct {
	FromTurn int    `json:"fromTurn"`
	ToTurn   int    `json:"toTurn"`
	Focus    string `json:"focus"`
	Summary  string `json:"summary"`
}

var turnSchema = tools.Object(map[string]any{
	"player_action": tools.String("what the player did"),
	"narrative":     tools.String("generated narrative text"),
	"npcs_involved": tools.ArrayOf(tools.String("npc name"), "characters taking part"),
	"mechanical_results": tools.ArrayOf(tools.Object(map[string]any{
		"type":        tools.Enum("result kind", "combat", "attack", "damage", "check", "roll"),
		"description": tools.String("short description"),
		"data":        tools.AnyObject("raw result"),
	}, "type"), "resolved rolls"),
	"dialogue": tools.ArrayOf(tools.Object(map[string]any{
		"speaker": tools.String("speaker"),
		"text":    tools.String("line"),
	}, "speaker", "text"), "spoken lines"),
	"state_changes": tools.ArrayOf(tools.Object(map[string]any{
		"target": tools.String("entity or room"),
		"field":  tools.String("changed field"),
		"value":  map[string]any{"description": "new value"},
	}, "target", "field"), "world changes"),
	"mood":        tools.String("scene mood, e.g. tense, peaceful"),
	"world_state": tools.AnyObject("state snapshot; defaults to the live world state"),
})

// Narrative exposes the transcript and the context curator. w may be nil;
// when set, recorded turns without a world_state get the live state.
func Narrative(tr *transcript.Transcript, cur *curator.Curator, w *world.Store) tools.Server {
	return tools.Server{
		Name: "narrative",
		Operations: []tools.Operation{
			{
				Name:        "record_turn",
				Description: "Append a resolved turn to the transcript.",
				Params:      turnSchema,
				Returns:     tools.AnyObject("recorded turn"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					var in struct {
						PlayerAction      string                        `json:"player_action"`
						Narrative         string                        `json:"narrative"`
						NPCsInvolved      []string                      `json:"npcs_involved"`
						MechanicalResults []transcript.MechanicalResult `json:"mechanical_results"`
						Dialogue          []transcript.DialogueLine     `json:"dialogue"`
						StateChanges      []transcript.StateChange      `json:"state_changes"`
						Mood              string                        `json:"mood"`
						WorldState        map[string]any                `json:"world_state"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					if in.WorldState == nil && w != nil {
						in.WorldState = stateMap(w.State())
					}
					return tr.Record(ctx, transcript.TurnRecord{
						PlayerAction:      in.PlayerAction,
						Narrative:         in.Narrative,
						NPCsInvolved:      in.NPCsInvolved,
						MechanicalResults: in.MechanicalResults,
						Dialogue:          in.Dialogue,
						StateChanges:      in.StateChanges,
						Mood:              in.Mood,
						WorldState:        in.WorldState,
					})
				},
			},
			{
				Name:        "recent_turns",
				Description: "The last n turns, oldest first.",
				Params:      tools.Object(map[string]any{"limit": tools.Integer("number of turns, default 5")}),
				Returns:     tools.ArrayOf(tools.AnyObject("turn"), "turns"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						Limit int `json:"limit"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					if in.Limit <= 0 {
						in.Limit = 5
					}
					return tr.Recent(in.Limit), nil
				},
			},
			{
				Name:        "search_transcript",
				Description: "Case-insensitive substring search over past turns.",
				Params: tools.Object(map[string]any{
					"query":       tools.String("text to find"),
					"max_results": tools.Integer("result cap, default 5"),
					"entities":    tools.ArrayOf(tools.String("entity name"), "only turns involving one of these"),
					"from":        tools.String("RFC 3339 lower time bound, inclusive"),
					"to":          tools.String("RFC 3339 upper time bound, inclusive"),
				}, "query"),
				Returns: tools.ArrayOf(tools.AnyObject("chunk"), "chunks"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						Query    string    `json:"query"`
						Max      int       `json:"max_results"`
						Entities []string  `json:"entities"`
						From     time.Time `json:"from"`
						To       time.Time `json:"to"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					if in.Max <= 0 {
						in.Max = 5
					}
					return tr.Search(in.Query, in.Max, transcript.Filter{Entities: in.Entities, From: in.From, To: in.To}), nil
				},
			},
			{
				Name:        "find_interactions",
				Description: "Turns in which two entities both take part.",
				Params: tools.Object(map[string]any{
					"entity_a": tools.String("first entity"),
					"entity_b": tools.String("second entity"),
					"type":     tools.Enum("interaction type", "dialogue", "combat", "action"),
				}, "entity_a", "entity_b"),
				Returns: tools.ArrayOf(tools.AnyObject("interaction"), "interactions"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return tr.FindInteractions(p.String("entity_a"), p.String("entity_b"), p.String("type"))
				},
			},
			{
				Name:        "extract_key_events",
				Description: "Important turns involving a character, most important first.",
				Params: tools.Object(map[string]any{
					"character":      tools.String("character name"),
					"min_importance": tools.Enum("threshold, default medium", "high", "medium", "low"),
				}, "character"),
				Returns: tools.ArrayOf(tools.AnyObject("event"), "events"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return tr.ExtractKeyEvents(p.String("character"), p.String("min_importance"))
				},
			},
			{
				Name:        "emotional_arc",
				Description: "Per-turn emotion samples and trend for a character.",
				Params:      tools.Object(map[string]any{"character": tools.String("character name")}, "character"),
				Returns:     tools.AnyObject("arc"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					return tr.EmotionalArc(p.String("character")), nil
				},
			},
			{
				Name:        "build_context",
				Description: "Research the transcript and synthesize a token-budgeted narrative context.",
				Params: tools.Object(map[string]any{
					"current_action": tools.String("the action being resolved"),
					"actors":         tools.ArrayOf(tools.String("actor name"), "characters in the scene"),
					"location":       tools.String("where the scene happens"),
					"max_tokens":     tools.Integer("token budget"),
					"importance":     tools.Enum("key event threshold", "high", "medium", "low"),
					"timeframe":      tools.Enum("how far back to look", "immediate", "recent", "extended"),
				}, "current_action"),
				Returns: tools.AnyObject("curated context"),
				Handler: func(ctx context.Context, p tools.Params) (any, error) {
					var in struct {
						Action     string   `json:"current_action"`
						Actors     []string `json:"actors"`
						Location   string   `json:"location"`
						MaxTokens  int      `json:"max_tokens"`
						Importance string   `json:"importance"`
						Timeframe  string   `json:"timeframe"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					return cur.Build(ctx, curator.Params{
						CurrentAction: in.Action,
						Actors:        in.Actors,
						Location:      in.Location,
						MaxTokens:     in.MaxTokens,
						Importance:    in.Importance,
						Timeframe:     in.Timeframe,
					})
				},
			},
			{
				Name:        "get_context",
				Description: "A cached curated context by id.",
				Params:      tools.Object(map[string]any{"id": tools.String("context id")}, "id"),
				Returns:     tools.AnyObject("curated context"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					id := p.String("id")
					c, ok := cur.Get(id)
					if !ok {
						return nil, protocol.NotFound("context %q", id)
					}
					return c, nil
				},
			},
			{
				Name:        "purge_context",
				Description: "Drop one cached context, or all of them when id is omitted. Call once per turn.",
				Params:      tools.Object(map[string]any{"id": tools.String("context id")}),
				Returns:     tools.AnyObject("purge result"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					n := cur.Purge(p.String("id"))
					return PurgeResult{Purged: n, Remaining: cur.Len()}, nil
				},
			},
			{
				Name:        "generate_summary",
				Description: "Plain-text digest of a turn range.",
				Params: tools.Object(map[string]any{
					"from_turn": tools.Integer("first turn, default oldest"),
					"to_turn":   tools.Integer("last turn, default newest"),
					"focus":     tools.Enum("what to emphasize", "plot", "character", "world", "all"),
				}),
				Returns: tools.AnyObject("summary"),
				Handler: func(_ context.Context, p tools.Params) (any, error) {
					var in struct {
						From  int    `json:"from_turn"`
						To    int    `json:"to_turn"`
						Focus string `json:"focus"`
					}
					if err := p.Decode(&in); err != nil {
						return nil, err
					}
					from, to, s, err := tr.SummarizeRange(in.From, in.To, in.Focus)
					if err != nil {
						return nil, err
					}
					return SummaryResult{FromTurn: from, ToTurn: to, Focus: in.Focus, Summary: s}, nil
				},
			},
		},
	}
}

func stateMap(s world.WorldState) map[string]any {
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
