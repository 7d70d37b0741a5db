package orchestrator

import (
	"context"

	"taleweave.ai/internal/protocol"
)

const (
	KindRoom      = "room"
	KindCharacter = "character"
	KindTurn      = "turn"
)

const recentTurnsInBundle = 3

// slot names where one call's result lands in an assembled bundle.
type slot struct {
	key  string
	call protocol.ToolCall
}

func roomSlots(room string) []slot {
	p := map[string]any{"room_id": room}
	return []slot{
		{"room", protocol.ToolCall{Subsystem: "content", Operation: "get_room", Params: p}},
		{"connected_rooms", protocol.ToolCall{Subsystem: "content", Operation: "get_connected_rooms", Params: p}},
		{"environment", protocol.ToolCall{Subsystem: "content", Operation: "get_environment", Params: p}},
		{"items", protocol.ToolCall{Subsystem: "world", Operation: "list_room_items", Params: p}},
		{"npcs", protocol.ToolCall{Subsystem: "world", Operation: "list_room_npcs", Params: p}},
	}
}

func (o *Orchestrator) characterSlots(id, name string) []slot {
	if name == "" {
		name = id
	}
	return []slot{
		{"sheet", protocol.ToolCall{Subsystem: "character", Operation: "get_sheet", Params: map[string]any{"character_id": id}}},
		{"interactions", protocol.ToolCall{Subsystem: "narrative", Operation: "find_interactions", Params: map[string]any{
			"entity_a": o.opts.PlayerName, "entity_b": name,
		}}},
		{"emotional_arc", protocol.ToolCall{Subsystem: "narrative", Operation: "emotional_arc", Params: map[string]any{"character": name}}},
		{"key_events", protocol.ToolCall{Subsystem: "narrative", Operation: "extract_key_events", Params: map[string]any{"character": name}}},
	}
}

// AssembleContext gathers the calls that make up kind into one object.
// Per-call failures are carried in Errors; only an unknown kind or missing
// bundle parameter fails the whole assembly.
func (o *Orchestrator) AssembleContext(ctx context.Context, kind string, params map[string]any) (protocol.Assembly, error) {
	str := func(k string) string {
		s, _ := params[k].(string)
		return s
	}
	out := protocol.Assembly{Kind: kind, Data: map[string]any{}}
	switch kind {
	case KindRoom:
		room := str("room_id")
		if room == "" {
			return protocol.Assembly{}, protocol.Validation("missing required parameter: room_id")
		}
		o.fill(ctx, &out, roomSlots(room), 0)
	case KindCharacter:
		id := str("character_id")
		if id == "" {
			return protocol.Assembly{}, protocol.Validation("missing required parameter: character_id")
		}
		o.fill(ctx, &out, o.characterSlots(id, str("name")), 0)
	case KindTurn:
		o.fill(ctx, &out, []slot{
			{"state", protocol.ToolCall{Subsystem: "world", Operation: "get_state", Params: map[string]any{}}},
			{"recent_turns", protocol.ToolCall{Subsystem: "narrative", Operation: "recent_turns", Params: map[string]any{"limit": recentTurnsInBundle}}},
		}, 0)
		room := stringField(out.Data["state"], "currentRoom")
		if room == "" {
			break
		}
		nested := protocol.Assembly{Kind: KindRoom, Data: map[string]any{}}
		o.fill(ctx, &nested, roomSlots(room), 2)
		out.Data["room"] = nested.Data
		out.Errors = append(out.Errors, nested.Errors...)
	default:
		return protocol.Assembly{}, protocol.Validation("unknown context kind %q", kind)
	}
	return out, nil
}

// fill runs slots as one batch; offset shifts error indexes when a bundle is
// built from more than one batch.
func (o *Orchestrator) fill(ctx context.Context, out *protocol.Assembly, slots []slot, offset int) {
	calls := make([]protocol.ToolCall, len(slots))
	for i, s := range slots {
		calls[i] = s.call
	}
	res := o.ExecuteBatch(ctx, calls)
	failed := map[int]bool{}
	for _, e := range res.Errors {
		failed[e.Index] = true
		e.Index += offset
		out.Errors = append(out.Errors, e)
	}
	for i, s := range slots {
		if !failed[i] {
			out.Data[s.key] = res.Results[i]
		}
	}
}
