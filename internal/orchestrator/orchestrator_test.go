package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/runtime"
)

type fakeInvoker struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	data  map[string]any
}

func (f *fakeInvoker) Invoke(_ context.Context, sub, op string, params map[string]any) (any, error) {
	name := sub + "." + op
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	if v, ok := f.data[name]; ok {
		return v, nil
	}
	return map[string]any{"op": name, "params": params}, nil
}

func TestExecuteBatch_IsolatesFailures(t *testing.T) {
	inv := &fakeInvoker{fail: map[string]error{
		"world.move_entity": protocol.NotFound("room %q", "void"),
		"bogus.op":          protocol.UnknownOperation("bogus", "op"),
	}}
	var events []protocol.StatusEvent
	o := New(inv, Options{Observer: func(ev protocol.StatusEvent) { events = append(events, ev) }})

	res := o.ExecuteBatch(context.Background(), []protocol.ToolCall{
		{Subsystem: "content", Operation: "get_room"},
		{Subsystem: "world", Operation: "move_entity"},
		{Subsystem: "bogus", Operation: "op"},
		{Subsystem: "mechanics", Operation: "roll"},
	})
	if len(res.Results) != 4 || res.Results[0] == nil || res.Results[3] == nil {
		t.Fatalf("results: %+v", res.Results)
	}
	if res.Results[1] != nil || res.Results[2] != nil {
		t.Fatalf("failed slots should be nil: %+v", res.Results)
	}
	want := []protocol.CallError{
		{Index: 1, Subsystem: "world", Operation: "move_entity", Code: protocol.ErrCodeNotFound, Error: res.Errors[0].Error},
		{Index: 2, Subsystem: "bogus", Operation: "op", Code: protocol.ErrCodeUnknownOperation, Error: res.Errors[1].Error},
	}
	if diff := cmp.Diff(want, res.Errors); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}

	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	wantKinds := []string{
		protocol.StatusToolStarted, protocol.StatusToolFinished,
		protocol.StatusToolStarted, protocol.StatusToolFailed,
		protocol.StatusToolStarted, protocol.StatusToolFailed,
		protocol.StatusToolStarted, protocol.StatusToolFinished,
		protocol.StatusBatchFinished,
	}
	if diff := cmp.Diff(wantKinds, kinds); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteTool_ThroughQueue(t *testing.T) {
	q := runtime.NewQueue(nil)
	defer q.Close()
	o := New(&fakeInvoker{}, Options{Queue: q})
	res, err := o.ExecuteTool(context.Background(), protocol.ToolCall{Subsystem: "world", Operation: "get_state"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stringField(res, "op") != "world.get_state" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAssembleContext_Room(t *testing.T) {
	inv := &fakeInvoker{fail: map[string]error{"content.get_environment": protocol.NotFound("no environment")}}
	o := New(inv, Options{})
	got, err := o.AssembleContext(context.Background(), KindRoom, map[string]any{"room_id": "tavern"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	for _, k := range []string{"room", "connected_rooms", "items", "npcs"} {
		if _, ok := got.Data[k]; !ok {
			t.Errorf("missing %s", k)
		}
	}
	if _, ok := got.Data["environment"]; ok {
		t.Errorf("failed call should not populate data")
	}
	if len(got.Errors) != 1 || got.Errors[0].Operation != "get_environment" {
		t.Fatalf("errors: %+v", got.Errors)
	}
}

func TestAssembleContext_Character(t *testing.T) {
	inv := &fakeInvoker{}
	o := New(inv, Options{PlayerName: "hero"})
	got, err := o.AssembleContext(context.Background(), KindCharacter, map[string]any{"character_id": "grimwald", "name": "Grimwald"})
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	wantCalls := []string{"character.get_sheet", "narrative.find_interactions", "narrative.emotional_arc", "narrative.extract_key_events"}
	if diff := cmp.Diff(wantCalls, inv.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	inter := got.Data["interactions"].(map[string]any)["params"].(map[string]any)
	if inter["entity_a"] != "hero" || inter["entity_b"] != "Grimwald" {
		t.Fatalf("interaction params: %+v", inter)
	}
}

func TestAssembleContext_TurnIncludesCurrentRoom(t *testing.T) {
	inv := &fakeInvoker{
		data: map[string]any{"world.get_state": map[string]any{"currentRoom": "cellar"}},
		fail: map[string]error{"world.list_room_npcs": errors.New("boom")},
	}
	o := New(inv, Options{})
	got, err := o.AssembleContext(context.Background(), KindTurn, nil)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	room, ok := got.Data["room"].(map[string]any)
	if !ok {
		t.Fatalf("room bundle missing: %+v", got.Data)
	}
	params := room["room"].(map[string]any)["params"].(map[string]any)
	if params["room_id"] != "cellar" {
		t.Fatalf("room bundle for wrong room: %+v", params)
	}
	if len(got.Errors) != 1 || got.Errors[0].Index != 6 || got.Errors[0].Code != protocol.ErrCodeInternal {
		t.Fatalf("errors: %+v", got.Errors)
	}
}

func TestAssembleContext_Validation(t *testing.T) {
	o := New(&fakeInvoker{}, Options{})
	if _, err := o.AssembleContext(context.Background(), "weather", nil); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("unknown kind: %v", err)
	}
	if _, err := o.AssembleContext(context.Background(), KindRoom, map[string]any{}); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("missing room: %v", err)
	}
}
