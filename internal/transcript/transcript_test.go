package transcript

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"taleweave.ai/internal/protocol"
)

func testClock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return time.Date(2025, 1, 1, 12, 0, n, 0, time.UTC)
	}
}

func newTestTranscript(t *testing.T, opts Options) *Transcript {
	t.Helper()
	if opts.PlayerName == "" {
		opts.PlayerName = "hero"
	}
	if opts.Now == nil {
		opts.Now = testClock()
	}
	tr, err := Open(opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return tr
}

func record(t *testing.T, tr *Transcript, rec TurnRecord) TurnRecord {
	t.Helper()
	out, err := tr.Record(context.Background(), rec)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	return out
}

func grimwaldTurns() []TurnRecord {
	g := []string{"Grimwald"}
	return []TurnRecord{
		{PlayerAction: "look at Grimwald", Narrative: "The innkeeper polishes a mug.", NPCsInvolved: g},
		{PlayerAction: "greet Grimwald", Narrative: "He nods.", NPCsInvolved: g,
			Dialogue: []DialogueLine{{Speaker: "Grimwald", Text: "Welcome, traveller."}}},
		{PlayerAction: "attack Grimwald", Narrative: "Steel rings out.", NPCsInvolved: g,
			MechanicalResults: []MechanicalResult{{Type: "attack", Description: "hit for 4"}}},
		{PlayerAction: "wait", Narrative: "Grimwald sulks behind the bar.", NPCsInvolved: g},
		{PlayerAction: "pay Grimwald", Narrative: "Coins change hands.", NPCsInvolved: g,
			StateChanges: []StateChange{{Target: "grimwald", Field: "mood", Value: "grateful"}}},
	}
}

func TestRecord_AssignsTurnNumbers(t *testing.T) {
	tr := newTestTranscript(t, Options{})
	for i, rec := range grimwaldTurns() {
		got := record(t, tr, rec)
		if got.TurnNumber != i+1 {
			t.Fatalf("turn %d: got number %d", i, got.TurnNumber)
		}
		if got.ID == "" || got.Timestamp.IsZero() {
			t.Fatalf("turn %d: missing id or timestamp: %+v", i, got)
		}
	}
	if _, err := tr.Record(context.Background(), TurnRecord{}); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error for empty turn, got %v", err)
	}
	if tr.Len() != 5 {
		t.Fatalf("len=%d want 5", tr.Len())
	}
}

func TestRecord_EvictsOldestAndKeepsNumbering(t *testing.T) {
	tr := newTestTranscript(t, Options{MaxTurns: 10})
	for i := 0; i < 25; i++ {
		record(t, tr, TurnRecord{PlayerAction: "wait"})
	}
	turns := tr.Turns()
	if len(turns) != 10 {
		t.Fatalf("retained %d turns, want 10", len(turns))
	}
	for i, r := range turns {
		if want := 16 + i; r.TurnNumber != want {
			t.Fatalf("turns[%d].TurnNumber=%d want %d", i, r.TurnNumber, want)
		}
	}
	if _, ok := tr.Turn(1); ok {
		t.Fatalf("turn 1 should be evicted")
	}
	if got := record(t, tr, TurnRecord{PlayerAction: "wait"}); got.TurnNumber != 26 {
		t.Fatalf("next turn=%d want 26", got.TurnNumber)
	}
}

func TestExtractKeyEvents_Grimwald(t *testing.T) {
	tr := newTestTranscript(t, Options{})
	for _, rec := range grimwaldTurns() {
		record(t, tr, rec)
	}
	events, err := tr.ExtractKeyEvents("Grimwald", ImportanceMedium)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	got := map[int]bool{}
	for _, e := range events {
		got[e.TurnNumber] = true
	}
	if !got[3] {
		t.Fatalf("turn 3 missing from key events: %+v", events)
	}
	for _, quiet := range []int{1, 4} {
		if got[quiet] {
			t.Fatalf("turn %d has no signal but was returned", quiet)
		}
	}
	if diff := cmp.Diff([]string{"combat"}, events[0].Signals); diff != "" {
		t.Fatalf("signals mismatch (-want +got):\n%s", diff)
	}

	low, _ := tr.ExtractKeyEvents("grimwald", ImportanceLow)
	if len(low) != 2 || low[0].TurnNumber != 3 || low[1].TurnNumber != 5 {
		t.Fatalf("low threshold returned %+v, want turns 3 and 5", low)
	}
	for i := 1; i < len(low); i++ {
		if low[i].Importance > low[i-1].Importance {
			t.Fatalf("events not sorted by importance: %+v", low)
		}
	}
	if _, err := tr.ExtractKeyEvents("Grimwald", "urgent"); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error for bad level, got %v", err)
	}
}

func TestSearch_Tavern(t *testing.T) {
	tr := newTestTranscript(t, Options{})
	for i := 1; i <= 8; i++ {
		n := "The road stretches on."
		switch i {
		case 2:
			n = "You push open the tavern door."
		case 7:
			n = "Smoke curls from the Tavern chimney."
		}
		record(t, tr, TurnRecord{PlayerAction: "walk", Narrative: n})
	}
	chunks := tr.Search("tavern", 5, Filter{})
	var nums []int
	for _, c := range chunks {
		nums = append(nums, c.TurnNumber)
		if c.Relevance != 1 || c.Importance != ImportanceHigh {
			t.Fatalf("unexpected scoring: %+v", c)
		}
	}
	if diff := cmp.Diff([]int{2, 7}, nums); diff != "" {
		t.Fatalf("search results mismatch (-want +got):\n%s", diff)
	}
	if got := tr.Search("dragon", 5, Filter{}); len(got) != 0 {
		t.Fatalf("expected no results, got %+v", got)
	}
	if got := tr.Search("tavern", 1, Filter{}); len(got) != 1 || got[0].TurnNumber != 2 {
		t.Fatalf("truncation: %+v", got)
	}
}

func TestSearch_Filters(t *testing.T) {
	tr := newTestTranscript(t, Options{})
	a := record(t, tr, TurnRecord{PlayerAction: "ask Mira about the key", Narrative: "Mira shrugs.", NPCsInvolved: []string{"Mira"}})
	b := record(t, tr, TurnRecord{PlayerAction: "ask Grimwald about the key", Narrative: "He points down.", NPCsInvolved: []string{"Grimwald"}})

	got := tr.Search("key", 10, Filter{Entities: []string{"grimwald"}})
	if len(got) != 1 || got[0].TurnNumber != b.TurnNumber {
		t.Fatalf("entity filter: %+v", got)
	}
	got = tr.Search("key", 10, Filter{From: a.Timestamp, To: a.Timestamp})
	if len(got) != 1 || got[0].TurnNumber != a.TurnNumber {
		t.Fatalf("time filter: %+v", got)
	}
}

func TestExtractKeyEvents_BareCombatIsMedium(t *testing.T) {
	tr := newTestTranscript(t, Options{})
	for i := 1; i <= 5; i++ {
		rec := TurnRecord{PlayerAction: "watch Grimwald", Narrative: "Time passes.", NPCsInvolved: []string{"Grimwald"}}
		if i == 3 {
			rec.MechanicalResults = []MechanicalResult{{Type: "combat"}}
		}
		record(t, tr, rec)
	}
	events, err := tr.ExtractKeyEvents("Grimwald", ImportanceMedium)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(events) != 1 || events[0].TurnNumber != 3 {
		t.Fatalf("events=%+v want only turn 3", events)
	}
	if got := tr.Importance(tr.Recent(3)[0]); got != 0.6 {
		t.Fatalf("combat importance=%v want 0.6", got)
	}
}

func TestFindInteractions(t *testing.T) {
	tr := newTestTranscript(t, Options{})
	for _, rec := range grimwaldTurns() {
		record(t, tr, rec)
	}
	record(t, tr, TurnRecord{PlayerAction: "talk to Mira", NPCsInvolved: []string{"Mira"}})

	all, err := tr.FindInteractions("hero", "Grimwald", "")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("got %d interactions, want 5", len(all))
	}
	if all[1].Type != InteractionDialogue || all[2].Type != InteractionCombat || all[0].Type != InteractionAction {
		t.Fatalf("bad classification: %+v", all)
	}
	combat, _ := tr.FindInteractions("Grimwald", "hero", InteractionCombat)
	if len(combat) != 1 || combat[0].TurnNumber != 3 {
		t.Fatalf("combat filter: %+v", combat)
	}
	none, _ := tr.FindInteractions("Mira", "Grimwald", "")
	if len(none) != 0 {
		t.Fatalf("Mira and Grimwald never met: %+v", none)
	}
}

func TestEmotionScorer(t *testing.T) {
	s := DefaultEmotionScorer()
	cases := []struct {
		text, mood, want string
	}{
		{"Grimwald snarls and glares at you.", "", "anger"},
		{"She smiles, then gasps.", "", "joy"},
		{"Nothing happens.", "tense", "fear"},
		{"He was crying.", "", EmotionNeutral},
		{"", "", EmotionNeutral},
	}
	for _, c := range cases {
		if got := s.Emotion(c.text, c.mood); got != c.want {
			t.Errorf("Emotion(%q, %q)=%q want %q", c.text, c.mood, got, c.want)
		}
	}
}

func TestEmotionalArc(t *testing.T) {
	rising := newTestTranscript(t, Options{})
	for _, n := range []string{"Grimwald gasps at the door.", "The room falls quiet around Grimwald.", "Grimwald is thrilled by the news."} {
		record(t, rising, TurnRecord{PlayerAction: "watch", Narrative: n, NPCsInvolved: []string{"Grimwald"}})
	}
	arc := rising.EmotionalArc("Grimwald")
	if arc.Trend != TrendRising || arc.Current != "excitement" || len(arc.Samples) != 3 {
		t.Fatalf("rising arc: %+v", arc)
	}

	chaotic := newTestTranscript(t, Options{})
	for _, n := range []string{"Grimwald snarls.", "Grimwald smiles.", "Grimwald snarls."} {
		record(t, chaotic, TurnRecord{PlayerAction: "watch", Narrative: n, NPCsInvolved: []string{"Grimwald"}})
	}
	if arc := chaotic.EmotionalArc("Grimwald"); arc.Trend != TrendChaotic {
		t.Fatalf("chaotic arc: %+v", arc)
	}

	if arc := chaotic.EmotionalArc("Mira"); len(arc.Samples) != 0 || arc.Current != EmotionNeutral || arc.Trend != TrendStable {
		t.Fatalf("empty arc: %+v", arc)
	}
}

func TestGenerateSummary(t *testing.T) {
	tr := newTestTranscript(t, Options{})
	for _, rec := range grimwaldTurns() {
		record(t, tr, rec)
	}
	plot, err := tr.GenerateSummary(1, 5, FocusPlot)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !strings.Contains(plot, "Turn 3:") || !strings.Contains(plot, "Turn 5:") || strings.Contains(plot, "Turn 1:") {
		t.Fatalf("plot summary:\n%s", plot)
	}
	world, _ := tr.GenerateSummary(0, 0, FocusWorld)
	if !strings.Contains(world, "grimwald.mood = grateful") {
		t.Fatalf("world summary:\n%s", world)
	}
	chars, _ := tr.GenerateSummary(2, 4, FocusCharacter)
	if !strings.Contains(chars, "Grimwald: 3 turns (2, 3, 4)") {
		t.Fatalf("character summary:\n%s", chars)
	}
	if _, err := tr.GenerateSummary(4, 2, ""); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPersistence_ReloadContinuesNumbering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl.zst")
	tr := newTestTranscript(t, Options{Path: path, PersistEvery: 3})
	for _, rec := range grimwaldTurns()[:3] {
		record(t, tr, rec)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file after 3 turns: %v", err)
	}
	record(t, tr, grimwaldTurns()[3])
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again := newTestTranscript(t, Options{Path: path})
	if diff := cmp.Diff(tr.Turns(), again.Turns()); diff != "" {
		t.Fatalf("reloaded turns differ (-want +got):\n%s", diff)
	}
	if got := record(t, again, TurnRecord{PlayerAction: "leave"}); got.TurnNumber != 5 {
		t.Fatalf("next turn after reload=%d want 5", got.TurnNumber)
	}
}

func TestFlush_TurnRecordedDuringWriteStaysDirty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl.zst")
	tr := newTestTranscript(t, Options{Path: path, PersistEvery: 100})
	record(t, tr, TurnRecord{PlayerAction: "look"})

	tr.afterSnapshot = func() {
		tr.afterSnapshot = nil
		record(t, tr, TurnRecord{PlayerAction: "wait"})
	}
	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n := len(newTestTranscript(t, Options{Path: path}).Turns()); n != 1 {
		t.Fatalf("first flush wrote %d turns want 1", n)
	}
	tr.mu.RLock()
	dirty, since := tr.dirty, tr.sinceFlush
	tr.mu.RUnlock()
	if !dirty || since != 1 {
		t.Fatalf("dirty=%v sinceFlush=%d want true 1", dirty, since)
	}

	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	again := newTestTranscript(t, Options{Path: path})
	if diff := cmp.Diff(tr.Turns(), again.Turns()); diff != "" {
		t.Fatalf("reloaded turns differ (-want +got):\n%s", diff)
	}
}

func TestPersistence_FailureDoesNotFailRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocked", "transcript.jsonl.zst")
	tr := newTestTranscript(t, Options{Path: path, PersistEvery: 1})
	if err := os.WriteFile(filepath.Join(dir, "blocked"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	record(t, tr, TurnRecord{PlayerAction: "wait"})
	if err := tr.Flush(context.Background()); !errors.Is(err, protocol.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}
