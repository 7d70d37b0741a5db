package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"taleweave.ai/internal/protocol"
)

const (
	ImportanceHigh   = "high"
	ImportanceMedium = "medium"
	ImportanceLow    = "low"
)

// ImportanceThreshold maps a bucket name to the score a turn must exceed.
func ImportanceThreshold(level string) (float64, error) {
	switch strings.ToLower(level) {
	case ImportanceHigh:
		return 0.7, nil
	case ImportanceMedium, "":
		return 0.4, nil
	case ImportanceLow:
		return 0.2, nil
	}
	return 0, protocol.Validation("unknown importance level %q", level)
}

func bucket(score float64) string {
	switch {
	case score > 0.7:
		return ImportanceHigh
	case score > 0.4:
		return ImportanceMedium
	}
	return ImportanceLow
}

// ContextChunk is a turn excerpt produced at query time; it is never stored.
type ContextChunk struct {
	Content    string    `json:"content"`
	Relevance  float64   `json:"relevance"`
	Timestamp  time.Time `json:"timestamp"`
	TurnNumber int       `json:"turnNumber"`
	Entities   []string  `json:"entities"`
	Importance string    `json:"importance"`
}

// Filter narrows a search. Zero values disable each part; From and To are
// inclusive.
type Filter struct {
	Entities []string
	From     time.Time
	To       time.Time
}

func (f Filter) pass(r TurnRecord) bool {
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	if len(f.Entities) == 0 {
		return true
	}
	for _, e := range f.Entities {
		if mentions(r, e) {
			return true
		}
	}
	return false
}

// mentions reports whether name appears in the involved NPCs or the action.
func mentions(r TurnRecord, name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	for _, npc := range r.NPCsInvolved {
		if strings.Contains(strings.ToLower(npc), n) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(r.PlayerAction), n)
}

// involves is mentions plus the player, who takes part in every turn.
func (t *Transcript) involves(r TurnRecord, name string) bool {
	if p := strings.TrimSpace(t.opts.PlayerName); p != "" && strings.EqualFold(p, strings.TrimSpace(name)) {
		return true
	}
	return mentions(r, name)
}

func chunkOf(r TurnRecord, relevance float64) ContextChunk {
	return ContextChunk{
		Content:    describe(r),
		Relevance:  relevance,
		Timestamp:  r.Timestamp,
		TurnNumber: r.TurnNumber,
		Entities:   append([]string{}, r.NPCsInvolved...),
		Importance: bucket(relevance),
	}
}

func describe(r TurnRecord) string {
	switch {
	case r.PlayerAction == "":
		return fmt.Sprintf("Turn %d: %s", r.TurnNumber, r.Narrative)
	case r.Narrative == "":
		return fmt.Sprintf("Turn %d: %s", r.TurnNumber, r.PlayerAction)
	}
	return fmt.Sprintf("Turn %d: %s. %s", r.TurnNumber, r.PlayerAction, r.Narrative)
}

// Search scans every retained turn for query as a case-insensitive substring
// of its narrative, dialogue and action. Relevance is the fraction of query
// words present; ties keep turn order.
func (t *Transcript) Search(query string, maxResults int, f Filter) []ContextChunk {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []ContextChunk{}
	if q == "" {
		return out
	}
	words := strings.Fields(q)
	for _, r := range t.Turns() {
		if !f.pass(r) {
			continue
		}
		text := strings.ToLower(r.Text())
		if !strings.Contains(text, q) {
			continue
		}
		hit := 0
		for _, w := range words {
			if strings.Contains(text, w) {
				hit++
			}
		}
		out = append(out, chunkOf(r, float64(hit)/float64(len(words))))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

const (
	InteractionDialogue = "dialogue"
	InteractionCombat   = "combat"
	InteractionAction   = "action"
)

type Interaction struct {
	TurnNumber int       `json:"turnNumber"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	Action     string    `json:"action"`
	Narrative  string    `json:"narrative"`
	Entities   []string  `json:"entities"`
}

// FindInteractions returns turns where both a and b take part, oldest
// first. kind, when set, keeps only that interaction type.
func (t *Transcript) FindInteractions(a, b, kind string) ([]Interaction, error) {
	switch kind {
	case "", InteractionDialogue, InteractionCombat, InteractionAction:
	default:
		return nil, protocol.Validation("unknown interaction type %q", kind)
	}
	out := []Interaction{}
	for _, r := range t.Turns() {
		if !t.involves(r, a) || !t.involves(r, b) {
			continue
		}
		typ := InteractionAction
		switch {
		case r.HasDialogue():
			typ = InteractionDialogue
		case r.HasCombat():
			typ = InteractionCombat
		}
		if kind != "" && kind != typ {
			continue
		}
		out = append(out, Interaction{
			TurnNumber: r.TurnNumber,
			Timestamp:  r.Timestamp,
			Type:       typ,
			Action:     r.PlayerAction,
			Narrative:  r.Narrative,
			Entities:   append([]string{}, r.NPCsInvolved...),
		})
	}
	return out, nil
}

type KeyEvent struct {
	TurnNumber  int       `json:"turnNumber"`
	Timestamp   time.Time `json:"timestamp"`
	Importance  float64   `json:"importance"`
	Description string    `json:"description"`
	Signals     []string  `json:"signals"`
}

// Importance scores one turn with the configured scorer.
func (t *Transcript) Importance(r TurnRecord) float64 {
	return t.opts.Importance.Importance(r)
}

// ExtractKeyEvents returns the turns involving character whose importance
// exceeds the threshold for minImportance, most important first.
func (t *Transcript) ExtractKeyEvents(character, minImportance string) ([]KeyEvent, error) {
	threshold, err := ImportanceThreshold(minImportance)
	if err != nil {
		return nil, err
	}
	out := []KeyEvent{}
	for _, r := range t.Turns() {
		if !t.involves(r, character) {
			continue
		}
		score := t.Importance(r)
		if score <= threshold {
			continue
		}
		out = append(out, KeyEvent{
			TurnNumber:  r.TurnNumber,
			Timestamp:   r.Timestamp,
			Importance:  score,
			Description: describe(r),
			Signals:     signals(r),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Importance > out[j].Importance })
	return out, nil
}

func signals(r TurnRecord) []string {
	s := []string{}
	if r.HasCombat() {
		s = append(s, "combat")
	}
	if r.HasDialogue() {
		s = append(s, "dialogue")
	}
	if m := strings.ToLower(r.Mood); m == "tense" || m == "dramatic" {
		s = append(s, "mood:"+m)
	}
	if r.HasStateChanges() {
		s = append(s, "state_change")
	}
	return s
}
