// Package transcript is the append-only play log. It answers retrieval
// queries over past turns (search, interactions, key events, emotional arcs,
// summaries) and persists itself periodically.
package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
)

const (
	DefaultMaxTurns     = 1000
	DefaultPersistEvery = 10
)

type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// MechanicalResult is one resolved roll; Type is "combat", "attack",
// "damage", "check" or "roll".
type MechanicalResult struct {
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

type StateChange struct {
	Target string `json:"target"`
	Field  string `json:"field"`
	Value  any    `json:"value,omitempty"`
}

// TurnRecord is immutable once recorded. TurnNumber is 1-based and assigned
// by the transcript.
type TurnRecord struct {
	ID                string             `json:"id"`
	Timestamp         time.Time          `json:"timestamp"`
	TurnNumber        int                `json:"turnNumber"`
	PlayerAction      string             `json:"playerAction"`
	WorldState        map[string]any     `json:"worldState,omitempty"`
	NPCsInvolved      []string           `json:"npcsInvolved"`
	MechanicalResults []MechanicalResult `json:"mechanicalResults,omitempty"`
	Narrative         string             `json:"narrative"`
	Dialogue          []DialogueLine     `json:"dialogue,omitempty"`
	StateChanges      []StateChange      `json:"stateChanges,omitempty"`
	Mood              string             `json:"mood,omitempty"`
}

func (r TurnRecord) HasCombat() bool {
	for _, m := range r.MechanicalResults {
		switch strings.ToLower(m.Type) {
		case "combat", "attack", "damage":
			return true
		}
	}
	return false
}

func (r TurnRecord) HasDialogue() bool {
	for _, d := range r.Dialogue {
		if strings.TrimSpace(d.Text) != "" {
			return true
		}
	}
	return false
}

func (r TurnRecord) HasStateChanges() bool { return len(r.StateChanges) > 0 }

// Text is the searchable body: narrative, dialogue and action.
func (r TurnRecord) Text() string {
	var b strings.Builder
	b.WriteString(r.Narrative)
	for _, d := range r.Dialogue {
		b.WriteByte(' ')
		b.WriteString(d.Speaker)
		b.WriteString(": ")
		b.WriteString(d.Text)
	}
	b.WriteByte(' ')
	b.WriteString(r.PlayerAction)
	return b.String()
}

type Options struct {
	MaxTurns     int
	PersistEvery int
	// Path of the durable file; empty disables persistence.
	Path       string
	PlayerName string
	Logger     *zap.Logger
	Now        func() time.Time
	Emotions   EmotionScorer
	Importance ImportanceScorer
}

type Transcript struct {
	opts Options
	log  *zap.Logger

	// flushMu orders writers so an older copy never replaces a newer file.
	flushMu sync.Mutex

	mu         sync.RWMutex
	turns      []TurnRecord
	nextTurn   int
	sinceFlush int
	dirty      bool

	// afterSnapshot runs between copying turns and writing them; tests only.
	afterSnapshot func()
}

// Open builds a transcript and loads the durable file if one exists, so
// turn numbering continues across restarts.
func Open(opts Options) (*Transcript, error) {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.PersistEvery <= 0 {
		opts.PersistEvery = DefaultPersistEvery
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Emotions == nil {
		opts.Emotions = DefaultEmotionScorer()
	}
	if opts.Importance == nil {
		opts.Importance = HeuristicImportance{}
	}
	t := &Transcript{opts: opts, log: opts.Logger, nextTurn: 1}
	if opts.Path != "" {
		turns, err := readFile(opts.Path)
		if err != nil {
			return nil, protocol.Persistence("load transcript", err)
		}
		if len(turns) > 0 {
			t.turns = turns
			t.nextTurn = turns[len(turns)-1].TurnNumber + 1
			t.evictLocked()
			t.log.Info("transcript: loaded", zap.Int("turns", len(t.turns)), zap.Int("next_turn", t.nextTurn))
		}
	}
	return t, nil
}

func (t *Transcript) PlayerName() string { return t.opts.PlayerName }

// Record appends rec with the next turn number. Every PersistEvery turns the
// transcript is written out; a failed write is logged and retried on the
// next flush rather than failing the turn.
func (t *Transcript) Record(ctx context.Context, rec TurnRecord) (TurnRecord, error) {
	if strings.TrimSpace(rec.PlayerAction) == "" && strings.TrimSpace(rec.Narrative) == "" {
		return TurnRecord{}, protocol.Validation("turn needs a player action or narrative")
	}
	t.mu.Lock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.opts.Now().UTC()
	}
	if rec.NPCsInvolved == nil {
		rec.NPCsInvolved = []string{}
	}
	rec.TurnNumber = t.nextTurn
	t.nextTurn++
	t.turns = append(t.turns, rec)
	t.evictLocked()
	t.dirty = true
	t.sinceFlush++
	due := t.opts.Path != "" && t.sinceFlush >= t.opts.PersistEvery
	t.mu.Unlock()

	if due {
		if err := t.Flush(ctx); err != nil {
			t.log.Error("transcript: persist failed", zap.Int("turn", rec.TurnNumber), zap.Error(err))
		}
	}
	return rec, nil
}

func (t *Transcript) evictLocked() {
	over := len(t.turns) - t.opts.MaxTurns
	if over <= 0 {
		return
	}
	t.turns = append([]TurnRecord(nil), t.turns[over:]...)
	t.log.Info("transcript: evicted oldest turns",
		zap.Int("evicted", over),
		zap.Int("retained", len(t.turns)),
		zap.Int("oldest_turn", t.turns[0].TurnNumber))
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns)
}

// Recent returns the last n turns, oldest first.
func (t *Transcript) Recent(n int) []TurnRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > len(t.turns) {
		n = len(t.turns)
	}
	return append([]TurnRecord(nil), t.turns[len(t.turns)-n:]...)
}

// Turns returns a copy of every retained turn.
func (t *Transcript) Turns() []TurnRecord {
	return t.Recent(0)
}

func (t *Transcript) Turn(number int) (TurnRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.turns {
		if r.TurnNumber == number {
			return r, true
		}
	}
	return TurnRecord{}, false
}
