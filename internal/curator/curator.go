// Package curator builds the per-turn narrative context from the transcript
// and discards it once the turn is over.
package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/orsinium-labs/stopwords"
	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
	"taleweave.ai/internal/transcript"
)

const (
	DefaultCacheCeiling = 50
	DefaultMaxTokens    = 2000
)

const (
	TimeframeImmediate = "immediate"
	TimeframeRecent    = "recent"
	TimeframeExtended  = "extended"
)

var timeframeTurns = map[string]int{
	TimeframeImmediate: 3,
	TimeframeRecent:    10,
	TimeframeExtended:  20,
}

const (
	immediateTurns       = 3
	interactionsPerActor = 5
	historyLimit         = 5
	keyEventsPerActor    = 3
	searchLimit          = 10
	mechanicsLimit       = 3
	minKeywordLen        = 3
)

const DefaultMechanics = "standard rules apply"

type Params struct {
	CurrentAction string   `json:"currentAction"`
	Actors        []string `json:"actors,omitempty"`
	Location      string   `json:"location,omitempty"`
	MaxTokens     int      `json:"maxTokens,omitempty"`
	Importance    string   `json:"importance,omitempty"`
	Timeframe     string   `json:"timeframe,omitempty"`
}

// Context is the curated narrative context for one turn.
type Context struct {
	ID                     string            `json:"id"`
	ImmediateSituation     []string          `json:"immediateSituation"`
	RelevantHistory        []string          `json:"relevantHistory"`
	CharacterStates        map[string]string `json:"characterStates"`
	WorldContext           string            `json:"worldContext"`
	MechanicalRequirements []string          `json:"mechanicalRequirements"`
	NarrativeTone          string            `json:"narrativeTone"`
	Timestamp              time.Time         `json:"timestamp"`
	TokenCount             int               `json:"tokenCount"`
}

type Options struct {
	CacheCeiling     int
	DefaultMaxTokens int
	Logger           *zap.Logger
	Now              func() time.Time
}

type Curator struct {
	tr    *transcript.Transcript
	opts  Options
	log   *zap.Logger
	stops *stopwords.Stopwords

	mu    sync.Mutex
	cache map[string]Context
	order []string
}

func New(tr *transcript.Transcript, opts Options) *Curator {
	if opts.CacheCeiling <= 0 {
		opts.CacheCeiling = DefaultCacheCeiling
	}
	if opts.DefaultMaxTokens <= 0 {
		opts.DefaultMaxTokens = DefaultMaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Curator{
		tr:    tr,
		opts:  opts,
		log:   opts.Logger,
		stops: stopwords.MustGet("en"),
		cache: map[string]Context{},
	}
}

// research is everything gathered from the transcript before synthesis.
type research struct {
	recent       []transcript.TurnRecord
	interactions map[string][]transcript.Interaction
	arcs         map[string]transcript.Arc
	keyEvents    map[string][]transcript.KeyEvent
	chunks       []transcript.ContextChunk
	actionChunks []transcript.ContextChunk
}

// Build runs research then synthesis, trims the result to the token budget
// and caches it under a fresh id.
func (c *Curator) Build(ctx context.Context, p Params) (Context, error) {
	if err := ctx.Err(); err != nil {
		return Context{}, err
	}
	if strings.TrimSpace(p.CurrentAction) == "" {
		return Context{}, protocol.Validation("missing required parameter: currentAction")
	}
	if p.Timeframe == "" {
		p.Timeframe = TimeframeRecent
	}
	if _, ok := timeframeTurns[p.Timeframe]; !ok {
		return Context{}, protocol.Validation("unknown timeframe %q", p.Timeframe)
	}
	if _, err := transcript.ImportanceThreshold(p.Importance); err != nil {
		return Context{}, err
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = c.opts.DefaultMaxTokens
	}

	r, err := c.research(p)
	if err != nil {
		return Context{}, err
	}
	out := c.synthesize(p, r)
	out.ID = uuid.NewString()
	out.Timestamp = c.opts.Now().UTC()
	fit(&out, p.MaxTokens)

	c.store(out)
	c.log.Debug("curator: context built",
		zap.String("id", out.ID),
		zap.Int("tokens", out.TokenCount),
		zap.Int("history", len(out.RelevantHistory)))
	return out, nil
}

func (c *Curator) research(p Params) (research, error) {
	r := research{
		recent:       c.tr.Recent(timeframeTurns[p.Timeframe]),
		interactions: map[string][]transcript.Interaction{},
		arcs:         map[string]transcript.Arc{},
		keyEvents:    map[string][]transcript.KeyEvent{},
	}
	player := c.tr.PlayerName()
	for _, actor := range p.Actors {
		if strings.TrimSpace(actor) == "" {
			continue
		}
		in, err := c.tr.FindInteractions(player, actor, "")
		if err != nil {
			return research{}, err
		}
		if len(in) > interactionsPerActor {
			in = in[len(in)-interactionsPerActor:]
		}
		r.interactions[actor] = in
		r.arcs[actor] = c.tr.EmotionalArc(actor)
		ev, err := c.tr.ExtractKeyEvents(actor, p.Importance)
		if err != nil {
			return research{}, err
		}
		if len(ev) > keyEventsPerActor {
			ev = ev[:keyEventsPerActor]
		}
		r.keyEvents[actor] = ev
	}

	var chunks []transcript.ContextChunk
	if p.Location != "" {
		chunks = append(chunks, c.tr.Search(p.Location, searchLimit, transcript.Filter{})...)
	}
	r.actionChunks = c.tr.Search(p.CurrentAction, searchLimit, transcript.Filter{})
	for _, kw := range c.keywords(p.CurrentAction) {
		r.actionChunks = append(r.actionChunks, c.tr.Search(kw, searchLimit, transcript.Filter{})...)
	}
	r.actionChunks = dedupe(r.actionChunks)
	r.chunks = dedupe(append(chunks, r.actionChunks...))
	return r, nil
}

// keywords returns the significant words of an action, in order.
func (c *Curator) keywords(action string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(action), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) < minKeywordLen || seen[w] || c.stops.Contains(w) {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// dedupe keeps one chunk per turn, the most relevant one, in first-seen
// order.
func dedupe(chunks []transcript.ContextChunk) []transcript.ContextChunk {
	idx := map[int]int{}
	out := make([]transcript.ContextChunk, 0, len(chunks))
	for _, ch := range chunks {
		if i, ok := idx[ch.TurnNumber]; ok {
			if ch.Relevance > out[i].Relevance {
				out[i] = ch
			}
			continue
		}
		idx[ch.TurnNumber] = len(out)
		out = append(out, ch)
	}
	return out
}

type scored struct {
	turn    int
	score   float64
	content string
}

func (c *Curator) synthesize(p Params, r research) Context {
	out := Context{
		ImmediateSituation:     []string{},
		RelevantHistory:        []string{},
		CharacterStates:        map[string]string{},
		MechanicalRequirements: []string{},
	}

	imm := r.recent
	if len(imm) > immediateTurns {
		imm = imm[len(imm)-immediateTurns:]
	}
	inImmediate := map[int]bool{}
	for _, t := range imm {
		inImmediate[t.TurnNumber] = true
		out.ImmediateSituation = append(out.ImmediateSituation, verbatim(t))
	}

	// Relevant history: interactions, world changes and search hits, ranked
	// by relevance plus turn importance.
	best := map[int]scored{}
	consider := func(turn int, relevance float64, content string) {
		if inImmediate[turn] {
			return
		}
		rec, ok := c.tr.Turn(turn)
		if !ok {
			return
		}
		s := relevance + c.tr.Importance(rec)
		if cur, ok := best[turn]; !ok || s > cur.score {
			best[turn] = scored{turn: turn, score: s, content: content}
		}
	}
	for _, actor := range p.Actors {
		for _, in := range r.interactions[actor] {
			consider(in.TurnNumber, 1, fmt.Sprintf("Turn %d (%s): %s. %s", in.TurnNumber, in.Type, in.Action, in.Narrative))
		}
	}
	for _, t := range r.recent {
		for _, sc := range t.StateChanges {
			consider(t.TurnNumber, 0.5, fmt.Sprintf("Turn %d: %s.%s changed to %v", t.TurnNumber, sc.Target, sc.Field, sc.Value))
		}
	}
	for _, ch := range r.chunks {
		consider(ch.TurnNumber, ch.Relevance, ch.Content)
	}
	ranked := make([]scored, 0, len(best))
	for _, s := range best {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].turn > ranked[j].turn
	})
	if len(ranked) > historyLimit {
		ranked = ranked[:historyLimit]
	}
	for _, s := range ranked {
		out.RelevantHistory = append(out.RelevantHistory, s.content)
	}

	for _, actor := range p.Actors {
		arc, ok := r.arcs[actor]
		if !ok {
			continue
		}
		line := fmt.Sprintf("%s: feeling %s (%s)", actor, arc.Current, arc.Trend)
		if ev := r.keyEvents[actor]; len(ev) > 0 {
			parts := make([]string, len(ev))
			for i, e := range ev {
				parts[i] = e.Description
			}
			line += "; recent: " + strings.Join(parts, " | ")
		}
		out.CharacterStates[actor] = line
	}

	out.WorldContext = worldContext(p)
	out.MechanicalRequirements = c.mechanics(r.actionChunks)
	out.NarrativeTone = Tone(r.recent)
	return out
}

func verbatim(t transcript.TurnRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Turn %d: %s", t.TurnNumber, t.PlayerAction)
	if t.Narrative != "" {
		b.WriteString(" -> ")
		b.WriteString(t.Narrative)
	}
	for _, d := range t.Dialogue {
		fmt.Fprintf(&b, " %s: %q", d.Speaker, d.Text)
	}
	return b.String()
}

func worldContext(p Params) string {
	loc := p.Location
	if loc == "" {
		loc = "an unknown place"
	}
	if len(p.Actors) == 0 {
		return fmt.Sprintf("At %s, alone.", loc)
	}
	return fmt.Sprintf("At %s with %s.", loc, strings.Join(p.Actors, ", "))
}

// mechanics lists the rolls from the most important turns matching the
// action, falling back to DefaultMechanics.
func (c *Curator) mechanics(chunks []transcript.ContextChunk) []string {
	type cand struct {
		rec   transcript.TurnRecord
		score float64
	}
	var cands []cand
	for _, ch := range chunks {
		rec, ok := c.tr.Turn(ch.TurnNumber)
		if !ok || len(rec.MechanicalResults) == 0 {
			continue
		}
		cands = append(cands, cand{rec: rec, score: c.tr.Importance(rec)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	seen := map[string]bool{}
	var out []string
	for _, cd := range cands {
		for _, m := range cd.rec.MechanicalResults {
			s := m.Type
			if m.Description != "" {
				s += ": " + m.Description
			}
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
		if len(out) >= mechanicsLimit {
			break
		}
	}
	if len(out) == 0 {
		return []string{DefaultMechanics}
	}
	if len(out) > mechanicsLimit {
		out = out[:mechanicsLimit]
	}
	return out
}

const (
	ToneTense      = "tense"
	ToneRelaxed    = "relaxed"
	ToneMysterious = "mysterious"
	ToneNeutral    = "neutral"
)

var toneOrder = []string{ToneTense, ToneMysterious, ToneRelaxed, ToneNeutral}

func toneOf(mood string) string {
	switch strings.ToLower(strings.TrimSpace(mood)) {
	case "tense", "dramatic":
		return ToneTense
	case "peaceful", "calm":
		return ToneRelaxed
	case "mysterious", "strange":
		return ToneMysterious
	}
	return ToneNeutral
}

// Tone returns the most common mood bucket of turns; ties go to the more
// charged tone.
func Tone(turns []transcript.TurnRecord) string {
	counts := map[string]int{}
	for _, t := range turns {
		counts[toneOf(t.Mood)]++
	}
	best, n := ToneNeutral, 0
	for _, tone := range toneOrder {
		if counts[tone] > n {
			best, n = tone, counts[tone]
		}
	}
	return best
}

// EstimateTokens approximates the token count as serialized length / 4.
func EstimateTokens(c Context) int {
	c.TokenCount = 0
	b, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return (len(b) + 3) / 4
}

// fit drops the least relevant history, then the oldest immediate turns,
// until the estimate is within budget.
func fit(c *Context, maxTokens int) {
	for {
		c.TokenCount = EstimateTokens(*c)
		if c.TokenCount <= maxTokens {
			return
		}
		switch {
		case len(c.RelevantHistory) > 0:
			c.RelevantHistory = c.RelevantHistory[:len(c.RelevantHistory)-1]
		case len(c.ImmediateSituation) > 0:
			c.ImmediateSituation = c.ImmediateSituation[1:]
		default:
			return
		}
	}
}
