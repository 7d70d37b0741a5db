package transcript

import (
	"fmt"
	"strings"

	"github.com/coregx/ahocorasick"
)

// EmotionScorer infers a coarse emotion for a piece of turn text. mood is the
// turn's recorded mood and may be empty.
type EmotionScorer interface {
	Emotion(text, mood string) string
}

// ImportanceScorer rates how significant a turn is, roughly in [0,1].
type ImportanceScorer interface {
	Importance(r TurnRecord) float64
}

// HeuristicImportance weighs combat, dialogue, a tense mood and state changes.
// Combat always changes state (hit points, positions), so a combat turn also
// earns the state-change weight.
type HeuristicImportance struct{}

func changesState(r TurnRecord) bool { return r.HasStateChanges() || r.HasCombat() }

func (HeuristicImportance) Importance(r TurnRecord) float64 {
	score := 0.0
	if r.HasCombat() {
		score += 0.3
	}
	if r.HasDialogue() {
		score += 0.2
	}
	switch strings.ToLower(r.Mood) {
	case "tense", "dramatic":
		score += 0.2
	}
	if changesState(r) {
		score += 0.3
	}
	return score
}

const EmotionNeutral = "neutral"

var emotionOrder = []string{"anger", "fear", "joy", "sadness", "surprise", "calm", "excitement"}

var emotionVocab = map[string][]string{
	"anger":      {"angry", "anger", "furious", "rage", "snarl", "snarls", "glare", "glares", "shout", "shouts", "hostile", "outraged"},
	"fear":       {"afraid", "fear", "scared", "terrified", "tremble", "trembles", "panic", "dread", "flee", "flees", "cower"},
	"joy":        {"happy", "joy", "laugh", "laughs", "smile", "smiles", "delighted", "cheer", "cheers", "grin", "grins", "glad"},
	"sadness":    {"sad", "sorrow", "weep", "weeps", "cry", "cries", "grief", "mourn", "mourns", "tears", "despair"},
	"surprise":   {"surprised", "shock", "shocked", "gasp", "gasps", "astonished", "startled", "sudden", "suddenly"},
	"calm":       {"calm", "peaceful", "quiet", "relaxed", "serene", "rest", "rests", "gentle", "steady"},
	"excitement": {"excited", "thrilled", "eager", "rush", "rushes", "cheering", "triumph", "victory"},
}

var moodEmotion = map[string]string{
	"tense":      "fear",
	"dramatic":   "excitement",
	"peaceful":   "calm",
	"calm":       "calm",
	"relaxed":    "calm",
	"happy":      "joy",
	"joyful":     "joy",
	"cheerful":   "joy",
	"sad":        "sadness",
	"somber":     "sadness",
	"angry":      "anger",
	"hostile":    "anger",
	"mysterious": "surprise",
	"strange":    "surprise",
	"scary":      "fear",
}

var emotionValence = map[string]float64{
	"anger":      -0.8,
	"fear":       -0.7,
	"sadness":    -0.6,
	"surprise":   0.1,
	"calm":       0.3,
	"joy":        0.8,
	"excitement": 0.6,
	"neutral":    0,
}

func Valence(emotion string) float64 { return emotionValence[emotion] }

func strongEmotion(e string) bool {
	switch e {
	case "anger", "fear", "joy", "excitement":
		return true
	}
	return false
}

type keywordScorer struct {
	ac       *ahocorasick.Automaton
	patterns []string
	emotion  []string
}

// DefaultEmotionScorer scans text for the built-in emotion vocabularies. The
// emotion with the most whole-word hits wins; ties go to the earlier emotion
// in vocabulary order.
func DefaultEmotionScorer() EmotionScorer {
	s := &keywordScorer{}
	for _, e := range emotionOrder {
		for _, w := range emotionVocab[e] {
			s.patterns = append(s.patterns, w)
			s.emotion = append(s.emotion, e)
		}
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(s.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		// fixed vocabulary; a build failure is a programming error
		panic(fmt.Sprintf("transcript: emotion automaton: %v", err))
	}
	s.ac = ac
	return s
}

func (s *keywordScorer) Emotion(text, mood string) string {
	hay := []byte(strings.ToLower(text))
	counts := map[string]int{}
	for _, m := range s.ac.FindAllOverlapping(hay) {
		if !wordBoundary(hay, m.Start, m.End) {
			continue
		}
		counts[s.emotion[m.PatternID]]++
	}
	best, bestN := "", 0
	for _, e := range emotionOrder {
		if counts[e] > bestN {
			best, bestN = e, counts[e]
		}
	}
	if best != "" {
		return best
	}
	if e, ok := moodEmotion[strings.ToLower(strings.TrimSpace(mood))]; ok {
		return e
	}
	return EmotionNeutral
}

func wordBoundary(b []byte, start, end int) bool {
	if start > 0 && isWordByte(b[start-1]) {
		return false
	}
	if end < len(b) && isWordByte(b[end]) {
		return false
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || c == '\'' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

const (
	TrendRising  = "rising"
	TrendFalling = "falling"
	TrendStable  = "stable"
	TrendChaotic = "chaotic"
)

const (
	trendWindow      = 5
	chaoticVariance  = 0.3
	minTrendMovement = 2
)

type EmotionSample struct {
	TurnNumber int     `json:"turnNumber"`
	Emotion    string  `json:"emotion"`
	Valence    float64 `json:"valence"`
	Intensity  float64 `json:"intensity"`
}

type Arc struct {
	Character string          `json:"character"`
	Samples   []EmotionSample `json:"samples"`
	Current   string          `json:"current"`
	Trend     string          `json:"trend"`
	Summary   string          `json:"summary"`
}

// EmotionalArc samples one emotion per turn involving character and
// classifies the trend over the trailing window.
func (t *Transcript) EmotionalArc(character string) Arc {
	arc := Arc{Character: character, Samples: []EmotionSample{}, Current: EmotionNeutral, Trend: TrendStable}
	for _, r := range t.Turns() {
		if !t.involves(r, character) {
			continue
		}
		e := t.opts.Emotions.Emotion(r.Text(), r.Mood)
		arc.Samples = append(arc.Samples, EmotionSample{
			TurnNumber: r.TurnNumber,
			Emotion:    e,
			Valence:    Valence(e),
			Intensity:  intensity(r, e),
		})
	}
	if len(arc.Samples) == 0 {
		arc.Summary = fmt.Sprintf("%s has no emotional history", character)
		return arc
	}
	arc.Current = arc.Samples[len(arc.Samples)-1].Emotion
	arc.Trend = classifyTrend(arc.Samples)
	arc.Summary = fmt.Sprintf("%s is currently %s, trend %s over %d turns", character, arc.Current, arc.Trend, len(arc.Samples))
	return arc
}

func intensity(r TurnRecord, emotion string) float64 {
	v := 0.0
	if r.HasCombat() {
		v += 0.3
	}
	if r.HasDialogue() {
		v += 0.2
	}
	if strongEmotion(emotion) {
		v += 0.2
	}
	if changesState(r) {
		v += 0.3
	}
	return v
}

func classifyTrend(samples []EmotionSample) string {
	if len(samples) > trendWindow {
		samples = samples[len(samples)-trendWindow:]
	}
	if len(samples) < 2 {
		return TrendStable
	}
	mean := 0.0
	for _, s := range samples {
		mean += s.Valence
	}
	mean /= float64(len(samples))
	variance := 0.0
	for _, s := range samples {
		d := s.Valence - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	if variance > chaoticVariance {
		return TrendChaotic
	}
	rises, falls := 0, 0
	for i := 1; i < len(samples); i++ {
		switch {
		case samples[i].Valence > samples[i-1].Valence:
			rises++
		case samples[i].Valence < samples[i-1].Valence:
			falls++
		}
	}
	switch {
	case rises >= minTrendMovement && rises > falls:
		return TrendRising
	case falls >= minTrendMovement && falls > rises:
		return TrendFalling
	}
	return TrendStable
}
