package transcript

import (
	"fmt"
	"sort"
	"strings"

	"taleweave.ai/internal/protocol"
)

const (
	FocusPlot      = "plot"
	FocusCharacter = "character"
	FocusWorld     = "world"
)

const summaryNarrativeLimit = 120

// GenerateSummary digests turns from..to (inclusive). A zero bound means the
// oldest or newest retained turn. Unknown focus values summarize every turn.
func (t *Transcript) GenerateSummary(from, to int, focus string) (string, error) {
	_, _, s, err := t.SummarizeRange(from, to, focus)
	return s, err
}

// SummarizeRange is GenerateSummary that also reports the bounds it
// resolved. With no turns recorded the bounds come back unchanged.
func (t *Transcript) SummarizeRange(from, to int, focus string) (int, int, string, error) {
	turns := t.Turns()
	if len(turns) == 0 {
		return from, to, "No turns recorded.", nil
	}
	if from <= 0 {
		from = turns[0].TurnNumber
	}
	if to <= 0 {
		to = turns[len(turns)-1].TurnNumber
	}
	if from > to {
		return from, to, "", protocol.Validation("fromTurn %d is after toTurn %d", from, to)
	}
	var window []TurnRecord
	for _, r := range turns {
		if r.TurnNumber >= from && r.TurnNumber <= to {
			window = append(window, r)
		}
	}

	var b strings.Builder
	focus = strings.ToLower(strings.TrimSpace(focus))
	switch focus {
	case FocusPlot:
		fmt.Fprintf(&b, "Plot, turns %d-%d:\n", from, to)
		n := 0
		for _, r := range window {
			m := strings.ToLower(r.Mood)
			if r.HasCombat() || r.HasStateChanges() || m == "dramatic" || m == "tense" {
				fmt.Fprintf(&b, "- %s\n", describe(r))
				n++
			}
		}
		if n == 0 {
			b.WriteString("- nothing of note\n")
		}
	case FocusCharacter:
		fmt.Fprintf(&b, "Characters, turns %d-%d:\n", from, to)
		byNPC := map[string][]int{}
		for _, r := range window {
			for _, npc := range r.NPCsInvolved {
				byNPC[npc] = append(byNPC[npc], r.TurnNumber)
			}
		}
		if len(byNPC) == 0 {
			b.WriteString("- no characters involved\n")
		}
		names := make([]string, 0, len(byNPC))
		for name := range byNPC {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			nums := byNPC[name]
			parts := make([]string, len(nums))
			for i, n := range nums {
				parts[i] = fmt.Sprint(n)
			}
			fmt.Fprintf(&b, "- %s: %d turns (%s)\n", name, len(nums), strings.Join(parts, ", "))
		}
	case FocusWorld:
		fmt.Fprintf(&b, "World changes, turns %d-%d:\n", from, to)
		n := 0
		for _, r := range window {
			for _, sc := range r.StateChanges {
				fmt.Fprintf(&b, "- turn %d: %s.%s = %v\n", r.TurnNumber, sc.Target, sc.Field, sc.Value)
				n++
			}
		}
		if n == 0 {
			b.WriteString("- no world changes\n")
		}
	default:
		fmt.Fprintf(&b, "Turns %d-%d:\n", from, to)
		for _, r := range window {
			fmt.Fprintf(&b, "- Turn %d: %s. %s\n", r.TurnNumber, r.PlayerAction, truncate(r.Narrative, summaryNarrativeLimit))
		}
	}
	return from, to, strings.TrimRight(b.String(), "\n"), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
