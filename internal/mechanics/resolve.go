package mechanics

import (
	"taleweave.ai/internal/protocol"
)

// Modifier converts an ability score into its d20 bonus.
func Modifier(score int) int {
	d := score - 10
	if d < 0 {
		return (d - 1) / 2
	}
	return d / 2
}

type CheckResult struct {
	Roll     int  `json:"roll"`
	Modifier int  `json:"modifier"`
	Total    int  `json:"total"`
	DC       int  `json:"dc"`
	Success  bool `json:"success"`
	Critical bool `json:"critical"`
	Fumble   bool `json:"fumble"`
}

// Check rolls a d20 against dc. A natural 20 always succeeds and a natural 1
// always fails.
func (r *Roller) Check(modifier, dc int, seed *int64) (CheckResult, error) {
	if dc <= 0 {
		return CheckResult{}, protocol.Validation("dc must be positive")
	}
	rng, done := r.source(seed)
	defer done()
	d20 := rng.Intn(20) + 1
	res := CheckResult{
		Roll:     d20,
		Modifier: modifier,
		Total:    d20 + modifier,
		DC:       dc,
		Critical: d20 == 20,
		Fumble:   d20 == 1,
	}
	switch {
	case res.Critical:
		res.Success = true
	case res.Fumble:
		res.Success = false
	default:
		res.Success = res.Total >= dc
	}
	return res, nil
}

type AttackResult struct {
	Attack CheckResult `json:"attack"`
	Hit    bool        `json:"hit"`
	Damage *Roll       `json:"damage,omitempty"`
	// Total damage dealt; a critical hit doubles the dice.
	DamageTotal int `json:"damageTotal"`
}

// Attack resolves one attack roll against armor class and, on a hit, rolls
// damage.
func (r *Roller) Attack(attackBonus, armorClass int, damage string, seed *int64) (AttackResult, error) {
	spec, err := ParseNotation(damage)
	if err != nil {
		return AttackResult{}, err
	}
	if armorClass <= 0 {
		return AttackResult{}, protocol.Validation("armor class must be positive")
	}
	rng, done := r.source(seed)
	defer done()

	d20 := rng.Intn(20) + 1
	chk := CheckResult{
		Roll:     d20,
		Modifier: attackBonus,
		Total:    d20 + attackBonus,
		DC:       armorClass,
		Critical: d20 == 20,
		Fumble:   d20 == 1,
	}
	chk.Success = chk.Critical || (!chk.Fumble && chk.Total >= armorClass)
	res := AttackResult{Attack: chk, Hit: chk.Success}
	if !res.Hit {
		return res, nil
	}
	if chk.Critical {
		spec.Count *= 2
	}
	dmg := rollWith(rng, spec)
	res.Damage = &dmg
	res.DamageTotal = max(dmg.Total, 0)
	return res, nil
}
