package mechanics

import (
	"errors"
	"testing"

	"taleweave.ai/internal/protocol"
)

func TestParseNotation(t *testing.T) {
	cases := []struct {
		in   string
		want Spec
	}{
		{"d20", Spec{Count: 1, Sides: 20}},
		{"2d6+1", Spec{Count: 2, Sides: 6, Modifier: 1}},
		{"3D8 - 2", Spec{Count: 3, Sides: 8, Modifier: -2}},
	}
	for _, c := range cases {
		got, err := ParseNotation(c.in)
		if err != nil {
			t.Fatalf("%s: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("%s: got %+v want %+v", c.in, got, c.want)
		}
	}
	for _, bad := range []string{"", "2x6", "0d6", "1d0", "101d6", "d6+"} {
		if _, err := ParseNotation(bad); !errors.Is(err, protocol.ErrValidation) {
			t.Errorf("%q: expected validation error, got %v", bad, err)
		}
	}
}

func TestRoll_SeededIsDeterministic(t *testing.T) {
	r := NewRoller(1)
	seed := int64(42)
	a, _ := r.RollNotation("4d6+2", &seed)
	b, _ := r.RollNotation("4d6+2", &seed)
	if a.Total != b.Total || len(a.Results) != 4 {
		t.Fatalf("seeded rolls differ: %+v vs %+v", a, b)
	}
	sum := 2
	for _, v := range a.Results {
		if v < 1 || v > 6 {
			t.Fatalf("die out of range: %d", v)
		}
		sum += v
	}
	if sum != a.Total {
		t.Fatalf("total=%d want %d", a.Total, sum)
	}
}

func TestModifier(t *testing.T) {
	for score, want := range map[int]int{1: -5, 8: -1, 9: -1, 10: 0, 11: 0, 12: 1, 18: 4, 20: 5} {
		if got := Modifier(score); got != want {
			t.Errorf("Modifier(%d)=%d want %d", score, got, want)
		}
	}
}

func TestCheck_NaturalRolls(t *testing.T) {
	r := NewRoller(7)
	for seed := int64(0); seed < 200; seed++ {
		s := seed
		res, err := r.Check(0, 10, &s)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if res.Critical && !res.Success {
			t.Fatalf("natural 20 failed")
		}
		if res.Fumble && res.Success {
			t.Fatalf("natural 1 succeeded")
		}
		if !res.Critical && !res.Fumble && res.Success != (res.Total >= 10) {
			t.Fatalf("bad success flag: %+v", res)
		}
	}
	if _, err := r.Check(0, 0, nil); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error for dc=0")
	}
}

func TestAttack_DamageOnlyOnHit(t *testing.T) {
	r := NewRoller(3)
	for seed := int64(0); seed < 100; seed++ {
		s := seed
		res, err := r.Attack(3, 12, "1d8+1", &s)
		if err != nil {
			t.Fatalf("attack: %v", err)
		}
		if res.Hit != (res.Damage != nil) {
			t.Fatalf("hit/damage mismatch: %+v", res)
		}
		if res.Hit && res.Attack.Critical && len(res.Damage.Results) != 2 {
			t.Fatalf("critical did not double dice: %+v", res.Damage)
		}
	}
}
