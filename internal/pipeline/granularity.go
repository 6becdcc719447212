package pipeline

import (
	"fmt"
	"strings"
)

// Granularity selects which scoring passes a run performs.
type Granularity uint8

const (
	Overall Granularity = 1 << iota
	Entity

	None Granularity = 0
	Both             = Overall | Entity
)

// Has reports whether g includes every pass in o.
func (g Granularity) Has(o Granularity) bool {
	return o != None && g&o == o
}

// Passes returns the single-pass granularities in execution order.
func (g Granularity) Passes() []Granularity {
	var out []Granularity
	for _, p := range []Granularity{Overall, Entity} {
		if g.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func (g Granularity) String() string {
	switch g {
	case None:
		return "none"
	case Overall:
		return "overall"
	case Entity:
		return "entity"
	case Both:
		return "overall+entity"
	default:
		return fmt.Sprintf("granularity(%d)", uint8(g))
	}
}

// ParseGranularity accepts "overall", "entity", "both", "none" or a
// comma/plus separated combination.
func ParseGranularity(s string) (Granularity, error) {
	var g Granularity
	for _, part := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ',' || r == '+' || r == ' '
	}) {
		switch part {
		case "overall", "response":
			g |= Overall
		case "entity", "entities":
			g |= Entity
		case "both", "all":
			g |= Both
		case "none":
		default:
			return None, fmt.Errorf("unknown granularity %q", part)
		}
	}
	return g, nil
}

// outputBase is the file name, without extension, of a pass's output table.
func (g Granularity) outputBase() string {
	if g == Entity {
		return "sentiment_by_entity"
	}
	return "sentiment_by_response"
}

func (g Granularity) scoringState() State {
	if g == Entity {
		return StateScoringEntity
	}
	return StateScoringOverall
}
