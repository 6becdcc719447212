package pipeline

import "fmt"

// State is a step of the run lifecycle.
type State int

const (
	StateIdle State = iota
	StateReshaping
	StateScoringOverall
	StateScoringEntity
	StateBucketing
	StateWriting
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:           "idle",
	StateReshaping:      "reshaping",
	StateScoringOverall: "scoring_overall",
	StateScoringEntity:  "scoring_entity",
	StateBucketing:      "bucketing",
	StateWriting:        "writing",
	StateDone:           "done",
	StateFailed:         "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var transitions = map[State][]State{
	StateIdle:           {StateReshaping, StateDone},
	StateReshaping:      {StateScoringOverall, StateScoringEntity, StateDone, StateFailed},
	StateScoringOverall: {StateBucketing, StateFailed},
	StateScoringEntity:  {StateBucketing, StateFailed},
	StateBucketing:      {StateWriting, StateFailed},
	StateWriting:        {StateScoringOverall, StateScoringEntity, StateDone, StateFailed},
}

// machine tracks the current state and rejects illegal transitions.
type machine struct {
	state   State
	onEnter func(State)
}

func (m *machine) to(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			if m.onEnter != nil {
				m.onEnter(next)
			}
			return nil
		}
	}
	return fmt.Errorf("illegal state transition %s -> %s", m.state, next)
}

// fail moves to Failed from any non-terminal state.
func (m *machine) fail() {
	if m.state.Terminal() {
		return
	}
	m.state = StateFailed
	if m.onEnter != nil {
		m.onEnter(StateFailed)
	}
}
