package service

import (
	"yarn-agent/model"
)

// FSM walks a session along model.Steps. Every non-terminal step has exactly
// one forward edge and the terminal step has none.
type FSM struct{}

func (FSM) Current(s *model.Session) model.Step {
	return s.State
}

// CanAdvance reports whether the session has an outgoing edge. It never
// mutates the session.
func (FSM) CanAdvance(s *model.Session) bool {
	return s.State.Valid() && !s.State.Terminal()
}

// Advance applies the forward edge and returns the new step. The attempt
// counters of the step being left and the step entered both start over.
// Advancing from the terminal step leaves the session as it is.
func (f FSM) Advance(s *model.Session) model.Step {
	if !f.CanAdvance(s) {
		return s.State
	}
	left := s.State
	s.State = left.Next()
	delete(s.Attempts, left)
	delete(s.Attempts, s.State)
	return s.State
}

// SaveAnswer stores text under the current step. Call it before Advance.
func (FSM) SaveAnswer(s *model.Session, text string) {
	s.Responses[s.State] = text
}
