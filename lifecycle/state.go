// Package lifecycle drives a contract call from simulation through signing
// and submission to its ledger outcome.
package lifecycle

import "time"

// State is the position of a call in its lifecycle. States only move forward.
type State string

const (
	StateBuilt     State = "built"
	StateSimulated State = "simulated"
	StateSigned    State = "signed"
	StateSubmitted State = "submitted"
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

var transitions = map[State][]State{
	StateBuilt:     {StateSimulated, StateFailed},
	StateSimulated: {StateSigned, StateFailed},
	StateSigned:    {StateSubmitted, StateFailed},
	StateSubmitted: {StatePending, StateConfirmed, StateFailed},
	StatePending:   {StatePending, StateConfirmed, StateFailed},
}

// CanTransition reports whether a call in from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Status is the caller-facing outcome of Execute.
type Status string

const (
	StatusConfirmed           Status = "confirmed"
	StatusFailed              Status = "failed"
	StatusConfirmationTimeout Status = "confirmation_timeout"
	StatusSubmissionUnknown   Status = "submission_unknown"
	StatusAbandoned           Status = "abandoned"
)

// Transition records one state change.
type Transition struct {
	ID   string    `json:"id"`
	From State     `json:"from"`
	To   State     `json:"to"`
	Hash string    `json:"hash,omitempty"`
	At   time.Time `json:"at"`
}
