// Package session holds one user's active bill: the roster, the receipt being
// split and the phase it is in.
package session

import (
	"errors"
	"fmt"

	"github.com/billsplit/billsplit/internal/bill"
)

// Phase is the step the bill is in.
type Phase string

const (
	PhaseCapture    Phase = "capture"
	PhaseAssignment Phase = "assignment"
	PhaseSettlement Phase = "settlement"
)

var (
	ErrEmptyName         = errors.New("name is required")
	ErrInvalidTransition = errors.New("invalid phase transition")

	ErrAssignmentNotReady = bill.ErrAssignmentNotReady
	ErrUnknownReference   = bill.ErrUnknownReference
)

// Config controls session policies.
type Config struct {
	// ResetClearsRoster empties the roster on Reset. Recent names always survive.
	ResetClearsRoster bool
	// Currency is the ISO code used for settlement rounding and display.
	Currency string
}

// Session is not safe for concurrent use; callers serialize access.
type Session struct {
	cfg         Config
	phase       Phase
	receipt     *bill.Receipt
	people      []bill.Person
	recentNames []string
	settlement  *bill.Settlement
}

// New creates a session in the capture phase.
func New(cfg Config) *Session {
	return &Session{cfg: cfg, phase: PhaseCapture}
}

func (s *Session) Phase() Phase { return s.phase }

// Receipt returns the active receipt, or nil during capture.
func (s *Session) Receipt() *bill.Receipt { return s.receipt }

// People returns a copy of the roster in insertion order.
func (s *Session) People() []bill.Person {
	return append([]bill.Person{}, s.people...)
}

// RecentNames returns recent names, most recent first.
func (s *Session) RecentNames() []string {
	return append([]string{}, s.recentNames...)
}

// Settlement returns the last computed settlement while in the settlement phase.
func (s *Session) Settlement() *bill.Settlement {
	if s.phase != PhaseSettlement {
		return nil
	}
	return s.settlement
}

// StartAssignment makes r the active receipt and moves to the assignment
// phase. Any assignments already on r are discarded.
func (s *Session) StartAssignment(r *bill.Receipt) error {
	if s.phase != PhaseCapture {
		return fmt.Errorf("%w: cannot start assignment from %s", ErrInvalidTransition, s.phase)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	r = r.Clone()
	for i := range r.Items {
		r.Items[i].AssignedTo = []string{}
	}
	s.receipt = r
	s.phase = PhaseAssignment
	return nil
}

// Settle computes the settlement and moves to the settlement phase. When some
// item is unassigned the phase is left unchanged.
func (s *Session) Settle() (*bill.Settlement, error) {
	if s.phase != PhaseAssignment {
		return nil, fmt.Errorf("%w: cannot settle from %s", ErrInvalidTransition, s.phase)
	}
	settlement, err := bill.Settle(s.receipt, s.people, s.cfg.Currency)
	if err != nil {
		return nil, err
	}
	s.settlement = settlement
	s.phase = PhaseSettlement
	return settlement, nil
}

// BackToAssignment returns from settlement to assignment. Assignments are kept.
func (s *Session) BackToAssignment() error {
	if s.phase != PhaseSettlement {
		return fmt.Errorf("%w: cannot go back from %s", ErrInvalidTransition, s.phase)
	}
	s.settlement = nil
	s.phase = PhaseAssignment
	return nil
}

// rosterEditable rejects roster changes once the bill is settled; the
// settlement would no longer match the roster.
func (s *Session) rosterEditable() error {
	if s.phase == PhaseSettlement {
		return fmt.Errorf("%w: roster is locked during settlement", ErrInvalidTransition)
	}
	return nil
}

func (s *Session) assigning() error {
	if s.phase != PhaseAssignment {
		return fmt.Errorf("%w: assignments can only change during assignment", ErrInvalidTransition)
	}
	return nil
}

// Reset discards the receipt and returns to capture.
func (s *Session) Reset() {
	s.phase = PhaseCapture
	s.receipt = nil
	s.settlement = nil
	if s.cfg.ResetClearsRoster {
		s.people = nil
	}
}
