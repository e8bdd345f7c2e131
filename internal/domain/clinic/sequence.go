package clinic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type ScopeKind string

const (
	ScopeAppointmentType ScopeKind = "appointment_type"
	ScopeCase            ScopeKind = "case"
	ScopeQueue           ScopeKind = "queue"
)

// Scope names one counter: appointment_type:<type>, case:<initial id> or
// queue:<date>.
type Scope struct {
	Kind ScopeKind
	// Exactly one of the following is set, matching Kind.
	Type      AppointmentType
	InitialID uuid.UUID
	Day       Date
}

func (s Scope) String() string {
	switch s.Kind {
	case ScopeAppointmentType:
		return fmt.Sprintf("%s:%s", s.Kind, s.Type)
	case ScopeCase:
		return fmt.Sprintf("%s:%s", s.Kind, s.InitialID)
	default:
		return fmt.Sprintf("%s:%s", s.Kind, s.Day)
	}
}

// SequenceAssigner hands out the per-type appointment sequence, the
// per-case follow-up sequence and the per-day queue number. Each value is
// reserved exactly once and never reused; gaps left by rolled back or
// deleted rows are not filled.
//
// Callers must reserve inside the transaction that inserts the row the
// value is for, so a rollback also releases the counter's row lock.
type SequenceAssigner struct {
	store CounterStore
}

func NewSequenceAssigner(store CounterStore) *SequenceAssigner {
	return &SequenceAssigner{store: store}
}

func (s *SequenceAssigner) NextSequence(ctx context.Context, t AppointmentType) (int, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("unknown appointment type %q", t)
	}
	return s.next(ctx, Scope{Kind: ScopeAppointmentType, Type: t})
}

func (s *SequenceAssigner) NextCaseSequence(ctx context.Context, initialID uuid.UUID) (int, error) {
	return s.next(ctx, Scope{Kind: ScopeCase, InitialID: initialID})
}

func (s *SequenceAssigner) NextQueueNumber(ctx context.Context, day Date) (int, error) {
	return s.next(ctx, Scope{Kind: ScopeQueue, Day: day})
}

func (s *SequenceAssigner) next(ctx context.Context, scope Scope) (int, error) {
	v, err := s.store.Next(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("reserve %s: %w", scope, err)
	}
	return v, nil
}
