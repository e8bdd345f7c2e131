package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repositories join the transaction carried by ctx when there is one.
// Missing rows are reported as *apperr.NotFoundError and lost uniqueness
// races as *apperr.ConflictError.

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// GetForUpdate locks the patient row until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error)
	// ExistsWithIdentity reports whether another patient has the same name
	// and date of birth. exclude may be uuid.Nil.
	ExistsWithIdentity(ctx context.Context, firstName, lastName string, dob Date, exclude uuid.UUID) (bool, error)
	Update(ctx context.Context, p *Patient) error
	MarkSeen(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*Patient, error)
}

type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	InitialID *uuid.UUID
	Day       *Date
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the appointment row until the transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// TransitionStatus moves the appointment from one status to another and
	// reports whether it was still in the from status.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error)
}

type TreatmentFilter struct {
	PatientID *uuid.UUID
	Day       *Date
}

type TreatmentRepository interface {
	Create(ctx context.Context, t *Treatment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error)
	// GetByAppointment returns the treatment recorded for an appointment.
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Treatment, error)
	Update(ctx context.Context, t *Treatment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f TreatmentFilter) ([]*Treatment, error)
}

type PaymentFilter struct {
	PatientID *uuid.UUID
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetByReference(ctx context.Context, reference string) (*Payment, error)
	HasPaid(ctx context.Context, patientID uuid.UUID) (bool, error)
	// Resolve moves a pending payment to a terminal status and reports
	// whether it was still pending.
	Resolve(ctx context.Context, id uuid.UUID, status PaymentStatus, failure string) (bool, error)
	SetCheckoutURL(ctx context.Context, id uuid.UUID, url string) error
	List(ctx context.Context, f PaymentFilter) ([]*Payment, error)
	// ListStalePending returns pending gateway payments created before cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Payment, error)
}

// CounterStore reserves the next value of a sequence scope. Implementations
// must make the reservation atomic with respect to concurrent callers on the
// same scope, and seed a new scope from rows that already exist.
type CounterStore interface {
	Next(ctx context.Context, scope Scope) (int, error)
}
