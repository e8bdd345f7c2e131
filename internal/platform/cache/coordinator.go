package cache

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mutation describes a committed write. Each implementation knows which
// cached views embed data derived from the entity it mutated.
type Mutation interface {
	keys(add func(string))
}

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// AppointmentRef locates an appointment in the doctor/date keyed views.
type AppointmentRef struct {
	DoctorID *uuid.UUID
	Date     time.Time
}

func (r AppointmentRef) keys(add func(string)) {
	add(AppointmentsListKey(nil))
	add(AppointmentsTodayKey(nil, r.Date))
	if r.DoctorID != nil {
		add(AppointmentsListKey(r.DoctorID))
		add(AppointmentsTodayKey(r.DoctorID, r.Date))
	}
}

type PatientMutation struct {
	Op        Op
	PatientID uuid.UUID
	// DoctorIDs are the assigned doctors before and after the write.
	DoctorIDs []uuid.UUID
	Today     time.Time
	// Appointments are the patient's appointments; their views embed the
	// patient's name. TreatmentDates and PaymentIDs only matter for a
	// cascading delete.
	Appointments   []AppointmentRef
	TreatmentDates []time.Time
	PaymentIDs     []uuid.UUID
}

func (m PatientMutation) keys(add func(string)) {
	add(PatientKey(m.PatientID))
	add(AllPatients)
	add(AppointmentsListKey(nil))
	add(AppointmentsTodayKey(nil, m.Today))
	for i := range m.DoctorIDs {
		add(AppointmentsTodayKey(&m.DoctorIDs[i], m.Today))
		add(AppointmentsListKey(&m.DoctorIDs[i]))
	}
	for _, a := range m.Appointments {
		a.keys(add)
	}

	if m.Op != OpDelete {
		return
	}
	if len(m.TreatmentDates) > 0 {
		add(AllTreatments)
	}
	for _, d := range m.TreatmentDates {
		add(TreatmentsTodayKey(d))
	}
	if len(m.PaymentIDs) > 0 {
		add(AllPayments)
	}
	for _, id := range m.PaymentIDs {
		add(PaymentKey(id))
	}
}

type AppointmentMutation struct {
	Op            Op
	AppointmentID uuid.UUID
	Current       AppointmentRef
	// Previous is set when an update moved the appointment to another
	// doctor or date.
	Previous *AppointmentRef
}

func (m AppointmentMutation) keys(add func(string)) {
	m.Current.keys(add)
	if m.Previous != nil {
		m.Previous.keys(add)
	}
}

type TreatmentMutation struct {
	Op          Op
	TreatmentID uuid.UUID
	PatientID   uuid.UUID
	CreatedAt   time.Time
	Appointment AppointmentRef
}

func (m TreatmentMutation) keys(add func(string)) {
	add(AllTreatments)
	add(TreatmentsTodayKey(m.CreatedAt))
	// Treatments can complete the appointment and mark the patient seen.
	m.Appointment.keys(add)
	add(PatientKey(m.PatientID))
	add(AllPatients)
}

type PaymentMutation struct {
	Op        Op
	PaymentID uuid.UUID
	PatientID uuid.UUID
}

func (m PaymentMutation) keys(add func(string)) {
	add(PaymentKey(m.PaymentID))
	add(AllPayments)
	// Patient views carry has_paid.
	add(PatientKey(m.PatientID))
	add(AllPatients)
}

// KeysToInvalidate returns the sorted, de-duplicated union of the keys made
// stale by the given mutations.
func KeysToInvalidate(mutations ...Mutation) []string {
	set := make(map[string]struct{})
	add := func(k string) { set[k] = struct{}{} }
	for _, m := range mutations {
		if m != nil {
			m.keys(add)
		}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Coordinator deletes the keys made stale by committed mutations.
type Coordinator struct {
	store  Store
	logger zerolog.Logger
}

func NewCoordinator(store Store, logger zerolog.Logger) *Coordinator {
	return &Coordinator{store: store, logger: logger.With().Str("component", "cache").Logger()}
}

// Invalidate must only be called after the transaction that produced the
// mutations has committed. Store errors are logged, never returned.
func (c *Coordinator) Invalidate(ctx context.Context, mutations ...Mutation) {
	keys := KeysToInvalidate(mutations...)
	if len(keys) == 0 {
		return
	}
	// Invalidation outlives a cancelled request so a client disconnect
	// after commit does not skip it.
	ctx = context.WithoutCancel(ctx)
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
		return
	}
	c.logger.Debug().Strs("keys", keys).Msg("cache keys invalidated")
}
