package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/auth"
	"github.com/healpoint/clinic/internal/platform/cache"
	"github.com/healpoint/clinic/internal/platform/db"
	"github.com/healpoint/clinic/internal/platform/gateway"
)

// PaymentSettings shapes the checkout requests sent to the gateway.
type PaymentSettings struct {
	Currency    string
	Email       string
	CallbackURL string
	ReturnURL   string
}

type Deps struct {
	Patients     PatientRepository
	Appointments AppointmentRepository
	Treatments   TreatmentRepository
	Payments     PaymentRepository
	Counters     CounterStore
	Tx           db.Transactor
	Doctors      DoctorDirectory
	Authz        auth.Authorizer
	Cache        *cache.Coordinator
	Reader       *cache.Reader
	Gateway      gateway.Client
	Payment      PaymentSettings
	Logger       zerolog.Logger
}

// Service is the appointment/treatment workflow. Every mutation runs in one
// transaction, and cache keys are invalidated only after it commits.
type Service struct {
	patients     PatientRepository
	appointments AppointmentRepository
	treatments   TreatmentRepository
	payments     PaymentRepository
	tx           db.Transactor
	seq          *SequenceAssigner
	linkage      *LinkageValidator
	gate         *PaymentGate
	doctors      DoctorDirectory
	authz        auth.Authorizer
	cache        *cache.Coordinator
	reader       *cache.Reader
	gw           gateway.Client
	payment      PaymentSettings
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		patients:     d.Patients,
		appointments: d.Appointments,
		treatments:   d.Treatments,
		payments:     d.Payments,
		tx:           d.Tx,
		seq:          NewSequenceAssigner(d.Counters),
		linkage:      NewLinkageValidator(d.Patients, d.Appointments, d.Treatments, d.Doctors),
		gate:         NewPaymentGate(d.Payments, d.Payment.Currency),
		doctors:      d.Doctors,
		authz:        d.Authz,
		cache:        d.Cache,
		reader:       d.Reader,
		gw:           d.Gateway,
		payment:      d.Payment,
		logger:       d.Logger.With().Str("component", "clinic").Logger(),
		now:          time.Now,
	}
}

func (s *Service) today() Date {
	return NewDate(s.now())
}

// inTx runs fn in one transaction. A lost uniqueness race surfaces as a
// ConflictError; the whole transaction is then re-run exactly once, which
// re-reads current state and reserves fresh sequence values.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.tx.WithTx(ctx, fn)
	var ce *apperr.ConflictError
	if errors.As(err, &ce) {
		s.logger.Info().Str("resource", ce.Resource).Msg("retrying after conflict")
		err = s.tx.WithTx(ctx, fn)
	}
	return err
}

func (s *Service) invalidate(ctx context.Context, mutations ...cache.Mutation) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, mutations...)
	}
}

// requireDoctorOwnership rejects a doctor acting on another doctor's
// appointment. Other roles are already bounded by the policy.
func requireDoctorOwnership(p auth.Principal, a *Appointment, action auth.Action) error {
	if p.Role != auth.RoleDoctor {
		return nil
	}
	if !a.SameDoctor(p.UserID) {
		return apperr.Permission(string(action), string(auth.ResourceAppointment), "appointment is assigned to another doctor")
	}
	return nil
}

func appointmentRef(a *Appointment) cache.AppointmentRef {
	return cache.AppointmentRef{DoctorID: a.DoctorID, Date: a.Date}
}

func doctorIDs(ids ...*uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if id != nil && !seen[*id] {
			seen[*id] = true
			out = append(out, *id)
		}
	}
	return out
}

func readThrough[T any](ctx context.Context, s *Service, key string, load func(ctx context.Context) (T, error)) (T, error) {
	if s.reader == nil {
		return load(ctx)
	}
	return cache.ReadThrough(ctx, s.reader, key, load)
}
