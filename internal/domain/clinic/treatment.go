package clinic

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/auth"
	"github.com/healpoint/clinic/internal/platform/cache"
)

// CreateTreatment records the treating doctor's notes for an initial
// appointment. The appointment completes unless a follow-up is required,
// and the patient is marked seen either way.
func (s *Service) CreateTreatment(ctx context.Context, req *CreateTreatmentRequest) (*Treatment, error) {
	p, err := auth.Authorize(ctx, s.authz, auth.ActionCreate, auth.ResourceTreatment)
	if err != nil {
		return nil, err
	}
	if p.Role != auth.RoleDoctor {
		return nil, apperr.Permission(string(auth.ActionCreate), string(auth.ResourceTreatment), "only the assigned doctor can record a treatment")
	}

	var (
		t *Treatment
		a *Appointment
	)
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appointments.GetForUpdate(ctx, req.AppointmentID)
		if err != nil {
			return asFieldError(err, "appointment", "appointment not found")
		}
		if a.Type() != TypeInitial {
			return apperr.Validation("appointment", "treatments are recorded against initial appointments")
		}
		if a.Status == StatusCancelled {
			return apperr.Validation("appointment", "cannot treat a cancelled appointment")
		}
		switch _, err := s.treatments.GetByAppointment(ctx, a.ID); {
		case err == nil:
			return apperr.Validation("appointment", "a treatment already exists for this appointment")
		case !apperr.IsNotFound(err):
			return err
		}
		if !a.SameDoctor(p.UserID) {
			return apperr.Permission(string(auth.ActionCreate), string(auth.ResourceTreatment), "appointment is assigned to another doctor")
		}

		doctorID := p.UserID
		t = &Treatment{
			AppointmentID:    a.ID,
			PatientID:        a.PatientID,
			DoctorID:         &doctorID,
			Notes:            req.Notes,
			Prescription:     req.Prescription,
			FollowUpRequired: req.FollowUpRequired,
		}
		if err := s.treatments.Create(ctx, t); err != nil {
			return err
		}
		if err := s.completeIfDone(ctx, a, t); err != nil {
			return err
		}
		return s.patients.MarkSeen(ctx, a.PatientID)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, treatmentMutation(cache.OpCreate, t, a))
	s.logger.Info().
		Str("treatment_id", t.ID.String()).
		Str("appointment_id", a.ID.String()).
		Bool("follow_up_required", t.FollowUpRequired).
		Msg("treatment recorded")
	return t, nil
}

func (s *Service) GetTreatment(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionRead, auth.ResourceTreatment); err != nil {
		return nil, err
	}
	return s.treatments.GetByID(ctx, id)
}

func (s *Service) ListTreatments(ctx context.Context) ([]*Treatment, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionList, auth.ResourceTreatment); err != nil {
		return nil, err
	}
	return readThrough(ctx, s, cache.AllTreatments, func(ctx context.Context) ([]*Treatment, error) {
		return s.treatments.List(ctx, TreatmentFilter{})
	})
}

func (s *Service) TodayTreatments(ctx context.Context) ([]*Treatment, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionList, auth.ResourceTreatment); err != nil {
		return nil, err
	}
	now := s.now()
	day := NewDate(now)
	return readThrough(ctx, s, cache.TreatmentsTodayKey(now), func(ctx context.Context) ([]*Treatment, error) {
		return s.treatments.List(ctx, TreatmentFilter{Day: &day})
	})
}

// UpdateTreatment edits notes and the follow-up flag. Clearing the flag
// completes a still-pending appointment; setting it never reopens one.
func (s *Service) UpdateTreatment(ctx context.Context, id uuid.UUID, req *UpdateTreatmentRequest) (*Treatment, error) {
	p, err := auth.Authorize(ctx, s.authz, auth.ActionUpdate, auth.ResourceTreatment)
	if err != nil {
		return nil, err
	}
	if p.Role != auth.RoleDoctor {
		return nil, apperr.Permission(string(auth.ActionUpdate), string(auth.ResourceTreatment), "only the treating doctor can edit a treatment")
	}

	var (
		t *Treatment
		a *Appointment
	)
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.treatments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		a, err = s.appointments.GetForUpdate(ctx, t.AppointmentID)
		if err != nil {
			return err
		}
		if t.DoctorID == nil || *t.DoctorID != p.UserID {
			return apperr.Permission(string(auth.ActionUpdate), string(auth.ResourceTreatment), "treatment was recorded by another doctor")
		}

		if req.Notes != nil {
			t.Notes = *req.Notes
		}
		if req.Prescription != nil {
			t.Prescription = *req.Prescription
		}
		if req.FollowUpRequired != nil {
			t.FollowUpRequired = *req.FollowUpRequired
		}
		if err := s.treatments.Update(ctx, t); err != nil {
			return err
		}
		return s.completeIfDone(ctx, a, t)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, treatmentMutation(cache.OpUpdate, t, a))
	return t, nil
}

func (s *Service) DeleteTreatment(ctx context.Context, id uuid.UUID) error {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionDelete, auth.ResourceTreatment); err != nil {
		return err
	}

	var (
		t *Treatment
		a *Appointment
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.treatments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		a, err = s.appointments.GetByID(ctx, t.AppointmentID)
		if err != nil {
			return err
		}
		return s.treatments.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, treatmentMutation(cache.OpDelete, t, a))
	return nil
}

// completeIfDone moves a pending appointment to completed when its
// treatment needs no follow-up.
func (s *Service) completeIfDone(ctx context.Context, a *Appointment, t *Treatment) error {
	if t.FollowUpRequired || a.Status != StatusPending {
		return nil
	}
	ok, err := s.appointments.TransitionStatus(ctx, a.ID, StatusPending, StatusCompleted)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("complete appointment %s: no longer pending", a.ID)
	}
	a.Status = StatusCompleted
	return nil
}

func treatmentMutation(op cache.Op, t *Treatment, a *Appointment) cache.TreatmentMutation {
	return cache.TreatmentMutation{
		Op:          op,
		TreatmentID: t.ID,
		PatientID:   t.PatientID,
		CreatedAt:   t.CreatedAt,
		Appointment: appointmentRef(a),
	}
}
