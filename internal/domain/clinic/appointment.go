package clinic

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/auth"
	"github.com/healpoint/clinic/internal/platform/cache"
)

// CreateAppointment validates the draft's linkage, reserves its sequence
// numbers and stores it, in one transaction. Checks run in a fixed order:
// role permission, linkage, doctor ownership, then sequence reservation.
func (s *Service) CreateAppointment(ctx context.Context, d *AppointmentDraft) (*Appointment, error) {
	p, err := auth.Authorize(ctx, s.authz, auth.ActionCreate, auth.ResourceAppointment)
	if err != nil {
		return nil, err
	}

	var a *Appointment
	err = s.inTx(ctx, func(ctx context.Context) error {
		r, err := s.linkage.Validate(ctx, d)
		if err != nil {
			return err
		}
		if r.Type == TypeInitial && r.DoctorID == nil && p.Role == auth.RoleDoctor {
			id := p.UserID
			r.DoctorID = &id
		}
		if p.Role == auth.RoleDoctor && (r.DoctorID == nil || *r.DoctorID != p.UserID) {
			return apperr.Permission(string(auth.ActionCreate), string(auth.ResourceAppointment), "appointment is assigned to another doctor")
		}

		seq, err := s.seq.NextSequence(ctx, r.Type)
		if err != nil {
			return err
		}
		link := r.Link
		if f, ok := link.(FollowUp); ok {
			f.CaseSeq, err = s.seq.NextCaseSequence(ctx, f.InitialAppointmentID)
			if err != nil {
				return err
			}
			link = f
		}

		date := s.now().UTC()
		if d.AppointmentDate != nil {
			date = d.AppointmentDate.UTC()
		}
		a = &Appointment{
			PatientID: r.PatientID,
			Patient:   r.Patient,
			DoctorID:  r.DoctorID,
			TypeSeq:   seq,
			Link:      link,
			Date:      date,
			Status:    StatusPending,
			Notes:     d.Notes,
		}
		return s.appointments.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.AppointmentMutation{Op: cache.OpCreate, AppointmentID: a.ID, Current: appointmentRef(a)})
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("display_id", a.DisplayID()).
		Msg("appointment created")
	return a, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionRead, auth.ResourceAppointment); err != nil {
		return nil, err
	}
	return s.appointments.GetByID(ctx, id)
}

// ListAppointments lists every appointment, or one doctor's when doctorID is
// set.
func (s *Service) ListAppointments(ctx context.Context, doctorID *uuid.UUID) ([]*Appointment, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionList, auth.ResourceAppointment); err != nil {
		return nil, err
	}
	return readThrough(ctx, s, cache.AppointmentsListKey(doctorID), func(ctx context.Context) ([]*Appointment, error) {
		return s.appointments.List(ctx, AppointmentFilter{DoctorID: doctorID})
	})
}

// TodayAppointments returns today's appointments. A doctor always gets their
// own; other roles get every doctor's unless doctorID narrows it.
func (s *Service) TodayAppointments(ctx context.Context, doctorID *uuid.UUID) ([]*Appointment, error) {
	p, err := auth.Authorize(ctx, s.authz, auth.ActionList, auth.ResourceAppointment)
	if err != nil {
		return nil, err
	}
	if p.Role == auth.RoleDoctor {
		id := p.UserID
		doctorID = &id
	}

	now := s.now()
	day := NewDate(now)
	return readThrough(ctx, s, cache.AppointmentsTodayKey(doctorID, now), func(ctx context.Context) ([]*Appointment, error) {
		return s.appointments.List(ctx, AppointmentFilter{DoctorID: doctorID, Day: &day})
	})
}

// UpdateAppointment reschedules, reassigns or annotates an appointment.
// Type and case membership are fixed at creation, and status only moves
// through CancelAppointment or a treatment. Reassigning an initial
// appointment moves its follow-ups with it.
func (s *Service) UpdateAppointment(ctx context.Context, id uuid.UUID, req *UpdateAppointmentRequest) (*Appointment, error) {
	p, err := auth.Authorize(ctx, s.authz, auth.ActionUpdate, auth.ResourceAppointment)
	if err != nil {
		return nil, err
	}

	var (
		a         *Appointment
		mutations []cache.Mutation
	)
	err = s.inTx(ctx, func(ctx context.Context) error {
		mutations = mutations[:0]
		var err error
		a, err = s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := requireDoctorOwnership(p, a, auth.ActionUpdate); err != nil {
			return err
		}
		prev := appointmentRef(a)

		if req.AppointmentType != nil && AppointmentType(*req.AppointmentType) != a.Type() {
			return apperr.Validation("appointment_type", "cannot be changed after creation")
		}
		if req.Status != nil && AppointmentStatus(*req.Status) != a.Status {
			return apperr.Validation("status", "changes only through cancellation or a treatment")
		}
		if a.Status.Terminal() && (req.DoctorID != nil || req.AppointmentDate != nil) {
			return apperr.Validation("status", fmt.Sprintf("a %s appointment cannot be rescheduled or reassigned", a.Status))
		}

		var followUps []*Appointment
		if f, ok := a.FollowUpLink(); ok {
			if req.InitialAppointmentID != nil && *req.InitialAppointmentID != f.InitialAppointmentID {
				return apperr.Validation("initial_appointment", "cannot be changed after creation")
			}
			if req.DoctorID != nil && !a.SameDoctor(*req.DoctorID) {
				return apperr.Validation("doctor_id", "a follow-up keeps the doctor of its initial appointment")
			}
			if req.TreatmentID != nil && *req.TreatmentID != f.TreatmentID {
				r, err := s.linkage.Validate(ctx, &AppointmentDraft{
					ID:                   a.ID,
					AppointmentType:      string(TypeFollowUp),
					InitialAppointmentID: &f.InitialAppointmentID,
					TreatmentID:          req.TreatmentID,
				})
				if err != nil {
					return err
				}
				f.TreatmentID = r.Link.(FollowUp).TreatmentID
				a.Link = f
			}
		} else {
			if req.InitialAppointmentID != nil {
				return apperr.Validation("initial_appointment", "must be empty for an initial appointment")
			}
			if req.TreatmentID != nil {
				return apperr.Validation("treatment", "must be empty for an initial appointment")
			}
			if req.DoctorID != nil && !a.SameDoctor(*req.DoctorID) {
				if _, err := s.doctors.Doctor(ctx, *req.DoctorID); err != nil {
					return asFieldError(err, "doctor_id", "must reference an active doctor")
				}
				a.DoctorID = req.DoctorID
				followUps, err = s.appointments.List(ctx, AppointmentFilter{InitialID: &a.ID})
				if err != nil {
					return err
				}
			}
		}

		if req.AppointmentDate != nil {
			a.Date = req.AppointmentDate.UTC()
		}
		if req.Notes != nil {
			a.Notes = *req.Notes
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}

		m := cache.AppointmentMutation{Op: cache.OpUpdate, AppointmentID: a.ID, Current: appointmentRef(a)}
		if cur := appointmentRef(a); !sameRef(cur, prev) {
			m.Previous = &prev
		}
		mutations = append(mutations, m)

		for _, fu := range followUps {
			fuPrev := appointmentRef(fu)
			fu.DoctorID = a.DoctorID
			if err := s.appointments.Update(ctx, fu); err != nil {
				return err
			}
			mutations = append(mutations, cache.AppointmentMutation{
				Op:            cache.OpUpdate,
				AppointmentID: fu.ID,
				Current:       appointmentRef(fu),
				Previous:      &fuPrev,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, mutations...)
	return a, nil
}

// CancelAppointment moves a pending appointment to cancelled. It is refused
// once the patient has been seen.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	p, err := auth.Authorize(ctx, s.authz, auth.ActionCancel, auth.ResourceAppointment)
	if err != nil {
		return nil, err
	}

	var a *Appointment
	err = s.inTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := requireDoctorOwnership(p, a, auth.ActionCancel); err != nil {
			return err
		}
		if !a.Status.CanTransition(StatusCancelled) {
			return apperr.Validation("status", fmt.Sprintf("cannot cancel a %s appointment", a.Status))
		}

		patient, err := s.patients.GetForUpdate(ctx, a.PatientID)
		if err != nil {
			return err
		}
		if patient.IsSeen {
			return apperr.Validation("status", "cannot cancel after the patient has been seen")
		}

		ok, err := s.appointments.TransitionStatus(ctx, a.ID, StatusPending, StatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Validation("status", "appointment is no longer pending")
		}
		a.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.AppointmentMutation{Op: cache.OpUpdate, AppointmentID: a.ID, Current: appointmentRef(a)})
	s.logger.Info().Str("appointment_id", a.ID.String()).Msg("appointment cancelled")
	return a, nil
}

// DeleteAppointment removes an appointment. An initial appointment can only
// go once its follow-ups are gone, and takes its treatment with it.
func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionDelete, auth.ResourceAppointment); err != nil {
		return err
	}

	var mutations []cache.Mutation
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		mutations = append(mutations, cache.AppointmentMutation{Op: cache.OpDelete, AppointmentID: a.ID, Current: appointmentRef(a)})

		if a.Type() == TypeInitial {
			followUps, err := s.appointments.List(ctx, AppointmentFilter{InitialID: &a.ID})
			if err != nil {
				return err
			}
			if len(followUps) > 0 {
				return apperr.Validation("appointment", fmt.Sprintf("appointment has %d follow-up appointment(s); delete them first", len(followUps)))
			}

			t, err := s.treatments.GetByAppointment(ctx, a.ID)
			switch {
			case err == nil:
				mutations = append(mutations, cache.TreatmentMutation{
					Op:          cache.OpDelete,
					TreatmentID: t.ID,
					PatientID:   t.PatientID,
					CreatedAt:   t.CreatedAt,
					Appointment: appointmentRef(a),
				})
			case !apperr.IsNotFound(err):
				return err
			}
		}
		return s.appointments.Delete(ctx, a.ID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, mutations...)
	return nil
}

func sameRef(a, b cache.AppointmentRef) bool {
	if !a.Date.Equal(b.Date) {
		return false
	}
	if a.DoctorID == nil || b.DoctorID == nil {
		return a.DoctorID == nil && b.DoctorID == nil
	}
	return *a.DoctorID == *b.DoctorID
}
