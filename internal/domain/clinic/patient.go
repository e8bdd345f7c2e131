package clinic

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/auth"
	"github.com/healpoint/clinic/internal/platform/cache"
)

const (
	initialConsultationNote = "Initial consultation upon registration."
	errDuplicatePatient     = "Patient with same name and DOB already exists."
)

// RegisterPatient creates the patient with today's queue number, opens the
// initial appointment and takes the registration payment, all in one
// transaction. A gateway checkout is started after commit; if it fails the
// payment is marked failed and the registration still stands.
func (s *Service) RegisterPatient(ctx context.Context, req *RegisterPatientRequest) (*Registration, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionCreate, auth.ResourcePatient); err != nil {
		return nil, err
	}

	method := PaymentMethod(req.PaymentMethod)
	if err := s.gate.CheckRequest(req.Amount, method); err != nil {
		return nil, err
	}
	dob, err := ParseDate(req.DateOfBirth)
	if err != nil {
		return nil, apperr.Validation("date_of_birth", "must be a date in 2006-01-02 format")
	}
	if err := validateGender(req.Gender); err != nil {
		return nil, err
	}
	doctorID, err := s.resolveAssignedDoctor(ctx, req.AssignedDoctorID)
	if err != nil {
		return nil, err
	}

	var reg *Registration
	err = s.inTx(ctx, func(ctx context.Context) error {
		today := s.today()
		dup, err := s.patients.ExistsWithIdentity(ctx, req.FirstName, req.LastName, dob, uuid.Nil)
		if err != nil {
			return err
		}
		if dup {
			return apperr.Validation("non_field_errors", errDuplicatePatient)
		}

		queue, err := s.seq.NextQueueNumber(ctx, today)
		if err != nil {
			return err
		}
		p := &Patient{
			FirstName:        strings.TrimSpace(req.FirstName),
			LastName:         strings.TrimSpace(req.LastName),
			DateOfBirth:      dob,
			Gender:           Gender(req.Gender),
			ContactNumber:    req.ContactNumber,
			Address:          req.Address,
			AssignedDoctorID: doctorID,
			QueueDate:        today,
			QueueNumber:      queue,
		}
		if err := s.patients.Create(ctx, p); err != nil {
			return err
		}

		seq, err := s.seq.NextSequence(ctx, TypeInitial)
		if err != nil {
			return err
		}
		a := &Appointment{
			PatientID: p.ID,
			Patient:   PatientSummary{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName},
			DoctorID:  doctorID,
			TypeSeq:   seq,
			Link:      Initial{},
			Date:      s.now().UTC(),
			Status:    StatusPending,
			Notes:     initialConsultationNote,
		}
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}

		pay, err := s.gate.Authorize(ctx, p.ID, req.Amount, method)
		if err != nil {
			return err
		}
		p.HasPaid = pay.Status == PaymentPaid

		reg = &Registration{
			Patient:     p,
			Appointment: a,
			Payment:     &PaymentOutcome{Payment: pay, Paid: p.HasPaid},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p, a, pay := reg.Patient, reg.Appointment, reg.Payment.Payment
	s.invalidate(ctx,
		cache.PatientMutation{Op: cache.OpCreate, PatientID: p.ID, DoctorIDs: doctorIDs(p.AssignedDoctorID), Today: s.now()},
		cache.AppointmentMutation{Op: cache.OpCreate, AppointmentID: a.ID, Current: appointmentRef(a)},
		cache.PaymentMutation{Op: cache.OpCreate, PaymentID: pay.ID, PatientID: p.ID},
	)
	s.logger.Info().
		Str("patient_id", p.ID.String()).
		Int("queue_number", p.QueueNumber).
		Str("payment_method", string(pay.Method)).
		Msg("patient registered")

	if pay.Method == MethodGateway {
		reg.Payment = s.startCheckout(ctx, pay, p)
	}
	return reg, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionRead, auth.ResourcePatient); err != nil {
		return nil, err
	}
	return readThrough(ctx, s, cache.PatientKey(id), func(ctx context.Context) (*Patient, error) {
		return s.patients.GetByID(ctx, id)
	})
}

func (s *Service) ListPatients(ctx context.Context) ([]*Patient, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionList, auth.ResourcePatient); err != nil {
		return nil, err
	}
	return readThrough(ctx, s, cache.AllPatients, func(ctx context.Context) ([]*Patient, error) {
		return s.patients.List(ctx)
	})
}

// UpdatePatient changes identity and contact fields and the assigned
// doctor. The queue number and seen flag are not writable.
func (s *Service) UpdatePatient(ctx context.Context, id uuid.UUID, req *UpdatePatientRequest) (*Patient, error) {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionUpdate, auth.ResourcePatient); err != nil {
		return nil, err
	}
	if req.Gender != nil {
		if err := validateGender(*req.Gender); err != nil {
			return nil, err
		}
	}
	var newDOB *Date
	if req.DateOfBirth != nil {
		d, err := ParseDate(*req.DateOfBirth)
		if err != nil {
			return nil, apperr.Validation("date_of_birth", "must be a date in 2006-01-02 format")
		}
		newDOB = &d
	}
	if req.AssignedDoctorID != nil {
		if _, err := s.doctors.Doctor(ctx, *req.AssignedDoctorID); err != nil {
			return nil, asFieldError(err, "assigned_doctor", "must reference an active doctor")
		}
	}

	var (
		p            *Patient
		prevDoctor   *uuid.UUID
		appointments []*Appointment
	)
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.patients.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		prevDoctor = p.AssignedDoctorID

		if req.FirstName != nil {
			p.FirstName = strings.TrimSpace(*req.FirstName)
		}
		if req.LastName != nil {
			p.LastName = strings.TrimSpace(*req.LastName)
		}
		if newDOB != nil {
			p.DateOfBirth = *newDOB
		}
		if req.Gender != nil {
			p.Gender = Gender(*req.Gender)
		}
		if req.ContactNumber != nil {
			p.ContactNumber = *req.ContactNumber
		}
		if req.Address != nil {
			p.Address = *req.Address
		}
		if req.AssignedDoctorID != nil {
			p.AssignedDoctorID = req.AssignedDoctorID
		}

		if req.FirstName != nil || req.LastName != nil || newDOB != nil {
			dup, err := s.patients.ExistsWithIdentity(ctx, p.FirstName, p.LastName, p.DateOfBirth, p.ID)
			if err != nil {
				return err
			}
			if dup {
				return apperr.Validation("non_field_errors", errDuplicatePatient)
			}
		}

		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		appointments, err = s.appointments.List(ctx, AppointmentFilter{PatientID: &p.ID})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.PatientMutation{
		Op:           cache.OpUpdate,
		PatientID:    p.ID,
		DoctorIDs:    doctorIDs(prevDoctor, p.AssignedDoctorID),
		Today:        s.now(),
		Appointments: appointmentRefs(appointments),
	})
	return p, nil
}

// DeletePatient removes the patient; appointments, treatments and payments
// go with it.
func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	if _, err := auth.Authorize(ctx, s.authz, auth.ActionDelete, auth.ResourcePatient); err != nil {
		return err
	}

	var mutation cache.PatientMutation
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		appointments, err := s.appointments.List(ctx, AppointmentFilter{PatientID: &id})
		if err != nil {
			return err
		}
		treatments, err := s.treatments.List(ctx, TreatmentFilter{PatientID: &id})
		if err != nil {
			return err
		}
		payments, err := s.payments.List(ctx, PaymentFilter{PatientID: &id})
		if err != nil {
			return err
		}

		mutation = cache.PatientMutation{
			Op:           cache.OpDelete,
			PatientID:    id,
			DoctorIDs:    doctorIDs(p.AssignedDoctorID),
			Today:        s.now(),
			Appointments: appointmentRefs(appointments),
		}
		for _, t := range treatments {
			mutation.TreatmentDates = append(mutation.TreatmentDates, t.CreatedAt)
		}
		for _, pay := range payments {
			mutation.PaymentIDs = append(mutation.PaymentIDs, pay.ID)
		}
		return s.patients.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, mutation)
	s.logger.Info().Str("patient_id", id.String()).Msg("patient deleted")
	return nil
}

// PatientHasPaid reports whether the patient holds a paid payment.
func (s *Service) PatientHasPaid(ctx context.Context, patientID uuid.UUID) (bool, error) {
	return s.payments.HasPaid(ctx, patientID)
}

func (s *Service) resolveAssignedDoctor(ctx context.Context, id *uuid.UUID) (*uuid.UUID, error) {
	if id != nil {
		if _, err := s.doctors.Doctor(ctx, *id); err != nil {
			return nil, asFieldError(err, "assigned_doctor", "must reference an active doctor")
		}
		return id, nil
	}
	doc, err := s.doctors.DefaultDoctor(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return &doc.ID, nil
}

func validateGender(g string) error {
	switch Gender(g) {
	case GenderMale, GenderFemale:
		return nil
	default:
		return apperr.Validation("gender", "must be one of: M F")
	}
}

func appointmentRefs(as []*Appointment) []cache.AppointmentRef {
	out := make([]cache.AppointmentRef, 0, len(as))
	for _, a := range as {
		out = append(out, appointmentRef(a))
	}
	return out
}
