package clinic

import (
	"context"

	"github.com/google/uuid"

	"github.com/healpoint/clinic/internal/domain/identity"
	"github.com/healpoint/clinic/internal/platform/apperr"
)

// DoctorDirectory resolves doctor references. Doctor reports anything that
// is not an active doctor as not found.
type DoctorDirectory interface {
	Doctor(ctx context.Context, id uuid.UUID) (*identity.User, error)
	DefaultDoctor(ctx context.Context) (*identity.User, error)
}

// ResolvedAppointment is a draft that passed linkage validation, with its
// patient and doctor settled. For a follow-up, Link.CaseSeq is still zero.
type ResolvedAppointment struct {
	Type      AppointmentType
	PatientID uuid.UUID
	Patient   PatientSummary
	DoctorID  *uuid.UUID
	Link      Linkage
	// Initial is the locked initial appointment of a follow-up.
	Initial *Appointment
}

// LinkageValidator enforces the initial -> treatment -> follow-up reference
// graph. It runs inside the caller's transaction: the initial appointment of
// a follow-up stays locked until commit.
type LinkageValidator struct {
	patients     PatientRepository
	appointments AppointmentRepository
	treatments   TreatmentRepository
	doctors      DoctorDirectory
}

func NewLinkageValidator(patients PatientRepository, appointments AppointmentRepository, treatments TreatmentRepository, doctors DoctorDirectory) *LinkageValidator {
	return &LinkageValidator{patients: patients, appointments: appointments, treatments: treatments, doctors: doctors}
}

// Validate checks d and returns the appointment it resolves to. The first
// failing rule is reported as a field-keyed validation error:
//
//  1. an initial appointment has neither initial_appointment nor treatment;
//  2. a follow-up references an existing initial appointment and an existing
//     treatment of the same patient;
//  3. a follow-up takes its patient and doctor from the initial appointment,
//     whatever the caller sent;
//  4. an appointment never references itself.
func (v *LinkageValidator) Validate(ctx context.Context, d *AppointmentDraft) (*ResolvedAppointment, error) {
	switch AppointmentType(d.AppointmentType) {
	case TypeInitial:
		return v.validateInitial(ctx, d)
	case TypeFollowUp:
		return v.validateFollowUp(ctx, d)
	default:
		return nil, apperr.Validation("appointment_type", "must be one of: initial follow_up")
	}
}

func (v *LinkageValidator) validateInitial(ctx context.Context, d *AppointmentDraft) (*ResolvedAppointment, error) {
	if d.InitialAppointmentID != nil {
		return nil, apperr.Validation("initial_appointment", "must be empty for an initial appointment")
	}
	if d.TreatmentID != nil {
		return nil, apperr.Validation("treatment", "must be empty for an initial appointment")
	}
	if d.PatientID == nil {
		return nil, apperr.Validation("patient_id", "this field is required")
	}
	patient, err := v.patients.GetByID(ctx, *d.PatientID)
	if err != nil {
		return nil, asFieldError(err, "patient_id", "patient not found")
	}

	doctorID := d.DoctorID
	if doctorID == nil {
		doctorID = patient.AssignedDoctorID
	}
	if doctorID != nil {
		if _, err := v.doctors.Doctor(ctx, *doctorID); err != nil {
			return nil, asFieldError(err, "doctor_id", "must reference an active doctor")
		}
	}

	return &ResolvedAppointment{
		Type:      TypeInitial,
		PatientID: patient.ID,
		Patient:   PatientSummary{ID: patient.ID, FirstName: patient.FirstName, LastName: patient.LastName},
		DoctorID:  doctorID,
		Link:      Initial{},
	}, nil
}

func (v *LinkageValidator) validateFollowUp(ctx context.Context, d *AppointmentDraft) (*ResolvedAppointment, error) {
	if d.InitialAppointmentID == nil {
		return nil, apperr.Validation("initial_appointment", "this field is required for a follow-up appointment")
	}
	initial, err := v.appointments.GetForUpdate(ctx, *d.InitialAppointmentID)
	if err != nil {
		return nil, asFieldError(err, "initial_appointment", "appointment not found")
	}
	if initial.Type() != TypeInitial {
		return nil, apperr.Validation("initial_appointment", "must reference an initial appointment")
	}

	if d.TreatmentID == nil {
		return nil, apperr.Validation("treatment", "this field is required for a follow-up appointment")
	}
	treatment, err := v.treatments.GetByID(ctx, *d.TreatmentID)
	if err != nil {
		return nil, asFieldError(err, "treatment", "treatment not found")
	}
	if treatment.PatientID != initial.PatientID {
		return nil, apperr.Validation("treatment", "treatment belongs to a different patient")
	}

	if d.ID != uuid.Nil && initial.ID == d.ID {
		return nil, apperr.Validation("initial_appointment", "an appointment cannot reference itself")
	}

	return &ResolvedAppointment{
		Type:      TypeFollowUp,
		PatientID: initial.PatientID,
		Patient:   initial.Patient,
		DoctorID:  initial.DoctorID,
		Link: FollowUp{
			InitialAppointmentID: initial.ID,
			TreatmentID:          treatment.ID,
		},
		Initial: initial,
	}, nil
}

// asFieldError turns a missing referenced row into a validation error on
// field. Other errors pass through.
func asFieldError(err error, field, msg string) error {
	if apperr.IsNotFound(err) {
		return apperr.Validation(field, msg)
	}
	return err
}
