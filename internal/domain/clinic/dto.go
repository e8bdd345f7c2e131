package clinic

import (
	"time"

	"github.com/google/uuid"
)

// RegisterPatientRequest registers a patient and takes the registration
// payment in one call.
type RegisterPatientRequest struct {
	FirstName        string     `json:"first_name" validate:"required,max=100"`
	LastName         string     `json:"last_name" validate:"required,max=100"`
	DateOfBirth      string     `json:"date_of_birth" validate:"required,datetime=2006-01-02"`
	Gender           string     `json:"gender" validate:"required,oneof=M F"`
	ContactNumber    string     `json:"contact_number" validate:"max=20"`
	Address          string     `json:"address"`
	AssignedDoctorID *uuid.UUID `json:"assigned_doctor"`
	Amount           Money      `json:"amount" validate:"gt=0"`
	PaymentMethod    string     `json:"payment_method" validate:"required,oneof=cash gateway"`
}

type UpdatePatientRequest struct {
	FirstName        *string    `json:"first_name" validate:"omitempty,max=100"`
	LastName         *string    `json:"last_name" validate:"omitempty,max=100"`
	DateOfBirth      *string    `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Gender           *string    `json:"gender" validate:"omitempty,oneof=M F"`
	ContactNumber    *string    `json:"contact_number" validate:"omitempty,max=20"`
	Address          *string    `json:"address"`
	AssignedDoctorID *uuid.UUID `json:"assigned_doctor"`
}

// AppointmentDraft is a caller's appointment before linkage validation. For
// follow-ups PatientID and DoctorID are ignored and taken from the initial
// appointment.
type AppointmentDraft struct {
	ID                   uuid.UUID  `json:"-"`
	PatientID            *uuid.UUID `json:"patient_id"`
	DoctorID             *uuid.UUID `json:"doctor_id"`
	AppointmentType      string     `json:"appointment_type" validate:"required,oneof=initial follow_up"`
	InitialAppointmentID *uuid.UUID `json:"initial_appointment"`
	TreatmentID          *uuid.UUID `json:"treatment"`
	AppointmentDate      *time.Time `json:"appointment_date"`
	Notes                string     `json:"notes"`
}

// UpdateAppointmentRequest is a partial update. Type and case membership are
// fixed at creation; status moves only through cancel or a treatment.
type UpdateAppointmentRequest struct {
	DoctorID             *uuid.UUID `json:"doctor_id"`
	AppointmentType      *string    `json:"appointment_type" validate:"omitempty,oneof=initial follow_up"`
	InitialAppointmentID *uuid.UUID `json:"initial_appointment"`
	TreatmentID          *uuid.UUID `json:"treatment"`
	AppointmentDate      *time.Time `json:"appointment_date"`
	Status               *string    `json:"status" validate:"omitempty,oneof=pending completed cancelled"`
	Notes                *string    `json:"notes"`
}

type CreateTreatmentRequest struct {
	AppointmentID    uuid.UUID `json:"appointment" validate:"required"`
	Notes            string    `json:"notes"`
	Prescription     string    `json:"prescription"`
	FollowUpRequired bool      `json:"follow_up_required"`
}

type UpdateTreatmentRequest struct {
	Notes            *string `json:"notes"`
	Prescription     *string `json:"prescription"`
	FollowUpRequired *bool   `json:"follow_up_required"`
}

type CreatePaymentRequest struct {
	PatientID uuid.UUID `json:"patient" validate:"required"`
	Amount    Money     `json:"amount" validate:"gt=0"`
	Method    string    `json:"method" validate:"required,oneof=cash gateway"`
}

// WebhookRequest accepts the reference under any of the names the supported
// gateways use.
type WebhookRequest struct {
	TxRef   string `json:"tx_ref" query:"tx_ref"`
	TrxRef  string `json:"trx_ref" query:"trx_ref"`
	OrderID string `json:"order_id" query:"order_id"`
}

func (w *WebhookRequest) Reference() string {
	switch {
	case w.TxRef != "":
		return w.TxRef
	case w.TrxRef != "":
		return w.TrxRef
	default:
		return w.OrderID
	}
}
