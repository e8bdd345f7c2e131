package cache

import (
	"time"

	"github.com/google/uuid"
)

const (
	AllPatients   = "all_patients"
	AllTreatments = "all_treatments"
	AllPayments   = "all_payments"

	// scopeAll is the aggregate scope used in appointment list keys.
	scopeAll = "all"

	dayLayout = "2006-01-02"
)

// Day is the calendar date, in UTC, used in date-scoped keys.
func Day(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

func PatientKey(id uuid.UUID) string {
	return "patient_" + id.String()
}

func PaymentKey(id uuid.UUID) string {
	return "payment_" + id.String()
}

// AppointmentsListKey is appointments_list_<doctor>, or appointments_list_all
// when doctorID is nil.
func AppointmentsListKey(doctorID *uuid.UUID) string {
	return "appointments_list_" + scope(doctorID)
}

// AppointmentsTodayKey is appointments_today_<doctor|all>_<date>.
func AppointmentsTodayKey(doctorID *uuid.UUID, day time.Time) string {
	return "appointments_today_" + scope(doctorID) + "_" + Day(day)
}

func TreatmentsTodayKey(day time.Time) string {
	return "treatments_today_" + Day(day)
}

func scope(doctorID *uuid.UUID) string {
	if doctorID == nil {
		return scopeAll
	}
	return doctorID.String()
}
