package clinic

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// Date is a calendar day serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Money is an amount in cents, serialized as a decimal string ("100.00").
type Money int64

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a JSON number or a decimal string with at most two
// fractional digits.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMoney reads a decimal amount with at most two fractional digits,
// e.g. "150", "150.5" or "-0.25", into minor units.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	digits := strings.TrimPrefix(s, "-")
	neg := len(digits) < len(s)

	whole, frac, _ := strings.Cut(digits, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	if whole == "" && frac == "" || !isDigits(whole) || !isDigits(frac) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	var w, f int64
	for _, c := range whole {
		d := int64(c - '0')
		if w > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("amount %q is out of range", s)
		}
		w = w*10 + d
	}
	for i := 0; i < 2; i++ {
		f *= 10
		if i < len(frac) {
			f += int64(frac[i] - '0')
		}
	}
	if w > (math.MaxInt64-f)/100 {
		return 0, fmt.Errorf("amount %q is out of range", s)
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return Money(v), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// -- Patient --

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

// Patient maps to the patient table. QueueDate and QueueNumber are assigned
// once at registration and never change.
type Patient struct {
	ID               uuid.UUID  `json:"id"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	DateOfBirth      Date       `json:"date_of_birth"`
	Gender           Gender     `json:"gender"`
	ContactNumber    string     `json:"contact_number"`
	Address          string     `json:"address"`
	AssignedDoctorID *uuid.UUID `json:"assigned_doctor,omitempty"`
	QueueDate        Date       `json:"queue_date"`
	QueueNumber      int        `json:"queue_number"`
	IsSeen           bool       `json:"is_seen"`
	HasPaid          bool       `json:"has_paid"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// PatientSummary is the patient as embedded in appointment views.
type PatientSummary struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// -- Appointment --

type AppointmentType string

const (
	TypeInitial  AppointmentType = "initial"
	TypeFollowUp AppointmentType = "follow_up"
)

func (t AppointmentType) Valid() bool {
	return t == TypeInitial || t == TypeFollowUp
}

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether s may move to next. Only pending has
// outgoing transitions.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	return s == StatusPending && (next == StatusCompleted || next == StatusCancelled)
}

// Linkage is the appointment's place in a care cycle: either Initial or
// FollowUp.
type Linkage interface {
	Type() AppointmentType
}

// Initial opens a case. It has no links.
type Initial struct{}

func (Initial) Type() AppointmentType { return TypeInitial }

// FollowUp belongs to the case opened by InitialAppointmentID and is backed
// by the treatment recorded for it.
type FollowUp struct {
	InitialAppointmentID uuid.UUID
	TreatmentID          uuid.UUID
	CaseSeq              int
}

func (FollowUp) Type() AppointmentType { return TypeFollowUp }

// Appointment maps to the appointment table. The nullable linkage columns
// are folded into Link.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	Patient   PatientSummary
	DoctorID  *uuid.UUID
	TypeSeq   int
	Link      Linkage
	Date      time.Time
	Status    AppointmentStatus
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Appointment) Type() AppointmentType {
	if a.Link == nil {
		return TypeInitial
	}
	return a.Link.Type()
}

// FollowUpLink returns the follow-up linkage, or false for an initial
// appointment.
func (a *Appointment) FollowUpLink() (FollowUp, bool) {
	f, ok := a.Link.(FollowUp)
	return f, ok
}

// DisplayID is I-<seq> for initial and F-<seq> for follow-up appointments.
func (a *Appointment) DisplayID() string {
	if a.Type() == TypeFollowUp {
		return fmt.Sprintf("F-%d", a.TypeSeq)
	}
	return fmt.Sprintf("I-%d", a.TypeSeq)
}

// SameDoctor reports whether the appointment is assigned to doctorID.
func (a *Appointment) SameDoctor(doctorID uuid.UUID) bool {
	return a.DoctorID != nil && *a.DoctorID == doctorID
}

type appointmentJSON struct {
	ID                   uuid.UUID         `json:"id"`
	DisplayID            string            `json:"display_id"`
	PatientID            uuid.UUID         `json:"patient_id"`
	Patient              PatientSummary    `json:"patient"`
	DoctorID             *uuid.UUID        `json:"doctor_id"`
	AppointmentType      AppointmentType   `json:"appointment_type"`
	TypeSeq              int               `json:"type_seq"`
	CaseFollowupSeq      *int              `json:"case_followup_seq"`
	InitialAppointmentID *uuid.UUID        `json:"initial_appointment"`
	TreatmentID          *uuid.UUID        `json:"treatment"`
	AppointmentDate      time.Time         `json:"appointment_date"`
	Status               AppointmentStatus `json:"status"`
	Notes                string            `json:"notes"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

func (a Appointment) MarshalJSON() ([]byte, error) {
	out := appointmentJSON{
		ID:              a.ID,
		DisplayID:       a.DisplayID(),
		PatientID:       a.PatientID,
		Patient:         a.Patient,
		DoctorID:        a.DoctorID,
		AppointmentType: a.Type(),
		TypeSeq:         a.TypeSeq,
		AppointmentDate: a.Date,
		Status:          a.Status,
		Notes:           a.Notes,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
	if f, ok := a.FollowUpLink(); ok {
		out.InitialAppointmentID = &f.InitialAppointmentID
		out.TreatmentID = &f.TreatmentID
		out.CaseFollowupSeq = &f.CaseSeq
	}
	return json.Marshal(out)
}

func (a *Appointment) UnmarshalJSON(b []byte) error {
	var in appointmentJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*a = Appointment{
		ID:        in.ID,
		PatientID: in.PatientID,
		Patient:   in.Patient,
		DoctorID:  in.DoctorID,
		TypeSeq:   in.TypeSeq,
		Link:      Initial{},
		Date:      in.AppointmentDate,
		Status:    in.Status,
		Notes:     in.Notes,
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
	}
	if in.AppointmentType == TypeFollowUp {
		if in.InitialAppointmentID == nil || in.TreatmentID == nil || in.CaseFollowupSeq == nil {
			return fmt.Errorf("follow-up appointment %s is missing its linkage", in.ID)
		}
		a.Link = FollowUp{
			InitialAppointmentID: *in.InitialAppointmentID,
			TreatmentID:          *in.TreatmentID,
			CaseSeq:              *in.CaseFollowupSeq,
		}
	}
	return nil
}

// -- Treatment --

// Treatment closes the initial appointment it references. There is at most
// one per appointment.
type Treatment struct {
	ID               uuid.UUID  `json:"id"`
	AppointmentID    uuid.UUID  `json:"appointment"`
	PatientID        uuid.UUID  `json:"patient"`
	DoctorID         *uuid.UUID `json:"doctor"`
	Notes            string     `json:"notes"`
	Prescription     string     `json:"prescription"`
	FollowUpRequired bool       `json:"follow_up_required"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// -- Payment --

type PaymentMethod string

const (
	MethodCash    PaymentMethod = "cash"
	MethodGateway PaymentMethod = "gateway"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodCash || m == MethodGateway
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// Payment maps to the payment table. Reference is the tx_ref shared with the
// gateway.
type Payment struct {
	ID          uuid.UUID     `json:"id"`
	PatientID   uuid.UUID     `json:"patient"`
	Amount      Money         `json:"amount"`
	Currency    string        `json:"currency"`
	Method      PaymentMethod `json:"method"`
	Status      PaymentStatus `json:"status"`
	Reference   string        `json:"tx_ref"`
	CheckoutURL string        `json:"checkout_url,omitempty"`
	Failure     string        `json:"failure,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// PaymentOutcome is the result of taking a payment. A registered patient can
// hold a pending or failed payment: registration success and payment
// success are separate facts.
type PaymentOutcome struct {
	Payment     *Payment `json:"payment"`
	Paid        bool     `json:"paid"`
	CheckoutURL string   `json:"checkout_url,omitempty"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Registration is what patient registration returns.
type Registration struct {
	Patient     *Patient        `json:"patient"`
	Appointment *Appointment    `json:"appointment"`
	Payment     *PaymentOutcome `json:"payment"`
}
