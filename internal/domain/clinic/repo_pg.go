package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/db"
)

type scannable interface {
	Scan(dest ...interface{}) error
}

// whereBuilder accumulates AND-ed conditions with numbered placeholders.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

func (w *whereBuilder) add(cond string, args ...interface{}) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func dayRange(d Date) (time.Time, time.Time) {
	start := d.Time
	return start, start.AddDate(0, 0, 1)
}

// -- Patient --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `p.id, p.first_name, p.last_name, p.date_of_birth, p.gender, p.contact_number, p.address,
	p.assigned_doctor_id, p.queue_date, p.queue_number, p.is_seen,
	EXISTS (SELECT 1 FROM payment pay WHERE pay.patient_id = p.id AND pay.status = 'paid') AS has_paid,
	p.created_at, p.updated_at`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, first_name, last_name, date_of_birth, gender, contact_number, address,
			assigned_doctor_id, queue_date, queue_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth.Time, string(p.Gender), p.ContactNumber, p.Address,
		p.AssignedDoctorID, p.QueueDate.Time, p.QueueNumber,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if c, ok := db.IsUniqueViolation(err); ok {
		return apperr.Conflict("patient", "queue number already taken ("+c+")", err)
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("assigned_doctor", "must reference an existing user")
	}
	if err != nil {
		return fmt.Errorf("patient create: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, `SELECT `+patientCols+` FROM patient p WHERE p.id = $1`, id)
}

func (r *patientRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.get(ctx, `SELECT `+patientCols+` FROM patient p WHERE p.id = $1 FOR UPDATE OF p`, id)
}

func (r *patientRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, fmt.Errorf("patient get: %w", err)
	}
	return p, nil
}

func (r *patientRepoPG) ExistsWithIdentity(ctx context.Context, firstName, lastName string, dob Date, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patient
			WHERE lower(first_name) = lower($1) AND lower(last_name) = lower($2)
			  AND date_of_birth = $3 AND id <> $4
		)`,
		strings.TrimSpace(firstName), strings.TrimSpace(lastName), dob.Time, exclude,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("patient identity check: %w", err)
	}
	return exists, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET first_name=$2, last_name=$3, date_of_birth=$4, gender=$5, contact_number=$6,
			address=$7, assigned_doctor_id=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth.Time, string(p.Gender), p.ContactNumber,
		p.Address, p.AssignedDoctorID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("patient", p.ID)
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("assigned_doctor", "must reference an existing user")
	}
	if err != nil {
		return fmt.Errorf("patient update: %w", err)
	}
	return nil
}

func (r *patientRepoPG) MarkSeen(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE patient SET is_seen = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patient mark seen: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient", id)
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("patient delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient", id)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context) ([]*Patient, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+patientCols+` FROM patient p ORDER BY p.queue_date DESC, p.queue_number`)
	if err != nil {
		return nil, fmt.Errorf("patient list: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPatient(row scannable) (*Patient, error) {
	var (
		p             Patient
		dob, queueDay time.Time
		gender        string
	)
	err := row.Scan(&p.ID, &p.FirstName, &p.LastName, &dob, &gender, &p.ContactNumber, &p.Address,
		&p.AssignedDoctorID, &queueDay, &p.QueueNumber, &p.IsSeen, &p.HasPaid, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.DateOfBirth = NewDate(dob)
	p.QueueDate = NewDate(queueDay)
	p.Gender = Gender(gender)
	return &p, nil
}

// -- Appointment --

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const appointmentCols = `a.id, a.patient_id, p.first_name, p.last_name, a.doctor_id, a.appointment_type, a.type_seq,
	a.case_followup_seq, a.initial_appointment_id, a.treatment_id, a.appointment_date, a.status, a.notes,
	a.created_at, a.updated_at`

const appointmentFrom = ` FROM appointment a JOIN patient p ON p.id = a.patient_id`

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	var (
		initialID, treatmentID *uuid.UUID
		caseSeq                *int
	)
	if f, ok := a.FollowUpLink(); ok {
		initialID, treatmentID, caseSeq = &f.InitialAppointmentID, &f.TreatmentID, &f.CaseSeq
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, appointment_type, type_seq, case_followup_seq,
			initial_appointment_id, treatment_id, appointment_date, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, string(a.Type()), a.TypeSeq, caseSeq,
		initialID, treatmentID, a.Date, string(a.Status), a.Notes,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if c, ok := db.IsUniqueViolation(err); ok {
		return apperr.Conflict("appointment", "sequence already taken ("+c+")", err)
	}
	if db.IsCheckViolation(err) {
		return apperr.Validation("appointment_type", "inconsistent appointment linkage")
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("non_field_errors", "appointment references a missing record")
	}
	if err != nil {
		return fmt.Errorf("appointment create: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+appointmentCols+appointmentFrom+` WHERE a.id = $1`, id)
}

func (r *appointmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.get(ctx, `SELECT `+appointmentCols+appointmentFrom+` WHERE a.id = $1 FOR UPDATE OF a`, id)
}

func (r *appointmentRepoPG) get(ctx context.Context, query string, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("appointment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("appointment get: %w", err)
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	var treatmentID *uuid.UUID
	if f, ok := a.FollowUpLink(); ok {
		treatmentID = &f.TreatmentID
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET doctor_id=$2, treatment_id=$3, appointment_date=$4, notes=$5, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.DoctorID, treatmentID, a.Date, a.Notes,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("appointment", a.ID)
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("non_field_errors", "appointment references a missing record")
	}
	if err != nil {
		return fmt.Errorf("appointment update: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) TransitionStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE appointment SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("appointment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *appointmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM appointment WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("non_field_errors", "appointment is still referenced by follow-ups")
	}
	if err != nil {
		return fmt.Errorf("appointment delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("appointment", id)
	}
	return nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter) ([]*Appointment, error) {
	var w whereBuilder
	if f.DoctorID != nil {
		w.add("a.doctor_id = ?", *f.DoctorID)
	}
	if f.PatientID != nil {
		w.add("a.patient_id = ?", *f.PatientID)
	}
	if f.InitialID != nil {
		w.add("a.initial_appointment_id = ?", *f.InitialID)
	}
	if f.Day != nil {
		start, end := dayRange(*f.Day)
		w.add("a.appointment_date >= ? AND a.appointment_date < ?", start, end)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+appointmentCols+appointmentFrom+w.String()+` ORDER BY a.appointment_date, a.created_at`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("appointment list: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppointment(row scannable) (*Appointment, error) {
	var (
		a                      Appointment
		typ, status            string
		caseSeq                *int
		initialID, treatmentID *uuid.UUID
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.Patient.FirstName, &a.Patient.LastName, &a.DoctorID, &typ, &a.TypeSeq,
		&caseSeq, &initialID, &treatmentID, &a.Date, &status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Patient.ID = a.PatientID
	a.Status = AppointmentStatus(status)
	a.Link = Initial{}
	if AppointmentType(typ) == TypeFollowUp && initialID != nil && treatmentID != nil && caseSeq != nil {
		a.Link = FollowUp{InitialAppointmentID: *initialID, TreatmentID: *treatmentID, CaseSeq: *caseSeq}
	}
	return &a, nil
}

// -- Treatment --

type treatmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewTreatmentRepo(pool *pgxpool.Pool) TreatmentRepository {
	return &treatmentRepoPG{pool: pool}
}

const treatmentCols = `id, appointment_id, patient_id, doctor_id, notes, prescription, follow_up_required, created_at, updated_at`

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO treatment (id, appointment_id, patient_id, doctor_id, notes, prescription, follow_up_required)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		t.ID, t.AppointmentID, t.PatientID, t.DoctorID, t.Notes, t.Prescription, t.FollowUpRequired,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if _, ok := db.IsUniqueViolation(err); ok {
		return apperr.Validation("appointment", "a treatment already exists for this appointment")
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("appointment", "appointment not found")
	}
	if err != nil {
		return fmt.Errorf("treatment create: %w", err)
	}
	return nil
}

func (r *treatmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	t, err := scanTreatment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+treatmentCols+` FROM treatment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("treatment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("treatment get: %w", err)
	}
	return t, nil
}

func (r *treatmentRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Treatment, error) {
	t, err := scanTreatment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+treatmentCols+` FROM treatment WHERE appointment_id = $1`, appointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("treatment", appointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("treatment get by appointment: %w", err)
	}
	return t, nil
}

func (r *treatmentRepoPG) Update(ctx context.Context, t *Treatment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE treatment SET notes=$2, prescription=$3, follow_up_required=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Notes, t.Prescription, t.FollowUpRequired,
	).Scan(&t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("treatment", t.ID)
	}
	if err != nil {
		return fmt.Errorf("treatment update: %w", err)
	}
	return nil
}

func (r *treatmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM treatment WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("non_field_errors", "treatment is referenced by a follow-up appointment")
	}
	if err != nil {
		return fmt.Errorf("treatment delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("treatment", id)
	}
	return nil
}

func (r *treatmentRepoPG) List(ctx context.Context, f TreatmentFilter) ([]*Treatment, error) {
	var w whereBuilder
	if f.PatientID != nil {
		w.add("patient_id = ?", *f.PatientID)
	}
	if f.Day != nil {
		start, end := dayRange(*f.Day)
		w.add("created_at >= ? AND created_at < ?", start, end)
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+treatmentCols+` FROM treatment`+w.String()+` ORDER BY created_at DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("treatment list: %w", err)
	}
	defer rows.Close()

	var out []*Treatment
	for rows.Next() {
		t, err := scanTreatment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTreatment(row scannable) (*Treatment, error) {
	var t Treatment
	err := row.Scan(&t.ID, &t.AppointmentID, &t.PatientID, &t.DoctorID, &t.Notes, &t.Prescription,
		&t.FollowUpRequired, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// -- Payment --

type paymentRepoPG struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

const paymentCols = `id, patient_id, amount_cents, currency, method, status, reference, checkout_url, failure, created_at, updated_at`

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payment (id, patient_id, amount_cents, currency, method, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		p.ID, p.PatientID, int64(p.Amount), p.Currency, string(p.Method), string(p.Status), p.Reference,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if c, ok := db.IsUniqueViolation(err); ok {
		return apperr.Conflict("payment", "payment constraint "+c, err)
	}
	if db.IsForeignKeyViolation(err) {
		return apperr.Validation("patient", "patient not found")
	}
	if err != nil {
		return fmt.Errorf("payment create: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment", id)
	}
	if err != nil {
		return nil, fmt.Errorf("payment get: %w", err)
	}
	return p, nil
}

func (r *paymentRepoPG) GetByReference(ctx context.Context, reference string) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE reference = $1`, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment", reference)
	}
	if err != nil {
		return nil, fmt.Errorf("payment get by reference: %w", err)
	}
	return p, nil
}

func (r *paymentRepoPG) HasPaid(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var paid bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment WHERE patient_id = $1 AND status = 'paid')`, patientID).Scan(&paid)
	if err != nil {
		return false, fmt.Errorf("payment has paid: %w", err)
	}
	return paid, nil
}

// Resolve moves a pending payment to status. It reports false when the
// payment was no longer pending.
func (r *paymentRepoPG) Resolve(ctx context.Context, id uuid.UUID, status PaymentStatus, failure string) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE payment SET status = $2, failure = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id, string(status), failure)
	if c, ok := db.IsUniqueViolation(err); ok {
		return false, apperr.Conflict("payment", "payment constraint "+c, err)
	}
	if err != nil {
		return false, fmt.Errorf("payment resolve: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepoPG) SetCheckoutURL(ctx context.Context, id uuid.UUID, url string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE payment SET checkout_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	if err != nil {
		return fmt.Errorf("payment checkout url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("payment", id)
	}
	return nil
}

func (r *paymentRepoPG) List(ctx context.Context, f PaymentFilter) ([]*Payment, error) {
	var w whereBuilder
	if f.PatientID != nil {
		w.add("patient_id = ?", *f.PatientID)
	}
	return r.list(ctx, `SELECT `+paymentCols+` FROM payment`+w.String()+` ORDER BY created_at DESC`, w.args...)
}

func (r *paymentRepoPG) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Payment, error) {
	return r.list(ctx, `
		SELECT `+paymentCols+` FROM payment
		WHERE status = 'pending' AND method = 'gateway' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, cutoff, limit)
}

func (r *paymentRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payment list: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row scannable) (*Payment, error) {
	var (
		p              Payment
		amount         int64
		method, status string
	)
	err := row.Scan(&p.ID, &p.PatientID, &amount, &p.Currency, &method, &status, &p.Reference,
		&p.CheckoutURL, &p.Failure, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Amount = Money(amount)
	p.Method = PaymentMethod(method)
	p.Status = PaymentStatus(status)
	return &p, nil
}

// -- Counters --

type counterStorePG struct {
	pool *pgxpool.Pool
}

func NewCounterStore(pool *pgxpool.Pool) CounterStore {
	return &counterStorePG{pool: pool}
}

// Next increments the scope's counter under its row lock. A missing counter
// is seeded from the highest value already stored, so rows written before
// the counter existed are never reissued.
func (s *counterStorePG) Next(ctx context.Context, scope Scope) (int, error) {
	var (
		seed string
		arg  interface{}
	)
	switch scope.Kind {
	case ScopeAppointmentType:
		seed = `SELECT COALESCE(MAX(type_seq), 0) FROM appointment WHERE appointment_type = $2`
		arg = string(scope.Type)
	case ScopeCase:
		seed = `SELECT COALESCE(MAX(case_followup_seq), 0) FROM appointment WHERE initial_appointment_id = $2`
		arg = scope.InitialID
	case ScopeQueue:
		seed = `SELECT COALESCE(MAX(queue_number), 0) FROM patient WHERE queue_date = $2`
		arg = scope.Day.Time
	default:
		return 0, fmt.Errorf("unknown counter scope %q", scope.Kind)
	}

	var v int
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO sequence_counter (scope, last_value)
		VALUES ($1, (`+seed+`) + 1)
		ON CONFLICT (scope) DO UPDATE SET last_value = sequence_counter.last_value + 1
		RETURNING last_value`, scope.String(), arg).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("counter %s: %w", scope, err)
	}
	return v, nil
}
