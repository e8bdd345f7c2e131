package clinic

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healpoint/clinic/internal/domain/identity"
	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/auth"
	"github.com/healpoint/clinic/internal/platform/cache"
	"github.com/healpoint/clinic/internal/platform/gateway"
)

// memDB is an in-memory stand-in for the clinic tables. Transactions are
// serialized, which is stricter than the row locks they stand in for, and
// roll back by restoring a snapshot. Unique constraints that the database
// enforces are enforced here too.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	patients     map[uuid.UUID]Patient
	appointments map[uuid.UUID]Appointment
	treatments   map[uuid.UUID]Treatment
	payments     map[uuid.UUID]Payment
	counters     map[string]int

	// failNextCreate makes the next appointment insert lose a uniqueness
	// race once.
	failNextCreate bool
	clock          func() time.Time
}

func newMemDB() *memDB {
	return &memDB{
		patients:     make(map[uuid.UUID]Patient),
		appointments: make(map[uuid.UUID]Appointment),
		treatments:   make(map[uuid.UUID]Treatment),
		payments:     make(map[uuid.UUID]Payment),
		counters:     make(map[string]int),
		clock:        time.Now,
	}
}

type memTxKey struct{}

type memSnapshot struct {
	patients     map[uuid.UUID]Patient
	appointments map[uuid.UUID]Appointment
	treatments   map[uuid.UUID]Treatment
	payments     map[uuid.UUID]Payment
	counters     map[string]int
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *memDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snap := memSnapshot{
		patients:     cloneMap(m.patients),
		appointments: cloneMap(m.appointments),
		treatments:   cloneMap(m.treatments),
		payments:     cloneMap(m.payments),
		counters:     cloneMap(m.counters),
	}
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.patients, m.appointments = snap.patients, snap.appointments
		m.treatments, m.payments = snap.treatments, snap.payments
		m.counters = snap.counters
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memDB) stamp() time.Time { return m.clock().UTC() }

func (m *memDB) hasPaid(patientID uuid.UUID) bool {
	for _, p := range m.payments {
		if p.PatientID == patientID && p.Status == PaymentPaid {
			return true
		}
	}
	return false
}

// -- patients --

type memPatients struct{ db *memDB }

func (r memPatients) Create(_ context.Context, p *Patient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, o := range r.db.patients {
		if o.QueueDate.Equal(p.QueueDate.Time) && o.QueueNumber == p.QueueNumber {
			return apperr.Conflict("patient", "queue number already taken", nil)
		}
	}
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = r.db.stamp(), r.db.stamp()
	r.db.patients[p.ID] = *p
	return nil
}

func (r memPatients) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	p.HasPaid = r.db.hasPaid(id)
	return &p, nil
}

func (r memPatients) GetForUpdate(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.GetByID(ctx, id)
}

func (r memPatients) ExistsWithIdentity(_ context.Context, first, last string, dob Date, exclude uuid.UUID) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.patients {
		if p.ID != exclude && strings.EqualFold(p.FirstName, first) && strings.EqualFold(p.LastName, last) && p.DateOfBirth.Equal(dob.Time) {
			return true, nil
		}
	}
	return false, nil
}

func (r memPatients) Update(_ context.Context, p *Patient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	old, ok := r.db.patients[p.ID]
	if !ok {
		return apperr.NotFound("patient", p.ID)
	}
	p.QueueDate, p.QueueNumber, p.IsSeen = old.QueueDate, old.QueueNumber, old.IsSeen
	p.UpdatedAt = r.db.stamp()
	r.db.patients[p.ID] = *p
	return nil
}

func (r memPatients) MarkSeen(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.patients[id]
	if !ok {
		return apperr.NotFound("patient", id)
	}
	p.IsSeen = true
	r.db.patients[id] = p
	return nil
}

func (r memPatients) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.patients[id]; !ok {
		return apperr.NotFound("patient", id)
	}
	delete(r.db.patients, id)
	for k, a := range r.db.appointments {
		if a.PatientID == id {
			delete(r.db.appointments, k)
		}
	}
	for k, t := range r.db.treatments {
		if t.PatientID == id {
			delete(r.db.treatments, k)
		}
	}
	for k, p := range r.db.payments {
		if p.PatientID == id {
			delete(r.db.payments, k)
		}
	}
	return nil
}

func (r memPatients) List(_ context.Context) ([]*Patient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*Patient
	for _, p := range r.db.patients {
		p := p
		p.HasPaid = r.db.hasPaid(p.ID)
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out, nil
}

// -- appointments --

type memAppointments struct{ db *memDB }

func (r memAppointments) Create(_ context.Context, a *Appointment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failNextCreate {
		r.db.failNextCreate = false
		return apperr.Conflict("appointment", "sequence already taken", nil)
	}
	f, isFollowUp := a.FollowUpLink()
	for _, o := range r.db.appointments {
		if o.Type() == a.Type() && o.TypeSeq == a.TypeSeq {
			return apperr.Conflict("appointment", "type sequence already taken", nil)
		}
		if of, ok := o.FollowUpLink(); ok && isFollowUp &&
			of.InitialAppointmentID == f.InitialAppointmentID && of.CaseSeq == f.CaseSeq {
			return apperr.Conflict("appointment", "case sequence already taken", nil)
		}
	}
	a.ID = uuid.New()
	a.CreatedAt, a.UpdatedAt = r.db.stamp(), r.db.stamp()
	r.db.appointments[a.ID] = *a
	return nil
}

func (r memAppointments) withPatient(a Appointment) *Appointment {
	if p, ok := r.db.patients[a.PatientID]; ok {
		a.Patient = PatientSummary{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName}
	}
	return &a
}

func (r memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.appointments[id]
	if !ok {
		return nil, apperr.NotFound("appointment", id)
	}
	return r.withPatient(a), nil
}

func (r memAppointments) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.GetByID(ctx, id)
}

func (r memAppointments) Update(_ context.Context, a *Appointment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	old, ok := r.db.appointments[a.ID]
	if !ok {
		return apperr.NotFound("appointment", a.ID)
	}
	old.DoctorID, old.Link, old.Date, old.Notes = a.DoctorID, a.Link, a.Date, a.Notes
	old.UpdatedAt = r.db.stamp()
	r.db.appointments[a.ID] = old
	a.UpdatedAt = old.UpdatedAt
	return nil
}

func (r memAppointments) TransitionStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.appointments[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	r.db.appointments[id] = a
	return true, nil
}

func (r memAppointments) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.appointments[id]; !ok {
		return apperr.NotFound("appointment", id)
	}
	for _, a := range r.db.appointments {
		if f, ok := a.FollowUpLink(); ok && f.InitialAppointmentID == id {
			return apperr.Validation("non_field_errors", "appointment is still referenced by follow-ups")
		}
	}
	delete(r.db.appointments, id)
	for k, t := range r.db.treatments {
		if t.AppointmentID == id {
			delete(r.db.treatments, k)
		}
	}
	return nil
}

func (r memAppointments) List(_ context.Context, f AppointmentFilter) ([]*Appointment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*Appointment
	for _, a := range r.db.appointments {
		if f.DoctorID != nil && !a.SameDoctor(*f.DoctorID) {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.InitialID != nil {
			link, ok := a.FollowUpLink()
			if !ok || link.InitialAppointmentID != *f.InitialID {
				continue
			}
		}
		if f.Day != nil && !NewDate(a.Date).Equal(f.Day.Time) {
			continue
		}
		out = append(out, r.withPatient(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// -- treatments --

type memTreatments struct{ db *memDB }

func (r memTreatments) Create(_ context.Context, t *Treatment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, o := range r.db.treatments {
		if o.AppointmentID == t.AppointmentID {
			return apperr.Validation("appointment", "a treatment already exists for this appointment")
		}
	}
	t.ID = uuid.New()
	t.CreatedAt, t.UpdatedAt = r.db.stamp(), r.db.stamp()
	r.db.treatments[t.ID] = *t
	return nil
}

func (r memTreatments) GetByID(_ context.Context, id uuid.UUID) (*Treatment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.treatments[id]
	if !ok {
		return nil, apperr.NotFound("treatment", id)
	}
	return &t, nil
}

func (r memTreatments) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Treatment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, t := range r.db.treatments {
		if t.AppointmentID == appointmentID {
			return &t, nil
		}
	}
	return nil, apperr.NotFound("treatment", appointmentID)
}

func (r memTreatments) Update(_ context.Context, t *Treatment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.treatments[t.ID]; !ok {
		return apperr.NotFound("treatment", t.ID)
	}
	t.UpdatedAt = r.db.stamp()
	r.db.treatments[t.ID] = *t
	return nil
}

func (r memTreatments) Delete(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.treatments[id]; !ok {
		return apperr.NotFound("treatment", id)
	}
	for _, a := range r.db.appointments {
		if f, ok := a.FollowUpLink(); ok && f.TreatmentID == id {
			return apperr.Validation("non_field_errors", "treatment is referenced by a follow-up appointment")
		}
	}
	delete(r.db.treatments, id)
	return nil
}

func (r memTreatments) List(_ context.Context, f TreatmentFilter) ([]*Treatment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*Treatment
	for _, t := range r.db.treatments {
		t := t
		if f.PatientID != nil && t.PatientID != *f.PatientID {
			continue
		}
		if f.Day != nil && !NewDate(t.CreatedAt).Equal(f.Day.Time) {
			continue
		}
		out = append(out, &t)
	}
	return out, nil
}

// -- payments --

type memPayments struct{ db *memDB }

func (r memPayments) Create(_ context.Context, p *Payment) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if p.Status == PaymentPaid && r.db.hasPaid(p.PatientID) {
		return apperr.Conflict("payment", "patient already paid", nil)
	}
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = r.db.stamp(), r.db.stamp()
	r.db.payments[p.ID] = *p
	return nil
}

func (r memPayments) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment", id)
	}
	return &p, nil
}

func (r memPayments) GetByReference(_ context.Context, ref string) (*Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.payments {
		if p.Reference == ref {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("payment", ref)
}

func (r memPayments) HasPaid(_ context.Context, patientID uuid.UUID) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.hasPaid(patientID), nil
}

func (r memPayments) Resolve(_ context.Context, id uuid.UUID, status PaymentStatus, failure string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok || p.Status != PaymentPending {
		return false, nil
	}
	if status == PaymentPaid && r.db.hasPaid(p.PatientID) {
		return false, apperr.Conflict("payment", "patient already paid", nil)
	}
	p.Status, p.Failure = status, failure
	r.db.payments[id] = p
	return true, nil
}

func (r memPayments) SetCheckoutURL(_ context.Context, id uuid.UUID, url string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.payments[id]
	if !ok {
		return apperr.NotFound("payment", id)
	}
	p.CheckoutURL = url
	r.db.payments[id] = p
	return nil
}

func (r memPayments) List(_ context.Context, f PaymentFilter) ([]*Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*Payment
	for _, p := range r.db.payments {
		p := p
		if f.PatientID != nil && p.PatientID != *f.PatientID {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

func (r memPayments) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*Payment
	for _, p := range r.db.payments {
		p := p
		if p.Status == PaymentPending && p.Method == MethodGateway && p.CreatedAt.Before(cutoff) {
			out = append(out, &p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// -- counters --

type memCounters struct{ db *memDB }

// Next seeds a missing counter from the highest stored value, like the
// sequence_counter upsert.
func (c memCounters) Next(_ context.Context, scope Scope) (int, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	key := scope.String()
	if _, ok := c.db.counters[key]; !ok {
		seed := 0
		switch scope.Kind {
		case ScopeAppointmentType:
			for _, a := range c.db.appointments {
				if a.Type() == scope.Type && a.TypeSeq > seed {
					seed = a.TypeSeq
				}
			}
		case ScopeCase:
			for _, a := range c.db.appointments {
				if f, ok := a.FollowUpLink(); ok && f.InitialAppointmentID == scope.InitialID && f.CaseSeq > seed {
					seed = f.CaseSeq
				}
			}
		case ScopeQueue:
			for _, p := range c.db.patients {
				if p.QueueDate.Equal(scope.Day.Time) && p.QueueNumber > seed {
					seed = p.QueueNumber
				}
			}
		}
		c.db.counters[key] = seed
	}
	c.db.counters[key]++
	return c.db.counters[key], nil
}

// -- doctors --

type fakeDoctors struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
	order []uuid.UUID
}

func newFakeDoctors() *fakeDoctors {
	return &fakeDoctors{users: make(map[uuid.UUID]*identity.User)}
}

func (d *fakeDoctors) add(username string, role auth.Role, active bool) *identity.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := &identity.User{ID: uuid.New(), Username: username, Role: role, Active: active}
	d.users[u.ID] = u
	d.order = append(d.order, u.ID)
	return u
}

func (d *fakeDoctors) Doctor(_ context.Context, id uuid.UUID) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok || !u.IsDoctor() || !u.Active {
		return nil, apperr.NotFound("doctor", id)
	}
	return u, nil
}

func (d *fakeDoctors) DefaultDoctor(_ context.Context) (*identity.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range d.order {
		if u := d.users[id]; u.IsDoctor() && u.Active {
			return u, nil
		}
	}
	return nil, nil
}

// -- gateway --

type fakeGateway struct {
	mu        sync.Mutex
	initErr   error
	verifyErr error
	verdicts  map[string]gateway.Status
	inits     []gateway.InitRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verdicts: make(map[string]gateway.Status)}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Initialize(_ context.Context, req gateway.InitRequest) (*gateway.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.inits = append(g.inits, req)
	return &gateway.Checkout{Reference: req.Reference, CheckoutURL: "https://pay.example/" + req.Reference}, nil
}

func (g *fakeGateway) Verify(_ context.Context, ref string) (*gateway.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	st, ok := g.verdicts[ref]
	if !ok {
		st = gateway.StatusPending
	}
	return &gateway.Verification{Reference: ref, Status: st}, nil
}

func (g *fakeGateway) setVerdict(ref string, st gateway.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verdicts[ref] = st
}

// -- harness --

type testEnv struct {
	svc     *Service
	db      *memDB
	doctors *fakeDoctors
	gw      *fakeGateway
	store   *cache.MemoryStore

	admin, reception auth.Principal
	doctorA, doctorB *identity.User
}

func newTestEnv() *testEnv {
	mem := newMemDB()
	doctors := newFakeDoctors()
	gw := newFakeGateway()
	store := cache.NewMemoryStore()
	logger := zerolog.Nop()

	env := &testEnv{
		db:      mem,
		doctors: doctors,
		gw:      gw,
		store:   store,
		doctorA: doctors.add("dr_a", auth.RoleDoctor, true),
		doctorB: doctors.add("dr_b", auth.RoleDoctor, true),
	}
	env.admin = auth.Principal{UserID: uuid.New(), Username: "admin", Role: auth.RoleAdmin}
	env.reception = auth.Principal{UserID: uuid.New(), Username: "front", Role: auth.RoleReceptionist}

	env.svc = NewService(Deps{
		Patients:     memPatients{mem},
		Appointments: memAppointments{mem},
		Treatments:   memTreatments{mem},
		Payments:     memPayments{mem},
		Counters:     memCounters{mem},
		Tx:           mem,
		Doctors:      doctors,
		Authz:        auth.DefaultPolicy(),
		Cache:        cache.NewCoordinator(store, logger),
		Reader:       cache.NewReader(store, time.Minute, logger),
		Gateway:      gw,
		Payment:      PaymentSettings{Currency: "ETB", Email: "billing@clinic.example", ReturnURL: "https://clinic.example/paid"},
		Logger:       logger,
	})
	return env
}

func (e *testEnv) as(p auth.Principal) context.Context {
	return auth.WithPrincipal(context.Background(), p)
}

func (e *testEnv) asDoctor(u *identity.User) context.Context {
	return e.as(u.Principal())
}
