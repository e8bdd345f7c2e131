package clinic

import (
	"context"
	"errors"
	"testing"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/cache"
)

func registerReq(first string, method PaymentMethod) *RegisterPatientRequest {
	return &RegisterPatientRequest{
		FirstName:     first,
		LastName:      "Tesfaye",
		DateOfBirth:   "1990-04-12",
		Gender:        "F",
		ContactNumber: "0911000000",
		Amount:        Money(10000),
		PaymentMethod: string(method),
	}
}

func mustRegister(t *testing.T, env *testEnv, first string, method PaymentMethod) *Registration {
	t.Helper()
	reg, err := env.svc.RegisterPatient(env.as(env.reception), registerReq(first, method))
	if err != nil {
		t.Fatalf("register %s: %v", first, err)
	}
	return reg
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	for f := range ve.Fields {
		return f
	}
	return ""
}

func TestRegisterPatient_Cash(t *testing.T) {
	env := newTestEnv()
	reg := mustRegister(t, env, "Hanna", MethodCash)

	if reg.Patient.QueueNumber != 1 {
		t.Errorf("expected queue number 1, got %d", reg.Patient.QueueNumber)
	}
	if !reg.Patient.HasPaid || !reg.Payment.Paid {
		t.Error("expected cash registration to be paid")
	}
	if reg.Payment.Payment.Status != PaymentPaid {
		t.Errorf("expected payment status paid, got %s", reg.Payment.Payment.Status)
	}
	a := reg.Appointment
	if a.DisplayID() != "I-1" {
		t.Errorf("expected I-1, got %s", a.DisplayID())
	}
	if a.Notes != initialConsultationNote {
		t.Errorf("unexpected notes %q", a.Notes)
	}
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if !a.SameDoctor(env.doctorA.ID) {
		t.Error("expected the first active doctor to be assigned by default")
	}
}

func TestRegisterPatient_QueueAndSequenceAdvance(t *testing.T) {
	env := newTestEnv()
	mustRegister(t, env, "Hanna", MethodCash)
	reg := mustRegister(t, env, "Selam", MethodCash)

	if reg.Patient.QueueNumber != 2 {
		t.Errorf("expected queue number 2, got %d", reg.Patient.QueueNumber)
	}
	if reg.Appointment.TypeSeq != 2 {
		t.Errorf("expected type_seq 2, got %d", reg.Appointment.TypeSeq)
	}
}

func TestRegisterPatient_Duplicate(t *testing.T) {
	env := newTestEnv()
	mustRegister(t, env, "Hanna", MethodCash)

	req := registerReq("hanna", MethodCash)
	_, err := env.svc.RegisterPatient(env.as(env.reception), req)
	if f := fieldOf(t, err); f != "non_field_errors" {
		t.Errorf("expected non_field_errors, got %q", f)
	}

	patients, _ := env.svc.ListPatients(env.as(env.admin))
	if len(patients) != 1 {
		t.Errorf("expected the duplicate to roll back, got %d patients", len(patients))
	}
}

func TestRegisterPatient_RejectsBadInput(t *testing.T) {
	env := newTestEnv()
	tests := []struct {
		name  string
		edit  func(r *RegisterPatientRequest)
		field string
	}{
		{"zero amount", func(r *RegisterPatientRequest) { r.Amount = 0 }, "amount"},
		{"bad method", func(r *RegisterPatientRequest) { r.PaymentMethod = "card" }, "payment_method"},
		{"bad dob", func(r *RegisterPatientRequest) { r.DateOfBirth = "12/04/1990" }, "date_of_birth"},
		{"bad gender", func(r *RegisterPatientRequest) { r.Gender = "X" }, "gender"},
		{"inactive doctor", func(r *RegisterPatientRequest) {
			id := env.doctors.add("retired", "doctor", false).ID
			r.AssignedDoctorID = &id
		}, "assigned_doctor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := registerReq("Hanna", MethodCash)
			tt.edit(req)
			_, err := env.svc.RegisterPatient(env.as(env.reception), req)
			if f := fieldOf(t, err); f != tt.field {
				t.Errorf("expected error on %q, got %q", tt.field, f)
			}
		})
	}
}

func TestRegisterPatient_DoctorCannotRegister(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.RegisterPatient(env.asDoctor(env.doctorA), registerReq("Hanna", MethodCash))
	if !apperr.IsPermission(err) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestRegisterPatient_RetriesLostSequenceRace(t *testing.T) {
	env := newTestEnv()
	env.db.failNextCreate = true

	reg := mustRegister(t, env, "Hanna", MethodCash)
	if reg.Patient.QueueNumber != 1 {
		t.Errorf("expected the rolled back queue number to be reissued, got %d", reg.Patient.QueueNumber)
	}
	if len(env.db.patients) != 1 || len(env.db.payments) != 1 {
		t.Errorf("expected exactly one patient and payment, got %d and %d", len(env.db.patients), len(env.db.payments))
	}
}

func TestRegisterPatient_GatewayFailureKeepsRegistration(t *testing.T) {
	env := newTestEnv()
	env.gw.initErr = apperr.Gateway(apperr.GatewayTransient, "fake", "connection reset", nil)

	reg := mustRegister(t, env, "Hanna", MethodGateway)
	if reg.Patient == nil || reg.Appointment == nil {
		t.Fatal("expected patient and appointment to be committed")
	}
	out := reg.Payment
	if out.Paid {
		t.Error("expected unpaid outcome")
	}
	if out.ErrorKind != string(apperr.GatewayTransient) {
		t.Errorf("expected transient error kind, got %q", out.ErrorKind)
	}
	stored, _ := memPayments{env.db}.GetByID(context.Background(), out.Payment.ID)
	if stored.Status != PaymentFailed {
		t.Errorf("expected stored payment to be failed, got %s", stored.Status)
	}
}

func TestRegisterPatient_GatewayCheckout(t *testing.T) {
	env := newTestEnv()
	reg := mustRegister(t, env, "Hanna", MethodGateway)

	out := reg.Payment
	if out.Paid || out.Payment.Status != PaymentPending {
		t.Errorf("expected a pending payment, got %+v", out.Payment)
	}
	if out.CheckoutURL == "" {
		t.Error("expected a checkout url")
	}
	if len(env.gw.inits) != 1 {
		t.Fatalf("expected one checkout, got %d", len(env.gw.inits))
	}
	init := env.gw.inits[0]
	if init.AmountCents != 10000 || init.Currency != "ETB" {
		t.Errorf("unexpected checkout request %+v", init)
	}
	if init.ReturnURL != "https://clinic.example/paid?tx_ref="+out.Payment.Reference {
		t.Errorf("unexpected return url %q", init.ReturnURL)
	}
}

func TestUpdatePatient_ReassignsAndInvalidates(t *testing.T) {
	env := newTestEnv()
	reg := mustRegister(t, env, "Hanna", MethodCash)
	ctx := env.as(env.admin)

	// Warm the doctor-scoped list that embeds the patient's name.
	if _, err := env.svc.ListAppointments(ctx, &env.doctorA.ID); err != nil {
		t.Fatal(err)
	}
	name := "Hana"
	p, err := env.svc.UpdatePatient(ctx, reg.Patient.ID, &UpdatePatientRequest{FirstName: &name, AssignedDoctorID: &env.doctorB.ID})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.AssignedDoctorID == nil || *p.AssignedDoctorID != env.doctorB.ID {
		t.Error("expected doctor B to be assigned")
	}
	if _, ok, _ := env.store.Get(context.Background(), cache.AppointmentsListKey(&env.doctorA.ID)); ok {
		t.Error("expected doctor A's appointment list to be invalidated")
	}
	list, _ := env.svc.ListAppointments(ctx, &env.doctorA.ID)
	if len(list) != 1 || list[0].Patient.FirstName != "Hana" {
		t.Errorf("expected the renamed patient in the list, got %+v", list)
	}
}

func TestDeletePatient_Cascades(t *testing.T) {
	env := newTestEnv()
	reg := mustRegister(t, env, "Hanna", MethodCash)
	ctx := env.as(env.admin)

	if err := env.svc.DeletePatient(ctx, reg.Patient.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.svc.GetPatient(ctx, reg.Patient.ID); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if len(env.db.appointments) != 0 || len(env.db.payments) != 0 {
		t.Error("expected appointments and payments to go with the patient")
	}
	if err := env.svc.DeletePatient(env.as(env.reception), reg.Patient.ID); !apperr.IsPermission(err) {
		t.Errorf("expected receptionist delete to be refused, got %v", err)
	}
}
