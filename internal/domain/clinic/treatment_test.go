package clinic

import (
	"context"
	"testing"

	"github.com/healpoint/clinic/internal/platform/apperr"
	"github.com/healpoint/clinic/internal/platform/cache"
)

func TestCreateTreatment_CompletesAppointment(t *testing.T) {
	env := newTestEnv()
	reg := mustRegister(t, env, "Hanna", MethodCash)
	ctx := env.asDoctor(env.doctorA)

	tr, err := env.svc.CreateTreatment(ctx, &CreateTreatmentRequest{
		AppointmentID: reg.Appointment.ID,
		Notes:         "mild fever",
		Prescription:  "paracetamol",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tr.DoctorID == nil || *tr.DoctorID != env.doctorA.ID {
		t.Error("expected the treating doctor to be recorded")
	}
	if tr.PatientID != reg.Patient.ID {
		t.Error("expected treatment patient to match the appointment")
	}

	a, _ := env.svc.GetAppointment(ctx, reg.Appointment.ID)
	if a.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", a.Status)
	}
	p, _ := env.svc.GetPatient(ctx, reg.Patient.ID)
	if !p.IsSeen {
		t.Error("expected patient to be marked seen")
	}
}

func TestCreateTreatment_FollowUpKeepsPending(t *testing.T) {
	env := newTestEnv()
	initial, _ := openCase(t, env, "Hanna")

	a, _ := env.svc.GetAppointment(env.as(env.admin), initial.ID)
	if a.Status != StatusPending {
		t.Errorf("expected pending while follow-up is required, got %s", a.Status)
	}
}

func TestCreateTreatment_Rejections(t *testing.T) {
	env := newTestEnv()
	initial, tr := openCase(t, env, "Hanna")
	ctxA := env.asDoctor(env.doctorA)
	fu, err := env.svc.CreateAppointment(ctxA, followUpDraft(initial, tr))
	if err != nil {
		t.Fatal(err)
	}
	other := mustRegister(t, env, "Selam", MethodCash)

	_, err = env.svc.CreateTreatment(ctxA, &CreateTreatmentRequest{AppointmentID: initial.ID})
	if f := fieldOf(t, err); f != "appointment" {
		t.Errorf("expected duplicate treatment to fail on appointment, got %q", f)
	}
	_, err = env.svc.CreateTreatment(ctxA, &CreateTreatmentRequest{AppointmentID: fu.ID})
	if f := fieldOf(t, err); f != "appointment" {
		t.Errorf("expected follow-up treatment to fail on appointment, got %q", f)
	}
	_, err = env.svc.CreateTreatment(env.asDoctor(env.doctorB), &CreateTreatmentRequest{AppointmentID: other.Appointment.ID})
	if !apperr.IsPermission(err) {
		t.Errorf("expected another doctor to be refused, got %v", err)
	}
	_, err = env.svc.CreateTreatment(env.as(env.reception), &CreateTreatmentRequest{AppointmentID: other.Appointment.ID})
	if !apperr.IsPermission(err) {
		t.Errorf("expected receptionist to be refused, got %v", err)
	}
}

func TestCreateTreatment_AdminForbidden(t *testing.T) {
	env := newTestEnv()
	reg := mustRegister(t, env, "Hanna", MethodCash)

	_, err := env.svc.CreateTreatment(env.as(env.admin), &CreateTreatmentRequest{AppointmentID: reg.Appointment.ID})
	if !apperr.IsPermission(err) {
		t.Fatalf("expected admin to be refused, got %v", err)
	}
	a, _ := env.svc.GetAppointment(env.as(env.admin), reg.Appointment.ID)
	if a.Status != StatusPending {
		t.Errorf("expected appointment to stay pending, got %s", a.Status)
	}
}

func TestUpdateTreatment_AdminForbidden(t *testing.T) {
	env := newTestEnv()
	_, tr := openCase(t, env, "Hanna")

	notes := "edited by admin"
	if _, err := env.svc.UpdateTreatment(env.as(env.admin), tr.ID, &UpdateTreatmentRequest{Notes: &notes}); !apperr.IsPermission(err) {
		t.Fatalf("expected admin to be refused, got %v", err)
	}
	got, err := env.svc.GetTreatment(env.as(env.admin), tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Notes == notes {
		t.Error("expected notes to be unchanged")
	}
}

func TestUpdateTreatment_ClearingFollowUpCompletes(t *testing.T) {
	env := newTestEnv()
	initial, tr := openCase(t, env, "Hanna")
	ctx := env.asDoctor(env.doctorA)

	no := false
	if _, err := env.svc.UpdateTreatment(ctx, tr.ID, &UpdateTreatmentRequest{FollowUpRequired: &no}); err != nil {
		t.Fatalf("update: %v", err)
	}
	a, _ := env.svc.GetAppointment(ctx, initial.ID)
	if a.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", a.Status)
	}

	yes := true
	if _, err := env.svc.UpdateTreatment(ctx, tr.ID, &UpdateTreatmentRequest{FollowUpRequired: &yes}); err != nil {
		t.Fatalf("update: %v", err)
	}
	a, _ = env.svc.GetAppointment(ctx, initial.ID)
	if a.Status != StatusCompleted {
		t.Errorf("expected a completed appointment to stay completed, got %s", a.Status)
	}

	notes := "x"
	if _, err := env.svc.UpdateTreatment(env.asDoctor(env.doctorB), tr.ID, &UpdateTreatmentRequest{Notes: &notes}); !apperr.IsPermission(err) {
		t.Errorf("expected another doctor to be refused, got %v", err)
	}
}

func TestDeleteTreatment_ReferencedByFollowUp(t *testing.T) {
	env := newTestEnv()
	initial, tr := openCase(t, env, "Hanna")
	if _, err := env.svc.CreateAppointment(env.asDoctor(env.doctorA), followUpDraft(initial, tr)); err != nil {
		t.Fatal(err)
	}

	err := env.svc.DeleteTreatment(env.as(env.admin), tr.ID)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTreatmentLists_InvalidatedOnCreate(t *testing.T) {
	env := newTestEnv()
	reg := mustRegister(t, env, "Hanna", MethodCash)
	ctx := env.asDoctor(env.doctorA)

	if list, _ := env.svc.TodayTreatments(ctx); len(list) != 0 {
		t.Fatalf("expected no treatments, got %d", len(list))
	}
	if list, _ := env.svc.ListTreatments(ctx); len(list) != 0 {
		t.Fatalf("expected no treatments, got %d", len(list))
	}
	if _, err := env.svc.CreateTreatment(ctx, &CreateTreatmentRequest{AppointmentID: reg.Appointment.ID}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := env.store.Get(context.Background(), cache.AllTreatments); ok {
		t.Error("expected all_treatments to be invalidated")
	}
	if list, _ := env.svc.TodayTreatments(ctx); len(list) != 1 {
		t.Errorf("expected 1 treatment today, got %d", len(list))
	}
}
