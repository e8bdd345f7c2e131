package cache

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	doctorA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	doctorB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	day     = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
)

func contains(keys []string, k string) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}

func TestKeysToInvalidate_Appointment(t *testing.T) {
	keys := KeysToInvalidate(AppointmentMutation{
		Op:      OpCreate,
		Current: AppointmentRef{DoctorID: &doctorA, Date: day},
	})

	want := []string{
		"appointments_list_" + doctorA.String(),
		"appointments_list_all",
		"appointments_today_" + doctorA.String() + "_2026-05-04",
		"appointments_today_all_2026-05-04",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("unexpected keys:\n got %v\nwant %v", keys, want)
	}
}

func TestKeysToInvalidate_AppointmentMovedBetweenDoctors(t *testing.T) {
	next := day.AddDate(0, 0, 1)
	keys := KeysToInvalidate(AppointmentMutation{
		Op:       OpUpdate,
		Current:  AppointmentRef{DoctorID: &doctorB, Date: next},
		Previous: &AppointmentRef{DoctorID: &doctorA, Date: day},
	})

	for _, k := range []string{
		AppointmentsTodayKey(&doctorA, day),
		AppointmentsTodayKey(&doctorB, next),
		AppointmentsTodayKey(nil, day),
		AppointmentsTodayKey(nil, next),
	} {
		if !contains(keys, k) {
			t.Errorf("expected %s in %v", k, keys)
		}
	}
}

func TestKeysToInvalidate_Treatment(t *testing.T) {
	patientID := uuid.New()
	keys := KeysToInvalidate(TreatmentMutation{
		Op:          OpCreate,
		TreatmentID: uuid.New(),
		PatientID:   patientID,
		CreatedAt:   day,
		Appointment: AppointmentRef{DoctorID: &doctorA, Date: day},
	})

	for _, k := range []string{
		AllTreatments,
		"treatments_today_2026-05-04",
		"appointments_list_all",
		AppointmentsTodayKey(&doctorA, day),
		PatientKey(patientID),
	} {
		if !contains(keys, k) {
			t.Errorf("expected %s in %v", k, keys)
		}
	}
}

func TestKeysToInvalidate_PatientDelete(t *testing.T) {
	patientID := uuid.New()
	paymentID := uuid.New()
	earlier := day.AddDate(0, 0, -3)

	keys := KeysToInvalidate(PatientMutation{
		Op:        OpDelete,
		PatientID: patientID,
		DoctorIDs: []uuid.UUID{doctorA},
		Today:     day,
		Appointments: []AppointmentRef{
			{DoctorID: &doctorA, Date: earlier},
			{DoctorID: &doctorB, Date: day},
		},
		TreatmentDates: []time.Time{earlier},
		PaymentIDs:     []uuid.UUID{paymentID},
	})

	for _, k := range []string{
		PatientKey(patientID),
		AllPatients,
		"appointments_list_all",
		AppointmentsTodayKey(&doctorA, day),
		AppointmentsTodayKey(&doctorA, earlier),
		AppointmentsTodayKey(nil, earlier),
		AppointmentsTodayKey(&doctorB, day),
		TreatmentsTodayKey(earlier),
		AllPayments,
		PaymentKey(paymentID),
	} {
		if !contains(keys, k) {
			t.Errorf("expected %s in %v", k, keys)
		}
	}
}

func TestKeysToInvalidate_PatientUpdateSkipsCascadeKeys(t *testing.T) {
	keys := KeysToInvalidate(PatientMutation{
		Op:             OpUpdate,
		PatientID:      uuid.New(),
		Today:          day,
		Appointments:   []AppointmentRef{{DoctorID: &doctorB, Date: day}},
		TreatmentDates: []time.Time{day},
		PaymentIDs:     []uuid.UUID{uuid.New()},
	})
	if contains(keys, AllTreatments) || contains(keys, AllPayments) {
		t.Error("treatment and payment keys only apply to a cascading delete")
	}
	if !contains(keys, AppointmentsListKey(&doctorB)) {
		t.Error("appointment views embedding the patient must be invalidated on update")
	}
}

func TestKeysToInvalidate_Payment(t *testing.T) {
	paymentID, patientID := uuid.New(), uuid.New()
	keys := KeysToInvalidate(PaymentMutation{Op: OpUpdate, PaymentID: paymentID, PatientID: patientID})

	want := []string{AllPatients, AllPayments, PatientKey(patientID), PaymentKey(paymentID)}
	for _, k := range want {
		if !contains(keys, k) {
			t.Errorf("expected %s in %v", k, keys)
		}
	}
	if len(keys) != len(want) {
		t.Errorf("expected exactly %d keys, got %v", len(want), keys)
	}
}

func TestKeysToInvalidate_DedupesAcrossMutations(t *testing.T) {
	ref := AppointmentRef{DoctorID: &doctorA, Date: day}
	keys := KeysToInvalidate(
		AppointmentMutation{Op: OpCreate, Current: ref},
		AppointmentMutation{Op: OpUpdate, Current: ref},
		nil,
	)
	if len(keys) != 4 {
		t.Errorf("expected 4 distinct keys, got %v", keys)
	}
}

func TestCoordinator_LeavesUnrelatedDoctorUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	c := NewCoordinator(store, zerolog.Nop())

	keyA := AppointmentsTodayKey(&doctorA, day)
	keyB := AppointmentsTodayKey(&doctorB, day)
	_ = store.Set(ctx, keyA, []byte("[]"), time.Minute)
	_ = store.Set(ctx, keyB, []byte("[]"), time.Minute)

	c.Invalidate(ctx, AppointmentMutation{Op: OpUpdate, Current: AppointmentRef{DoctorID: &doctorA, Date: day}})

	if _, ok, _ := store.Get(ctx, keyA); ok {
		t.Errorf("expected %s to be invalidated", keyA)
	}
	if _, ok, _ := store.Get(ctx, keyB); !ok {
		t.Errorf("expected %s to be untouched", keyB)
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) Delete(context.Context, ...string) error { return errors.New("redis down") }

func TestCoordinator_SwallowsStoreErrors(t *testing.T) {
	c := NewCoordinator(&failingStore{}, zerolog.Nop())
	// Must not panic or surface the error.
	c.Invalidate(context.Background(), PaymentMutation{PaymentID: uuid.New(), PatientID: uuid.New()})
}
