package store

import (
	"testing"
	"time"

	"github.com/dukerupert/dosewatch/internal/database"
	"github.com/dukerupert/dosewatch/internal/model"
)

func setupScheduleTestDB(t *testing.T) (*ScheduleStore, *MedicationStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewScheduleStore(db), NewMedicationStore(db), NewUserStore(db)
}

func scheduleTestFixtures(t *testing.T, ms *MedicationStore, us *UserStore, stock int) *model.Medication {
	t.Helper()
	u, err := us.Create("dep@example.com", "hash", "Dep", model.RoleDependent)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	med, err := ms.Create(u.ID, "Metformin", "500mg", stock, 2, 8)
	if err != nil {
		t.Fatalf("create medication: %v", err)
	}
	return med
}

func TestScheduleCreateAndList(t *testing.T) {
	ss, ms, us := setupScheduleTestDB(t)
	med := scheduleTestFixtures(t, ms, us, 30)

	earlier := time.Now().UTC().Add(-8 * time.Hour)
	later := time.Now().UTC()

	if _, err := ss.Create(med.ID, med.UserID, earlier, model.DoseStatusTaken, &earlier); err != nil {
		t.Fatalf("create taken row: %v", err)
	}
	if _, err := ss.Create(med.ID, med.UserID, later, model.DoseStatusPending, nil); err != nil {
		t.Fatalf("create pending row: %v", err)
	}

	rows, err := ss.ListByMedication(med.ID)
	if err != nil {
		t.Fatalf("list by medication: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// Newest first.
	if rows[0].Status != model.DoseStatusPending {
		t.Errorf("rows[0].Status = %q, want pending", rows[0].Status)
	}
	if rows[0].ConfirmedAt != nil {
		t.Errorf("pending row should have no confirmation time")
	}
	if rows[1].ConfirmedAt == nil {
		t.Errorf("taken row should carry its confirmation time")
	}

	byUser, err := ss.ListByUser(med.UserID)
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(byUser) != 2 {
		t.Fatalf("expected 2 rows by user, got %d", len(byUser))
	}
}

func TestScheduleExistsAt(t *testing.T) {
	ss, ms, us := setupScheduleTestDB(t)
	med := scheduleTestFixtures(t, ms, us, 30)

	due := time.Now().UTC().Truncate(time.Second)
	exists, err := ss.ExistsAt(med.ID, due)
	if err != nil {
		t.Fatalf("exists check: %v", err)
	}
	if exists {
		t.Fatal("no row yet, exists should be false")
	}

	if _, err := ss.Create(med.ID, med.UserID, due, model.DoseStatusPending, nil); err != nil {
		t.Fatalf("create pending row: %v", err)
	}
	exists, err = ss.ExistsAt(med.ID, due)
	if err != nil {
		t.Fatalf("exists check: %v", err)
	}
	if !exists {
		t.Fatal("pending row at due time should report exists")
	}

	// Taken rows do not block a new due row at the same time.
	takenAt := due.Add(time.Hour)
	if _, err := ss.Create(med.ID, med.UserID, takenAt, model.DoseStatusTaken, &takenAt); err != nil {
		t.Fatalf("create taken row: %v", err)
	}
	exists, err = ss.ExistsAt(med.ID, takenAt)
	if err != nil {
		t.Fatalf("exists check: %v", err)
	}
	if exists {
		t.Fatal("taken rows should not count as existing due rows")
	}
}

func TestConfirmDoseDecrementsStock(t *testing.T) {
	ss, ms, us := setupScheduleTestDB(t)
	med := scheduleTestFixtures(t, ms, us, 30)

	due := time.Now().UTC().Add(-time.Hour)
	pending, err := ss.Create(med.ID, med.UserID, due, model.DoseStatusPending, nil)
	if err != nil {
		t.Fatalf("create pending row: %v", err)
	}

	now := time.Now().UTC()
	confirmed, err := ss.ConfirmDose(pending.ID, now)
	if err != nil {
		t.Fatalf("confirm dose: %v", err)
	}
	if confirmed == nil {
		t.Fatal("expected confirmed schedule, got nil")
	}
	if confirmed.Status != model.DoseStatusTaken {
		t.Errorf("status = %q, want taken", confirmed.Status)
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("confirmed row should carry confirmation time")
	}

	reloaded, err := ms.GetByID(med.ID)
	if err != nil {
		t.Fatalf("reload medication: %v", err)
	}
	if reloaded.Stock != 29 {
		t.Errorf("stock = %d, want 29 after one confirmed dose", reloaded.Stock)
	}
}

func TestConfirmDoseNotPending(t *testing.T) {
	ss, ms, us := setupScheduleTestDB(t)
	med := scheduleTestFixtures(t, ms, us, 30)

	takenAt := time.Now().UTC()
	taken, err := ss.Create(med.ID, med.UserID, takenAt, model.DoseStatusTaken, &takenAt)
	if err != nil {
		t.Fatalf("create taken row: %v", err)
	}

	got, err := ss.ConfirmDose(taken.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("confirm non-pending dose: %v", err)
	}
	if got != nil {
		t.Fatalf("confirming a non-pending row should be a no-op, got %+v", got)
	}

	reloaded, err := ms.GetByID(med.ID)
	if err != nil {
		t.Fatalf("reload medication: %v", err)
	}
	if reloaded.Stock != 30 {
		t.Errorf("stock = %d, no-op confirm must not decrement", reloaded.Stock)
	}
}

func TestLogDoseCreatesTakenRow(t *testing.T) {
	ss, ms, us := setupScheduleTestDB(t)
	med := scheduleTestFixtures(t, ms, us, 10)

	now := time.Now().UTC()
	sched, err := ss.LogDose(med.ID, med.UserID, now)
	if err != nil {
		t.Fatalf("log dose: %v", err)
	}
	if sched.Status != model.DoseStatusTaken {
		t.Errorf("status = %q, want taken", sched.Status)
	}
	if sched.ConfirmedAt == nil || !sched.ConfirmedAt.Equal(sched.ScheduledAt) {
		t.Errorf("logged dose should be scheduled and confirmed at the same moment: %+v", sched)
	}

	reloaded, err := ms.GetByID(med.ID)
	if err != nil {
		t.Fatalf("reload medication: %v", err)
	}
	if reloaded.Stock != 9 {
		t.Errorf("stock = %d, want 9", reloaded.Stock)
	}
}

func TestDoseDecrementFloorsAtZero(t *testing.T) {
	ss, ms, us := setupScheduleTestDB(t)
	med := scheduleTestFixtures(t, ms, us, 0)

	if _, err := ss.LogDose(med.ID, med.UserID, time.Now().UTC()); err != nil {
		t.Fatalf("log dose at zero stock: %v", err)
	}

	reloaded, err := ms.GetByID(med.ID)
	if err != nil {
		t.Fatalf("reload medication: %v", err)
	}
	if reloaded.Stock != 0 {
		t.Errorf("stock = %d, must never go negative", reloaded.Stock)
	}
}

func TestScheduleUpdateStatus(t *testing.T) {
	ss, ms, us := setupScheduleTestDB(t)
	med := scheduleTestFixtures(t, ms, us, 30)

	due := time.Now().UTC().Add(-2 * time.Hour)
	pending, err := ss.Create(med.ID, med.UserID, due, model.DoseStatusPending, nil)
	if err != nil {
		t.Fatalf("create pending row: %v", err)
	}

	if err := ss.UpdateStatus(pending.ID, model.DoseStatusMissed, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := ss.GetByID(pending.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.Status != model.DoseStatusMissed {
		t.Errorf("status = %q, want missed", got.Status)
	}
}
