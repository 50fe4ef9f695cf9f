package monitor

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/dosewatch/internal/database"
	"github.com/dukerupert/dosewatch/internal/model"
	"github.com/dukerupert/dosewatch/internal/notify"
	"github.com/dukerupert/dosewatch/internal/store"
)

type testEnv struct {
	db            *sql.DB
	medications   *store.MedicationStore
	schedules     *store.ScheduleStore
	users         *store.UserStore
	connections   *store.ConnectionStore
	notifications *store.NotificationStore
	monitor       *Monitor
}

func setupMonitorTest(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		db:            db,
		medications:   store.NewMedicationStore(db),
		schedules:     store.NewScheduleStore(db),
		users:         store.NewUserStore(db),
		connections:   store.NewConnectionStore(db),
		notifications: store.NewNotificationStore(db),
	}
	notifier := notify.New(env.notifications, store.NewPushStore(db), nil, nil, slog.Default())
	env.monitor = New(env.medications, env.schedules, env.users, env.connections, notifier, slog.Default())
	return env
}

func (env *testEnv) createUser(t *testing.T, email, role string) *model.User {
	t.Helper()
	u, err := env.users.Create(email, "hash", email, role)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (env *testEnv) createMedication(t *testing.T, userID int64, intervalHours int) *model.Medication {
	t.Helper()
	m, err := env.medications.Create(userID, "Metformin", "500mg", 30, 5, intervalHours)
	if err != nil {
		t.Fatalf("create medication: %v", err)
	}
	return m
}

func (env *testEnv) takeDoseAt(t *testing.T, med *model.Medication, takenAt time.Time) {
	t.Helper()
	if _, err := env.schedules.Create(med.ID, med.UserID, takenAt, model.DoseStatusTaken, &takenAt); err != nil {
		t.Fatalf("record taken dose: %v", err)
	}
}

func (env *testEnv) setNow(now time.Time) {
	env.monitor.now = func() time.Time { return now }
}

func (env *testEnv) rowsByStatus(t *testing.T, medicationID int64, status string) []model.DoseSchedule {
	t.Helper()
	all, err := env.schedules.ListByMedication(medicationID)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	var out []model.DoseSchedule
	for _, row := range all {
		if row.Status == status {
			out = append(out, row)
		}
	}
	return out
}

func (env *testEnv) countNotifications(t *testing.T, userID int64, notifType string) int {
	t.Helper()
	notifs, err := env.notifications.ListByUser(userID)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	n := 0
	for _, notif := range notifs {
		if notif.Type == notifType {
			n++
		}
	}
	return n
}

func TestSweepNoHistoryNoAction(t *testing.T) {
	env := setupMonitorTest(t)
	u := env.createUser(t, "dep@example.com", model.RoleDependent)
	med := env.createMedication(t, u.ID, 8)

	env.setNow(time.Now().UTC().Add(24 * time.Hour))
	env.monitor.Sweep(context.Background())

	all, err := env.schedules.ListByMedication(med.ID)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no rows for medication without history, got %d", len(all))
	}
}

func TestSweepNothingDueBeforeInterval(t *testing.T) {
	env := setupMonitorTest(t)
	u := env.createUser(t, "dep@example.com", model.RoleDependent)
	med := env.createMedication(t, u.ID, 8)

	taken := time.Now().UTC().Add(-time.Hour)
	env.takeDoseAt(t, med, taken)
	env.setNow(taken.Add(7 * time.Hour))

	env.monitor.Sweep(context.Background())

	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusPending); len(rows) != 0 {
		t.Fatalf("expected no pending rows before the interval elapses, got %d", len(rows))
	}
}

func TestSweepCreatesPendingAndNotifiesOwner(t *testing.T) {
	env := setupMonitorTest(t)
	u := env.createUser(t, "dep@example.com", model.RoleDependent)
	med := env.createMedication(t, u.ID, 8)

	taken := time.Now().UTC().Add(-9 * time.Hour)
	env.takeDoseAt(t, med, taken)
	env.setNow(time.Now().UTC())

	env.monitor.Sweep(context.Background())

	pending := env.rowsByStatus(t, med.ID, model.DoseStatusPending)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending row, got %d", len(pending))
	}
	wantDue := taken.Add(8 * time.Hour)
	if !pending[0].ScheduledAt.Equal(wantDue) {
		t.Errorf("pending row scheduled at %v, want %v", pending[0].ScheduledAt, wantDue)
	}
	if n := env.countNotifications(t, u.ID, model.NotifTypeDoseDue); n != 1 {
		t.Errorf("expected 1 dose-due notification for owner, got %d", n)
	}
}

func TestSweepDoesNotDuplicatePendingRows(t *testing.T) {
	env := setupMonitorTest(t)
	u := env.createUser(t, "dep@example.com", model.RoleDependent)
	med := env.createMedication(t, u.ID, 8)

	// Due 30 minutes ago, well inside the grace window, so repeated sweeps
	// leave the row pending.
	env.takeDoseAt(t, med, time.Now().UTC().Add(-8*time.Hour-30*time.Minute))
	env.setNow(time.Now().UTC())

	env.monitor.Sweep(context.Background())
	env.monitor.Sweep(context.Background())

	pending := env.rowsByStatus(t, med.ID, model.DoseStatusPending)
	if len(pending) != 1 {
		t.Fatalf("expected exactly 1 pending row after two sweeps, got %d", len(pending))
	}
	if n := env.countNotifications(t, u.ID, model.NotifTypeDoseDue); n != 1 {
		t.Errorf("expected exactly 1 dose-due notification after two sweeps, got %d", n)
	}
}

func TestDueTimeAnchorsOnScheduledTime(t *testing.T) {
	env := setupMonitorTest(t)
	u := env.createUser(t, "dep@example.com", model.RoleDependent)
	med := env.createMedication(t, u.ID, 8)

	// A dose confirmed 30 minutes late: the next due time still counts
	// from the scheduled time, so late confirmations do not drift the
	// cadence.
	scheduled := time.Now().UTC().Add(-9 * time.Hour)
	confirmed := scheduled.Add(30 * time.Minute)
	if _, err := env.schedules.Create(med.ID, med.UserID, scheduled, model.DoseStatusTaken, &confirmed); err != nil {
		t.Fatalf("record taken dose: %v", err)
	}

	env.setNow(scheduled.Add(8*time.Hour + 10*time.Minute))
	env.monitor.Sweep(context.Background())

	pending := env.rowsByStatus(t, med.ID, model.DoseStatusPending)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending row, got %d", len(pending))
	}
	wantDue := scheduled.Add(8 * time.Hour)
	if !pending[0].ScheduledAt.Equal(wantDue) {
		t.Errorf("pending row scheduled at %v, want %v (anchored on scheduled time, not confirmation)", pending[0].ScheduledAt, wantDue)
	}
}

func TestAdvanceWithStaleHistoryDoesNotDuplicatePending(t *testing.T) {
	env := setupMonitorTest(t)
	u := env.createUser(t, "dep@example.com", model.RoleDependent)
	med := env.createMedication(t, u.ID, 8)

	taken := time.Now().UTC().Add(-8*time.Hour - 30*time.Minute)
	env.takeDoseAt(t, med, taken)
	env.setNow(time.Now().UTC())

	// Load the history, then create the pending row behind its back, as an
	// overlapping sweep would. The stale history does not show the row, so
	// only the storage recheck stands between us and a duplicate.
	history, err := env.schedules.ListByMedication(med.ID)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	due := taken.Add(8 * time.Hour)
	if _, err := env.schedules.Create(med.ID, med.UserID, due, model.DoseStatusPending, nil); err != nil {
		t.Fatalf("create pending dose: %v", err)
	}

	if err := env.monitor.advance(context.Background(), med, history); err != nil {
		t.Fatalf("advance: %v", err)
	}

	pending := env.rowsByStatus(t, med.ID, model.DoseStatusPending)
	if len(pending) != 1 {
		t.Fatalf("expected exactly 1 pending row, got %d", len(pending))
	}
	if n := env.countNotifications(t, u.ID, model.NotifTypeDoseDue); n != 0 {
		t.Errorf("row already existed, expected 0 dose-due notifications, got %d", n)
	}
}

func TestSweepRespectsGraceWindow(t *testing.T) {
	env := setupMonitorTest(t)
	u := env.createUser(t, "dep@example.com", model.RoleDependent)
	med := env.createMedication(t, u.ID, 8)

	taken := time.Now().UTC().Add(-10 * time.Hour)
	env.takeDoseAt(t, med, taken)
	due := taken.Add(8 * time.Hour)

	env.setNow(due)
	env.monitor.Sweep(context.Background())
	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusPending); len(rows) != 1 {
		t.Fatalf("expected pending row at due time, got %d", len(rows))
	}

	env.setNow(due.Add(59 * time.Minute))
	env.monitor.Sweep(context.Background())
	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusPending); len(rows) != 1 {
		t.Fatalf("row should stay pending inside the grace window, got %d pending", len(rows))
	}
	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusMissed); len(rows) != 0 {
		t.Fatalf("no row should be missed inside the grace window, got %d missed", len(rows))
	}

	env.setNow(due.Add(61 * time.Minute))
	env.monitor.Sweep(context.Background())
	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusMissed); len(rows) != 1 {
		t.Fatalf("row should be missed past the grace window, got %d missed", len(rows))
	}
	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusPending); len(rows) != 0 {
		t.Fatalf("pending row should be gone past the grace window, got %d pending", len(rows))
	}
}

func TestMissedRowHandledOnce(t *testing.T) {
	env := setupMonitorTest(t)
	dep := env.createUser(t, "dep@example.com", model.RoleDependent)
	master := env.createUser(t, "master@example.com", model.RoleMaster)
	conn, err := env.connections.Create(master.ID, dep.ID)
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if _, err := env.connections.Accept(conn.ID); err != nil {
		t.Fatalf("accept connection: %v", err)
	}

	med := env.createMedication(t, dep.ID, 8)
	taken := time.Now().UTC().Add(-12 * time.Hour)
	env.takeDoseAt(t, med, taken)

	env.setNow(taken.Add(8 * time.Hour))
	env.monitor.Sweep(context.Background())

	env.setNow(time.Now().UTC())
	env.monitor.Sweep(context.Background())
	env.monitor.Sweep(context.Background())

	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusMissed); len(rows) != 1 {
		t.Fatalf("expected 1 missed row, got %d", len(rows))
	}
	if n := env.countNotifications(t, master.ID, model.NotifTypeDoseMissed); n != 1 {
		t.Errorf("expected exactly 1 missed-dose notification for the master, got %d", n)
	}
}

func TestMissedFanOutReachesTwoHopController(t *testing.T) {
	env := setupMonitorTest(t)
	dep := env.createUser(t, "dep@example.com", model.RoleDependent)
	master := env.createUser(t, "master@example.com", model.RoleMaster)
	controller := env.createUser(t, "controller@example.com", model.RoleController)
	bystander := env.createUser(t, "bystander@example.com", model.RoleMaster)

	for _, pair := range [][2]int64{{master.ID, dep.ID}, {master.ID, controller.ID}} {
		conn, err := env.connections.Create(pair[0], pair[1])
		if err != nil {
			t.Fatalf("create connection: %v", err)
		}
		if _, err := env.connections.Accept(conn.ID); err != nil {
			t.Fatalf("accept connection: %v", err)
		}
	}

	med := env.createMedication(t, dep.ID, 8)
	taken := time.Now().UTC().Add(-12 * time.Hour)
	env.takeDoseAt(t, med, taken)

	env.setNow(taken.Add(8 * time.Hour))
	env.monitor.Sweep(context.Background())
	env.setNow(time.Now().UTC())
	env.monitor.Sweep(context.Background())

	if n := env.countNotifications(t, master.ID, model.NotifTypeDoseMissed); n != 1 {
		t.Errorf("master: expected 1 missed-dose notification, got %d", n)
	}
	if n := env.countNotifications(t, controller.ID, model.NotifTypeDoseMissed); n != 1 {
		t.Errorf("controller: expected 1 missed-dose notification, got %d", n)
	}
	if n := env.countNotifications(t, bystander.ID, model.NotifTypeDoseMissed); n != 0 {
		t.Errorf("unconnected user: expected 0 missed-dose notifications, got %d", n)
	}
	if n := env.countNotifications(t, dep.ID, model.NotifTypeDoseMissed); n != 0 {
		t.Errorf("dependent: expected 0 missed-dose notifications, got %d", n)
	}
}

func TestMissedFanOutSkipsPendingConnections(t *testing.T) {
	env := setupMonitorTest(t)
	dep := env.createUser(t, "dep@example.com", model.RoleDependent)
	master := env.createUser(t, "master@example.com", model.RoleMaster)
	if _, err := env.connections.Create(master.ID, dep.ID); err != nil {
		t.Fatalf("create connection: %v", err)
	}

	med := env.createMedication(t, dep.ID, 8)
	taken := time.Now().UTC().Add(-12 * time.Hour)
	env.takeDoseAt(t, med, taken)

	env.setNow(taken.Add(8 * time.Hour))
	env.monitor.Sweep(context.Background())
	env.setNow(time.Now().UTC())
	env.monitor.Sweep(context.Background())

	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusMissed); len(rows) != 1 {
		t.Fatalf("expected 1 missed row, got %d", len(rows))
	}
	if n := env.countNotifications(t, master.ID, model.NotifTypeDoseMissed); n != 0 {
		t.Errorf("pending connection should not receive alerts, got %d", n)
	}
}

func TestMissedFanOutSkipsNonDependentOwner(t *testing.T) {
	env := setupMonitorTest(t)
	owner := env.createUser(t, "master-owner@example.com", model.RoleMaster)
	other := env.createUser(t, "other@example.com", model.RoleMaster)
	conn, err := env.connections.Create(other.ID, owner.ID)
	if err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if _, err := env.connections.Accept(conn.ID); err != nil {
		t.Fatalf("accept connection: %v", err)
	}

	med := env.createMedication(t, owner.ID, 8)
	taken := time.Now().UTC().Add(-12 * time.Hour)
	env.takeDoseAt(t, med, taken)

	env.setNow(taken.Add(8 * time.Hour))
	env.monitor.Sweep(context.Background())
	env.setNow(time.Now().UTC())
	env.monitor.Sweep(context.Background())

	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusMissed); len(rows) != 1 {
		t.Fatalf("missed transition should still happen, got %d missed rows", len(rows))
	}
	if n := env.countNotifications(t, other.ID, model.NotifTypeDoseMissed); n != 0 {
		t.Errorf("non-dependent owners do not trigger caregiver alerts, got %d", n)
	}
}

func TestSweepIsolatesPerMedicationFailures(t *testing.T) {
	env := setupMonitorTest(t)
	u := env.createUser(t, "dep@example.com", model.RoleDependent)

	broken := env.createMedication(t, u.ID, 8)
	healthy := env.createMedication(t, u.ID, 8)

	taken := time.Now().UTC().Add(-9 * time.Hour)
	env.takeDoseAt(t, broken, taken)
	env.takeDoseAt(t, healthy, taken)

	// Corrupt the first medication's history so its evaluation fails at scan
	// time. SQLite's dynamic typing lets the bad value through the schema.
	if _, err := env.db.Exec(
		`UPDATE dose_schedules SET scheduled_at = 'not-a-timestamp' WHERE medication_id = ?`,
		broken.ID,
	); err != nil {
		t.Fatalf("corrupt schedule row: %v", err)
	}

	env.setNow(time.Now().UTC())
	env.monitor.Sweep(context.Background())

	pending := env.rowsByStatus(t, healthy.ID, model.DoseStatusPending)
	if len(pending) != 1 {
		t.Fatalf("healthy medication should still be evaluated, got %d pending rows", len(pending))
	}
}

func TestCaregiversEmptyWithoutConnections(t *testing.T) {
	env := setupMonitorTest(t)
	dep := env.createUser(t, "dep@example.com", model.RoleDependent)

	recipients, err := env.monitor.Caregivers(dep.ID)
	if err != nil {
		t.Fatalf("resolve caregivers: %v", err)
	}
	if len(recipients) != 0 {
		t.Fatalf("expected no caregivers, got %v", recipients)
	}
}

func TestCaregiversDeduplicatesAcrossMasters(t *testing.T) {
	env := setupMonitorTest(t)
	dep := env.createUser(t, "dep@example.com", model.RoleDependent)
	m1 := env.createUser(t, "m1@example.com", model.RoleMaster)
	m2 := env.createUser(t, "m2@example.com", model.RoleMaster)
	shared := env.createUser(t, "shared-controller@example.com", model.RoleController)

	pairs := [][2]int64{
		{m1.ID, dep.ID},
		{m2.ID, dep.ID},
		{m1.ID, shared.ID},
		{m2.ID, shared.ID},
	}
	for _, pair := range pairs {
		conn, err := env.connections.Create(pair[0], pair[1])
		if err != nil {
			t.Fatalf("create connection: %v", err)
		}
		if _, err := env.connections.Accept(conn.ID); err != nil {
			t.Fatalf("accept connection: %v", err)
		}
	}

	recipients, err := env.monitor.Caregivers(dep.ID)
	if err != nil {
		t.Fatalf("resolve caregivers: %v", err)
	}
	if len(recipients) != 3 {
		t.Fatalf("expected 3 deduplicated recipients, got %v", recipients)
	}
	want := map[int64]bool{m1.ID: true, m2.ID: true, shared.ID: true}
	for _, id := range recipients {
		if !want[id] {
			t.Errorf("unexpected recipient %d", id)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	env := setupMonitorTest(t)
	env.monitor.interval = time.Hour

	env.monitor.Start(context.Background())
	first := env.monitor.done
	env.monitor.Start(context.Background())
	if env.monitor.done != first {
		t.Error("second Start should not replace the running sweep loop")
	}
	env.monitor.Stop()

	if env.monitor.done != nil {
		t.Error("Stop should clear the running handle")
	}

	// Stop on an already-stopped monitor is a no-op.
	env.monitor.Stop()
}

func TestStopAwaitsSweepLoop(t *testing.T) {
	env := setupMonitorTest(t)
	env.monitor.interval = 5 * time.Millisecond

	u := env.createUser(t, "dep@example.com", model.RoleDependent)
	med := env.createMedication(t, u.ID, 8)
	// Due 30 minutes ago: inside the grace window, so every sweep the loop
	// runs leaves exactly one pending row.
	env.takeDoseAt(t, med, time.Now().UTC().Add(-8*time.Hour-30*time.Minute))

	env.monitor.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	env.monitor.Stop()

	// The immediate first sweep must have run before Stop returned.
	if rows := env.rowsByStatus(t, med.ID, model.DoseStatusPending); len(rows) != 1 {
		t.Fatalf("expected 1 pending row from the running monitor, got %d", len(rows))
	}
}
