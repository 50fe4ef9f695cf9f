package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/dosewatch/internal/model"
	"github.com/dukerupert/dosewatch/internal/notify"
	"github.com/dukerupert/dosewatch/internal/store"
)

const (
	defaultInterval = 60 * time.Second

	// graceWindow is how long a pending dose stays eligible for
	// confirmation after its due time before it is marked missed.
	graceWindow = time.Hour
)

// Monitor sweeps every medication on a fixed cadence, creating pending dose
// rows when a dose comes due, marking doses missed once the grace window
// elapses, and alerting the dependent's caregivers on a miss.
type Monitor struct {
	mu          sync.Mutex
	medications *store.MedicationStore
	schedules   *store.ScheduleStore
	users       *store.UserStore
	connections *store.ConnectionStore
	notifier    *notify.Notifier
	logger      *slog.Logger
	interval    time.Duration
	now         func() time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(ms *store.MedicationStore, ss *store.ScheduleStore, us *store.UserStore, cs *store.ConnectionStore, notifier *notify.Notifier, logger *slog.Logger) *Monitor {
	return &Monitor{
		medications: ms,
		schedules:   ss,
		users:       us,
		connections: cs,
		notifier:    notifier,
		logger:      logger,
		interval:    defaultInterval,
		now:         time.Now,
	}
}

// Start runs one immediate sweep, then repeats on the monitor's interval
// until Stop is called or ctx is cancelled. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.Sweep(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for any in-flight sweep to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Sweep evaluates every medication once. A failure on one medication is
// logged and does not stop the rest of the sweep.
func (m *Monitor) Sweep(ctx context.Context) {
	meds, err := m.medications.List()
	if err != nil {
		m.logger.Error("dose monitor: list medications", "error", err)
		return
	}

	for i := range meds {
		if err := m.evaluate(ctx, &meds[i]); err != nil {
			m.logger.Error("dose monitor: evaluate medication", "medication_id", meds[i].ID, "error", err)
		}
	}
}

// evaluate loads one medication's dose history and advances its cycle.
func (m *Monitor) evaluate(ctx context.Context, med *model.Medication) error {
	history, err := m.schedules.ListByMedication(med.ID)
	if err != nil {
		return fmt.Errorf("load dose history: %w", err)
	}
	return m.advance(ctx, med, history)
}

// advance applies at most one state transition to a medication's dose
// cycle: either a new pending row at the computed due time, or a pending
// row past its grace window marked missed.
func (m *Monitor) advance(ctx context.Context, med *model.Medication, history []model.DoseSchedule) error {
	// The cycle anchors on the last taken dose. A medication with no taken
	// dose has never started a cycle and generates nothing on its own.
	var lastTaken *model.DoseSchedule
	for i := range history {
		if history[i].Status == model.DoseStatusTaken {
			lastTaken = &history[i]
			break
		}
	}
	if lastTaken == nil {
		return nil
	}

	// Due time anchors on the dose's target time, not its confirmation
	// time, so confirming late inside the grace window never drifts the
	// cadence. A manually logged dose has scheduled_at = log time.
	now := m.now().UTC()
	dueTime := lastTaken.ScheduledAt.Add(med.Interval())
	if dueTime.After(now) {
		return nil
	}

	var dueRow *model.DoseSchedule
	for i := range history {
		row := &history[i]
		if row.Status != model.DoseStatusTaken && row.ScheduledAt.Equal(dueTime) {
			dueRow = row
			break
		}
	}

	if dueRow == nil {
		// Recheck storage before inserting; history may be stale if a
		// concurrent sweep already created the row.
		exists, err := m.schedules.ExistsAt(med.ID, dueTime)
		if err != nil {
			return fmt.Errorf("check existing dose: %w", err)
		}
		if exists {
			return nil
		}
		if _, err := m.schedules.Create(med.ID, med.UserID, dueTime, model.DoseStatusPending, nil); err != nil {
			return fmt.Errorf("create pending dose: %w", err)
		}
		message := fmt.Sprintf("Time to take %s (%s)", med.Name, med.Dosage)
		if err := m.notifier.Send(ctx, []int64{med.UserID}, model.NotifTypeDoseDue, "Dose due", message, &med.ID); err != nil {
			return fmt.Errorf("notify dose due: %w", err)
		}
		return nil
	}

	// An already-missed row was handled in a prior sweep; the cycle stays
	// parked until a dose is taken again.
	if dueRow.Status != model.DoseStatusPending {
		return nil
	}

	if now.Before(dueTime.Add(graceWindow)) {
		return nil
	}

	if err := m.schedules.UpdateStatus(dueRow.ID, model.DoseStatusMissed, nil); err != nil {
		return fmt.Errorf("mark dose missed: %w", err)
	}

	owner, err := m.users.GetByID(med.UserID)
	if err != nil {
		return fmt.Errorf("load medication owner: %w", err)
	}
	if owner == nil || owner.Role != model.RoleDependent {
		return nil
	}

	recipients, err := m.Caregivers(owner.ID)
	if err != nil {
		return fmt.Errorf("resolve caregivers: %w", err)
	}
	if len(recipients) == 0 {
		return nil
	}

	message := fmt.Sprintf("%s missed a dose of %s", owner.Name, med.Name)
	if err := m.notifier.Send(ctx, recipients, model.NotifTypeDoseMissed, "Missed dose", message, &med.ID); err != nil {
		return fmt.Errorf("notify dose missed: %w", err)
	}
	return nil
}

// Caregivers returns the deduplicated user ids entitled to missed-dose
// alerts about a dependent: every master with an accepted connection to
// the dependent, plus each such master's accepted controller targets. The
// walk is exactly two hops deep; controllers never chain further.
func (m *Monitor) Caregivers(dependentID int64) ([]int64, error) {
	edges, err := m.connections.ListAcceptedByTarget(dependentID)
	if err != nil {
		return nil, fmt.Errorf("list connections to dependent: %w", err)
	}

	seen := make(map[int64]struct{})
	var recipients []int64
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		recipients = append(recipients, id)
	}

	for _, edge := range edges {
		add(edge.MasterID)

		delegated, err := m.connections.ListAcceptedByMaster(edge.MasterID)
		if err != nil {
			return nil, fmt.Errorf("list master connections: %w", err)
		}
		for _, d := range delegated {
			if d.TargetID == dependentID {
				continue
			}
			target, err := m.users.GetByID(d.TargetID)
			if err != nil {
				return nil, fmt.Errorf("load connection target: %w", err)
			}
			if target != nil && target.Role == model.RoleController {
				add(d.TargetID)
			}
		}
	}
	return recipients, nil
}
