package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/prancheta/internal/clock"
	"github.com/friendsincode/prancheta/internal/config"
	"github.com/friendsincode/prancheta/internal/db/dbtest"
	"github.com/friendsincode/prancheta/internal/departures"
	"github.com/friendsincode/prancheta/internal/events"
	"github.com/friendsincode/prancheta/internal/models"
	"github.com/friendsincode/prancheta/internal/scheduler/state"
	"github.com/rs/zerolog"
)

const workDate = "2024-05-02"

func at(hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", workDate+" "+hhmm, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

// flakyStore wraps the real store and injects failures.
type flakyStore struct {
	*departures.GormStore
	failLatest   bool
	failSnapshot bool
	failUpdate   bool
	afterList    func()
}

var errStoreDown = errors.New("store down")

func (f *flakyStore) LatestPending(ctx context.Context, scope models.Scope, line string) (*models.Departure, error) {
	if f.failLatest {
		return nil, errStoreDown
	}
	return f.GormStore.LatestPending(ctx, scope, line)
}

func (f *flakyStore) LatestConfirmed(ctx context.Context, scope models.Scope, line string) (*models.Departure, error) {
	if f.failLatest {
		return nil, errStoreDown
	}
	return f.GormStore.LatestConfirmed(ctx, scope, line)
}

func (f *flakyStore) ListPendingOrderedByTime(ctx context.Context, scope models.Scope, line string) ([]models.Departure, error) {
	rows, err := f.GormStore.ListPendingOrderedByTime(ctx, scope, line)
	if f.afterList != nil {
		f.afterList()
	}
	return rows, err
}

func (f *flakyStore) UpdateTimes(ctx context.Context, updates []departures.TimeUpdate) (departures.BatchResult, error) {
	if f.failUpdate {
		return departures.BatchResult{}, errStoreDown
	}
	return f.GormStore.UpdateTimes(ctx, updates)
}

func (f *flakyStore) Snapshot(ctx context.Context, scope models.Scope) ([]models.Departure, error) {
	if f.failSnapshot {
		return nil, errStoreDown
	}
	return f.GormStore.Snapshot(ctx, scope)
}

type harness struct {
	svc   *Service
	clock *clock.Fake
	store *flakyStore
	bus   *events.Bus
}

func newHarness(t *testing.T, lines ...config.LineSpec) *harness {
	t.Helper()
	if len(lines) == 0 {
		lines = []config.LineSpec{{Name: "A"}, {Name: "B"}}
	}
	store := &flakyStore{GormStore: departures.NewGormStore(dbtest.Open(t))}
	clk := clock.NewFake(at("10:00"))
	bus := events.NewBus()
	st := state.NewStore(lines, config.DefaultIntervalMinutes, config.DefaultIntervalMinutes)
	svc := New(store, st, clk, bus, Options{Lead: 10 * time.Minute, Location: time.UTC}, zerolog.Nop())
	return &harness{svc: svc, clock: clk, store: store, bus: bus}
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	if _, err := h.svc.Open(context.Background(), "Ana", workDate); err != nil {
		t.Fatalf("open session: %v", err)
	}
}

func (h *harness) register(t *testing.T, line, explicit string) Registration {
	t.Helper()
	reg, err := h.svc.Register(context.Background(), RegisterRequest{Line: line, VehicleID: "car", Time: explicit})
	if err != nil {
		t.Fatalf("register on %s: %v", line, err)
	}
	return reg
}

func (h *harness) confirm(t *testing.T, id uint64) {
	t.Helper()
	ok, err := h.svc.Confirm(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("confirm %d: ok=%v err=%v", id, ok, err)
	}
}

func (h *harness) scheduled(t *testing.T, id uint64) time.Time {
	t.Helper()
	d, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	return d.ScheduledAt
}

func assertTime(t *testing.T, got time.Time, want string) {
	t.Helper()
	if !got.Equal(at(want)) {
		t.Fatalf("expected %s, got %s", want, got.Format("15:04"))
	}
}

func TestNextTimeWithoutHistoryUsesLead(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	slot, err := h.svc.NextTime(context.Background(), "A")
	if err != nil {
		t.Fatalf("next time: %v", err)
	}
	assertTime(t, slot.Time, "10:10")
	if slot.Anchor != AnchorLead || slot.Interval != 8 {
		t.Fatalf("unexpected slot: %+v", slot)
	}
}

func TestNextTimeFollowsLatestPending(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	h.register(t, "A", "10:30")
	h.register(t, "A", "10:20")

	slot, err := h.svc.NextTime(context.Background(), "A")
	if err != nil {
		t.Fatalf("next time: %v", err)
	}
	assertTime(t, slot.Time, "10:38")
	if slot.Anchor != AnchorPending {
		t.Fatalf("expected pending anchor, got %s", slot.Anchor)
	}
}

func TestNextTimeAfterConfirmed(t *testing.T) {
	tests := []struct {
		name   string
		now    string
		want   string
		anchor Anchor
	}{
		{name: "before expected slot", now: "10:05", want: "10:18", anchor: AnchorConfirmed},
		{name: "exactly at expected slot", now: "10:18", want: "10:18", anchor: AnchorConfirmed},
		{name: "late", now: "10:25", want: "10:33", anchor: AnchorConfirmedLate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.open(t)
			reg := h.register(t, "A", "10:10")
			h.confirm(t, reg.Departure.ID)

			h.clock.Set(at(tt.now))
			slot, err := h.svc.NextTime(context.Background(), "A")
			if err != nil {
				t.Fatalf("next time: %v", err)
			}
			assertTime(t, slot.Time, tt.want)
			if slot.Anchor != tt.anchor || slot.SourceID != reg.Departure.ID {
				t.Fatalf("unexpected slot: %+v", slot)
			}
		})
	}
}

func TestDispatchScenario(t *testing.T) {
	for _, tc := range []struct {
		name   string
		second string
		want   string
	}{
		{name: "second car on time", second: "10:05", want: "10:18"},
		{name: "second car late", second: "10:25", want: "10:33"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.open(t)

			car1 := h.register(t, "A", "")
			assertTime(t, car1.Departure.ScheduledAt, "10:10")
			h.confirm(t, car1.Departure.ID)

			h.clock.Set(at(tc.second))
			car2 := h.register(t, "A", "")
			assertTime(t, car2.Departure.ScheduledAt, tc.want)
		})
	}
}

func TestNextTimeSecondsAreTruncated(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	h.clock.Set(at("10:00").Add(59 * time.Second))

	slot, err := h.svc.NextTime(context.Background(), "A")
	if err != nil {
		t.Fatalf("next time: %v", err)
	}
	assertTime(t, slot.Time, "10:10")
}

func TestNextTimeFallsBackWhenStoreFails(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	h.store.failLatest = true

	reg := h.register(t, "A", "")
	if !reg.Slot.Fallback() {
		t.Fatalf("expected fallback slot, got %+v", reg.Slot)
	}
	assertTime(t, reg.Departure.ScheduledAt, "10:10")
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.Register(ctx, RegisterRequest{Line: "A"}); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
	if _, err := h.svc.NextTime(ctx, "A"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession from NextTime, got %v", err)
	}

	h.open(t)
	tests := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{name: "missing line", req: RegisterRequest{Line: "  "}, want: ErrInvalidDeparture},
		{name: "bad hour", req: RegisterRequest{Line: "A", Time: "25:00"}, want: ErrInvalidTime},
		{name: "garbage", req: RegisterRequest{Line: "A", Time: "soon"}, want: ErrInvalidTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.Register(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegisterExplicitTimeAndUnknownLine(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	reg := h.register(t, "A", "10:42:59")
	assertTime(t, reg.Departure.ScheduledAt, "10:42")
	if reg.Slot.Anchor != AnchorExplicit {
		t.Fatalf("expected explicit anchor, got %s", reg.Slot.Anchor)
	}

	other := h.register(t, "Z9", "")
	assertTime(t, other.Departure.ScheduledAt, "10:10")
	next, _ := h.svc.NextTime(context.Background(), "Z9")
	assertTime(t, next.Time, "10:18")
}

func TestRegisterPublishesEvent(t *testing.T) {
	h := newHarness(t)
	sub := h.bus.Subscribe(events.EventDepartureRegistered)
	h.open(t)

	reg := h.register(t, "A", "")
	select {
	case p := <-sub:
		if p["id"] != reg.Departure.ID || p["line"] != "A" || p["scheduled"] != "10:10" {
			t.Fatalf("unexpected payload: %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected registration event")
	}
}

func TestOpenValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, tc := range []struct{ fiscal, date string }{
		{"", workDate},
		{"Ana", ""},
		{"Ana", "02/05/2024"},
	} {
		if _, err := h.svc.Open(ctx, tc.fiscal, tc.date); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("Open(%q, %q): expected ErrInvalidSession, got %v", tc.fiscal, tc.date, err)
		}
	}
	if h.svc.IsOpen() {
		t.Fatal("invalid opens must not start a session")
	}

	h.open(t)
	if _, err := h.svc.Open(ctx, "Bruno", "2024-05-03"); err != nil {
		t.Fatalf("replace session: %v", err)
	}
	sess, _ := h.svc.Session()
	if sess.Fiscal != "Bruno" || sess.WorkDate != "2024-05-03" {
		t.Fatalf("expected replaced session, got %+v", sess)
	}
}

func TestConfirmMissingIsNotAnError(t *testing.T) {
	h := newHarness(t)
	ok, err := h.svc.Confirm(context.Background(), 12345)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ok {
		t.Fatal("expected false for missing id")
	}
}

func TestSetIntervalRecalculatesPendingOfLine(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	ctx := context.Background()

	anchor := h.register(t, "A", "")
	h.confirm(t, anchor.Departure.ID)
	p1 := h.register(t, "A", "")
	p2 := h.register(t, "A", "")
	p3 := h.register(t, "A", "")
	other := h.register(t, "B", "")

	assertTime(t, p1.Departure.ScheduledAt, "10:18")
	assertTime(t, p3.Departure.ScheduledAt, "10:34")

	change, err := h.svc.SetInterval(ctx, "A", 5)
	if err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if change.Old != 8 || change.New != 5 || change.RecordsUpdated != 3 {
		t.Fatalf("unexpected change: %+v", change)
	}

	assertTime(t, h.scheduled(t, anchor.Departure.ID), "10:10")
	assertTime(t, h.scheduled(t, p1.Departure.ID), "10:15")
	assertTime(t, h.scheduled(t, p2.Departure.ID), "10:20")
	assertTime(t, h.scheduled(t, p3.Departure.ID), "10:25")
	assertTime(t, h.scheduled(t, other.Departure.ID), "10:10")

	next, _ := h.svc.NextTime(ctx, "A")
	assertTime(t, next.Time, "10:30")
}

func TestSetIntervalAfterLateConfirmation(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	anchor := h.register(t, "A", "")
	h.confirm(t, anchor.Departure.ID)
	p := h.register(t, "A", "10:40")

	h.clock.Advance(30 * time.Minute)
	if _, err := h.svc.SetInterval(context.Background(), "A", 6); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	assertTime(t, h.scheduled(t, p.Departure.ID), "10:36")
}

func TestSetIntervalValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, m := range []int{0, -3, 61} {
		if _, err := h.svc.SetInterval(ctx, "A", m); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("SetInterval(%d): expected ErrInvalidInterval, got %v", m, err)
		}
	}
	if _, err := h.svc.SetInterval(ctx, "nope", 5); !errors.Is(err, ErrUnknownLine) {
		t.Fatalf("expected ErrUnknownLine, got %v", err)
	}

	change, err := h.svc.SetInterval(ctx, "A", 60)
	if err != nil {
		t.Fatalf("set interval without session: %v", err)
	}
	if change.RecordsUpdated != 0 || h.svc.Interval("A") != 60 {
		t.Fatalf("unexpected change without session: %+v", change)
	}
	if _, err := h.svc.SetInterval(ctx, "A", 1); err != nil {
		t.Fatalf("lower bound must be accepted: %v", err)
	}
}

func TestSetIntervalRestoresOldValueWhenBatchFails(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	p := h.register(t, "A", "")

	h.store.failUpdate = true
	if _, err := h.svc.SetInterval(context.Background(), "A", 3); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	if h.svc.Interval("A") != 8 {
		t.Fatalf("expected interval to be restored, got %d", h.svc.Interval("A"))
	}
	assertTime(t, h.scheduled(t, p.Departure.ID), "10:10")
}

func TestRecalculateLineWithoutConfirmedUsesLead(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	a := h.register(t, "A", "09:00")
	b := h.register(t, "A", "09:30")

	n, err := h.svc.RecalculateLine(context.Background(), "A")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 updates, got %d", n)
	}
	assertTime(t, h.scheduled(t, a.Departure.ID), "10:10")
	assertTime(t, h.scheduled(t, b.Departure.ID), "10:18")
}

// Recalculation orders the queue by the currently stored time, not by
// registration order, so a manual edit moves a vehicle's place in line.
func TestRecalculateLineResequencesByStoredTime(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	first := h.register(t, "A", "11:00")
	second := h.register(t, "A", "10:00")
	third := h.register(t, "A", "10:00")

	if _, err := h.svc.RecalculateLine(context.Background(), "A"); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	assertTime(t, h.scheduled(t, second.Departure.ID), "10:10")
	assertTime(t, h.scheduled(t, third.Departure.ID), "10:18")
	assertTime(t, h.scheduled(t, first.Departure.ID), "10:26")
}

func TestRecalculateLineToleratesRecordsConfirmedMidway(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	a := h.register(t, "A", "")
	b := h.register(t, "A", "")

	h.store.afterList = func() {
		h.store.afterList = nil
		if _, err := h.store.GormStore.Confirm(context.Background(), b.Departure.ID); err != nil {
			t.Errorf("confirm midway: %v", err)
		}
	}
	h.clock.Set(at("10:05"))
	n, err := h.svc.RecalculateLine(context.Background(), "A")
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the still-pending record to move, got %d", n)
	}
	// b became the confirmed anchor: 10:18 + 8.
	assertTime(t, h.scheduled(t, a.Departure.ID), "10:26")
	assertTime(t, h.scheduled(t, b.Departure.ID), "10:18")
}

func TestGlobalIntervalOnlyDrivesLegacyRecalculation(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	ctx := context.Background()

	a1 := h.register(t, "A", "")
	a2 := h.register(t, "A", "")
	b1 := h.register(t, "B", "")

	change, err := h.svc.SetGlobalInterval(ctx, 5)
	if err != nil {
		t.Fatalf("set global interval: %v", err)
	}
	if change.RecordsUpdated != 3 {
		t.Fatalf("expected 3 records, got %+v", change)
	}

	assertTime(t, h.scheduled(t, a1.Departure.ID), "10:10")
	assertTime(t, h.scheduled(t, b1.Departure.ID), "10:15")
	assertTime(t, h.scheduled(t, a2.Departure.ID), "10:20")

	if h.svc.Interval("A") != 8 || h.svc.Interval("B") != 8 {
		t.Fatal("global interval must not change per-line intervals")
	}
	next, _ := h.svc.NextTime(ctx, "A")
	assertTime(t, next.Time, "10:28")

	if _, err := h.svc.SetGlobalInterval(ctx, 0); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestRecalculateAllIgnoresConfirmedHistory(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	c := h.register(t, "A", "09:00")
	h.confirm(t, c.Departure.ID)
	p := h.register(t, "A", "")
	assertTime(t, p.Departure.ScheduledAt, "10:08")

	h.clock.Set(at("10:30"))
	n, err := h.svc.RecalculateAll(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("recalculate all: n=%d err=%v", n, err)
	}
	assertTime(t, h.scheduled(t, p.Departure.ID), "10:40")
	assertTime(t, h.scheduled(t, c.Departure.ID), "09:00")
}

func TestFinalize(t *testing.T) {
	h := newHarness(t, config.LineSpec{Name: "A"}, config.LineSpec{Name: "B", Interval: 12})
	h.open(t)
	ctx := context.Background()

	r := h.register(t, "A", "")
	h.confirm(t, r.Departure.ID)
	h.register(t, "A", "")
	h.register(t, "B", "")
	if _, err := h.svc.SetInterval(ctx, "B", 20); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	if _, err := h.svc.SetGlobalInterval(ctx, 15); err != nil {
		t.Fatalf("set global interval: %v", err)
	}

	res, err := h.svc.Finalize(ctx)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.RecordCount != 3 || len(res.Records) != 3 || res.Session.Fiscal != "Ana" {
		t.Fatalf("unexpected finalize result: %+v", res)
	}
	if h.svc.IsOpen() {
		t.Fatal("expected session to be closed")
	}
	if h.svc.Interval("A") != 8 || h.svc.Interval("B") != 12 || h.svc.GlobalInterval() != 8 {
		t.Fatalf("expected defaults restored, got A=%d B=%d global=%d", h.svc.Interval("A"), h.svc.Interval("B"), h.svc.GlobalInterval())
	}

	rows, err := h.store.ListScope(ctx, models.Scope{Fiscal: "Ana", WorkDate: workDate})
	if err != nil || len(rows) != 3 {
		t.Fatalf("records must survive finalize: %d, %v", len(rows), err)
	}

	slot, err := h.svc.NextTime(ctx, "A")
	if err != nil || slot.Anchor != AnchorLead {
		t.Fatalf("expected lead slot after finalize, got %+v, %v", slot, err)
	}
	assertTime(t, slot.Time, "10:10")
	if _, err := h.svc.Open(ctx, "Ana", "2024-05-03"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	slot, _ = h.svc.NextTime(ctx, "A")
	if slot.Anchor != AnchorLead {
		t.Fatalf("expected lead anchor on a fresh day, got %s", slot.Anchor)
	}

	if _, err := h.svc.Finalize(ctx); err != nil {
		t.Fatalf("finalize empty day: %v", err)
	}
	if _, err := h.svc.Finalize(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestFinalizeKeepsSessionWhenSnapshotFails(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	h.register(t, "A", "")
	if _, err := h.svc.SetInterval(context.Background(), "A", 4); err != nil {
		t.Fatalf("set interval: %v", err)
	}

	h.store.failSnapshot = true
	if _, err := h.svc.Finalize(context.Background()); !errors.Is(err, errStoreDown) {
		t.Fatalf("expected snapshot error, got %v", err)
	}
	if !h.svc.IsOpen() {
		t.Fatal("session must stay open when the snapshot fails")
	}
	if h.svc.Interval("A") != 4 {
		t.Fatal("intervals must not reset when the snapshot fails")
	}
}

func TestResetConfirmations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.svc.ResetConfirmations(ctx); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}

	h.open(t)
	a := h.register(t, "A", "")
	b := h.register(t, "B", "")
	h.confirm(t, a.Departure.ID)
	h.confirm(t, b.Departure.ID)

	n, err := h.svc.ResetConfirmations(ctx)
	if err != nil || n != 2 {
		t.Fatalf("reset: n=%d err=%v", n, err)
	}
	slot, _ := h.svc.NextTime(ctx, "A")
	if slot.Anchor != AnchorPending {
		t.Fatalf("expected reset records to act as pending, got %s", slot.Anchor)
	}
}

func TestEditAndDeletePublishEvents(t *testing.T) {
	h := newHarness(t)
	edited := h.bus.Subscribe(events.EventDepartureEdited)
	deleted := h.bus.Subscribe(events.EventDepartureDeleted)
	h.open(t)
	ctx := context.Background()

	r := h.register(t, "A", "")
	when := at("11:11")
	ok, err := h.svc.Edit(ctx, r.Departure.ID, departures.EditRequest{ScheduledAt: &when})
	if err != nil || !ok {
		t.Fatalf("edit: ok=%v err=%v", ok, err)
	}
	assertTime(t, h.scheduled(t, r.Departure.ID), "11:11")

	empty := " "
	if _, err := h.svc.Edit(ctx, r.Departure.ID, departures.EditRequest{Line: &empty}); !errors.Is(err, ErrInvalidDeparture) {
		t.Fatalf("expected ErrInvalidDeparture, got %v", err)
	}

	ok, err = h.svc.Delete(ctx, r.Departure.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}

	for name, sub := range map[string]events.Subscriber{"edited": edited, "deleted": deleted} {
		select {
		case <-sub:
		case <-time.After(time.Second):
			t.Fatalf("expected %s event", name)
		}
	}
}

func TestConcurrentRegistrationsKeepLineSpacing(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n*2)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := h.svc.Register(context.Background(), RegisterRequest{Line: "A"}); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := h.svc.Register(context.Background(), RegisterRequest{Line: "B"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent register: %v", err)
	}

	for _, line := range []string{"A", "B"} {
		rows, err := h.store.ListPendingOrderedByTime(context.Background(), models.Scope{Fiscal: "Ana", WorkDate: workDate}, line)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(rows) != n {
			t.Fatalf("line %s: expected %d rows, got %d", line, n, len(rows))
		}
		assertTime(t, rows[0].ScheduledAt, "10:10")
		for i := 1; i < len(rows); i++ {
			if gap := rows[i].ScheduledAt.Sub(rows[i-1].ScheduledAt); gap != 8*time.Minute {
				t.Fatalf("line %s: gap %v between positions %d and %d", line, gap, i-1, i)
			}
		}
	}
}

func TestNextTimeAfterFinalizeAndSameDayReopen(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	ctx := context.Background()

	h.register(t, "A", "")
	h.register(t, "A", "")
	if _, err := h.svc.Finalize(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	for _, line := range []string{"A", "Z"} {
		slot, err := h.svc.NextTime(ctx, line)
		if err != nil {
			t.Fatalf("next time on %s without session: %v", line, err)
		}
		if slot.Anchor != AnchorLead || slot.Interval != 8 {
			t.Fatalf("line %s: expected lead slot, got %+v", line, slot)
		}
		assertTime(t, slot.Time, "10:10")
	}
	if _, err := h.svc.Register(ctx, RegisterRequest{Line: "A"}); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession on register, got %v", err)
	}

	// Reopening the same fiscal and date resumes from the stored day.
	h.open(t)
	slot, err := h.svc.NextTime(ctx, "A")
	if err != nil {
		t.Fatalf("next time after reopen: %v", err)
	}
	if slot.Anchor != AnchorPending {
		t.Fatalf("expected pending anchor after same-day reopen, got %+v", slot)
	}
	assertTime(t, slot.Time, "10:26")
}

func TestLineLocksStayBounded(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	ctx := context.Background()

	for _, line := range []string{"x1", "x2", "x3", "x4"} {
		if _, err := h.svc.NextTime(ctx, line); err != nil {
			t.Fatalf("next time on %s: %v", line, err)
		}
	}
	h.register(t, "A", "")
	h.register(t, "C", "")

	h.svc.linesMu.Lock()
	got := len(h.svc.lines)
	h.svc.linesMu.Unlock()
	if got != 2 {
		t.Fatalf("expected locks only for A and C, got %d", got)
	}

	slot, err := h.svc.NextTime(ctx, "C")
	if err != nil || slot.Anchor != AnchorPending {
		t.Fatalf("expected pending slot on C, got %+v, %v", slot, err)
	}

	if _, err := h.svc.Finalize(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	h.svc.linesMu.Lock()
	got = len(h.svc.lines)
	h.svc.linesMu.Unlock()
	if got != 0 {
		t.Fatalf("expected lock table cleared by finalize, got %d", got)
	}
}

func TestIntervalChangesRacingRegistrationsKeepSpacing(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	ctx := context.Background()

	const n = 15
	var wg sync.WaitGroup
	errs := make(chan error, n+3)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.Register(ctx, RegisterRequest{Line: "A"}); err != nil {
				errs <- err
			}
		}()
	}
	for _, minutes := range []int{5, 12, 3} {
		wg.Add(1)
		go func(m int) {
			defer wg.Done()
			if _, err := h.svc.SetInterval(ctx, "A", m); err != nil {
				errs <- err
			}
		}(minutes)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation: %v", err)
	}

	change, err := h.svc.SetInterval(ctx, "A", 7)
	if err != nil {
		t.Fatalf("final set interval: %v", err)
	}
	if change.RecordsUpdated != n {
		t.Fatalf("expected %d records respaced, got %d", n, change.RecordsUpdated)
	}

	rows, err := h.store.ListPendingOrderedByTime(ctx, models.Scope{Fiscal: "Ana", WorkDate: workDate}, "A")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != n {
		t.Fatalf("expected %d rows, got %d", n, len(rows))
	}
	for i, d := range rows {
		want := at("10:10").Add(time.Duration(i*7) * time.Minute)
		if !d.ScheduledAt.Equal(want) {
			t.Fatalf("position %d: expected %s, got %s", i, want.Format("15:04"), d.ScheduledAt.Format("15:04"))
		}
	}
}
