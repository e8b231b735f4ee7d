package departures

import (
	"context"
	"testing"
	"time"

	"github.com/friendsincode/prancheta/internal/db/dbtest"
	"github.com/friendsincode/prancheta/internal/models"
)

var testScope = models.Scope{Fiscal: "Ana", WorkDate: "2024-05-02"}

func at(hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", testScope.WorkDate+" "+hhmm, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func seed(t *testing.T, s *GormStore, line, hhmm string, confirmed bool) *models.Departure {
	t.Helper()
	d := &models.Departure{
		Fiscal:      testScope.Fiscal,
		WorkDate:    testScope.WorkDate,
		Line:        line,
		VehicleID:   "car-" + hhmm,
		ScheduledAt: at(hhmm),
		Confirmed:   confirmed,
	}
	if err := s.Insert(context.Background(), d); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if d.ID == 0 {
		t.Fatal("expected id to be assigned")
	}
	return d
}

func TestLatestPendingAndConfirmed(t *testing.T) {
	s := NewGormStore(dbtest.Open(t))
	ctx := context.Background()

	if d, err := s.LatestPending(ctx, testScope, "A"); err != nil || d != nil {
		t.Fatalf("expected no pending record, got %+v, %v", d, err)
	}

	seed(t, s, "A", "10:00", true)
	seed(t, s, "A", "10:20", false)
	seed(t, s, "A", "10:10", false)
	seed(t, s, "B", "11:00", false)

	pending, err := s.LatestPending(ctx, testScope, "A")
	if err != nil {
		t.Fatalf("latest pending: %v", err)
	}
	if pending == nil || !pending.ScheduledAt.Equal(at("10:20")) {
		t.Fatalf("expected pending at 10:20, got %+v", pending)
	}

	confirmed, err := s.LatestConfirmed(ctx, testScope, "A")
	if err != nil {
		t.Fatalf("latest confirmed: %v", err)
	}
	if confirmed == nil || !confirmed.ScheduledAt.Equal(at("10:00")) {
		t.Fatalf("expected confirmed at 10:00, got %+v", confirmed)
	}

	other := models.Scope{Fiscal: "Bruno", WorkDate: testScope.WorkDate}
	if d, _ := s.LatestPending(ctx, other, "A"); d != nil {
		t.Fatalf("expected scopes to be isolated, got %+v", d)
	}
}

func TestListPendingOrderedByTime(t *testing.T) {
	s := NewGormStore(dbtest.Open(t))
	ctx := context.Background()

	a := seed(t, s, "A", "10:20", false)
	b := seed(t, s, "A", "10:05", false)
	c := seed(t, s, "B", "10:05", false)
	seed(t, s, "A", "09:00", true)

	rows, err := s.ListPendingOrderedByTime(ctx, testScope, "A")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != b.ID || rows[1].ID != a.ID {
		t.Fatalf("unexpected order: %+v", rows)
	}

	all, err := s.ListPendingOrderedByTime(ctx, testScope, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	want := []uint64{b.ID, c.ID, a.ID}
	if len(all) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(all))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Fatalf("position %d: expected id %d, got %d", i, id, all[i].ID)
		}
	}
}

func TestUpdateTimesSkipsConfirmedRows(t *testing.T) {
	s := NewGormStore(dbtest.Open(t))
	ctx := context.Background()

	pending := seed(t, s, "A", "10:00", false)
	confirmed := seed(t, s, "A", "09:00", true)

	res, err := s.UpdateTimes(ctx, []TimeUpdate{
		{ID: pending.ID, ScheduledAt: at("10:30")},
		{ID: confirmed.ID, ScheduledAt: at("10:40")},
		{ID: 9999, ScheduledAt: at("10:50")},
	})
	if err != nil {
		t.Fatalf("update times: %v", err)
	}
	if res.Requested != 3 || res.Updated != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Mismatched) != 2 {
		t.Fatalf("expected two mismatches, got %v", res.Mismatched)
	}

	got, err := s.Get(ctx, confirmed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ScheduledAt.Equal(at("09:00")) {
		t.Fatalf("confirmed record was rewritten: %v", got.ScheduledAt)
	}
	got, _ = s.Get(ctx, pending.ID)
	if !got.ScheduledAt.Equal(at("10:30")) {
		t.Fatalf("pending record not rewritten: %v", got.ScheduledAt)
	}
}

func TestUpdateTimesRollsBackOnError(t *testing.T) {
	s := NewGormStore(dbtest.Open(t))
	d := seed(t, s, "A", "10:00", false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.UpdateTimes(ctx, []TimeUpdate{{ID: d.ID, ScheduledAt: at("11:00")}}); err == nil {
		t.Fatal("expected cancelled context to fail the batch")
	}

	got, err := s.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ScheduledAt.Equal(at("10:00")) {
		t.Fatalf("expected batch rollback, got %v", got.ScheduledAt)
	}
}

func TestConfirmIsIdempotentAndReportsMissing(t *testing.T) {
	s := NewGormStore(dbtest.Open(t))
	ctx := context.Background()
	d := seed(t, s, "A", "10:00", false)

	for i := 0; i < 2; i++ {
		ok, err := s.Confirm(ctx, d.ID)
		if err != nil || !ok {
			t.Fatalf("confirm attempt %d: ok=%v err=%v", i, ok, err)
		}
	}
	got, _ := s.Get(ctx, d.ID)
	if !got.Confirmed {
		t.Fatal("expected record to be confirmed")
	}

	ok, err := s.Confirm(ctx, 4242)
	if err != nil {
		t.Fatalf("confirm missing: %v", err)
	}
	if ok {
		t.Fatal("expected missing id to report false")
	}
}

func TestResetConfirmations(t *testing.T) {
	s := NewGormStore(dbtest.Open(t))
	ctx := context.Background()

	seed(t, s, "A", "10:00", true)
	seed(t, s, "B", "10:05", true)
	seed(t, s, "A", "10:10", false)
	other := &models.Departure{Fiscal: "Bruno", WorkDate: testScope.WorkDate, Line: "A", ScheduledAt: at("10:00"), Confirmed: true}
	if err := s.Insert(ctx, other); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := s.ResetConfirmations(ctx, testScope)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records reset, got %d", n)
	}
	got, _ := s.Get(ctx, other.ID)
	if !got.Confirmed {
		t.Fatal("reset leaked outside the scope")
	}
}

func TestEditAndDelete(t *testing.T) {
	s := NewGormStore(dbtest.Open(t))
	ctx := context.Background()
	d := seed(t, s, "A", "10:00", false)

	driver := "Carla"
	when := at("12:34").Add(45 * time.Second)
	ok, err := s.Edit(ctx, d.ID, EditRequest{Driver: &driver, ScheduledAt: &when})
	if err != nil || !ok {
		t.Fatalf("edit: ok=%v err=%v", ok, err)
	}
	got, _ := s.Get(ctx, d.ID)
	if got.Driver != "Carla" || !got.ScheduledAt.Equal(at("12:34")) {
		t.Fatalf("unexpected edit result: %+v", got)
	}

	if ok, _ := s.Edit(ctx, 777, EditRequest{Driver: &driver}); ok {
		t.Fatal("expected edit of missing id to report false")
	}

	ok, err = s.Delete(ctx, d.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, err := s.Get(ctx, d.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if ok, _ := s.Delete(ctx, d.ID); ok {
		t.Fatal("expected second delete to report false")
	}
}
