package history

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"probetherm/pkg/config"
)

const insertWaitEvent = `
		INSERT INTO wait_events (id, occurred_at, kind, direction, target, reading, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestAppendGeneratesDefaults(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(insertWaitEvent)).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(),
			"completed", "warm-up", 60.0, 61.2, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Append(context.Background(), WaitEvent{
		Kind:      "  Completed ",
		Direction: "warm-up",
		Target:    60.0,
		Reading:   61.2,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("mock expectations: %v", err)
	}
}

func TestAppendKeepsProvidedIdentity(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2026, 5, 2, 12, 30, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(insertWaitEvent)).
		WithArgs("evt-1", at.Format("2006-01-02 15:04:05"),
			"started", "cool-down", 20.0, 48.7, "M199 S20 C").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Append(context.Background(), WaitEvent{
		ID:         "evt-1",
		OccurredAt: at,
		Kind:       KindStarted,
		Direction:  "cool-down",
		Target:     20.0,
		Reading:    48.7,
		Detail:     "M199 S20 C",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("mock expectations: %v", err)
	}
}

func TestAppendDBError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(insertWaitEvent)).
		WillReturnError(sql.ErrConnDone)

	if err := s.Append(context.Background(), WaitEvent{Kind: KindReport}); err == nil {
		t.Error("expected database error")
	}
}

func TestListWithFilters(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	occurred := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	query := `SELECT id, occurred_at, kind, direction, target, reading, detail FROM wait_events` +
		` WHERE occurred_at >= ? AND occurred_at <= ? AND kind = ? ORDER BY occurred_at ASC`
	rows := sqlmock.NewRows([]string{"id", "occurred_at", "kind", "direction", "target", "reading", "detail"}).
		AddRow("evt-9", occurred, "timed_out", "cool-down", 20.0, 35.1, "")

	mock.ExpectQuery(regexp.QuoteMeta(query)).
		WithArgs(from, to, "timed_out").
		WillReturnRows(rows)

	got, err := s.List(context.Background(), from, to, " Timed_Out ")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List returned %d events, want 1", len(got))
	}
	if got[0].ID != "evt-9" || got[0].Kind != "timed_out" || got[0].Reading != 35.1 {
		t.Errorf("event = %+v", got[0])
	}
	if !got[0].OccurredAt.Equal(occurred) {
		t.Errorf("occurred_at = %v, want %v", got[0].OccurredAt, occurred)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("mock expectations: %v", err)
	}
}

func TestListUnfiltered(t *testing.T) {
	s, mock := newMockStore(t)

	query := `SELECT id, occurred_at, kind, direction, target, reading, detail FROM wait_events ORDER BY occurred_at ASC`
	rows := sqlmock.NewRows([]string{"id", "occurred_at", "kind", "direction", "target", "reading", "detail"}).
		AddRow("a", time.Now(), "started", "warm-up", 60.0, 25.0, "").
		AddRow("b", time.Now(), "completed", "warm-up", 60.0, 60.3, "")

	mock.ExpectQuery(regexp.QuoteMeta(query)).WillReturnRows(rows)

	got, err := s.List(context.Background(), time.Time{}, time.Time{}, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d events, want 2", len(got))
	}
}

func TestNopStore(t *testing.T) {
	cfg, err := config.LoadString("")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Enabled() {
		t.Error("store without [history] should be disabled")
	}
	if err := s.Append(context.Background(), WaitEvent{Kind: KindStarted}); err != nil {
		t.Errorf("nop Append: %v", err)
	}
	events, err := s.List(context.Background(), time.Time{}, time.Time{}, "")
	if err != nil || events != nil {
		t.Errorf("nop List = %v, %v", events, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("nop Close: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	cfg, err := config.LoadString("[history]\n")
	if err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	if _, err := Open(cfg); err == nil {
		t.Error("expected error for [history] without path")
	}
}
