package query

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gnemet/datatable/entity"
	"github.com/lib/pq"
)

// newMockDB creates a sqlmock database with automatic cleanup and expectation checking.
func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

func TestPaginateCountsThenFetchesPage(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewRunner(db, Postgres, "", nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM actions WHERE actions.status = $1")).
		WithArgs("open").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(23))

	rows := sqlmock.NewRows([]string{"id", "title"})
	for i := 11; i <= 20; i++ {
		rows.AddRow(i, []byte("row"))
	}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM actions WHERE actions.status = $1 ORDER BY actions.id ASC LIMIT 10 OFFSET 10")).
		WithArgs("open").
		WillReturnRows(rows)

	b := New("actions").Where("actions.status", "=", "open").OrderBy("actions.id", Asc)
	page, err := r.Paginate(context.Background(), b, 2, 10)
	if err != nil {
		t.Fatalf("Paginate failed: %v", err)
	}

	if page.Total != 23 || page.LastPage != 3 || page.CurrentPage != 2 || page.From != 11 || page.To != 20 {
		t.Errorf("Unexpected page metadata %+v", page)
	}
	if len(page.Records) != 10 {
		t.Fatalf("Expected 10 records, got %d", len(page.Records))
	}
	if page.Records[0]["title"] != "row" {
		t.Errorf("Expected []byte to be converted to string, got %T", page.Records[0]["title"])
	}
}

func TestFindReturnsNilWhenMissing(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewRunner(db, Postgres, "", nil)
	e := entity.New("action", "actions")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM actions WHERE id = $1 LIMIT 1")).
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec, err := r.Find(context.Background(), e, "42")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil record, got %v", rec)
	}
}

func TestUndefinedColumnIsClassified(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewRunner(db, Postgres, "", nil)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnError(&pq.Error{Code: "42703", Message: `column "missing.name" does not exist`})

	_, err := r.Paginate(context.Background(), New("actions").Where("missing.name", "=", "x"), 1, 10)
	if !errors.Is(err, ErrUndefinedColumn) {
		t.Errorf("Expected ErrUndefinedColumn, got %v", err)
	}
}

func TestLoadRelationBelongsToAndHasMany(t *testing.T) {
	db, mock := newMockDB(t)
	r := NewRunner(db, SQLite, "", nil)

	users := entity.New("user", "users")
	notes := entity.New("note", "notes")
	actions := entity.New("action", "actions").
		BelongsTo("owner", users, "owner_id", "id").
		HasMany("notes", notes, "action_id", "id")

	records := []entity.Record{
		{"id": int64(1), "owner_id": int64(10)},
		{"id": int64(2), "owner_id": int64(10)},
		{"id": int64(3), "owner_id": nil},
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM users WHERE id IN (?)")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(10), "Ann"))

	if err := r.LoadRelation(context.Background(), actions, records, []string{"owner"}); err != nil {
		t.Fatalf("LoadRelation failed: %v", err)
	}
	if owner, ok := records[1]["owner"].(entity.Record); !ok || owner["name"] != "Ann" {
		t.Errorf("Expected owner Ann, got %v", records[1]["owner"])
	}
	if records[2]["owner"] != nil {
		t.Errorf("Expected nil owner for null foreign key, got %v", records[2]["owner"])
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM notes WHERE action_id IN (?, ?, ?)")).
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "action_id", "body"}).
			AddRow(int64(100), int64(1), "a").
			AddRow(int64(101), int64(1), "b"))

	if err := r.LoadRelation(context.Background(), actions, records, []string{"notes"}); err != nil {
		t.Fatalf("LoadRelation failed: %v", err)
	}
	if got := records[0]["notes"].([]entity.Record); len(got) != 2 {
		t.Errorf("Expected 2 notes, got %d", len(got))
	}
	if got := records[1]["notes"].([]entity.Record); len(got) != 0 {
		t.Errorf("Expected no notes, got %d", len(got))
	}
}

func TestSlicePageMatchesDatabaseShape(t *testing.T) {
	all := make([]entity.Record, 23)
	for i := range all {
		all[i] = entity.Record{"id": i + 1}
	}

	got := SlicePage(all, 2, 10)
	want := NewPage(all[10:20], 23, 2, 10)

	if got.Total != want.Total || got.LastPage != want.LastPage || got.From != want.From ||
		got.To != want.To || got.CurrentPage != want.CurrentPage || got.PerPage != want.PerPage {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
	if got.Records[0]["id"] != 11 || got.Records[9]["id"] != 20 {
		t.Errorf("Expected items 11-20, got %v..%v", got.Records[0]["id"], got.Records[9]["id"])
	}

	empty := SlicePage(all, 9, 10)
	if len(empty.Records) != 0 || empty.From != 0 || empty.To != 0 || empty.Total != 23 {
		t.Errorf("Expected empty out-of-range page, got %+v", empty)
	}

	none := SlicePage(nil, 1, 10)
	if none.LastPage != 1 || none.Records == nil {
		t.Errorf("Expected last page 1 and non-nil records, got %+v", none)
	}
}
