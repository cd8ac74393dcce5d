package datatable

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/gnemet/datatable/database/query"
	"github.com/gnemet/datatable/entity"
)

func openSQLite(t *testing.T, stmts ...string) *query.Runner {
	t.Helper()
	db, dialect, err := query.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to run %q: %v", stmt, err)
		}
	}
	return query.NewRunner(db, dialect, "test", nil)
}

func seedProjects(t *testing.T) *query.Runner {
	return openSQLite(t,
		`CREATE TABLE companies (id INTEGER PRIMARY KEY, name TEXT)`,
		`CREATE TABLE users (id INTEGER PRIMARY KEY, first_name TEXT, last_name TEXT, email TEXT, company_id INTEGER)`,
		`CREATE TABLE projects (id INTEGER PRIMARY KEY, title TEXT, status TEXT, created_at TEXT, owner_id INTEGER, settings TEXT)`,
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, project_id INTEGER, body TEXT)`,
		`INSERT INTO companies VALUES (1, 'Analytical Engines'), (2, 'Bletchley Park')`,
		`INSERT INTO users VALUES
			(1, 'Ada', 'Lovelace', 'ada@example.com', 1),
			(2, 'Alan', 'Turing', 'alan@example.com', 2),
			(3, 'Grace', 'Hopper', 'grace@example.com', NULL)`,
		`INSERT INTO projects VALUES
			(1, 'Football league', 'open', '2024-01-10', 1, '{"color":"red"}'),
			(2, 'Baseball stats', 'closed', '2024-02-15', 2, NULL),
			(3, 'Compiler', 'open', '2024-03-01', 3, NULL),
			(4, 'Difference engine', 'archived', '2024-01-10', 1, NULL)`,
		`INSERT INTO notes VALUES (1, 1, 'Urgent: book pitch'), (2, 1, 'fine'), (3, 3, 'urgent review')`,
	)
}

func projectTable(t *testing.T, store Store, columns []*Column, filters ...Filter) *Table {
	t.Helper()
	project, _, _ := testEntities()
	table, err := New(Definition{Entity: project, Columns: columns, Filters: filters}, store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return table
}

func renderIDs(t *testing.T, table *Table) []int64 {
	t.Helper()
	page, err := table.Render(context.Background())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return ids(page.Records)
}

func TestContainsFilterEndToEnd(t *testing.T) {
	runner := openSQLite(t,
		`CREATE TABLE games (id INTEGER PRIMARY KEY, title TEXT)`,
		`INSERT INTO games (title) VALUES ('football'), ('baseball')`,
	)
	games := entity.New("game", "games").WithColumns("id", "title")
	table, err := New(Definition{
		Entity:  games,
		Columns: []*Column{NewColumn("title")},
		Filters: []Filter{NewTextFilter("Title").Contains()},
	}, runner)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	table.SetFilterValue("title", "foo")
	page, err := table.Render(context.Background())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0]["title"] != "football" {
		t.Errorf("Expected only football, got %v", page.Records)
	}
	if page.Total != 1 {
		t.Errorf("Expected total 1, got %d", page.Total)
	}
}

func TestRelationFiltersEndToEnd(t *testing.T) {
	runner := seedProjects(t)
	columns := []*Column{NewColumn("title")}

	exact := projectTable(t, runner, columns, NewTextFilter("Owner").Field("owner.last_name").Exact())
	exact.SetFilterValue("owner.last_name", "Turing")
	if got := renderIDs(t, exact); !equalIDs(got, []int64{2}) {
		t.Errorf("Expected [2], got %v", got)
	}
	exact.SetFilterValue("owner.last_name", "turing")
	if got := renderIDs(t, exact); len(got) != 0 {
		t.Errorf("Exact match must be case-sensitive, got %v", got)
	}

	notes := projectTable(t, runner, columns, NewTextFilter("Notes").Field("notes.body"))
	notes.SetFilterValue("notes.body", "URGENT")
	if got := renderIDs(t, notes); !equalIDs(got, []int64{1, 3}) {
		t.Errorf("Expected [1 3], got %v", got)
	}

	company := projectTable(t, runner, columns, NewSelectFilter("Company").Field("owner.company.name").Multiple())
	company.SetFilterValue("owner.company.name", []string{"Bletchley Park"})
	if got := renderIDs(t, company); !equalIDs(got, []int64{2}) {
		t.Errorf("Expected [2], got %v", got)
	}
}

func TestComputedFilterFallsBackToMemory(t *testing.T) {
	runner := seedProjects(t)
	table := projectTable(t, runner,
		[]*Column{NewColumn("title"), NewColumn("owner.full_name", "Owner")},
		NewTextFilter("Owner").Field("owner.full_name"),
		NewSelectFilter("Status"),
	)

	table.SetFilterValue("owner.full_name", "ada LOVE")
	page, err := table.Render(context.Background())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := ids(page.Records); !equalIDs(got, []int64{1, 4}) {
		t.Errorf("Expected [1 4], got %v", got)
	}
	if page.Total != 2 || page.LastPage != 1 || page.From != 1 || page.To != 2 {
		t.Errorf("Unexpected pagination %+v", page)
	}

	// SQL and in-memory filters combine.
	table.SetFilterValue("status", "archived")
	if got := renderIDs(t, table); !equalIDs(got, []int64{4}) {
		t.Errorf("Expected [4], got %v", got)
	}

	view := table.View()
	if len(view.Rows) != 1 || view.Rows[0].Cells[1].Value != "Ada Lovelace" {
		t.Errorf("Expected owner cell from loaded relation, got %+v", view.Rows)
	}
}

func TestSearchEndToEnd(t *testing.T) {
	runner := seedProjects(t)
	table := projectTable(t, runner, []*Column{
		NewColumn("title").Searchable(),
		NewColumn("owner.full_name", "Owner").Searchable(),
	})

	table.SetSearch("hopper")
	if got := renderIDs(t, table); !equalIDs(got, []int64{3}) {
		t.Errorf("Expected [3], got %v", got)
	}

	table.SetSearch("ENGINE")
	if got := renderIDs(t, table); !equalIDs(got, []int64{4}) {
		t.Errorf("Expected [4], got %v", got)
	}

	table.SetSearch("100%")
	if got := renderIDs(t, table); len(got) != 0 {
		t.Errorf("Wildcards must match literally, got %v", got)
	}
}

func TestRelationSortEndToEnd(t *testing.T) {
	runner := seedProjects(t)
	table := projectTable(t, runner, []*Column{
		NewColumn("title").Sortable(),
		NewColumn("owner.last_name", "Owner").Sortable(),
		NewColumn("owner.full_name", "Owner name").Sortable(),
	})

	table.SortBy("owner.last_name")
	got := renderIDs(t, table)
	if len(got) != 4 || got[0] != 3 || got[3] != 2 {
		t.Errorf("Expected Hopper first and Turing last, got %v", got)
	}

	// Joined columns must not shadow the primary table's.
	page := table.CurrentPage()
	if page.Records[0]["title"] != "Compiler" {
		t.Errorf("Expected project columns, got %v", page.Records[0])
	}

	table.SortBy("owner.full_name")
	table.SortBy("owner.full_name")
	got = renderIDs(t, table)
	if len(got) != 4 || got[0] != 3 || got[1] != 2 {
		t.Errorf("Expected Grace Hopper then Alan Turing first, got %v", got)
	}
}

func TestAttributePaginationMatchesDatabase(t *testing.T) {
	stmts := []string{`CREATE TABLE users (id INTEGER PRIMARY KEY, first_name TEXT, last_name TEXT, email TEXT, company_id INTEGER)`}
	for i := 1; i <= 23; i++ {
		stmts = append(stmts, fmt.Sprintf(`INSERT INTO users (first_name, last_name) VALUES ('User %02d', 'Smith')`, i))
	}
	runner := openSQLite(t, stmts...)
	_, user, _ := testEntities()

	render := func(sortKey string) *query.Page {
		table, err := New(Definition{
			Entity:  user,
			Columns: []*Column{NewColumn("first_name").Sortable(), NewColumn("full_name").Sortable()},
		}, runner)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		table.SortBy(sortKey)
		table.GotoPage(2)
		page, err := table.Render(context.Background())
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		return page
	}

	db, mem := render("first_name"), render("full_name")
	for name, p := range map[string]*query.Page{"database": db, "memory": mem} {
		if p.Total != 23 || p.LastPage != 3 || p.CurrentPage != 2 || p.From != 11 || p.To != 20 || len(p.Records) != 10 {
			t.Errorf("%s: unexpected pagination %+v", name, p)
		}
	}
	if !equalIDs(ids(db.Records), ids(mem.Records)) {
		t.Errorf("Pages differ: %v vs %v", ids(db.Records), ids(mem.Records))
	}
	if !slices.Equal(ids(mem.Records), []int64{11, 12, 13, 14, 15, 16, 17, 18, 19, 20}) {
		t.Errorf("Expected items 11-20, got %v", ids(mem.Records))
	}
}

func TestOutOfRangePageIsEmpty(t *testing.T) {
	runner := seedProjects(t)
	table := projectTable(t, runner, []*Column{NewColumn("title")})
	table.GotoPage(9)
	page, err := table.Render(context.Background())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(page.Records) != 0 || page.Total != 4 || page.From != 0 {
		t.Errorf("Expected empty page 9 of 1, got %+v", page)
	}
}

func TestUnresolvedRelationSurfacesStoreError(t *testing.T) {
	runner := seedProjects(t)
	table := projectTable(t, runner, []*Column{NewColumn("title")}, NewTextFilter("Missing").Field("missing.name"))
	table.SetFilterValue("missing.name", "x")

	if _, err := table.Render(context.Background()); !errors.Is(err, query.ErrUndefinedColumn) {
		t.Errorf("Expected ErrUndefinedColumn, got %v", err)
	}
}

func TestRowActionLoadsRecordFromStore(t *testing.T) {
	runner := seedProjects(t)
	project, _, _ := testEntities()
	var title interface{}
	table, err := New(Definition{
		Entity:  project,
		Columns: []*Column{NewColumn("title")},
		PerPage: 1,
		RowActions: []*Action{NewAction("open", "Open").RowCallback(func(_ context.Context, r entity.Record, _ *Table) error {
			title = r["title"]
			return nil
		})},
	}, runner)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := table.Render(context.Background()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if err := table.ExecuteRowAction(context.Background(), "open", "3"); err != nil {
		t.Fatalf("ExecuteRowAction failed: %v", err)
	}
	if title != "Compiler" {
		t.Errorf("Expected Compiler, got %v", title)
	}
}

func TestRelationColumnsRenderOnDatabasePath(t *testing.T) {
	runner := seedProjects(t)
	table := projectTable(t, runner, []*Column{
		NewColumn("title"),
		NewColumn("owner.last_name", "Owner"),
		NewColumn("owner.company.name", "Company"),
	})

	if _, err := table.Render(context.Background()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	view := table.View()
	if len(view.Rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(view.Rows))
	}
	want := [][2]interface{}{
		{"Lovelace", "Analytical Engines"},
		{"Turing", "Bletchley Park"},
		{"Hopper", nil},
		{"Lovelace", "Analytical Engines"},
	}
	for i, row := range view.Rows {
		if row.Cells[1].Value != want[i][0] || row.Cells[2].Value != want[i][1] {
			t.Errorf("Row %s: expected %v, got %v / %v", row.ID, want[i], row.Cells[1].Value, row.Cells[2].Value)
		}
	}
}

func TestDateFilterEndToEnd(t *testing.T) {
	runner := seedProjects(t)
	day := projectTable(t, runner, []*Column{NewColumn("title")}, NewDateFilter("Created At"))
	ranged := projectTable(t, runner, []*Column{NewColumn("title")}, NewDateFilter("Created At").Range())

	day.SetFilterValue("created_at", "2024-01-10")
	if got := renderIDs(t, day); !equalIDs(got, []int64{1, 4}) {
		t.Errorf("Expected [1 4] on 2024-01-10, got %v", got)
	}

	cases := []struct {
		value DateRange
		want  []int64
	}{
		{DateRange{From: "2024-01-10"}, []int64{1, 2, 3, 4}},
		{DateRange{From: "2024-01-11"}, []int64{2, 3}},
		{DateRange{To: "2024-01-10"}, []int64{1, 4}},
		{DateRange{From: "2024-02-15", To: "2024-02-15"}, []int64{2}},
	}
	for _, tc := range cases {
		ranged.SetFilterValue("created_at", tc.value)
		if got := renderIDs(t, ranged); !equalIDs(got, tc.want) {
			t.Errorf("%+v: expected %v, got %v", tc.value, tc.want, got)
		}
	}
}

func TestDateFilterMatchesTimestamps(t *testing.T) {
	runner := openSQLite(t,
		`CREATE TABLE events (id INTEGER PRIMARY KEY, starts_at TEXT)`,
		`INSERT INTO events VALUES
			(1, '2024-01-10 23:30:00'),
			(2, '2024-01-10T08:00:00Z'),
			(3, '2024-01-11 00:00:00'),
			(4, '2024-01-09 23:59:59')`,
	)
	events := entity.New("event", "events").WithColumns("id", "starts_at")
	table, err := New(Definition{
		Entity:  events,
		Columns: []*Column{NewColumn("starts_at")},
		Filters: []Filter{NewDateFilter("Starts At")},
	}, runner)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	table.SetFilterValue("starts_at", "2024-01-10")
	if got := renderIDs(t, table); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("Expected [1 2], got %v", got)
	}
}

func TestScopeJoinsSurviveCounting(t *testing.T) {
	runner := seedProjects(t)
	project, _, _ := testEntities()
	table, err := New(Definition{
		Entity:  project,
		Columns: []*Column{NewColumn("title"), NewColumn("owner.last_name", "Owner").Sortable()},
		Scope: func(q *query.Builder) *query.Builder {
			q.LeftJoin("users", "u", "u.id = projects.owner_id")
			return q.Where("u.last_name", "=", "Lovelace")
		},
	}, runner)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	page, err := table.Render(context.Background())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := ids(page.Records); !equalIDs(got, []int64{1, 4}) || page.Total != 2 {
		t.Errorf("Expected [1 4] of 2, got %v of %d", got, page.Total)
	}

	table.SortBy("owner.last_name")
	table.SortBy("owner.last_name")
	page, err = table.Render(context.Background())
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if page.Total != 2 || len(page.Records) != 2 {
		t.Errorf("Expected 2 records, got %d of %d", len(page.Records), page.Total)
	}
}
