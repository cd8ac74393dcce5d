package datatable

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/gnemet/datatable/database/query"
	"github.com/gnemet/datatable/entity"
	"github.com/google/uuid"
)

// DefaultPerPageOptions are offered when a definition declares none.
var DefaultPerPageOptions = []int{10, 25, 50, 100}

// Store executes assembled queries. *query.Runner implements it.
type Store interface {
	Paginate(ctx context.Context, b *query.Builder, page, perPage int) (*query.Page, error)
	Get(ctx context.Context, b *query.Builder) ([]entity.Record, error)
	Find(ctx context.Context, e *entity.Entity, id interface{}) (entity.Record, error)
	LoadRelation(ctx context.Context, e *entity.Entity, records []entity.Record, path []string) error
}

// Definition declares a table. It is copied when a Table is built, so later
// changes to the slices do not leak into live tables.
type Definition struct {
	Entity     *entity.Entity
	Columns    []*Column
	Filters    []Filter
	Actions    []*Action
	RowActions []*Action

	// Scope narrows the base query before search, filters and sort apply.
	Scope func(q *query.Builder) *query.Builder
	// ShowRecord is called when a row is opened.
	ShowRecord func(t *Table, id string)

	DisableSearch        bool
	SearchPlaceholder    string
	DefaultSortKey       string
	DefaultSortDirection query.Direction
	PerPage              int
	PerPageOptions       []int
	DisableSelection     bool
}

// State is the user-controlled part of a table. It is the only state that
// survives between requests, through URL parameters.
type State struct {
	Search        string                 `json:"search"`
	Filters       map[string]interface{} `json:"filters"`
	SortKey       string                 `json:"sort"`
	SortDirection query.Direction        `json:"dir"`
	Page          int                    `json:"page"`
	PerPage       int                    `json:"per_page"`
}

// TableOption configures a Table.
type TableOption func(*Table)

func WithLogger(logger *slog.Logger) TableOption {
	return func(t *Table) { t.logger = logger }
}

// WithClassifier shares a schema-aware classifier between tables.
func WithClassifier(c *entity.Classifier) TableOption {
	return func(t *Table) { t.classifier = c }
}

// Table drives one interactive table instance: it owns the request state
// and runs search, filters, sort and pagination against the store on every
// render. A Table is not safe for concurrent use.
type Table struct {
	id         string
	def        Definition
	entity     *entity.Entity
	columns    []Column
	filters    []Filter
	store      Store
	classifier *entity.Classifier
	assembler  *Assembler
	logger     *slog.Logger

	state     State
	mounted   bool
	selected  []string
	selectAll bool
	page      *query.Page
}

// New builds a table over store from def.
func New(def Definition, store Store, opts ...TableOption) (*Table, error) {
	if def.Entity == nil {
		return nil, fmt.Errorf("table definition has no entity")
	}
	if store == nil {
		return nil, fmt.Errorf("table %s has no store", def.Entity.Name)
	}

	t := &Table{
		id:     uuid.New().String(),
		def:    def,
		entity: def.Entity,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.columns = make([]Column, 0, len(def.Columns))
	for _, c := range def.Columns {
		if c != nil {
			t.columns = append(t.columns, *c)
		}
	}
	t.filters = slices.Clone(def.Filters)
	t.def.Actions = slices.Clone(def.Actions)
	t.def.RowActions = slices.Clone(def.RowActions)
	if len(def.PerPageOptions) == 0 {
		t.def.PerPageOptions = DefaultPerPageOptions
	}
	if def.PerPage <= 0 {
		t.def.PerPage = t.def.PerPageOptions[0]
	}
	if def.DefaultSortKey == "" {
		t.def.DefaultSortKey = def.Entity.PrimaryKey
	}
	if def.DefaultSortDirection == "" {
		t.def.DefaultSortDirection = query.Asc
	}

	t.assembler = NewAssembler(t.entity, t.classifier, t.logger)
	t.state = State{
		Filters:       map[string]interface{}{},
		SortDirection: query.Asc,
		Page:          1,
		PerPage:       t.def.PerPage,
	}
	return t, nil
}

func (t *Table) ID() string { return t.id }

func (t *Table) Entity() *entity.Entity { return t.entity }

// Columns returns every declared column, hidden ones included.
func (t *Table) Columns() []Column { return t.columns }

// VisibleColumns returns the columns that are displayed.
func (t *Table) VisibleColumns() []Column {
	var out []Column
	for _, c := range t.columns {
		if !c.IsHidden() {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) Filters() []Filter { return t.filters }

func (t *Table) PerPageOptions() []int { return t.def.PerPageOptions }

func (t *Table) SearchEnabled() bool { return !t.def.DisableSearch }

func (t *Table) SearchPlaceholder() string {
	if t.def.SearchPlaceholder != "" {
		return t.def.SearchPlaceholder
	}
	return "Search..."
}

// Mount applies filter defaults for keys the state does not carry yet. It
// runs once; Render calls it when the caller has not.
func (t *Table) Mount() {
	if t.mounted {
		return
	}
	t.mounted = true
	for _, f := range t.filters {
		if _, ok := t.state.Filters[f.Key()]; ok {
			continue
		}
		if d := f.Default(); !IsBlank(d) {
			t.state.Filters[f.Key()] = d
		}
	}
}

// State returns a copy of the current state.
func (t *Table) State() State {
	s := t.state
	s.Filters = make(map[string]interface{}, len(t.state.Filters))
	for k, v := range t.state.Filters {
		s.Filters[k] = v
	}
	return s
}

// SetState replaces the state, dropping unknown filters and sort keys.
func (t *Table) SetState(s State) {
	t.state.Search = s.Search
	t.state.Filters = map[string]interface{}{}
	for k, v := range s.Filters {
		if t.filter(k) == nil {
			t.logger.Debug("Ignoring unknown filter key", "table", t.entity.Name, "key", k)
			continue
		}
		if !IsBlank(v) {
			t.state.Filters[k] = v
		}
	}
	t.state.SortKey = ""
	t.state.SortDirection = query.Asc
	if s.SortKey != "" {
		if c := findColumn(t.columns, s.SortKey); c != nil && c.IsSortable() {
			t.state.SortKey = s.SortKey
			t.state.SortDirection = query.ParseDirection(string(s.SortDirection))
		} else {
			t.logger.Debug("Ignoring unknown sort key", "table", t.entity.Name, "key", s.SortKey)
		}
	}
	t.state.Page = max(s.Page, 1)
	if s.PerPage > 0 {
		t.state.PerPage = s.PerPage
	}
}

func (t *Table) Search() string { return t.state.Search }

func (t *Table) SetSearch(text string) {
	t.state.Search = text
	t.resetPage()
}

func (t *Table) ClearSearch() { t.SetSearch("") }

func (t *Table) FilterValue(key string) interface{} { return t.state.Filters[key] }

// SetFilterValue sets the value of a declared filter. A blank value clears it.
func (t *Table) SetFilterValue(key string, value interface{}) {
	if t.filter(key) == nil {
		t.logger.Debug("Ignoring unknown filter key", "table", t.entity.Name, "key", key)
		return
	}
	if IsBlank(value) {
		delete(t.state.Filters, key)
	} else {
		t.state.Filters[key] = value
	}
	t.resetPage()
}

func (t *Table) ResetFilter(key string) {
	delete(t.state.Filters, key)
	t.resetPage()
}

func (t *Table) ResetAllFilters() {
	t.state.Filters = map[string]interface{}{}
	t.resetPage()
}

func (t *Table) HasActiveFilters() bool { return t.ActiveFilterCount() > 0 }

func (t *Table) ActiveFilterCount() int {
	n := 0
	for _, f := range t.filters {
		if v, ok := t.state.Filters[f.Key()]; ok && !IsBlank(v) {
			n++
		}
	}
	return n
}

func (t *Table) filter(key string) Filter {
	for _, f := range t.filters {
		if f.Key() == key {
			return f
		}
	}
	return nil
}

func (t *Table) SortKey() string { return t.state.SortKey }

func (t *Table) SortDirection() query.Direction { return t.state.SortDirection }

// SortBy sorts by a sortable column key, toggling the direction when the key
// is already active. Keys that are not sortable leave the state untouched.
func (t *Table) SortBy(key string) {
	c := findColumn(t.columns, key)
	if c == nil || !c.IsSortable() {
		return
	}
	if t.state.SortKey == key {
		t.state.SortDirection = t.state.SortDirection.Toggle()
	} else {
		t.state.SortKey = key
		t.state.SortDirection = query.Asc
	}
	t.resetPage()
}

func (t *Table) IsSorted(key string) bool { return t.state.SortKey == key }

// SortIcon names the header icon for key: "sort", "sort-asc" or "sort-desc".
func (t *Table) SortIcon(key string) string {
	if !t.IsSorted(key) {
		return "sort"
	}
	return "sort-" + string(t.state.SortDirection)
}

func (t *Table) Page() int { return t.state.Page }

func (t *Table) PerPage() int { return t.state.PerPage }

// GotoPage moves to page n. Pages past the end render empty.
func (t *Table) GotoPage(n int) {
	t.state.Page = max(n, 1)
}

func (t *Table) NextPage() {
	if t.page != nil && !t.page.HasMorePages() {
		return
	}
	t.GotoPage(t.state.Page + 1)
}

func (t *Table) PreviousPage() { t.GotoPage(t.state.Page - 1) }

func (t *Table) SetPerPage(n int) {
	if n <= 0 {
		return
	}
	t.state.PerPage = n
	t.resetPage()
}

func (t *Table) resetPage() { t.state.Page = 1 }

// Render runs the query for the current state and returns the page. Filters
// and sorts on computed attributes switch to fetching the full result and
// paginating it in memory; the page has the same shape either way.
func (t *Table) Render(ctx context.Context) (*query.Page, error) {
	t.Mount()

	q := query.New(t.entity.Table)
	if t.def.Scope != nil {
		q = t.def.Scope(q)
	}
	if !t.def.DisableSearch {
		q = t.assembler.ApplySearch(ctx, q, t.state.Search, t.columns)
	}
	q, requests := t.assembler.ApplyFilters(q, t.state.Filters, t.filters)

	sortKey, dir := t.state.SortKey, t.state.SortDirection
	var sortAttr bool
	if sortKey != "" {
		q, sortAttr = t.assembler.ApplySort(q, sortKey, dir, t.columns)
	} else {
		sortKey, dir = t.def.DefaultSortKey, t.def.DefaultSortDirection
		if c := findColumn(t.columns, sortKey); c != nil && c.IsSortable() {
			q, sortAttr = t.assembler.ApplySort(q, sortKey, dir, t.columns)
		} else {
			q.OrderBy(q.Qualify(sortKey), dir)
		}
	}

	var page *query.Page
	var loaded [][]string
	var err error
	if len(requests) == 0 && !sortAttr {
		page, err = t.store.Paginate(ctx, q, t.state.Page, t.state.PerPage)
	} else {
		attrSortKey := ""
		if sortAttr {
			attrSortKey = findColumn(t.columns, sortKey).EffectiveSortKey()
		}
		page, loaded, err = t.renderInMemory(ctx, q, requests, attrSortKey, dir)
	}
	if err == nil {
		err = t.loadDisplayRelations(ctx, page.Records, loaded)
	}
	if err != nil {
		t.logger.Error("Failed to render table", "table", t.entity.Name, "error", err)
		return nil, err
	}

	t.page = page
	t.updateSelectAllState()
	return page, nil
}

// renderInMemory also returns the relation paths it loaded onto the records.
func (t *Table) renderInMemory(ctx context.Context, q *query.Builder, requests []AttributeFilterRequest, sortKey string, dir query.Direction) (*query.Page, [][]string, error) {
	t.logger.Debug("Rendering with attribute fallback", "table", t.entity.Name, "filters", len(requests), "sort", sortKey)

	records, err := t.store.Get(ctx, q)
	if err != nil {
		return nil, nil, err
	}

	var paths [][]string
	for _, req := range requests {
		paths = append(paths, req.RelationPath)
	}
	paths = append(paths, t.relationPrefix(sortKey))
	loaded := relationLoadPaths(paths)
	for _, path := range loaded {
		if err := t.store.LoadRelation(ctx, t.entity, records, path); err != nil {
			return nil, nil, err
		}
	}

	processed := Process(t.entity, records, requests, sortKey, dir)
	return query.SlicePage(processed, t.state.Page, t.state.PerPage), loaded, nil
}

// loadDisplayRelations loads the relations visible columns read from onto
// the page, skipping chains that are already loaded.
func (t *Table) loadDisplayRelations(ctx context.Context, records []entity.Record, loaded [][]string) error {
	var paths [][]string
	for _, c := range t.VisibleColumns() {
		paths = append(paths, t.relationPrefix(c.Key()), t.relationPrefix(c.CountKey()))
	}
	for _, path := range relationLoadPaths(paths) {
		if slices.ContainsFunc(loaded, func(l []string) bool { return len(l) >= len(path) && isPrefix(path, l) }) {
			continue
		}
		if err := t.store.LoadRelation(ctx, t.entity, records, path); err != nil {
			return err
		}
	}
	return nil
}

// relationPrefix is the relation chain of a dotted key, or nil when the key
// names a column of the table itself.
func (t *Table) relationPrefix(key string) []string {
	if key == "" {
		return nil
	}
	chain, _, _, ok := t.entity.Path(key)
	if !ok || len(chain) == 0 {
		return nil
	}
	return strings.Split(key, ".")[:len(chain)]
}

// relationLoadPaths drops empty and duplicate paths and any path that is a
// prefix of another, since loading the longer chain loads the shorter one.
func relationLoadPaths(paths [][]string) [][]string {
	var out [][]string
	for i, p := range paths {
		if len(p) == 0 {
			continue
		}
		covered := false
		for j, other := range paths {
			if i == j || len(other) < len(p) {
				continue
			}
			if isPrefix(p, other) && (len(other) > len(p) || j < i) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, p)
		}
	}
	return out
}

func isPrefix(prefix, path []string) bool {
	for i, seg := range prefix {
		if !strings.EqualFold(seg, path[i]) {
			return false
		}
	}
	return true
}

// CurrentPage is the page produced by the last Render, or nil.
func (t *Table) CurrentPage() *query.Page { return t.page }

// RecordID is the primary key of r as a string.
func (t *Table) RecordID(r entity.Record) string {
	return fmt.Sprint(r[t.entity.PrimaryKey])
}

// ShowRecord invokes the definition's row-open hook.
func (t *Table) ShowRecord(id string) {
	if t.def.ShowRecord != nil {
		t.def.ShowRecord(t, id)
	}
}

func (t *Table) findRecord(ctx context.Context, id string) (entity.Record, error) {
	if t.page != nil {
		for _, r := range t.page.Records {
			if t.RecordID(r) == id {
				return r, nil
			}
		}
	}
	return t.store.Find(ctx, t.entity, id)
}

// Actions returns the visible table-level actions.
func (t *Table) Actions() []*Action {
	var out []*Action
	for _, a := range t.def.Actions {
		if a.IsVisible(nil) {
			out = append(out, a)
		}
	}
	return out
}

// RecordActions returns the row actions visible for r.
func (t *Table) RecordActions(r entity.Record) []*Action {
	var out []*Action
	for _, a := range t.def.RowActions {
		if a.IsVisible(r) {
			out = append(out, a)
		}
	}
	return out
}

// ExecuteAction runs the table-level action key. Unknown keys are ignored.
func (t *Table) ExecuteAction(ctx context.Context, key string) error {
	a := findAction(t.def.Actions, key)
	if a == nil || a.fn == nil {
		t.logger.Debug("Ignoring unknown action", "table", t.entity.Name, "action", key)
		return nil
	}
	return a.fn(ctx, t)
}

// ExecuteRowAction runs the row action key against the record with id.
// Unknown actions and missing records are ignored.
func (t *Table) ExecuteRowAction(ctx context.Context, key, id string) error {
	a := findAction(t.def.RowActions, key)
	if a == nil || a.rowFn == nil {
		t.logger.Debug("Ignoring unknown row action", "table", t.entity.Name, "action", key)
		return nil
	}
	r, err := t.findRecord(ctx, id)
	if err != nil {
		return err
	}
	if r == nil {
		t.logger.Debug("Ignoring row action on missing record", "table", t.entity.Name, "action", key, "id", id)
		return nil
	}
	return a.rowFn(ctx, r, t)
}
