package datatable

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/gnemet/datatable/database/query"
	"github.com/gnemet/datatable/entity"
)

// searchFallbackFields are probed, in order, when a searchable field is a
// computed attribute and cannot be matched in SQL.
var searchFallbackFields = []string{"name", "title", "description", "first_name", "last_name"}

// Assembler applies search, filters and sorting to a query over one entity.
type Assembler struct {
	entity     *entity.Entity
	classifier *entity.Classifier
	logger     *slog.Logger
}

// NewAssembler returns an assembler for e. classifier may be nil.
func NewAssembler(e *entity.Entity, classifier *entity.Classifier, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = entity.NewClassifier(nil, logger)
	}
	return &Assembler{entity: e, classifier: classifier, logger: logger}
}

// keyPath is a field key resolved against the entity's relations.
type keyPath struct {
	key      string
	segments []string
	chain    []*entity.Relation
	target   *entity.Entity
	field    string
	// direct is set when the key names a column on the primary entity,
	// including dotted keys whose relation could not be resolved.
	direct bool
}

func (a *Assembler) resolve(key string) keyPath {
	chain, target, field, ok := a.entity.Path(key)
	p := keyPath{key: key, segments: strings.Split(key, "."), chain: chain, target: target, field: field}
	if !ok {
		a.logger.Debug("Key does not resolve to a relation, treating as column", "key", key)
	}
	p.direct = !ok || len(chain) == 0
	return p
}

// column is the SQL reference for a direct key.
func (p keyPath) column(q *query.Builder) string {
	return q.Qualify(p.key)
}

func (p keyPath) computed() bool {
	if p.direct && len(p.segments) > 1 {
		return false
	}
	return entity.IsComputedAttribute(p.target, p.field)
}

func (p keyPath) relationPath() []string {
	return p.segments[:len(p.chain)]
}

func aliasFor(segments []string) string {
	return strings.Join(segments, "__")
}

// whereHas nests one EXISTS subquery per relation hop and lets pred constrain
// the innermost one.
func (a *Assembler) whereHas(q *query.Builder, p keyPath, pred func(sub *query.Builder)) *query.Builder {
	var subs []*query.Builder
	parent := q.Ref()
	for i, rel := range p.chain {
		alias := aliasFor(p.segments[:i+1])
		sub := query.Sub(rel.Related.Table, alias).WhereRaw(rel.JoinCondition(parent, alias))
		subs = append(subs, sub)
		parent = alias
	}

	pred(subs[len(subs)-1])
	for i := len(subs) - 1; i > 0; i-- {
		subs[i-1].WhereExists(subs[i])
	}
	return q.WhereExists(subs[0])
}

// ApplySearch ORs a case-insensitive substring match over every searchable
// column. Relation keys match through EXISTS; computed fields fall back to
// probing common text columns that exist on the owning entity.
func (a *Assembler) ApplySearch(ctx context.Context, q *query.Builder, text string, columns []Column) *query.Builder {
	if text == "" {
		return q
	}

	var searchable []Column
	for _, c := range columns {
		if c.IsSearchable() {
			searchable = append(searchable, c)
		}
	}
	if len(searchable) == 0 {
		return q
	}

	return q.OrWhere(func(or *query.Builder) {
		for _, c := range searchable {
			p := a.resolve(c.Key())

			if p.direct {
				if p.computed() {
					a.likeFallback(ctx, or, or.Ref(), p.target, text)
					continue
				}
				or.WhereLike(p.column(or), query.Contains, text)
				continue
			}

			if p.computed() {
				fields := a.fallbackFields(ctx, p.target)
				if len(fields) == 0 {
					a.logger.Debug("No searchable fallback columns for computed field", "key", p.key)
					continue
				}
				a.whereHas(or, p, func(sub *query.Builder) {
					sub.OrWhere(func(inner *query.Builder) {
						for _, f := range fields {
							inner.WhereLike(inner.Qualify(f), query.Contains, text)
						}
					})
				})
				continue
			}

			a.whereHas(or, p, func(sub *query.Builder) {
				sub.WhereLike(sub.Qualify(p.field), query.Contains, text)
			})
		}
	})
}

func (a *Assembler) likeFallback(ctx context.Context, or *query.Builder, ref string, e *entity.Entity, text string) {
	for _, f := range a.fallbackFields(ctx, e) {
		or.WhereLike(ref+"."+f, query.Contains, text)
	}
}

func (a *Assembler) fallbackFields(ctx context.Context, e *entity.Entity) []string {
	var out []string
	for _, f := range searchFallbackFields {
		ok, err := a.classifier.HasDatabaseColumn(ctx, e, f)
		if err != nil {
			a.logger.Warn("Failed to inspect schema for search fallback", "table", e.Table, "error", err)
			return nil
		}
		if ok && !entity.IsComputedAttribute(e, f) {
			out = append(out, f)
		}
	}
	return out
}

// ApplyFilters applies every filter with an active value. Filters on computed
// attributes leave the query untouched and are returned as requests for the
// post-query processor. Values for undeclared keys are ignored.
func (a *Assembler) ApplyFilters(q *query.Builder, values map[string]interface{}, filters []Filter) (*query.Builder, []AttributeFilterRequest) {
	var requests []AttributeFilterRequest
	for _, f := range filters {
		value, ok := values[f.Key()]
		if !ok || IsBlank(value) {
			continue
		}
		if req := f.apply(a, q, value); req != nil {
			a.logger.Debug("Filter deferred to post-query processing", "key", f.Key())
			requests = append(requests, *req)
		}
	}
	return q, requests
}

// attributeRequest builds the deferred form of a filter on a computed field.
func attributeRequest(p keyPath, kind FilterKind, value interface{}) *AttributeFilterRequest {
	return &AttributeFilterRequest{
		RelationPath:   append([]string(nil), p.relationPath()...),
		AttributeField: p.field,
		Value:          value,
		Kind:           kind,
		OriginalKey:    p.key,
	}
}

func (f *TextFilter) apply(a *Assembler, q *query.Builder, value interface{}) *AttributeFilterRequest {
	text, ok := textValue(value)
	if !ok {
		return nil
	}
	p := a.resolve(f.key)

	if p.computed() {
		req := attributeRequest(p, TextFilterKind, text)
		req.Operator = f.operator
		return req
	}

	match := func(b *query.Builder, col string) {
		switch f.operator {
		case OpExact:
			b.Where(col, "=", text)
		case OpStartsWith:
			b.WhereLike(col, query.Prefix, text)
		case OpEndsWith:
			b.WhereLike(col, query.Suffix, text)
		default:
			b.WhereLike(col, query.Contains, text)
		}
	}

	if p.direct {
		match(q, p.column(q))
		return nil
	}
	a.whereHas(q, p, func(sub *query.Builder) {
		match(sub, sub.Qualify(p.field))
	})
	return nil
}

func (f *SelectFilter) apply(a *Assembler, q *query.Builder, value interface{}) *AttributeFilterRequest {
	p := a.resolve(f.key)
	list, isList := toList(value)

	if p.computed() {
		req := attributeRequest(p, SelectFilterKind, value)
		req.Multiple = isList
		if isList {
			req.Value = list
		}
		return req
	}

	match := func(b *query.Builder, col string) {
		if isList {
			b.WhereIn(col, list)
			return
		}
		b.Where(col, "=", value)
	}

	if p.direct {
		match(q, p.column(q))
		return nil
	}
	a.whereHas(q, p, func(sub *query.Builder) {
		match(sub, sub.Qualify(p.field))
	})
	return nil
}

func (f *DateFilter) apply(a *Assembler, q *query.Builder, value interface{}) *AttributeFilterRequest {
	p := a.resolve(f.key)

	if p.computed() {
		req := attributeRequest(p, DateFilterKind, value)
		req.Range = f.rangeMode
		req.Layout = f.layout
		return req
	}

	from, to, ok := f.bounds(value)
	if !ok {
		return nil
	}

	match := func(b *query.Builder, col string) {
		if !from.IsZero() {
			b.WhereDate(col, ">=", from)
		}
		if !to.IsZero() {
			b.WhereDate(col, "<", to)
		}
	}

	if p.direct {
		match(q, p.column(q))
		return nil
	}
	a.whereHas(q, p, func(sub *query.Builder) {
		match(sub, sub.Qualify(p.field))
	})
	return nil
}

// bounds converts a filter value into a half-open [from, to) window of whole
// days. A zero bound is open. ok is false when nothing usable was supplied.
func (f *DateFilter) bounds(value interface{}) (from, to time.Time, ok bool) {
	if r, isRange := toDateRange(value); isRange && f.rangeMode {
		if t, parsed := parseDate(r.From, f.layout); parsed {
			from = startOfDay(t)
		}
		if t, parsed := parseDate(r.To, f.layout); parsed {
			to = nextDay(t)
		}
		return from, to, !from.IsZero() || !to.IsZero()
	}

	var t time.Time
	var parsed bool
	switch v := value.(type) {
	case time.Time:
		t, parsed = v, true
	case string:
		t, parsed = parseDate(v, f.layout)
	}
	if !parsed {
		return from, to, false
	}
	return startOfDay(t), nextDay(t), true
}

// ApplySort orders q by sortKey. It returns needsAttributeSort=true, leaving
// q unordered, when the key is a computed attribute the caller has to sort in
// memory. Keys that are not sortable columns are ignored.
func (a *Assembler) ApplySort(q *query.Builder, sortKey string, dir query.Direction, columns []Column) (*query.Builder, bool) {
	if sortKey == "" {
		return q, false
	}

	c := findColumn(columns, sortKey)
	if c == nil || !c.IsSortable() {
		a.logger.Debug("Ignoring sort on undeclared or unsortable key", "key", sortKey)
		return q, false
	}
	if fn := c.SortCallback(); fn != nil {
		return fn(q, dir), false
	}

	key := c.EffectiveSortKey()
	p := a.resolve(key)
	if p.computed() {
		a.logger.Debug("Sort deferred to post-query processing", "key", key)
		return q, true
	}
	if p.direct {
		q.OrderBy(p.column(q), dir)
		return q, false
	}

	parent := q.Ref()
	for i, rel := range p.chain {
		alias := aliasFor(p.segments[:i+1])
		q.OrderJoin(rel.Related.Table, alias, rel.JoinCondition(parent, alias))
		parent = alias
	}
	q.OrderBy(parent+"."+p.field, dir)
	return q, false
}

// textValue reads a text filter value. A list contributes its first
// non-blank element.
func textValue(v interface{}) (string, bool) {
	list, isList := toList(v)
	if !isList {
		return fmt.Sprint(v), true
	}
	for _, item := range list {
		if !IsBlank(item) {
			return fmt.Sprint(item), true
		}
	}
	return "", false
}

// IsBlank reports whether a filter value counts as inactive: nil, an empty
// string, an empty collection, or a date range with neither bound.
func IsBlank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case DateRange:
		return t.From == "" && t.To == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func toList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func toDateRange(v interface{}) (DateRange, bool) {
	switch t := v.(type) {
	case DateRange:
		return t, true
	case *DateRange:
		if t != nil {
			return *t, true
		}
	case map[string]string:
		return DateRange{From: t["from"], To: t["to"]}, true
	case map[string]interface{}:
		r := DateRange{}
		if s, ok := t["from"].(string); ok {
			r.From = s
		}
		if s, ok := t["to"].(string); ok {
			r.To = s
		}
		return r, true
	}
	return DateRange{}, false
}

func parseDate(s, layout string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(layout, s); err == nil {
		return t, true
	}
	return entity.ParseTime(s)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nextDay(t time.Time) time.Time {
	return startOfDay(t).AddDate(0, 0, 1)
}

func findColumn(columns []Column, key string) *Column {
	for i := range columns {
		if columns[i].Key() == key {
			return &columns[i]
		}
	}
	return nil
}

func joinKey(segments []string) string {
	return strings.Join(segments, ".")
}
