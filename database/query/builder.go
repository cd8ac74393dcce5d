package query

import (
	"fmt"
	"strings"
	"time"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts any casing of "asc"/"desc" and defaults to Asc.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(Desc)) {
		return Desc
	}
	return Asc
}

func (d Direction) Toggle() Direction {
	if d == Asc {
		return Desc
	}
	return Asc
}

func (d Direction) SQL() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// LikeMode selects where the wildcard goes in a substring match.
type LikeMode int

const (
	Contains LikeMode = iota
	Prefix
	Suffix
)

// clause is one WHERE condition. Subqueries, OR groups and date comparisons
// are kept unrendered until the dialect is known.
type clause struct {
	sql  string
	args []interface{}
	sub  *Builder
	or   []clause
	date *dateCmp
}

type dateCmp struct {
	col string
	op  string
	at  time.Time
}

func (c clause) render(d Dialect) (string, []interface{}) {
	switch {
	case c.sub != nil:
		sql, args := c.sub.render(d, "1", true)
		return "EXISTS (" + sql + ")", args
	case c.or != nil:
		parts := make([]string, len(c.or))
		var args []interface{}
		for i, w := range c.or {
			var a []interface{}
			parts[i], a = w.render(d)
			args = append(args, a...)
		}
		return "(" + strings.Join(parts, " OR ") + ")", args
	case c.date != nil:
		col, val := c.date.col, interface{}(c.date.at)
		if d != nil {
			col, val = d.DateExpr(col), d.DateValue(c.date.at)
		}
		return fmt.Sprintf("%s %s ?", col, c.date.op), []interface{}{val}
	}
	return c.sql, c.args
}

type join struct {
	sql       string
	orderOnly bool
}

// Builder assembles a single SELECT over one primary table. Clauses are
// written with ? markers and rebound to the dialect's placeholders when the
// statement is rendered, so nested subqueries number their arguments in order.
//
// Joins are keyed by alias; a Builder joins any alias at most once. Build a
// fresh Builder per render so that set never outlives a request.
//
// Raw clauses must not contain a literal ? outside quotes; quoted spans are
// left alone when placeholders are rebound.
type Builder struct {
	table   string
	alias   string
	selects []string
	joins   []join
	joined  map[string]struct{}
	wheres  []clause
	orders  []string
	limit   int
	offset  int
}

// New starts a query over table.
func New(table string) *Builder {
	return &Builder{table: table, joined: make(map[string]struct{})}
}

// Sub starts a subquery over table under alias.
func Sub(table, alias string) *Builder {
	b := New(table)
	b.alias = alias
	return b
}

func (b *Builder) Table() string { return b.table }

// Ref is the name columns of the primary table are qualified with.
func (b *Builder) Ref() string {
	if b.alias != "" {
		return b.alias
	}
	return b.table
}

// Qualify prefixes col with Ref unless it is already qualified.
func (b *Builder) Qualify(col string) string {
	if strings.Contains(col, ".") {
		return col
	}
	return b.Ref() + "." + col
}

func (b *Builder) Select(cols ...string) *Builder {
	b.selects = cols
	return b
}

func (b *Builder) Where(col, op string, val interface{}) *Builder {
	b.wheres = append(b.wheres, clause{sql: fmt.Sprintf("%s %s ?", col, op), args: []interface{}{val}})
	return b
}

func (b *Builder) WhereRaw(sql string, args ...interface{}) *Builder {
	b.wheres = append(b.wheres, clause{sql: sql, args: args})
	return b
}

// WhereIn matches col against a set. An empty set matches nothing.
func (b *Builder) WhereIn(col string, vals []interface{}) *Builder {
	if len(vals) == 0 {
		return b.WhereRaw("1 = 0")
	}
	marks := make([]string, len(vals))
	for i := range vals {
		marks[i] = "?"
	}
	b.wheres = append(b.wheres, clause{
		sql:  fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")),
		args: append([]interface{}(nil), vals...),
	})
	return b
}

// WhereLike adds a case-insensitive substring match. Wildcards in value are
// matched literally.
func (b *Builder) WhereLike(col string, mode LikeMode, value string) *Builder {
	pattern := escapeLike(strings.ToLower(value))
	switch mode {
	case Prefix:
		pattern = pattern + "%"
	case Suffix:
		pattern = "%" + pattern
	default:
		pattern = "%" + pattern + "%"
	}
	b.wheres = append(b.wheres, clause{
		sql:  fmt.Sprintf(`LOWER(CAST(%s AS TEXT)) LIKE ? ESCAPE '\'`, col),
		args: []interface{}{pattern},
	})
	return b
}

// WhereDate compares col against t. Dialects normalise both sides so that
// dates stored as text compare like timestamps.
func (b *Builder) WhereDate(col, op string, t time.Time) *Builder {
	b.wheres = append(b.wheres, clause{date: &dateCmp{col: col, op: op, at: t}})
	return b
}

// WhereExists asserts that sub returns at least one row. sub must not be
// changed afterwards.
func (b *Builder) WhereExists(sub *Builder) *Builder {
	b.wheres = append(b.wheres, clause{sub: sub})
	return b
}

// OrWhere groups every condition fn adds into one parenthesised disjunction.
// If fn adds nothing the query is unchanged.
func (b *Builder) OrWhere(fn func(or *Builder)) *Builder {
	group := &Builder{table: b.table, alias: b.alias, joined: make(map[string]struct{})}
	fn(group)
	if len(group.wheres) == 0 {
		return b
	}

	b.wheres = append(b.wheres, clause{or: group.wheres})
	return b
}

// LeftJoin joins table under alias. It returns false and changes nothing if
// alias is already joined.
func (b *Builder) LeftJoin(table, alias, on string) bool {
	return b.addJoin(table, alias, on, false)
}

// OrderJoin is a LeftJoin that only serves ordering. Counts leave it out.
func (b *Builder) OrderJoin(table, alias, on string) bool {
	return b.addJoin(table, alias, on, true)
}

func (b *Builder) addJoin(table, alias, on string, orderOnly bool) bool {
	if _, ok := b.joined[alias]; ok {
		return false
	}
	b.joined[alias] = struct{}{}
	b.joins = append(b.joins, join{sql: fmt.Sprintf("LEFT JOIN %s AS %s ON %s", table, alias, on), orderOnly: orderOnly})
	return true
}

func (b *Builder) HasJoin(alias string) bool {
	_, ok := b.joined[alias]
	return ok
}

func (b *Builder) Joins() []string {
	out := make([]string, len(b.joins))
	for i, j := range b.joins {
		out[i] = j.sql
	}
	return out
}

func (b *Builder) OrderBy(col string, dir Direction) *Builder {
	b.orders = append(b.orders, col+" "+dir.SQL())
	return b
}

func (b *Builder) Orders() []string { return b.orders }

func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// Clone returns an independent copy.
func (b *Builder) Clone() *Builder {
	c := *b
	c.selects = append([]string(nil), b.selects...)
	c.joins = append([]join(nil), b.joins...)
	c.wheres = append([]clause(nil), b.wheres...)
	c.orders = append([]string(nil), b.orders...)
	c.joined = make(map[string]struct{}, len(b.joined))
	for k := range b.joined {
		c.joined[k] = struct{}{}
	}
	return &c
}

// ToSQL renders the full statement for d. Without explicit selects a joined
// query selects only the primary table's columns.
func (b *Builder) ToSQL(d Dialect) (string, []interface{}) {
	cols := "*"
	switch {
	case len(b.selects) > 0:
		cols = strings.Join(b.selects, ", ")
	case len(b.joins) > 0:
		// Joined columns would shadow the primary table's.
		cols = b.Ref() + ".*"
	}
	sql, args := b.render(d, cols, true)
	return rebind(d, sql), args
}

// CountSQL renders a COUNT(*) over the filtered rows. Ordering, limits and
// joins added with OrderJoin are dropped.
func (b *Builder) CountSQL(d Dialect) (string, []interface{}) {
	sql, args := b.render(d, "COUNT(*)", false)
	return rebind(d, sql), args
}

func (b *Builder) render(d Dialect, cols string, full bool) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}

	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)
	if b.alias != "" && b.alias != b.table {
		sb.WriteString(" AS ")
		sb.WriteString(b.alias)
	}

	for _, j := range b.joins {
		if j.orderOnly && !full {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(j.sql)
	}

	if len(b.wheres) > 0 {
		parts := make([]string, len(b.wheres))
		for i, w := range b.wheres {
			var a []interface{}
			parts[i], a = w.render(d)
			args = append(args, a...)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	if !full {
		return sb.String(), args
	}

	if len(b.orders) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orders, ", "))
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	if b.offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", b.offset)
	}
	return sb.String(), args
}

func rebind(d Dialect, sql string) string {
	if d == nil {
		return sql
	}
	var sb strings.Builder
	n := 0
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '?':
			n++
			sb.WriteString(d.Placeholder(n))
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
