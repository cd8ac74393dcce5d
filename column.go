package datatable

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gnemet/datatable/database/query"
	"github.com/gnemet/datatable/entity"
)

// ColumnKind selects how a cell is presented.
type ColumnKind string

const (
	TextKind  ColumnKind = "text"
	IconKind  ColumnKind = "icon"
	ImageKind ColumnKind = "image"
)

// SortFunc replaces the built-in ordering for a column.
type SortFunc func(q *query.Builder, dir query.Direction) *query.Builder

// FormatFunc transforms a cell value before display.
type FormatFunc func(value interface{}, record entity.Record) interface{}

// BadgeFunc picks a badge color per record. ok=false hides the badge.
type BadgeFunc func(record entity.Record) (color string, ok bool)

// Column declares one displayed field. Keys use dots to walk relations,
// e.g. "project.manager.name".
type Column struct {
	name       string
	key        string
	sortKey    string
	sortable   bool
	searchable bool
	hidden     bool
	width      string
	align      string
	sortFn     SortFunc
	formatFn   FormatFunc

	kind       ColumnKind
	limit      int
	badge      bool
	badgeColor string
	badgeFn    BadgeFunc
	fullWidth  bool
	icon       string
	countKey   string
	circle     bool
}

// NewColumn declares a text column. With only a key the label is derived from
// it ("created_at" becomes "Created At") and the key is snake-cased; with a
// label both are used as given.
func NewColumn(key string, label ...string) *Column {
	c := &Column{kind: TextKind, badgeColor: "gray"}
	if len(label) > 0 {
		c.name = label[0]
		c.key = key
	} else {
		c.name = Headline(key)
		c.key = Snake(key)
	}
	return c
}

func NewIconColumn(key string, label ...string) *Column {
	c := NewColumn(key, label...)
	c.kind = IconKind
	return c
}

func NewImageColumn(key string, label ...string) *Column {
	c := NewColumn(key, label...)
	c.kind = ImageKind
	return c
}

func (c *Column) Label(label string) *Column {
	c.name = label
	return c
}

func (c *Column) Field(key string) *Column {
	c.key = key
	return c
}

// SortKey orders by key instead of the column's own key.
func (c *Column) SortKey(key string) *Column {
	c.sortKey = key
	return c
}

func (c *Column) SortUsing(fn SortFunc) *Column {
	c.sortFn = fn
	return c
}

func (c *Column) Sortable(sortable ...bool) *Column {
	c.sortable = len(sortable) == 0 || sortable[0]
	return c
}

func (c *Column) Searchable(searchable ...bool) *Column {
	c.searchable = len(searchable) == 0 || searchable[0]
	return c
}

func (c *Column) Format(fn FormatFunc) *Column {
	c.formatFn = fn
	return c
}

func (c *Column) Hidden(hidden ...bool) *Column {
	c.hidden = len(hidden) == 0 || hidden[0]
	return c
}

func (c *Column) Width(width string) *Column {
	c.width = width
	return c
}

func (c *Column) Align(align string) *Column {
	c.align = align
	return c
}

// Limit truncates string values to n runes.
func (c *Column) Limit(n int) *Column {
	c.limit = n
	return c
}

// Badge renders the value as a badge of a fixed color.
func (c *Column) Badge(color string) *Column {
	c.badge = true
	if color != "" {
		c.badgeColor = color
	}
	c.fullWidth = true
	return c
}

// BadgeUsing decides the badge per record.
func (c *Column) BadgeUsing(fn BadgeFunc) *Column {
	c.badge = true
	c.badgeFn = fn
	c.fullWidth = true
	return c
}

func (c *Column) FullWidth(full bool) *Column {
	c.fullWidth = full
	return c
}

func (c *Column) Icon(icon string) *Column {
	c.icon = icon
	return c
}

// Count shows the value of key next to the icon.
func (c *Column) Count(key string) *Column {
	c.countKey = key
	return c
}

func (c *Column) Circle(circle ...bool) *Column {
	c.circle = len(circle) == 0 || circle[0]
	return c
}

func (c *Column) Name() string { return c.name }
func (c *Column) Key() string { return c.key }
func (c *Column) IsSortable() bool { return c.sortable }
func (c *Column) IsSearchable() bool { return c.searchable }
func (c *Column) IsHidden() bool { return c.hidden }
func (c *Column) GetWidth() string { return c.width }
func (c *Column) GetAlign() string { return c.align }
func (c *Column) Kind() ColumnKind { return c.kind }
func (c *Column) HasSortFunc() bool { return c.sortFn != nil }
func (c *Column) SortCallback() SortFunc { return c.sortFn }

// CountKey is the field shown next to an icon, or "".
func (c *Column) CountKey() string { return c.countKey }

// EffectiveSortKey is the sort key override, or the column key.
func (c *Column) EffectiveSortKey() string {
	if c.sortKey != "" {
		return c.sortKey
	}
	return c.key
}

// Value reads the column's key from r and applies the format callback.
func (c *Column) Value(e *entity.Entity, r entity.Record) interface{} {
	var v interface{}
	if e != nil {
		v = e.First(r, c.key)
	} else {
		v = r[c.key]
	}
	if _, isTime := v.(time.Time); !isTime {
		if s, ok := v.(fmt.Stringer); ok {
			v = s.String()
		}
	}
	if c.formatFn != nil {
		v = c.formatFn(v, r)
	}
	return v
}

// Cell is the rendered form of one column for one record.
type Cell struct {
	Key       string      `json:"key"`
	Kind      ColumnKind  `json:"kind"`
	Value     interface{} `json:"value"`
	Badge     string      `json:"badge,omitempty"`
	FullWidth bool        `json:"full_width,omitempty"`
	Icon      string      `json:"icon,omitempty"`
	Count     interface{} `json:"count,omitempty"`
	Circle    bool        `json:"circle,omitempty"`
}

// Cell renders the column for r.
func (c *Column) Cell(e *entity.Entity, r entity.Record) Cell {
	cell := Cell{Key: c.key, Kind: c.kind}

	switch c.kind {
	case IconKind:
		cell.Icon = c.icon
		if c.countKey != "" {
			if e != nil {
				cell.Count = e.First(r, c.countKey)
			} else {
				cell.Count = r[c.countKey]
			}
		}
		return cell
	case ImageKind:
		cell.Value = c.Value(e, r)
		cell.Circle = c.circle
		return cell
	}

	v := c.Value(e, r)
	if s, ok := v.(string); ok && c.limit > 0 && utf8.RuneCountInString(s) > c.limit {
		v = string([]rune(s)[:c.limit]) + "..."
	}
	cell.Value = v

	if c.badge {
		color, show := c.badgeColor, true
		if c.badgeFn != nil {
			var picked string
			picked, show = c.badgeFn(r)
			if picked != "" {
				color = picked
			}
		}
		if show {
			cell.Badge = color
			cell.FullWidth = c.fullWidth
		}
	}
	return cell
}
