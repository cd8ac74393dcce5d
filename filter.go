package datatable

import (
	"github.com/gnemet/datatable/database/query"
)

// FilterKind identifies a filter type.
type FilterKind string

const (
	TextFilterKind   FilterKind = "text"
	SelectFilterKind FilterKind = "select"
	DateFilterKind   FilterKind = "date"
)

// Operator is the matching mode of a text filter.
type Operator string

const (
	OpExact      Operator = "exact"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
)

// Filter is a declared, user-settable predicate on one key.
type Filter interface {
	Name() string
	Key() string
	Kind() FilterKind
	Default() interface{}
	Placeholder() string

	apply(a *Assembler, q *query.Builder, value interface{}) *AttributeFilterRequest
}

type filterBase struct {
	name        string
	key         string
	def         interface{}
	placeholder string
}

func newFilterBase(name string) filterBase {
	return filterBase{name: name, key: Snake(name)}
}

func (f *filterBase) Name() string { return f.name }
func (f *filterBase) Key() string { return f.key }
func (f *filterBase) Default() interface{} { return f.def }

// TextFilter matches free text with one of the Operator modes.
type TextFilter struct {
	filterBase
	operator Operator
}

// NewTextFilter declares a text filter; the key is derived from name
// ("Client Status" becomes "client_status") until Field overrides it.
func NewTextFilter(name string) *TextFilter {
	return &TextFilter{filterBase: newFilterBase(name), operator: OpContains}
}

func (f *TextFilter) Field(key string) *TextFilter {
	f.key = key
	return f
}

func (f *TextFilter) WithDefault(v interface{}) *TextFilter {
	f.def = v
	return f
}

func (f *TextFilter) WithPlaceholder(s string) *TextFilter {
	f.placeholder = s
	return f
}

func (f *TextFilter) Exact() *TextFilter {
	f.operator = OpExact
	return f
}

func (f *TextFilter) Contains() *TextFilter {
	f.operator = OpContains
	return f
}

func (f *TextFilter) StartsWith() *TextFilter {
	f.operator = OpStartsWith
	return f
}

func (f *TextFilter) EndsWith() *TextFilter {
	f.operator = OpEndsWith
	return f
}

func (f *TextFilter) Operator() Operator { return f.operator }

func (f *TextFilter) Kind() FilterKind { return TextFilterKind }

func (f *TextFilter) Placeholder() string {
	if f.placeholder != "" {
		return f.placeholder
	}
	return "Filter by " + f.name
}

// Option is one choice of a select filter.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label" yaml:"label"`
}

// SelectFilter matches one value, or any of several when multiple.
type SelectFilter struct {
	filterBase
	options  []Option
	multiple bool
}

func NewSelectFilter(name string) *SelectFilter {
	return &SelectFilter{filterBase: newFilterBase(name)}
}

func (f *SelectFilter) Field(key string) *SelectFilter {
	f.key = key
	return f
}

func (f *SelectFilter) WithDefault(v interface{}) *SelectFilter {
	f.def = v
	return f
}

func (f *SelectFilter) WithPlaceholder(s string) *SelectFilter {
	f.placeholder = s
	return f
}

func (f *SelectFilter) Options(opts ...Option) *SelectFilter {
	f.options = append([]Option(nil), opts...)
	return f
}

func (f *SelectFilter) Multiple(multiple ...bool) *SelectFilter {
	f.multiple = len(multiple) == 0 || multiple[0]
	return f
}

func (f *SelectFilter) GetOptions() []Option { return f.options }

func (f *SelectFilter) IsMultiple() bool { return f.multiple }

func (f *SelectFilter) Kind() FilterKind { return SelectFilterKind }

func (f *SelectFilter) Placeholder() string {
	if f.placeholder != "" {
		return f.placeholder
	}
	return "Select " + f.name
}

// DateRange is the value of a ranged date filter. Either bound may be empty.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// DateFilter matches a single day, or a from/to range when Range is set.
type DateFilter struct {
	filterBase
	rangeMode bool
	layout    string
}

func NewDateFilter(name string) *DateFilter {
	return &DateFilter{filterBase: newFilterBase(name), layout: "2006-01-02"}
}

func (f *DateFilter) Field(key string) *DateFilter {
	f.key = key
	return f
}

func (f *DateFilter) WithDefault(v interface{}) *DateFilter {
	f.def = v
	return f
}

func (f *DateFilter) WithPlaceholder(s string) *DateFilter {
	f.placeholder = s
	return f
}

func (f *DateFilter) Range(r ...bool) *DateFilter {
	f.rangeMode = len(r) == 0 || r[0]
	return f
}

// Layout sets the time layout input values are parsed with.
func (f *DateFilter) Layout(layout string) *DateFilter {
	f.layout = layout
	return f
}

func (f *DateFilter) IsRange() bool { return f.rangeMode }

func (f *DateFilter) Kind() FilterKind { return DateFilterKind }

func (f *DateFilter) Placeholder() string { return f.placeholder }

// AttributeFilterRequest records a filter that targets a computed attribute
// and must be evaluated after the query has run.
type AttributeFilterRequest struct {
	RelationPath   []string
	AttributeField string
	Value          interface{}
	Kind           FilterKind
	Operator       Operator
	Multiple       bool
	Range          bool
	Layout         string
	OriginalKey    string
}

// Path is the dotted key the request evaluates.
func (r AttributeFilterRequest) Path() string {
	if len(r.RelationPath) == 0 {
		return r.AttributeField
	}
	return joinKey(r.RelationPath) + "." + r.AttributeField
}
