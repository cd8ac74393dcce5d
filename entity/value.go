package entity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value returns the value of field on r, running accessors, attribute
// wrappers and casts as declared.
func (e *Entity) Value(r Record, field string) interface{} {
	if r == nil {
		return nil
	}
	if fn, ok := e.lookupFunc(e.accessors, field); ok {
		return fn(r)
	}
	if fn, ok := e.lookupFunc(e.attributes, field); ok {
		return fn(r)
	}
	if kind, ok := e.casts[field]; ok {
		return castValue(kind, r[field])
	}
	return r[field]
}

func (e *Entity) lookupFunc(m map[string]AccessorFunc, field string) (AccessorFunc, bool) {
	if fn, ok := m[field]; ok {
		return fn, true
	}
	want := normalize(field)
	for name, fn := range m {
		if normalize(name) == want {
			return fn, true
		}
	}
	return nil, false
}

// Values walks a dotted key through relations already loaded into r and
// returns every leaf value. A missing relation yields no values; a has-many
// hop fans out to every related record.
func (e *Entity) Values(r Record, key string) []interface{} {
	chain, target, field, ok := e.Path(key)
	if !ok {
		return []interface{}{r[key]}
	}

	records := []Record{r}
	for _, rel := range chain {
		var next []Record
		for _, rec := range records {
			next = append(next, related(rec, rel.Name)...)
		}
		records = next
	}

	out := make([]interface{}, 0, len(records))
	for _, rec := range records {
		out = append(out, target.Value(rec, field))
	}
	return out
}

// First returns the first value reached by key, or nil.
func (e *Entity) First(r Record, key string) interface{} {
	vals := e.Values(r, key)
	if len(vals) == 0 {
		return nil
	}
	return vals[0]
}

func related(r Record, name string) []Record {
	switch v := r[name].(type) {
	case Record:
		return []Record{v}
	case map[string]interface{}:
		return []Record{Record(v)}
	case []Record:
		return v
	}
	return nil
}

func castValue(kind CastKind, raw interface{}) interface{} {
	if raw == nil {
		return nil
	}
	s, isString := raw.(string)
	if b, ok := raw.([]byte); ok {
		s, isString = string(b), true
	}

	switch kind {
	case CastJSON:
		if !isString {
			return raw
		}
		var out interface{}
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return raw
		}
		return out
	case CastBool:
		switch v := raw.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		}
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b
		}
	case CastInt:
		switch v := raw.(type) {
		case int64:
			return v
		case float64:
			return int64(v)
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return n
		}
	case CastFloat:
		switch v := raw.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	case CastString:
		return fmt.Sprint(raw)
	case CastDate, CastDateTime:
		if t, ok := raw.(time.Time); ok {
			if kind == CastDate {
				return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
			}
			return t
		}
		if t, ok := ParseTime(s); ok {
			return t
		}
	}
	return raw
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime accepts the date and timestamp layouts stores commonly return.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
