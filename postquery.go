package datatable

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gnemet/datatable/database/query"
	"github.com/gnemet/datatable/entity"
)

// Process filters and sorts a fully fetched result set in memory. Records must
// already carry every relation the requests and sortKey walk through.
// sortKey is empty when ordering was done by the store.
func Process(e *entity.Entity, records []entity.Record, requests []AttributeFilterRequest, sortKey string, dir query.Direction) []entity.Record {
	out := make([]entity.Record, 0, len(records))
	for _, r := range records {
		if matchesAll(e, r, requests) {
			out = append(out, r)
		}
	}

	if sortKey != "" {
		slices.SortStableFunc(out, func(x, y entity.Record) int {
			c := compareValues(e.First(x, sortKey), e.First(y, sortKey))
			if dir == query.Desc {
				return -c
			}
			return c
		})
	}
	return out
}

func matchesAll(e *entity.Entity, r entity.Record, requests []AttributeFilterRequest) bool {
	for _, req := range requests {
		if !matches(e, r, req) {
			return false
		}
	}
	return true
}

// matches succeeds when any value reached by the request's path satisfies it.
func matches(e *entity.Entity, r entity.Record, req AttributeFilterRequest) bool {
	for _, v := range e.Values(r, req.Path()) {
		var ok bool
		switch req.Kind {
		case SelectFilterKind:
			ok = matchSelect(v, req)
		case DateFilterKind:
			ok = matchDate(v, req)
		default:
			ok = matchText(v, req)
		}
		if ok {
			return true
		}
	}
	return false
}

func matchText(v interface{}, req AttributeFilterRequest) bool {
	if req.Operator == OpExact {
		return stringify(v) == stringify(req.Value)
	}

	haystack := strings.ToLower(stringify(v))
	needle := strings.ToLower(stringify(req.Value))
	switch req.Operator {
	case OpStartsWith:
		return strings.HasPrefix(haystack, needle)
	case OpEndsWith:
		return strings.HasSuffix(haystack, needle)
	default:
		return strings.Contains(haystack, needle)
	}
}

func matchSelect(v interface{}, req AttributeFilterRequest) bool {
	s := stringify(v)
	if req.Multiple {
		list, _ := toList(req.Value)
		for _, want := range list {
			if s == stringify(want) {
				return true
			}
		}
		return false
	}
	return s == stringify(req.Value)
}

func matchDate(v interface{}, req AttributeFilterRequest) bool {
	t, ok := toTime(v)
	if !ok {
		return false
	}

	f := &DateFilter{rangeMode: req.Range, layout: req.Layout}
	if f.layout == "" {
		f.layout = "2006-01-02"
	}
	from, to, ok := f.bounds(req.Value)
	if !ok {
		return true
	}
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return entity.ParseTime(t)
	}
	return time.Time{}, false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

// compareValues orders nil before everything else, then numbers, times and
// booleans by value, and anything else by its string form.
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
