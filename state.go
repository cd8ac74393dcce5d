package datatable

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gnemet/datatable/database/query"
)

// URL parameter names of the bookmarkable state.
const (
	ParamSearch  = "search"
	ParamFilter  = "filter"
	ParamSort    = "sort"
	ParamDir     = "dir"
	ParamPage    = "page"
	ParamPerPage = "per_page"
)

// ParseState reads state from request parameters:
//
//	search=foo&sort=name&dir=desc&page=2&per_page=25
//	filter[status]=open
//	filter[tags][]=a&filter[tags][]=b
//	filter[created_at][from]=2024-01-01&filter[created_at][to]=2024-01-31
//
// Malformed numbers are ignored.
func ParseState(v url.Values) State {
	s := State{
		Search:        v.Get(ParamSearch),
		Filters:       map[string]interface{}{},
		SortKey:       v.Get(ParamSort),
		SortDirection: query.ParseDirection(v.Get(ParamDir)),
	}
	if n, err := strconv.Atoi(v.Get(ParamPage)); err == nil {
		s.Page = n
	}
	if n, err := strconv.Atoi(v.Get(ParamPerPage)); err == nil {
		s.PerPage = n
	}

	for name, vals := range v {
		key, sub, ok := parseFilterParam(name)
		if !ok || len(vals) == 0 {
			continue
		}
		switch sub {
		case "":
			s.Filters[key] = vals[0]
		case "[]":
			s.Filters[key] = append([]string(nil), vals...)
		case "from", "to":
			r, _ := s.Filters[key].(DateRange)
			if sub == "from" {
				r.From = vals[0]
			} else {
				r.To = vals[0]
			}
			s.Filters[key] = r
		}
	}
	return s
}

// parseFilterParam splits "filter[key]", "filter[key][]" and
// "filter[key][from]" into key and suffix.
func parseFilterParam(name string) (key, sub string, ok bool) {
	rest, found := strings.CutPrefix(name, ParamFilter+"[")
	if !found {
		return "", "", false
	}
	key, rest, found = strings.Cut(rest, "]")
	if !found || key == "" {
		return "", "", false
	}
	switch rest {
	case "":
		return key, "", true
	case "[]":
		return key, "[]", true
	case "[from]":
		return key, "from", true
	case "[to]":
		return key, "to", true
	}
	return "", "", false
}

// EncodeState renders s as request parameters. Defaults are omitted.
func EncodeState(s State) url.Values {
	v := url.Values{}
	if s.Search != "" {
		v.Set(ParamSearch, s.Search)
	}
	if s.SortKey != "" {
		v.Set(ParamSort, s.SortKey)
		v.Set(ParamDir, string(s.SortDirection))
	}
	if s.Page > 1 {
		v.Set(ParamPage, strconv.Itoa(s.Page))
	}
	if s.PerPage > 0 {
		v.Set(ParamPerPage, strconv.Itoa(s.PerPage))
	}

	keys := make([]string, 0, len(s.Filters))
	for k := range s.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		val := s.Filters[k]
		if IsBlank(val) {
			continue
		}
		name := ParamFilter + "[" + k + "]"
		if r, ok := toDateRange(val); ok {
			if r.From != "" {
				v.Set(name+"[from]", r.From)
			}
			if r.To != "" {
				v.Set(name+"[to]", r.To)
			}
			continue
		}
		if list, ok := toList(val); ok {
			for _, item := range list {
				v.Add(name+"[]", fmt.Sprint(item))
			}
			continue
		}
		v.Set(name, fmt.Sprint(val))
	}
	return v
}

// BindQuery loads state from request parameters. Unknown filter and sort
// keys are dropped.
func (t *Table) BindQuery(v url.Values) {
	s := ParseState(v)
	if s.PerPage <= 0 {
		s.PerPage = t.def.PerPage
	}
	t.SetState(s)
}

// QueryValues is the current state as request parameters.
func (t *Table) QueryValues() url.Values {
	return EncodeState(t.state)
}
