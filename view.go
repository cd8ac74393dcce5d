package datatable

// View is the render-ready snapshot of a table after Render.
type View struct {
	ID             string       `json:"id"`
	State          State        `json:"state"`
	Columns        []ColumnView `json:"columns"`
	Filters        []FilterView `json:"filters"`
	Rows           []RowView    `json:"rows"`
	Actions        []ActionView `json:"actions,omitempty"`
	Pagination     Pagination   `json:"pagination"`
	PerPageOptions []int        `json:"per_page_options"`
	Search         SearchView   `json:"search"`
	Selected       []string     `json:"selected"`
	AllSelected    bool         `json:"all_selected"`
	ActiveFilters  int          `json:"active_filters"`
	Query          string       `json:"query"`
}

type ColumnView struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Sortable bool   `json:"sortable"`
	SortIcon string `json:"sort_icon,omitempty"`
	Width    string `json:"width,omitempty"`
	Align    string `json:"align,omitempty"`
}

type FilterView struct {
	Key         string      `json:"key"`
	Label       string      `json:"label"`
	Kind        FilterKind  `json:"kind"`
	Placeholder string      `json:"placeholder,omitempty"`
	Value       interface{} `json:"value,omitempty"`
	Options     []Option    `json:"options,omitempty"`
	Multiple    bool        `json:"multiple,omitempty"`
	Range       bool        `json:"range,omitempty"`
}

type RowView struct {
	ID       string       `json:"id"`
	Cells    []Cell       `json:"cells"`
	Actions  []ActionView `json:"actions,omitempty"`
	Selected bool         `json:"selected"`
}

type Pagination struct {
	Total       int  `json:"total"`
	PerPage     int  `json:"per_page"`
	CurrentPage int  `json:"current_page"`
	LastPage    int  `json:"last_page"`
	From        int  `json:"from"`
	To          int  `json:"to"`
	HasMore     bool `json:"has_more"`
	OnFirst     bool `json:"on_first"`
}

type SearchView struct {
	Enabled     bool   `json:"enabled"`
	Placeholder string `json:"placeholder"`
}

// View builds the view model from the last rendered page. Call Render first.
func (t *Table) View() View {
	v := View{
		ID:             t.id,
		State:          t.State(),
		PerPageOptions: t.def.PerPageOptions,
		Search:         SearchView{Enabled: t.SearchEnabled(), Placeholder: t.SearchPlaceholder()},
		Selected:       t.Selected(),
		AllSelected:    t.selectAll,
		ActiveFilters:  t.ActiveFilterCount(),
		Query:          t.QueryValues().Encode(),
	}

	visible := t.VisibleColumns()
	for _, c := range visible {
		cv := ColumnView{Key: c.Key(), Label: c.Name(), Sortable: c.IsSortable(), Width: c.GetWidth(), Align: c.GetAlign()}
		if c.IsSortable() {
			cv.SortIcon = t.SortIcon(c.Key())
		}
		v.Columns = append(v.Columns, cv)
	}

	for _, f := range t.filters {
		fv := FilterView{
			Key:         f.Key(),
			Label:       f.Name(),
			Kind:        f.Kind(),
			Placeholder: f.Placeholder(),
			Value:       t.state.Filters[f.Key()],
		}
		switch tf := f.(type) {
		case *SelectFilter:
			fv.Options = tf.GetOptions()
			fv.Multiple = tf.IsMultiple()
		case *DateFilter:
			fv.Range = tf.IsRange()
		}
		v.Filters = append(v.Filters, fv)
	}

	for _, a := range t.Actions() {
		v.Actions = append(v.Actions, a.view())
	}

	if t.page == nil {
		return v
	}
	p := t.page
	v.Pagination = Pagination{
		Total:       p.Total,
		PerPage:     p.PerPage,
		CurrentPage: p.CurrentPage,
		LastPage:    p.LastPage,
		From:        p.From,
		To:          p.To,
		HasMore:     p.HasMorePages(),
		OnFirst:     p.OnFirstPage(),
	}
	for _, r := range p.Records {
		id := t.RecordID(r)
		row := RowView{ID: id, Selected: t.IsSelected(id)}
		for _, c := range visible {
			row.Cells = append(row.Cells, c.Cell(t.entity, r))
		}
		for _, a := range t.RecordActions(r) {
			row.Actions = append(row.Actions, a.view())
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}
