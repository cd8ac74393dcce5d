package datatable

import "slices"

// SelectionEnabled reports whether rows can be selected.
func (t *Table) SelectionEnabled() bool { return !t.def.DisableSelection }

// Selected returns the selected ids in selection order.
func (t *Table) Selected() []string { return slices.Clone(t.selected) }

func (t *Table) IsSelected(id string) bool { return slices.Contains(t.selected, id) }

func (t *Table) SelectedCount() int { return len(t.selected) }

func (t *Table) HasSelected() bool { return len(t.selected) > 0 }

// AllSelected reports whether every row on the current page is selected.
func (t *Table) AllSelected() bool { return t.selectAll }

func (t *Table) ToggleRowSelection(id string) {
	if !t.SelectionEnabled() {
		return
	}
	if i := slices.Index(t.selected, id); i >= 0 {
		t.selected = slices.Delete(t.selected, i, i+1)
	} else {
		t.selected = append(t.selected, id)
	}
	t.updateSelectAllState()
}

// ToggleSelectAll selects every row on the current page, or deselects them
// when they are all selected already. Rows on other pages are untouched.
func (t *Table) ToggleSelectAll() {
	if !t.SelectionEnabled() {
		return
	}
	if t.selectAll {
		visible := t.visibleIDs()
		t.selected = slices.DeleteFunc(t.selected, func(id string) bool {
			return slices.Contains(visible, id)
		})
		t.updateSelectAllState()
		return
	}
	t.SelectAllOnPage()
}

func (t *Table) SelectAllOnPage() {
	if !t.SelectionEnabled() {
		return
	}
	for _, id := range t.visibleIDs() {
		if !slices.Contains(t.selected, id) {
			t.selected = append(t.selected, id)
		}
	}
	t.updateSelectAllState()
}

func (t *Table) DeselectAll() {
	t.selected = nil
	t.selectAll = false
}

func (t *Table) visibleIDs() []string {
	if t.page == nil {
		return nil
	}
	ids := make([]string, 0, len(t.page.Records))
	for _, r := range t.page.Records {
		ids = append(ids, t.RecordID(r))
	}
	return ids
}

func (t *Table) updateSelectAllState() {
	visible := t.visibleIDs()
	t.selectAll = len(visible) > 0
	for _, id := range visible {
		if !slices.Contains(t.selected, id) {
			t.selectAll = false
			return
		}
	}
}
