package query

import "github.com/gnemet/datatable/entity"

// Page is one page of records plus its pagination metadata. The same shape is
// produced whether the store or an in-memory slice did the paging.
type Page struct {
	Records     []entity.Record `json:"data"`
	Total       int             `json:"total"`
	PerPage     int             `json:"per_page"`
	CurrentPage int             `json:"current_page"`
	LastPage    int             `json:"last_page"`
	From        int             `json:"from"` // 1-based index of the first item, 0 when empty
	To          int             `json:"to"`
}

// NewPage computes pagination metadata for records already cut to one page.
func NewPage(records []entity.Record, total, page, perPage int) *Page {
	page, perPage = normalizePage(page, perPage)
	if records == nil {
		records = []entity.Record{}
	}

	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}

	p := &Page{
		Records:     records,
		Total:       total,
		PerPage:     perPage,
		CurrentPage: page,
		LastPage:    lastPage,
	}
	if len(records) > 0 {
		p.From = (page-1)*perPage + 1
		p.To = p.From + len(records) - 1
	}
	return p
}

// SlicePage pages an in-memory result set. Out-of-range pages are empty.
func SlicePage(all []entity.Record, page, perPage int) *Page {
	page, perPage = normalizePage(page, perPage)

	start := (page - 1) * perPage
	if start > len(all) {
		start = len(all)
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return NewPage(all[start:end:end], len(all), page, perPage)
}

// HasMorePages reports whether a page follows this one.
func (p *Page) HasMorePages() bool {
	return p.CurrentPage < p.LastPage
}

func (p *Page) OnFirstPage() bool {
	return p.CurrentPage <= 1
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	return page, perPage
}
