package datatable

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gnemet/datatable/database/sessionpool"
)

func newTestHandler(t *testing.T, maxSessions int) *Handler {
	t.Helper()
	pool := sessionpool.New[*Table](maxSessions, time.Minute, time.Hour, 0)
	t.Cleanup(pool.Close)
	return NewHandler(func() (*Table, error) {
		table, _ := newStubTable(t, threeRows(), nil)
		return table, nil
	}, pool, nil)
}

func serve(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, View) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var v View
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
			t.Fatalf("Failed to decode view: %v", err)
		}
	}
	return rec, v
}

func post(op string, cookie *http.Cookie, form url.Values) *http.Request {
	if form == nil {
		form = url.Values{}
	}
	form.Set("op", op)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

func TestHandlerKeepsStateAcrossRequests(t *testing.T) {
	h := newTestHandler(t, 10)

	rec, v := serve(t, h, httptest.NewRequest(http.MethodGet, "/?search=one&per_page=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON, got %q", ct)
	}
	cookie := sessionCookie(rec)
	if cookie == nil {
		t.Fatal("Expected a session cookie")
	}
	if v.State.Search != "one" || len(v.Rows) != 2 || v.Pagination.Total != 3 {
		t.Errorf("Unexpected view: state %+v, %d rows, total %d", v.State, len(v.Rows), v.Pagination.Total)
	}
	if v.State.Filters["status"] != "open" {
		t.Errorf("Expected default status filter, got %v", v.State.Filters)
	}

	rec, v = serve(t, h, post("sort", cookie, url.Values{"key": {"name"}}))
	if sessionCookie(rec) != nil {
		t.Error("Expected the existing session to be reused")
	}
	if v.State.SortKey != "name" || v.State.Search != "one" {
		t.Errorf("Expected sort on top of the previous state, got %+v", v.State)
	}

	_, v = serve(t, h, post("toggle", cookie, url.Values{"id": {"2"}}))
	if len(v.Selected) != 1 || v.Selected[0] != "2" || !v.Rows[1].Selected {
		t.Errorf("Expected row 2 selected, got %v", v.Selected)
	}

	_, v = serve(t, h, post("next", cookie, nil))
	if v.Pagination.CurrentPage != 2 || len(v.Rows) != 1 {
		t.Errorf("Expected last page with one row, got %+v", v.Pagination)
	}

	_, v = serve(t, h, post("filter", cookie, url.Values{"key": {"title"}, "value": {"x"}}))
	if v.State.Filters["title"] != "x" || v.Pagination.CurrentPage != 1 {
		t.Errorf("Expected title filter and first page, got %+v", v.State)
	}
}

func TestHandlerSessionsAreIsolated(t *testing.T) {
	h := newTestHandler(t, 10)

	rec, _ := serve(t, h, post("search", nil, url.Values{"value": {"one"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	_, v := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	if v.State.Search != "" {
		t.Errorf("Expected a fresh table without a cookie, got search %q", v.State.Search)
	}
}

func TestHandlerIgnoresUnknownOperations(t *testing.T) {
	h := newTestHandler(t, 10)
	rec, v := serve(t, h, post("explode", nil, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(v.Rows) != 3 {
		t.Errorf("Expected 3 rows, got %d", len(v.Rows))
	}
}

func TestHandlerRejectsOtherMethods(t *testing.T) {
	h := newTestHandler(t, 10)
	rec, _ := serve(t, h, httptest.NewRequest(http.MethodDelete, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, POST" {
		t.Errorf("Expected Allow header, got %q", allow)
	}
}

func TestHandlerReportsFullPool(t *testing.T) {
	h := newTestHandler(t, 1)
	if rec, _ := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil)); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec, _ := serve(t, h, httptest.NewRequest(http.MethodGet, "/", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

func TestFormFilterValue(t *testing.T) {
	if v := formFilterValue(url.Values{"value[]": {"a", "b"}}); len(v.([]string)) != 2 {
		t.Errorf("Expected list, got %v", v)
	}
	if v := formFilterValue(url.Values{"from": {"2024-01-01"}}); v != (DateRange{From: "2024-01-01"}) {
		t.Errorf("Expected date range, got %v", v)
	}
	if v := formFilterValue(url.Values{"value": {"x"}}); v != "x" {
		t.Errorf("Expected scalar, got %v", v)
	}
}
