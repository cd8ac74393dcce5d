package datatable

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gnemet/datatable/database/sessionpool"
)

// SessionCookie carries the session id of a table instance.
const SessionCookie = "datatable_session"

// Handler serves one table definition over HTTP. Each client gets its own
// Table, kept in a session pool between requests.
//
// GET renders the table, binding state from the query string when one is
// present. POST applies the operation named by the "op" form value and then
// renders. Both respond with the JSON View.
type Handler struct {
	newTable func() (*Table, error)
	pool     *sessionpool.Pool[*Table]
	logger   *slog.Logger
}

// NewHandler serves tables built by newTable from sessions held in pool.
func NewHandler(newTable func() (*Table, error), pool *sessionpool.Pool[*Table], logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{newTable: newTable, pool: pool, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var sid string
	if c, err := r.Cookie(SessionCookie); err == nil {
		sid = c.Value
	}
	session, err := h.pool.GetOrCreate(sid, h.newTable)
	if err != nil {
		h.logger.Error("Failed to acquire table session", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, sessionpool.ErrCapacity) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	if session.ID != sid {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    session.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	session.Lock()
	defer session.Unlock()
	t := session.Value

	ctx := r.Context()
	if r.Method == http.MethodGet {
		if r.URL.RawQuery != "" {
			t.BindQuery(r.URL.Query())
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if t.CurrentPage() == nil {
			if _, err := t.Render(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		if err := h.apply(r, t); err != nil {
			h.logger.Error("Table operation failed", "op", r.PostForm.Get("op"), "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	start := time.Now()
	if _, err := t.Render(ctx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Debug("Rendered table", "table", t.Entity().Name, "session", session.ID, "duration", time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(t.View()); err != nil {
		h.logger.Error("Failed to encode table view", "error", err)
	}
}

// apply runs the operation posted in r. Unknown operations are ignored.
func (h *Handler) apply(r *http.Request, t *Table) error {
	form := r.PostForm
	key, id := form.Get("key"), form.Get("id")

	switch form.Get("op") {
	case "search":
		t.SetSearch(form.Get("value"))
	case "clear_search":
		t.ClearSearch()
	case "filter":
		t.SetFilterValue(key, formFilterValue(form))
	case "reset_filter":
		t.ResetFilter(key)
	case "reset_filters":
		t.ResetAllFilters()
	case "sort":
		t.SortBy(key)
	case "page":
		n, _ := strconv.Atoi(form.Get("value"))
		t.GotoPage(n)
	case "next":
		t.NextPage()
	case "previous":
		t.PreviousPage()
	case "per_page":
		n, _ := strconv.Atoi(form.Get("value"))
		t.SetPerPage(n)
	case "toggle":
		t.ToggleRowSelection(id)
	case "toggle_all":
		t.ToggleSelectAll()
	case "select_page":
		t.SelectAllOnPage()
	case "deselect_all":
		t.DeselectAll()
	case "show":
		t.ShowRecord(id)
	case "action":
		return t.ExecuteAction(r.Context(), key)
	case "row_action":
		return t.ExecuteRowAction(r.Context(), key, id)
	default:
		h.logger.Debug("Ignoring unknown table operation", "op", form.Get("op"))
	}
	return nil
}

// formFilterValue reads "value", "value[]" or "from"/"to".
func formFilterValue(form map[string][]string) interface{} {
	if vals, ok := form["value[]"]; ok {
		return vals
	}
	from, to := first(form["from"]), first(form["to"])
	if from != "" || to != "" {
		return DateRange{From: from, To: to}
	}
	return first(form["value"])
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
