package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"gastos/internal/core"
	"gastos/internal/export"
	"gastos/internal/receipts"
	"gastos/internal/storage"
)

// maxUploadBytes caps receipt uploads held in memory during an edit.
const maxUploadBytes = 32 << 20

var paymentTypes = []core.PaymentType{
	core.PaymentNA, core.PaymentCash, core.PaymentCard, core.PaymentTransfer, core.PaymentSinpe,
}

type indexData struct {
	Expenses     []core.Expense
	Providers    []core.Provider
	Stats        core.Stats
	Filter       core.Filter
	CurrentMonth string
	PaymentTypes []core.PaymentType
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		slog.ErrorContext(r.Context(), "Templates not loaded", "url", r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	filter := parseFilter(r.URL.Query())
	// The listing always has a month: absent or blank means the current one,
	// computed at request time.
	if filter.Month == "" {
		filter.Month = currentMonth()
	}

	rows, err := s.repo.ListExpenses(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "List expenses error", "error", err)
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}
	providers, err := s.repo.ListProviders(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List providers error", "error", err)
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}

	data := indexData{
		Expenses:     rows,
		Providers:    providers,
		Stats:        core.Summarize(rows),
		Filter:       filter,
		CurrentMonth: currentMonth(),
		PaymentTypes: paymentTypes,
	}
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		slog.ErrorContext(r.Context(), "Index template execution failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	e, err := parseExpenseForm(r.Form)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	id, err := s.repo.CreateExpense(r.Context(), e)
	if err != nil {
		if storage.IsConstraint(err) {
			slog.WarnContext(r.Context(), "Expense create rejected", "error", err)
			http.Error(w, "constraint violation: "+err.Error(), http.StatusConflict)
			return
		}
		slog.ErrorContext(r.Context(), "Expense create error", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(r.Context(), "Expense recorded", "id", id, "amount", e.Amount, "currency", e.Currency)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The edit form posts multipart when it carries a file; fall back to a
	// plain form body when it does not.
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if !errors.Is(err, http.ErrNotMultipart) {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
	}

	e, err := parseExpenseForm(r.Form)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	e.ID = id

	// Fallback first: keep whatever filename the row already stores.
	prior, err := s.repo.ReceiptPath(r.Context(), id)
	if err != nil {
		slog.ErrorContext(r.Context(), "Receipt lookup error", "error", err, "id", id)
		http.Error(w, "edit failed", http.StatusInternalServerError)
		return
	}
	e.ReceiptPath = prior

	file, header, err := r.FormFile("receipt_path")
	switch {
	case err == nil && header.Filename != "":
		defer file.Close()
		stored, err := s.receipts.Save(header.Filename, file)
		if err != nil {
			if errors.Is(err, receipts.ErrUnsafeFilename) {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			// File write failed: stop before touching the row so it never
			// points at a file that was not written.
			slog.ErrorContext(r.Context(), "Receipt save error", "error", err, "id", id)
			http.Error(w, "receipt save failed", http.StatusInternalServerError)
			return
		}
		e.ReceiptPath = stored
	case err == nil:
		file.Close()
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		http.Error(w, "invalid upload", http.StatusBadRequest)
		return
	}

	if err := s.repo.UpdateExpense(r.Context(), e); err != nil {
		if storage.IsConstraint(err) {
			http.Error(w, "constraint violation: "+err.Error(), http.StatusConflict)
			return
		}
		slog.ErrorContext(r.Context(), "Expense update error", "error", err, "id", id)
		http.Error(w, "edit failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Deleting a nonexistent id is a no-op success, keeping deletes idempotent.
	if err := s.repo.DeleteExpense(r.Context(), id); err != nil {
		slog.ErrorContext(r.Context(), "Expense delete error", "error", err, "id", id)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleAddProviders(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	names := core.SplitProviderNames(r.Form.Get("name"))
	added := 0
	for _, name := range names {
		_, inserted, err := s.repo.AddProvider(r.Context(), name)
		if err != nil {
			slog.ErrorContext(r.Context(), "Provider add error", "error", err, "name", name)
			http.Error(w, "provider add failed", http.StatusInternalServerError)
			return
		}
		if inserted {
			added++
		}
	}
	if len(names) > 0 {
		slog.InfoContext(r.Context(), "Providers added", "submitted", len(names), "inserted", added)
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.repo.DeleteProvider(r.Context(), id); err != nil {
		if storage.IsConstraint(err) {
			http.Error(w, "provider still referenced by expenses", http.StatusConflict)
			return
		}
		slog.ErrorContext(r.Context(), "Provider delete error", "error", err, "id", id)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	// The export takes exactly the filters given; unlike the listing it has
	// no current-month default, so an unfiltered export covers everything.
	filter := parseFilter(r.URL.Query())

	rows, err := s.repo.ListExpenses(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Export query error", "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	data, err := export.BuildWorkbook(rows, now)
	if err != nil {
		slog.ErrorContext(r.Context(), "Workbook build error", "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(now)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)

	slog.InfoContext(r.Context(), "Export generated", "rows", len(rows), "bytes", len(data))
}
