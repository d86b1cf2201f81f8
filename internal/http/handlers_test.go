package http

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gastos/internal/core"
	"gastos/internal/export"
	"gastos/internal/receipts"
	"gastos/internal/storage"
)

type testEnv struct {
	srv   *Server
	repo  *storage.Repository
	store *receipts.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	repo, err := storage.Open(filepath.Join(dir, "gastos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	store, err := receipts.NewStore(filepath.Join(dir, "receipts"))
	require.NoError(t, err)

	srv := NewServer(":0", repo, store)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testEnv{srv: srv, repo: repo, store: store}
}

func (env *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	env.srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func (env *testEnv) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func (env *testEnv) addProvider(t *testing.T, name string) int64 {
	t.Helper()
	id, _, err := env.repo.AddProvider(context.Background(), name)
	require.NoError(t, err)
	return id
}

func expenseForm(providerID int64, date string) url.Values {
	return url.Values{
		"date":         {date},
		"proveedor_id": {strconv.FormatInt(providerID, 10)},
		"payment_type": {"card"},
		"amount":       {"1500.50"},
		"currency":     {"CRC"},
		"payment_ref":  {"p-1"},
		"factura_ref":  {"f-1"},
		"details":      {"toner"},
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.get(t, path)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestCreateExpenseRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Office Depot")

	form := expenseForm(pid, "2024-05-10")
	form.Set("delivered_email", "on") // checkbox present -> true; factura_aparte absent -> false
	rr := env.postForm(t, "/", form)
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())

	rows, err := env.repo.ListExpenses(context.Background(), core.Filter{Month: "2024-05"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	e := rows[0]
	assert.Equal(t, "2024-05-10", e.Date)
	assert.Equal(t, "Office Depot", e.ProviderName)
	assert.Equal(t, core.PaymentCard, e.PaymentType)
	assert.Equal(t, 1500.50, e.Amount)
	assert.Equal(t, core.CRC, e.Currency)
	assert.True(t, e.DeliveredEmail)
	assert.False(t, e.FacturaAparte)
}

func TestCreateExpenseTypeErrors(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	form := expenseForm(pid, "2024-05-10")
	form.Set("amount", "abc")
	rr := env.postForm(t, "/", form)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	form = expenseForm(pid, "")
	rr = env.postForm(t, "/", form)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	form = expenseForm(pid, "2024-05-10")
	form.Set("proveedor_id", "")
	rr = env.postForm(t, "/", form)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	// Nothing was written on any of the failures.
	rows, err := env.repo.ListExpenses(context.Background(), core.Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCreateExpenseEnumFailsAtStorage(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	form := expenseForm(pid, "2024-05-10")
	form.Set("payment_type", "cheque")
	rr := env.postForm(t, "/", form)
	assert.Equal(t, http.StatusConflict, rr.Code, "enum values are enforced by the storage CHECK")

	form = expenseForm(pid, "2024-05-10")
	form.Set("currency", "EUR")
	rr = env.postForm(t, "/", form)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestIndexDefaultsToCurrentMonth(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	thisMonth := time.Now().Format("2006-01") + "-15"
	for _, date := range []string{thisMonth, "2020-01-15"} {
		_, err := env.repo.CreateExpense(context.Background(), core.Expense{
			Date: date, ProviderID: pid, PaymentType: core.PaymentCash, Amount: 42, Currency: core.CRC,
		})
		require.NoError(t, err)
	}

	rr := env.get(t, "/")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), thisMonth)
	assert.NotContains(t, rr.Body.String(), "2020-01-15")

	rr = env.get(t, "/?month=2020-01")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "2020-01-15")
}

func TestProviderAddIdempotent(t *testing.T) {
	env := newTestEnv(t)

	rr := env.postForm(t, "/providers/add", url.Values{"name": {"Acme, acme \n ACME "}})
	require.Equal(t, http.StatusSeeOther, rr.Code)

	providers, err := env.repo.ListProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "Acme", providers[0].Name)

	// A second submission changes nothing.
	rr = env.postForm(t, "/providers/add", url.Values{"name": {"acme"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	providers, err = env.repo.ListProviders(context.Background())
	require.NoError(t, err)
	assert.Len(t, providers, 1)
}

func TestProviderAddEmptyIsNoOp(t *testing.T) {
	env := newTestEnv(t)

	rr := env.postForm(t, "/providers/add", url.Values{"name": {"  \n , "}})
	require.Equal(t, http.StatusSeeOther, rr.Code)

	providers, err := env.repo.ListProviders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestDeleteExpenseIdempotent(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	id, err := env.repo.CreateExpense(context.Background(), core.Expense{
		Date: "2024-05-01", ProviderID: pid, PaymentType: core.PaymentCash, Amount: 1, Currency: core.CRC,
	})
	require.NoError(t, err)

	rr := env.postForm(t, "/delete/"+strconv.FormatInt(id, 10), nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)

	// Same id again, and an id that never existed: both succeed.
	rr = env.postForm(t, "/delete/"+strconv.FormatInt(id, 10), nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	rr = env.postForm(t, "/delete/99999", nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
}

func TestDeleteProviderRestricted(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	_, err := env.repo.CreateExpense(context.Background(), core.Expense{
		Date: "2024-05-01", ProviderID: pid, PaymentType: core.PaymentCash, Amount: 1, Currency: core.CRC,
	})
	require.NoError(t, err)

	rr := env.postForm(t, "/providers/delete/"+strconv.FormatInt(pid, 10), nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestEditWithoutFilePreservesReceipt(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	id, err := env.repo.CreateExpense(context.Background(), core.Expense{
		Date: "2024-05-01", ProviderID: pid, PaymentType: core.PaymentCash,
		Amount: 10, Currency: core.CRC, ReceiptPath: "kept.pdf",
	})
	require.NoError(t, err)

	form := expenseForm(pid, "2024-05-02")
	form.Set("amount", "25")
	rr := env.postForm(t, "/edit/"+strconv.FormatInt(id, 10), form)
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())

	got, err := env.repo.GetExpense(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "kept.pdf", got.ReceiptPath, "no new file means the stored name is preserved")
	assert.Equal(t, "2024-05-02", got.Date)
	assert.Equal(t, float64(25), got.Amount)
}

func TestEditWithUploadReplacesReceipt(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	id, err := env.repo.CreateExpense(context.Background(), core.Expense{
		Date: "2024-05-01", ProviderID: pid, PaymentType: core.PaymentCash,
		Amount: 10, Currency: core.CRC, ReceiptPath: "old.pdf",
	})
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, vals := range expenseForm(pid, "2024-05-03") {
		require.NoError(t, mw.WriteField(key, vals[0]))
	}
	fw, err := mw.CreateFormFile("receipt_path", "../new receipt.pdf")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "pdf-bytes")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/edit/"+strconv.FormatInt(id, 10), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	env.srv.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())

	got, err := env.repo.GetExpense(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "new_receipt.pdf", got.ReceiptPath)

	data, err := os.ReadFile(filepath.Join(env.store.Dir(), got.ReceiptPath))
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))
}

func TestEditUploadSaveFailureLeavesRowUntouched(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	id, err := env.repo.CreateExpense(context.Background(), core.Expense{
		Date: "2024-05-01", ProviderID: pid, PaymentType: core.PaymentCash,
		Amount: 10, Currency: core.CRC, ReceiptPath: "kept.pdf",
	})
	require.NoError(t, err)

	// Turn the receipts directory into a plain file so any create under it
	// fails, regardless of permissions.
	require.NoError(t, os.RemoveAll(env.store.Dir()))
	require.NoError(t, os.WriteFile(env.store.Dir(), []byte("x"), 0o644))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, vals := range expenseForm(pid, "2024-05-09") {
		require.NoError(t, mw.WriteField(key, vals[0]))
	}
	fw, err := mw.CreateFormFile("receipt_path", "doomed.pdf")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "pdf-bytes")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/edit/"+strconv.FormatInt(id, 10), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	env.srv.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	// The file write failed, so the row write never ran.
	got, err := env.repo.GetExpense(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", got.Date)
	assert.Equal(t, float64(10), got.Amount)
	assert.Equal(t, "kept.pdf", got.ReceiptPath)
}

func TestEditNonexistentIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	rr := env.postForm(t, "/edit/777", expenseForm(pid, "2024-05-01"))
	assert.Equal(t, http.StatusSeeOther, rr.Code)

	rows, err := env.repo.ListExpenses(context.Background(), core.Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestExportEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Office Depot")

	_, err := env.repo.CreateExpense(context.Background(), core.Expense{
		Date: "2024-05-10", ProviderID: pid, PaymentType: core.PaymentCard,
		Amount: 1500.50, Currency: core.CRC,
	})
	require.NoError(t, err)
	// Outside the filtered month; must not appear in the export.
	_, err = env.repo.CreateExpense(context.Background(), core.Expense{
		Date: "2024-06-01", ProviderID: pid, PaymentType: core.PaymentCash,
		Amount: 99, Currency: core.USD,
	})
	require.NoError(t, err)

	rr := env.get(t, "/export?month=2024-05")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, export.ContentType, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "attachment; filename=\"expenses_")

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	raw := func(cell string) string {
		v, err := f.GetCellValue(export.SheetName, cell, excelize.Options{RawCellValue: true})
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "2024-05-10", raw("A3"))
	assert.Equal(t, "Office Depot", raw("B3"))
	// One data row: totals sit two blank rows below it.
	assert.Equal(t, "Total CRC:", raw("C6"))
	assert.Equal(t, "1500.5", raw("D6"))
	assert.Equal(t, "Total USD:", raw("C7"))
	assert.Equal(t, "0", raw("D7"))
}

func TestExportWithoutFiltersCoversAllMonths(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	// The listing defaults to the current month; the export must not, so a
	// bare /export includes rows from any month.
	_, err := env.repo.CreateExpense(context.Background(), core.Expense{
		Date: "2019-02-20", ProviderID: pid, PaymentType: core.PaymentCash,
		Amount: 123.45, Currency: core.USD,
	})
	require.NoError(t, err)

	rr := env.get(t, "/export")
	require.Equal(t, http.StatusOK, rr.Code)

	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	date, err := f.GetCellValue(export.SheetName, "A3", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "2019-02-20", date)
	usd, err := f.GetCellValue(export.SheetName, "D7", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "123.45", usd)
}

func TestListingGarbageProviderFilterMatchesNothing(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	thisMonth := time.Now().Format("2006-01") + "-15"
	_, err := env.repo.CreateExpense(context.Background(), core.Expense{
		Date: thisMonth, ProviderID: pid, PaymentType: core.PaymentCash,
		Amount: 5, Currency: core.CRC,
	})
	require.NoError(t, err)

	rr := env.get(t, "/?provider=garbage")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), thisMonth)
}

func TestExportRowsMatchListing(t *testing.T) {
	env := newTestEnv(t)
	pid := env.addProvider(t, "Acme")

	for _, e := range []core.Expense{
		{Date: "2024-05-01", ProviderID: pid, PaymentType: core.PaymentCash, Amount: 1, Currency: core.CRC},
		{Date: "2024-05-03", ProviderID: pid, PaymentType: core.PaymentCard, Amount: 2, Currency: core.USD},
		{Date: "2024-05-02", ProviderID: pid, PaymentType: core.PaymentSinpe, Amount: 3, Currency: core.CRC},
	} {
		_, err := env.repo.CreateExpense(context.Background(), e)
		require.NoError(t, err)
	}

	listed, err := env.repo.ListExpenses(context.Background(), core.Filter{Month: "2024-05"})
	require.NoError(t, err)

	rr := env.get(t, "/export?month=2024-05")
	require.Equal(t, http.StatusOK, rr.Code)
	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	for i, want := range listed {
		rowNum := strconv.Itoa(3 + i)
		date, err := f.GetCellValue(export.SheetName, "A"+rowNum, excelize.Options{RawCellValue: true})
		require.NoError(t, err)
		assert.Equal(t, want.Date, date, "export row order matches the listing query")
	}
}
