package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gastos/internal/core"
)

// parseIDParam extracts the numeric {id} route parameter.
func parseIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}
	return id, nil
}

// parseFilter reads the three optional listing/export filters from the query
// string. Nothing is defaulted here; the listing handler applies the
// current-month default itself.
func parseFilter(query url.Values) core.Filter {
	var f core.Filter
	f.Month = strings.TrimSpace(query.Get("month"))
	if v := strings.TrimSpace(query.Get("provider")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			// A garbage provider value still filters: no row has id -1, so
			// it matches nothing rather than everything.
			id = -1
		}
		f.ProviderID = id
	}
	f.PaymentType = core.PaymentType(strings.TrimSpace(query.Get("payment_type")))
	return f
}

// formBool maps checkbox presence to a boolean: present means true,
// absent means false.
func formBool(form url.Values, key string) bool {
	return form.Has(key)
}

// parseExpenseForm decodes the shared create/edit field set. Type errors
// (missing date, non-numeric amount or provider id) fail here, before any
// write happens.
func parseExpenseForm(form url.Values) (core.Expense, error) {
	e := core.Expense{
		Date:           strings.TrimSpace(form.Get("date")),
		PaymentRef:     strings.TrimSpace(form.Get("payment_ref")),
		FacturaRef:     strings.TrimSpace(form.Get("factura_ref")),
		PaymentType:    core.PaymentType(strings.TrimSpace(form.Get("payment_type"))),
		Currency:       core.Currency(strings.TrimSpace(form.Get("currency"))),
		Details:        strings.TrimSpace(form.Get("details")),
		DeliveredEmail: formBool(form, "delivered_email"),
		FacturaAparte:  formBool(form, "factura_aparte"),
		ReceiptPath:    strings.TrimSpace(form.Get("receipt_path")),
	}

	providerID, err := strconv.ParseInt(strings.TrimSpace(form.Get("proveedor_id")), 10, 64)
	if err != nil {
		return core.Expense{}, fmt.Errorf("invalid provider id: %w", err)
	}
	e.ProviderID = providerID

	amount, err := strconv.ParseFloat(strings.TrimSpace(form.Get("amount")), 64)
	if err != nil {
		return core.Expense{}, fmt.Errorf("invalid amount: %w", err)
	}
	e.Amount = amount

	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

// currentMonth returns the YYYY-MM string for now, computed per request.
func currentMonth() string {
	return time.Now().Format("2006-01")
}

// formatAmount renders amounts with thousands separators and two decimals,
// matching the report's number format.
func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	dot := strings.IndexByte(s, '.')
	intPart, frac := s[:dot], s[dot:]

	var b strings.Builder
	for i := 0; i < len(intPart); i++ {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteByte(intPart[i])
	}
	out := b.String() + frac
	if neg {
		return "-" + out
	}
	return out
}

func displayPaymentType(p core.PaymentType) string {
	return p.Display()
}
