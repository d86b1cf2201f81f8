package core

import (
	"errors"
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	PaymentNA       PaymentType = "na"
	PaymentCash     PaymentType = "cash"
	PaymentCard     PaymentType = "card"
	PaymentTransfer PaymentType = "transfer"
	PaymentSinpe    PaymentType = "sinpe"
)

const (
	CRC Currency = "CRC"
	USD Currency = "USD"
)

// DateLayout is the stored representation of expense dates.
const DateLayout = "2006-01-02"

type (
	PaymentType string

	Currency string

	Provider struct {
		ID   int64
		Name string
	}

	Expense struct {
		ID             int64
		Date           string // ISO YYYY-MM-DD
		PaymentRef     string
		FacturaRef     string
		ProviderID     int64
		ProviderName   string // joined from providers, read-only
		PaymentType    PaymentType
		Amount         float64
		Currency       Currency
		Details        string
		DeliveredEmail bool
		FacturaAparte  bool
		ReceiptPath    string // filename relative to the receipts dir
	}

	// Filter narrows a listing or export to a month (YYYY-MM prefix of the
	// stored date), a provider and/or a payment type. Zero values mean "any".
	Filter struct {
		Month       string
		ProviderID  int64
		PaymentType PaymentType
	}
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrMissingProvider = errors.New("missing provider")
)

// Display renders the payment type with its first letter capitalized, as it
// appears in the listing and the exported report.
func (p PaymentType) Display() string {
	s := string(p)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Validate covers the type-level checks applied before any write: a
// well-formed date, a provider reference and a finite amount. Enum membership
// for payment type and currency is deliberately left to the storage CHECK
// constraints, so invalid values fail there as constraint violations.
func (e Expense) Validate() error {
	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return ErrInvalidDate
	}
	if e.ProviderID <= 0 {
		return ErrMissingProvider
	}
	if math.IsNaN(e.Amount) || math.IsInf(e.Amount, 0) {
		return ErrInvalidAmount
	}
	return nil
}

// YearMonth returns the YYYY-MM prefix of the stored date string. Matching is
// literal prefix equality, not calendar logic, so malformed stored dates keep
// their original (non-)matching behavior.
func (e Expense) YearMonth() string {
	if len(e.Date) < 7 {
		return e.Date
	}
	return e.Date[:7]
}

var titleCaser = cases.Title(language.Spanish)

// SplitProviderNames turns one free-text field into normalized provider names:
// split on commas and newlines, trim, drop empties, title-case the rest.
// Duplicates after normalization are collapsed, preserving first occurrence.
func SplitProviderNames(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\n", ",")

	var names []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		name = titleCaser.String(strings.ToLower(name))
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
