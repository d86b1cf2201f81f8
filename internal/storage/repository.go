package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gastos/internal/core"

	"modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Repository struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dbPath, enables
// foreign key enforcement on every pooled connection and runs migrations.
func Open(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// IsConstraint reports whether err is a SQLite constraint violation (CHECK,
// UNIQUE, NOT NULL or FOREIGN KEY). Used to map enum and delete-restrict
// failures to request errors.
func IsConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == 19 // SQLITE_CONSTRAINT family
	}
	return false
}

const expenseColumns = `e.id, e.date, e.payment_ref, e.factura_ref, e.provider_id, p.name,
	e.payment_type, e.amount, e.currency, e.details,
	e.delivered_email, e.factura_aparte, e.receipt_path`

func scanExpense(row interface{ Scan(...any) error }) (core.Expense, error) {
	var e core.Expense
	var delivered, aparte int64
	err := row.Scan(&e.ID, &e.Date, &e.PaymentRef, &e.FacturaRef, &e.ProviderID, &e.ProviderName,
		&e.PaymentType, &e.Amount, &e.Currency, &e.Details,
		&delivered, &aparte, &e.ReceiptPath)
	if err != nil {
		return core.Expense{}, err
	}
	e.DeliveredEmail = delivered != 0
	e.FacturaAparte = aparte != 0
	return e, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// CreateExpense inserts one expense row and returns its generated id.
// Enum and foreign key violations surface as constraint errors.
func (r *Repository) CreateExpense(ctx context.Context, e core.Expense) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses
		(date, payment_ref, factura_ref, provider_id, payment_type, amount, currency, details, delivered_email, factura_aparte, receipt_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Date, e.PaymentRef, e.FacturaRef, e.ProviderID, string(e.PaymentType), e.Amount,
		string(e.Currency), e.Details, boolToInt(e.DeliveredEmail), boolToInt(e.FacturaAparte), e.ReceiptPath)
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("expense insert id: %w", err)
	}

	slog.InfoContext(ctx, "Expense created",
		"id", id,
		"date", e.Date,
		"provider_id", e.ProviderID,
		"amount", e.Amount,
		"currency", e.Currency)

	return id, nil
}

// GetExpense returns one expense joined with its provider name.
func (r *Repository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses e
		JOIN providers p ON p.id = e.provider_id
		WHERE e.id = ?`, id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

// ReceiptPath returns the stored receipt filename for an expense, or the
// empty string when the row does not exist.
func (r *Repository) ReceiptPath(ctx context.Context, id int64) (string, error) {
	var path string
	err := r.db.QueryRowContext(ctx, `SELECT receipt_path FROM expenses WHERE id = ?`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get receipt path: %w", err)
	}
	return path, nil
}

// UpdateExpense replaces every column of the expense row. Updating a
// nonexistent id is a no-op, keeping the edit operation idempotent.
func (r *Repository) UpdateExpense(ctx context.Context, e core.Expense) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE expenses
		SET date=?, payment_ref=?, factura_ref=?, provider_id=?, payment_type=?, amount=?, currency=?, details=?, delivered_email=?, factura_aparte=?, receipt_path=?
		WHERE id=?`,
		e.Date, e.PaymentRef, e.FacturaRef, e.ProviderID, string(e.PaymentType), e.Amount,
		string(e.Currency), e.Details, boolToInt(e.DeliveredEmail), boolToInt(e.FacturaAparte), e.ReceiptPath,
		e.ID)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return nil
}

// DeleteExpense deletes by id. Deleting a nonexistent id is a no-op.
func (r *Repository) DeleteExpense(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return nil
}

// ListExpenses returns the filtered row-set joined with provider names,
// newest date first. The month filter is literal prefix equality against the
// stored date text, not a calendar range.
func (r *Repository) ListExpenses(ctx context.Context, f core.Filter) ([]core.Expense, error) {
	query := `
		SELECT ` + expenseColumns + `
		FROM expenses e
		JOIN providers p ON p.id = e.provider_id
		WHERE 1=1`
	var args []any

	if f.Month != "" {
		query += ` AND substr(e.date, 1, 7) = ?`
		args = append(args, f.Month)
	}
	if f.ProviderID != 0 {
		query += ` AND e.provider_id = ?`
		args = append(args, f.ProviderID)
	}
	if f.PaymentType != "" {
		query += ` AND e.payment_type = ?`
		args = append(args, string(f.PaymentType))
	}
	query += ` ORDER BY e.date DESC, e.id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// AddProvider inserts a provider name if absent and reports whether an
// insertion occurred. An existing name (after normalization by the caller) is
// silently skipped and its id returned.
func (r *Repository) AddProvider(ctx context.Context, name string) (int64, bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO providers(name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return 0, false, fmt.Errorf("add provider: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("add provider rows affected: %w", err)
	}
	if affected > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("provider insert id: %w", err)
		}
		return id, true, nil
	}

	var id int64
	if err := r.db.QueryRowContext(ctx, `SELECT id FROM providers WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("lookup provider: %w", err)
	}
	return id, false, nil
}

// ListProviders returns all providers ordered by name.
func (r *Repository) ListProviders(ctx context.Context) ([]core.Provider, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var providers []core.Provider
	for rows.Next() {
		var p core.Provider
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

// DeleteProvider deletes a provider. The ON DELETE RESTRICT foreign key makes
// this fail with a constraint error while any expense still references it.
func (r *Repository) DeleteProvider(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return nil
}
