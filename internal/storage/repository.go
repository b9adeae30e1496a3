// Package storage implements the persistent store on SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"buget/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// UpsertUser provisions a user on first authentication and refreshes the
// profile fields on subsequent logins. Returns the local user id.
func (r *SQLiteRepository) UpsertUser(ctx context.Context, subject, name, email, avatar string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (subject, name, email, avatar)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			avatar = excluded.avatar
		RETURNING id`,
		subject, name, email, avatar,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert user: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, color FROM categories ORDER BY name COLLATE NOCASE ASC`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// GetCategory returns nil without error when the id is unknown.
func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (*core.Category, error) {
	var c core.Category
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, color FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// FindCategoryByName matches case-insensitively and returns nil without error
// when no category carries the name.
func (r *SQLiteRepository) FindCategoryByName(ctx context.Context, name string) (*core.Category, error) {
	var c core.Category
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, color FROM categories WHERE name = ? COLLATE NOCASE`, name).
		Scan(&c.ID, &c.Name, &c.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find category by name: %w", err)
	}
	return &c, nil
}

// ListParams scopes a transaction listing. CategoryID and Uncategorized are
// mutually exclusive; when both are unset every category matches.
type ListParams struct {
	UserID        int64
	Query         string
	CategoryID    *int64
	Uncategorized bool
}

// ListTransactions returns the user's transactions, newest first, ties broken
// by insertion order.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, p ListParams) ([]core.Transaction, error) {
	q := `
		SELECT t.id, t.title, t.amount_cents, t.type, t.date_ms, t.note, t.user_id,
		       c.id, c.name, c.color
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.user_id = ?`
	args := []any{p.UserID}

	if s := strings.TrimSpace(p.Query); s != "" {
		q += ` AND LOWER(t.title) LIKE '%' || ? || '%' ESCAPE '\'`
		args = append(args, escapeLike(strings.ToLower(s)))
	}
	switch {
	case p.Uncategorized:
		q += ` AND t.category_id IS NULL`
	case p.CategoryID != nil:
		q += ` AND t.category_id = ?`
		args = append(args, *p.CategoryID)
	}
	q += ` ORDER BY t.date_ms DESC, t.id ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SumExpensesByCategory groups the user's positive expense amounts per
// category, including the null-category group, ordered by total descending.
// Ties are ordered by the oldest transaction in the group so repeated runs
// over the same data always agree.
func (r *SQLiteRepository) SumExpensesByCategory(ctx context.Context, userID int64) ([]core.ChartSlice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT COALESCE(c.name, ?), SUM(t.amount_cents) AS total, MIN(t.id) AS first_id
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.user_id = ? AND t.type = ? AND t.amount_cents > 0
		GROUP BY t.category_id
		ORDER BY total DESC, first_id ASC`,
		core.UncategorizedLabel, userID, string(core.Expense))
	if err != nil {
		return nil, fmt.Errorf("sum expenses by category: %w", err)
	}
	defer rows.Close()

	var out []core.ChartSlice
	for rows.Next() {
		var s core.ChartSlice
		var firstID int64
		if err := rows.Scan(&s.Name, &s.Value.Cents, &firstID); err != nil {
			return nil, fmt.Errorf("scan chart group: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (title, amount_cents, type, date_ms, note, user_id, category_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Amount.Cents, string(t.Type), t.Date.UnixMilli(),
		noteValue(t.Note), t.UserID, categoryID(t.Category))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction insert id: %w", err)
	}
	t.ID = id
	// Return the committed state: dates are stored at millisecond precision.
	t.Date = time.UnixMilli(t.Date.UnixMilli()).UTC()

	slog.InfoContext(ctx, "Transaction saved",
		"id", t.ID,
		"title", t.Title,
		"amount_cents", t.Amount.Cents,
		"type", t.Type,
		"user_id", t.UserID)

	return t, nil
}

// GetTransaction fetches by id scoped to the owner. A missing row and a row
// owned by someone else both surface as core.ErrNotFound.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id, userID int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.title, t.amount_cents, t.type, t.date_ms, t.note, t.user_id,
		       c.id, c.name, c.color
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.id = ? AND t.user_id = ?`, id, userID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, err
}

// GetTransactionByID fetches without owner scoping. Only the export worker
// uses this; request paths must go through GetTransaction.
func (r *SQLiteRepository) GetTransactionByID(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT t.id, t.title, t.amount_cents, t.type, t.date_ms, t.note, t.user_id,
		       c.id, c.name, c.color
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE t.id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, err
}

// UpdateTransaction replaces every mutable field of the row matched by id and
// owner. A nil category clears the link. Zero matched rows means the target
// does not exist or belongs to another user; both map to core.ErrNotFound.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET title = ?, amount_cents = ?, type = ?, date_ms = ?, note = ?, category_id = ?
		WHERE id = ? AND user_id = ?`,
		t.Title, t.Amount.Cents, string(t.Type), t.Date.UnixMilli(),
		noteValue(t.Note), categoryID(t.Category), t.ID, t.UserID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction rows: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// DeleteTransaction removes at most one row matched by id and owner.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete transaction rows: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}

	slog.InfoContext(ctx, "Transaction deleted", "id", id, "user_id", userID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t       core.Transaction
		dateMs  int64
		note    sql.NullString
		catID   sql.NullInt64
		catName sql.NullString
		catCol  sql.NullString
	)
	err := row.Scan(&t.ID, &t.Title, &t.Amount.Cents, &t.Type, &dateMs, &note, &t.UserID,
		&catID, &catName, &catCol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Transaction{}, err
		}
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	t.Date = time.UnixMilli(dateMs).UTC()
	if note.Valid {
		t.Note = &note.String
	}
	if catID.Valid {
		t.Category = &core.Category{ID: catID.Int64, Name: catName.String, Color: catCol.String}
	}
	return t, nil
}

func noteValue(note *string) any {
	if note == nil {
		return nil
	}
	return *note
}

func categoryID(c *core.Category) any {
	if c == nil {
		return nil
	}
	return c.ID
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
