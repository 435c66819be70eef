// Package sqlite provides a SQLite-backed repository registry for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	domain "github.com/hanko-field/product-options/internal/domain"
	"github.com/hanko-field/product-options/internal/platform/sqlitemigrate"
	"github.com/hanko-field/product-options/internal/repositories"
	"github.com/hanko-field/product-options/internal/repositories/sqlite/migrations"
)

// Store persists catalogs, cart lines, and order lines in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ repositories.Registry = (*Store)(nil)

type txKey struct{}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close(context.Context) error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Catalogs() repositories.CatalogRepository { return catalogStore{s} }

func (s *Store) CartLines() repositories.CartLineRepository { return cartLineStore{s} }

func (s *Store) OrderLines() repositories.OrderLineRepository { return orderLineStore{s} }

// Checks pings the database.
func (s *Store) Checks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name: "sqlite",
		Check: func(ctx context.Context) error {
			if s == nil || s.sqlDB == nil {
				return fmt.Errorf("storage is not configured")
			}
			return s.sqlDB.PingContext(ctx)
		},
	}}
}

// RunInTx executes fn inside a SQLite transaction. Repository calls made with the ctx
// passed to fn use that transaction; nested calls join it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("sqlite: transaction func is required")
	}
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("sqlite.begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapError("sqlite.commit", err)
	}
	return nil
}

func (s *Store) conn(ctx context.Context) (execer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx, nil
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	return s.sqlDB, nil
}

type catalogStore struct{ s *Store }

func (c catalogStore) Get(ctx context.Context, productID string) (domain.OptionCatalog, error) {
	db, err := c.s.conn(ctx)
	if err != nil {
		return domain.OptionCatalog{}, err
	}
	var (
		catalog     = domain.OptionCatalog{ProductID: productID}
		optionsJSON string
		updatedAt   int64
	)
	err = db.QueryRowContext(ctx,
		`SELECT options_json, min_selections, max_selections, updated_at, updated_by
		   FROM option_catalogs WHERE product_id = ?`,
		productID,
	).Scan(&optionsJSON, &catalog.MinSelections, &catalog.MaxSelections, &updatedAt, &catalog.UpdatedBy)
	if err != nil {
		return domain.OptionCatalog{}, wrapError("catalogs.get", err)
	}
	if err := json.Unmarshal([]byte(optionsJSON), &catalog.Options); err != nil {
		return domain.OptionCatalog{}, fmt.Errorf("catalogs.get: decode options: %w", err)
	}
	catalog.UpdatedAt = fromMillis(updatedAt)
	return catalog, nil
}

func (c catalogStore) Save(ctx context.Context, catalog domain.OptionCatalog) error {
	db, err := c.s.conn(ctx)
	if err != nil {
		return err
	}
	options := catalog.Options
	if options == nil {
		options = []string{}
	}
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("catalogs.save: encode options: %w", err)
	}
	updatedAt := catalog.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO option_catalogs (product_id, options_json, min_selections, max_selections, updated_at, updated_by)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(product_id) DO UPDATE SET
		   options_json = excluded.options_json,
		   min_selections = excluded.min_selections,
		   max_selections = excluded.max_selections,
		   updated_at = excluded.updated_at,
		   updated_by = excluded.updated_by`,
		catalog.ProductID, string(optionsJSON), catalog.MinSelections, catalog.MaxSelections, toMillis(updatedAt), catalog.UpdatedBy,
	)
	return wrapError("catalogs.save", err)
}

func (c catalogStore) Delete(ctx context.Context, productID string) error {
	db, err := c.s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM option_catalogs WHERE product_id = ?`, productID)
	if err != nil {
		return wrapError("catalogs.delete", err)
	}
	return requireAffected("catalogs.delete", res)
}

type cartLineStore struct{ s *Store }

func (c cartLineStore) Insert(ctx context.Context, line domain.CartLineItem) error {
	db, err := c.s.conn(ctx)
	if err != nil {
		return err
	}
	// NULL keeps "no field" apart from an explicit empty selection.
	var extra sql.NullString
	if line.ExtraOptions != nil {
		encoded, err := json.Marshal(line.ExtraOptions)
		if err != nil {
			return fmt.Errorf("cart_lines.insert: encode extra options: %w", err)
		}
		extra = sql.NullString{String: string(encoded), Valid: true}
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO cart_lines (user_id, id, product_id, quantity, extra_options_json, added_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		line.UserID, line.ID, line.ProductID, line.Quantity, extra, toMillis(line.AddedAt),
	)
	return wrapError("cart_lines.insert", err)
}

const cartLineColumns = `id, user_id, product_id, quantity, extra_options_json, added_at`

func (c cartLineStore) Get(ctx context.Context, userID, lineID string) (domain.CartLineItem, error) {
	db, err := c.s.conn(ctx)
	if err != nil {
		return domain.CartLineItem{}, err
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+cartLineColumns+` FROM cart_lines WHERE user_id = ? AND id = ?`,
		userID, lineID,
	)
	line, err := scanCartLine(row)
	if err != nil {
		return domain.CartLineItem{}, wrapError("cart_lines.get", err)
	}
	return line, nil
}

func (c cartLineStore) ListByUser(ctx context.Context, userID string) ([]domain.CartLineItem, error) {
	db, err := c.s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+cartLineColumns+` FROM cart_lines WHERE user_id = ? ORDER BY added_at, id`,
		userID,
	)
	if err != nil {
		return nil, wrapError("cart_lines.list", err)
	}
	defer rows.Close()

	lines := make([]domain.CartLineItem, 0)
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, wrapError("cart_lines.list", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("cart_lines.list", err)
	}
	return lines, nil
}

func (c cartLineStore) Delete(ctx context.Context, userID, lineID string) error {
	db, err := c.s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM cart_lines WHERE user_id = ? AND id = ?`, userID, lineID)
	if err != nil {
		return wrapError("cart_lines.delete", err)
	}
	return requireAffected("cart_lines.delete", res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCartLine(row rowScanner) (domain.CartLineItem, error) {
	var (
		line    domain.CartLineItem
		extra   sql.NullString
		addedAt int64
	)
	if err := row.Scan(&line.ID, &line.UserID, &line.ProductID, &line.Quantity, &extra, &addedAt); err != nil {
		return domain.CartLineItem{}, err
	}
	if extra.Valid {
		sel := domain.Selection{}
		if err := json.Unmarshal([]byte(extra.String), &sel); err != nil {
			return domain.CartLineItem{}, fmt.Errorf("decode extra options: %w", err)
		}
		line.ExtraOptions = sel
	}
	line.AddedAt = fromMillis(addedAt)
	return line, nil
}

type orderLineStore struct{ s *Store }

const orderLineColumns = `id, order_id, user_id, product_id, quantity, meta_json, created_at, updated_at`

func (o orderLineStore) Get(ctx context.Context, orderID, lineID string) (domain.OrderLineItem, error) {
	db, err := o.s.conn(ctx)
	if err != nil {
		return domain.OrderLineItem{}, err
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+orderLineColumns+` FROM order_lines WHERE order_id = ? AND id = ?`,
		orderID, lineID,
	)
	line, err := scanOrderLine(row)
	if err != nil {
		return domain.OrderLineItem{}, wrapError("order_lines.get", err)
	}
	return line, nil
}

func (o orderLineStore) Upsert(ctx context.Context, line domain.OrderLineItem) error {
	db, err := o.s.conn(ctx)
	if err != nil {
		return err
	}
	var meta sql.NullString
	if line.Meta != nil {
		encoded, err := json.Marshal(line.Meta)
		if err != nil {
			return fmt.Errorf("order_lines.upsert: encode meta: %w", err)
		}
		meta = sql.NullString{String: string(encoded), Valid: true}
	}
	createdAt := line.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := line.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO order_lines (`+orderLineColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(order_id, id) DO UPDATE SET
		   user_id = excluded.user_id,
		   product_id = excluded.product_id,
		   quantity = excluded.quantity,
		   meta_json = excluded.meta_json,
		   updated_at = excluded.updated_at`,
		line.ID, line.OrderID, line.UserID, line.ProductID, line.Quantity, meta, toMillis(createdAt), toMillis(updatedAt),
	)
	return wrapError("order_lines.upsert", err)
}

func (o orderLineStore) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	db, err := o.s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+orderLineColumns+` FROM order_lines WHERE order_id = ? ORDER BY id`,
		orderID,
	)
	if err != nil {
		return nil, wrapError("order_lines.list", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLineItem, 0)
	for rows.Next() {
		line, err := scanOrderLine(rows)
		if err != nil {
			return nil, wrapError("order_lines.list", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("order_lines.list", err)
	}
	return lines, nil
}

func scanOrderLine(row rowScanner) (domain.OrderLineItem, error) {
	var (
		line                 domain.OrderLineItem
		meta                 sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&line.ID, &line.OrderID, &line.UserID, &line.ProductID, &line.Quantity, &meta, &createdAt, &updatedAt); err != nil {
		return domain.OrderLineItem{}, err
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &line.Meta); err != nil {
			return domain.OrderLineItem{}, fmt.Errorf("decode meta: %w", err)
		}
	}
	line.CreatedAt = fromMillis(createdAt)
	line.UpdatedAt = fromMillis(updatedAt)
	return line, nil
}

func requireAffected(op string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return wrapError(op, err)
	}
	if affected == 0 {
		return repositories.NewNotFoundError(op)
	}
	return nil
}

// wrapError categorises driver errors into repositories.StoreError values.
func wrapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return repositories.NewNotFoundError(op)
	case isUniqueViolation(err):
		return repositories.NewConflictError(op, err)
	case isBusy(err):
		return repositories.NewUnavailableError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	return false
}
