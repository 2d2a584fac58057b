package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/store"
	"caraudiopos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// maxTxAttempts bounds retries of a serializable transaction that lost a
// conflict to a concurrent one.
const maxTxAttempts = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn in a serializable transaction, retrying it when postgres
// reports a serialization failure.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for range maxTxAttempts {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

const productColumns = `id, sku, name, category, brand, speaker_size, speaker_sizes, part_number, price_cents, avg_cost, avg_cost_qty, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p     domain.Product
		sizes []byte
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.Brand, &p.SpeakerSize, &sizes, &p.PartNumber, &p.PriceCents, &p.AvgCost, &p.AvgCostQty, &p.CreatedAt); err != nil {
		return domain.Product{}, err
	}
	if len(sizes) > 0 {
		if err := json.Unmarshal(sizes, &p.SpeakerSizes); err != nil {
			return domain.Product{}, fmt.Errorf("product %s speaker sizes: %w", p.ID, err)
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.SKU = strings.TrimSpace(product.SKU)
	if product.SKU == "" || strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Category) == "" || product.PriceCents < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	sizes, err := json.Marshal(nonNilStrings(product.SpeakerSizes))
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, product.ID, product.SKU, product.Name, product.Category, product.Brand, product.SpeakerSize, sizes,
		product.PartNumber, product.PriceCents, product.AvgCost, product.AvgCostQty, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, `id = $1`, id)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return s.getProduct(ctx, `lower(sku) = lower($1)`, sku)
}

func (s *Store) getProduct(ctx context.Context, where string, arg string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetStockMap counts in-stock units per product; no ids means every product.
func (s *Store) GetStockMap(ctx context.Context, productIDs []string) (map[string]int, error) {
	query := `
		SELECT p.id, count(u.id)
		FROM products p
		LEFT JOIN product_units u ON u.product_id = p.id AND u.status = 'in_stock'
		GROUP BY p.id
	`
	args := []any{}
	if len(productIDs) > 0 {
		query = `
			SELECT p.id, count(u.id)
			FROM products p
			LEFT JOIN product_units u ON u.product_id = p.id AND u.status = 'in_stock'
			WHERE p.id = ANY($1)
			GROUP BY p.id
		`
		args = append(args, productIDs)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		result[id] = 0
	}
	for rows.Next() {
		var (
			id  string
			qty int
		)
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		result[id] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListUnits(ctx context.Context, productID string, status string, limit int) ([]domain.ProductUnit, error) {
	if limit < 1 {
		limit = 1000
	}
	return queryUnits(ctx, s.db, `
		SELECT `+unitColumns+`
		FROM product_units
		WHERE product_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY received_at, seq, id
		LIMIT $3
	`, productID, status, limit)
}

func (s *Store) ListBackorders(ctx context.Context, filter domain.BackorderFilter) ([]domain.Backorder, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 200
	}
	return queryBackorders(ctx, s.db, `
		SELECT `+backorderColumns+`
		FROM backorders
		WHERE ($1 = '' OR product_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at, seq, id
		LIMIT $3
	`, filter.ProductID, filter.Status, limit)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := getOrder(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	order.Items, err = listOrderItems(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) LoadFitmentSnapshot(ctx context.Context) (domain.FitmentSnapshot, error) {
	snapshot := domain.FitmentSnapshot{
		Fitments:    make([]domain.VehicleFitmentRecord, 0, 256),
		Accessories: make(map[string]domain.VehicleAccessoryRecord, 256),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT year_start, year_end, make, model, trim, locations
		FROM fitment_records
		ORDER BY id
	`)
	if err != nil {
		return domain.FitmentSnapshot{}, err
	}
	for rows.Next() {
		var (
			rec       domain.VehicleFitmentRecord
			locations []byte
		)
		if err := rows.Scan(&rec.YearStart, &rec.YearEnd, &rec.Make, &rec.Model, &rec.Trim, &locations); err != nil {
			_ = rows.Close()
			return domain.FitmentSnapshot{}, err
		}
		if err := json.Unmarshal(locations, &rec.Locations); err != nil {
			_ = rows.Close()
			return domain.FitmentSnapshot{}, fmt.Errorf("fitment %d %s %s locations: %w", rec.YearStart, rec.Make, rec.Model, err)
		}
		snapshot.Fitments = append(snapshot.Fitments, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return domain.FitmentSnapshot{}, err
	}
	_ = rows.Close()

	accRows, err := s.db.QueryContext(ctx, `SELECT vehicle_key, parts FROM accessory_records`)
	if err != nil {
		return domain.FitmentSnapshot{}, err
	}
	defer accRows.Close()
	for accRows.Next() {
		var (
			key   string
			parts []byte
			rec   domain.VehicleAccessoryRecord
		)
		if err := accRows.Scan(&key, &parts); err != nil {
			return domain.FitmentSnapshot{}, err
		}
		if err := json.Unmarshal(parts, &rec); err != nil {
			return domain.FitmentSnapshot{}, fmt.Errorf("accessory record %s: %w", key, err)
		}
		snapshot.Accessories[key] = rec
	}
	if err := accRows.Err(); err != nil {
		return domain.FitmentSnapshot{}, err
	}
	return snapshot, nil
}

// SaveFitmentSnapshot replaces both fitment tables in one transaction.
func (s *Store) SaveFitmentSnapshot(ctx context.Context, snapshot domain.FitmentSnapshot) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM fitment_records`); err != nil {
		return err
	}
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM accessory_records`); err != nil {
		return err
	}

	for _, rec := range snapshot.Fitments {
		locations, err := json.Marshal(rec.Locations)
		if err != nil {
			return err
		}
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO fitment_records (year_start, year_end, make, model, trim, locations)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, rec.YearStart, rec.YearEnd, rec.Make, rec.Model, rec.Trim, locations); err != nil {
			return err
		}
	}
	for key, rec := range snapshot.Accessories {
		parts, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO accessory_records (vehicle_key, parts) VALUES ($1,$2)
		`, key, parts); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
