package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domainErrors "github.com/esimlab/esimbroker/internal/domain/errors"
	"github.com/esimlab/esimbroker/internal/domain/model"
	"github.com/esimlab/esimbroker/internal/domain/repository"
)

// dbPool is the subset of pgxpool.Pool the storage relies on, kept as
// an interface so tests can substitute a mock pool.
type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// newPgxPool is the production pool constructor, replaceable in tests.
var newPgxPool = func(ctx context.Context, cfg *pgxpool.Config) (dbPool, error) {
	return pgxpool.NewWithConfig(ctx, cfg)
}

// Storage acts as repository facade backed by PostgreSQL.
type Storage struct {
	pool   dbPool
	logger *slog.Logger
}

type userRepository struct {
	storage *Storage
}

type countryRepository struct {
	storage *Storage
}

type packageRepository struct {
	storage *Storage
}

type orderRepository struct {
	storage *Storage
}

type esimRepository struct {
	storage *Storage
}

// New creates storage with schema initialization.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pool, err := newPgxPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	storage := &Storage{pool: pool, logger: logger}
	if err := storage.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return storage, nil
}

// Close releases database resources.
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Factory methods for domain repositories.
func (s *Storage) Users() repository.UserRepository {
	return &userRepository{storage: s}
}

func (s *Storage) Countries() repository.CountryRepository {
	return &countryRepository{storage: s}
}

func (s *Storage) Packages() repository.PackageRepository {
	return &packageRepository{storage: s}
}

func (s *Storage) Orders() repository.OrderRepository {
	return &orderRepository{storage: s}
}

func (s *Storage) ESims() repository.ESimRepository {
	return &esimRepository{storage: s}
}

func (s *Storage) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id BIGSERIAL PRIMARY KEY,
            chat_id BIGINT UNIQUE NOT NULL,
            locale TEXT NOT NULL DEFAULT 'en',
            is_admin BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS countries (
            id BIGSERIAL PRIMARY KEY,
            code TEXT UNIQUE NOT NULL,
            name TEXT NOT NULL,
            flag_emoji TEXT NOT NULL DEFAULT '',
            available BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS packages (
            id BIGSERIAL PRIMARY KEY,
            country_id BIGINT NOT NULL REFERENCES countries(id),
            code TEXT UNIQUE NOT NULL,
            provider_code TEXT NOT NULL,
            name TEXT NOT NULL,
            data_gb NUMERIC(10,2) NOT NULL,
            duration_days INT NOT NULL,
            wholesale_usd NUMERIC(12,4) NOT NULL,
            retail_usd NUMERIC(12,4) NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            available BOOLEAN NOT NULL DEFAULT TRUE,
            last_synced_at TIMESTAMPTZ
        )`,
		`CREATE TABLE IF NOT EXISTS orders (
            id BIGSERIAL PRIMARY KEY,
            user_id BIGINT NOT NULL REFERENCES users(id),
            package_id BIGINT NOT NULL REFERENCES packages(id),
            transaction_id TEXT UNIQUE NOT NULL,
            order_type TEXT NOT NULL,
            topup_esim_id BIGINT,
            status TEXT NOT NULL,
            payment_method TEXT NOT NULL DEFAULT '',
            invoice_id TEXT NOT NULL DEFAULT '',
            payment_url TEXT NOT NULL DEFAULT '',
            paid_at TIMESTAMPTZ,
            amount_usd NUMERIC(12,4) NOT NULL,
            provider_order_no TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE TABLE IF NOT EXISTS esims (
            id BIGSERIAL PRIMARY KEY,
            order_id BIGINT UNIQUE NOT NULL REFERENCES orders(id),
            esim_tran_no TEXT NOT NULL DEFAULT '',
            iccid TEXT NOT NULL DEFAULT '',
            activation_code TEXT NOT NULL DEFAULT '',
            qr_code_url TEXT NOT NULL DEFAULT '',
            short_url TEXT NOT NULL DEFAULT '',
            smdp_status TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            total_bytes BIGINT NOT NULL DEFAULT 0,
            used_bytes BIGINT NOT NULL DEFAULT 0,
            expired_at TIMESTAMPTZ,
            low_data_notified BOOLEAN NOT NULL DEFAULT FALSE,
            raw_payload JSONB,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS idx_packages_country ON packages(country_id, available)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_esims_tran_no ON esims(esim_tran_no)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// --- UserRepository implementation ---

func (r *userRepository) GetOrCreate(ctx context.Context, chatID int64, locale string) (*model.User, error) {
	const query = `INSERT INTO users (chat_id, locale) VALUES ($1, $2)
                   ON CONFLICT (chat_id) DO UPDATE SET updated_at = NOW()
                   RETURNING id, chat_id, locale, is_admin, created_at, updated_at`
	var u model.User
	err := r.storage.pool.QueryRow(ctx, query, chatID, locale).
		Scan(&u.ID, &u.ChatID, &u.Locale, &u.Admin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const query = `SELECT id, chat_id, locale, is_admin, created_at, updated_at FROM users WHERE id=$1`
	return r.scanUser(r.storage.pool.QueryRow(ctx, query, id))
}

func (r *userRepository) GetByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	const query = `SELECT id, chat_id, locale, is_admin, created_at, updated_at FROM users WHERE chat_id=$1`
	return r.scanUser(r.storage.pool.QueryRow(ctx, query, chatID))
}

func (r *userRepository) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.ChatID, &u.Locale, &u.Admin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) UpdateLocale(ctx context.Context, id int64, locale string) error {
	const query = `UPDATE users SET locale=$2, updated_at=NOW() WHERE id=$1`
	tag, err := r.storage.pool.Exec(ctx, query, id, locale)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrNotFound
	}
	return nil
}

// --- CountryRepository implementation ---

func (r *countryRepository) Upsert(ctx context.Context, country *model.Country) (bool, error) {
	const query = `INSERT INTO countries (code, name, flag_emoji, available)
                   VALUES ($1, $2, $3, TRUE)
                   ON CONFLICT (code) DO UPDATE
                   SET name = EXCLUDED.name,
                       flag_emoji = EXCLUDED.flag_emoji,
                       available = TRUE,
                       updated_at = NOW()
                   RETURNING id, created_at, updated_at, (xmax = 0)`
	var created bool
	err := r.storage.pool.QueryRow(ctx, query, country.Code, country.Name, country.FlagEmoji).
		Scan(&country.ID, &country.CreatedAt, &country.UpdatedAt, &created)
	if err != nil {
		return false, err
	}
	country.Available = true
	return created, nil
}

func (r *countryRepository) GetByCode(ctx context.Context, code string) (*model.Country, error) {
	const query = `SELECT id, code, name, flag_emoji, available, created_at, updated_at
                   FROM countries WHERE code=$1`
	var c model.Country
	err := r.storage.pool.QueryRow(ctx, query, code).
		Scan(&c.ID, &c.Code, &c.Name, &c.FlagEmoji, &c.Available, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *countryRepository) List(ctx context.Context, availableOnly bool) ([]model.Country, error) {
	query := `SELECT id, code, name, flag_emoji, available, created_at, updated_at FROM countries`
	if availableOnly {
		query += ` WHERE available`
	}
	query += ` ORDER BY name`

	rows, err := r.storage.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Country
	for rows.Next() {
		var c model.Country
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.FlagEmoji, &c.Available, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// WithinTransaction executes function inside transaction boundary.
func (s *Storage) WithinTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}

// HealthCheck verifies database connectivity.
func (s *Storage) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// Logger returns storage logger.
func (s *Storage) Logger() *slog.Logger {
	return s.logger
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
