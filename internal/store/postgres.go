package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/andrew12-circle/circle-marketplace/internal/config"
	"github.com/andrew12-circle/circle-marketplace/internal/db"
	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// preparedStatements are prepared on every new connection.
var preparedStatements = map[string]string{
	"list_catalog":   listCatalogSQL,
	"get_catalog":    getCatalogSQL,
	"save_research":  `UPDATE services SET research = $1, research_updated_at = $2, updated_at = $2 WHERE id = $3`,
	"get_profile":    `SELECT user_id, display_name, email, is_admin, specialties FROM profiles WHERE user_id = $1`,
	"is_allowlisted": `SELECT EXISTS (SELECT 1 FROM admin_allowlist WHERE user_id = $1)`,
}

const catalogColumns = `s.id, s.title, s.category, s.vendor_id, v.name, v.display_name, v.verified,
	s.retail_price, s.discounted_price, s.co_pay_price, s.is_featured, s.allows_co_pay,
	s.is_sponsored, s.rating, s.research, s.research_updated_at`

const listCatalogSQL = `SELECT ` + catalogColumns + `
FROM services s LEFT JOIN vendors v ON v.id = s.vendor_id
ORDER BY s.id LIMIT $1 OFFSET $2`

const getCatalogSQL = `SELECT ` + catalogColumns + `
FROM services s LEFT JOIN vendors v ON v.id = s.vendor_id
WHERE s.id = $1`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if cfg.MaxConns > 0 {
		pgxCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pgxCfg.MinConns = cfg.MinConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
					return nil
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	verified     BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS services (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	category            TEXT NOT NULL DEFAULT '',
	vendor_id           TEXT REFERENCES vendors(id),
	retail_price        TEXT NOT NULL DEFAULT '',
	discounted_price    TEXT NOT NULL DEFAULT '',
	co_pay_price        TEXT NOT NULL DEFAULT '',
	is_featured         BOOLEAN NOT NULL DEFAULT false,
	allows_co_pay       BOOLEAN NOT NULL DEFAULT false,
	is_sponsored        BOOLEAN NOT NULL DEFAULT false,
	rating              DOUBLE PRECISION,
	research            TEXT NOT NULL DEFAULT '',
	research_updated_at TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_services_vendor_id ON services(vendor_id);
CREATE INDEX IF NOT EXISTS idx_services_featured ON services(is_featured) WHERE is_featured;

CREATE TABLE IF NOT EXISTS profiles (
	user_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	is_admin     BOOLEAN NOT NULL DEFAULT false,
	specialties  TEXT[] NOT NULL DEFAULT '{}',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS admin_allowlist (
	user_id    TEXT PRIMARY KEY,
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ListCatalogItems(ctx context.Context, opts ListOptions) ([]model.CatalogItem, error) {
	var limit any
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.pool.Query(ctx, listCatalogSQL, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list catalog items")
	}
	defer rows.Close()

	var items []model.CatalogItem
	for rows.Next() {
		item, err := scanCatalogItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog item")
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate catalog items")
}

func (s *PostgresStore) GetCatalogItem(ctx context.Context, id string) (*model.CatalogItem, error) {
	item, err := scanCatalogItem(s.pool.QueryRow(ctx, getCatalogSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get catalog item %s", id)
	}
	return &item, nil
}

func (s *PostgresStore) SaveResearch(ctx context.Context, itemID, research string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE services SET research = $1, research_updated_at = $2, updated_at = $2 WHERE id = $3`,
		research, time.Now().UTC(), itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save research %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: save research %s", itemID)
	}
	return nil
}

func (s *PostgresStore) UpsertVendor(ctx context.Context, v model.Vendor) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vendors (id, name, display_name, verified) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, display_name = EXCLUDED.display_name, verified = EXCLUDED.verified`,
		v.ID, v.Name, v.DisplayName, v.Verified,
	)
	return eris.Wrapf(err, "postgres: upsert vendor %s", v.ID)
}

func (s *PostgresStore) UpsertCatalogItem(ctx context.Context, item model.CatalogItem) error {
	if item.VendorID != "" {
		v := vendorForItem(item)
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO vendors (id, name, display_name, verified) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			v.ID, v.Name, v.DisplayName, v.Verified,
		); err != nil {
			return eris.Wrapf(err, "postgres: ensure vendor %s", v.ID)
		}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO services (id, title, category, vendor_id, retail_price, discounted_price, co_pay_price,
			is_featured, allows_co_pay, is_sponsored, rating, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, category = EXCLUDED.category,
			vendor_id = EXCLUDED.vendor_id, retail_price = EXCLUDED.retail_price,
			discounted_price = EXCLUDED.discounted_price, co_pay_price = EXCLUDED.co_pay_price,
			is_featured = EXCLUDED.is_featured, allows_co_pay = EXCLUDED.allows_co_pay,
			is_sponsored = EXCLUDED.is_sponsored, rating = EXCLUDED.rating, updated_at = now()`,
		item.ID, item.Title, item.Category, nullString(item.VendorID), item.RetailPrice, item.DiscountedPrice,
		item.CoPayPrice, item.IsFeatured, item.AllowsCoPay, item.IsSponsored, item.Rating,
	)
	return eris.Wrapf(err, "postgres: upsert catalog item %s", item.ID)
}

var (
	vendorImportColumns  = []string{"id", "name", "display_name", "verified"}
	serviceImportColumns = []string{
		"id", "title", "category", "vendor_id", "retail_price", "discounted_price", "co_pay_price",
		"is_featured", "allows_co_pay", "is_sponsored", "rating",
	}
)

// ImportCatalog bulk upserts vendors, then items, in one transaction.
// Research already stored on existing items is left untouched.
func (s *PostgresStore) ImportCatalog(ctx context.Context, vendors []model.Vendor, items []model.CatalogItem) (int64, error) {
	vendorRows := make([][]any, 0, len(vendors))
	for _, v := range vendors {
		vendorRows = append(vendorRows, []any{v.ID, v.Name, v.DisplayName, v.Verified})
	}
	itemRows := make([][]any, 0, len(items))
	for _, it := range items {
		itemRows = append(itemRows, []any{
			it.ID, it.Title, it.Category, nullString(it.VendorID), it.RetailPrice, it.DiscountedPrice,
			it.CoPayPrice, it.IsFeatured, it.AllowsCoPay, it.IsSponsored, it.Rating,
		})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
		Table:        "vendors",
		Columns:      vendorImportColumns,
		ConflictKeys: []string{"id"},
	}, vendorRows); err != nil {
		return 0, eris.Wrap(err, "postgres: import vendors")
	}

	n, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
		Table:        "services",
		Columns:      serviceImportColumns,
		ConflictKeys: []string{"id"},
	}, itemRows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: import services")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: import: commit tx")
	}
	return n, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, display_name, email, is_admin, specialties FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Email, &p.IsAdmin, &p.Specialties)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get profile %s", userID)
	}
	return &p, nil
}

func (s *PostgresStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	specialties := p.Specialties
	if specialties == nil {
		specialties = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, display_name, email, is_admin, specialties, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id) DO UPDATE SET display_name = EXCLUDED.display_name, email = EXCLUDED.email,
			is_admin = EXCLUDED.is_admin, specialties = EXCLUDED.specialties, updated_at = now()`,
		p.UserID, p.DisplayName, p.Email, p.IsAdmin, specialties,
	)
	return eris.Wrapf(err, "postgres: upsert profile %s", p.UserID)
}

func (s *PostgresStore) IsAllowlisted(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM admin_allowlist WHERE user_id = $1)`, userID,
	).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check allowlist %s", userID)
	}
	return ok, nil
}

func (s *PostgresStore) AddToAllowlist(ctx context.Context, userID, note string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO admin_allowlist (user_id, note) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET note = EXCLUDED.note`,
		userID, note,
	)
	return eris.Wrapf(err, "postgres: add to allowlist %s", userID)
}

// scanCatalogItem reads one row in catalogColumns order.
func scanCatalogItem(row pgx.Row) (model.CatalogItem, error) {
	var item model.CatalogItem
	var vendorID, vendorName, vendorDisplay *string
	var vendorVerified *bool
	err := row.Scan(
		&item.ID, &item.Title, &item.Category, &vendorID, &vendorName, &vendorDisplay, &vendorVerified,
		&item.RetailPrice, &item.DiscountedPrice, &item.CoPayPrice, &item.IsFeatured, &item.AllowsCoPay,
		&item.IsSponsored, &item.Rating, &item.Research, &item.ResearchUpdatedAt,
	)
	if err != nil {
		return item, err
	}
	item.VendorID = deref(vendorID)
	item.VendorName = deref(vendorName)
	item.VendorDisplayName = deref(vendorDisplay)
	item.VendorVerified = vendorVerified != nil && *vendorVerified
	return item, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
