package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/andrew12-circle/circle-marketplace/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied by the driver to every pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// NewSQLite opens a SQLite database at the given path with sqlitePragmas applied.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN appends the connection pragmas to dsn as _pragma parameters.
func sqliteDSN(dsn string) string {
	params := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		params[i] = "_pragma=" + p
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	verified     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS services (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	category            TEXT NOT NULL DEFAULT '',
	vendor_id           TEXT REFERENCES vendors(id),
	retail_price        TEXT NOT NULL DEFAULT '',
	discounted_price    TEXT NOT NULL DEFAULT '',
	co_pay_price        TEXT NOT NULL DEFAULT '',
	is_featured         INTEGER NOT NULL DEFAULT 0,
	allows_co_pay       INTEGER NOT NULL DEFAULT 0,
	is_sponsored        INTEGER NOT NULL DEFAULT 0,
	rating              REAL,
	research            TEXT NOT NULL DEFAULT '',
	research_updated_at DATETIME,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_services_vendor_id ON services(vendor_id);

CREATE TABLE IF NOT EXISTS profiles (
	user_id      TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	is_admin     INTEGER NOT NULL DEFAULT 0,
	specialties  TEXT NOT NULL DEFAULT '[]',
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS admin_allowlist (
	user_id    TEXT PRIMARY KEY,
	note       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

const sqliteCatalogSelect = `SELECT s.id, s.title, s.category, s.vendor_id, v.name, v.display_name, v.verified,
	s.retail_price, s.discounted_price, s.co_pay_price, s.is_featured, s.allows_co_pay,
	s.is_sponsored, s.rating, s.research, s.research_updated_at
FROM services s LEFT JOIN vendors v ON v.id = s.vendor_id`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListCatalogItems(ctx context.Context, opts ListOptions) ([]model.CatalogItem, error) {
	limit := -1
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	rows, err := s.db.QueryContext(ctx, sqliteCatalogSelect+` ORDER BY s.id LIMIT ? OFFSET ?`, limit, max(opts.Offset, 0))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list catalog items")
	}
	defer rows.Close() //nolint:errcheck

	var items []model.CatalogItem
	for rows.Next() {
		item, err := scanSQLiteCatalogItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog item")
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate catalog items")
}

func (s *SQLiteStore) GetCatalogItem(ctx context.Context, id string) (*model.CatalogItem, error) {
	row := s.db.QueryRowContext(ctx, sqliteCatalogSelect+` WHERE s.id = ?`, id)
	item, err := scanSQLiteCatalogItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get catalog item %s", id)
	}
	return &item, nil
}

func (s *SQLiteStore) SaveResearch(ctx context.Context, itemID, research string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE services SET research = ?, research_updated_at = ?, updated_at = ? WHERE id = ?`,
		research, now, now, itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save research %s", itemID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: save research %s", itemID)
	}
	return nil
}

const sqliteUpsertVendor = `INSERT INTO vendors (id, name, display_name, verified) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, display_name = excluded.display_name, verified = excluded.verified`

// sqliteEnsureVendor creates the vendor an item points at without touching an existing row.
const sqliteEnsureVendor = `INSERT INTO vendors (id, name, display_name, verified) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`

const sqliteUpsertService = `INSERT INTO services (id, title, category, vendor_id, retail_price, discounted_price,
	co_pay_price, is_featured, allows_co_pay, is_sponsored, rating, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
ON CONFLICT (id) DO UPDATE SET title = excluded.title, category = excluded.category,
	vendor_id = excluded.vendor_id, retail_price = excluded.retail_price,
	discounted_price = excluded.discounted_price, co_pay_price = excluded.co_pay_price,
	is_featured = excluded.is_featured, allows_co_pay = excluded.allows_co_pay,
	is_sponsored = excluded.is_sponsored, rating = excluded.rating, updated_at = datetime('now')`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertVendor(ctx context.Context, ex execer, v model.Vendor) error {
	_, err := ex.ExecContext(ctx, sqliteUpsertVendor, v.ID, v.Name, v.DisplayName, v.Verified)
	return eris.Wrapf(err, "sqlite: upsert vendor %s", v.ID)
}

func upsertService(ctx context.Context, ex execer, it model.CatalogItem) error {
	_, err := ex.ExecContext(ctx, sqliteUpsertService,
		it.ID, it.Title, it.Category, nullString(it.VendorID), it.RetailPrice, it.DiscountedPrice,
		it.CoPayPrice, it.IsFeatured, it.AllowsCoPay, it.IsSponsored, it.Rating,
	)
	return eris.Wrapf(err, "sqlite: upsert catalog item %s", it.ID)
}

func (s *SQLiteStore) UpsertVendor(ctx context.Context, v model.Vendor) error {
	return upsertVendor(ctx, s.db, v)
}

func (s *SQLiteStore) UpsertCatalogItem(ctx context.Context, item model.CatalogItem) error {
	if item.VendorID != "" {
		v := vendorForItem(item)
		if _, err := s.db.ExecContext(ctx, sqliteEnsureVendor, v.ID, v.Name, v.DisplayName, v.Verified); err != nil {
			return eris.Wrapf(err, "sqlite: ensure vendor %s", v.ID)
		}
	}
	return upsertService(ctx, s.db, item)
}

func (s *SQLiteStore) ImportCatalog(ctx context.Context, vendors []model.Vendor, items []model.CatalogItem) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, v := range vendors {
		if err := upsertVendor(ctx, tx, v); err != nil {
			return 0, err
		}
	}
	for _, it := range items {
		if err := upsertService(ctx, tx, it); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import: commit tx")
	}
	return int64(len(items)), nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	var specialties string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, display_name, email, is_admin, specialties FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.DisplayName, &p.Email, &p.IsAdmin, &specialties)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get profile %s", userID)
	}
	if err := json.Unmarshal([]byte(specialties), &p.Specialties); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode specialties for %s", userID)
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	specialties := p.Specialties
	if specialties == nil {
		specialties = []string{}
	}
	data, err := json.Marshal(specialties)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal specialties")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, display_name, email, is_admin, specialties, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (user_id) DO UPDATE SET display_name = excluded.display_name, email = excluded.email,
			is_admin = excluded.is_admin, specialties = excluded.specialties, updated_at = datetime('now')`,
		p.UserID, p.DisplayName, p.Email, p.IsAdmin, string(data),
	)
	return eris.Wrapf(err, "sqlite: upsert profile %s", p.UserID)
}

func (s *SQLiteStore) IsAllowlisted(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM admin_allowlist WHERE user_id = ?)`, userID,
	).Scan(&ok)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check allowlist %s", userID)
	}
	return ok, nil
}

func (s *SQLiteStore) AddToAllowlist(ctx context.Context, userID, note string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admin_allowlist (user_id, note) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET note = excluded.note`,
		userID, note,
	)
	return eris.Wrapf(err, "sqlite: add to allowlist %s", userID)
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteCatalogItem(row sqlScanner) (model.CatalogItem, error) {
	var item model.CatalogItem
	var vendorID, vendorName, vendorDisplay sql.NullString
	var vendorVerified sql.NullBool
	var rating sql.NullFloat64
	var researchAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.Title, &item.Category, &vendorID, &vendorName, &vendorDisplay, &vendorVerified,
		&item.RetailPrice, &item.DiscountedPrice, &item.CoPayPrice, &item.IsFeatured, &item.AllowsCoPay,
		&item.IsSponsored, &rating, &item.Research, &researchAt,
	)
	if err != nil {
		return item, err
	}
	item.VendorID = vendorID.String
	item.VendorName = vendorName.String
	item.VendorDisplayName = vendorDisplay.String
	item.VendorVerified = vendorVerified.Valid && vendorVerified.Bool
	if rating.Valid {
		r := rating.Float64
		item.Rating = &r
	}
	if researchAt.Valid {
		t := researchAt.Time
		item.ResearchUpdatedAt = &t
	}
	return item, nil
}
