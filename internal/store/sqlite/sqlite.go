package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentpay/tagbook/internal/model"
	"github.com/agentpay/tagbook/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema
	`
CREATE TABLE IF NOT EXISTS tags (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	wallet_address TEXT NOT NULL DEFAULT '',
	credential_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tags_username ON tags(username);

CREATE TABLE IF NOT EXISTS receipts (
	id TEXT PRIMARY KEY,
	signature TEXT NOT NULL,
	memo TEXT NOT NULL,
	from_tag_id TEXT NOT NULL,
	to_tag_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(from_tag_id) REFERENCES tags(id),
	FOREIGN KEY(to_tag_id) REFERENCES tags(id)
);
CREATE INDEX IF NOT EXISTS idx_receipts_from ON receipts(from_tag_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_receipts_to ON receipts(to_tag_id, created_at DESC, id DESC);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) CreateTag(ctx context.Context, tag *model.Tag) error {
	if tag.ID == "" {
		tag.ID = uuid.NewString()
	}
	if tag.CreatedAt.IsZero() {
		tag.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tags (id, username, wallet_address, credential_hash, created_at)
VALUES (?, ?, ?, ?, ?)
`, tag.ID, tag.Username, tag.WalletAddress, tag.CredentialHash, tag.CreatedAt.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateUsername
		}
		return err
	}
	return nil
}

func (s *Store) GetTagByID(ctx context.Context, id string) (model.Tag, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, wallet_address, credential_hash, created_at
FROM tags
WHERE id = ?
`, id)
	return scanTag(row)
}

func (s *Store) GetTagByUsername(ctx context.Context, username string) (model.Tag, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, wallet_address, credential_hash, created_at
FROM tags
WHERE username = ?
`, username)
	return scanTag(row)
}

func (s *Store) UpdateWalletAddress(ctx context.Context, tagID, walletAddress string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tags SET wallet_address = ? WHERE id = ?`, walletAddress, tagID)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCredentials(ctx context.Context) ([]model.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, credential_hash FROM tags`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		var c model.Credential
		if err := rows.Scan(&c.TagID, &c.Hash); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *Store) CreateReceipt(ctx context.Context, receipt *model.Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.NewString()
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO receipts (id, signature, memo, from_tag_id, to_tag_id, amount, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, receipt.ID, receipt.Signature, receipt.Memo, receipt.FromTagID, receipt.ToTagID, receipt.Amount.String(), receipt.CreatedAt.UnixNano())
	return err
}

func (s *Store) GetReceipt(ctx context.Context, id string) (model.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT r.id, r.signature, r.memo, r.from_tag_id, r.to_tag_id, f.username, t.username, r.amount, r.created_at
FROM receipts r
JOIN tags f ON f.id = r.from_tag_id
JOIN tags t ON t.id = r.to_tag_id
WHERE r.id = ?
`, id)
	return scanReceipt(row)
}

func (s *Store) ListReceiptsByTag(ctx context.Context, tagID string, opts store.ReceiptListOpts) ([]model.Receipt, string, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 20
	}
	limit = clamp(limit, 1, 100)

	var rows *sql.Rows
	var err error
	if opts.Cursor != "" {
		// The cursor must be a receipt the caller is a party to, otherwise a
		// probe could confirm a foreign receipt id exists.
		var cursorCreated int64
		var cursorID string
		row := s.db.QueryRowContext(ctx, `
SELECT created_at, id FROM receipts
WHERE id = ? AND (from_tag_id = ? OR to_tag_id = ?)
`, opts.Cursor, tagID, tagID)
		if err := row.Scan(&cursorCreated, &cursorID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, "", store.ErrInvalidCursor
			}
			return nil, "", err
		}
		rows, err = s.db.QueryContext(ctx, `
SELECT r.id, r.signature, r.memo, r.from_tag_id, r.to_tag_id, f.username, t.username, r.amount, r.created_at
FROM receipts r
JOIN tags f ON f.id = r.from_tag_id
JOIN tags t ON t.id = r.to_tag_id
WHERE (r.from_tag_id = ? OR r.to_tag_id = ?)
  AND (r.created_at < ? OR (r.created_at = ? AND r.id < ?))
ORDER BY r.created_at DESC, r.id DESC
LIMIT ?
`, tagID, tagID, cursorCreated, cursorCreated, cursorID, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `
SELECT r.id, r.signature, r.memo, r.from_tag_id, r.to_tag_id, f.username, t.username, r.amount, r.created_at
FROM receipts r
JOIN tags f ON f.id = r.from_tag_id
JOIN tags t ON t.id = r.to_tag_id
WHERE (r.from_tag_id = ? OR r.to_tag_id = ?)
ORDER BY r.created_at DESC, r.id DESC
LIMIT ?
`, tagID, tagID, limit+1)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var receipts []model.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, "", err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(receipts) > limit {
		receipts = receipts[:limit]
		nextCursor = receipts[limit-1].ID
	}
	return receipts, nextCursor, nil
}

func scanTag(scanner interface{ Scan(dest ...any) error }) (model.Tag, error) {
	var t model.Tag
	var created int64
	if err := scanner.Scan(&t.ID, &t.Username, &t.WalletAddress, &t.CredentialHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Tag{}, store.ErrNotFound
		}
		return model.Tag{}, err
	}
	t.CreatedAt = time.Unix(0, created)
	return t, nil
}

func scanReceipt(scanner interface{ Scan(dest ...any) error }) (model.Receipt, error) {
	var r model.Receipt
	var amount string
	var created int64
	if err := scanner.Scan(&r.ID, &r.Signature, &r.Memo, &r.FromTagID, &r.ToTagID, &r.FromUsername, &r.ToUsername, &amount, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Receipt{}, store.ErrNotFound
		}
		return model.Receipt{}, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return model.Receipt{}, fmt.Errorf("stored amount %q: %w", amount, err)
	}
	r.Amount = parsed
	r.CreatedAt = time.Unix(0, created)
	return r, nil
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
