// Package store persists DM pairing state in a local sqlite database.
package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// pairingTTL bounds how long an unapproved request stays outstanding; after
// expiry a new message from the sender creates a fresh request.
const pairingTTL = 24 * time.Hour

// codeCharset avoids visually ambiguous characters.
const codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 6

// ErrCodeNotFound is returned by Approve for an unknown or already-approved
// code.
var ErrCodeNotFound = errors.New("pairing code not found")

// Pairing is one sender's pairing record.
type Pairing struct {
	AccountID  string
	UserID     string
	Code       string
	Approved   bool
	CreatedAt  time.Time
	ApprovedAt *time.Time
}

// PairingStore is the sqlite-backed pairing state.
type PairingStore struct {
	db  *sql.DB
	now func() time.Time
}

const pairingSchema = `
CREATE TABLE IF NOT EXISTS pairings (
	account_id  TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	code        TEXT NOT NULL,
	approved    INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	approved_at INTEGER,
	PRIMARY KEY (account_id, user_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pairings_code ON pairings(code);
`

// Open opens (creating if needed) the pairing database at path.
func Open(path string) (*PairingStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create pairing db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pairing db: %w", err)
	}
	// sqlite handles one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(pairingSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init pairing schema: %w", err)
	}
	return &PairingStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *PairingStore) Close() error { return s.db.Close() }

// IsPaired reports whether the sender has an approved pairing.
func (s *PairingStore) IsPaired(ctx context.Context, accountID, userID string) (bool, error) {
	var approved bool
	err := s.db.QueryRowContext(ctx,
		`SELECT approved FROM pairings WHERE account_id = ? AND user_id = ?`,
		accountID, userID).Scan(&approved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pairing lookup: %w", err)
	}
	return approved, nil
}

// RequestPairing creates a pairing request for the sender unless an
// unexpired one is already outstanding. Returns the code and whether a new
// request was created.
func (s *PairingStore) RequestPairing(ctx context.Context, accountID, userID string) (string, bool, error) {
	now := s.now()

	var approved bool
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT approved, created_at FROM pairings WHERE account_id = ? AND user_id = ?`,
		accountID, userID).Scan(&approved, &createdAt)
	switch {
	case err == nil:
		if approved {
			return "", false, nil
		}
		if now.Sub(time.UnixMilli(createdAt)) < pairingTTL {
			// Outstanding request; do not re-trigger.
			return "", false, nil
		}
	case errors.Is(err, sql.ErrNoRows):
		// first request
	default:
		return "", false, fmt.Errorf("pairing lookup: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return "", false, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pairings (account_id, user_id, code, approved, created_at, approved_at)
		 VALUES (?, ?, ?, 0, ?, NULL)
		 ON CONFLICT(account_id, user_id) DO UPDATE SET
		   code = excluded.code, approved = 0, created_at = excluded.created_at, approved_at = NULL`,
		accountID, userID, code, now.UnixMilli())
	if err != nil {
		return "", false, fmt.Errorf("record pairing request: %w", err)
	}
	return code, true, nil
}

// HasPending reports whether the sender has an unapproved, unexpired
// request outstanding.
func (s *PairingStore) HasPending(ctx context.Context, accountID, userID string) (bool, error) {
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM pairings WHERE account_id = ? AND user_id = ? AND approved = 0`,
		accountID, userID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pairing lookup: %w", err)
	}
	return s.now().Sub(time.UnixMilli(createdAt)) < pairingTTL, nil
}

// Approve marks the request carrying code as approved and returns the
// record. Unknown or already-approved codes return ErrCodeNotFound.
func (s *PairingStore) Approve(ctx context.Context, code string) (Pairing, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pairings SET approved = 1, approved_at = ? WHERE code = ? AND approved = 0`,
		now.UnixMilli(), code)
	if err != nil {
		return Pairing{}, fmt.Errorf("approve pairing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Pairing{}, err
	}
	if n == 0 {
		return Pairing{}, ErrCodeNotFound
	}

	var p Pairing
	var createdAt int64
	var approvedAt sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT account_id, user_id, code, approved, created_at, approved_at FROM pairings WHERE code = ?`,
		code).Scan(&p.AccountID, &p.UserID, &p.Code, &p.Approved, &createdAt, &approvedAt)
	if err != nil {
		return Pairing{}, fmt.Errorf("read pairing: %w", err)
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	if approvedAt.Valid {
		t := time.UnixMilli(approvedAt.Int64)
		p.ApprovedAt = &t
	}
	return p, nil
}

// Revoke deletes the sender's pairing record, approved or not.
func (s *PairingStore) Revoke(ctx context.Context, accountID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pairings WHERE account_id = ? AND user_id = ?`, accountID, userID)
	if err != nil {
		return fmt.Errorf("revoke pairing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no pairing for user %s on account %s", userID, accountID)
	}
	return nil
}

// List returns the account's pairing records, newest first. An empty
// accountID lists all accounts.
func (s *PairingStore) List(ctx context.Context, accountID string) ([]Pairing, error) {
	query := `SELECT account_id, user_id, code, approved, created_at, approved_at FROM pairings`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pairings: %w", err)
	}
	defer rows.Close()

	var out []Pairing
	for rows.Next() {
		var p Pairing
		var createdAt int64
		var approvedAt sql.NullInt64
		if err := rows.Scan(&p.AccountID, &p.UserID, &p.Code, &p.Approved, &createdAt, &approvedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = time.UnixMilli(createdAt)
		if approvedAt.Valid {
			t := time.UnixMilli(approvedAt.Int64)
			p.ApprovedAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeCharset[int(b)%len(codeCharset)]
	}
	return string(buf), nil
}
