package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yim1990/alpha-ai/internal/model"
)

// CreateAccount inserts a new account. A zero ID is assigned.
func (s *Store) CreateAccount(a *model.Account) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.HealthStatus == "" {
		a.HealthStatus = model.HealthInactive
	}

	_, err := s.db.Exec(`
		INSERT INTO accounts (id, nickname, broker, market, enabled, health_status, last_heartbeat, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.Nickname, a.Broker, a.Market, a.Enabled, string(a.HealthStatus), a.LastHeartbeat, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create account: %w", err)
	}
	return nil
}

// GetAccount fetches one account by id.
func (s *Store) GetAccount(id uuid.UUID) (*model.Account, error) {
	row := s.db.QueryRow(`
		SELECT id, nickname, broker, market, enabled, health_status, last_heartbeat, created_at, updated_at
		FROM accounts WHERE id = ?`, id.String())
	return scanAccount(row)
}

// ListAccounts returns all accounts.
func (s *Store) ListAccounts() ([]model.Account, error) {
	return s.queryAccounts(`
		SELECT id, nickname, broker, market, enabled, health_status, last_heartbeat, created_at, updated_at
		FROM accounts ORDER BY created_at`)
}

// ListEnabledAccounts returns accounts that should have a running worker.
func (s *Store) ListEnabledAccounts() ([]model.Account, error) {
	return s.queryAccounts(`
		SELECT id, nickname, broker, market, enabled, health_status, last_heartbeat, created_at, updated_at
		FROM accounts WHERE enabled = 1 ORDER BY created_at`)
}

// SetAccountEnabled flips the enabled flag.
func (s *Store) SetAccountEnabled(id uuid.UUID, enabled bool) error {
	_, err := s.db.Exec(`UPDATE accounts SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id.String())
	return err
}

// SetAccountHealth updates the health status.
func (s *Store) SetAccountHealth(id uuid.UUID, status model.HealthStatus) error {
	_, err := s.db.Exec(`UPDATE accounts SET health_status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id.String())
	return err
}

// Heartbeat records that the account's worker completed a cycle.
func (s *Store) Heartbeat(id uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(`UPDATE accounts SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id.String())
	return err
}

func (s *Store) queryAccounts(query string, args ...any) ([]model.Account, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountFrom(sc rowScanner) (*model.Account, error) {
	var (
		a      model.Account
		id     string
		health string
		hb     sql.NullTime
	)
	err := sc.Scan(&id, &a.Nickname, &a.Broker, &a.Market, &a.Enabled, &health, &hb, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("store: parse account id: %w", err)
	}
	a.HealthStatus = model.HealthStatus(health)
	if hb.Valid {
		t := hb.Time
		a.LastHeartbeat = &t
	}
	return &a, nil
}

func scanAccount(row *sql.Row) (*model.Account, error)       { return scanAccountFrom(row) }
func scanAccountRows(rows *sql.Rows) (*model.Account, error) { return scanAccountFrom(rows) }

// SaveCredential inserts the encrypted credentials for an account.
func (s *Store) SaveCredential(c *model.Credential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO credentials (id, account_id, app_key_encrypted, app_secret_encrypted, account_no_encrypted, sandbox, token_encrypted, token_expire_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.AccountID.String(), c.AppKeyEncrypted, c.AppSecretEncrypted, c.AccountNoEncrypted,
		c.Sandbox, c.TokenEncrypted, c.TokenExpireAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}
	return nil
}

// GetCredential fetches the credentials for an account.
func (s *Store) GetCredential(accountID uuid.UUID) (*model.Credential, error) {
	var (
		c        model.Credential
		id, acct string
		expireAt sql.NullTime
	)
	err := s.db.QueryRow(`
		SELECT id, account_id, app_key_encrypted, app_secret_encrypted, account_no_encrypted, sandbox, token_encrypted, token_expire_at, created_at, updated_at
		FROM credentials WHERE account_id = ?`, accountID.String()).
		Scan(&id, &acct, &c.AppKeyEncrypted, &c.AppSecretEncrypted, &c.AccountNoEncrypted,
			&c.Sandbox, &c.TokenEncrypted, &expireAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("store: parse credential id: %w", err)
	}
	if c.AccountID, err = uuid.Parse(acct); err != nil {
		return nil, fmt.Errorf("store: parse credential account id: %w", err)
	}
	if expireAt.Valid {
		t := expireAt.Time
		c.TokenExpireAt = &t
	}
	return &c, nil
}

// UpdateToken persists a freshly issued token in one statement, so the
// previous token remains stored until the new one is durable.
func (s *Store) UpdateToken(accountID uuid.UUID, tokenEncrypted string, expireAt time.Time) error {
	res, err := s.db.Exec(`
		UPDATE credentials SET token_encrypted = ?, token_expire_at = ?, updated_at = ?
		WHERE account_id = ?`,
		tokenEncrypted, expireAt.UTC(), time.Now().UTC(), accountID.String())
	if err != nil {
		return fmt.Errorf("store: update token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearToken removes the stored token, used after revocation.
func (s *Store) ClearToken(accountID uuid.UUID) error {
	_, err := s.db.Exec(`
		UPDATE credentials SET token_encrypted = '', token_expire_at = NULL, updated_at = ?
		WHERE account_id = ?`,
		time.Now().UTC(), accountID.String())
	return err
}
