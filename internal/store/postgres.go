package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/licensegate/pkg/models"
)

const licenseColumns = `license_key, owner, email, status, reason, max_servers, expires_at, last_check, created_at`

const bindingColumns = `license_key, server_id, server_ip, server_port, plugin_version, minecraft_version,
	online_players, max_players, first_seen, last_seen`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Licenses ---

func (s *PostgresStore) CreateLicense(ctx context.Context, lic *models.License) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO licenses (`+licenseColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lic.Key, lic.Owner, lic.Email, string(lic.Status), lic.Reason, lic.MaxServers,
		lic.ExpiresAt, lic.LastCheck, lic.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLicense(ctx context.Context, key string) (*models.License, error) {
	lic, err := scanLicense(s.pool.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	return lic, nil
}

func (s *PostgresStore) ListLicenses(ctx context.Context, activeSince time.Time) ([]*models.LicenseSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.license_key, l.owner, l.email, l.status, l.reason, l.max_servers,
		        l.expires_at, l.last_check, l.created_at,
		        COUNT(s.server_id) FILTER (WHERE s.last_seen >= $1) AS active_servers
		 FROM licenses l
		 LEFT JOIN license_servers s ON s.license_key = l.license_key
		 GROUP BY l.license_key
		 ORDER BY l.created_at DESC`, activeSince)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	summaries := []*models.LicenseSummary{}
	for rows.Next() {
		var sum models.LicenseSummary
		var status string
		if err := rows.Scan(&sum.Key, &sum.Owner, &sum.Email, &status, &sum.Reason, &sum.MaxServers,
			&sum.ExpiresAt, &sum.LastCheck, &sum.CreatedAt, &sum.ActiveServers); err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		sum.Status = models.LicenseStatus(status)
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) DeleteLicense(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM licenses WHERE license_key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LockLicense(ctx context.Context, key string, fn func(tx LicenseTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin license tx: %w", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	lic, err := scanLicense(tx.QueryRow(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = $1 FOR UPDATE`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock license: %w", err)
	}

	if err := fn(&pgLicenseTx{tx: tx, lic: lic}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit license tx: %w", err)
	}
	return nil
}

// --- Server bindings ---

func (s *PostgresStore) ListBindings(ctx context.Context, key string) ([]*models.ServerBinding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bindingColumns+` FROM license_servers WHERE license_key = $1 ORDER BY last_seen DESC`, key)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	bindings := []*models.ServerBinding{}
	for rows.Next() {
		var b models.ServerBinding
		if err := rows.Scan(&b.LicenseKey, &b.ServerID, &b.ServerIP, &b.ServerPort, &b.PluginVersion,
			&b.MinecraftVersion, &b.OnlinePlayers, &b.MaxPlayers, &b.FirstSeen, &b.LastSeen); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, &b)
	}
	return bindings, rows.Err()
}

// --- Action logs ---

func (s *PostgresStore) AppendLog(ctx context.Context, entry *models.ActionLog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO license_logs (id, license_key, action, details, timestamp)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.LicenseKey, entry.Action, entry.Details, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("append license log: %w", err)
	}
	return nil
}

// --- Locked license transaction ---

type pgLicenseTx struct {
	tx  pgx.Tx
	lic *models.License
}

func (t *pgLicenseTx) License() *models.License { return t.lic }

func (t *pgLicenseTx) SetStatus(ctx context.Context, status models.LicenseStatus, reason *string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE licenses SET status = $2, reason = $3 WHERE license_key = $1`,
		t.lic.Key, string(status), reason)
	if err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	t.lic.Status = status
	t.lic.Reason = reason
	return nil
}

func (t *pgLicenseTx) TouchLastCheck(ctx context.Context, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE licenses SET last_check = $2 WHERE license_key = $1`, t.lic.Key, at)
	if err != nil {
		return fmt.Errorf("update last check: %w", err)
	}
	t.lic.LastCheck = &at
	return nil
}

func (t *pgLicenseTx) CountBindings(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM license_servers WHERE license_key = $1`, t.lic.Key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bindings: %w", err)
	}
	return n, nil
}

func (t *pgLicenseTx) HasBinding(ctx context.Context, serverID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM license_servers WHERE license_key = $1 AND server_id = $2)`,
		t.lic.Key, serverID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check binding: %w", err)
	}
	return exists, nil
}

func (t *pgLicenseTx) UpsertBinding(ctx context.Context, b *models.ServerBinding) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO license_servers (`+bindingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (license_key, server_id) DO UPDATE SET
		   server_ip = EXCLUDED.server_ip,
		   server_port = EXCLUDED.server_port,
		   plugin_version = EXCLUDED.plugin_version,
		   minecraft_version = EXCLUDED.minecraft_version,
		   online_players = EXCLUDED.online_players,
		   max_players = EXCLUDED.max_players,
		   last_seen = EXCLUDED.last_seen`,
		t.lic.Key, b.ServerID, b.ServerIP, b.ServerPort, b.PluginVersion, b.MinecraftVersion,
		b.OnlinePlayers, b.MaxPlayers, b.FirstSeen, b.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

func scanLicense(row pgx.Row) (*models.License, error) {
	var lic models.License
	var status string
	if err := row.Scan(&lic.Key, &lic.Owner, &lic.Email, &status, &lic.Reason, &lic.MaxServers,
		&lic.ExpiresAt, &lic.LastCheck, &lic.CreatedAt); err != nil {
		return nil, err
	}
	lic.Status = models.LicenseStatus(status)
	return &lic, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
