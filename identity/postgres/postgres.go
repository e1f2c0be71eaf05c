// Package postgres reads care assignments, consents and role bindings from
// the identity database through database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/MrEthical07/clinicguard/permission"
)

// ErrUnavailable wraps driver and connection failures.
var ErrUnavailable = errors.New("identity database unavailable")

const (
	queryAssignment = `select exists(
		select 1 from care_assignments
		where tenant_id = $1 and professional_id = $2 and subject_id = $3
		  and starts_at <= $4 and (ends_at is null or ends_at > $4))`

	queryConsent = `select granted, granted_at, expires_at, withdrawn_at
		from consents
		where tenant_id = $1 and subject_id = $2 and purpose = $3
		order by granted_at desc
		limit 1`

	queryConsents = `select distinct on (purpose) purpose, granted, granted_at, expires_at, withdrawn_at
		from consents
		where tenant_id = $1 and subject_id = $2
		order by purpose, granted_at desc`

	queryPrincipal = `select role from principals where tenant_id = $1 and id = $2 and active`

	queryPermissions = `select action from principal_permissions where tenant_id = $1 and principal_id = $2`

	insertConsent = `insert into consents(tenant_id, subject_id, purpose, granted, granted_at, expires_at)
		values ($1, $2, $3, true, $4, $5)`

	withdrawConsent = `update consents set withdrawn_at = $4
		where tenant_id = $1 and subject_id = $2 and purpose = $3 and withdrawn_at is null`
)

// Store implements the permission collaborators over one *sql.DB.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ permission.AssignmentSource = (*Store)(nil)
	_ permission.ConsentSource    = (*Store)(nil)
	_ permission.BindingSource    = (*Store)(nil)
)

// Open connects with the pgx driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock overrides time.Now for assignment windows and consent
// timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error { return s.db.Close() }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) ActiveAssignment(ctx context.Context, tenantID, professionalID, subjectID string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, queryAssignment, tenantID, professionalID, subjectID, s.now().UTC()).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return active, nil
}

func (s *Store) Consent(ctx context.Context, tenantID, subjectID string, purpose permission.Purpose) (permission.Consent, bool, error) {
	c, err := scanConsent(s.db.QueryRowContext(ctx, queryConsent, tenantID, subjectID, string(purpose)))
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Consent{}, false, nil
	}
	if err != nil {
		return permission.Consent{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.Purpose = purpose
	return c, true, nil
}

// Binding loads role, explicit permissions and the latest consent per
// purpose. Inactive or missing principals are reported as
// [permission.ErrUnknownPrincipal].
func (s *Store) Binding(ctx context.Context, tenantID, principalID string) (permission.Principal, error) {
	var roleName string
	err := s.db.QueryRowContext(ctx, queryPrincipal, tenantID, principalID).Scan(&roleName)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Principal{}, fmt.Errorf("%w: %s", permission.ErrUnknownPrincipal, principalID)
	}
	if err != nil {
		return permission.Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	role, err := permission.ParseRole(roleName)
	if err != nil {
		return permission.Principal{}, err
	}
	p := permission.Principal{ID: principalID, Role: role, TenantID: tenantID}

	rows, err := s.db.QueryContext(ctx, queryPermissions, tenantID, principalID)
	if err != nil {
		return permission.Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			rows.Close()
			return permission.Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		p.ExplicitPermissions = append(p.ExplicitPermissions, permission.Action(action))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return permission.Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	crows, err := s.db.QueryContext(ctx, queryConsents, tenantID, principalID)
	if err != nil {
		return permission.Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer crows.Close()
	for crows.Next() {
		var purpose string
		c, err := scanConsent(crows, &purpose)
		if err != nil {
			return permission.Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		c.Purpose = permission.Purpose(purpose)
		if p.Consents == nil {
			p.Consents = make(map[permission.Purpose]permission.Consent)
		}
		p.Consents[c.Purpose] = c
	}
	if err := crows.Err(); err != nil {
		return permission.Principal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p, nil
}

// RecordConsent inserts a new grant. ttl zero never expires.
func (s *Store) RecordConsent(ctx context.Context, tenantID, subjectID string, purpose permission.Purpose, ttl time.Duration) error {
	now := s.now().UTC()
	var expires sql.NullTime
	if ttl > 0 {
		expires = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, insertConsent, tenantID, subjectID, string(purpose), now, expires); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// WithdrawConsent withdraws every open grant for purpose and reports
// whether any existed.
func (s *Store) WithdrawConsent(ctx context.Context, tenantID, subjectID string, purpose permission.Purpose) (bool, error) {
	res, err := s.db.ExecContext(ctx, withdrawConsent, tenantID, subjectID, string(purpose), s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanConsent reads (granted, granted_at, expires_at, withdrawn_at),
// optionally preceded by lead columns.
func scanConsent(row scanner, lead ...any) (permission.Consent, error) {
	var (
		c                  permission.Consent
		expires, withdrawn sql.NullTime
	)
	dest := append(lead, &c.Granted, &c.GrantedAt, &expires, &withdrawn)
	if err := row.Scan(dest...); err != nil {
		return permission.Consent{}, err
	}
	if expires.Valid {
		c.ExpiresAt = expires.Time
	}
	if withdrawn.Valid {
		c.WithdrawnAt = withdrawn.Time
	}
	return c, nil
}
