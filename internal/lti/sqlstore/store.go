// Package sqlstore backs the LTI registries with database/sql, sharing the
// gateway's sqlite/postgres connection.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/eduflex/eduflex-go/internal/lti"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

// GetPlatform returns the registered platform for an issuer, or nil when the
// issuer is unknown.
func (s *Store) GetPlatform(ctx context.Context, issuer string) (*lti.Platform, error) {
	var p lti.Platform
	err := s.db.QueryRowContext(ctx, `
		SELECT issuer, client_id, auth_url, token_url, keyset_url, deployment_id, client_secret
		FROM lti_platforms WHERE issuer = $1`, issuer).
		Scan(&p.Issuer, &p.ClientID, &p.AuthURL, &p.TokenURL, &p.KeySetURL, &p.DeploymentID, &p.ClientSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertPlatform registers or updates a platform keyed by issuer.
func (s *Store) UpsertPlatform(ctx context.Context, p lti.Platform) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lti_platforms (issuer, client_id, auth_url, token_url, keyset_url, deployment_id, client_secret)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (issuer) DO UPDATE SET
		  client_id = EXCLUDED.client_id,
		  auth_url = EXCLUDED.auth_url,
		  token_url = EXCLUDED.token_url,
		  keyset_url = EXCLUDED.keyset_url,
		  deployment_id = EXCLUDED.deployment_id,
		  client_secret = EXCLUDED.client_secret`,
		p.Issuer, p.ClientID, p.AuthURL, p.TokenURL, p.KeySetURL, p.DeploymentID, p.ClientSecret)
	return err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*lti.LocalUser, error) {
	var u lti.LocalUser
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, role
		FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u lti.LocalUser, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Role, passwordHash, time.Now().Unix())
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]lti.LocalUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, first_name, last_name, role
		FROM users ORDER BY created_at DESC, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lti.LocalUser
	for rows.Next() {
		var u lti.LocalUser
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Role); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertLaunch records a launch context. One row lives per
// (platform_issuer, user_sub, resource_link_id); a repeat launch refreshes it.
func (s *Store) UpsertLaunch(ctx context.Context, l lti.LaunchContext) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lti_launches
		  (id, user_id, platform_issuer, user_sub, deployment_id, resource_link_id,
		   target_link_uri, course_id, lineitem_url, lineitems_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (platform_issuer, user_sub, resource_link_id) DO UPDATE SET
		  user_id = EXCLUDED.user_id,
		  deployment_id = EXCLUDED.deployment_id,
		  target_link_uri = EXCLUDED.target_link_uri,
		  course_id = EXCLUDED.course_id,
		  lineitem_url = EXCLUDED.lineitem_url,
		  lineitems_url = EXCLUDED.lineitems_url,
		  created_at = EXCLUDED.created_at`,
		l.ID, l.UserID, l.PlatformIssuer, l.Subject, l.DeploymentID, l.ResourceLinkID,
		l.TargetLinkURI, l.CourseID, l.LineItemURL, l.LineItemsURL, l.CreatedAt.Unix())
	return err
}

// ListLaunchesByUser returns the user's launches, newest first.
func (s *Store) ListLaunchesByUser(ctx context.Context, userID string) ([]lti.LaunchContext, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform_issuer, user_sub, deployment_id, resource_link_id,
		       target_link_uri, course_id, lineitem_url, lineitems_url, created_at
		FROM lti_launches WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lti.LaunchContext
	for rows.Next() {
		var l lti.LaunchContext
		var created int64
		if err := rows.Scan(&l.ID, &l.UserID, &l.PlatformIssuer, &l.Subject, &l.DeploymentID,
			&l.ResourceLinkID, &l.TargetLinkURI, &l.CourseID, &l.LineItemURL, &l.LineItemsURL, &created); err != nil {
			return nil, err
		}
		l.CreatedAt = time.Unix(created, 0)
		out = append(out, l)
	}
	return out, rows.Err()
}
