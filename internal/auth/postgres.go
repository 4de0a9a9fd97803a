package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"linkto.me/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}
func (s *PGStore) APIKeys(context.Context) APIKeyStore { return &apiKeyStore{db: s.db} }
func (s *PGStore) Management(context.Context) ManagementStore {
	return &managementStore{db: s.db}
}
func (s *PGStore) Memberships(context.Context) MembershipStore {
	return &membershipStore{db: s.db}
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	legacy, _ := json.Marshal(u.LegacyRoles)
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, username, password_hash, role, legacy_roles, status, tier, is_sub_account, is_manager)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.Role, legacy, u.Status, u.Tier, u.IsSubAccount, u.IsManager,
	)
	return err
}

const userColumns = `id, email, username, password_hash, role, legacy_roles, status, tier, is_sub_account, is_manager, created_at, updated_at`

func scanUser(row *sql.Row) (*User, error) {
	var (
		u      User
		legacy []byte
	)
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Role, &legacy,
		&u.Status, &u.Tier, &u.IsSubAccount, &u.IsManager, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(legacy, &u.LegacyRoles)
	return &u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(token, user_id, expires_at, created_at, valid)
		 values($1,$2,$3,$4,$5)`,
		tok.Token, tok.UserID, tok.ExpiresAt, tok.CreatedAt, tok.Valid,
	)
	return err
}

func (s *refreshTokenStore) Find(ctx context.Context, token string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select token, user_id, expires_at, created_at, valid from refresh_tokens where token=$1`,
		token,
	)
	var tok RefreshToken
	if err := row.Scan(&tok.Token, &tok.UserID, &tok.ExpiresAt, &tok.CreatedAt, &tok.Valid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *refreshTokenStore) Invalidate(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set valid=false where token=$1`, token)
	return err
}

func (s *refreshTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where valid=false or expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// API key store ------------------------------------------------------------

type apiKeyStore struct{ db *sql.DB }

func (s *apiKeyStore) Create(ctx context.Context, key *APIKey) error {
	perms, _ := json.Marshal(key.Permissions)
	_, err := s.db.ExecContext(ctx,
		`insert into api_keys(key_id, user_id, secret_hash, name, permissions, active, created_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		key.KeyID, key.UserID, key.SecretHash, key.Name, perms, key.Active, key.CreatedAt,
	)
	return err
}

const apiKeyColumns = `key_id, user_id, secret_hash, name, permissions, active, disabled_reason, created_at, last_used_at, last_used_ip`

func scanAPIKey(scan func(...any) error) (*APIKey, error) {
	var (
		key      APIKey
		perms    []byte
		reason   sql.NullString
		lastUsed sql.NullTime
		lastIP   sql.NullString
	)
	err := scan(&key.KeyID, &key.UserID, &key.SecretHash, &key.Name, &perms,
		&key.Active, &reason, &key.CreatedAt, &lastUsed, &lastIP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(perms, &key.Permissions)
	key.DisabledReason = reason.String
	if lastUsed.Valid {
		key.LastUsedAt = lastUsed.Time
	}
	key.LastUsedIP = lastIP.String
	return &key, nil
}

func (s *apiKeyStore) FindByKeyID(ctx context.Context, keyID string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+apiKeyColumns+` from api_keys where key_id=$1`, keyID)
	return scanAPIKey(row.Scan)
}

func (s *apiKeyStore) ListByOwner(ctx context.Context, userID string) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+apiKeyColumns+` from api_keys where user_id=$1 order by created_at asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, key)
	}
	return res, rows.Err()
}

func (s *apiKeyStore) Disable(ctx context.Context, keyID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`update api_keys set active=false, disabled_reason=$2 where key_id=$1`, keyID, reason)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *apiKeyStore) TouchUsage(ctx context.Context, keyID string, at time.Time, ip string) error {
	_, err := s.db.ExecContext(ctx,
		`update api_keys set last_used_at=$2, last_used_ip=$3 where key_id=$1`, keyID, at, ip)
	return err
}

// Management store ---------------------------------------------------------

type managementStore struct{ db *sql.DB }

func (s *managementStore) AcceptedForManager(ctx context.Context, managerUserID string) ([]ManagementEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`select manager_user_id, managed_user_id, role, state, created_at, updated_at
		 from management_edges where manager_user_id=$1 and state=$2`,
		managerUserID, EdgeStateAccepted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ManagementEdge
	for rows.Next() {
		var edge ManagementEdge
		if err := rows.Scan(&edge.ManagerUserID, &edge.ManagedUserID, &edge.Role,
			&edge.State, &edge.CreatedAt, &edge.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, edge)
	}
	return res, rows.Err()
}

// Membership store ---------------------------------------------------------

type membershipStore struct{ db *sql.DB }

func (s *membershipStore) ForUser(ctx context.Context, userID string) ([]CompanyMembership, error) {
	rows, err := s.db.QueryContext(ctx,
		`select company_id, user_id, role, permissions from company_memberships where user_id=$1`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []CompanyMembership
	for rows.Next() {
		var (
			m     CompanyMembership
			perms []byte
		)
		if err := rows.Scan(&m.CompanyID, &m.UserID, &m.Role, &perms); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(perms, &m.Permissions)
		res = append(res, m)
	}
	return res, rows.Err()
}
