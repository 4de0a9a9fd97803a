package profile

import (
	"context"
	"database/sql"
	"errors"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, userID string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`select user_id, display_name, bio, updated_at from profiles where user_id=$1`, userID)
	var p Profile
	if err := row.Scan(&p.UserID, &p.DisplayName, &p.Bio, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) Update(ctx context.Context, p *Profile) error {
	res, err := s.db.ExecContext(ctx,
		`update profiles set display_name=$2, bio=$3, updated_at=now() where user_id=$1`,
		p.UserID, p.DisplayName, p.Bio)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		_, err = s.db.ExecContext(ctx,
			`insert into profiles(user_id, display_name, bio) values($1,$2,$3)`,
			p.UserID, p.DisplayName, p.Bio)
	}
	return err
}

func (s *PGStore) Links(ctx context.Context, userID string) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, title, url, position, active, created_at
		 from links where user_id=$1 order by position asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.UserID, &l.Title, &l.URL, &l.Position, &l.Active, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
