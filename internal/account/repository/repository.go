package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"progress/internal/account/model"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already in use")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return user, ErrNotFound
	}
	return user, err
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+userColumns+`
	`, user.Email, user.PasswordHash, user.FirstName, user.LastName, user.Role, now)

	created, err := scanUser(row)
	if isUniqueViolation(err) {
		return model.User{}, ErrDuplicateEmail
	}
	return created, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UserUpdate carries the partial-update fields; nil means keep current.
type UserUpdate struct {
	Email        *string
	PasswordHash *string
	FirstName    *string
	LastName     *string
}

func (s *Store) UpdateUser(ctx context.Context, id int64, update UserUpdate) (model.User, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET email = COALESCE($2, email),
		    password_hash = COALESCE($3, password_hash),
		    first_name = COALESCE($4, first_name),
		    last_name = COALESCE($5, last_name),
		    updated_at = $6
		WHERE id = $1
		RETURNING `+userColumns+`
	`, id, update.Email, update.PasswordHash, update.FirstName, update.LastName, time.Now().UTC())

	user, err := scanUser(row)
	if isUniqueViolation(err) {
		return model.User{}, ErrDuplicateEmail
	}
	return user, err
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
