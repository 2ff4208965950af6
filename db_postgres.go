package main

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	return p.db.Ping()
}

// uniqueViolation maps a unique-constraint error to the duplicate sentinel
// for the column involved.
func uniqueViolation(err error) error {
	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code != "23505" {
		return err
	}
	if strings.Contains(pqErr.Constraint, "username") {
		return ErrDuplicateUsername
	}
	return ErrDuplicateEmail
}

func (p *PostgresDB) CreateUser(ctx context.Context, id, email, username, passwordHash string) (*User, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users(id,email,username,password,created_at) VALUES($1,$2,$3,$4,now())`,
		id, email, username, passwordHash)
	if err != nil {
		return nil, uniqueViolation(err)
	}
	return &User{ID: id, Email: email, Username: username, Password: passwordHash}, nil
}

const pgUserCols = `id,email,username,password,reset_token,reset_token_expires_at,created_at`

func (p *PostgresDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var reset sql.NullString
	var resetExp sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Password, &reset, &resetExp, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if reset.Valid {
		u.ResetToken = reset.String
	}
	if resetExp.Valid {
		t := resetExp.Time
		u.ResetExpires = &t
	}
	return &u, nil
}

func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `SELECT `+pgUserCols+` FROM users WHERE email = $1`, email))
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id string) (*User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `SELECT `+pgUserCols+` FROM users WHERE id = $1`, id))
}

func (p *PostgresDB) UpdateUsername(ctx context.Context, id, username string) (*User, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET username = $1 WHERE id = $2`, username, id)
	if err != nil {
		return nil, uniqueViolation(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return p.GetUserByID(ctx, id)
}

func (p *PostgresDB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET password = $1 WHERE id = $2`, passwordHash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDB) DeleteUser(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDB) SetResetToken(ctx context.Context, userID, token string, expires time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET reset_token = $1, reset_token_expires_at = $2 WHERE id = $3`,
		token, expires, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresDB) GetUserByResetToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return p.scanUser(p.db.QueryRowContext(ctx,
		`SELECT `+pgUserCols+` FROM users WHERE reset_token = $1 AND reset_token_expires_at > now()`, token))
}

func (p *PostgresDB) ClearResetToken(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET reset_token = NULL, reset_token_expires_at = NULL WHERE id = $1`, userID)
	return err
}

func (p *PostgresDB) PurgeExpiredResetTokens(ctx context.Context) (int64, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET reset_token = NULL, reset_token_expires_at = NULL WHERE reset_token IS NOT NULL AND reset_token_expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
