package main

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB is the credential store: user records looked up by id, email, or reset
// token. All calls take a context because adapters may sit on a network.
type DB interface {
	Init() error
	CreateUser(ctx context.Context, id, email, username, passwordHash string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	UpdateUsername(ctx context.Context, id, username string) (*User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
	SetResetToken(ctx context.Context, userID, token string, expires time.Time) error
	GetUserByResetToken(ctx context.Context, token string) (*User, error)
	ClearResetToken(ctx context.Context, userID string) error
	PurgeExpiredResetTokens(ctx context.Context) (int64, error)
}

// Memory DB
type MemDB struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]*User
	byName  map[string]*User
}

func NewMemoryDB() *MemDB {
	return &MemDB{byID: map[string]*User{}, byEmail: map[string]*User{}, byName: map[string]*User{}}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(_ context.Context, id, email, username, passwordHash string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[email]; ok {
		return nil, ErrDuplicateEmail
	}
	if _, ok := m.byName[username]; ok {
		return nil, ErrDuplicateUsername
	}
	u := &User{ID: id, Email: email, Username: username, Password: passwordHash, CreatedAt: time.Now()}
	m.byID[id] = u
	m.byEmail[email] = u
	m.byName[username] = u
	return copyUser(u), nil
}

func (m *MemDB) GetUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.byEmail[email]; ok {
		return copyUser(u), nil
	}
	return nil, ErrNotFound
}

func (m *MemDB) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.byID[id]; ok {
		return copyUser(u), nil
	}
	return nil, ErrNotFound
}

func (m *MemDB) UpdateUsername(_ context.Context, id, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if other, taken := m.byName[username]; taken && other.ID != id {
		return nil, ErrDuplicateUsername
	}
	delete(m.byName, u.Username)
	u.Username = username
	m.byName[username] = u
	return copyUser(u), nil
}

func (m *MemDB) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Password = passwordHash
	return nil
}

func (m *MemDB) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	delete(m.byEmail, u.Email)
	delete(m.byName, u.Username)
	return nil
}

func (m *MemDB) SetResetToken(_ context.Context, userID, token string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrNotFound
	}
	u.ResetToken = token
	u.ResetExpires = &expires
	return nil
}

func (m *MemDB) GetUserByResetToken(_ context.Context, token string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if token == "" {
		return nil, ErrNotFound
	}
	for _, u := range m.byID {
		if u.ResetToken == token && u.ResetExpires != nil && u.ResetExpires.After(time.Now()) {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemDB) ClearResetToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrNotFound
	}
	u.ResetToken = ""
	u.ResetExpires = nil
	return nil
}

func (m *MemDB) PurgeExpiredResetTokens(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, u := range m.byID {
		if u.ResetToken != "" && u.ResetExpires != nil && u.ResetExpires.Before(now) {
			u.ResetToken = ""
			u.ResetExpires = nil
			n++
		}
	}
	return n, nil
}

func copyUser(u *User) *User {
	c := *u
	if u.ResetExpires != nil {
		t := *u.ResetExpires
		c.ResetExpires = &t
	}
	return &c
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		reset_token TEXT,
		reset_token_expires_at INTEGER,
		created_at TEXT DEFAULT (datetime('now'))
	);`)
	return err
}

// sqliteUniqueViolation maps a UNIQUE constraint error to the duplicate
// sentinel for the column involved. Letting the constraint decide keeps
// concurrent inserts from racing a separate existence check.
func sqliteUniqueViolation(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) || se.Code() != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return err
	}
	if strings.Contains(se.Error(), "users.username") {
		return ErrDuplicateUsername
	}
	return ErrDuplicateEmail
}

func (s *SQLiteDB) CreateUser(ctx context.Context, id, email, username, passwordHash string) (*User, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT INTO users(id,email,username,password) VALUES(?,?,?,?)`, id, email, username, passwordHash); err != nil {
		return nil, sqliteUniqueViolation(err)
	}
	return &User{ID: id, Email: email, Username: username, Password: passwordHash}, nil
}

func (s *SQLiteDB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var reset sql.NullString
	var resetExp sql.NullInt64
	var created string
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.Password, &reset, &resetExp, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if reset.Valid {
		u.ResetToken = reset.String
	}
	if resetExp.Valid {
		t := time.Unix(resetExp.Int64, 0)
		u.ResetExpires = &t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", created); err == nil {
		u.CreatedAt = t
	}
	return &u, nil
}

const sqliteUserCols = `id,email,username,password,reset_token,reset_token_expires_at,created_at`

func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+sqliteUserCols+` FROM users WHERE email = ?`, email))
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `SELECT `+sqliteUserCols+` FROM users WHERE id = ?`, id))
}

func (s *SQLiteDB) UpdateUsername(ctx context.Context, id, username string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET username = ? WHERE id = ?`, username, id)
	if err != nil {
		return nil, sqliteUniqueViolation(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetUserByID(ctx, id)
}

func (s *SQLiteDB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) SetResetToken(ctx context.Context, userID, token string, expires time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET reset_token = ?, reset_token_expires_at = ? WHERE id = ?`, token, expires.Unix(), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) GetUserByResetToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteUserCols+` FROM users WHERE reset_token = ? AND reset_token_expires_at > ?`,
		token, time.Now().Unix()))
}

func (s *SQLiteDB) ClearResetToken(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET reset_token = NULL, reset_token_expires_at = NULL WHERE id = ?`, userID)
	return err
}

func (s *SQLiteDB) PurgeExpiredResetTokens(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET reset_token = NULL, reset_token_expires_at = NULL WHERE reset_token IS NOT NULL AND reset_token_expires_at < ?`,
		time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
