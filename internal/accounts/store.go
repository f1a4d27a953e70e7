// Package accounts stores users and their login sessions.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Store interface {
	// Create returns ErrUsernameTaken when the name is in use.
	Create(ctx context.Context, username, passwordHash string) (User, error)
	ByUsername(ctx context.Context, username string) (User, bool, error)
}

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sqlx.DB
}

// OpenPostgres connects with lib/pq and checks the connection.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, username, passwordHash string) (User, error) {
	const query = `
INSERT INTO users (username, password_hash)
VALUES ($1, $2)
RETURNING id, username, password_hash, created_at`

	var u User
	if err := s.db.GetContext(ctx, &u, query, username, passwordHash); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ByUsername(ctx context.Context, username string) (User, bool, error) {
	const query = `
SELECT id, username, password_hash, created_at
FROM users
WHERE lower(username) = lower($1)`

	var u User
	if err := s.db.GetContext(ctx, &u, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("get user: %w", err)
	}
	return u, true, nil
}

// Ping is used by the health endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// MemoryStore keeps users in process for single-process runs.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[string]User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User)}
}

func (s *MemoryStore) Create(_ context.Context, username, passwordHash string) (User, error) {
	key := strings.ToLower(username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[key]; ok {
		return User{}, ErrUsernameTaken
	}
	s.nextID++
	u := User{ID: s.nextID, Username: username, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	s.users[key] = u
	return u, nil
}

func (s *MemoryStore) ByUsername(_ context.Context, username string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(username)]
	return u, ok, nil
}
