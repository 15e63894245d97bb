package user

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

const sessionDuration = 7 * 24 * time.Hour

// ErrNotFound is returned when no profile matches the lookup.
var ErrNotFound = errors.New("profile not found")

// Store provides database operations for profiles and sessions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new user store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const profileColumns = "id, email, password_hash, name, role, created_at"

// scanProfile scans a profile row.
func scanProfile(scan func(dest ...any) error) (*Profile, error) {
	p := &Profile{}
	err := scan(&p.ID, &p.Email, &p.PasswordHash, &p.Name, &p.Role, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a new profile with a bcrypt-hashed password.
func (s *Store) Create(ctx context.Context, in CreateProfileInput) (*Profile, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	role := in.Role
	if role == "" {
		role = RoleMember
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))

	p, err := scanProfile(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO user_profiles (email, password_hash, name, role)
			 VALUES ($1, $2, $3, $4)
			 RETURNING `+profileColumns,
			email, string(hash), in.Name, role,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	return p, nil
}

// GetByID retrieves a profile by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Profile, error) {
	p, err := scanProfile(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+profileColumns+` FROM user_profiles WHERE id = $1`, id,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile by id: %w", err)
	}
	return p, nil
}

// GetByEmail retrieves a profile by email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	p, err := scanProfile(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+profileColumns+` FROM user_profiles WHERE email = $1`,
			strings.ToLower(strings.TrimSpace(email)),
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile by email: %w", err)
	}
	return p, nil
}

// List returns all profiles ordered by created_at DESC.
func (s *Store) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM user_profiles ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Delete removes a profile by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM user_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	return nil
}

// CheckPassword verifies a plaintext password against the profile's stored hash.
func CheckPassword(p *Profile, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)) == nil
}

// CreateSession creates a new session for the given profile. It returns the
// opaque plaintext token (to be sent to the client) and the stored session.
func (s *Store) CreateSession(ctx context.Context, profileID string) (string, *Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, fmt.Errorf("generating session token: %w", err)
	}
	plaintext := hex.EncodeToString(b)
	tokenHash := hashToken(plaintext)

	now := time.Now()
	expiresAt := now.Add(sessionDuration)

	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (token_hash, profile_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING token_hash, profile_id, created_at, expires_at`,
		tokenHash, profileID, now, expiresAt,
	).Scan(&sess.TokenHash, &sess.ProfileID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return "", nil, fmt.Errorf("creating session: %w", err)
	}

	return plaintext, sess, nil
}

// GetSessionProfile looks up a session by its plaintext token and returns the
// associated profile. Expired sessions do not resolve.
func (s *Store) GetSessionProfile(ctx context.Context, plaintext string) (*Profile, error) {
	tokenHash := hashToken(plaintext)

	p, err := scanProfile(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT u.id, u.email, u.password_hash, u.name, u.role, u.created_at
			 FROM sessions s JOIN user_profiles u ON s.profile_id = u.id
			 WHERE s.token_hash = $1 AND s.expires_at > now()`,
			tokenHash,
		).Scan(dest...)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session profile: %w", err)
	}
	return p, nil
}

// DeleteSession removes a session by its plaintext token.
func (s *Store) DeleteSession(ctx context.Context, plaintext string) error {
	tokenHash := hashToken(plaintext)
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanExpiredSessions deletes all sessions that have expired.
func (s *Store) CleanExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("cleaning expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func hashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
