package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin       = "admin"
	RoleCoordinator = "coordenador"
	RoleTeacher     = "professor"
	RoleAssistant   = "assistente"
)

const MinPasswordLength = 6

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenExpired       = errors.New("token expired")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("too many requests")
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidRole        = errors.New("invalid role")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrSelfDelete         = errors.New("cannot delete your own account")
	ErrUserHasTeacher     = errors.New("user is linked to a teacher")
)

const guardScopeLogin = "password_login"

type Service struct {
	db                *sql.DB
	tokens            *TokenIssuer
	bcryptCost        int
	loginMaxFailures  int
	loginLockDuration time.Duration
}

type ServiceConfig struct {
	JWTSecret         string
	TokenTTL          time.Duration
	BcryptCost        int
	LoginMaxFailures  int
	LoginLockDuration time.Duration
}

type User struct {
	ID                 int64  `json:"id"`
	Username           string `json:"username"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"mustChangePassword"`
	TeacherID          *int64 `json:"teacherId,omitempty"`
}

type CreateUserInput struct {
	Username           string
	Password           string
	Role               string
	MustChangePassword bool
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.LoginMaxFailures <= 0 {
		cfg.LoginMaxFailures = 5
	}
	if cfg.LoginLockDuration <= 0 {
		cfg.LoginLockDuration = 15 * time.Minute
	}

	return &Service{
		db:                db,
		tokens:            NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		bcryptCost:        cfg.BcryptCost,
		loginMaxFailures:  cfg.LoginMaxFailures,
		loginLockDuration: cfg.LoginLockDuration,
	}
}

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleCoordinator, RoleTeacher, RoleAssistant:
		return true
	default:
		return false
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	guardKey := normalizeGuardKey(username)
	locked, _, err := s.isGuardLocked(ctx, guardScopeLogin, guardKey)
	if err != nil {
		return nil, fmt.Errorf("check login guard: %w", err)
	}
	if locked {
		return nil, ErrRateLimited
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.role, u.must_change_password, t.id, u.password_hash
		FROM users u
		LEFT JOIN teachers t ON t.user_id = u.id
		WHERE u.username = $1
		LIMIT 1
	`, username)

	var u User
	var teacherID sql.NullInt64
	var passwordHash string
	if err := row.Scan(&u.ID, &u.Username, &u.Role, &u.MustChangePassword, &teacherID, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			_ = s.registerFailure(ctx, guardScopeLogin, guardKey)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if teacherID.Valid {
		u.TeacherID = &teacherID.Int64
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		_ = s.registerFailure(ctx, guardScopeLogin, guardKey)
		return nil, ErrInvalidCredentials
	}

	_ = s.clearGuard(ctx, guardScopeLogin, guardKey)
	return &u, nil
}

func (s *Service) IssueToken(u *User) (*IssuedToken, error) {
	return s.tokens.Issue(u)
}

func (s *Service) TokenTTL() time.Duration {
	return s.tokens.TTL()
}

// Authenticate resolves a bearer token to its user. Revoked tokens and
// deleted users are rejected; the role is read from the database so role
// changes apply to tokens already issued.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (*User, *Claims, error) {
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return nil, nil, err
	}

	var revoked bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti = $1)
	`, claims.ID).Scan(&revoked); err != nil {
		return nil, nil, fmt.Errorf("check revoked token: %w", err)
	}
	if revoked {
		return nil, nil, ErrUnauthorized
	}

	userID, _ := claims.UserID()
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, err
	}
	return u, claims, nil
}

func (s *Service) RevokeToken(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" {
		return ErrUnauthorized
	}
	expiresAt := time.Now().Add(s.tokens.TTL())
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, claims.ID, expiresAt); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < now()`); err != nil {
		return fmt.Errorf("prune revoked tokens: %w", err)
	}
	return nil
}

func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.role, u.must_change_password, t.id
		FROM users u
		LEFT JOIN teachers t ON t.user_id = u.id
		WHERE u.id = $1
	`, userID))
}

func (s *Service) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return ErrPasswordMismatch
	}
	if len(strings.TrimSpace(newPassword)) < MinPasswordLength {
		return ErrWeakPassword
	}

	var passwordHash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("query password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(oldPassword)); err != nil {
		return ErrWrongPassword
	}

	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2,
			must_change_password = FALSE,
			updated_at = now()
		WHERE id = $1
	`, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetPassword replaces a user's password without checking the old one.
func (s *Service) SetPassword(ctx context.Context, username, password string, mustChange bool) error {
	if len(strings.TrimSpace(password)) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2,
			must_change_password = $3,
			updated_at = now()
		WHERE username = $1
	`, strings.TrimSpace(username), hash, mustChange)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrUserNotFound
	}
	_ = s.clearGuard(ctx, guardScopeLogin, normalizeGuardKey(username))
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.role, u.must_change_password, t.id
		FROM users u
		LEFT JOIN teachers t ON t.user_id = u.id
		ORDER BY u.username ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0, 16)
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	u, err := s.CreateUserTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create user: %w", err)
	}
	return u, nil
}

// CreateUserTx inserts a user inside an existing transaction so callers can
// create the account together with the record that owns it.
func (s *Service) CreateUserTx(ctx context.Context, tx *sql.Tx, in CreateUserInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	role := strings.TrimSpace(in.Role)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if !IsValidRole(role) {
		return nil, ErrInvalidRole
	}
	if len(strings.TrimSpace(in.Password)) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, ErrUsernameTaken
	}

	hash, err := HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	u := User{Username: username, Role: role, MustChangePassword: in.MustChangePassword}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO users (username, password_hash, role, must_change_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id
	`, username, hash, role, in.MustChangePassword).Scan(&u.ID); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &u, nil
}

func (s *Service) UpdateUserRole(ctx context.Context, username, role string) (*User, error) {
	role = strings.TrimSpace(role)
	if !IsValidRole(role) {
		return nil, ErrInvalidRole
	}

	var userID int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET role = $2,
			updated_at = now()
		WHERE username = $1
		RETURNING id
	`, strings.TrimSpace(username), role).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("update role: %w", err)
	}
	return s.GetUser(ctx, userID)
}

func (s *Service) DeleteUser(ctx context.Context, actorID, userID int64) error {
	if userID == actorID {
		return ErrSelfDelete
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var linked bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM teachers WHERE user_id = $1)
	`, userID).Scan(&linked); err != nil {
		return fmt.Errorf("check linked teacher: %w", err)
	}
	if linked {
		return ErrUserHasTeacher
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrUserNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete user: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Service) scanUser(row rowScanner) (*User, error) {
	var u User
	var teacherID sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &u.Role, &u.MustChangePassword, &teacherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if teacherID.Valid {
		u.TeacherID = &teacherID.Int64
	}
	return &u, nil
}

func (s *Service) isGuardLocked(ctx context.Context, scope, key string) (bool, time.Time, error) {
	var lockedUntil sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT locked_until
		FROM auth_guards
		WHERE scope = $1 AND guard_key = $2
	`, scope, key).Scan(&lockedUntil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, time.Time{}, nil
		}
		return false, time.Time{}, err
	}
	if !lockedUntil.Valid {
		return false, time.Time{}, nil
	}
	return time.Now().Before(lockedUntil.Time), lockedUntil.Time, nil
}

func (s *Service) registerFailure(ctx context.Context, scope, key string) error {
	var failures int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO auth_guards (scope, guard_key, failure_count, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (scope, guard_key)
		DO UPDATE SET
			failure_count = auth_guards.failure_count + 1,
			updated_at = now()
		RETURNING failure_count
	`, scope, key).Scan(&failures)
	if err != nil {
		return err
	}
	if failures < s.loginMaxFailures {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE auth_guards
		SET locked_until = now() + $3::interval,
			failure_count = 0,
			updated_at = now()
		WHERE scope = $1 AND guard_key = $2
	`, scope, key, fmt.Sprintf("%d seconds", int(s.loginLockDuration.Seconds())))
	return err
}

func (s *Service) clearGuard(ctx context.Context, scope, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM auth_guards
		WHERE scope = $1 AND guard_key = $2
	`, scope, key)
	return err
}

func normalizeGuardKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func HashPassword(password string, cost int) (string, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

const temporaryPasswordAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateTemporaryPassword returns a random password of n characters
// drawn from an alphabet without look-alike glyphs.
func GenerateTemporaryPassword(n int) (string, error) {
	if n < MinPasswordLength {
		n = 10
	}
	max := big.NewInt(int64(len(temporaryPasswordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = temporaryPasswordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
