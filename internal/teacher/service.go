package teacher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"gerenciaesportes/internal/auth"
	internaldb "gerenciaesportes/internal/db"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("teacher not found")
	ErrNationalIDTaken   = errors.New("national id already registered")
	ErrTeacherHasClasses = errors.New("teacher has linked classes")
)

type accountCreator interface {
	CreateUserTx(ctx context.Context, tx *sql.Tx, in auth.CreateUserInput) (*auth.User, error)
}

type Service struct {
	db       *sql.DB
	accounts accountCreator
}

type Teacher struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	NationalID string  `json:"nationalId"`
	Contact    string  `json:"contact"`
	UserID     *int64  `json:"userId,omitempty"`
	Username   *string `json:"username,omitempty"`
	Role       *string `json:"role,omitempty"`
}

type CreateInput struct {
	Name          string
	NationalID    string
	Contact       string
	CreateAccount bool
	Username      string
	Password      string
	Role          string
}

type UpdateInput struct {
	Name       string
	NationalID string
	Contact    string
}

// Created is returned once after registration; TemporaryPassword is only
// set when the password was generated.
type Created struct {
	Teacher
	TemporaryPassword string `json:"temporaryPassword,omitempty"`
}

func NewService(db *sql.DB, accounts accountCreator) *Service {
	return &Service{db: db, accounts: accounts}
}

// NormalizeNationalID keeps only the digits of a national id.
func NormalizeNationalID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const teacherSelect = `
	SELECT t.id, t.name, t.national_id, COALESCE(t.contact, ''), u.id, u.username, u.role
	FROM teachers t
	LEFT JOIN users u ON u.id = t.user_id
`

func scanTeacher(row interface{ Scan(...interface{}) error }) (*Teacher, error) {
	var t Teacher
	var userID sql.NullInt64
	var username, role sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &t.NationalID, &t.Contact, &userID, &username, &role); err != nil {
		return nil, err
	}
	if userID.Valid {
		t.UserID = &userID.Int64
		t.Username = &username.String
		t.Role = &role.String
	}
	return &t, nil
}

func (s *Service) List(ctx context.Context) ([]Teacher, error) {
	rows, err := s.db.QueryContext(ctx, teacherSelect+` ORDER BY t.name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	defer rows.Close()

	items := make([]Teacher, 0, 16)
	for rows.Next() {
		t, err := scanTeacher(rows)
		if err != nil {
			return nil, fmt.Errorf("scan teacher: %w", err)
		}
		items = append(items, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teachers: %w", err)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Teacher, error) {
	t, err := scanTeacher(s.db.QueryRowContext(ctx, teacherSelect+` WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get teacher: %w", err)
	}
	return t, nil
}

// Create registers a teacher and, when requested, its login account in the
// same transaction. Account defaults: username = national id digits,
// role = professor, generated password, forced password change.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Created, error) {
	name := strings.TrimSpace(in.Name)
	nationalID := NormalizeNationalID(in.NationalID)
	if name == "" || nationalID == "" {
		return nil, ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var taken bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM teachers WHERE national_id = $1)
	`, nationalID).Scan(&taken); err != nil {
		return nil, fmt.Errorf("check national id: %w", err)
	}
	if taken {
		return nil, ErrNationalIDTaken
	}

	out := &Created{}
	var userID *int64
	if in.CreateAccount {
		username := strings.TrimSpace(in.Username)
		if username == "" {
			username = nationalID
		}
		role := strings.TrimSpace(in.Role)
		if role == "" {
			role = auth.RoleTeacher
		}
		password := in.Password
		if strings.TrimSpace(password) == "" {
			password, err = auth.GenerateTemporaryPassword(10)
			if err != nil {
				return nil, fmt.Errorf("generate password: %w", err)
			}
			out.TemporaryPassword = password
		}

		user, err := s.accounts.CreateUserTx(ctx, tx, auth.CreateUserInput{
			Username:           username,
			Password:           password,
			Role:               role,
			MustChangePassword: true,
		})
		if err != nil {
			return nil, err
		}
		userID = &user.ID
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO teachers (user_id, name, national_id, contact)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING id
	`, userID, name, nationalID, strings.TrimSpace(in.Contact)).Scan(&id)
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, ErrNationalIDTaken
		}
		return nil, fmt.Errorf("insert teacher: %w", err)
	}

	t, err := scanTeacher(tx.QueryRowContext(ctx, teacherSelect+` WHERE t.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("reload teacher: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create teacher: %w", err)
	}
	out.Teacher = *t
	return out, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*Teacher, error) {
	name := strings.TrimSpace(in.Name)
	nationalID := NormalizeNationalID(in.NationalID)
	if id <= 0 || name == "" || nationalID == "" {
		return nil, ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE teachers
		SET name = $2,
			national_id = $3,
			contact = NULLIF($4, '')
		WHERE id = $1
	`, id, name, nationalID, strings.TrimSpace(in.Contact))
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, ErrNationalIDTaken
		}
		return nil, fmt.Errorf("update teacher: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a teacher without classes together with its login account.
func (s *Service) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var hasClasses bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM classes WHERE teacher_id = $1)
	`, id).Scan(&hasClasses); err != nil {
		return fmt.Errorf("check teacher classes: %w", err)
	}
	if hasClasses {
		return ErrTeacherHasClasses
	}

	var userID sql.NullInt64
	err = tx.QueryRowContext(ctx, `DELETE FROM teachers WHERE id = $1 RETURNING user_id`, id).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if internaldb.IsForeignKeyViolation(err) {
			return ErrTeacherHasClasses
		}
		return fmt.Errorf("delete teacher: %w", err)
	}
	if userID.Valid {
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID.Int64); err != nil {
			return fmt.Errorf("delete teacher account: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete teacher: %w", err)
	}
	return nil
}
