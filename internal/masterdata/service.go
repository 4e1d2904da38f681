package masterdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	internaldb "gerenciaesportes/internal/db"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidSchedule     = errors.New("class needs at least one weekday and startTime before endTime")
	ErrModalityNotFound    = errors.New("modality not found")
	ErrModalityNameTaken   = errors.New("modality name already exists")
	ErrModalityInUse       = errors.New("modality has classes")
	ErrClassNotFound       = errors.New("class not found")
	ErrTeacherNotFound     = errors.New("teacher not found")
	ErrClassHasEnrollments = errors.New("class has active enrollments")
)

type Service struct {
	db *sql.DB
}

type Modality struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type ModalityInput struct {
	Name        string
	Description string
}

type ModalityRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type TeacherRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Class struct {
	ID                int64       `json:"id"`
	Description       string      `json:"description"`
	AgeCategory       string      `json:"ageCategory"`
	Weekdays          WeekdaySet  `json:"weekdays"`
	StartTime         string      `json:"startTime"`
	EndTime           string      `json:"endTime"`
	ModalityID        int64       `json:"modalityId"`
	TeacherID         int64       `json:"teacherId"`
	Modality          ModalityRef `json:"modality"`
	Teacher           TeacherRef  `json:"teacher"`
	ActiveEnrollments int         `json:"activeEnrollments"`
}

func (c Class) Schedule() (Schedule, error) {
	return NewSchedule(c.Weekdays, c.StartTime, c.EndTime)
}

// Label names a class in user-facing messages.
func (c Class) Label() string {
	name := c.Modality.Name
	if c.Description != "" {
		name = fmt.Sprintf("%q (%s)", c.Description, c.Modality.Name)
	} else if name == "" {
		name = fmt.Sprintf("class #%d", c.ID)
	}
	return fmt.Sprintf("%s %s %s-%s", name, strings.Join(c.Weekdays, ","), c.StartTime, c.EndTime)
}

type ClassInput struct {
	Description string
	AgeCategory string
	Weekdays    []string
	StartTime   string
	EndTime     string
	ModalityID  int64
	TeacherID   int64
}

type ClassFilter struct {
	TeacherID  int64
	ModalityID int64
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) ListModalities(ctx context.Context) ([]Modality, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, '')
		FROM modalities
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list modalities: %w", err)
	}
	defer rows.Close()

	items := make([]Modality, 0, 16)
	for rows.Next() {
		var m Modality
		if err := rows.Scan(&m.ID, &m.Name, &m.Description); err != nil {
			return nil, fmt.Errorf("scan modality: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modalities: %w", err)
	}
	return items, nil
}

func (s *Service) GetModality(ctx context.Context, id int64) (*Modality, error) {
	var m Modality
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, '')
		FROM modalities
		WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Description)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModalityNotFound
		}
		return nil, fmt.Errorf("get modality: %w", err)
	}
	return &m, nil
}

func (s *Service) CreateModality(ctx context.Context, in ModalityInput) (*Modality, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	var m Modality
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO modalities (name, description)
		VALUES ($1, NULLIF($2, ''))
		RETURNING id, name, COALESCE(description, '')
	`, name, strings.TrimSpace(in.Description)).Scan(&m.ID, &m.Name, &m.Description)
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, ErrModalityNameTaken
		}
		return nil, fmt.Errorf("create modality: %w", err)
	}
	return &m, nil
}

func (s *Service) UpdateModality(ctx context.Context, id int64, in ModalityInput) (*Modality, error) {
	name := strings.TrimSpace(in.Name)
	if id <= 0 || name == "" {
		return nil, ErrInvalidInput
	}

	var m Modality
	err := s.db.QueryRowContext(ctx, `
		UPDATE modalities
		SET name = $2,
			description = NULLIF($3, '')
		WHERE id = $1
		RETURNING id, name, COALESCE(description, '')
	`, id, name, strings.TrimSpace(in.Description)).Scan(&m.ID, &m.Name, &m.Description)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrModalityNotFound
		case internaldb.IsUniqueViolation(err):
			return nil, ErrModalityNameTaken
		}
		return nil, fmt.Errorf("update modality: %w", err)
	}
	return &m, nil
}

func (s *Service) DeleteModality(ctx context.Context, id int64) error {
	var inUse bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM classes WHERE modality_id = $1)
	`, id).Scan(&inUse); err != nil {
		return fmt.Errorf("check modality usage: %w", err)
	}
	if inUse {
		return ErrModalityInUse
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM modalities WHERE id = $1`, id)
	if err != nil {
		if internaldb.IsForeignKeyViolation(err) {
			return ErrModalityInUse
		}
		return fmt.Errorf("delete modality: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrModalityNotFound
	}
	return nil
}

const classSelect = `
	SELECT c.id, COALESCE(c.description, ''), c.age_category, c.weekdays,
		to_char(c.start_time, 'HH24:MI'), to_char(c.end_time, 'HH24:MI'),
		m.id, m.name, t.id, t.name,
		(SELECT COUNT(*) FROM enrollments e WHERE e.class_id = c.id AND e.active)
	FROM classes c
	JOIN modalities m ON m.id = c.modality_id
	JOIN teachers t ON t.id = c.teacher_id
`

func scanClass(row interface{ Scan(...interface{}) error }) (*Class, error) {
	var c Class
	if err := row.Scan(
		&c.ID, &c.Description, &c.AgeCategory, &c.Weekdays,
		&c.StartTime, &c.EndTime,
		&c.Modality.ID, &c.Modality.Name, &c.Teacher.ID, &c.Teacher.Name,
		&c.ActiveEnrollments,
	); err != nil {
		return nil, err
	}
	c.ModalityID = c.Modality.ID
	c.TeacherID = c.Teacher.ID
	return &c, nil
}

func (s *Service) ListClasses(ctx context.Context, f ClassFilter) ([]Class, error) {
	rows, err := s.db.QueryContext(ctx, classSelect+`
		WHERE ($1::bigint = 0 OR c.teacher_id = $1)
		  AND ($2::bigint = 0 OR c.modality_id = $2)
		ORDER BY m.name ASC, c.description ASC, c.id ASC
	`, f.TeacherID, f.ModalityID)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()

	items := make([]Class, 0, 32)
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classes: %w", err)
	}
	return items, nil
}

func (s *Service) GetClass(ctx context.Context, id int64) (*Class, error) {
	c, err := scanClass(s.db.QueryRowContext(ctx, classSelect+` WHERE c.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClassNotFound
		}
		return nil, fmt.Errorf("get class: %w", err)
	}
	return c, nil
}

// GetClassesTx loads the given classes inside tx. Missing ids yield ErrClassNotFound.
func GetClassesTx(ctx context.Context, tx *sql.Tx, ids []int64) ([]Class, error) {
	out := make([]Class, 0, len(ids))
	for _, id := range ids {
		c, err := scanClass(tx.QueryRowContext(ctx, classSelect+` WHERE c.id = $1`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: %d", ErrClassNotFound, id)
			}
			return nil, fmt.Errorf("get class: %w", err)
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *Service) CreateClass(ctx context.Context, in ClassInput) (*Class, error) {
	sched, err := s.checkClassInput(ctx, in)
	if err != nil {
		return nil, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO classes (modality_id, teacher_id, description, age_category, weekdays, start_time, end_time)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5::text[], $6::time, $7::time)
		RETURNING id
	`, in.ModalityID, in.TeacherID, strings.TrimSpace(in.Description), strings.TrimSpace(in.AgeCategory),
		sched.Weekdays, sched.Start.String(), sched.End.String()).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create class: %w", err)
	}
	return s.GetClass(ctx, id)
}

func (s *Service) UpdateClass(ctx context.Context, id int64, in ClassInput) (*Class, error) {
	sched, err := s.checkClassInput(ctx, in)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE classes
		SET modality_id = $2,
			teacher_id = $3,
			description = NULLIF($4, ''),
			age_category = $5,
			weekdays = $6::text[],
			start_time = $7::time,
			end_time = $8::time
		WHERE id = $1
	`, id, in.ModalityID, in.TeacherID, strings.TrimSpace(in.Description), strings.TrimSpace(in.AgeCategory),
		sched.Weekdays, sched.Start.String(), sched.End.String())
	if err != nil {
		return nil, fmt.Errorf("update class: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrClassNotFound
	}
	return s.GetClass(ctx, id)
}

// DeleteClass removes a class without active enrollments. Cancelled
// enrollments and their attendance go with it.
func (s *Service) DeleteClass(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var active bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM enrollments WHERE class_id = $1 AND active)
	`, id).Scan(&active); err != nil {
		return fmt.Errorf("check class enrollments: %w", err)
	}
	if active {
		return ErrClassHasEnrollments
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE class_id = $1 AND NOT active`, id); err != nil {
		return fmt.Errorf("delete cancelled enrollments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete class: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrClassNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete class: %w", err)
	}
	return nil
}

func (s *Service) checkClassInput(ctx context.Context, in ClassInput) (Schedule, error) {
	if strings.TrimSpace(in.AgeCategory) == "" || in.ModalityID <= 0 || in.TeacherID <= 0 {
		return Schedule{}, ErrInvalidInput
	}
	sched, err := NewSchedule(in.Weekdays, in.StartTime, in.EndTime)
	if err != nil {
		return Schedule{}, err
	}

	var modalityOK, teacherOK bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM modalities WHERE id = $1),
			EXISTS(SELECT 1 FROM teachers WHERE id = $2)
	`, in.ModalityID, in.TeacherID).Scan(&modalityOK, &teacherOK); err != nil {
		return Schedule{}, fmt.Errorf("check class refs: %w", err)
	}
	if !modalityOK {
		return Schedule{}, ErrModalityNotFound
	}
	if !teacherOK {
		return Schedule{}, ErrTeacherNotFound
	}
	return sched, nil
}
