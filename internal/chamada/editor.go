// Package chamada holds the attendance editor: the roster of a class with a
// tri-state mark per student for one selected date.
package chamada

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const DateLayout = "2006-01-02"

var (
	ErrEmptyBatch       = errors.New("select at least one student")
	ErrNoClass          = errors.New("no class selected")
	ErrSubmitInProgress = errors.New("a submit is already in progress")
	ErrUnknownStudent   = errors.New("student is not in the roster")
	ErrInvalidMark      = errors.New("mark must be Unset, Present or Absent")
)

// Mark is the editor's view of one student's attendance on the selected date.
type Mark int

const (
	Unset Mark = iota
	Present
	Absent
)

func (m Mark) valid() bool {
	return m == Unset || m == Present || m == Absent
}

func (m Mark) String() string {
	switch m {
	case Present:
		return "Present"
	case Absent:
		return "Absent"
	default:
		return "Unset"
	}
}

// MarkFromStatus maps a stored status to a mark. Anything other than
// Present or Absent, Justified included, reads as Unset.
func MarkFromStatus(status string) Mark {
	switch status {
	case "Present":
		return Present
	case "Absent":
		return Absent
	default:
		return Unset
	}
}

type Student struct {
	ID           int64
	EnrollmentID int64
	Name         string
}

type Record struct {
	EnrollmentID int64
	Status       string
}

type Batch struct {
	ClassID int64
	Date    string
	Marks   []Record
}

// EnrollmentReader returns the current roster of a class.
type EnrollmentReader interface {
	Roster(ctx context.Context, classID int64) ([]Student, error)
}

// AttendanceStore reads and writes persisted marks.
type AttendanceStore interface {
	Marks(ctx context.Context, classID int64, date string) ([]Record, error)
	SubmitBatch(ctx context.Context, b Batch) error
}

// LoadError wraps a failed roster or marks fetch.
type LoadError struct {
	Stage string
	Err   error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Stage, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

type Editor struct {
	roster EnrollmentReader
	store  AttendanceStore

	mu       sync.Mutex
	classID  int64
	date     time.Time
	students []Student
	index    map[int64]int
	marks    map[int64]Mark
	loadErr  error
	gen      uint64
	inFlight bool
}

type Option func(*Editor)

// WithClock sets the source of "today" for the default date.
func WithClock(now func() time.Time) Option {
	return func(e *Editor) { e.date = truncateDay(now()) }
}

func NewEditor(roster EnrollmentReader, store AttendanceStore, opts ...Option) *Editor {
	e := &Editor{
		roster: roster,
		store:  store,
		date:   truncateDay(time.Now()),
		index:  map[int64]int{},
		marks:  map[int64]Mark{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Open loads the roster of classID and then its marks for date.
func (e *Editor) Open(ctx context.Context, classID int64, date time.Time) error {
	if err := e.LoadRoster(ctx, classID); err != nil {
		return err
	}
	return e.LoadExistingMarks(ctx, classID, date)
}

// LoadRoster replaces the roster with the current enrollments of classID,
// every mark Unset.
func (e *Editor) LoadRoster(ctx context.Context, classID int64) error {
	if classID <= 0 {
		return ErrNoClass
	}
	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.classID = classID
	e.mu.Unlock()

	students, err := e.roster.Roster(ctx, classID)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return context.Canceled
	}
	e.students = nil
	e.index = map[int64]int{}
	e.marks = map[int64]Mark{}
	if err != nil {
		e.loadErr = &LoadError{Stage: "roster", Err: err}
		return e.loadErr
	}
	e.loadErr = nil
	for _, st := range students {
		if _, dup := e.index[st.ID]; dup {
			continue
		}
		e.index[st.ID] = len(e.students)
		e.students = append(e.students, st)
		e.marks[st.ID] = Unset
	}
	return nil
}

// LoadExistingMarks selects date and replaces every mark with the persisted
// one, discarding unsaved toggles. A failed load leaves every mark Unset.
func (e *Editor) LoadExistingMarks(ctx context.Context, classID int64, date time.Time) error {
	if classID <= 0 {
		return ErrNoClass
	}
	e.mu.Lock()
	if classID != e.classID {
		e.mu.Unlock()
		return fmt.Errorf("%w: roster is for class %d", ErrNoClass, e.classID)
	}
	e.gen++
	gen := e.gen
	e.date = truncateDay(date)
	day := e.date.Format(DateLayout)
	e.mu.Unlock()

	records, err := e.store.Marks(ctx, classID, day)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return context.Canceled
	}
	byEnrollment := make(map[int64]Mark, len(records))
	if err == nil {
		for _, rec := range records {
			byEnrollment[rec.EnrollmentID] = MarkFromStatus(rec.Status)
		}
	}
	for _, st := range e.students {
		e.marks[st.ID] = byEnrollment[st.EnrollmentID]
	}
	if err != nil {
		e.loadErr = &LoadError{Stage: "marks", Err: err}
		return e.loadErr
	}
	e.loadErr = nil
	return nil
}

// SetDate switches to date and reloads its marks.
func (e *Editor) SetDate(ctx context.Context, date time.Time) error {
	e.mu.Lock()
	classID := e.classID
	e.mu.Unlock()
	if classID <= 0 {
		return ErrNoClass
	}
	return e.LoadExistingMarks(ctx, classID, date)
}

// Toggle sets status, or clears it when it is already the student's mark.
func (e *Editor) Toggle(studentID int64, status Mark) error {
	if !status.valid() {
		return ErrInvalidMark
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, ok := e.marks[studentID]
	if !ok {
		return ErrUnknownStudent
	}
	if cur == status {
		e.marks[studentID] = Unset
		return nil
	}
	e.marks[studentID] = status
	return nil
}

func (e *Editor) SetMark(studentID int64, m Mark) error {
	if !m.valid() {
		return ErrInvalidMark
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.marks[studentID]; !ok {
		return ErrUnknownStudent
	}
	e.marks[studentID] = m
	return nil
}

func (e *Editor) MarkAllPresent() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.students {
		e.marks[st.ID] = Present
	}
}

// Submit sends every mark that is not Unset as one batch for the selected
// class and date. Local marks are left as they are whatever the outcome.
func (e *Editor) Submit(ctx context.Context) error {
	e.mu.Lock()
	if e.classID <= 0 {
		e.mu.Unlock()
		return ErrNoClass
	}
	if e.inFlight {
		e.mu.Unlock()
		return ErrSubmitInProgress
	}
	b := Batch{ClassID: e.classID, Date: e.date.Format(DateLayout)}
	for _, st := range e.students {
		if m := e.marks[st.ID]; m != Unset {
			b.Marks = append(b.Marks, Record{EnrollmentID: st.EnrollmentID, Status: m.String()})
		}
	}
	if len(b.Marks) == 0 {
		e.mu.Unlock()
		return ErrEmptyBatch
	}
	e.inFlight = true
	e.mu.Unlock()

	err := e.store.SubmitBatch(ctx, b)

	e.mu.Lock()
	e.inFlight = false
	e.mu.Unlock()
	return err
}

func (e *Editor) Mark(studentID int64) Mark {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.marks[studentID]
}

// Marks returns a copy of the mark map.
func (e *Editor) Marks() map[int64]Mark {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[int64]Mark, len(e.marks))
	for k, v := range e.marks {
		out[k] = v
	}
	return out
}

// Students returns the roster in server order.
func (e *Editor) Students() []Student {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Student(nil), e.students...)
}

func (e *Editor) ClassID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.classID
}

func (e *Editor) Date() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.date
}

// LoadErr is the error of the last roster or marks load, nil after a successful one.
func (e *Editor) LoadErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

func (e *Editor) Submitting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}
