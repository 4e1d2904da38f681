package masterdata

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Weekday codes in week order, Monday first.
const (
	Monday    = "SEG"
	Tuesday   = "TER"
	Wednesday = "QUA"
	Thursday  = "QUI"
	Friday    = "SEX"
	Saturday  = "SAB"
	Sunday    = "DOM"
)

var weekOrder = []string{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

var ErrUnknownWeekday = errors.New("unknown weekday")

func weekdayIndex(code string) int {
	for i, c := range weekOrder {
		if c == code {
			return i
		}
	}
	return -1
}

func IsWeekday(code string) bool {
	return weekdayIndex(code) >= 0
}

// WeekdaySet is an ordered set of weekday codes. It travels as a JSON array
// and is stored as a Postgres text[].
type WeekdaySet []string

// NewWeekdaySet normalizes case, drops duplicates and sorts by week order.
// Unknown codes are rejected.
func NewWeekdaySet(codes []string) (WeekdaySet, error) {
	var seen [7]bool
	for _, raw := range codes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		idx := weekdayIndex(code)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownWeekday, raw)
		}
		seen[idx] = true
	}

	out := make(WeekdaySet, 0, len(codes))
	for i, ok := range seen {
		if ok {
			out = append(out, weekOrder[i])
		}
	}
	return out, nil
}

func (s WeekdaySet) Contains(code string) bool {
	for _, c := range s {
		if c == code {
			return true
		}
	}
	return false
}

func (s WeekdaySet) Intersects(other WeekdaySet) bool {
	for _, c := range s {
		if other.Contains(c) {
			return true
		}
	}
	return false
}

func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON accepts only a JSON array of codes.
func (s *WeekdaySet) UnmarshalJSON(b []byte) error {
	var codes []string
	if err := json.Unmarshal(b, &codes); err != nil {
		return fmt.Errorf("weekdays must be an array of weekday codes: %w", err)
	}
	set, err := NewWeekdaySet(codes)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

func (s WeekdaySet) Value() (driver.Value, error) {
	return pq.StringArray(s).Value()
}

func (s *WeekdaySet) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("scan weekdays: %w", err)
	}
	set, err := NewWeekdaySet(arr)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
