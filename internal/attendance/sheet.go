package attendance

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gerenciaesportes/internal/masterdata"

	"github.com/xuri/excelize/v2"
)

type sheetRow struct {
	StudentName string
	Marks       map[string]string // date -> status
}

type sheetData struct {
	Title string
	Dates []string
	Rows  []sheetRow
}

var statusCell = map[string]string{
	StatusPresent:   "P",
	StatusAbsent:    "A",
	StatusJustified: "J",
}

// MonthlySheet renders the class attendance of month (YYYY-MM) as an xlsx
// workbook: one row per student, one column per recorded date.
func (s *Service) MonthlySheet(ctx context.Context, classID int64, month string) ([]byte, error) {
	start, err := time.Parse(MonthLayout, strings.TrimSpace(month))
	if err != nil {
		return nil, fmt.Errorf("%w: month must be YYYY-MM", ErrInvalidInput)
	}
	end := start.AddDate(0, 1, 0)

	var title string
	err = s.db.QueryRowContext(ctx, `
		SELECT m.name || COALESCE(' - ' || NULLIF(c.description, ''), '')
		FROM classes c JOIN modalities m ON m.id = c.modality_id
		WHERE c.id = $1
	`, classID).Scan(&title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", masterdata.ErrClassNotFound, classID)
		}
		return nil, fmt.Errorf("load class: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, s.full_name, to_char(a.class_date, 'YYYY-MM-DD'), a.status
		FROM enrollments e
		JOIN students s ON s.id = e.student_id
		LEFT JOIN attendance a ON a.enrollment_id = e.id
			AND a.class_date >= $2::date AND a.class_date < $3::date
		WHERE e.class_id = $1 AND (e.active OR a.id IS NOT NULL)
		ORDER BY s.full_name ASC, e.id ASC
	`, classID, start.Format(DateLayout), end.Format(DateLayout))
	if err != nil {
		return nil, fmt.Errorf("load sheet: %w", err)
	}
	defer rows.Close()

	data := sheetData{Title: fmt.Sprintf("%s - %s", title, start.Format("01/2006"))}
	byEnrollment := make(map[int64]int)
	dates := make(map[string]struct{})
	for rows.Next() {
		var (
			enrollmentID int64
			name         string
			date, status *string
		)
		if err := rows.Scan(&enrollmentID, &name, &date, &status); err != nil {
			return nil, fmt.Errorf("scan sheet row: %w", err)
		}
		idx, ok := byEnrollment[enrollmentID]
		if !ok {
			idx = len(data.Rows)
			byEnrollment[enrollmentID] = idx
			data.Rows = append(data.Rows, sheetRow{StudentName: name, Marks: map[string]string{}})
		}
		if date != nil && status != nil {
			data.Rows[idx].Marks[*date] = *status
			dates[*date] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sheet rows: %w", err)
	}
	for d := range dates {
		data.Dates = append(data.Dates, d)
	}
	sort.Strings(data.Dates)

	return renderSheet(data)
}

func renderSheet(data sheetData) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Chamada"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	_ = f.SetCellValue(sheet, "A1", data.Title)

	_ = f.SetCellValue(sheet, "A3", "Aluno")
	for i, d := range data.Dates {
		cell, _ := excelize.CoordinatesToCellName(i+2, 3)
		label := d
		if t, err := time.Parse(DateLayout, d); err == nil {
			label = t.Format("02/01")
		}
		_ = f.SetCellValue(sheet, cell, label)
	}
	totalCol := len(data.Dates) + 2
	totalCell, _ := excelize.CoordinatesToCellName(totalCol, 3)
	_ = f.SetCellValue(sheet, totalCell, "Presenças")

	for r, row := range data.Rows {
		line := r + 4
		nameCell, _ := excelize.CoordinatesToCellName(1, line)
		_ = f.SetCellValue(sheet, nameCell, row.StudentName)
		present := 0
		for i, d := range data.Dates {
			status, ok := row.Marks[d]
			if !ok {
				continue
			}
			if status == StatusPresent {
				present++
			}
			cell, _ := excelize.CoordinatesToCellName(i+2, line)
			_ = f.SetCellValue(sheet, cell, statusCell[status])
		}
		cell, _ := excelize.CoordinatesToCellName(totalCol, line)
		_ = f.SetCellValue(sheet, cell, fmt.Sprintf("%d/%d", present, len(data.Dates)))
	}

	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(sheet, "A1", "A1", style)
		_ = f.SetRowStyle(sheet, 3, 3, style)
	}
	_ = f.SetColWidth(sheet, "A", "A", 36)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
