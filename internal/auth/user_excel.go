package auth

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportUsersExcel renders the account list as an xlsx workbook.
func (s *Service) ExportUsersExcel(ctx context.Context) ([]byte, error) {
	items, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return renderUsersExcel(items)
}

func renderUsersExcel(items []User) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	headers := []string{"id", "username", "role", "must_change_password", "teacher_id"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		teacherID := ""
		if it.TeacherID != nil {
			teacherID = strconv.FormatInt(*it.TeacherID, 10)
		}
		values := []any{it.ID, it.Username, it.Role, it.MustChangePassword, teacherID}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "E", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
