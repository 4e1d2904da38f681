package student

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExportExcel renders the filtered student list as an xlsx workbook.
func (s *Service) ExportExcel(ctx context.Context, f Filter) ([]byte, error) {
	items, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return renderStudentsExcel(items)
}

func renderStudentsExcel(items []Student) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Alunos"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	headers := []string{"ID", "Nome", "Nascimento", "Escola", "Série/Ano", "Mãe", "Pai", "Telefone 1", "Telefone 2", "Endereço", "Recomendações médicas"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	for i, st := range items {
		values := []any{st.ID, st.FullName, st.BirthDate, st.School, st.Grade, st.MotherName, st.FatherName, st.Phone1, st.Phone2, st.Address, st.MedicalNotes}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 8)
	_ = f.SetColWidth(sheet, "B", "B", 36)
	_ = f.SetColWidth(sheet, "C", "K", 20)
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}
