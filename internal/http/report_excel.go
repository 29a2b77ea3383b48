package httpapi

import (
	"bytes"
	"fmt"
	"strings"

	"fieldvisit/internal/service"

	"github.com/xuri/excelize/v2"
)

var dealerSheetHeader = []string{
	"Dealer Code", "Dealer Name", "Zone", "District", "Taluka", "Town",
	"Status", "Visits", "Scheduled", "Employees", "Last Visited At",
}

var employeeSheetHeader = []string{"Employee Code", "Employee Name", "Total", "Done", "Pending"}

var summarySheetHeader = []string{"Scope", "Start", "End", "Total", "Done", "Pending"}

// GenerateReportExport 报表导出为 xlsx：Dealers / Employees / Summary 三个工作表
func GenerateReportExport(resp *service.ReportResponse) ([]byte, error) {
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	dealerRows := make([][]any, 0, len(resp.Data))
	for _, d := range resp.Data {
		last := ""
		if d.LastVisitedAt != nil {
			last = d.LastVisitedAt.Format("2006-01-02 15:04:05")
		}
		dealerRows = append(dealerRows, []any{
			d.DealerCode, d.DealerName, d.Zone, d.District, d.Taluka, d.Town,
			string(d.Status), d.Visits, d.Scheduled, strings.Join(d.Employees, ", "), last,
		})
	}
	employeeRows := make([][]any, 0, len(resp.Employees))
	for _, e := range resp.Employees {
		employeeRows = append(employeeRows, []any{e.EmployeeCode, e.EmployeeName, e.Total, e.Done, e.Pending})
	}
	summaryRows := [][]any{
		{"range", resp.Start, resp.End, resp.Total, resp.Done, resp.Pending},
		{"month", resp.Overall.Start, resp.Overall.End, resp.Overall.Total, resp.Overall.Done, resp.Overall.Pending},
	}

	sheets := []struct {
		name   string
		header []string
		rows   [][]any
	}{
		{"Dealers", dealerSheetHeader, dealerRows},
		{"Employees", employeeSheetHeader, employeeRows},
		{"Summary", summarySheetHeader, summaryRows},
	}
	for i, s := range sheets {
		index, err := f.NewSheet(s.name)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", s.name, err)
		}
		if i == 0 {
			f.SetActiveSheet(index)
		}
		if err := writeSheet(f, s.name, s.header, s.rows, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}
	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, header []string, rows [][]any, headerStyle int) error {
	for col, h := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, 18); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	// 冻结表头
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}
