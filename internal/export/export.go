// Package export renders a session roster as a downloadable spreadsheet.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"busbuddy/pkg/types"
)

// Format is a supported download format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ErrUnsupportedFormat wraps types.ErrValidation
var ErrUnsupportedFormat = fmt.Errorf("%w: export format must be csv or xlsx", types.ErrValidation)

const sheetName = "Roster"

var header = []string{"Name", "Role", "Status", "Phone", "Joined At"}

// ParseFormat reads a format query value; blank selects CSV
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// ContentType returns the MIME type served for the format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename builds the attachment name for a session roster
func (f Format) Filename(session *types.Session) string {
	return fmt.Sprintf("roster_%s_%s.%s", session.ShortID, session.CreatedAt.Format("20060102"), f)
}

// Write renders members in the given format
func Write(w io.Writer, f Format, members []*types.Member) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, members)
	case FormatXLSX:
		return WriteXLSX(w, members)
	default:
		return ErrUnsupportedFormat
	}
}

func record(m *types.Member) []string {
	return []string{
		m.Name,
		string(m.Role),
		string(m.Status),
		m.PhoneNumber,
		m.JoinedAt.UTC().Format(time.RFC3339),
	}
}

// WriteCSV writes a header row and one row per member
func WriteCSV(w io.Writer, members []*types.Member) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, m := range members {
		if err := cw.Write(record(m)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a single-sheet workbook with the same columns as the CSV
func WriteXLSX(w io.Writer, members []*types.Member) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to remove default sheet: %w", err)
	}

	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	for r, m := range members {
		for c, v := range record(m) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 24)
	_ = f.SetColWidth(sheetName, "B", "C", 10)
	_ = f.SetColWidth(sheetName, "D", "D", 16)
	_ = f.SetColWidth(sheetName, "E", "E", 22)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
