package pass

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Details holds the printable content of a gate pass.
type Details struct {
	RequestID   string
	Kind        string
	StudentName string
	RollNumber  string
	From        time.Time
	To          time.Time
	Reason      string
	IssuedBy    string
	IssuedAt    time.Time
	Location    *time.Location
}

// Render produces a single-page A5 gate pass.
func Render(d Details) ([]byte, error) {
	if d.RequestID == "" {
		return nil, fmt.Errorf("gate pass requires a request id")
	}
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	layout := "02 Jan 2006 15:04"

	pdf := gofpdf.New("P", "mm", "A5", "")
	pdf.SetMargins(12, 15, 12)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, strings.ToUpper(d.Kind)+" GATE PASS", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 8)
	pdf.CellFormat(0, 5, "Ref "+d.RequestID, "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Student", d.StudentName},
		{"Roll No.", d.RollNumber},
		{"Leaves", d.From.In(loc).Format(layout)},
		{"Returns by", d.To.In(loc).Format(layout)},
		{"Reason", d.Reason},
		{"Issued by", capitalize(d.IssuedBy)},
		{"Issued at", d.IssuedAt.In(loc).Format(layout)},
	}
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(35, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 8, row[1], "1", "", false)
	}

	pdf.Ln(10)
	pdf.SetFont("Arial", "I", 8)
	pdf.MultiCell(0, 5, "Present this pass at the gate on exit and return. Valid only within the window above.", "", "C", false)

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render gate pass: %w", err)
	}
	return buf.Bytes(), nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
