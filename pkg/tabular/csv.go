package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Dataset is header-keyed tabular content. Rows keep the order they were read in.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// ErrTooManyRows is returned by Decode when the input exceeds the row ceiling.
var ErrTooManyRows = errors.New("csv exceeds maximum row count")

// Decode reads a CSV document whose first record is the header line. Header names are
// trimmed and lower-cased; blank lines are skipped. maxRows <= 0 disables the ceiling.
func Decode(r io.Reader, maxRows int) (Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Dataset{}, fmt.Errorf("csv is empty")
		}
		return Dataset{}, fmt.Errorf("read csv header: %w", err)
	}
	headers, err := normalizeHeaders(header)
	if err != nil {
		return Dataset{}, err
	}

	data := Dataset{Headers: headers}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read csv row: %w", err)
		}
		if isBlank(record) {
			continue
		}
		if maxRows > 0 && len(data.Rows) >= maxRows {
			return Dataset{}, ErrTooManyRows
		}
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			}
		}
		data.Rows = append(data.Rows, row)
	}
	return data, nil
}

// Render produces CSV encoded bytes for the dataset.
func Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func normalizeHeaders(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	headers := make([]string, len(raw))
	for i, h := range raw {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			return nil, fmt.Errorf("csv header %d is empty", i+1)
		}
		if _, dup := seen[h]; dup {
			return nil, fmt.Errorf("csv header %q is duplicated", h)
		}
		seen[h] = struct{}{}
		headers[i] = h
	}
	return headers, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
