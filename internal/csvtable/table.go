// Package csvtable models the two-header-row CSV layout used for survey
// exports: a group-label row, a question-label row, then one row per
// response.
package csvtable

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/starford/surveybox/internal/apperr"
)

const headerRows = 2

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is an in-memory CSV with two header rows. Rows are only ever
// appended.
type Table struct {
	GroupRow    []string
	QuestionRow []string
	DataRows    [][]string
}

// New returns a table with the given header rows and no data.
func New(groupRow, questionRow []string) *Table {
	return &Table{GroupRow: groupRow, QuestionRow: questionRow}
}

// ComputeRows lays out one submission along order. Missing labels fall back
// to the field key and missing values to the empty string, so all three
// rows have exactly len(order) cells.
func ComputeRows(order []string, groups, questions, values map[string]string) (groupRow, questionRow, dataRow []string) {
	groupRow = make([]string, len(order))
	questionRow = make([]string, len(order))
	dataRow = make([]string, len(order))
	for i, field := range order {
		groupRow[i] = labelOr(groups, field)
		questionRow[i] = labelOr(questions, field)
		dataRow[i] = values[field]
	}
	return groupRow, questionRow, dataRow
}

func labelOr(labels map[string]string, field string) string {
	if l, ok := labels[field]; ok {
		return l
	}
	return field
}

// Append adds a data row.
func (t *Table) Append(row []string) {
	t.DataRows = append(t.DataRows, row)
}

// Len returns the total number of rows including headers.
func (t *Table) Len() int {
	return headerRows + len(t.DataRows)
}

// Encode renders the table as CSV. Rows of different widths are written
// as-is.
func (t *Table) Encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	// csv.Writer checks field counts only on read; mixed widths are fine here.
	if err := w.Write(t.GroupRow); err != nil {
		return nil, fmt.Errorf("csvtable: write group row: %w", err)
	}
	if err := w.Write(t.QuestionRow); err != nil {
		return nil, fmt.Errorf("csvtable: write question row: %w", err)
	}
	if err := w.WriteAll(t.DataRows); err != nil {
		return nil, fmt.Errorf("csvtable: write data rows: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses raw CSV content into rows without assuming any width.
// Malformed content yields an error wrapping apperr.ErrParse.
func Decode(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvtable: %w: %w", apperr.ErrParse, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// Merge builds the table written back to an existing master file. When
// previous holds at least one row, the rows after its first two are kept
// verbatim and the headers are replaced by the current ones; otherwise the
// table starts fresh. newRow is appended last.
func Merge(previous [][]string, groupRow, questionRow, newRow []string) *Table {
	t := New(groupRow, questionRow)
	if len(previous) > headerRows {
		t.DataRows = append(t.DataRows, previous[headerRows:]...)
	}
	t.Append(newRow)
	return t
}
