// Package corpus reads the CSV inputs of the retrieval system: training
// rows, the document corpus, and sample queries.
package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMissingColumn is returned when a CSV header lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Column names used by the CSV inputs.
const (
	ColQuery      = "query"
	ColDocRef     = "doc_ref"
	ColDocText    = "doc_text"
	ColIsSelected = "is_selected"
)

// Document is one retrievable text identified by its reference.
type Document struct {
	DocRef  string `json:"doc_ref"`
	DocText string `json:"doc_text"`
}

// Query is one sample search query.
type Query struct {
	Text string `json:"query"`
}

// TrainingRow is one (query, document) pair from the training data.
type TrainingRow struct {
	Query      string
	DocRef     string
	DocText    string
	IsSelected bool
}

// header maps column names to their index in a record.
type header map[string]int

func readHeader(r *csv.Reader, required ...string) (header, error) {
	names, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: file is empty, want header with %s", ErrMissingColumn, strings.Join(required, ", "))
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	h := make(header, len(names))
	for i, name := range names {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	for _, name := range required {
		if _, ok := h[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}
	return h, nil
}

func (h header) get(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func (h header) has(name string) bool {
	_, ok := h[name]
	return ok
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// eachRecord calls fn for every data record after the header.
func eachRecord(cr *csv.Reader, fn func(line int, record []string) error) error {
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading record: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if err := fn(line, record); err != nil {
			return err
		}
	}
}

// ParseSelected interprets an is_selected cell. Pandas writes these as 0/1
// but may also produce floats or booleans.
func ParseSelected(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "1.0", "true":
		return true, nil
	case "0", "0.0", "false", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid is_selected value %q", s)
}

// ReadTrainingRows parses training data with columns query, doc_ref and
// doc_text. When an is_selected column is present, rows that are not
// selected are dropped.
func ReadTrainingRows(r io.Reader) ([]TrainingRow, error) {
	cr := newReader(r)
	h, err := readHeader(cr, ColQuery, ColDocRef, ColDocText)
	if err != nil {
		return nil, err
	}
	filter := h.has(ColIsSelected)

	var rows []TrainingRow
	err = eachRecord(cr, func(line int, record []string) error {
		row := TrainingRow{
			Query:      h.get(record, ColQuery),
			DocRef:     h.get(record, ColDocRef),
			DocText:    h.get(record, ColDocText),
			IsSelected: true,
		}
		if filter {
			selected, err := ParseSelected(h.get(record, ColIsSelected))
			if err != nil {
				return fmt.Errorf("line %d: %w", line, err)
			}
			if !selected {
				return nil
			}
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ReadDocuments parses a document corpus with columns doc_ref and doc_text.
// Duplicates are preserved; see DedupeDocuments.
func ReadDocuments(r io.Reader) ([]Document, error) {
	cr := newReader(r)
	h, err := readHeader(cr, ColDocRef, ColDocText)
	if err != nil {
		return nil, err
	}

	var docs []Document
	err = eachRecord(cr, func(_ int, record []string) error {
		docs = append(docs, Document{
			DocRef:  h.get(record, ColDocRef),
			DocText: h.get(record, ColDocText),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ReadQueries parses sample queries from a CSV with a query column.
// Duplicate query texts are removed, keeping the first.
func ReadQueries(r io.Reader) ([]Query, error) {
	cr := newReader(r)
	h, err := readHeader(cr, ColQuery)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var queries []Query
	err = eachRecord(cr, func(_ int, record []string) error {
		text := h.get(record, ColQuery)
		if seen[text] {
			return nil
		}
		seen[text] = true
		queries = append(queries, Query{Text: text})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return queries, nil
}

// DedupeDocuments removes documents whose DocRef was already seen, keeping
// the first occurrence and the input order.
func DedupeDocuments(docs []Document) []Document {
	seen := make(map[string]bool, len(docs))
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if seen[d.DocRef] {
			continue
		}
		seen[d.DocRef] = true
		out = append(out, d)
	}
	return out
}

// DocumentsFromRows returns the distinct documents referenced by rows.
func DocumentsFromRows(rows []TrainingRow) []Document {
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = Document{DocRef: r.DocRef, DocText: r.DocText}
	}
	return DedupeDocuments(docs)
}

// ReadTrainingRowsFile opens path and calls ReadTrainingRows.
func ReadTrainingRowsFile(path string) ([]TrainingRow, error) {
	var rows []TrainingRow
	err := withFile(path, func(r io.Reader) error {
		var err error
		rows, err = ReadTrainingRows(r)
		return err
	})
	return rows, err
}

// ReadDocumentsFile opens path and calls ReadDocuments.
func ReadDocumentsFile(path string) ([]Document, error) {
	var docs []Document
	err := withFile(path, func(r io.Reader) error {
		var err error
		docs, err = ReadDocuments(r)
		return err
	})
	return docs, err
}

// ReadQueriesFile opens path and calls ReadQueries.
func ReadQueriesFile(path string) ([]Query, error) {
	var queries []Query
	err := withFile(path, func(r io.Reader) error {
		var err error
		queries, err = ReadQueries(r)
		return err
	})
	return queries, err
}

func withFile(path string, fn func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}
