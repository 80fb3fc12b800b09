// Package wordvec maps text to sequences of pretrained word vectors.
package wordvec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/matsen/twotower/internal/batch"
)

// ErrEmptyTable is returned when a vectors file contains no usable rows.
var ErrEmptyTable = errors.New("word vector table is empty")

// Lookup turns text into an embedded sequence, one vector per token.
type Lookup interface {
	// Tokenize splits text into the tokens Embed would produce vectors for.
	Tokenize(text string) []string

	// Embed returns one vector per token. Out-of-vocabulary tokens map to
	// the table's fallback vector.
	Embed(text string) batch.Sequence

	// Dimensions returns the vector length.
	Dimensions() int
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Table is an in-memory word vector table. It is read-only after loading and
// safe for concurrent use.
type Table struct {
	vectors  map[string][]float32
	dim      int
	fallback []float32
}

// NewTable builds a table from a word -> vector map. All vectors must have
// the same length.
func NewTable(vectors map[string][]float32) (*Table, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyTable
	}

	dim := -1
	for word, vec := range vectors {
		if dim == -1 {
			dim = len(vec)
		}
		if len(vec) != dim {
			return nil, fmt.Errorf("vector for %q has %d dimensions, want %d", word, len(vec), dim)
		}
	}

	return &Table{
		vectors:  vectors,
		dim:      dim,
		fallback: make([]float32, dim),
	}, nil
}

// Load reads a word vector file in GloVe text format ("word v1 v2 ...").
// A word2vec text header line ("count dim") is skipped if present.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening word vectors: %w", err)
	}
	defer f.Close()

	return Read(f)
}

// Read parses word vectors from r. See Load for the format.
func Read(r io.Reader) (*Table, error) {
	vectors := make(map[string][]float32)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if lineNum == 1 && len(fields) == 2 {
			// word2vec header
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected a word followed by values", lineNum)
		}

		vec := make([]float32, len(fields)-1)
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing value %d: %w", lineNum, i+1, err)
			}
			vec[i] = float32(v)
		}

		word := strings.ToLower(fields[0])
		if _, exists := vectors[word]; exists {
			continue
		}
		vectors[word] = vec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading word vectors: %w", err)
	}

	return NewTable(vectors)
}

// SetFallback sets the vector used for out-of-vocabulary tokens. The
// default is the zero vector.
func (t *Table) SetFallback(vec []float32) error {
	if len(vec) != t.dim {
		return fmt.Errorf("fallback has %d dimensions, want %d", len(vec), t.dim)
	}
	t.fallback = append([]float32(nil), vec...)
	return nil
}

// Tokenize implements Lookup.
func (t *Table) Tokenize(text string) []string {
	return Tokenize(text)
}

// Embed implements Lookup. Returned vectors are copies.
func (t *Table) Embed(text string) batch.Sequence {
	tokens := Tokenize(text)
	seq := make(batch.Sequence, len(tokens))
	for i, tok := range tokens {
		src, ok := t.vectors[tok]
		if !ok {
			src = t.fallback
		}
		seq[i] = append([]float32(nil), src...)
	}
	return seq
}

// Dimensions implements Lookup.
func (t *Table) Dimensions() int {
	return t.dim
}

// Size returns the vocabulary size.
func (t *Table) Size() int {
	return len(t.vectors)
}

// Has reports whether the word is in the vocabulary.
func (t *Table) Has(word string) bool {
	_, ok := t.vectors[strings.ToLower(word)]
	return ok
}
