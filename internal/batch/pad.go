// Package batch turns variable-length embedded sequences into rectangular
// batches and provides the batch-parallel helpers used for bulk encoding.
package batch

import (
	"errors"
	"fmt"
)

// Errors returned by Pad.
var (
	ErrEmptyBatch        = errors.New("batch has no sequences")
	ErrEmptySequence     = errors.New("sequence has no tokens")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Sequence is an ordered list of token vectors, one per token.
type Sequence [][]float32

// Len returns the number of tokens in the sequence.
func (s Sequence) Len() int {
	return len(s)
}

// Padded is a rectangular batch of sequences.
//
// Values is shaped [N][MaxLen][Dim]. Positions at or beyond Lengths[i] in
// row i are zero vectors.
type Padded struct {
	Values  [][][]float32
	Lengths []int
}

// Size returns the number of sequences in the batch.
func (p Padded) Size() int {
	return len(p.Lengths)
}

// MaxLen returns the largest true length in the batch.
func (p Padded) MaxLen() int {
	maxLen := 0
	for _, l := range p.Lengths {
		if l > maxLen {
			maxLen = l
		}
	}
	return maxLen
}

// Shape returns the observed shape of Values as [N, L, D]. L and D are taken
// from the first row and its first vector.
func (p Padded) Shape() []int {
	n := len(p.Values)
	if n == 0 {
		return []int{0, 0, 0}
	}
	l := len(p.Values[0])
	d := 0
	if l > 0 {
		d = len(p.Values[0][0])
	}
	return []int{n, l, d}
}

// Pad zero-pads the sequences to the longest one and records their true
// lengths in input order.
//
// Empty sequences are rejected with ErrEmptySequence rather than being
// treated as a single zero vector.
func Pad(seqs []Sequence) (Padded, error) {
	if len(seqs) == 0 {
		return Padded{}, ErrEmptyBatch
	}

	maxLen := 0
	dim := -1
	for i, seq := range seqs {
		if len(seq) == 0 {
			return Padded{}, fmt.Errorf("%w: sequence %d", ErrEmptySequence, i)
		}
		if len(seq) > maxLen {
			maxLen = len(seq)
		}
		for _, vec := range seq {
			if dim == -1 {
				dim = len(vec)
			}
			if len(vec) != dim {
				return Padded{}, fmt.Errorf("%w: sequence %d has a vector of length %d, want %d",
					ErrDimensionMismatch, i, len(vec), dim)
			}
		}
	}

	values := make([][][]float32, len(seqs))
	lengths := make([]int, len(seqs))
	for i, seq := range seqs {
		lengths[i] = len(seq)
		rows := make([][]float32, maxLen)
		flat := make([]float32, maxLen*dim)
		for t := 0; t < maxLen; t++ {
			rows[t] = flat[t*dim : (t+1)*dim : (t+1)*dim]
			if t < len(seq) {
				copy(rows[t], seq[t])
			}
		}
		values[i] = rows
	}

	return Padded{Values: values, Lengths: lengths}, nil
}
