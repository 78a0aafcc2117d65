// Package assign implements the bipartite assignment solver used to match
// predicted track boxes against detections (spec.md §4.4), built on the
// Kuhn-Munkres implementation already used by the teacher module.
package assign

import (
	hg "github.com/charles-haynes/munkres"
	"github.com/pkg/errors"
)

// Result is the outcome of solving a cost matrix.
type Result struct {
	// Assign[i] is the column matched to row i, or -1 if row i is unassigned.
	Assign []int
	// Reverse[j] is the row matched to column j, or -1 if column j is unassigned.
	Reverse []int
	// Total is the sum of the original (untransposed, unnegated) costs of
	// every matched pair.
	Total float64
}

// Solve finds an assignment over cost that minimizes (or, if maximize is
// true, maximizes) the sum of matched entries, per spec.md §4.4. Ties are
// broken by the underlying solver's deterministic row-major scan.
func Solve(cost [][]float64, maximize bool) (Result, error) {
	m := len(cost)
	if m == 0 {
		return Result{Assign: nil, Reverse: nil, Total: 0}, nil
	}
	n := len(cost[0])
	if n == 0 {
		unassigned := make([]int, m)
		for i := range unassigned {
			unassigned[i] = -1
		}
		return Result{Assign: unassigned, Reverse: nil, Total: 0}, nil
	}

	transposed := m > n
	working := cost
	if transposed {
		working = transpose(cost)
	}
	if maximize {
		working = negate(working)
	}

	ha, err := hg.NewHungarianAlgorithm(working)
	if err != nil {
		return Result{}, errors.Wrap(err, "assign: building Hungarian solver")
	}
	matches := ha.Execute()

	var assign, reverse []int
	if transposed {
		// matches is indexed by (former) columns; invert to rows/cols of cost.
		assign = make([]int, m)
		for i := range assign {
			assign[i] = -1
		}
		reverse = make([]int, n)
		for j := range reverse {
			reverse[j] = -1
		}
		for col, row := range matches {
			if row == -1 {
				continue
			}
			assign[row] = col
			reverse[col] = row
		}
	} else {
		assign = append([]int(nil), matches...)
		reverse = make([]int, n)
		for j := range reverse {
			reverse[j] = -1
		}
		for row, col := range assign {
			if col != -1 {
				reverse[col] = row
			}
		}
	}

	total := 0.0
	for i, j := range assign {
		if j != -1 {
			total += cost[i][j]
		}
	}

	return Result{Assign: assign, Reverse: reverse, Total: total}, nil
}

func transpose(c [][]float64) [][]float64 {
	rows, cols := len(c), len(c[0])
	out := make([][]float64, cols)
	for j := 0; j < cols; j++ {
		out[j] = make([]float64, rows)
		for i := 0; i < rows; i++ {
			out[j][i] = c[i][j]
		}
	}
	return out
}

func negate(c [][]float64) [][]float64 {
	out := make([][]float64, len(c))
	for i, row := range c {
		nr := make([]float64, len(row))
		for j, v := range row {
			nr[j] = -v
		}
		out[i] = nr
	}
	return out
}
