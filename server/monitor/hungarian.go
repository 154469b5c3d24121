package monitor

import "math"

// Costs at or above this are never assigned
const forbiddenCost = 1e9

// hungarianAssign solves the rectangular assignment problem for an n×m cost matrix
// using Kuhn-Munkres with row and column potentials.
// Returns result[i] = assigned column for row i, or -1 if row i has no permitted column.
func hungarianAssign(cost [][]float32) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	if m == 0 {
		return result
	}

	// Pad to a square matrix
	dim := max(n, m)
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			if i < n && j < m {
				c[i][j] = float64(cost[i][j])
			} else {
				c[i][j] = forbiddenCost
			}
		}
	}

	// Arrays are 1-based, with column 0 acting as a virtual source
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	owner := make([]int, dim+1) // owner[j] is the row assigned to column j
	prev := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		owner[0] = i
		j0 := 0
		for j := range minv {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := owner[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					prev[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[owner[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if owner[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			owner[j0] = owner[prev[j0]]
			j0 = prev[j0]
		}
	}

	for j := 1; j <= dim; j++ {
		i := owner[j] - 1
		col := j - 1
		if i >= 0 && i < n && col < m && cost[i][col] < forbiddenCost {
			result[i] = col
		}
	}
	return result
}
