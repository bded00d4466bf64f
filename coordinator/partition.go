package coordinator

import "fmt"

// Range is a half-open index interval [Start, End) into the particle collection
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices covered
func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// Partition splits [0, length) into n contiguous ranges of length/n indices,
// the last range absorbing the remainder
// Ranges are empty when length < n except for the last one
func Partition(length, n int) []Range {
	if n < 1 {
		panic(fmt.Sprintf("coordinator: partition into %d ranges", n))
	}
	if length < 0 {
		length = 0
	}

	chunk := length / n
	ranges := make([]Range, n)
	for i := range ranges {
		start := i * chunk
		end := start + chunk
		if i == n-1 {
			end = length
		}
		ranges[i] = Range{Start: start, End: end}
	}
	return ranges
}
