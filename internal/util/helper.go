// Package util contains small generic helpers shared by the protocol packages.
package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
// A nil src with cloneSize 0 yields nil.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if src == nil && cloneSize == 0 {
		return nil
	}
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// CeilDiv returns a divided by b rounded up. b must be positive.
func CeilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}

	return (a + b - 1) / b
}

// Fill sets every element of s to v.
func Fill[T any](s []T, v T) {
	for i := range s {
		s[i] = v
	}
}
