package gen

// DeleteFirst removes the first element equal to v, preserving order.
// If v is not present, the slice is returned unchanged.
func DeleteFirst[T comparable](s []T, v T) []T {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
