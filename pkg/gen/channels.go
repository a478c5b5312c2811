package gen

// DrainChannel appends whatever is waiting in ch to batch, without blocking,
// and stops once batch holds limit items (limit <= 0 means no limit).
func DrainChannel[T any](ch chan T, batch []T, limit int) []T {
	for limit <= 0 || len(batch) < limit {
		select {
		case v := <-ch:
			batch = append(batch, v)
		default:
			return batch
		}
	}
	return batch
}
