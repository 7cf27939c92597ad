// Package chunk splits id lists into bounded slices so that set-difference
// deletes and ANY(...) joins never ship unbounded parameter lists to
// PostgreSQL.
package chunk

// Strings splits ids into chunks of at most size elements.
// A size <= 0 falls back to a single chunk. Empty input yields nil.
func Strings(ids []string, size int) [][]string {
	if len(ids) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]string{ids}
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
