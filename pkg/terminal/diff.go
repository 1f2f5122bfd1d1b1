package terminal

// diffRegion returns the byte stream an attached session should emit when
// the screen snapshot changed from prev to next: the contiguous run of
// lines from the first difference through the last, each terminated with
// CRLF. Attached consoles expose no push-based read API, so polling
// reduces to this.
func diffRegion(prev, next []string) []byte {
	lines := len(next)
	if len(prev) > lines {
		lines = len(prev)
	}
	first, last := -1, -1
	for i := 0; i < lines; i++ {
		var a, b string
		if i < len(prev) {
			a = prev[i]
		}
		if i < len(next) {
			b = next[i]
		}
		if a != b {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	var out []byte
	for i := first; i <= last; i++ {
		if i < len(next) {
			out = append(out, next[i]...)
		}
		out = append(out, '\r', '\n')
	}
	return out
}
