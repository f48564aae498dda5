package multitable

// Window is one chunk of the run scope: source rows [Offset, Offset+Limit)
// in source-id order.
type Window struct {
	Index  int
	Offset int
	Limit  int
}

// End is the exclusive upper bound of the window.
func (w Window) End() int { return w.Offset + w.Limit }

// Windows partitions [0, total) into consecutive windows of size rows; the
// last window holds the remainder. The windows cover every offset exactly
// once. total <= 0 yields no windows.
func Windows(total int64, size int) []Window {
	if total <= 0 {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	n := int((total + int64(size) - 1) / int64(size))
	out := make([]Window, 0, n)
	for i := 0; i < n; i++ {
		off := i * size
		limit := size
		if rem := int(total) - off; rem < limit {
			limit = rem
		}
		out = append(out, Window{Index: i, Offset: off, Limit: limit})
	}
	return out
}
