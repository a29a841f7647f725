package link

const WindowSize = 64

// window remembers which seqs from one sender were accepted.
// last is highest accepted seq, bit i of bmap means last-i accepted.
// Seqs older than window are unknown, not seen.
type window struct {
	last uint32
	bmap uint64
	init bool
}

func (w *window) Seen(seq uint32) bool {
	if !w.init || seq > w.last {
		return false
	}
	offset := w.last - seq
	if offset >= WindowSize {
		return false
	}
	return w.bmap&(1<<offset) != 0
}

func (w *window) Mark(seq uint32) {
	switch {
	case !w.init:
		w.last, w.bmap, w.init = seq, 1, true
	case seq > w.last:
		shift := seq - w.last
		if shift >= WindowSize {
			w.bmap = 0
		} else {
			w.bmap <<= shift
		}
		w.bmap |= 1
		w.last = seq
	default:
		if offset := w.last - seq; offset < WindowSize {
			w.bmap |= 1 << offset
		}
	}
}
