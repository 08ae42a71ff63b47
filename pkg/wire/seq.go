package wire

// SeqDistance returns the forward modular distance (a-b) mod 2^32.
func SeqDistance(a, b uint32) uint32 { return a - b }

// SeqAhead reports whether a is strictly ahead of b in the modular
// sequence space: forward distance in (0, 2^31).
func SeqAhead(a, b uint32) bool {
	d := SeqDistance(a, b)
	return d > 0 && d < 1<<31
}

// SeqEqual reports whether a and b are the same sequence.
func SeqEqual(a, b uint32) bool { return a == b }

// SeqInRange reports whether s falls in the modular interval (prev, cur]
// used for cumulative-ACK acknowledgement ranges.
func SeqInRange(prev, cur, s uint32) bool {
	if prev == cur {
		return false
	}
	span := SeqDistance(cur, prev)
	if span == 0 || span >= 1<<31 {
		return false
	}
	offset := SeqDistance(s, prev)
	return offset > 0 && offset <= span
}
