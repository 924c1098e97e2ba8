package mem

// Memset sets every byte of target to the supplied value. Instead of using a
// for loop, this function uses log2(len(target)) copy calls which is
// considerably faster for page-sized buffers.
func Memset(target []byte, value byte) {
	if len(target) == 0 {
		return
	}

	// Set first element and make log2(size) optimized copies
	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// MemsetPattern fills target by repeating pattern. An empty pattern clears
// the target.
func MemsetPattern(target []byte, pattern []byte) {
	if len(pattern) == 0 {
		Memset(target, 0)
		return
	}

	n := copy(target, pattern)
	for n < len(target) {
		n += copy(target[n:], target[:n])
	}
}

// IsZero returns true if every byte in buf is zero.
func IsZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
