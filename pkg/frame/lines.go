package frame

// MaxCommandLen bounds one inbound command line, including the terminator.
const MaxCommandLen = 128

// LineReader accumulates inbound transport bytes into newline-terminated
// commands. Carriage returns are stripped; an oversize unterminated line
// resets the buffer and the partial command is discarded.
type LineReader struct {
	buf [MaxCommandLen - 1]byte
	n   int
}

// Feed consumes p and returns any completed commands, in arrival order.
// Empty lines are swallowed.
func (r *LineReader) Feed(p []byte) []string {
	var lines []string
	for _, c := range p {
		switch c {
		case '\r':
			// stripped
		case '\n':
			if r.n > 0 {
				lines = append(lines, string(r.buf[:r.n]))
				r.n = 0
			}
		default:
			if r.n < len(r.buf) {
				r.buf[r.n] = c
				r.n++
			} else {
				r.n = 0
			}
		}
	}
	return lines
}
