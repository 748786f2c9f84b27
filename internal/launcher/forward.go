package launcher

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// forwardLines copies r to w one line at a time, as each line arrives.
// Line terminators are normalised to "\n"; a final unterminated line is
// still forwarded. It returns the number of lines written.
func forwardLines(r io.Reader, w io.Writer) (int, error) {
	br := bufio.NewReader(r)
	n := 0

	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if _, werr := fmt.Fprintln(w, line); werr != nil {
				return n, fmt.Errorf("writing line %d: %w", n+1, werr)
			}
			n++
		}

		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reading line %d: %w", n+1, err)
		}
	}
}
