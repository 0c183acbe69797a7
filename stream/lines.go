package stream

import (
	"strings"
	"unicode"
)

// SplitLines splits buf into its complete newline terminated lines and the
// trailing bytes that do not end in a newline.
func SplitLines(buf string) (lines []string, rest string) {
	for {
		i := strings.IndexByte(buf, '\n')
		if i == -1 {
			return lines, buf
		}

		lines = append(lines, buf[:i+1])
		buf = buf[i+1:]
	}
}

// ReverseLine strips the trailing whitespace of line, newline included,
// reverses the characters that are left and terminates the result with a
// newline.
func ReverseLine(line string) string {
	runes := []rune(strings.TrimRightFunc(line, unicode.IsSpace))

	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}

	return string(runes) + "\n"
}
