package settings

import (
	"regexp"
	"strings"
)

// span is a half-open range of line indexes [start, end).
type span struct {
	start int
	end   int
}

// scanState tracks brackets and open string literals while walking source lines.
type scanState struct {
	depth  int
	quote  byte
	triple bool
}

// splitLines splits text into lines without their terminators. A trailing
// newline does not produce an extra empty line.
func splitLines(src string) []string {
	if src == "" {
		return nil
	}
	src = strings.TrimSuffix(src, "\n")
	return strings.Split(src, "\n")
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// statements groups lines into top-level logical statements. Lines inside
// open brackets, triple-quoted strings or after a backslash continuation
// belong to the statement that opened them.
func statements(lines []string) []span {
	var out []span
	for i := 0; i < len(lines); {
		end := statementEnd(lines, i)
		out = append(out, span{start: i, end: end})
		i = end
	}
	return out
}

func statementEnd(lines []string, start int) int {
	var st scanState
	for i := start; i < len(lines); i++ {
		st.scanLine(lines[i])
		continued := strings.HasSuffix(strings.TrimRight(lines[i], " \t"), "\\")
		if st.depth == 0 && !(st.triple && st.quote != 0) && !continued {
			return i + 1
		}
	}
	return len(lines)
}

// scanLine advances st over line and returns the offset of the first
// semicolon outside brackets and strings, or -1.
func (st *scanState) scanLine(line string) int {
	semi := -1
	for j := 0; j < len(line); {
		c := line[j]
		if st.quote != 0 {
			switch {
			case c == '\\':
				j += 2
				continue
			case st.triple && strings.HasPrefix(line[j:], strings.Repeat(string(st.quote), 3)):
				st.quote, st.triple = 0, false
				j += 3
				continue
			case !st.triple && c == st.quote:
				st.quote = 0
			}
			j++
			continue
		}

		switch c {
		case '#':
			return semi
		case ';':
			if st.depth == 0 && semi < 0 {
				semi = j
			}
		case '"', '\'':
			if strings.HasPrefix(line[j:], strings.Repeat(string(c), 3)) {
				st.quote, st.triple = c, true
				j += 3
				continue
			}
			st.quote = c
		case '(', '[', '{':
			st.depth++
		case ')', ']', '}':
			if st.depth > 0 {
				st.depth--
			}
		}
		j++
	}
	st.closeLine()
	return semi
}

// closeLine drops an unterminated single-quoted string; those never span
// lines and the parser reports them.
func (st *scanState) closeLine() {
	if st.quote != 0 && !st.triple {
		st.quote = 0
	}
}

// splitCompound locates the first top-level semicolon in statement s and
// returns the line index and offset of the text that follows it.
func splitCompound(lines []string, s span) (line, offset int, ok bool) {
	var st scanState
	for i := s.start; i < s.end; i++ {
		if semi := st.scanLine(lines[i]); semi >= 0 {
			return i, semi + 1, true
		}
	}
	return 0, 0, false
}

func assignmentPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `\s*(:[^=]*)?=[^=]`)
}

// findAssignments returns every top-level statement assigning name.
func findAssignments(lines []string, name string) []span {
	pattern := assignmentPattern(name)
	var out []span
	for _, stmt := range statements(lines) {
		if pattern.MatchString(lines[stmt.start] + " ") {
			out = append(out, stmt)
		}
	}
	return out
}

// replaceSpan returns a copy of lines with s replaced by repl.
func replaceSpan(lines []string, s span, repl []string) []string {
	out := make([]string, 0, len(lines)-(s.end-s.start)+len(repl))
	out = append(out, lines[:s.start]...)
	out = append(out, repl...)
	out = append(out, lines[s.end:]...)
	return out
}
