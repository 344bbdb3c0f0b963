package settings

import (
	"fmt"
	"regexp"
	"strings"
)

var importOSPattern = regexp.MustCompile(`^import\s+(?:[\w.]+(?:\s+as\s+\w+)?\s*,\s*)*os(?:\.path)?\s*(?:,|#|$)`)

// assignment is a single NAME = expression rewrite.
type assignment struct {
	name string
	expr string
}

// Patch rewrites src so that it carries every setting in v. Existing
// assignments are replaced in place, missing ones are appended, and
// marker-guarded blocks are replaced between their markers or appended when
// absent. Patch(Patch(src)) == Patch(src).
func Patch(src []byte, v Values) ([]byte, error) {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	lines := splitLines(text)

	lines = ensureImportOS(lines)

	for _, a := range assignments(v) {
		lines = setAssignment(lines, a)
	}

	blocks, err := renderBlocks(v)
	if err != nil {
		return nil, fmt.Errorf("render blocks: %w", err)
	}
	for _, b := range blocks {
		lines = setBlock(lines, b)
	}

	return []byte(joinLines(lines)), nil
}

func assignments(v Values) []assignment {
	project := v.ProjectName
	debugDefault := "0"
	if v.Debug {
		debugDefault = "1"
	}

	return []assignment{
		{"SECRET_KEY", fmt.Sprintf(`os.environ.get("DJANGO_SECRET_KEY", %s)`, pyString(v.SecretKey))},
		{"DEBUG", fmt.Sprintf(`os.environ.get("DJANGO_DEBUG", %s).lower() in (%s)`, pyString(debugDefault), pyTuple(flagValues))},
		{"ALLOWED_HOSTS", fmt.Sprintf(`[h.strip() for h in os.environ.get("DJANGO_ALLOWED_HOSTS", %s).split(",") if h.strip()]`,
			pyString(strings.Join(v.AllowedHosts, ",")))},
		{"ROOT_URLCONF", pyString(project + ".urls")},
		{"WSGI_APPLICATION", pyString(project + ".wsgi.application")},
		{"ASGI_APPLICATION", pyString(project + ".asgi.application")},
		{"STATIC_URL", pyString(v.StaticURL)},
		{"STATIC_ROOT", pyPathExpr(v.StaticRoot)},
		{"TIME_ZONE", pyString(v.TimeZone)},
		{"USE_TZ", pyBool(v.UseTZ)},
	}
}

func setAssignment(lines []string, a assignment) []string {
	line := a.name + " = " + a.expr

	found := findAssignments(lines, a.name)
	if len(found) == 0 {
		return append(lines, line)
	}

	for i := len(found) - 1; i >= 0; i-- {
		lines = replaceSpan(lines, found[i], withCompoundTail(lines, found[i], line))
	}
	return lines
}

// withCompoundTail keeps whatever follows the first top-level semicolon of
// stmt, so "DEBUG = True; X = DEBUG" only loses its first statement.
func withCompoundTail(lines []string, stmt span, line string) []string {
	at, offset, ok := splitCompound(lines, stmt)
	if !ok {
		return []string{line}
	}
	tail := strings.TrimSpace(lines[at][offset:])
	rest := lines[at+1 : stmt.end]
	if tail == "" && len(rest) == 0 {
		return []string{line}
	}
	out := []string{line + "; " + tail}
	return append(out, rest...)
}

func setBlock(lines []string, b block) []string {
	begin, end := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if begin < 0 && trimmed == b.begin() {
			begin = i
			continue
		}
		if begin >= 0 && trimmed == b.end() {
			end = i
			break
		}
	}

	switch {
	case begin >= 0 && end >= 0:
		return replaceSpan(lines, span{start: begin + 1, end: end}, b.body)
	case begin >= 0:
		// begin marker without an end marker: leave the hand-edited block alone
		return lines
	}

	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) != "" {
		lines = append(lines, "")
	}
	lines = append(lines, b.begin())
	lines = append(lines, b.body...)
	return append(lines, b.end())
}

// ensureImportOS inserts "import os" before the first top-level import when
// the module does not already import it.
func ensureImportOS(lines []string) []string {
	stmts := statements(lines)
	for _, s := range stmts {
		if importOSPattern.MatchString(lines[s.start]) {
			return lines
		}
	}

	insertAt := -1
	leading := 0
	for _, s := range stmts {
		first := lines[s.start]
		trimmed := strings.TrimSpace(first)
		if first != trimmed && trimmed != "" {
			continue
		}
		if strings.HasPrefix(trimmed, "from __future__") {
			leading = s.end
			continue
		}
		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			insertAt = s.start
			break
		}
		if insertAt < 0 && (trimmed == "" || strings.HasPrefix(trimmed, "#") || isStringStatement(trimmed)) && leading == s.start {
			leading = s.end
		}
	}
	if insertAt < leading {
		insertAt = leading
	}

	return replaceSpan(lines, span{start: insertAt, end: insertAt}, []string{"import os"})
}

func isStringStatement(line string) bool {
	line = strings.TrimLeft(line, "rRbBuU")
	return strings.HasPrefix(line, `"`) || strings.HasPrefix(line, `'`)
}
