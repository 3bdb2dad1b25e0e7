package instrument

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/autotrace-dev/autotrace/internal/parser"
)

var (
	errExpressionBody  = errors.New("expression-bodied arrow function")
	errSingleLine      = errors.New("body shares a line with its declaration")
	errBraceLine       = errors.New("code shares a line with the body brace")
	errEmptyBody       = errors.New("empty body")
	errDocstringOnly   = errors.New("body holds only a docstring")
	errInconsistentInd = errors.New("inconsistent indentation")
)

// sourceText indexes a unit's content by row.
type sourceText struct {
	content   []byte
	lineStart []int
	newline   string
	protected map[int]bool
	unit      *parser.SourceUnit
}

func newSourceText(unit *parser.SourceUnit) *sourceText {
	s := &sourceText{
		content:   unit.Content,
		lineStart: []int{0},
		newline:   "\n",
		protected: unit.ProtectedRows,
		unit:      unit,
	}
	for i, b := range unit.Content {
		if b == '\n' {
			s.lineStart = append(s.lineStart, i+1)
		}
	}
	if bytes.Contains(unit.Content, []byte("\r\n")) {
		s.newline = "\r\n"
	}
	return s
}

// start returns the offset of the first byte of row, or len(content) past the last row.
func (s *sourceText) start(row int) int {
	if row >= len(s.lineStart) {
		return len(s.content)
	}
	return s.lineStart[row]
}

// line returns row without its terminator.
func (s *sourceText) line(row int) string {
	end := s.start(row + 1)
	text := string(s.content[s.start(row):end])
	text = strings.TrimSuffix(text, "\n")
	return strings.TrimSuffix(text, "\r")
}

// rowOf returns the row containing offset.
func (s *sourceText) rowOf(offset int) int {
	lo, hi := 0, len(s.lineStart)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.lineStart[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func (s *sourceText) blank(row int) bool {
	return strings.TrimSpace(s.line(row)) == ""
}

func leadingSpace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// indentStep derives the body indentation step from the enclosing and inner indentation.
func indentStep(outer, inner string) (string, error) {
	if !strings.HasPrefix(inner, outer) || len(inner) == len(outer) {
		return "", errInconsistentInd
	}
	step := inner[len(outer):]
	if strings.Contains(step, " ") && strings.Contains(step, "\t") {
		return "", errInconsistentInd
	}
	return step, nil
}

// reindent copies rows [first, last] into b with step prepended, leaving blank
// and protected rows untouched.
func (s *sourceText) reindent(b *strings.Builder, first, last int, step string) {
	for row := first; row <= last; row++ {
		line := s.line(row)
		if !s.protected[row] && strings.TrimSpace(line) != "" {
			b.WriteString(step)
		}
		b.WriteString(line)
		if row < last || s.start(last+1) > s.start(last)+len(line) {
			b.WriteString(s.newline)
		}
	}
}

// firstCodeRow returns the first non-blank, unprotected row in [first, last], or -1.
func (s *sourceText) firstCodeRow(first, last int) int {
	for row := first; row <= last; row++ {
		if !s.blank(row) && !s.protected[row] {
			return row
		}
	}
	return -1
}

// wrapJS replaces the inner rows of a block body with
//
//	const span = start("Q");
//	try {
//	  ...body
//	} finally {
//	  end(span);
//	}
//
// The brace rows, any "use strict" prologue and everything outside them stay
// byte-identical.
func wrapJS(s *sourceText, fn *parser.FunctionDecl, t Target) (splice, error) {
	if fn.BodyKind != parser.BodyBlock {
		return splice{}, errExpressionBody
	}
	openRow, closeRow := fn.BodyRows[0], fn.BodyRows[1]
	if openRow == closeRow {
		return splice{}, errSingleLine
	}

	openLine := s.line(openRow)
	openCol := fn.Body.Start - s.start(openRow)
	if openCol < 0 || openCol >= len(openLine) {
		return splice{}, errBraceLine
	}
	if rest := strings.TrimSpace(openLine[openCol+1:]); rest != "" && !strings.HasPrefix(rest, "//") {
		return splice{}, errBraceLine
	}
	closeLine := s.line(closeRow)
	closeCol := fn.Body.End - 1 - s.start(closeRow)
	if closeCol < 0 || closeCol > len(closeLine) || strings.TrimSpace(closeLine[:closeCol]) != "" {
		return splice{}, errBraceLine
	}

	first, last := openRow+1, closeRow-1
	if fn.DocEndRow >= first {
		// directives must stay the first statements of the body
		first = fn.DocEndRow + 1
	}
	codeRow := s.firstCodeRow(first, last)
	if codeRow == -1 {
		return splice{}, errEmptyBody
	}
	outer := leadingSpace(closeLine)
	inner := leadingSpace(s.line(codeRow))
	step, err := indentStep(outer, inner)
	if err != nil {
		return splice{}, err
	}

	nl := s.newline
	span := t.SpanVar
	var b strings.Builder
	b.WriteString(inner + "const " + span + " = " + t.Start + "(" + strconv.Quote(fn.QualifiedName) + ");" + nl)
	b.WriteString(inner + "try {" + nl)
	s.reindent(&b, first, last, step)
	b.WriteString(inner + "} finally {" + nl)
	b.WriteString(inner + step + t.End + "(" + span + ");" + nl)
	b.WriteString(inner + "}" + nl)

	return splice{start: s.start(first), end: s.start(closeRow), text: []byte(b.String())}, nil
}

// wrapPython replaces the body rows after any docstring with
//
//	span = start("Q")
//	try:
//	    ...body
//	finally:
//	    end(span)
func wrapPython(s *sourceText, fn *parser.FunctionDecl, t Target) (splice, error) {
	bodyRow := s.rowOf(fn.Body.Start)
	if strings.TrimSpace(string(s.content[s.start(bodyRow):fn.Body.Start])) != "" {
		return splice{}, errSingleLine
	}

	first, last := fn.BodyRows[0], fn.BodyRows[1]
	if fn.DocEndRow >= 0 {
		first = fn.DocEndRow + 1
	}
	if first > last {
		return splice{}, errDocstringOnly
	}
	codeRow := s.firstCodeRow(first, last)
	if codeRow == -1 {
		return splice{}, errDocstringOnly
	}

	outer := leadingSpace(s.line(s.rowOf(fn.Start)))
	inner := leadingSpace(s.line(codeRow))
	step, err := indentStep(outer, inner)
	if err != nil {
		return splice{}, err
	}
	for row := first; row <= last; row++ {
		if s.protected[row] || s.blank(row) {
			continue
		}
		if !strings.HasPrefix(s.line(row), outer) {
			return splice{}, errInconsistentInd
		}
	}

	nl := s.newline
	span := t.SpanVar
	var b strings.Builder
	b.WriteString(inner + span + " = " + t.Start + "(" + strconv.Quote(fn.QualifiedName) + ")" + nl)
	b.WriteString(inner + "try:" + nl)
	s.reindent(&b, first, last, step)
	if !strings.HasSuffix(b.String(), nl) {
		b.WriteString(nl)
	}
	b.WriteString(inner + "finally:" + nl)
	b.WriteString(inner + step + t.End + "(" + span + ")")

	end := s.start(last + 1)
	if end > s.start(last)+len(s.line(last)) {
		// the last body row had a terminator; keep it
		b.WriteString(nl)
	}
	return splice{start: s.start(first), end: end, text: []byte(b.String())}, nil
}
