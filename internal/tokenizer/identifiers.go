package tokenizer

import (
	"unicode"
	"unicode/utf8"
)

// Identifier is one identifier occurrence in source text. Decl is set when
// the identifier is the name introduced by a declaration keyword.
type Identifier struct {
	Name   string
	Line   int
	Column int
	Decl   bool
}

var declKeywords = map[string]struct{}{
	"func": {}, "type": {}, "var": {}, "const": {}, "class": {}, "def": {},
	"struct": {}, "interface": {}, "enum": {}, "fn": {}, "let": {}, "trait": {},
}

var keywords = map[string]struct{}{
	"package": {}, "import": {}, "return": {}, "if": {}, "else": {}, "for": {},
	"range": {}, "go": {}, "defer": {}, "switch": {}, "case": {}, "default": {},
	"break": {}, "continue": {}, "nil": {}, "true": {}, "false": {}, "map": {},
	"chan": {}, "select": {}, "while": {}, "public": {}, "private": {}, "static": {},
}

// Identifiers scans src for identifiers outside comments and string
// literals. The name following a declaration keyword is marked Decl; for a
// Go method the receiver list is skipped first.
func Identifiers(src []byte) []Identifier {
	s := &scanner{src: src, line: 1, col: 1}
	var out []Identifier
	pendingDecl, funcDecl := false, false
	receiverDepth := 0

	for !s.eof() {
		c := s.src[s.pos]
		switch {
		case c == '/' && s.peekAt(1) == '/', c == '#':
			s.skipLine()
			continue
		case c == '/' && s.peekAt(1) == '*':
			s.skipBlockComment()
			continue
		case c == '"' || c == '\'' || c == '`':
			s.skipString(c)
			pendingDecl = pendingDecl && receiverDepth > 0
			continue
		}

		r, size := utf8.DecodeRune(s.src[s.pos:])
		if !isIdentStart(r) {
			switch {
			case receiverDepth > 0:
				if r == '(' {
					receiverDepth++
				} else if r == ')' {
					receiverDepth--
				}
			case pendingDecl && funcDecl && r == '(':
				receiverDepth = 1
			case pendingDecl && !unicode.IsSpace(r):
				pendingDecl = false
			}
			s.advance(r, size)
			continue
		}

		line, col, start := s.line, s.col, s.pos
		for !s.eof() {
			r, size = utf8.DecodeRune(s.src[s.pos:])
			if !isIdentStart(r) && !unicode.IsDigit(r) {
				break
			}
			s.advance(r, size)
		}
		name := string(s.src[start:s.pos])
		if _, ok := declKeywords[name]; ok {
			pendingDecl, funcDecl, receiverDepth = true, name == "func", 0
			continue
		}
		if _, ok := keywords[name]; ok {
			continue
		}
		decl := pendingDecl && receiverDepth == 0
		if decl {
			pendingDecl = false
		}
		out = append(out, Identifier{Name: name, Line: line, Column: col, Decl: decl})
	}
	return out
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

type scanner struct {
	src  []byte
	pos  int
	line int
	col  int
}

func (s *scanner) eof() bool {
	return s.pos >= len(s.src)
}

func (s *scanner) peekAt(n int) byte {
	if s.pos+n >= len(s.src) {
		return 0
	}
	return s.src[s.pos+n]
}

func (s *scanner) advance(r rune, size int) {
	s.pos += size
	if r == '\n' {
		s.line++
		s.col = 1
		return
	}
	s.col += size
}

func (s *scanner) next() {
	r, size := utf8.DecodeRune(s.src[s.pos:])
	s.advance(r, size)
}

func (s *scanner) skipLine() {
	for !s.eof() && s.src[s.pos] != '\n' {
		s.next()
	}
}

func (s *scanner) skipBlockComment() {
	s.next()
	s.next()
	for !s.eof() {
		if s.src[s.pos] == '*' && s.peekAt(1) == '/' {
			s.next()
			s.next()
			return
		}
		s.next()
	}
}

// skipString skips a literal opened by quote. Backquoted literals may span
// lines; the others end at a newline if unterminated.
func (s *scanner) skipString(quote byte) {
	s.next()
	for !s.eof() {
		c := s.src[s.pos]
		switch {
		case c == '\\' && quote != '`':
			s.next()
			if !s.eof() {
				s.next()
			}
			continue
		case c == quote:
			s.next()
			return
		case c == '\n' && quote != '`':
			return
		}
		s.next()
	}
}
