package compiler

// scanner follows the lexical state of esbuild output across lines: template
// literals (with nested substitutions), block comments, string and regular
// expression literals. Strings never span lines in esbuild output, so only
// templates and block comments carry over.
type scanner struct {
	template bool
	comment  bool
	depth    int   // open brackets in code
	subs     []int // depth at each open ${ substitution
	prev     byte  // last significant code byte; 'a' for a word
	word     string
}

func (s *scanner) inCode() bool { return !s.template && !s.comment }

// lineStarts reports for every line whether it begins in code, outside any
// template literal (substitutions included) or block comment. Only such lines
// can start a statement.
func lineStarts(lines []string) []bool {
	out := make([]bool, len(lines))
	var s scanner
	for i, line := range lines {
		out[i] = s.inCode() && len(s.subs) == 0
		s.scan(line)
	}
	return out
}

func (s *scanner) scan(line string) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case s.comment:
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				s.comment = false
				i++
			}
		case s.template:
			switch c {
			case '\\':
				i++
			case '`':
				s.template = false
				s.prev = '`'
			case '$':
				if i+1 < len(line) && line[i+1] == '{' {
					s.template = false
					s.subs = append(s.subs, s.depth)
					s.prev = '{'
					i++
				}
			}
		default:
			i = s.code(line, i)
		}
	}
}

// code consumes the token starting at line[i] and returns the index of its
// last byte.
func (s *scanner) code(line string, i int) int {
	c := line[i]
	switch c {
	case ' ', '\t', '\r':
		return i
	case '`':
		s.template = true
		return i
	case '"', '\'':
		j := i + 1
		for j < len(line) && line[j] != c {
			if line[j] == '\\' {
				j++
			}
			j++
		}
		s.prev = c
		return j
	case '/':
		if i+1 < len(line) {
			switch line[i+1] {
			case '/':
				return len(line)
			case '*':
				s.comment = true
				return i + 1
			}
		}
		if s.regexAllowed() {
			j := skipRegex(line, i)
			// A regex ends like a value: division may follow.
			s.prev, s.word = 'a', ""
			return j
		}
	case '(', '[', '{':
		s.depth++
	case ')', ']':
		s.depth--
	case '}':
		if n := len(s.subs); n > 0 && s.subs[n-1] == s.depth {
			s.subs = s.subs[:n-1]
			s.template = true
			return i
		}
		s.depth--
	default:
		if isWordByte(c) {
			j := i
			for j < len(line) && isWordByte(line[j]) {
				j++
			}
			s.prev, s.word = 'a', line[i:j]
			return j - 1
		}
	}
	s.prev, s.word = c, ""
	return i
}

// regexKeywords are words after which a slash starts a regular expression.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "instanceof": true, "in": true, "of": true,
	"new": true, "delete": true, "void": true, "throw": true, "case": true,
	"do": true, "else": true, "yield": true, "await": true,
}

func (s *scanner) regexAllowed() bool {
	switch s.prev {
	case 'a':
		return regexKeywords[s.word]
	case ')', ']', '`', '"', '\'':
		return false
	}
	return true
}

// skipRegex returns the index of the last byte of the regular expression
// literal starting at line[i], flags included.
func skipRegex(line string, i int) int {
	class := false
	j := i + 1
	for ; j < len(line); j++ {
		switch c := line[j]; {
		case c == '\\':
			j++
		case c == '[':
			class = true
		case c == ']':
			class = false
		case c == '/' && !class:
			for j+1 < len(line) && isWordByte(line[j+1]) {
				j++
			}
			return j
		}
	}
	return len(line) - 1
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// statementEnd returns the last line of the statement starting at line
// start: the first line after which the scanner is back in code at bracket
// depth zero and the line ends in ";" or "}".
func statementEnd(lines []string, start int) int {
	var s scanner
	for i := start; i < len(lines); i++ {
		s.scan(lines[i])
		if !s.inCode() || s.depth > 0 || len(s.subs) > 0 {
			continue
		}
		if n := len(lines[i]); n > 0 && (lines[i][n-1] == ';' || lines[i][n-1] == '}') {
			return i
		}
	}
	return -1
}
