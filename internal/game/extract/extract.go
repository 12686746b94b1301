// Package extract recovers tool calls written inline in model prose, such as
// `save_character('p1', 's1', '{"hp":3}')`.
//
// The grammar is a closed allow-list: an identifier only counts when it is a
// known function name, starts on a word boundary and is followed directly by
// '('. Arguments are bare tokens or single/double-quoted strings separated by
// commas. A call that does not parse cleanly is dropped and reported as a
// Reject. Scanning resumes after the last part of the broken call that was
// read cleanly: past its ')' when only the argument count is wrong, past its
// last closed quoted argument, or else right after its identifier. A broken
// call never swallows the ones after it, and call-like text quoted inside it
// is never run.
package extract

import (
	"fmt"
	"strings"

	"dmagent/internal/game/actions"
)

// Call is one recognized invocation.
type Call struct {
	Name string
	// Params maps each positional argument to its parameter name.
	Params map[string]string
	// Offset is the byte offset of the identifier in the scanned text.
	Offset int
}

// Reject records a known function name whose argument list was malformed.
type Reject struct {
	Name   string
	Offset int
	Reason string
}

func (r Reject) String() string {
	return fmt.Sprintf("%s at %d: %s", r.Name, r.Offset, r.Reason)
}

// Parser recognizes calls to a fixed set of functions.
type Parser struct {
	arity map[string][]string
}

// New builds a parser for the given function names and their positional
// parameter names.
func New(arity map[string][]string) *Parser {
	cp := make(map[string][]string, len(arity))
	for name, params := range arity {
		cp[name] = append([]string(nil), params...)
	}
	return &Parser{arity: cp}
}

var defaultParser = New(actions.Schema().Arity())

// Default returns the parser for the built-in game actions.
func Default() *Parser {
	return defaultParser
}

// Extract returns the calls to the built-in game actions found in text.
func Extract(text string) []Call {
	calls, _ := defaultParser.Parse(text)
	return calls
}

// Parse scans text and returns every well-formed call in order of occurrence,
// plus the malformed ones it dropped.
func (p *Parser) Parse(text string) ([]Call, []Reject) {
	var calls []Call
	var rejects []Reject

	i := 0
	for i < len(text) {
		if !isIdentStart(text[i]) || (i > 0 && isIdentChar(text[i-1])) {
			i++
			continue
		}
		start := i
		for i < len(text) && isIdentChar(text[i]) {
			i++
		}
		name := text[start:i]
		params, known := p.arity[name]
		if !known || i >= len(text) || text[i] != '(' {
			continue
		}

		args, end, err := parseArgs(text, i+1)
		if err == nil && len(args) != len(params) {
			err = fmt.Errorf("expected %d arguments, got %d", len(params), len(args))
		}
		if err != nil {
			rejects = append(rejects, Reject{Name: name, Offset: start, Reason: err.Error()})
			if end > i {
				i = end
			}
			continue
		}

		call := Call{Name: name, Params: make(map[string]string, len(params)), Offset: start}
		for k, pname := range params {
			call.Params[pname] = args[k]
		}
		calls = append(calls, call)
		i = end
	}
	return calls, rejects
}

// parseArgs reads a comma separated argument list starting just after '('.
// It returns the arguments and the offset just past the closing ')'. On error
// the offset is just past the last closed quoted argument, or 0 if none was
// read.
func parseArgs(text string, pos int) ([]string, int, error) {
	var args []string
	resume := 0

	pos = skipSpace(text, pos)
	if pos < len(text) && text[pos] == ')' {
		return nil, pos + 1, nil
	}

	for {
		pos = skipSpace(text, pos)
		if pos >= len(text) {
			return nil, resume, fmt.Errorf("missing closing parenthesis")
		}

		var arg string
		var err error
		if q := text[pos]; q == '\'' || q == '"' {
			arg, pos, err = readQuoted(text, pos)
			if err != nil {
				return nil, resume, err
			}
			resume = pos
			pos = skipSpace(text, pos)
			if pos >= len(text) {
				return nil, resume, fmt.Errorf("missing closing parenthesis")
			}
			if text[pos] != ',' && text[pos] != ')' {
				return nil, resume, fmt.Errorf("unexpected %q after quoted argument", text[pos])
			}
		} else {
			arg, pos, err = readBare(text, pos)
			if err != nil {
				return nil, resume, err
			}
			if arg == "" {
				return nil, resume, fmt.Errorf("empty argument")
			}
		}
		args = append(args, arg)

		if text[pos] == ')' {
			return args, pos + 1, nil
		}
		pos++ // ','
	}
}

// readQuoted reads a quoted string starting at the opening quote. A backslash
// escapes the quote character or another backslash.
func readQuoted(text string, pos int) (string, int, error) {
	quote := text[pos]
	var b strings.Builder
	for i := pos + 1; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text) && (text[i+1] == quote || text[i+1] == '\\'):
			b.WriteByte(text[i+1])
			i++
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated %c-quoted argument", quote)
}

// readBare reads an unquoted token up to the next ',' or ')'. The returned
// offset points at that delimiter.
func readBare(text string, pos int) (string, int, error) {
	for i := pos; i < len(text); i++ {
		switch text[i] {
		case ',', ')':
			return strings.TrimSpace(text[pos:i]), i, nil
		case '(':
			return "", 0, fmt.Errorf("nested parenthesis in unquoted argument")
		case '\'', '"':
			return "", 0, fmt.Errorf("stray quote in unquoted argument")
		case '\n':
			return "", 0, fmt.Errorf("missing closing parenthesis")
		}
	}
	return "", 0, fmt.Errorf("missing closing parenthesis")
}

func skipSpace(text string, pos int) int {
	for pos < len(text) && (text[pos] == ' ' || text[pos] == '\t' || text[pos] == '\n' || text[pos] == '\r') {
		pos++
	}
	return pos
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || ('0' <= c && c <= '9')
}
