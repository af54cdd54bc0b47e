// Copyright 2025 TenantGate
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// rootOps are the operations permitted directly on a collection.
var rootOps = map[string]bool{
	"find":           true,
	"findOne":        true,
	"aggregate":      true,
	"countDocuments": true,
	"insertOne":      true,
	"insertMany":     true,
	"updateOne":      true,
	"updateMany":     true,
	"deleteOne":      true,
	"deleteMany":     true,
}

// chainOps are the operations permitted after the root operation.
var chainOps = map[string]bool{
	"project": true,
	"sort":    true,
	"skip":    true,
	"limit":   true,
	"toArray": true,
}

// Call is one parsed method invocation with decoded arguments.
type Call struct {
	Name string
	Args []interface{}
}

// Expression is a fully parsed sandbox expression:
// db.<collection>.<op>(args...)[.<chainOp>(args...)...]
type Expression struct {
	Collection string
	Op         Call
	Chain      []Call
}

// Parse decodes an expression against the grammar. Operations outside the
// allow-list yield ErrDisallowedOperation; anything else that does not parse
// yields a plain parse error. Arguments are extended-JSON literals, so
// values like {"$oid": "..."} or {"$numberLong": "..."} decode to their BSON
// types.
func Parse(input string) (*Expression, error) {
	s := &scanner{src: strings.TrimSpace(input)}

	if !s.consume("db") || !s.consume(".") {
		return nil, fmt.Errorf("expression must start with db.<collection>")
	}

	collection := s.ident()
	if collection == "" {
		return nil, fmt.Errorf("missing collection name")
	}
	if !s.consume(".") {
		return nil, fmt.Errorf("expected operation after collection %q", collection)
	}

	op, err := s.call()
	if err != nil {
		return nil, err
	}
	if !rootOps[op.Name] {
		return nil, fmt.Errorf("%w: %s", ErrDisallowedOperation, op.Name)
	}

	expr := &Expression{Collection: collection, Op: *op}

	for s.consume(".") {
		c, err := s.call()
		if err != nil {
			return nil, err
		}
		if !chainOps[c.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDisallowedOperation, c.Name)
		}
		expr.Chain = append(expr.Chain, *c)
	}

	if !s.done() {
		return nil, fmt.Errorf("unexpected trailing input at offset %d", s.pos)
	}

	return expr, nil
}

// scanner walks an expression byte by byte. Arguments are scanned with
// balanced-delimiter tracking so braces and commas inside string literals do
// not confuse the parser.
type scanner struct {
	src string
	pos int
}

func (s *scanner) done() bool {
	s.skipSpace()
	return s.pos >= len(s.src)
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) && (s.src[s.pos] == ' ' || s.src[s.pos] == '\t' || s.src[s.pos] == '\n' || s.src[s.pos] == '\r') {
		s.pos++
	}
}

// consume advances past tok if it is next, preferring the longest match for
// identifiers ("db" does not match "dbx").
func (s *scanner) consume(tok string) bool {
	s.skipSpace()
	if !strings.HasPrefix(s.src[s.pos:], tok) {
		return false
	}
	if isIdentChar(tok[len(tok)-1]) {
		next := s.pos + len(tok)
		if next < len(s.src) && isIdentChar(s.src[next]) {
			return false
		}
	}
	s.pos += len(tok)
	return true
}

func (s *scanner) ident() string {
	s.skipSpace()
	start := s.pos
	for s.pos < len(s.src) && isIdentChar(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '-' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// call scans `<name>(<args>)` and decodes each argument.
func (s *scanner) call() (*Call, error) {
	name := s.ident()
	if name == "" {
		return nil, fmt.Errorf("expected method name at offset %d", s.pos)
	}
	if !s.consume("(") {
		return nil, fmt.Errorf("expected ( after %s", name)
	}

	raw, err := s.scanArgs()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	c := &Call{Name: name}
	for _, arg := range raw {
		v, err := decodeArg(arg)
		if err != nil {
			return nil, fmt.Errorf("%s: argument %q: %w", name, arg, err)
		}
		c.Args = append(c.Args, v)
	}

	return c, nil
}

// scanArgs consumes up to and including the closing paren, splitting
// arguments on top-level commas. An empty argument between delimiters is a
// parse error; it would silently shift the remaining arguments into the
// wrong positions.
func (s *scanner) scanArgs() ([]string, error) {
	var args []string
	var depth int
	var inString bool
	var sawComma bool
	start := s.pos

	for s.pos < len(s.src) {
		c := s.src[s.pos]

		if inString {
			switch c {
			case '\\':
				s.pos++ // skip the escaped byte
			case '"':
				inString = false
			}
			s.pos++
			continue
		}

		switch c {
		case '"':
			inString = true
		case '(', '[', '{':
			depth++
		case ']', '}':
			depth--
		case ')':
			if depth == 0 {
				arg := strings.TrimSpace(s.src[start:s.pos])
				if arg != "" {
					args = append(args, arg)
				} else if sawComma {
					return nil, fmt.Errorf("empty argument at offset %d", s.pos)
				}
				s.pos++
				return args, nil
			}
			depth--
		case ',':
			if depth == 0 {
				sawComma = true
				arg := strings.TrimSpace(s.src[start:s.pos])
				if arg == "" {
					return nil, fmt.Errorf("empty argument at offset %d", s.pos)
				}
				args = append(args, arg)
				start = s.pos + 1
			}
		}
		s.pos++
	}

	return nil, fmt.Errorf("unterminated argument list")
}

// decodeArg parses one extended-JSON argument literal. Wrapping in a
// single-field document lets scalars and documents share one decode path
// while keeping extended-JSON types intact.
func decodeArg(raw string) (interface{}, error) {
	var wrapper struct {
		V interface{} `bson:"v"`
	}
	if err := bson.UnmarshalExtJSON([]byte(`{"v":`+raw+`}`), false, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.V, nil
}
