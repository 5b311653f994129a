// Package query compiles filter mappings into predicates over documents.
//
// A filter is a mapping of field name to clause. A clause is either a literal, which
// matches by equality (or membership when the document field is an array), or a single
// comparison operator of the form {"$gt": n}. All clauses must hold for a document to
// match; the empty filter matches every document.
package query

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dDoc/lib/document"
)

// Operator identifies a comparison clause.
type Operator uint8

const (
	OpEq  Operator = iota // literal equality / array membership
	OpGt                  // $gt
	OpGte                 // $gte
	OpLt                  // $lt
	OpLte                 // $lte
)

var operators = map[string]Operator{
	"$gt":  OpGt,
	"$gte": OpGte,
	"$lt":  OpLt,
	"$lte": OpLte,
}

// String returns the operator token as it appears in a filter.
func (op Operator) String() string {
	switch op {
	case OpEq:
		return "$eq"
	case OpGt:
		return "$gt"
	case OpGte:
		return "$gte"
	case OpLt:
		return "$lt"
	case OpLte:
		return "$lte"
	default:
		return "unknown"
	}
}

// Error is returned by Compile when a filter is malformed.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return "invalid query: " + e.Msg
	}
	return fmt.Sprintf("invalid query: field %q: %s", e.Field, e.Msg)
}

type clause struct {
	field   string
	op      Operator
	operand document.Value
}

// Query is a compiled filter. The zero Query matches every document.
type Query struct {
	clauses []clause
}

// All returns a query matching every document.
func All() Query { return Query{} }

// Compile validates filter and returns the compiled query. A nil filter is the empty
// filter.
//
// A mapping clause whose keys start with '$' must consist of exactly one known operator
// with a numeric operand. Mappings without '$' keys are compared as literals.
func Compile(filter *document.Object) (Query, error) {
	q := Query{clauses: make([]clause, 0, filter.Len())}
	var err error
	filter.Range(func(field string, v document.Value) bool {
		var c clause
		c, err = compileClause(field, v)
		if err != nil {
			return false
		}
		q.clauses = append(q.clauses, c)
		return true
	})
	if err != nil {
		return Query{}, err
	}
	return q, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(filter *document.Object) Query {
	q, err := Compile(filter)
	if err != nil {
		panic(err)
	}
	return q
}

func compileClause(field string, v document.Value) (clause, error) {
	obj, ok := v.AsObject()
	if !ok || !hasOperatorKey(obj) {
		return clause{field: field, op: OpEq, operand: v}, nil
	}

	if obj.Len() != 1 {
		return clause{}, &Error{Field: field, Msg: "operator mapping must contain exactly one operator"}
	}
	key := obj.Keys()[0]
	op, known := operators[key]
	if !known {
		return clause{}, &Error{Field: field, Msg: fmt.Sprintf("unknown operator %q", key)}
	}
	operand, _ := obj.Get(key)
	if operand.Kind() != document.KindNumber {
		return clause{}, &Error{Field: field, Msg: fmt.Sprintf("operator %s requires a numeric operand, got %s", key, operand.Kind())}
	}
	return clause{field: field, op: op, operand: operand}, nil
}

func hasOperatorKey(obj *document.Object) bool {
	found := false
	obj.Range(func(key string, _ document.Value) bool {
		found = strings.HasPrefix(key, "$")
		return !found
	})
	return found
}

// Match reports whether doc satisfies every clause of q.
func (q Query) Match(doc *document.Object) bool {
	for _, c := range q.clauses {
		v, ok := doc.Get(c.field)
		if !ok {
			return false
		}
		if !c.match(v) {
			return false
		}
	}
	return true
}

// IsEmpty reports whether q matches every document.
func (q Query) IsEmpty() bool { return len(q.clauses) == 0 }

func (c clause) match(v document.Value) bool {
	if c.op == OpEq {
		if document.Equal(v, c.operand) {
			return true
		}
		items, isArray := v.AsArray()
		if !isArray {
			return false
		}
		for _, item := range items {
			if document.Equal(item, c.operand) {
				return true
			}
		}
		return false
	}

	cmp, ok := document.CompareNumbers(v, c.operand)
	if !ok {
		return false
	}
	switch c.op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}
