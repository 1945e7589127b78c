// Package predicate implements Kestrel's predicate runtime: compiled
// predicate storage, pooled evaluation instances, resource-ceiling
// enforcement, and a small host-call surface the compiled predicate tree
// is evaluated against.
//
// Grounded on the teacher's expr package
// (github.com/randalmurphal/flowgraph, pkg/flowgraph/expr/evaluate.go):
// the Evaluator/Option construction pattern and its operator table are
// kept, but the teacher's string-expression parser is replaced with a
// pre-compiled op-tree IR per spec.md §4.3 ("pre-compile as far as
// possible" and a "small, versioned call surface") — a real predicate
// runtime cannot re-parse text on every event.
package predicate

import (
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// Op identifies a node kind in the compiled predicate tree.
type Op int

const (
	OpAnd Op = iota
	OpOr
	OpNot
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpHasField
	OpReMatch
	OpGlobMatch
	OpAlertEmit
)

// Node is one node of a compiled predicate's op tree: the opaque compiled
// artifact referenced by spec.md §3's "Compiled predicate". Leaf nodes
// (comparisons, field tests, pattern matches) carry a FieldID and, for
// comparisons, a literal operand; interior nodes (And/Or/Not) carry
// children.
type Node struct {
	Op       Op
	Field    schema.FieldID
	Literal  Value
	PatternID int
	Children []*Node

	// CaptureFields is OpAlertEmit's payload: the fields read off the
	// triggering event into the emitted AlertContext's Captures map.
	CaptureFields []schema.FieldID
}

// Value is a compile-time literal operand for a comparison node. It
// mirrors kevent.Value's variants but lives in the predicate package to
// avoid the runtime depending on the builder API.
type Value struct {
	Kind  ValueKind
	I64   int64
	U64   uint64
	F64   float64
	Bool  bool
	Bytes []byte
}

// ValueKind distinguishes Value's active variant.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueI64
	ValueU64
	ValueF64
	ValueBool
	ValueBytes
)

// And builds a conjunction node.
func And(children ...*Node) *Node { return &Node{Op: OpAnd, Children: children} }

// Or builds a disjunction node.
func Or(children ...*Node) *Node { return &Node{Op: OpOr, Children: children} }

// Not negates a single child.
func Not(child *Node) *Node { return &Node{Op: OpNot, Children: []*Node{child}} }

// Eq compares a field for equality with a literal.
func Eq(field schema.FieldID, lit Value) *Node { return &Node{Op: OpEq, Field: field, Literal: lit} }

// Ne compares a field for inequality with a literal.
func Ne(field schema.FieldID, lit Value) *Node { return &Node{Op: OpNe, Field: field, Literal: lit} }

// Lt, Le, Gt, Ge build numeric ordering comparisons.
func Lt(field schema.FieldID, lit Value) *Node { return &Node{Op: OpLt, Field: field, Literal: lit} }
func Le(field schema.FieldID, lit Value) *Node { return &Node{Op: OpLe, Field: field, Literal: lit} }
func Gt(field schema.FieldID, lit Value) *Node { return &Node{Op: OpGt, Field: field, Literal: lit} }
func Ge(field schema.FieldID, lit Value) *Node { return &Node{Op: OpGe, Field: field, Literal: lit} }

// HasField builds a presence-check node.
func HasField(field schema.FieldID) *Node { return &Node{Op: OpHasField, Field: field} }

// ReMatch builds a regex-match node against a pattern registered at load
// time (spec.md §4.3: "Pattern IDs are allocated at predicate-load time").
func ReMatch(field schema.FieldID, patternID int) *Node {
	return &Node{Op: OpReMatch, Field: field, PatternID: patternID}
}

// GlobMatch builds a glob-match node against a pattern registered at load
// time.
func GlobMatch(field schema.FieldID, patternID int) *Node {
	return &Node{Op: OpGlobMatch, Field: field, PatternID: patternID}
}

// AlertEmit builds a host-call node implementing spec.md §4.3's
// alert_emit(ctx): it records an AlertContext carrying captureFields' values
// off the triggering event and always evaluates true, so it composes with
// And/Or like any other node (e.g. And(HasField(x), AlertEmit(x))).
func AlertEmit(captureFields ...schema.FieldID) *Node {
	return &Node{Op: OpAlertEmit, CaptureFields: captureFields}
}

// RequiredFields walks the tree collecting the distinct FieldIDs it reads,
// for interest pushdown (spec.md §4.3: "declares the set of FieldIds it
// reads").
func RequiredFields(n *Node) []schema.FieldID {
	seen := make(map[schema.FieldID]bool)
	var walk func(*Node)
	walk = func(node *Node) {
		if node == nil {
			return
		}
		switch node.Op {
		case OpAnd, OpOr, OpNot:
			// interior nodes read nothing themselves
		case OpAlertEmit:
			for _, f := range node.CaptureFields {
				seen[f] = true
			}
		default:
			seen[node.Field] = true
		}
		for _, c := range node.Children {
			walk(c)
		}
	}
	walk(n)

	out := make([]schema.FieldID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// NodeCount returns the number of nodes in the tree, used to reject
// pathologically large artifacts at load time.
func NodeCount(n *Node) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, c := range n.Children {
		count += NodeCount(c)
	}
	return count
}
