package predicate

import "github.com/kestrel-edr/kestrel/pkg/kestrel/kerrors"

// evalTree walks a compiled predicate tree against host, charging one
// instruction per node visited and failing with RuntimeResourceExhausted
// once the sandboxed backend's CPU ceiling is crossed.
func evalTree(node *Node, host *hostContext) (bool, error) {
	if node == nil {
		return false, nil
	}
	if !host.chargeInstruction() {
		return false, &kerrors.RuntimeError{
			PredicateID: host.predicateID,
			Kind:        kerrors.RuntimeResourceExhausted,
			Err:         errCPUBudgetExceeded,
		}
	}

	switch node.Op {
	case OpAnd:
		for _, c := range node.Children {
			ok, err := evalTree(c, host)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case OpOr:
		for _, c := range node.Children {
			ok, err := evalTree(c, host)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case OpNot:
		ok, err := evalTree(node.Children[0], host)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case OpHasField:
		return host.eventHasField(node.Field), nil

	case OpReMatch:
		return host.reMatch(node.Field, node.PatternID), nil

	case OpGlobMatch:
		return host.globMatch(node.Field, node.PatternID), nil

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return evalComparison(node, host)

	case OpAlertEmit:
		host.alertEmit(node.CaptureFields)
		return true, nil

	default:
		return false, nil
	}
}

func evalComparison(node *Node, host *hostContext) (bool, error) {
	lit := node.Literal

	switch lit.Kind {
	case ValueI64:
		got, ok := host.eventGetI64(node.Field)
		if !ok {
			return node.Op == OpNe, nil
		}
		return compareOrdered(node.Op, got, lit.I64), nil

	case ValueU64:
		got, ok := host.eventGetU64(node.Field)
		if !ok {
			return node.Op == OpNe, nil
		}
		return compareOrdered(node.Op, got, lit.U64), nil

	case ValueF64:
		got, ok := host.eventGetF64(node.Field)
		if !ok {
			return node.Op == OpNe, nil
		}
		return compareOrdered(node.Op, got, lit.F64), nil

	case ValueBool:
		got, ok := host.eventGetBool(node.Field)
		if !ok {
			return node.Op == OpNe, nil
		}
		switch node.Op {
		case OpEq:
			return got == lit.Bool, nil
		case OpNe:
			return got != lit.Bool, nil
		default:
			return false, nil
		}

	case ValueBytes:
		got, ok := host.eventGetStr(node.Field)
		if !ok {
			return node.Op == OpNe, nil
		}
		litStr := string(lit.Bytes)
		switch node.Op {
		case OpEq:
			return got == litStr, nil
		case OpNe:
			return got != litStr, nil
		case OpLt:
			return got < litStr, nil
		case OpLe:
			return got <= litStr, nil
		case OpGt:
			return got > litStr, nil
		case OpGe:
			return got >= litStr, nil
		}
	}
	return false, nil
}

type ordered interface {
	~int64 | ~uint64 | ~float64
}

func compareOrdered[T ordered](op Op, got, want T) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpLt:
		return got < want
	case OpLe:
		return got <= want
	case OpGt:
		return got > want
	case OpGe:
		return got >= want
	default:
		return false
	}
}

var errCPUBudgetExceeded = &budgetError{}

type budgetError struct{}

func (*budgetError) Error() string { return "predicate CPU instruction budget exhausted" }
