package expr

// Children returns the direct subexpressions of e in evaluation order.
func Children(e Expression) []Expression {
	switch e := e.(type) {
	case *BinaryExpr:
		return []Expression{e.Left, e.Right}
	case *UnaryExpr:
		return []Expression{e.Operand}
	case *ConditionalExpr:
		return []Expression{e.Test, e.IfTrue, e.IfFalse}
	case *MemberExpr:
		if e.Target == nil {
			return nil
		}
		return []Expression{e.Target}
	case *CallExpr:
		var out []Expression
		if e.Target != nil {
			out = append(out, e.Target)
		}
		return append(out, e.Args...)
	case *NewExpr:
		return e.Args
	case *NewArrayExpr:
		return e.Elems
	case *MemberInitExpr:
		out := []Expression{e.New}
		for _, b := range e.Bindings {
			out = append(out, b.Value)
		}
		return out
	case *TypeIsExpr:
		return []Expression{e.Operand}
	case *LambdaExpr:
		out := make([]Expression, 0, len(e.Params)+1)
		for _, p := range e.Params {
			out = append(out, p)
		}
		return append(out, e.Body)
	}
	return nil
}

// Walk visits e and its descendants depth first. Returning false from fn
// skips the children of the visited expression.
func Walk(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	for _, c := range Children(e) {
		Walk(c, fn)
	}
}

// Parameters returns the distinct parameters referenced under e, in order of
// first appearance.
func Parameters(e Expression) []*ParameterExpr {
	var out []*ParameterExpr
	seen := map[*ParameterExpr]bool{}
	Walk(e, func(x Expression) bool {
		if p, ok := x.(*ParameterExpr); ok && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
		return true
	})
	return out
}
