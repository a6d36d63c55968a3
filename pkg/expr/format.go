package expr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (c *ConstantExpr) String() string {
	v := c.Interface()
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func (p *ParameterExpr) String() string { return p.Name }

func (c *CaptureExpr) String() string { return "value(" + c.Name + ")" }

func (b *BinaryExpr) String() string {
	if b.Op == ArrayIndex {
		return fmt.Sprintf("%s[%s]", b.Left, b.Right)
	}
	return fmt.Sprintf("(%s %s %s)", b.Left, b.Op.Symbol(), b.Right)
}

func (u *UnaryExpr) String() string {
	switch u.Op {
	case Negate:
		return "-" + u.Operand.String()
	case UnaryPlus:
		return "+" + u.Operand.String()
	case Not:
		return "!" + u.Operand.String()
	case ArrayLength:
		return "len(" + u.Operand.String() + ")"
	case Convert:
		return fmt.Sprintf("Convert(%s, %s)", u.Operand, u.typ)
	}
	return u.Operand.String()
}

func (c *ConditionalExpr) String() string {
	return fmt.Sprintf("IIF(%s, %s, %s)", c.Test, c.IfTrue, c.IfFalse)
}

func (m *MemberExpr) String() string {
	if m.Target == nil {
		return m.Member.Owner.Name() + "." + m.Member.Name
	}
	return m.Target.String() + "." + m.Member.Name
}

func (c *CallExpr) String() string {
	recv := c.Method.Owner.Name()
	if c.Target != nil {
		recv = c.Target.String()
	}
	return recv + "." + c.Method.Name + "(" + joinExprs(c.Args) + ")"
}

func (n *NewExpr) String() string {
	return fmt.Sprintf("new %s(%s)", n.typ, joinExprs(n.Args))
}

func (n *NewArrayExpr) String() string {
	return fmt.Sprintf("new []%s{%s}", n.Elem, joinExprs(n.Elems))
}

func (m *MemberInitExpr) String() string {
	parts := make([]string, len(m.Bindings))
	for i, b := range m.Bindings {
		parts[i] = b.Member.Name + " = " + b.Value.String()
	}
	return fmt.Sprintf("%s {%s}", m.New, strings.Join(parts, ", "))
}

func (t *TypeIsExpr) String() string {
	return fmt.Sprintf("(%s is %s)", t.Operand, t.Test)
}

func (l *LambdaExpr) String() string {
	if len(l.Params) == 1 {
		return l.Params[0].Name + " => " + l.Body.String()
	}
	names := make([]string, len(l.Params))
	for i, p := range l.Params {
		names[i] = p.Name
	}
	return "(" + strings.Join(names, ", ") + ") => " + l.Body.String()
}

func joinExprs(es []Expression) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
