package main

import (
	"reflect"
	"time"

	"github.com/gottscj/Serialize.Linq/pkg/expr"
	"github.com/gottscj/Serialize.Linq/pkg/people"
)

// demo is a canned query: a predicate over persons and, optionally, a
// projection applied to the matches.
type demo struct {
	Name    string
	Title   string
	Filter  *expr.LambdaExpr
	Project *expr.LambdaExpr
}

func demos() []demo {
	p := expr.Parameter(people.PersonType, "p")
	field := func(name string) expr.Expression {
		return expr.Must(expr.Field(p, name))
	}
	where := func(op expr.BinaryOp, l, r expr.Expression) *expr.LambdaExpr {
		return expr.Lambda(expr.Must(expr.MakeBinary(op, l, r)), p)
	}
	japan := where(expr.Equal, field("Residence"), expr.Constant("Japan"))

	return []demo{
		{
			Name:   "japan",
			Title:  "Residence in Japan",
			Filter: japan,
		},
		{
			Name:   "centenarians",
			Title:  "Aged 100 or more",
			Filter: where(expr.GreaterThanOrEqual, field("Age"), expr.Constant(100)),
		},
		{
			Name:   "male",
			Title:  "Male",
			Filter: where(expr.Equal, field("Gender"), expr.Constant(people.Male)),
		},
		{
			Name:  "living",
			Title: "Still living",
			Filter: where(expr.Equal, field("DeathDate"),
				expr.Must(expr.TypedConstant(nil, reflect.TypeFor[*time.Time]()))),
		},
		{
			Name:   "ages",
			Title:  "Ages of residents of Japan",
			Filter: japan,
			Project: expr.Lambda(expr.Must(expr.MemberInit(expr.New(people.PersonType),
				expr.Set("Age", field("Age")),
			)), p),
		},
	}
}

// pick returns the demos named, or all of them when names is empty.
func pick(names []string) ([]demo, error) {
	all := demos()
	if len(names) == 0 {
		return all, nil
	}
	var out []demo
	for _, name := range names {
		found := false
		for _, d := range all {
			if d.Name == name {
				out = append(out, d)
				found = true
				break
			}
		}
		if !found {
			return nil, &unknownQueryError{Name: name, Known: all}
		}
	}
	return out, nil
}

type unknownQueryError struct {
	Name  string
	Known []demo
}

func (e *unknownQueryError) Error() string {
	msg := "unknown query " + e.Name + "; known:"
	for _, d := range e.Known {
		msg += " " + d.Name
	}
	return msg
}
