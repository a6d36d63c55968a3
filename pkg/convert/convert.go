// Package convert coerces loosely typed payloads, as they come out of a
// text decoder, into values of an exact Go type.
package convert

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Converter turns value into a value of type target.
type Converter func(value any, target reflect.Type) (any, error)

// Constructors finds registered single-argument constructors, used as the
// last resort for targets no other strategy handles.
type Constructors interface {
	Constructor(target, arg reflect.Type) (reflect.Value, bool)
}

// Enums maps enum member names to their values.
type Enums interface {
	EnumValue(t reflect.Type, name string) (int64, bool)
}

// CoercionError reports a value that cannot become the target type.
type CoercionError struct {
	Value  any
	Target reflect.Type
	Err    error
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("cannot coerce %T %v to %s", e.Value, e.Value, e.Target)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// ErrDuplicateConverter is returned when a converter is already registered
// for a target.
var ErrDuplicateConverter = errors.New("converter already registered")

// strategy attempts one kind of coercion. ok is false when the strategy does
// not apply.
type strategy func(c *Coercer, v reflect.Value, target reflect.Type) (out reflect.Value, ok bool, err error)

// Coercer holds custom converters and hooks. It is safe for concurrent use.
type Coercer struct {
	Constructors Constructors
	Enums        Enums

	mu        sync.RWMutex
	custom    map[reflect.Type]Converter
	universal Converter
}

// New returns a Coercer without custom converters.
func New() *Coercer {
	return &Coercer{custom: map[reflect.Type]Converter{}}
}

// Register adds a converter for target. Registering a second converter for
// the same target fails.
func (c *Coercer) Register(target reflect.Type, fn Converter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.custom == nil {
		c.custom = map[reflect.Type]Converter{}
	}
	if _, dup := c.custom[target]; dup {
		return errors.Wrapf(ErrDuplicateConverter, "%s", target)
	}
	c.custom[target] = fn
	return nil
}

// RegisterUniversal adds a converter consulted for every target that has no
// converter of its own.
func (c *Coercer) RegisterUniversal(fn Converter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.universal != nil {
		return errors.Wrap(ErrDuplicateConverter, "universal")
	}
	c.universal = fn
	return nil
}

// Clear removes all custom converters.
func (c *Coercer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom = map[reflect.Type]Converter{}
	c.universal = nil
}

func (c *Coercer) converter(target reflect.Type) Converter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if fn, ok := c.custom[target]; ok {
		return fn
	}
	return c.universal
}

// strategies run in order; the first that applies wins. Assigned in init
// because the container strategies recurse through CoerceValue.
var strategies []strategy

func init() {
	strategies = []strategy{
		identity,
		custom,
		toTime,
		toEnum,
		toBytes,
		toSlice,
		toPointer,
		toStruct,
		toMap,
		toPrimitive,
		viaConstructor,
	}
}

// Coerce converts value to target. nil becomes the zero value of target.
func (c *Coercer) Coerce(value any, target reflect.Type) (any, error) {
	v, err := c.CoerceValue(value, target)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// CoerceValue is Coerce returning a reflect.Value of type target.
func (c *Coercer) CoerceValue(value any, target reflect.Type) (reflect.Value, error) {
	if target == nil {
		return reflect.Value{}, &CoercionError{Value: value, Err: errors.New("missing target type")}
	}
	if value == nil {
		return reflect.Zero(target), nil
	}
	v := reflect.ValueOf(value)
	for _, s := range strategies {
		out, ok, err := s(c, v, target)
		if err != nil {
			var ce *CoercionError
			if errors.As(err, &ce) {
				return reflect.Value{}, err
			}
			return reflect.Value{}, &CoercionError{Value: value, Target: target, Err: err}
		}
		if ok {
			return out, nil
		}
	}
	return reflect.Value{}, &CoercionError{Value: value, Target: target}
}

func (c *Coercer) coerce(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Zero(target), nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(target), nil
		}
		v = v.Elem()
	}
	return c.CoerceValue(v.Interface(), target)
}

func identity(_ *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if v.Type() == target {
		return v, true, nil
	}
	if target.Kind() == reflect.Interface && v.Type().Implements(target) {
		out := reflect.New(target).Elem()
		out.Set(v)
		return out, true, nil
	}
	return reflect.Value{}, false, nil
}

func custom(c *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	fn := c.converter(target)
	if fn == nil {
		return reflect.Value{}, false, nil
	}
	out, err := fn(v.Interface(), target)
	if err != nil {
		return reflect.Value{}, false, err
	}
	if out == nil {
		return reflect.Zero(target), true, nil
	}
	ov := reflect.ValueOf(out)
	if !ov.Type().AssignableTo(target) {
		return reflect.Value{}, false, fmt.Errorf("converter returned %s", ov.Type())
	}
	res := reflect.New(target).Elem()
	res.Set(ov)
	return res, true, nil
}

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
)

// legacyDate finds /Date(ms)/ and /Date(ms+HHMM)/ anywhere in the text, so
// quoted forms such as "/Date(0)/" parse too.
var legacyDate = regexp.MustCompile(`/Date\((-?\d+)(?:([-+])(\d{2})(\d{2}))?\)/`)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp forms a text payload may carry, including
// the legacy /Date(ms±HHMM)/ form. Legacy offsets shift the instant by the
// offset; the result is in UTC.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	m := legacyDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	t := time.UnixMilli(ms).UTC()
	if m[2] != "" {
		sign := 1
		if m[2] == "-" {
			sign = -1
		}
		hours, _ := strconv.Atoi(m[3])
		minutes, _ := strconv.Atoi(m[4])
		t = t.Add(time.Duration(sign*hours) * time.Hour).Add(time.Duration(sign*minutes) * time.Minute)
	}
	return t, nil
}

// timeText is the text a time is parsed from: the String method when there is
// one, otherwise strings as they are and numbers in their printed form.
func timeText(v reflect.Value) (string, bool) {
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String(), true
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(v.Interface()), true
	}
	return "", false
}

func toTime(_ *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if target == timeType {
		text, ok := timeText(v)
		if !ok {
			return reflect.Value{}, false, nil
		}
		t, err := ParseTime(text)
		if err != nil {
			return reflect.Value{}, false, err
		}
		return reflect.ValueOf(t), true, nil
	}
	switch {
	case target == durationType && v.Kind() == reflect.String:
		d, err := time.ParseDuration(v.String())
		if err != nil {
			return reflect.Value{}, false, err
		}
		return reflect.ValueOf(d), true, nil
	}
	return reflect.Value{}, false, nil
}

// isEnum reports whether t is a named integer type declared in a package.
func isEnum(t reflect.Type) bool {
	return t.PkgPath() != "" && isInteger(t)
}

func toEnum(c *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if !isEnum(target) || target == durationType {
		return reflect.Value{}, false, nil
	}
	if v.Kind() == reflect.String {
		if c.Enums != nil {
			if n, ok := c.Enums.EnumValue(target, v.String()); ok {
				out := reflect.New(target).Elem()
				out.SetInt(n)
				return out, true, nil
			}
		}
		return reflect.Value{}, false, nil
	}
	out, ok, err := toPrimitive(c, v, target)
	return out, ok, err
}

func toBytes(_ *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if target.Kind() != reflect.Slice || target.Elem().Kind() != reflect.Uint8 || v.Kind() != reflect.String {
		return reflect.Value{}, false, nil
	}
	b, err := base64.StdEncoding.DecodeString(v.String())
	if err != nil {
		return reflect.Value{}, false, err
	}
	return reflect.ValueOf(b).Convert(target), true, nil
}

func toSlice(c *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if target.Kind() != reflect.Slice && target.Kind() != reflect.Array {
		return reflect.Value{}, false, nil
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return reflect.Value{}, false, nil
	}
	n := v.Len()
	var out reflect.Value
	if target.Kind() == reflect.Array {
		if n != target.Len() {
			return reflect.Value{}, false, fmt.Errorf("need %d elements, got %d", target.Len(), n)
		}
		out = reflect.New(target).Elem()
	} else {
		out = reflect.MakeSlice(target, n, n)
	}
	for i := range n {
		ev, err := c.coerce(v.Index(i), target.Elem())
		if err != nil {
			return reflect.Value{}, false, errors.Wrapf(err, "element %d", i)
		}
		out.Index(i).Set(ev)
	}
	return out, true, nil
}

func toPointer(c *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if target.Kind() != reflect.Pointer {
		return reflect.Value{}, false, nil
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Zero(target), true, nil
		}
		v = v.Elem()
	}
	inner, err := c.CoerceValue(v.Interface(), target.Elem())
	if err != nil {
		return reflect.Value{}, false, err
	}
	p := reflect.New(target.Elem())
	p.Elem().Set(inner)
	return p, true, nil
}

func toStruct(c *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if target.Kind() != reflect.Struct || v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return reflect.Value{}, false, nil
	}
	out := reflect.New(target)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     out.Interface(),
		DecodeHook: c.decodeHook,
		Squash:     true,
	})
	if err != nil {
		return reflect.Value{}, false, err
	}
	if err := dec.Decode(v.Interface()); err != nil {
		return reflect.Value{}, false, err
	}
	return out.Elem(), true, nil
}

// decodeHook lets mapstructure defer to this Coercer for fields whose
// payload needs more than a direct assignment.
func (c *Coercer) decodeHook(from, to reflect.Type, data any) (any, error) {
	if data == nil || from == to {
		return data, nil
	}
	switch {
	case to == timeType, to == durationType, isEnum(to):
		return c.Coerce(data, to)
	case isNumeric(to) && isNumeric(from):
		return c.Coerce(data, to)
	case c.converter(to) != nil:
		return c.Coerce(data, to)
	}
	return data, nil
}

func toMap(c *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if target.Kind() != reflect.Map || v.Kind() != reflect.Map {
		return reflect.Value{}, false, nil
	}
	out := reflect.MakeMapWithSize(target, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := c.coerce(iter.Key(), target.Key())
		if err != nil {
			return reflect.Value{}, false, errors.Wrap(err, "key")
		}
		ev, err := c.coerce(iter.Value(), target.Elem())
		if err != nil {
			return reflect.Value{}, false, errors.Wrapf(err, "value of %v", iter.Key())
		}
		out.SetMapIndex(k, ev)
	}
	return out, true, nil
}

func toPrimitive(_ *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	out := reflect.New(target).Elem()
	switch {
	case target.Kind() == reflect.String:
		s, ok := formatPrimitive(v)
		if !ok {
			return reflect.Value{}, false, nil
		}
		out.SetString(s)
	case target.Kind() == reflect.Bool:
		switch {
		case v.Kind() == reflect.Bool:
			out.SetBool(v.Bool())
		case v.Kind() == reflect.String:
			b, err := strconv.ParseBool(strings.TrimSpace(v.String()))
			if err != nil {
				return reflect.Value{}, false, err
			}
			out.SetBool(b)
		default:
			return reflect.Value{}, false, nil
		}
	case isSigned(target):
		n, err := toInt64(v)
		if err != nil {
			return reflect.Value{}, false, err
		}
		if out.OverflowInt(n) {
			return reflect.Value{}, false, fmt.Errorf("%d overflows %s", n, target)
		}
		out.SetInt(n)
	case isUnsigned(target):
		if v.Kind() == reflect.String {
			if u, err := strconv.ParseUint(strings.TrimSpace(v.String()), 10, 64); err == nil {
				if out.OverflowUint(u) {
					return reflect.Value{}, false, fmt.Errorf("%d overflows %s", u, target)
				}
				out.SetUint(u)
				break
			}
		}
		if isUnsigned(v.Type()) {
			if out.OverflowUint(v.Uint()) {
				return reflect.Value{}, false, fmt.Errorf("%d overflows %s", v.Uint(), target)
			}
			out.SetUint(v.Uint())
			break
		}
		n, err := toInt64(v)
		if err != nil {
			return reflect.Value{}, false, err
		}
		if n < 0 || out.OverflowUint(uint64(n)) {
			return reflect.Value{}, false, fmt.Errorf("%d overflows %s", n, target)
		}
		out.SetUint(uint64(n))
	case isFloat(target):
		f, err := toFloat64(v)
		if err != nil {
			return reflect.Value{}, false, err
		}
		out.SetFloat(f)
	default:
		return reflect.Value{}, false, nil
	}
	return out, true, nil
}

func formatPrimitive(v reflect.Value) (string, bool) {
	switch {
	case v.Kind() == reflect.String:
		return v.String(), true
	case v.Kind() == reflect.Bool:
		return strconv.FormatBool(v.Bool()), true
	case isSigned(v.Type()):
		return strconv.FormatInt(v.Int(), 10), true
	case isUnsigned(v.Type()):
		return strconv.FormatUint(v.Uint(), 10), true
	case isFloat(v.Type()):
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), true
	}
	return "", false
}

// toInt64 converts numbers and numeric strings. Fractions round half to
// even.
func toInt64(v reflect.Value) (int64, error) {
	switch {
	case isSigned(v.Type()):
		return v.Int(), nil
	case isUnsigned(v.Type()):
		if v.Uint() > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", v.Uint())
		}
		return int64(v.Uint()), nil
	case isFloat(v.Type()):
		f := math.RoundToEven(v.Float())
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%v overflows int64", v.Float())
		}
		return int64(f), nil
	case v.Kind() == reflect.String:
		s := strings.TrimSpace(v.String())
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return toInt64(reflect.ValueOf(f))
	case v.Kind() == reflect.Bool:
		if v.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%s is not numeric", v.Type())
}

func toFloat64(v reflect.Value) (float64, error) {
	switch {
	case isFloat(v.Type()):
		return v.Float(), nil
	case isSigned(v.Type()):
		return float64(v.Int()), nil
	case isUnsigned(v.Type()):
		return float64(v.Uint()), nil
	case v.Kind() == reflect.String:
		return strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
	}
	return 0, fmt.Errorf("%s is not numeric", v.Type())
}

func viaConstructor(c *Coercer, v reflect.Value, target reflect.Type) (reflect.Value, bool, error) {
	if c.Constructors == nil {
		return reflect.Value{}, false, nil
	}
	fn, ok := c.Constructors.Constructor(target, v.Type())
	if !ok {
		return reflect.Value{}, false, nil
	}
	out := fn.Call([]reflect.Value{v})
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, false, out[1].Interface().(error)
	}
	return out[0], true, nil
}

func isNumeric(t reflect.Type) bool {
	return isInteger(t) || isFloat(t)
}

func isInteger(t reflect.Type) bool {
	return isSigned(t) || isUnsigned(t)
}

func isSigned(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(t reflect.Type) bool {
	return t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64
}
