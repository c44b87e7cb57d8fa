package clickrow

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TypeKind identifies a ClickHouse column type family.
type TypeKind int

// TypeKind Constants
const (
	TypeBool TypeKind = iota + 1
	TypeUInt8
	TypeUInt16
	TypeUInt32
	TypeUInt64
	TypeUInt128
	TypeUInt256
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeInt128
	TypeInt256
	TypeFloat32
	TypeFloat64
	TypeDecimal
	TypeString
	TypeFixedString
	TypeEnum8
	TypeEnum16
	TypeDate
	TypeDate32
	TypeDateTime
	TypeDateTime64
	TypeUUID
	TypeIPv4
	TypeIPv6
	TypeArray
	TypeTuple
	TypeMap
	TypeNullable
	TypeJSON
)

var plainTypes = map[string]TypeKind{
	"Bool":    TypeBool,
	"UInt8":   TypeUInt8,
	"UInt16":  TypeUInt16,
	"UInt32":  TypeUInt32,
	"UInt64":  TypeUInt64,
	"UInt128": TypeUInt128,
	"UInt256": TypeUInt256,
	"Int8":    TypeInt8,
	"Int16":   TypeInt16,
	"Int32":   TypeInt32,
	"Int64":   TypeInt64,
	"Int128":  TypeInt128,
	"Int256":  TypeInt256,
	"Float32": TypeFloat32,
	"Float64": TypeFloat64,
	"String":  TypeString,
	"Date":    TypeDate,
	"Date32":  TypeDate32,
	"UUID":    TypeUUID,
	"IPv4":    TypeIPv4,
	"IPv6":    TypeIPv6,
	"JSON":    TypeJSON,
}

var kindNamesByType = map[TypeKind]string{
	TypeBool: "Bool", TypeUInt8: "UInt8", TypeUInt16: "UInt16", TypeUInt32: "UInt32",
	TypeUInt64: "UInt64", TypeUInt128: "UInt128", TypeUInt256: "UInt256",
	TypeInt8: "Int8", TypeInt16: "Int16", TypeInt32: "Int32", TypeInt64: "Int64",
	TypeInt128: "Int128", TypeInt256: "Int256", TypeFloat32: "Float32", TypeFloat64: "Float64",
	TypeDecimal: "Decimal", TypeString: "String", TypeFixedString: "FixedString",
	TypeEnum8: "Enum8", TypeEnum16: "Enum16", TypeDate: "Date", TypeDate32: "Date32",
	TypeDateTime: "DateTime", TypeDateTime64: "DateTime64", TypeUUID: "UUID",
	TypeIPv4: "IPv4", TypeIPv6: "IPv6", TypeArray: "Array", TypeTuple: "Tuple", TypeMap: "Map",
	TypeNullable: "Nullable", TypeJSON: "JSON",
}

// TypeDesc describes one column type. It drives both the decoder and
// the encoder. Descriptors are immutable once parsed and are shared
// across rows via the parse cache.
type TypeDesc struct {
	Kind      TypeKind
	Precision int            // Decimal precision, DateTime64 tick precision
	Scale     int            // Decimal scale
	Size      int            // FixedString byte length
	Loc       *time.Location // DateTime/DateTime64 timezone, nil if naive
	Args      []*TypeDesc    // Array/Tuple/Map/Nullable children

	enum    map[int16]string
	enumRev map[string]int16
}

// String returns the canonical form of the type expression.
func (t *TypeDesc) String() string {
	switch t.Kind {
	case TypeDecimal:
		return fmt.Sprintf("Decimal(%d, %d)", t.Precision, t.Scale)
	case TypeFixedString:
		return fmt.Sprintf("FixedString(%d)", t.Size)
	case TypeEnum8, TypeEnum16:
		return kindNamesByType[t.Kind] + "(" + t.enumString() + ")"
	case TypeDateTime:
		if t.Loc != nil {
			return fmt.Sprintf("DateTime('%s')", t.Loc)
		}
		return "DateTime"
	case TypeDateTime64:
		if t.Loc != nil {
			return fmt.Sprintf("DateTime64(%d, '%s')", t.Precision, t.Loc)
		}
		return fmt.Sprintf("DateTime64(%d)", t.Precision)
	case TypeArray, TypeNullable:
		return kindNamesByType[t.Kind] + "(" + t.Args[0].String() + ")"
	case TypeTuple, TypeMap:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.String()
		}
		return kindNamesByType[t.Kind] + "(" + strings.Join(args, ", ") + ")"
	}
	return kindNamesByType[t.Kind]
}

func (t *TypeDesc) enumString() string {
	// keep ascending tag order for a stable canonical form
	type pair struct {
		tag  int16
		name string
	}
	pairs := make([]pair, 0, len(t.enum))
	for tag, name := range t.enum {
		pairs = append(pairs, pair{tag, name})
	}
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].tag > pairs[j].tag; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = fmt.Sprintf("'%s' = %d", p.name, p.tag)
	}
	return strings.Join(parts, ", ")
}

// decimalWidth returns the backing integer width in bytes for a
// Decimal of the given precision.
func decimalWidth(precision int) int {
	switch {
	case precision <= 9:
		return 4
	case precision <= 18:
		return 8
	case precision <= 38:
		return 16
	default:
		return 32
	}
}

// typeCache is process-wide and append-only. Parses of the same
// string are value-equal, so a racing double insert is harmless.
var typeCache = struct {
	sync.RWMutex
	m map[string]*TypeDesc
}{m: make(map[string]*TypeDesc)}

// ParseType parses a ClickHouse type expression such as
// Nullable(Map(String, Array(Decimal(10, 2)))) into a descriptor.
// Results are cached by the exact input string.
func ParseType(expr string) (*TypeDesc, error) {
	typeCache.RLock()
	t, ok := typeCache.m[expr]
	typeCache.RUnlock()
	if ok {
		return t, nil
	}
	t, err := parseTypeExpr(expr)
	if err != nil {
		return nil, err
	}
	typeCache.Lock()
	typeCache.m[expr] = t
	typeCache.Unlock()
	return t, nil
}

func parseTypeExpr(expr string) (*TypeDesc, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, errorf(MalformedType, "empty type expression")
	}
	open := strings.IndexByte(s, '(')
	if open == -1 {
		if kind, ok := plainTypes[s]; ok {
			return &TypeDesc{Kind: kind}, nil
		}
		switch s {
		case "DateTime":
			return &TypeDesc{Kind: TypeDateTime}, nil
		}
		return nil, errorf(UnknownType, "%s", s)
	}
	if s[len(s)-1] != ')' {
		return nil, errorf(MalformedType, "unbalanced parentheses in %q", expr)
	}
	base := strings.TrimSpace(s[:open])
	args, err := splitTypeArgs(s[open+1 : len(s)-1])
	if err != nil {
		return nil, errorf(MalformedType, "%s in %q", err, expr)
	}
	switch base {
	case "Nullable":
		if len(args) != 1 {
			return nil, errorf(MalformedType, "Nullable takes one argument, got %d", len(args))
		}
		inner, err := parseTypeExpr(args[0])
		if err != nil {
			return nil, err
		}
		if inner.Kind == TypeNullable {
			return nil, errorf(MalformedType, "Nullable cannot nest directly in %q", expr)
		}
		return &TypeDesc{Kind: TypeNullable, Args: []*TypeDesc{inner}}, nil
	case "LowCardinality":
		// flattened server-side in the row formats: behaves as the inner type
		if len(args) != 1 {
			return nil, errorf(MalformedType, "LowCardinality takes one argument, got %d", len(args))
		}
		return parseTypeExpr(args[0])
	case "Array":
		if len(args) != 1 {
			return nil, errorf(MalformedType, "Array takes one argument, got %d", len(args))
		}
		inner, err := parseTypeExpr(args[0])
		if err != nil {
			return nil, err
		}
		return &TypeDesc{Kind: TypeArray, Args: []*TypeDesc{inner}}, nil
	case "Tuple":
		if len(args) == 0 {
			return nil, errorf(MalformedType, "Tuple needs at least one element")
		}
		elems := make([]*TypeDesc, len(args))
		for i, arg := range args {
			elem, err := parseTupleElem(arg)
			if err != nil {
				return nil, err
			}
			elems[i] = elem
		}
		return &TypeDesc{Kind: TypeTuple, Args: elems}, nil
	case "Map":
		if len(args) != 2 {
			return nil, errorf(MalformedType, "Map takes two arguments, got %d", len(args))
		}
		key, err := parseTypeExpr(args[0])
		if err != nil {
			return nil, err
		}
		value, err := parseTypeExpr(args[1])
		if err != nil {
			return nil, err
		}
		return &TypeDesc{Kind: TypeMap, Args: []*TypeDesc{key, value}}, nil
	case "Decimal":
		if len(args) != 2 {
			return nil, errorf(MalformedType, "Decimal takes precision and scale, got %d arguments", len(args))
		}
		precision, err := parseTypeInt(args[0])
		if err != nil {
			return nil, err
		}
		scale, err := parseTypeInt(args[1])
		if err != nil {
			return nil, err
		}
		return newDecimal(precision, scale)
	case "Decimal32", "Decimal64", "Decimal128", "Decimal256":
		if len(args) != 1 {
			return nil, errorf(MalformedType, "%s takes scale only, got %d arguments", base, len(args))
		}
		scale, err := parseTypeInt(args[0])
		if err != nil {
			return nil, err
		}
		precision := map[string]int{
			"Decimal32": 9, "Decimal64": 18, "Decimal128": 38, "Decimal256": 76,
		}[base]
		return newDecimal(precision, scale)
	case "FixedString":
		if len(args) != 1 {
			return nil, errorf(MalformedType, "FixedString takes one argument, got %d", len(args))
		}
		n, err := parseTypeInt(args[0])
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, errorf(MalformedType, "FixedString size must be positive, got %d", n)
		}
		return &TypeDesc{Kind: TypeFixedString, Size: n}, nil
	case "DateTime":
		if len(args) != 1 {
			return nil, errorf(MalformedType, "DateTime takes a timezone only, got %d arguments", len(args))
		}
		tz, err := parseQuoted(args[0])
		if err != nil {
			return nil, err
		}
		return &TypeDesc{Kind: TypeDateTime, Loc: loadLocation(tz)}, nil
	case "DateTime64":
		if len(args) < 1 || len(args) > 2 {
			return nil, errorf(MalformedType, "DateTime64 takes precision and optional timezone, got %d arguments", len(args))
		}
		precision, err := parseTypeInt(args[0])
		if err != nil {
			return nil, err
		}
		if precision < 0 || precision > 9 {
			return nil, errorf(MalformedType, "DateTime64 precision %d out of range", precision)
		}
		t := &TypeDesc{Kind: TypeDateTime64, Precision: precision}
		if len(args) == 2 {
			tz, err := parseQuoted(args[1])
			if err != nil {
				return nil, err
			}
			t.Loc = loadLocation(tz)
		}
		return t, nil
	case "Enum8", "Enum16":
		kind := TypeEnum8
		if base == "Enum16" {
			kind = TypeEnum16
		}
		t := &TypeDesc{Kind: kind, enum: make(map[int16]string), enumRev: make(map[string]int16)}
		for _, arg := range args {
			name, tag, err := parseEnumPair(arg)
			if err != nil {
				return nil, err
			}
			if kind == TypeEnum8 && (tag < -128 || tag > 127) {
				return nil, errorf(MalformedType, "Enum8 tag %d out of range", tag)
			}
			t.enum[tag] = name
			t.enumRev[name] = tag
		}
		if len(t.enum) == 0 {
			return nil, errorf(MalformedType, "%s needs at least one value", base)
		}
		return t, nil
	case "Variant":
		return nil, errorf(UnknownType, "Variant")
	}
	return nil, errorf(UnknownType, "%s", base)
}

func newDecimal(precision, scale int) (*TypeDesc, error) {
	if precision < 1 || precision > 76 {
		return nil, errorf(MalformedType, "Decimal precision %d out of range", precision)
	}
	if scale < 0 || scale > precision {
		return nil, errorf(MalformedType, "Decimal scale %d out of range for precision %d", scale, precision)
	}
	return &TypeDesc{Kind: TypeDecimal, Precision: precision, Scale: scale}, nil
}

// parseTupleElem parses one Tuple element, which may carry an optional
// leading name: both "UInt8" and "x UInt8" are accepted. Names are
// dropped; they never affect the wire layout.
func parseTupleElem(arg string) (*TypeDesc, error) {
	t, err := parseTypeExpr(arg)
	if err == nil {
		return t, nil
	}
	if e, ok := err.(*Error); ok && e.Kind == UnknownType {
		if i := strings.IndexAny(arg, " \t"); i > 0 && !strings.ContainsAny(arg[:i], "('") {
			return parseTypeExpr(arg[i+1:])
		}
	}
	return nil, err
}

func parseTypeInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errorf(MalformedType, "expected integer, got %q", s)
	}
	return n, nil
}

func parseQuoted(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", errorf(MalformedType, "expected quoted string, got %q", s)
	}
	return s[1 : len(s)-1], nil
}

// parseEnumPair parses a 'name' = tag pair.
func parseEnumPair(s string) (string, int16, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || s[0] != '\'' {
		return "", 0, errorf(MalformedType, "expected enum pair, got %q", s)
	}
	end := -1
	for i := 1; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == '\'' {
			end = i
			break
		}
	}
	if end == -1 {
		return "", 0, errorf(MalformedType, "unterminated string in enum pair %q", s)
	}
	name := s[1:end]
	rest := strings.TrimSpace(s[end+1:])
	if len(rest) == 0 || rest[0] != '=' {
		return "", 0, errorf(MalformedType, "expected '=' in enum pair %q", s)
	}
	tag, err := strconv.ParseInt(strings.TrimSpace(rest[1:]), 10, 16)
	if err != nil {
		return "", 0, errorf(MalformedType, "bad enum tag in %q", s)
	}
	return name, int16(tag), nil
}

// splitTypeArgs splits a parenthesized argument list at top-level
// commas. Commas nested in (...) or inside single-quoted literals do
// not split.
func splitTypeArgs(s string) ([]string, error) {
	var args []string
	depth, start, quoted := 0, 0, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quoted {
			switch c {
			case '\\':
				i++
			case '\'':
				quoted = false
			}
			continue
		}
		switch c {
		case '\'':
			quoted = true
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	if quoted {
		return nil, fmt.Errorf("unterminated string literal")
	}
	if last := strings.TrimSpace(s[start:]); last != "" {
		args = append(args, last)
	}
	return args, nil
}

// loadLocation resolves a timezone name. Unresolvable names fall back
// to naive (nil), matching server responses that carry zone names the
// host tzdata lacks.
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil
	}
	return loc
}
