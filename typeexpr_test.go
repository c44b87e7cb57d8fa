package clickrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType_Plain(t *testing.T) {
	testCases := []struct {
		expr string
		kind TypeKind
	}{
		{"Bool", TypeBool},
		{"UInt8", TypeUInt8},
		{"UInt256", TypeUInt256},
		{"Int64", TypeInt64},
		{"Float64", TypeFloat64},
		{"String", TypeString},
		{"Date", TypeDate},
		{"Date32", TypeDate32},
		{"DateTime", TypeDateTime},
		{"UUID", TypeUUID},
		{"IPv4", TypeIPv4},
		{"IPv6", TypeIPv6},
		{"JSON", TypeJSON},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			desc, err := ParseType(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, desc.Kind)
			assert.Equal(t, tc.expr, desc.String())
		})
	}
}

func TestParseType_Nested(t *testing.T) {
	desc, err := ParseType("Nullable(Map(String, Array(Decimal(10, 2))))")
	require.NoError(t, err)
	require.Equal(t, TypeNullable, desc.Kind)
	m := desc.Args[0]
	require.Equal(t, TypeMap, m.Kind)
	require.Equal(t, TypeString, m.Args[0].Kind)
	arr := m.Args[1]
	require.Equal(t, TypeArray, arr.Kind)
	dec := arr.Args[0]
	require.Equal(t, TypeDecimal, dec.Kind)
	assert.Equal(t, 10, dec.Precision)
	assert.Equal(t, 2, dec.Scale)
	assert.Equal(t, "Nullable(Map(String, Array(Decimal(10, 2))))", desc.String())
}

func TestParseType_TupleSplit(t *testing.T) {
	desc, err := ParseType("Tuple(String, Array(Tuple(Date, Int32, Int32, Decimal(9, 2))))")
	require.NoError(t, err)
	require.Equal(t, TypeTuple, desc.Kind)
	require.Len(t, desc.Args, 2)
	assert.Equal(t, TypeString, desc.Args[0].Kind)
	inner := desc.Args[1].Args[0]
	require.Equal(t, TypeTuple, inner.Kind)
	require.Len(t, inner.Args, 4)
	assert.Equal(t, TypeDate, inner.Args[0].Kind)
	assert.Equal(t, TypeDecimal, inner.Args[3].Kind)
}

func TestParseType_NamedTupleElements(t *testing.T) {
	desc, err := ParseType("Tuple(x UInt8, y String)")
	require.NoError(t, err)
	require.Len(t, desc.Args, 2)
	assert.Equal(t, TypeUInt8, desc.Args[0].Kind)
	assert.Equal(t, TypeString, desc.Args[1].Kind)
}

func TestParseType_TimezoneQuotes(t *testing.T) {
	desc, err := ParseType("Tuple(DateTime64(6, 'Europe/Moscow'), Nullable(String))")
	require.NoError(t, err)
	require.Len(t, desc.Args, 2)
	dt := desc.Args[0]
	require.Equal(t, TypeDateTime64, dt.Kind)
	assert.Equal(t, 6, dt.Precision)
	require.NotNil(t, dt.Loc)
	assert.Equal(t, "Europe/Moscow", dt.Loc.String())
	assert.Equal(t, TypeNullable, desc.Args[1].Kind)
}

func TestParseType_DateTime(t *testing.T) {
	desc, err := ParseType("DateTime('UTC')")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, desc.Loc)

	desc, err = ParseType("DateTime64(3)")
	require.NoError(t, err)
	assert.Equal(t, 3, desc.Precision)
	assert.Nil(t, desc.Loc)
}

func TestParseType_Enum(t *testing.T) {
	desc, err := ParseType("Enum8('a' = 1, 'b' = 2)")
	require.NoError(t, err)
	require.Equal(t, TypeEnum8, desc.Kind)
	assert.Equal(t, "a", desc.enum[1])
	assert.Equal(t, "b", desc.enum[2])
	assert.Equal(t, "Enum8('a' = 1, 'b' = 2)", desc.String())

	// labels may contain commas and parens; they must not split the list
	desc, err = ParseType("Enum16('x, (y)' = -1, 'z' = 10)")
	require.NoError(t, err)
	assert.Equal(t, "x, (y)", desc.enum[-1])
	assert.Equal(t, "z", desc.enum[10])
}

func TestParseType_DecimalAliases(t *testing.T) {
	testCases := []struct {
		expr      string
		precision int
		scale     int
	}{
		{"Decimal(10, 2)", 10, 2},
		{"Decimal32(4)", 9, 4},
		{"Decimal64(6)", 18, 6},
		{"Decimal128(10)", 38, 10},
		{"Decimal256(20)", 76, 20},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			desc, err := ParseType(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, TypeDecimal, desc.Kind)
			assert.Equal(t, tc.precision, desc.Precision)
			assert.Equal(t, tc.scale, desc.Scale)
		})
	}
}

func TestParseType_LowCardinalityFlattens(t *testing.T) {
	desc, err := ParseType("LowCardinality(String)")
	require.NoError(t, err)
	assert.Equal(t, TypeString, desc.Kind)

	desc, err = ParseType("LowCardinality(Nullable(Int32))")
	require.NoError(t, err)
	require.Equal(t, TypeNullable, desc.Kind)
	assert.Equal(t, TypeInt32, desc.Args[0].Kind)
}

func TestParseType_Errors(t *testing.T) {
	testCases := []struct {
		expr string
		kind ErrorKind
	}{
		{"Nullable(Nullable(Int8))", MalformedType},
		{"Array(Int8", MalformedType},
		{"Decimal(10)", MalformedType},
		{"Decimal(80, 2)", MalformedType},
		{"FixedString(0)", MalformedType},
		{"FixedString(x)", MalformedType},
		{"DateTime64(12)", MalformedType},
		{"Enum8('a' 1)", MalformedType},
		{"Map(String)", MalformedType},
		{"", MalformedType},
		{"Whatever", UnknownType},
		{"Variant(UInt8, String)", UnknownType},
		{"Dynamic", UnknownType},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			_, err := ParseType(tc.expr)
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}
}

func TestParseType_Cached(t *testing.T) {
	a, err := ParseType("Array(Nullable(Decimal(10, 2)))")
	require.NoError(t, err)
	b, err := ParseType("Array(Nullable(Decimal(10, 2)))")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestSplitTypeArgs(t *testing.T) {
	args, err := splitTypeArgs("String, Array(Tuple(Date, Int32, Int32, Decimal(9, 2)))")
	require.NoError(t, err)
	assert.Equal(t, []string{"String", "Array(Tuple(Date, Int32, Int32, Decimal(9, 2)))"}, args)

	args, err = splitTypeArgs("Date, Int32, Int32, Decimal(9, 2)")
	require.NoError(t, err)
	assert.Equal(t, []string{"Date", "Int32", "Int32", "Decimal(9, 2)"}, args)

	args, err = splitTypeArgs("DateTime64(6, 'Europe/Moscow'), Nullable(String)")
	require.NoError(t, err)
	assert.Equal(t, []string{"DateTime64(6, 'Europe/Moscow')", "Nullable(String)"}, args)

	_, err = splitTypeArgs("Array(Int8")
	require.Error(t, err)
}
