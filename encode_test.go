package clickrow

import (
	"math/big"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertValuesEqual compares decoded values, unwrapping the types
// whose Go equality is too strict.
func assertValuesEqual(t *testing.T, want, got interface{}) {
	t.Helper()
	switch want := want.(type) {
	case time.Time:
		g, ok := got.(time.Time)
		require.True(t, ok, "got %T", got)
		assert.True(t, want.Equal(g), "want %s, got %s", want, g)
	case decimal.Decimal:
		g, ok := got.(decimal.Decimal)
		require.True(t, ok, "got %T", got)
		assert.True(t, want.Equal(g), "want %s, got %s", want, g)
	default:
		assert.Equal(t, want, got)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)

	testCases := []struct {
		expr  string
		value interface{}
	}{
		{"Bool", true},
		{"Bool", false},
		{"UInt8", uint8(0)},
		{"UInt8", uint8(255)},
		{"UInt16", uint16(65535)},
		{"UInt32", uint32(4294967295)},
		{"UInt64", uint64(18446744073709551615)},
		{"Int8", int8(-128)},
		{"Int8", int8(127)},
		{"Int16", int16(-32768)},
		{"Int32", int32(-2147483648)},
		{"Int64", int64(-9223372036854775808)},
		{"Int64", int64(9223372036854775807)},
		{"UInt128", new(big.Int).Lsh(big.NewInt(1), 100)},
		{"Int128", new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 100))},
		{"UInt256", new(big.Int).Lsh(big.NewInt(1), 200)},
		{"Int256", new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 200))},
		{"Float32", float32(1.2345)},
		{"Float64", -1.2345},
		{"String", "hello"},
		{"String", ""},
		{"String", "quote:' and backslash:\\"},
		{"FixedString(5)", "abcde"},
		{"FixedString(8)", "abc"},
		{"Enum8('a' = 1, 'b' = 2)", "b"},
		{"Enum16('x' = -1, 'y' = 10)", "x"},
		{"Date", time.Date(2025, 12, 14, 0, 0, 0, 0, time.UTC)},
		{"Date32", time.Date(1922, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"DateTime('UTC')", time.Date(2025, 12, 14, 10, 0, 0, 0, time.UTC)},
		{"DateTime64(6, 'UTC')", time.Date(2025, 12, 14, 10, 0, 0, 123456000, time.UTC)},
		{"DateTime64(6, 'Europe/Moscow')", time.Date(2025, 12, 14, 13, 30, 45, 123456000, msk)},
		{"Decimal(10, 2)", decimal.RequireFromString("123.45")},
		{"Decimal(10, 2)", decimal.RequireFromString("-123.45")},
		{"Decimal(38, 10)", decimal.RequireFromString("12345678901234567.0123456789")},
		{"Decimal(76, 20)", decimal.RequireFromString("-1234567890123456789012345678901234567890.1")},
		{"UUID", uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")},
		{"IPv4", netip.MustParseAddr("1.2.3.4")},
		{"IPv6", netip.MustParseAddr("2001:db8::1")},
		{"Nullable(String)", nil},
		{"Nullable(String)", "x"},
		{"Array(UInt16)", []interface{}{uint16(1), uint16(2), uint16(3)}},
		{"Array(Nullable(String))", []interface{}{nil, "x", nil}},
		{"Array(Array(UInt8))", []interface{}{
			[]interface{}{uint8(1)}, []interface{}{}, []interface{}{uint8(2), uint8(3)},
		}},
		{"Tuple(String, Int8)", Tuple{"meta", int8(7)}},
		{"Map(String, Nullable(Int32))", Map{
			{Key: "a", Value: nil},
			{Key: "b", Value: int32(2)},
			{Key: "c", Value: nil},
		}},
		{"Map(String, Array(Nullable(Int32)))", Map{
			{Key: "a", Value: []interface{}{nil, int32(1), nil}},
			{Key: "b", Value: []interface{}{}},
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			desc := mustType(t, tc.expr)
			w := &writer{}
			require.NoError(t, encodeValue(w, desc, tc.value))
			r := newSliceReader(w.buf)
			got, err := decodeValue(r, desc)
			require.NoError(t, err)
			assert.False(t, r.more(), "bytes left over")
			assertValuesEqual(t, tc.value, got)
		})
	}
}

func TestEncode_IntCoercion(t *testing.T) {
	// plain ints into narrower targets, range-checked
	desc := mustType(t, "UInt16")
	w := &writer{}
	require.NoError(t, encodeValue(w, desc, 300))
	assert.Equal(t, []byte{0x2c, 0x01}, w.buf)

	w = &writer{}
	require.NoError(t, encodeValue(w, mustType(t, "Int64"), uint8(7)))
	got, err := decodeValue(newSliceReader(w.buf), mustType(t, "Int64"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	// bools encode as 1/0 into numeric targets
	w = &writer{}
	require.NoError(t, encodeValue(w, desc, true))
	assert.Equal(t, []byte{0x01, 0x00}, w.buf)
}

func TestEncode_OutOfRange(t *testing.T) {
	testCases := []struct {
		expr  string
		value interface{}
	}{
		{"UInt8", 256},
		{"UInt16", -1},
		{"Int8", 128},
		{"Int32", int64(1) << 40},
		{"UInt64", -5},
		{"FixedString(4)", "abcde"},
		{"Date", time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)},
		{"DateTime('UTC')", time.Date(1969, 12, 31, 23, 0, 0, 0, time.UTC)},
		{"Decimal(4, 2)", decimal.RequireFromString("123.45")},
		{"Enum8('a' = 1)", "z"},
		{"Enum8('a' = 1)", 9},
		{"Tuple(String, Int8)", Tuple{"only one"}},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			w := &writer{}
			err := encodeValue(w, mustType(t, tc.expr), tc.value)
			require.Error(t, err)
			assert.Equal(t, OutOfRange, KindOf(err), "got %v", err)
		})
	}
}

func TestEncode_NullInNonNullable(t *testing.T) {
	w := &writer{}
	err := encodeValue(w, mustType(t, "String"), nil)
	require.Error(t, err)
	assert.Equal(t, NullInNonNullable, KindOf(err))

	// nested: the array element type is not nullable
	err = encodeValue(w, mustType(t, "Array(String)"), []interface{}{"x", nil})
	require.Error(t, err)
	assert.Equal(t, NullInNonNullable, KindOf(err))
}

func TestEncode_PrecisionLoss(t *testing.T) {
	w := &writer{}
	err := encodeValue(w, mustType(t, "Decimal(10, 2)"), decimal.RequireFromString("1.005"))
	require.Error(t, err)
	assert.Equal(t, PrecisionLoss, KindOf(err))
}

func TestEncode_FixedStringPadsWithNUL(t *testing.T) {
	w := &writer{}
	require.NoError(t, encodeValue(w, mustType(t, "FixedString(5)"), "ab"))
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0}, w.buf)
}

func TestEncode_UUIDHalfSwap(t *testing.T) {
	// a UUID whose two halves differ catches a whole-value reversal
	u := uuid.MustParse("01020304-0506-0708-090a-0b0c0d0e0f10")
	w := &writer{}
	require.NoError(t, encodeValue(w, mustType(t, "UUID"), u))
	assert.Equal(t, []byte{
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x10, 0x0f, 0x0e, 0x0d, 0x0c, 0x0b, 0x0a, 0x09,
	}, w.buf)

	got, err := decodeValue(newSliceReader(w.buf), mustType(t, "UUID"))
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestEncode_EnumByTag(t *testing.T) {
	w := &writer{}
	require.NoError(t, encodeValue(w, mustType(t, "Enum8('a' = 1, 'b' = 2)"), 2))
	assert.Equal(t, []byte{2}, w.buf)
}

func TestEncode_MapPreservesOrder(t *testing.T) {
	desc := mustType(t, "Map(String, Int32)")
	w := &writer{}
	require.NoError(t, encodeValue(w, desc, Map{
		{Key: "z", Value: int32(1)},
		{Key: "a", Value: int32(2)},
	}))
	got, err := decodeValue(newSliceReader(w.buf), desc)
	require.NoError(t, err)
	assert.Equal(t, Map{
		{Key: "z", Value: int32(1)},
		{Key: "a", Value: int32(2)},
	}, got)
}

func TestEncode_GoMapAccepted(t *testing.T) {
	desc := mustType(t, "Map(String, Int32)")
	w := &writer{}
	require.NoError(t, encodeValue(w, desc, map[string]int32{"a": 1}))
	got, err := decodeValue(newSliceReader(w.buf), desc)
	require.NoError(t, err)
	assert.Equal(t, Map{{Key: "a", Value: int32(1)}}, got)
}

func TestEncode_TypedSlices(t *testing.T) {
	desc := mustType(t, "Array(Int32)")
	w := &writer{}
	require.NoError(t, encodeValue(w, desc, []int32{1, -2, 3}))
	got, err := decodeValue(newSliceReader(w.buf), desc)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1), int32(-2), int32(3)}, got)
}

func TestEncode_StringCoercions(t *testing.T) {
	// []byte into String
	w := &writer{}
	require.NoError(t, encodeValue(w, mustType(t, "String"), []byte("hello")))
	got, err := decodeValue(newSliceReader(w.buf), mustType(t, "String"))
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	// canonical strings into UUID and IPv4
	w = &writer{}
	require.NoError(t, encodeValue(w, mustType(t, "UUID"), "550e8400-e29b-41d4-a716-446655440000"))
	u, err := decodeValue(newSliceReader(w.buf), mustType(t, "UUID"))
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"), u)

	w = &writer{}
	require.NoError(t, encodeValue(w, mustType(t, "IPv4"), "1.2.3.4"))
	ip, err := decodeValue(newSliceReader(w.buf), mustType(t, "IPv4"))
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("1.2.3.4"), ip)
}

func TestEncode_DecimalCoercions(t *testing.T) {
	desc := mustType(t, "Decimal(10, 2)")
	for _, v := range []interface{}{"123.45", 123, decimal.RequireFromString("123")} {
		w := &writer{}
		require.NoError(t, encodeValue(w, desc, v), "%T", v)
		_, err := decodeValue(newSliceReader(w.buf), desc)
		require.NoError(t, err)
	}
}

func TestEncode_TypeMismatch(t *testing.T) {
	w := &writer{}
	err := encodeValue(w, mustType(t, "UInt8"), "not a number")
	require.Error(t, err)
	assert.Equal(t, Encoding, KindOf(err))
}

func TestWriteHeader(t *testing.T) {
	cols := []Column{
		{Name: "id", Type: mustType(t, "UInt8"), typeExpr: "UInt8"},
		{Name: "name", Type: mustType(t, "String"), typeExpr: "String"},
	}
	w := &writer{}
	writeHeader(w, cols)

	r := newSliceReader(w.buf)
	s, err := readHeader(r)
	require.NoError(t, err)
	require.Len(t, s.cols, 2)
	assert.Equal(t, "id", s.cols[0].Name)
	assert.Equal(t, TypeUInt8, s.cols[0].Type.Kind)
	assert.Equal(t, "name", s.cols[1].Name)
	assert.Equal(t, TypeString, s.cols[1].Type.Kind)
}
