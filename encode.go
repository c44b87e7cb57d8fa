package clickrow

import (
	"math"
	"math/big"
	"net/netip"
	"reflect"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// writer accumulates a RowBinary insert payload. Encoding failures
// surface as errors from encodeValue; nothing is sent until the whole
// payload built cleanly.
type writer struct {
	buf []byte
}

func (w *writer) int1(v byte) {
	w.buf = append(w.buf, v)
}

func (w *writer) int2(v uint16) {
	w.buf = append(w.buf, byte(v), byte(v>>8))
}

func (w *writer) int4(v uint32) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (w *writer) int8(v uint64) {
	w.buf = append(w.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func (w *writer) varuint(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) stringN(s string) {
	w.varuint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// writeHeader writes the names-and-types header shared by responses
// and inserts: varuint column count, the names, then the type strings.
func writeHeader(w *writer, cols []Column) {
	w.varuint(uint64(len(cols)))
	for _, c := range cols {
		w.stringN(c.Name)
	}
	for _, c := range cols {
		w.stringN(c.typeName())
	}
}

var intBits = map[TypeKind]int{
	TypeUInt8: 8, TypeUInt16: 16, TypeUInt32: 32, TypeUInt64: 64,
	TypeUInt128: 128, TypeUInt256: 256,
	TypeInt8: 8, TypeInt16: 16, TypeInt32: 32, TypeInt64: 64,
	TypeInt128: 128, TypeInt256: 256,
}

func isSigned(k TypeKind) bool {
	switch k {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeInt128, TypeInt256:
		return true
	}
	return false
}

// encodeValue writes one host value as type t. Host values may be
// broader than the target; everything is range-checked up front.
func encodeValue(w *writer, t *TypeDesc, v interface{}) error {
	if t.Kind == TypeNullable {
		if v == nil {
			w.int1(1)
			return nil
		}
		w.int1(0)
		return encodeValue(w, t.Args[0], v)
	}
	if v == nil {
		return errorf(NullInNonNullable, "nil for column of type %s", t)
	}
	switch t.Kind {
	case TypeBool:
		b, ok := asBool(v)
		if !ok {
			return encodeTypeError(v, t)
		}
		if b {
			w.int1(1)
		} else {
			w.int1(0)
		}
		return nil
	case TypeUInt8, TypeUInt16, TypeUInt32, TypeUInt64,
		TypeUInt128, TypeUInt256,
		TypeInt8, TypeInt16, TypeInt32, TypeInt64,
		TypeInt128, TypeInt256:
		return encodeInt(w, t, v)
	case TypeFloat32:
		f, ok := asFloat64(v)
		if !ok {
			return encodeTypeError(v, t)
		}
		w.int4(math.Float32bits(float32(f)))
		return nil
	case TypeFloat64:
		f, ok := asFloat64(v)
		if !ok {
			return encodeTypeError(v, t)
		}
		w.int8(math.Float64bits(f))
		return nil
	case TypeDecimal:
		return encodeDecimal(w, t, v)
	case TypeString:
		s, ok := asString(v)
		if !ok {
			return encodeTypeError(v, t)
		}
		w.stringN(s)
		return nil
	case TypeFixedString:
		s, ok := asString(v)
		if !ok {
			return encodeTypeError(v, t)
		}
		if len(s) > t.Size {
			return errorf(OutOfRange, "%d bytes for %s", len(s), t)
		}
		w.bytes([]byte(s))
		for i := len(s); i < t.Size; i++ {
			w.int1(0)
		}
		return nil
	case TypeEnum8, TypeEnum16:
		return encodeEnum(w, t, v)
	case TypeDate:
		days, err := epochDays(t, v)
		if err != nil {
			return err
		}
		if days < 0 || days > math.MaxUint16 {
			return errorf(OutOfRange, "date out of range for %s", t)
		}
		w.int2(uint16(days))
		return nil
	case TypeDate32:
		days, err := epochDays(t, v)
		if err != nil {
			return err
		}
		if days < math.MinInt32 || days > math.MaxInt32 {
			return errorf(OutOfRange, "date out of range for %s", t)
		}
		w.int4(uint32(int32(days)))
		return nil
	case TypeDateTime:
		tv, ok := v.(time.Time)
		if !ok {
			return encodeTypeError(v, t)
		}
		sec := tv.Unix()
		if sec < 0 || sec > math.MaxUint32 {
			return errorf(OutOfRange, "timestamp out of range for %s", t)
		}
		w.int4(uint32(sec))
		return nil
	case TypeDateTime64:
		tv, ok := v.(time.Time)
		if !ok {
			return encodeTypeError(v, t)
		}
		p := pow10[t.Precision]
		sec := tv.Unix()
		if sec > math.MaxInt64/p-1 || sec < math.MinInt64/p+1 {
			return errorf(OutOfRange, "timestamp out of range for %s", t)
		}
		w.int8(uint64(sec*p + int64(tv.Nanosecond())/pow10[9-t.Precision]))
		return nil
	case TypeUUID:
		return encodeUUID(w, v)
	case TypeIPv4:
		a, ok, err := asAddr(v)
		if err != nil || !ok {
			return encodeTypeError(v, t)
		}
		if !a.Is4() && !a.Is4In6() {
			return errorf(OutOfRange, "%s is not an IPv4 address", a)
		}
		b := a.Unmap().As4()
		w.int4(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
		return nil
	case TypeIPv6:
		a, ok, err := asAddr(v)
		if err != nil || !ok {
			return encodeTypeError(v, t)
		}
		b := a.As16()
		w.bytes(b[:])
		return nil
	case TypeArray:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return encodeTypeError(v, t)
		}
		w.varuint(uint64(rv.Len()))
		for i := 0; i < rv.Len(); i++ {
			if err := encodeValue(w, t.Args[0], rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case TypeTuple:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return encodeTypeError(v, t)
		}
		if rv.Len() != len(t.Args) {
			return errorf(OutOfRange, "%d elements for %s", rv.Len(), t)
		}
		for i, elem := range t.Args {
			if err := encodeValue(w, elem, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case TypeMap:
		return encodeMap(w, t, v)
	case TypeJSON:
		b, err := json.Marshal(jsonReady(v))
		if err != nil {
			return &Error{Kind: Encoding, Msg: "marshal JSON document", Err: err}
		}
		w.stringN(string(b))
		return nil
	}
	return errorf(UnknownType, "encode of %s is not implemented", t)
}

func encodeTypeError(v interface{}, t *TypeDesc) error {
	return errorf(Encoding, "cannot encode %T as %s", v, t)
}

func encodeInt(w *writer, t *TypeDesc, v interface{}) error {
	b, ok := toBigInt(v)
	if !ok {
		return encodeTypeError(v, t)
	}
	bits := intBits[t.Kind]
	if !fitsInt(b, bits, isSigned(t.Kind)) {
		return errorf(OutOfRange, "%s does not fit %s", b, t)
	}
	switch bits {
	case 8:
		w.int1(byte(b.Int64()))
	case 16:
		w.int2(uint16(b.Int64()))
	case 32:
		w.int4(uint32(b.Int64()))
	case 64:
		if isSigned(t.Kind) {
			w.int8(uint64(b.Int64()))
		} else {
			w.int8(b.Uint64())
		}
	default:
		w.bytes(bigIntToLE(b, bits/8))
	}
	return nil
}

func encodeDecimal(w *writer, t *TypeDesc, v interface{}) error {
	d, err := asDecimal(v)
	if err != nil {
		return encodeTypeError(v, t)
	}
	// exact scaling only: 1.005 into Decimal(4, 2) would truncate
	scaled := d.Shift(int32(t.Scale))
	if !scaled.IsInteger() {
		return errorf(PrecisionLoss, "%s cannot be represented with scale %d", d, t.Scale)
	}
	ticks := scaled.BigInt()
	bound := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Precision)), nil)
	if ticks.CmpAbs(bound) >= 0 {
		return errorf(OutOfRange, "%s does not fit %s", d, t)
	}
	width := decimalWidth(t.Precision)
	switch width {
	case 4:
		w.int4(uint32(int32(ticks.Int64())))
	case 8:
		w.int8(uint64(ticks.Int64()))
	default:
		w.bytes(bigIntToLE(ticks, width))
	}
	return nil
}

func encodeEnum(w *writer, t *TypeDesc, v interface{}) error {
	var tag int16
	switch v := v.(type) {
	case string:
		n, ok := t.enumRev[v]
		if !ok {
			return errorf(OutOfRange, "label %q not in %s", v, t)
		}
		tag = n
	default:
		b, ok := toBigInt(v)
		if !ok {
			return encodeTypeError(v, t)
		}
		if !b.IsInt64() {
			return errorf(OutOfRange, "%s not in %s", b, t)
		}
		n := b.Int64()
		if n < math.MinInt16 || n > math.MaxInt16 {
			return errorf(OutOfRange, "%d not in %s", n, t)
		}
		if _, ok := t.enum[int16(n)]; !ok {
			return errorf(OutOfRange, "tag %d not in %s", n, t)
		}
		tag = int16(n)
	}
	if t.Kind == TypeEnum8 {
		w.int1(byte(int8(tag)))
	} else {
		w.int2(uint16(tag))
	}
	return nil
}

func encodeUUID(w *writer, v interface{}) error {
	var u uuid.UUID
	switch v := v.(type) {
	case uuid.UUID:
		u = v
	case string:
		p, err := uuid.Parse(v)
		if err != nil {
			return errorf(OutOfRange, "bad UUID %q", v)
		}
		u = p
	case [16]byte:
		u = v
	default:
		return errorf(Encoding, "cannot encode %T as UUID", v)
	}
	// two 8-byte halves, each written little-endian
	for i := 7; i >= 0; i-- {
		w.int1(u[i])
	}
	for i := 15; i >= 8; i-- {
		w.int1(u[i])
	}
	return nil
}

func encodeMap(w *writer, t *TypeDesc, v interface{}) error {
	if m, ok := v.(Map); ok {
		w.varuint(uint64(len(m)))
		for _, e := range m {
			if err := encodeValue(w, t.Args[0], e.Key); err != nil {
				return err
			}
			if err := encodeValue(w, t.Args[1], e.Value); err != nil {
				return err
			}
		}
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return encodeTypeError(v, t)
	}
	w.varuint(uint64(rv.Len()))
	iter := rv.MapRange()
	for iter.Next() {
		if err := encodeValue(w, t.Args[0], iter.Key().Interface()); err != nil {
			return err
		}
		if err := encodeValue(w, t.Args[1], iter.Value().Interface()); err != nil {
			return err
		}
	}
	return nil
}

// epochDays converts a time to its civil-date day offset from
// 1970-01-01, in the time's own location.
func epochDays(t *TypeDesc, v interface{}) (int64, error) {
	tv, ok := v.(time.Time)
	if !ok {
		return 0, encodeTypeError(v, t)
	}
	y, m, d := tv.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400, nil
}

// coercions ---

func asBool(v interface{}) (bool, bool) {
	switch v := v.(type) {
	case bool:
		return v, true
	}
	if b, ok := toBigInt(v); ok {
		return b.Sign() != 0, true
	}
	return false, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	if b, ok := toBigInt(v); ok {
		f, _ := new(big.Float).SetInt(b).Float64()
		return f, true
	}
	return 0, false
}

func asString(v interface{}) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func asDecimal(v interface{}) (decimal.Decimal, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	}
	if b, ok := toBigInt(v); ok {
		return decimal.NewFromBigInt(b, 0), nil
	}
	return decimal.Decimal{}, errorf(Encoding, "cannot coerce %T to decimal", v)
}

func asAddr(v interface{}) (netip.Addr, bool, error) {
	switch v := v.(type) {
	case netip.Addr:
		return v, true, nil
	case string:
		a, err := netip.ParseAddr(v)
		if err != nil {
			return netip.Addr{}, false, err
		}
		return a, true, nil
	}
	return netip.Addr{}, false, nil
}

func toBigInt(v interface{}) (*big.Int, bool) {
	switch v := v.(type) {
	case int:
		return big.NewInt(int64(v)), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case uint:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint8:
		return big.NewInt(int64(v)), true
	case uint16:
		return big.NewInt(int64(v)), true
	case uint32:
		return big.NewInt(int64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case bool:
		if v {
			return big.NewInt(1), true
		}
		return big.NewInt(0), true
	case *big.Int:
		return v, true
	}
	return nil, false
}

func fitsInt(v *big.Int, bits int, signed bool) bool {
	if signed {
		max := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
		min := new(big.Int).Neg(max)
		max.Sub(max, big.NewInt(1))
		return v.Cmp(min) >= 0 && v.Cmp(max) <= 0
	}
	if v.Sign() < 0 {
		return false
	}
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	return v.Cmp(max) < 0
}

// bigIntToLE writes v as n little-endian two's-complement bytes.
// Caller has range-checked.
func bigIntToLE(v *big.Int, n int) []byte {
	u := v
	if v.Sign() < 0 {
		u = new(big.Int).Add(v, new(big.Int).Lsh(big.NewInt(1), uint(n*8)))
	}
	be := u.Bytes()
	le := make([]byte, n)
	for i, c := range be {
		le[len(be)-1-i] = c
	}
	return le
}
