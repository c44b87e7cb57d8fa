package clickrow

import (
	"math"
	"math/big"
	"net/netip"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Map is the host form of the Map column family: an ordered sequence
// of key/value pairs. The wire carries pairs in insertion order and
// Go's built-in map would not preserve it.
type Map []MapEntry

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   interface{}
	Value interface{}
}

// Tuple is the host form of the Tuple column family. It renders as a
// parenthesized literal in query parameters, where a plain slice
// renders as an array.
type Tuple []interface{}

// Get returns the value for the first entry with the given key.
func (m Map) Get(key interface{}) (interface{}, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

var pow10 = [...]int64{1, 10, 100, 1000, 10000, 100000, 1000000,
	10000000, 100000000, 1000000000}

// decodeValue reads one value of type t from r. On failure the
// reader's latched error is returned and no partial value surfaces.
func decodeValue(r *reader, t *TypeDesc) (interface{}, error) {
	switch t.Kind {
	case TypeBool:
		return r.int1() != 0, r.err
	case TypeUInt8:
		return r.int1(), r.err
	case TypeUInt16:
		return r.int2(), r.err
	case TypeUInt32:
		return r.int4(), r.err
	case TypeUInt64:
		return r.int8(), r.err
	case TypeInt8:
		return int8(r.int1()), r.err
	case TypeInt16:
		return int16(r.int2()), r.err
	case TypeInt32:
		return int32(r.int4()), r.err
	case TypeInt64:
		return int64(r.int8()), r.err
	case TypeUInt128:
		return bigIntLE(r.bytesInternal(16), false), r.err
	case TypeUInt256:
		return bigIntLE(r.bytesInternal(32), false), r.err
	case TypeInt128:
		return bigIntLE(r.bytesInternal(16), true), r.err
	case TypeInt256:
		return bigIntLE(r.bytesInternal(32), true), r.err
	case TypeFloat32:
		return math.Float32frombits(r.int4()), r.err
	case TypeFloat64:
		return math.Float64frombits(r.int8()), r.err
	case TypeDecimal:
		return decodeDecimal(r, t)
	case TypeString:
		return r.stringN(), r.err
	case TypeFixedString:
		s := r.string(t.Size)
		if r.err != nil {
			return nil, r.err
		}
		// the server pads with NULs; strip them back off
		end := len(s)
		for end > 0 && s[end-1] == 0 {
			end--
		}
		return s[:end], nil
	case TypeEnum8:
		return decodeEnum(r, t, int16(int8(r.int1())))
	case TypeEnum16:
		return decodeEnum(r, t, int16(r.int2()))
	case TypeDate:
		days := r.int2()
		return time.Unix(int64(days)*86400, 0).UTC(), r.err
	case TypeDate32:
		days := int32(r.int4())
		return time.Unix(int64(days)*86400, 0).UTC(), r.err
	case TypeDateTime:
		sec := r.int4()
		return time.Unix(int64(sec), 0).In(t.location()), r.err
	case TypeDateTime64:
		ticks := int64(r.int8())
		p := pow10[t.Precision]
		sec, rem := ticks/p, ticks%p
		return time.Unix(sec, rem*pow10[9-t.Precision]).In(t.location()), r.err
	case TypeUUID:
		return decodeUUID(r)
	case TypeIPv4:
		v := r.int4()
		return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}), r.err
	case TypeIPv6:
		b := r.bytesInternal(16)
		if r.err != nil {
			return nil, r.err
		}
		var a [16]byte
		copy(a[:], b)
		return netip.AddrFrom16(a), nil
	case TypeNullable:
		if r.int1() != 0 {
			// null: no bytes of the inner type follow
			return nil, r.err
		}
		if r.err != nil {
			return nil, r.err
		}
		return decodeValue(r, t.Args[0])
	case TypeArray:
		n := r.varuint()
		if r.err != nil {
			return nil, r.err
		}
		values := make([]interface{}, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := decodeValue(r, t.Args[0])
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return values, nil
	case TypeTuple:
		values := make(Tuple, len(t.Args))
		for i, elem := range t.Args {
			v, err := decodeValue(r, elem)
			if err != nil {
				return nil, err
			}
			values[i] = v
		}
		return values, nil
	case TypeMap:
		n := r.varuint()
		if r.err != nil {
			return nil, r.err
		}
		m := make(Map, 0, n)
		for i := uint64(0); i < n; i++ {
			k, err := decodeValue(r, t.Args[0])
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(r, t.Args[1])
			if err != nil {
				return nil, err
			}
			m = append(m, MapEntry{Key: k, Value: v})
		}
		return m, nil
	case TypeJSON:
		s := r.stringN()
		if r.err != nil {
			return nil, r.err
		}
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, &Error{Kind: Encoding, Msg: "bad JSON document", Err: err}
		}
		return v, nil
	}
	return nil, errorf(UnknownType, "decode of %s is not implemented", t)
}

func (t *TypeDesc) location() *time.Location {
	if t.Loc != nil {
		return t.Loc
	}
	return time.UTC
}

func decodeDecimal(r *reader, t *TypeDesc) (interface{}, error) {
	switch decimalWidth(t.Precision) {
	case 4:
		return decimal.New(int64(int32(r.int4())), int32(-t.Scale)), r.err
	case 8:
		return decimal.New(int64(r.int8()), int32(-t.Scale)), r.err
	case 16:
		v := bigIntLE(r.bytesInternal(16), true)
		return decimal.NewFromBigInt(v, int32(-t.Scale)), r.err
	default:
		v := bigIntLE(r.bytesInternal(32), true)
		return decimal.NewFromBigInt(v, int32(-t.Scale)), r.err
	}
}

func decodeEnum(r *reader, t *TypeDesc, tag int16) (interface{}, error) {
	if r.err != nil {
		return nil, r.err
	}
	label, ok := t.enum[tag]
	if !ok {
		return nil, errorf(Encoding, "unknown tag %d for %s", tag, t)
	}
	return label, nil
}

// decodeUUID reassembles the two 8-byte halves, each of which is on
// the wire in little-endian order. Reversing all 16 bytes at once
// gives the wrong answer.
func decodeUUID(r *reader) (interface{}, error) {
	b := r.bytesInternal(16)
	if r.err != nil {
		return nil, r.err
	}
	var u uuid.UUID
	for i := 0; i < 8; i++ {
		u[i] = b[7-i]
		u[8+i] = b[15-i]
	}
	return u, nil
}

// bigIntLE interprets b as a little-endian integer, two's complement
// when signed.
func bigIntLE(b []byte, signed bool) *big.Int {
	rev := make([]byte, len(b))
	for i, c := range b {
		rev[len(b)-1-i] = c
	}
	v := new(big.Int).SetBytes(rev)
	if signed && len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8)))
	}
	return v
}

// skipValue advances r past one value of type t without decoding it.
// Lazy rows use it to locate fields.
func skipValue(r *reader, t *TypeDesc) error {
	switch t.Kind {
	case TypeBool, TypeUInt8, TypeInt8, TypeEnum8:
		r.ensure(1)
		r.skip(1)
	case TypeUInt16, TypeInt16, TypeEnum16, TypeDate:
		r.ensure(2)
		r.skip(2)
	case TypeUInt32, TypeInt32, TypeFloat32, TypeDateTime, TypeDate32, TypeIPv4:
		r.ensure(4)
		r.skip(4)
	case TypeUInt64, TypeInt64, TypeFloat64, TypeDateTime64:
		r.ensure(8)
		r.skip(8)
	case TypeUInt128, TypeInt128, TypeUUID, TypeIPv6:
		r.ensure(16)
		r.skip(16)
	case TypeUInt256, TypeInt256:
		r.ensure(32)
		r.skip(32)
	case TypeDecimal:
		n := decimalWidth(t.Precision)
		r.ensure(n)
		r.skip(n)
	case TypeString, TypeJSON:
		n := r.varuint()
		if r.err == nil {
			r.ensure(int(n))
			r.skip(int(n))
		}
	case TypeFixedString:
		r.ensure(t.Size)
		r.skip(t.Size)
	case TypeNullable:
		if r.int1() == 0 && r.err == nil {
			return skipValue(r, t.Args[0])
		}
	case TypeArray:
		n := r.varuint()
		for i := uint64(0); r.err == nil && i < n; i++ {
			skipValue(r, t.Args[0])
		}
	case TypeTuple:
		for _, elem := range t.Args {
			if r.err != nil {
				break
			}
			skipValue(r, elem)
		}
	case TypeMap:
		n := r.varuint()
		for i := uint64(0); r.err == nil && i < n; i++ {
			skipValue(r, t.Args[0])
			skipValue(r, t.Args[1])
		}
	default:
		return errorf(UnknownType, "skip of %s is not implemented", t)
	}
	return r.err
}
