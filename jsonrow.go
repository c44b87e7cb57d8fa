package clickrow

import (
	"fmt"
	"math/big"
	"net/netip"
	"reflect"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// jsonReady converts a host value into the JSON shape the server
// accepts in JSONCompactEachRow input: timestamps and dates in their
// default string forms, UUIDs and decimals as strings, byte slices as
// UTF-8 text, tuples as arrays, maps as objects.
func jsonReady(v interface{}) interface{} {
	switch v := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case time.Time:
		return timeString(v)
	case uuid.UUID:
		return v.String()
	case decimal.Decimal:
		return v.String()
	case netip.Addr:
		return v.String()
	case *big.Int:
		return json.RawMessage(v.String())
	case []byte:
		return string(v)
	case Tuple:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = jsonReady(item)
		}
		return out
	case Map:
		out := make(map[string]interface{}, len(v))
		for _, e := range v {
			out[keyString(e.Key)] = jsonReady(e.Value)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = jsonReady(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[keyString(iter.Key().Interface())] = jsonReady(iter.Value().Interface())
		}
		return out
	}
	return fmt.Sprint(v)
}

// appendJSONRow appends one JSONCompactEachRow line: a JSON array of
// the row's values followed by a newline.
func appendJSONRow(buf []byte, values []interface{}) ([]byte, error) {
	converted := make([]interface{}, len(values))
	for i, v := range values {
		converted[i] = jsonReady(v)
	}
	line, err := json.Marshal(converted)
	if err != nil {
		return nil, &Error{Kind: Encoding, Msg: "marshal external table row", Err: err}
	}
	return append(append(buf, line...), '\n'), nil
}
