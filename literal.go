package clickrow

import (
	"fmt"
	"math/big"
	"net/netip"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// paramValue renders a host value for a param_<name> query parameter,
// the out-of-band binding for {name:Type} placeholders. Top-level
// strings and numbers pass through bare; the server applies the
// declared type. Collections render as ClickHouse literals.
func paramValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "1"
		}
		return "0"
	case string:
		return v
	case []byte:
		return string(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	if b, ok := toBigInt(v); ok {
		return b.String()
	}
	if s, ok := specialString(v); ok {
		return s
	}
	return literal(v)
}

// literal renders a value in ClickHouse literal syntax, for use
// inside arrays, tuples and maps.
func literal(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		return quoteString(v)
	case []byte:
		return quoteString(string(v))
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case Tuple:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = literal(item)
		}
		return "(" + strings.Join(items, ",") + ")"
	case Map:
		items := make([]string, len(v))
		for i, e := range v {
			items[i] = quoteString(keyString(e.Key)) + ":" + literal(e.Value)
		}
		return "{" + strings.Join(items, ",") + "}"
	}
	if b, ok := toBigInt(v); ok {
		return b.String()
	}
	if d, ok := v.(decimal.Decimal); ok {
		return d.String()
	}
	if s, ok := specialString(v); ok {
		return quoteString(s)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]string, rv.Len())
		for i := range items {
			items[i] = literal(rv.Index(i).Interface())
		}
		return "[" + strings.Join(items, ",") + "]"
	case reflect.Map:
		items := make([]string, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			items = append(items, quoteString(keyString(iter.Key().Interface()))+":"+literal(iter.Value().Interface()))
		}
		return "{" + strings.Join(items, ",") + "}"
	}
	return fmt.Sprint(v)
}

// specialString renders the scalar types that ClickHouse accepts in
// their default textual form.
func specialString(v interface{}) (string, bool) {
	switch v := v.(type) {
	case time.Time:
		return timeString(v), true
	case uuid.UUID:
		return v.String(), true
	case decimal.Decimal:
		return v.String(), true
	case netip.Addr:
		return v.String(), true
	case *big.Int:
		return v.String(), true
	}
	return "", false
}

// timeString renders a timestamp the way the server parses it back:
// bare date for midnight, sub-second digits only when present.
func timeString(t time.Time) string {
	h, m, s := t.Clock()
	if h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02 15:04:05.999999999")
	}
	return t.Format("2006-01-02 15:04:05")
}

func keyString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	if s, ok := specialString(v); ok {
		return s
	}
	if b, ok := toBigInt(v); ok {
		return b.String()
	}
	return fmt.Sprint(v)
}

// quoteString wraps s in single quotes, backslash-escaping quote and
// backslash per the server's literal rules.
func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('\'')
	return b.String()
}
