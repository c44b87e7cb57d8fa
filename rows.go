package clickrow

import (
	"context"
	"io"
	"reflect"
)

// Column describes one result column: its name and parsed type.
type Column struct {
	Name string
	Type *TypeDesc

	typeExpr string // type string as the server sent it
}

func (c Column) typeName() string {
	if c.typeExpr != "" {
		return c.typeExpr
	}
	return c.Type.String()
}

// schema is the shared handle of a result set: column names, parsed
// descriptors and the name index. Immutable once built.
type schema struct {
	cols  []Column
	index map[string]int
}

func newSchema(cols []Column) *schema {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c.Name] = i
	}
	return &schema{cols: cols, index: index}
}

// readHeader reads the RowBinaryWithNamesAndTypes header: varuint
// column count, the column names, then the column type strings.
func readHeader(r *reader) (*schema, error) {
	k := r.varuint()
	if r.err != nil {
		return nil, headerErr(r.err)
	}
	if k > 1<<16 {
		return nil, errorf(Encoding, "implausible column count %d", k)
	}
	cols := make([]Column, k)
	for i := range cols {
		cols[i].Name = r.stringN()
	}
	for i := range cols {
		cols[i].typeExpr = r.stringN()
	}
	if r.err != nil {
		return nil, headerErr(r.err)
	}
	for i := range cols {
		t, err := ParseType(cols[i].typeExpr)
		if err != nil {
			return nil, err
		}
		cols[i].Type = t
	}
	return newSchema(cols), nil
}

func headerErr(err error) error {
	if err == io.ErrUnexpectedEOF {
		return errorf(UnexpectedEOF, "truncated response header")
	}
	return err
}

// Row is one decoded result row. Eager rows carry every value; lazy
// rows keep the raw bytes and decode a field on first access, finding
// its offset by skipping prior fields per their type descriptors.
type Row struct {
	schema *schema

	values []interface{} // eager, or memoized lazy values
	raw    []byte        // lazy only: this row's byte span
	done   []bool        // lazy only: values[i] decoded
	offs   []int         // lazy only: offs[j] = offset of field j, valid for j <= known
	known  int
}

// Len returns the number of columns.
func (row *Row) Len() int { return len(row.schema.cols) }

// Columns returns the shared column schema.
func (row *Row) Columns() []Column { return row.schema.cols }

// Index returns the value of column i.
func (row *Row) Index(i int) (interface{}, error) {
	if i < 0 || i >= len(row.schema.cols) {
		return nil, errorf(OutOfRange, "column index %d of %d", i, len(row.schema.cols))
	}
	if row.raw == nil {
		return row.values[i], nil
	}
	return row.fieldValue(i)
}

// Get returns the value of the named column.
func (row *Row) Get(name string) (interface{}, error) {
	i, ok := row.schema.index[name]
	if !ok {
		return nil, errorf(OutOfRange, "no column %q", name)
	}
	return row.Index(i)
}

// Values returns all column values in schema order.
func (row *Row) Values() ([]interface{}, error) {
	if row.raw != nil {
		for i := range row.schema.cols {
			if _, err := row.fieldValue(i); err != nil {
				return nil, err
			}
		}
	}
	return row.values, nil
}

// Scan assigns the row's values, in schema order, into the supplied
// pointers. A *interface{} takes any value; other pointers must point
// to a type the decoded value is assignable to. No conversion is done.
func (row *Row) Scan(dest ...interface{}) error {
	if len(dest) != len(row.schema.cols) {
		return errorf(OutOfRange, "%d destinations for %d columns", len(dest), len(row.schema.cols))
	}
	values, err := row.Values()
	if err != nil {
		return err
	}
	for i, d := range dest {
		if p, ok := d.(*interface{}); ok {
			*p = values[i]
			continue
		}
		rv := reflect.ValueOf(d)
		if rv.Kind() != reflect.Ptr || rv.IsNil() {
			return errorf(Encoding, "destination %d is %T, not a pointer", i, d)
		}
		elem := rv.Elem()
		if values[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(elem.Type()) {
			return errorf(Encoding, "cannot scan %s %v into %T", row.schema.cols[i].Name, v.Type(), d)
		}
		elem.Set(v)
	}
	return nil
}

// fieldValue decodes lazy field i, memoized. Undecoded prior fields
// are only skipped to locate the offset.
func (row *Row) fieldValue(i int) (interface{}, error) {
	if row.done[i] {
		return row.values[i], nil
	}
	if row.known < i {
		r := newSliceReader(row.raw)
		r.skip(row.offs[row.known])
		for row.known < i {
			if err := skipValue(r, row.schema.cols[row.known].Type); err != nil {
				return nil, lazyErr(err)
			}
			row.known++
			row.offs[row.known] = r.pos
		}
	}
	r := newSliceReader(row.raw)
	r.skip(row.offs[i])
	v, err := decodeValue(r, row.schema.cols[i].Type)
	if err != nil {
		return nil, lazyErr(err)
	}
	if row.known == i {
		row.known++
		row.offs[row.known] = r.pos
	}
	row.values[i] = v
	row.done[i] = true
	return v, nil
}

func lazyErr(err error) error {
	if err == io.ErrUnexpectedEOF {
		return errorf(UnexpectedEOF, "row shorter than schema implies")
	}
	return err
}

// Rows iterates a query result. A Rows is owned by a single consumer;
// it is not safe for concurrent use.
type Rows struct {
	schema    *schema
	r         *reader
	body      io.Closer // non-nil while a live response is attached
	ctx       context.Context
	streaming bool
	lazy      bool
	err       error
	closed    bool
}

// newBufferedRows iterates rows over an in-memory body that already
// had its header consumed by r.
func newBufferedRows(s *schema, r *reader, lazy bool) *Rows {
	return &Rows{schema: s, r: r, lazy: lazy}
}

// newStreamingRows decodes rows as body bytes arrive. close releases
// the HTTP response.
func newStreamingRows(ctx context.Context, s *schema, r *reader, body io.Closer) *Rows {
	return &Rows{schema: s, r: r, body: body, ctx: ctx, streaming: true}
}

// Columns returns the result schema.
func (rows *Rows) Columns() []Column { return rows.schema.cols }

// Next returns the next row. It returns io.EOF after the last row.
func (rows *Rows) Next() (*Row, error) {
	if rows.err != nil {
		return nil, rows.err
	}
	if rows.closed {
		return nil, io.EOF
	}
	if rows.ctx != nil {
		select {
		case <-rows.ctx.Done():
			return nil, rows.fail(&Error{Kind: Transport, Msg: "query canceled", Err: rows.ctx.Err()})
		default:
		}
	}
	if !rows.r.more() {
		if rows.r.err != nil {
			return nil, rows.fail(rows.rowErr(rows.r.err))
		}
		rows.Close()
		return nil, io.EOF
	}
	if rows.lazy {
		return rows.nextLazy()
	}
	return rows.nextEager()
}

func (rows *Rows) nextEager() (*Row, error) {
	values := make([]interface{}, len(rows.schema.cols))
	for i, c := range rows.schema.cols {
		v, err := decodeValue(rows.r, c.Type)
		if err != nil {
			return nil, rows.fail(rows.rowErr(err))
		}
		values[i] = v
	}
	return &Row{schema: rows.schema, values: values}, nil
}

// nextLazy frames the row by skipping each field, then hands the raw
// span to the row for on-demand decoding. Only buffered bodies
// support this: the backing slice must outlive the row.
func (rows *Rows) nextLazy() (*Row, error) {
	start := rows.r.pos
	for _, c := range rows.schema.cols {
		if err := skipValue(rows.r, c.Type); err != nil {
			return nil, rows.fail(rows.rowErr(err))
		}
	}
	return &Row{
		schema: rows.schema,
		raw:    rows.r.buf[start:rows.r.pos],
		values: make([]interface{}, len(rows.schema.cols)),
		done:   make([]bool, len(rows.schema.cols)),
		offs:   make([]int, len(rows.schema.cols)+1),
	}, nil
}

// NextValues returns the next row's positional values. It returns
// io.EOF after the last row.
func (rows *Rows) NextValues() ([]interface{}, error) {
	row, err := rows.Next()
	if err != nil {
		return nil, err
	}
	return row.Values()
}

// rowErr maps a short read to the mode's error kind: a buffered body
// that ends mid-row is UnexpectedEOF, a live stream that ends mid-row
// is TrailingGarbage (the bytes past the last complete row).
func (rows *Rows) rowErr(err error) error {
	if err == io.ErrUnexpectedEOF {
		if rows.streaming {
			return errorf(TrailingGarbage, "stream ended inside a row")
		}
		return errorf(UnexpectedEOF, "response shorter than schema implies")
	}
	return err
}

func (rows *Rows) fail(err error) error {
	rows.err = err
	rows.Close()
	return err
}

// Err returns the error that terminated iteration, if any.
func (rows *Rows) Err() error { return rows.err }

// Close releases the underlying response. It is safe to call more
// than once and after iteration finished.
func (rows *Rows) Close() error {
	if rows.closed {
		return nil
	}
	rows.closed = true
	if rows.body != nil {
		return rows.body.Close()
	}
	return nil
}

// parseResponse reads a whole RowBinaryWithNamesAndTypes body held in
// memory and returns its buffered row iterator.
func parseResponse(body []byte, lazy bool) (*Rows, error) {
	r := newSliceReader(body)
	s, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	return newBufferedRows(s, r, lazy), nil
}
