package clickrow

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Config configures a Client. The zero value connects to
// http://localhost:8123 as user "default" with database "default".
type Config struct {
	URL         string // server base URL, e.g. http://localhost:8123
	User        string
	Password    string
	Database    string
	Compression bool // negotiate gzip both ways
	LazyDecode  bool // buffered fetches decode fields on first access
	HTTPClient  *http.Client
}

// QueryOptions carries the optional per-query inputs.
type QueryOptions struct {
	Params   map[string]interface{}    // {name:Type} placeholder bindings
	Settings map[string]string         // passed through as query parameters
	External map[string]*ExternalTable // external in-memory tables by name
}

// Client is a ClickHouse client over the HTTP interface. It is safe
// for concurrent use; each query owns its own response state.
type Client struct {
	base        *url.URL
	user        string
	password    string
	database    string
	compression bool
	lazyDecode  bool
	hc          *http.Client
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	raw := cfg.URL
	if raw == "" {
		raw = "http://localhost:8123"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, &Error{Kind: Transport, Msg: "parse server URL", Err: err}
	}
	c := &Client{
		base:        base,
		user:        cfg.User,
		password:    cfg.Password,
		database:    cfg.Database,
		compression: cfg.Compression,
		lazyDecode:  cfg.LazyDecode,
		hc:          cfg.HTTPClient,
	}
	if c.user == "" {
		c.user = "default"
	}
	if c.database == "" {
		c.database = "default"
	}
	if c.hc == nil {
		c.hc = &http.Client{}
	}
	return c, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &Error{Kind: Transport, Msg: "build ping request", Err: err}
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return &Error{Kind: Transport, Err: errors.Wrap(err, "ping")}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serverErr(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Exec runs a statement and discards any result body.
func (c *Client) Exec(ctx context.Context, query string, opts ...*QueryOptions) error {
	resp, err := c.send(ctx, query, first(opts), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Query runs a SELECT and streams its rows: each Next call decodes
// one row as response bytes arrive. The returned Rows must be closed.
func (c *Client) Query(ctx context.Context, query string, opts ...*QueryOptions) (*Rows, error) {
	resp, err := c.send(ctx, withRowBinaryFormat(query), first(opts), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.responseBody(resp)
	if err != nil {
		return nil, err
	}
	r := newReader(body)
	s, err := readHeader(r)
	if err != nil {
		_ = body.Close()
		return nil, err
	}
	return newStreamingRows(ctx, s, r, body), nil
}

// Fetch runs a SELECT buffered and returns all rows.
func (c *Client) Fetch(ctx context.Context, query string, opts ...*QueryOptions) ([]*Row, error) {
	rows, err := c.fetchRows(ctx, query, first(opts))
	if err != nil {
		return nil, err
	}
	var out []*Row
	for {
		row, err := rows.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}

// FetchRows runs a SELECT buffered and returns positional values.
func (c *Client) FetchRows(ctx context.Context, query string, opts ...*QueryOptions) ([][]interface{}, error) {
	rows, err := c.Fetch(ctx, query, opts...)
	if err != nil {
		return nil, err
	}
	out := make([][]interface{}, len(rows))
	for i, row := range rows {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}
		out[i] = values
	}
	return out, nil
}

// FetchOne returns the first row, or nil if the result is empty.
func (c *Client) FetchOne(ctx context.Context, query string, opts ...*QueryOptions) (*Row, error) {
	rows, err := c.fetchRows(ctx, query, first(opts))
	if err != nil {
		return nil, err
	}
	row, err := rows.Next()
	if err == io.EOF {
		return nil, nil
	}
	return row, err
}

// FetchVal returns the first column of the first row, or nil if the
// result is empty.
func (c *Client) FetchVal(ctx context.Context, query string, opts ...*QueryOptions) (interface{}, error) {
	row, err := c.FetchOne(ctx, query, opts...)
	if err != nil || row == nil {
		return nil, err
	}
	return row.Index(0)
}

func (c *Client) fetchRows(ctx context.Context, query string, opts *QueryOptions) (*Rows, error) {
	resp, err := c.send(ctx, withRowBinaryFormat(query), opts, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.responseBody(resp)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, &Error{Kind: Transport, Err: errors.Wrap(err, "read response body")}
	}
	return parseResponse(buf, c.lazyDecode)
}

// Insert writes rows into table with a RowBinaryWithNamesAndTypes
// payload. Column types come from DESCRIBE TABLE; columns selects and
// orders the columns, defaulting to the table's insertable columns.
func (c *Client) Insert(ctx context.Context, table string, rows [][]interface{}, columns ...string) error {
	cols, err := c.tableColumns(ctx, table, columns)
	if err != nil {
		return err
	}
	w := &writer{}
	writeHeader(w, cols)
	for _, row := range rows {
		if len(row) != len(cols) {
			return errorf(OutOfRange, "row has %d values, table has %d columns", len(row), len(cols))
		}
		for i, col := range cols {
			if err := encodeValue(w, col.Type, row[i]); err != nil {
				return err
			}
		}
	}
	return c.sendInsert(ctx, table, cols, w.buf)
}

// InsertMap is Insert for rows keyed by column name. Missing columns
// insert as nil.
func (c *Client) InsertMap(ctx context.Context, table string, rows []map[string]interface{}) error {
	cols, err := c.tableColumns(ctx, table, nil)
	if err != nil {
		return err
	}
	positional := make([][]interface{}, len(rows))
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	for i, row := range rows {
		values := make([]interface{}, len(cols))
		for j, name := range names {
			values[j] = row[name]
		}
		positional[i] = values
	}
	w := &writer{}
	writeHeader(w, cols)
	for _, row := range positional {
		for i, col := range cols {
			if err := encodeValue(w, col.Type, row[i]); err != nil {
				return err
			}
		}
	}
	return c.sendInsert(ctx, table, cols, w.buf)
}

func (c *Client) sendInsert(ctx context.Context, table string, cols []Column, payload []byte) error {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	query := "INSERT INTO " + table + " (" + strings.Join(names, ", ") + ") FORMAT RowBinaryWithNamesAndTypes"
	resp, err := c.send(ctx, query, nil, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// tableColumns resolves the insert schema of table. With an explicit
// column list the table's order is overridden; otherwise MATERIALIZED
// and ALIAS columns are skipped, as the server will not accept values
// for them.
func (c *Client) tableColumns(ctx context.Context, table string, columns []string) ([]Column, error) {
	described, err := c.FetchRows(ctx, "DESCRIBE TABLE "+table)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(described))
	var all []Column
	for _, row := range described {
		name, _ := row[0].(string)
		typeExpr, _ := row[1].(string)
		defaultKind := ""
		if len(row) > 2 {
			defaultKind, _ = row[2].(string)
		}
		byName[name] = typeExpr
		if defaultKind == "MATERIALIZED" || defaultKind == "ALIAS" {
			continue
		}
		t, err := ParseType(typeExpr)
		if err != nil {
			return nil, err
		}
		all = append(all, Column{Name: name, Type: t, typeExpr: typeExpr})
	}
	if len(columns) == 0 {
		return all, nil
	}
	cols := make([]Column, len(columns))
	for i, name := range columns {
		typeExpr, ok := byName[name]
		if !ok {
			return nil, errorf(OutOfRange, "table %s has no column %q", table, name)
		}
		t, err := ParseType(typeExpr)
		if err != nil {
			return nil, err
		}
		cols[i] = Column{Name: name, Type: t, typeExpr: typeExpr}
	}
	return cols, nil
}

// send posts one request. Queries without external tables travel in
// the request body; with external tables or an insert payload the
// query moves to the URL and the body carries the data.
func (c *Client) send(ctx context.Context, query string, opts *QueryOptions, insertPayload []byte) (*http.Response, error) {
	u := *c.base
	params := c.queryParams(opts)

	var body io.Reader
	contentType := ""
	contentEncoding := ""
	switch {
	case insertPayload != nil:
		params.Set("query", query)
		if c.compression {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(insertPayload); err != nil {
				return nil, &Error{Kind: Transport, Msg: "compress insert payload", Err: err}
			}
			if err := zw.Close(); err != nil {
				return nil, &Error{Kind: Transport, Msg: "compress insert payload", Err: err}
			}
			body = &buf
			contentEncoding = "gzip"
		} else {
			body = bytes.NewReader(insertPayload)
		}
	case opts != nil && len(opts.External) > 0:
		params.Set("query", query)
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for name, table := range opts.External {
			part, err := mw.CreateFormFile(name, name)
			if err != nil {
				return nil, &Error{Kind: Transport, Msg: "build external table upload", Err: err}
			}
			data, err := table.body()
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(data); err != nil {
				return nil, &Error{Kind: Transport, Msg: "build external table upload", Err: err}
			}
		}
		if err := mw.Close(); err != nil {
			return nil, &Error{Kind: Transport, Msg: "build external table upload", Err: err}
		}
		body = &buf
		contentType = mw.FormDataContentType()
	default:
		body = strings.NewReader(query)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, &Error{Kind: Transport, Msg: "build request", Err: err}
	}
	if c.user != "" {
		req.Header.Set("X-ClickHouse-User", c.user)
	}
	if c.password != "" {
		req.Header.Set("X-ClickHouse-Key", c.password)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if contentEncoding != "" {
		req.Header.Set("Content-Encoding", contentEncoding)
	}
	if c.compression {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &Error{Kind: Transport, Err: errors.Wrap(err, "post query")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, serverErr(resp)
	}
	return resp, nil
}

func (c *Client) queryParams(opts *QueryOptions) url.Values {
	params := url.Values{}
	params.Set("database", c.database)
	params.Set("output_format_json_quote_decimals", "1")
	if c.compression {
		params.Set("enable_http_compression", "1")
	}
	if opts == nil {
		return params
	}
	for name, value := range opts.Params {
		params.Set("param_"+name, paramValue(value))
	}
	for name, value := range opts.Settings {
		params.Set(name, value)
	}
	for name, table := range opts.External {
		params.Set(name+"_format", "JSONCompactEachRow")
		params.Set(name+"_structure", table.structureParam())
	}
	return params
}

// responseBody unwraps the response, inflating gzip when the server
// compressed it.
func (c *Client) responseBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp.Body, nil
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, &Error{Kind: Transport, Msg: "inflate response", Err: err}
	}
	return &gzipBody{zr: zr, under: resp.Body}, nil
}

type gzipBody struct {
	zr    *gzip.Reader
	under io.Closer
}

func (b *gzipBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b *gzipBody) Close() error {
	err := b.zr.Close()
	if cerr := b.under.Close(); err == nil {
		err = cerr
	}
	return err
}

func serverErr(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return errorf(ServerError, "%s: %s", resp.Status, strings.TrimSpace(string(msg)))
}

// withRowBinaryFormat appends the result format to a statement unless
// the caller already chose one.
func withRowBinaryFormat(query string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	if strings.Contains(strings.ToUpper(trimmed), " FORMAT ") {
		return trimmed
	}
	return trimmed + " FORMAT RowBinaryWithNamesAndTypes"
}

func first(opts []*QueryOptions) *QueryOptions {
	if len(opts) > 0 {
		return opts[0]
	}
	return nil
}
