package clickrow

import "strings"

// ExternalColumn is one column of an external table's schema.
type ExternalColumn struct {
	Name string
	Type string
}

// ExternalTable is an in-memory table shipped alongside a query. The
// server sees it as a temporary table under the name it is registered
// with in QueryOptions.External. It is consumed once per query.
type ExternalTable struct {
	Structure []ExternalColumn
	Rows      [][]interface{}
}

// structureParam renders the <name>_structure query parameter value:
// "col1 Type1, col2 Type2".
func (t *ExternalTable) structureParam() string {
	parts := make([]string, len(t.Structure))
	for i, c := range t.Structure {
		parts[i] = c.Name + " " + c.Type
	}
	return strings.Join(parts, ", ")
}

// body renders the table as JSONCompactEachRow lines.
func (t *ExternalTable) body() ([]byte, error) {
	var buf []byte
	var err error
	for _, row := range t.Rows {
		if buf, err = appendJSONRow(buf, row); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
