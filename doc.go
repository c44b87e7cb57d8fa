/*
Package clickrow implements a ClickHouse client over the HTTP
interface, speaking the RowBinaryWithNamesAndTypes format.

to connect:

	client, err := clickrow.NewClient(clickrow.Config{
		URL:      "http://localhost:8123",
		User:     "default",
		Database: "default",
	})
	if err != nil {
		return err
	}

to fetch rows buffered:

	rows, err := client.Fetch(ctx, "SELECT id, name FROM users ORDER BY id")
	if err != nil {
		return err
	}
	for _, row := range rows {
		id, _ := row.Get("id")
		name, _ := row.Get("name")
		fmt.Println(id, name)
	}

to stream a large result:

	rows, err := client.Query(ctx, "SELECT * FROM events")
	if err != nil {
		return err
	}
	defer rows.Close()
	for {
		row, err := rows.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		// use row
	}

to bind query parameters:

	v, err := client.FetchVal(ctx,
		"SELECT count() FROM users WHERE created > {since:DateTime}",
		&clickrow.QueryOptions{Params: map[string]interface{}{"since": since}},
	)

to insert:

	err := client.Insert(ctx, "users", [][]interface{}{
		{1, "alice"},
		{2, "bob"},
	}, "id", "name")

for example usage see cmd/clickrow/main.go
*/
package clickrow
