// Command clickrow runs queries against a ClickHouse server over HTTP.
//
//	clickrow ping
//	clickrow query "SELECT number FROM system.numbers LIMIT 10"
//	clickrow --url http://localhost:8123 --user default query "SELECT 1"
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clickrow/clickrow"
)

var (
	flagURL      string
	flagUser     string
	flagPassword string
	flagDatabase string
	flagCompress bool
)

func main() {
	root := &cobra.Command{
		Use:           "clickrow",
		Short:         "ClickHouse HTTP client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagURL, "url", "http://localhost:8123", "server base URL")
	root.PersistentFlags().StringVar(&flagUser, "user", "default", "user name")
	root.PersistentFlags().StringVar(&flagPassword, "password", "", "password")
	root.PersistentFlags().StringVar(&flagDatabase, "database", "default", "database")
	root.PersistentFlags().BoolVar(&flagCompress, "compress", false, "negotiate gzip")

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "check that the server answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Ok.")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "query <sql>",
		Short: "run a query and print rows tab-separated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			return runQuery(cmd.Context(), client, args[0])
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "exec <sql>",
		Short: "run a statement without a result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			return client.Exec(cmd.Context(), args[0])
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "clickrow:", err)
		os.Exit(1)
	}
}

func newClient() (*clickrow.Client, error) {
	return clickrow.NewClient(clickrow.Config{
		URL:         flagURL,
		User:        flagUser,
		Password:    flagPassword,
		Database:    flagDatabase,
		Compression: flagCompress,
	})
}

func runQuery(ctx context.Context, client *clickrow.Client, query string) error {
	rows, err := client.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols := rows.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	fmt.Println(strings.Join(names, "\t"))
	for {
		row, err := rows.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		values, err := row.Values()
		if err != nil {
			return err
		}
		fields := make([]string, len(values))
		for i, v := range values {
			fields[i] = fmt.Sprint(v)
		}
		fmt.Println(strings.Join(fields, "\t"))
	}
}
