package main

import (
	"github.com/spf13/cobra"

	"github.com/graphwork/taskgraphd/internal/query"
	"github.com/graphwork/taskgraphd/internal/tools"
)

var (
	queryParams []string
	queryLimit  int
	queryFormat string
)

var queryCmd = &cobra.Command{
	Use:   "query <statement>",
	Short: "Run a read-only SELECT against the task graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := make([]any, len(queryParams))
		for i, p := range queryParams {
			params[i] = p
		}
		return send(tools.OpQuery, tools.QueryArgs{
			Statement: args[0],
			Params:    params,
			Limit:     queryLimit,
			Format:    query.Format(queryFormat),
		})
	},
}

func init() {
	queryCmd.Flags().StringSliceVar(&queryParams, "param", nil, "positional bound parameter (repeatable)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum rows returned (default 100, max 1000)")
	queryCmd.Flags().StringVar(&queryFormat, "format", "", "output format: json, csv, or markdown")
}
