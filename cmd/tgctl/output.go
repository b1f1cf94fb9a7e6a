package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/graphwork/taskgraphd/internal/tools"
)

// printResponse renders a daemon response to stdout either as the raw JSON
// data as received (--json) or, by default, as indented JSON. Errors
// surface on stderr with the stable taxonomy code so scripts can branch
// on it without parsing prose.
func printResponse(resp tools.Response) error {
	if resp.Error != nil {
		fmt.Fprintf(os.Stderr, "error [%s]: %s\n", resp.Error.Code, resp.Error.Message)
		os.Exit(1)
	}
	if len(resp.Data) == 0 {
		fmt.Println("ok")
		return nil
	}
	if jsonOutput {
		fmt.Println(string(resp.Data))
		return nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, resp.Data, "", "  "); err != nil {
		fmt.Println(string(resp.Data))
		return nil
	}
	fmt.Println(out.String())
	return nil
}
