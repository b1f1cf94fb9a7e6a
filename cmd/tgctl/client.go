package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/graphwork/taskgraphd/internal/tools"
)

// dialer is a thin newline-delimited JSON client over the tgraphd Unix
// socket: one request, one response, one short-lived connection, matching
// the server's per-connection read-dispatch-write loop.
type dialer struct {
	path    string
	timeout time.Duration
}

func newDialer(path string) *dialer {
	return &dialer{path: path, timeout: 5 * time.Second}
}

func (d *dialer) call(req tools.Request) (tools.Response, error) {
	conn, err := net.DialTimeout("unix", d.path, d.timeout)
	if err != nil {
		return tools.Response{}, fmt.Errorf("connect to %s: %w (is tgraphd running?)", d.path, err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(d.timeout))

	body, err := json.Marshal(req)
	if err != nil {
		return tools.Response{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := conn.Write(append(body, '\n')); err != nil {
		return tools.Response{}, fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return tools.Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp tools.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return tools.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// send marshals args, issues op as a request carrying the client's worker
// ID, and prints the result in the format requested on the command line.
func send(op string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s args: %w", op, err)
	}
	d := newDialer(resolveSocketPath())
	resp, err := d.call(tools.Request{Operation: op, Args: raw, WorkerID: workerID})
	if err != nil {
		return err
	}
	return printResponse(resp)
}
