package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// ServeStdio runs the dispatcher over line-delimited JSON-RPC on stdin and
// stdout. Hard invariant (spec.md §4.8, §9): stdout carries only JSON-RPC
// response lines; this function never writes anything else to it, and it
// takes no parameter that could be used to point a logger at stdout —
// callers MUST have already pointed the process-wide logger at stderr via
// SetStderrLogging before calling this.
//
// authHeader resolves the bearer credential for every call on this
// connection. Multi-tenant stdio framing (a bearer token per request) is
// not implemented here; this is the legacy single-user stdio mode spec.md
// §6 permits, where one fixed credential authenticates the whole session.
func ServeStdio(ctx context.Context, d *Dispatcher, authHeader string, stdin io.Reader, stdout io.Writer) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	writer := bufio.NewWriter(stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := d.handleLine(ctx, line, authHeader)
		if err := writeResponseLine(writer, resp); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (d *Dispatcher) handleLine(ctx context.Context, line []byte, authHeader string) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{
			JSONRPC: "2.0",
			ID:      d.nextAutoID(),
			Error:   &RPCError{Code: CodeParseError, Message: "Parse error"},
		}
	}
	return d.Handle(ctx, req, authHeader)
}

func writeResponseLine(w io.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}

// SetStderrLogging points the process-wide charmbracelet/log default
// logger at stderr. It takes no stdout option at all, by construction,
// so the stdout-purity bug (spec.md §9, Testable Property 8) cannot be
// introduced by passing the wrong writer in — there is no writer
// parameter to get wrong.
func SetStderrLogging() {
	log.SetOutput(os.Stderr)
}
