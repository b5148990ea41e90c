package rpc_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmind/memoryd/internal/auth"
	"github.com/quillmind/memoryd/internal/rpc"
)

func TestServeStdioEchoesOneResponsePerLine(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))

	in := strings.NewReader("{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n{\"jsonrpc\":\"2.0\",\"id\":2,\"method\":\"ping\"}\n")
	var out bytes.Buffer

	err := rpc.ServeStdio(context.Background(), d, "Bearer anything", in, &out)
	require.NoError(t, err)

	lines := splitNonEmptyLines(t, out.String())
	require.Len(t, lines, 2)
	for _, line := range lines {
		var resp rpc.Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		assert.Nil(t, resp.Error)
	}
}

func TestServeStdioMalformedLineYieldsParseError(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))

	in := strings.NewReader("not json at all\n")
	var out bytes.Buffer

	err := rpc.ServeStdio(context.Background(), d, "Bearer anything", in, &out)
	require.NoError(t, err)

	lines := splitNonEmptyLines(t, out.String())
	require.Len(t, lines, 1)
	var resp rpc.Response
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.CodeParseError, resp.Error.Code)
}

func TestServeStdioSkipsBlankLines(t *testing.T) {
	d := newTestDispatcher(t, auth.NewStaticAuthenticator("u1"))

	in := strings.NewReader("\n\n{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"ping\"}\n\n")
	var out bytes.Buffer

	err := rpc.ServeStdio(context.Background(), d, "Bearer anything", in, &out)
	require.NoError(t, err)

	lines := splitNonEmptyLines(t, out.String())
	assert.Len(t, lines, 1, "blank input lines must never produce a response line")
}

func splitNonEmptyLines(t *testing.T, s string) []string {
	t.Helper()
	scanner := bufio.NewScanner(strings.NewReader(s))
	var lines []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}
