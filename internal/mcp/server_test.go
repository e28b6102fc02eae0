package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/tools"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := cache.NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	registry := tools.NewRegistry(tools.Deps{
		Config: &config.Config{SearchResultLimit: 10},
		Store:  cache.NewStore(c, logger),
		Logger: logger,
	})
	return NewServer(registry, "test", logger)
}

func run(t *testing.T, s *Server, requests ...string) []map[string]interface{} {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, s.Run(context.Background(), strings.NewReader(strings.Join(requests, "\n")), &out))

	var responses []map[string]interface{}
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp map[string]interface{}
		require.NoError(t, dec.Decode(&resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestInitializeAndListTools(t *testing.T) {
	responses := run(t, newServer(t),
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	require.Len(t, responses, 2)

	info := responses[0]["result"].(map[string]interface{})["serverInfo"].(map[string]interface{})
	assert.Equal(t, "mailsync", info["name"])
	assert.Equal(t, "test", info["version"])

	list := responses[1]["result"].(map[string]interface{})["tools"].([]interface{})
	assert.NotEmpty(t, list)
}

func TestCallTool(t *testing.T) {
	responses := run(t, newServer(t),
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_folders","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_folders","arguments":{"account_name":"nobody"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"nope"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"resources/list"}`,
	)
	require.Len(t, responses, 4)

	content := responses[0]["result"].(map[string]interface{})["content"].([]interface{})
	assert.Equal(t, "[]", content[0].(map[string]interface{})["text"])

	failed := responses[1]["result"].(map[string]interface{})
	assert.Equal(t, true, failed["isError"])

	assert.EqualValues(t, -32601, responses[2]["error"].(map[string]interface{})["code"])
	assert.EqualValues(t, -32601, responses[3]["error"].(map[string]interface{})["code"])
}
