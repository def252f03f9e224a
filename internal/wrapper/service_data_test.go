package wrapper

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/hubcache/internal/domain"
	"github.com/MrSnakeDoc/hubcache/internal/domain/domaintest"
)

const streamConfiguration = `{
	"actions": {
		"write": {
			"help": "Write to the stream",
			"http": {"path": "/write", "port": 8080, "method": "post", "contentType": "application/json"},
			"arguments": {
				"message": {"type": "string", "required": true, "in": "requestBody", "help": "Payload"},
				"flush": {"type": "boolean", "in": "requestBody"}
			},
			"output_actions": {
				"ack": {
					"http": {
						"path": "/digest",
						"port": 8080,
						"method": "post",
						"use_event_conn": true,
						"subscribe": {"path": "/stream/subscribe", "method": "post"},
						"unsubscribe": {"path": "/stream/unsubscribe", "method": "post"}
					},
					"arguments": {"flush": {"in": "responseBody", "type": "boolean"}}
				}
			}
		},
		"close": {"help": "Close the stream"}
	}
}`

func TestFromPayload(t *testing.T) {
	p := domaintest.Payload("acme", "stream", "s")
	p.Service.IsCertified = true
	p.Configuration = json.RawMessage(streamConfiguration)

	data, err := FromPayload(p)
	require.NoError(t, err)

	assert.Equal(t, p.ServiceUUID, data.UUID)
	assert.Equal(t, "stream", data.Name)
	assert.Equal(t, "s", data.Alias)
	assert.Equal(t, "acme", data.Owner)
	assert.True(t, data.Certified)
	assert.Equal(t, []string{"a", "b"}, data.Topics)
	assert.Equal(t, domain.StateBeta, data.State)
	assert.Equal(t, domain.Identity{Alias: "s", Owner: "acme", Name: "stream"}, data.Identity())

	require.Len(t, data.Actions, 2)
	assert.Equal(t, "close", data.Actions[0].Name, "actions are sorted by name")
	assert.Empty(t, data.Actions[0].Arguments)

	write, ok := data.Action("write")
	require.True(t, ok)
	assert.Equal(t, "Write to the stream", write.Help)
	require.NotNil(t, write.HTTP)
	assert.Equal(t, "/write", write.HTTP.Path)
	assert.Equal(t, 8080, write.HTTP.Port)

	require.Len(t, write.Arguments, 2)
	assert.Equal(t, Argument{Name: "flush", Type: "boolean", In: "requestBody"}, write.Arguments[0])
	assert.Equal(t, Argument{Name: "message", Help: "Payload", Type: "string", Required: true, In: "requestBody"}, write.Arguments[1])

	require.Len(t, write.OutputActions, 1)
	ack := write.OutputActions[0]
	assert.Equal(t, "ack", ack.Name)
	require.NotNil(t, ack.HTTP)
	assert.True(t, ack.HTTP.UseEventConn)
	require.NotNil(t, ack.HTTP.Subscribe)
	assert.Equal(t, "/stream/subscribe", ack.HTTP.Subscribe.Path)
	require.NotNil(t, ack.HTTP.Unsubscribe)
	assert.Equal(t, "/stream/unsubscribe", ack.HTTP.Unsubscribe.Path)
	assert.Equal(t, []Argument{{Name: "flush", Type: "boolean", In: "responseBody"}}, ack.Arguments)

	_, ok = data.Action("missing")
	assert.False(t, ok)
}

func TestFromPayloadWithoutConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		config json.RawMessage
	}{
		{"absent", nil},
		{"null", json.RawMessage(`null`)},
		{"no actions", json.RawMessage(`{"x":1}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domaintest.Payload("acme", "widget", "")
			p.Configuration = tt.config

			data, err := FromPayload(p)
			require.NoError(t, err)
			assert.NotNil(t, data.Actions)
			assert.Empty(t, data.Actions)
		})
	}
}

func TestFromPayloadRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"not an object", `[1,2]`},
		{"argument without type", `{"actions":{"go":{"arguments":{"x":{"required":true}}}}}`},
		{"output argument without type", `{"actions":{"go":{"output_actions":{"o":{"arguments":{"y":{}}}}}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := domaintest.Payload("acme", "widget", "")
			p.Configuration = json.RawMessage(tt.config)

			_, err := FromPayload(p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "acme/widget")
		})
	}
}

func TestFromRaw(t *testing.T) {
	raw := []byte(`{
		"serviceUuid": "4f8c1c4e-2a47-4b6a-9f57-0c8a3b6d8e21",
		"service": {"name": "widget", "alias": "w", "owner": {"username": "acme"}, "topics": ["t"], "isCertified": false, "public": true},
		"state": "STABLE",
		"configuration": {"actions": {"ping": {"help": "Ping"}}},
		"readme": "hi"
	}`)

	data, err := FromRaw(raw)
	require.NoError(t, err)
	assert.Equal(t, "w", data.Alias)
	assert.Equal(t, domain.StateStable, data.State)
	require.Len(t, data.Actions, 1)
	assert.Equal(t, "ping", data.Actions[0].Name)

	_, err = FromRaw([]byte(`{`))
	assert.Error(t, err)
}
