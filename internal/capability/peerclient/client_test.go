package peerclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentfabric/a2acore/internal/httpjsonrpc"
)

func TestFetchAgentCard(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/agent-card.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AgentCard{
			Name:   "PeerA",
			Skills: []AgentSkill{{Name: "summarize", Description: "summarizes text"}},
		})
	}))
	defer ts.Close()

	c := New(ts.URL)
	card, err := c.FetchAgentCard(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "PeerA", card.Name)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "summarize", card.Skills[0].Name)
}

func TestSendMessageDecodesA2AServerReplyShape(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpjsonrpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "message/send", req.Method)

		var params struct {
			SessionID string `json:"sessionId"`
			Message   struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		raw, _ := json.Marshal(req.Params)
		require.NoError(t, json.Unmarshal(raw, &params))
		assert.Equal(t, "s5", params.SessionID)
		assert.Equal(t, "double 21", params.Message.Content)

		result := map[string]any{
			"taskId": "t1",
			"status": "completed",
			"result": map[string]any{
				"message": map[string]any{"role": "agent", "content": "42"},
			},
		}
		data, _ := json.Marshal(result)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(httpjsonrpc.Response{JSONRPC: httpjsonrpc.Version, ID: req.ID, Result: data})
	}))
	defer ts.Close()

	c := New(ts.URL)
	reply, err := c.SendMessage(t.Context(), "s5", "double 21")
	require.NoError(t, err)
	assert.Equal(t, "42", reply)
}
