package httpgateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relancehq/relance/pkg/channel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSend_ForwardsTemplateAndVariables(t *testing.T) {
	var received sendRequest
	var authHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"msg-1"}`))
	}))
	defer server.Close()

	gateway := NewGateway(server.URL, discardLogger(), WithAPIKey("secret"))

	messageID, err := gateway.Send(context.Background(), channel.Message{
		Recipient:  "+15550001111",
		TemplateID: "review_request_initial",
		Variables:  map[string]any{"name": "Dana"},
	})
	require.NoError(t, err)

	assert.Equal(t, "msg-1", messageID)
	assert.Equal(t, "Bearer secret", authHeader)
	assert.Equal(t, "+15550001111", received.Recipient)
	assert.Equal(t, "review_request_initial", received.TemplateID)
	assert.Equal(t, "Dana", received.Variables["name"])
	assert.Empty(t, received.Body)
}

func TestSend_RendersLocalTemplate(t *testing.T) {
	var received sendRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message_id":"msg-1"}`))
	}))
	defer server.Close()

	gateway := NewGateway(server.URL, discardLogger(), WithTemplates(map[string]string{
		"review_request_initial": "Hi {{.name}}, how was your visit?",
	}))

	_, err := gateway.Send(context.Background(), channel.Message{
		Recipient:  "+15550001111",
		TemplateID: "review_request_initial",
		Variables:  map[string]any{"name": "Dana"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi Dana, how was your visit?", received.Body)
	assert.Empty(t, received.TemplateID)
}

func TestSend_MapsStatusCodesToErrors(t *testing.T) {
	testCases := []struct {
		name     string
		status   int
		expected error
	}{
		{name: "bad request", status: http.StatusBadRequest, expected: channel.ErrRecipientInvalid},
		{name: "not found", status: http.StatusNotFound, expected: channel.ErrRecipientInvalid},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, expected: channel.ErrRecipientInvalid},
		{name: "server error", status: http.StatusInternalServerError, expected: channel.ErrChannelUnavailable},
		{name: "rate limited", status: http.StatusTooManyRequests, expected: channel.ErrChannelUnavailable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			gateway := NewGateway(server.URL, discardLogger())

			_, err := gateway.Send(context.Background(), channel.Message{
				Recipient:  "+15550001111",
				TemplateID: "review_request_initial",
			})
			require.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestSend_ConnectionFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	server.Close()

	gateway := NewGateway(server.URL, discardLogger(), WithTimeout(time.Second))

	_, err := gateway.Send(context.Background(), channel.Message{
		Recipient:  "+15550001111",
		TemplateID: "review_request_initial",
	})
	require.ErrorIs(t, err, channel.ErrChannelUnavailable)
}

func TestSend_MissingMessageIDIsAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	gateway := NewGateway(server.URL, discardLogger())

	messageID, err := gateway.Send(context.Background(), channel.Message{
		Recipient:  "+15550001111",
		TemplateID: "review_request_initial",
	})
	require.NoError(t, err)
	assert.Empty(t, messageID)
}
