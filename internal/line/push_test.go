package line_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanamura/linebridge-backend/internal/line"
)

func newTestPushClient(handler http.HandlerFunc) (*line.PushClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	client := line.NewPushClient("test-token")
	client.APIBase = srv.URL
	return client, srv
}

func TestPushSuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	client, srv := newTestPushClient(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	err := client.Push(context.Background(), "U123", []line.Message{line.NewText("hi")})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "U123", gotBody["to"])
	assert.Len(t, gotBody["messages"], 1)
}

func TestPushRateLimited(t *testing.T) {
	client, srv := newTestPushClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	err := client.Push(context.Background(), "U123", []line.Message{line.NewText("hi")})
	assert.ErrorIs(t, err, line.ErrRateLimited)
}

func TestPushInvalidRecipient(t *testing.T) {
	client, srv := newTestPushClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Invalid user ID"})
	})
	defer srv.Close()

	err := client.Push(context.Background(), "U123", []line.Message{line.NewText("hi")})
	assert.ErrorIs(t, err, line.ErrInvalidRecipient)
}

func TestPushServerError(t *testing.T) {
	client, srv := newTestPushClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "internal error"})
	})
	defer srv.Close()

	err := client.Push(context.Background(), "U123", []line.Message{line.NewText("hi")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, line.ErrRateLimited)
	assert.NotErrorIs(t, err, line.ErrInvalidRecipient)
	assert.Contains(t, err.Error(), "internal error")
}
