package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientVerbs(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/kwai-track", r.URL.Path)
		var req TrackRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req.Verb)
		result := 0
		json.NewEncoder(w).Encode(TrackResponse{Success: true, Result: &result})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	resp, err := c.Track(context.Background(), TrackRequest{EventName: "EVENT_PURCHASE"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	resp, err = c.Page(context.Background(), TrackRequest{EventName: "EVENT_CONTENT_VIEW"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	assert.Equal(t, []string{VerbTrack, VerbPage}, seen)
}

func TestClientFailureEnvelopeIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(TrackResponse{Success: false, Error: "Campo obrigatório ausente: clickid"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	resp, err := c.Track(context.Background(), TrackRequest{})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "clickid")
}

func TestClientTransportError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	_, err := c.Track(context.Background(), TrackRequest{})
	assert.Error(t, err)
}
