package httpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]any{"echo": in["emotion"]})
	}))
	defer srv.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	err := PostJSON(context.Background(), nil, srv.URL, map[string]any{"emotion": "happy"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "happy", out.Echo)
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":3}`))
	}))
	defer srv.Close()

	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, GetJSON(context.Background(), NewClient(time.Second), srv.URL, &out))
	assert.Equal(t, 3, out.Count)
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"cloud: avatar not connected"}` + "\n"))
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), nil, srv.URL, struct{}{}, nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, `{"error":"cloud: avatar not connected"}`, statusErr.Body)
}

func TestNilOutDiscardsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"sent"}`))
	}))
	defer srv.Close()

	assert.NoError(t, PostJSON(context.Background(), nil, srv.URL, map[string]string{}, nil))
}
