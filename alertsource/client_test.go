package alertsource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/alerts", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{
				"fingerprint": "abc123",
				"labels": {"alertname": "HighLatency", "severity": "warning"},
				"annotations": {"summary": "p99 above threshold"},
				"startsAt": "2026-08-30T10:00:00Z",
				"status": {"state": "active"}
			}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	alerts, err := c.Fetch(context.Background())
	require.NoError(t, err)

	require.Len(t, alerts, 1)
	assert.Equal(t, "abc123", alerts[0].Fingerprint)
	assert.Equal(t, "HighLatency", alerts[0].Name())
	assert.Equal(t, "warning", alerts[0].Severity())
	assert.Equal(t, "p99 above threshold", alerts[0].Summary())
	assert.Equal(t, "active", alerts[0].Status.State)
}

func TestClientFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClientFetchBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode alerts")
}
