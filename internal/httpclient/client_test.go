package httpclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usedatabrew/klaviyo-source/internal/auth"
	"github.com/usedatabrew/klaviyo-source/internal/cerrors"
	"github.com/usedatabrew/klaviyo-source/internal/config"
	"github.com/usedatabrew/klaviyo-source/internal/httpclient"
	"github.com/usedatabrew/klaviyo-source/internal/klaviyo"
	"github.com/usedatabrew/klaviyo-source/internal/ratelimit"
	"github.com/usedatabrew/klaviyo-source/internal/retry"
)

func newTestClient(t *testing.T, baseURL string) *httpclient.Client {
	t.Helper()
	signer, err := auth.NewSigner(config.Credentials{AuthType: config.AuthAPIKey, APIKey: "k"}, nil)
	require.NoError(t, err)
	invoker := retry.NewInvoker(retry.Profile{
		InitialInterval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond, MaxAttempts: 2,
	}, nil)
	return httpclient.NewWithBaseURL(baseURL, signer, ratelimit.NewRegistry(), invoker)
}

func TestGetReturnsBodyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Klaviyo-API-Key k", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	body, err := c.Get(context.Background(), klaviyo.EndpointMetrics, "/metrics/", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(body))
}

func TestGetClassifies4xxAsClientFaultAndDoesNotRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Get(context.Background(), klaviyo.EndpointMetrics, "/metrics/", nil)

	var cf *cerrors.ClientFaultError
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, http.StatusNotFound, cf.Status)
	assert.Equal(t, 1, calls, "client faults must not be retried")
}

func TestGetRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	body, err := c.Get(context.Background(), klaviyo.EndpointMetrics, "/metrics/", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[]}`, string(body))
	assert.Equal(t, 2, calls)
}
