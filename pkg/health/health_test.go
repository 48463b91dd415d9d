package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(t *testing.T, fn http.HandlerFunc) (int, probeResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp probeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("not ready before SetReady", func(t *testing.T) {
		h := New()

		code, resp := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Contains(t, resp.Checks, "_readiness")
	})

	t.Run("ready after SetReady", func(t *testing.T) {
		h := New()
		h.SetReady(true)

		code, resp := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", resp.Status)
		assert.True(t, h.IsReady())
	})

	t.Run("failing check reported", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		h.AddReadinessCheck("db", time.Second, func(context.Context) error {
			return errors.New("connection refused")
		})

		h.Start(context.Background(), time.Minute)
		defer h.Stop()

		require.Eventually(t, func() bool {
			return !h.IsReady()
		}, time.Second, 10*time.Millisecond)

		code, resp := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "connection refused", resp.Checks["db"])
	})
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("healthy by default", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("goroutines", time.Second, GoroutineCountCheck(100000))

		code, resp := probe(t, h.LiveEndpoint)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("recovers after transient failure", func(t *testing.T) {
		h := New()
		fail := true
		h.AddLivenessCheck("flappy", time.Second, func(context.Context) error {
			if fail {
				return errors.New("down")
			}
			return nil
		})

		h.Start(context.Background(), 10*time.Millisecond)
		defer h.Stop()

		require.Eventually(t, func() bool {
			code, _ := probe(t, h.LiveEndpoint)
			return code == http.StatusServiceUnavailable
		}, time.Second, 5*time.Millisecond)

		fail = false
		require.Eventually(t, func() bool {
			code, _ := probe(t, h.LiveEndpoint)
			return code == http.StatusOK
		}, time.Second, 5*time.Millisecond)
	})
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
