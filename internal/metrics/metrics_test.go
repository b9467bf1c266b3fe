package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/prompts/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/prompts/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/prompts/{id}", "404")))
}

func TestObservers(t *testing.T) {
	m := New()
	m.ObserveTemplateError("messages")
	m.ObserveConversation(true)
	m.ObserveConversation(false)
	m.ObserveTokens("openai", "gpt-4o", 10, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.templateErrors.WithLabelValues("messages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conversations.WithLabelValues("version")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.inferenceTokens.WithLabelValues("openai", "gpt-4o", "output")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveTemplateError("context")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `promptlib_template_errors_total{loc="context"} 1`)
}
