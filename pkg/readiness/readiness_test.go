package readiness

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(ComponentDatabase, ComponentEngine)
	assert.False(t, r.Ready())

	rec := httptest.NewRecorder()
	r.Handler(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Contains(t, rec.Body.String(), "database\tfalse")

	r.SetReady(ComponentDatabase)
	r.SetReady(ComponentAPI) // not registered
	assert.False(t, r.Ready())

	r.SetReady(ComponentEngine)
	assert.True(t, r.Ready())

	rec = httptest.NewRecorder()
	r.Handler(rec, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "api")
}
