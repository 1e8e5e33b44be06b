package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionHandlerReportsBuildAndService(t *testing.T) {
	SetVersionInfo("1.2.3", "abcd123", "2026-01-02T03:04:05Z")
	SetAppName("quillpress")
	SetServiceInfo("redis", []string{"signup", "login"})
	t.Cleanup(func() {
		serviceMu.Lock()
		serviceInfo = nil
		serviceMu.Unlock()
	})

	rec := httptest.NewRecorder()
	VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "quillpress", resp.App.Name)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
	assert.NotEmpty(t, resp.Dependencies.Crucible)

	require.NotNil(t, resp.Service)
	assert.Equal(t, "redis", resp.Service.StoreDriver)
	assert.Equal(t, []string{"login", "signup"}, resp.Service.Scopes)
}

func TestCurrentVersionOmitsServiceWhenNotServing(t *testing.T) {
	serviceMu.Lock()
	serviceInfo = nil
	serviceMu.Unlock()

	body, err := json.Marshal(CurrentVersion())
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"service"`)
}
