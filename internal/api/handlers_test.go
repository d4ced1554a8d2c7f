package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"createosaur-service/internal/generation"
	"createosaur-service/internal/model"
	"createosaur-service/internal/provider"
	"createosaur-service/internal/species"
	"createosaur-service/internal/trial"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "****"},
		{"12345678", "****"},
		{"sk-abcdefgh12345678", "sk-a****5678"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, maskAPIKey(tt.in))
	}
}

func TestGenerateRequestDefaults(t *testing.T) {
	req := GenerateRequest{Prompt: "rex"}
	cfg := req.toConfig()
	assert.Equal(t, 30, cfg.Steps)
	assert.Equal(t, 7.5, cfg.GuidanceScale)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 512, cfg.Height)

	req = GenerateRequest{Prompt: "rex", Steps: 10, GuidanceScale: 3, Width: 256, Height: 768}
	cfg = req.toConfig()
	assert.Equal(t, 10, cfg.Steps)
	assert.Equal(t, 3.0, cfg.GuidanceScale)
	assert.Equal(t, 256, cfg.Width)
	assert.Equal(t, 768, cfg.Height)
}

func newAdminTestEnv(t *testing.T) (*gin.Engine, *Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newAPITestDB(t)
	registry := provider.NewRegistry(db,
		&trialStubProvider{name: provider.ProviderHuggingFace, configured: true},
		&trialStubProvider{name: provider.ProviderOpenAI, configured: false},
	)
	h := &Handlers{
		DB:           db,
		Registry:     registry,
		Orchestrator: generation.NewOrchestrator(registry, 42),
		Species:      species.NewStore("", time.Second),
		Gate:         trial.NewGate(db),
	}
	r := gin.New()
	r.GET("/health", h.HealthHandler)
	r.GET("/api/v1/providers", h.ListProvidersHandler)
	r.POST("/api/v1/providers/default", h.SetDefaultProviderHandler)
	r.GET("/api/v1/capabilities", h.ListCapabilitiesHandler)
	r.GET("/api/v1/species", h.ListSpeciesHandler)
	return r, h
}

func postJSON(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestListProvidersMasksKeys(t *testing.T) {
	r, h := newAdminTestEnv(t)

	require.NoError(t, h.DB.Create(&model.ProviderConfig{
		ProviderName: provider.ProviderHuggingFace,
		APIKey:       "hf_secret_key_12345678",
		Enabled:      true,
	}).Error)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/providers", nil))

	require.Equal(t, http.StatusOK, w.Code)
	// 完整密钥绝不出现在响应里
	assert.NotContains(t, w.Body.String(), "hf_secret_key_12345678")
	assert.Contains(t, w.Body.String(), "hf_s****5678")
}

func TestListCapabilitiesCoversAllProviders(t *testing.T) {
	r, _ := newAdminTestEnv(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/capabilities", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Code int `json:"code"`
		Data []struct {
			Capability string            `json:"capability"`
			Models     map[string]string `json:"models"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 4)
	for _, entry := range resp.Data {
		assert.NotEmpty(t, entry.Models[provider.ProviderHuggingFace])
		assert.NotEmpty(t, entry.Models[provider.ProviderOpenAI])
	}
}

func TestSetDefaultProviderEndpoint(t *testing.T) {
	r, h := newAdminTestEnv(t)

	w := postJSON(r, "/api/v1/providers/default", `{"provider_name":"openai"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "openai", h.Registry.DefaultProvider())

	// 未注册的名称被拒绝，且不影响已保存的偏好
	w = postJSON(r, "/api/v1/providers/default", `{"provider_name":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "openai", h.Registry.DefaultProvider())
}

func TestHealthReportsDemoMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newAPITestDB(t)
	registry := provider.NewRegistry(db, &trialStubProvider{name: "stub", configured: false})
	h := &Handlers{
		DB:           db,
		Registry:     registry,
		Orchestrator: generation.NewOrchestrator(registry, 42),
	}
	r := gin.New()
	r.GET("/health", h.HealthHandler)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			DemoMode  bool `json:"demo_mode"`
			Providers int  `json:"providers"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Data.DemoMode)
	assert.Zero(t, resp.Data.Providers)
}

func TestListSpeciesEndpoint(t *testing.T) {
	r, _ := newAdminTestEnv(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/species?diet=carnivore", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Species []species.Species `json:"species"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.Species)
	for _, item := range resp.Data.Species {
		assert.Equal(t, "carnivore", item.Diet)
	}
}
