package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"createosaur-service/internal/generation"
	"createosaur-service/internal/model"
	"createosaur-service/internal/provider"
	"createosaur-service/internal/storage"
	"createosaur-service/internal/trial"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type trialStubProvider struct {
	name       string
	configured bool
	calls      int
	imageData  []byte                    // 非空时返回图片字节而非托管 URL
	onGenerate func()                    // 生成期间的回调，模拟并发场景
	lastConfig provider.GenerationConfig
}

func (s *trialStubProvider) Name() string { return s.name }

func (s *trialStubProvider) Info() provider.ProviderInfo {
	return provider.ProviderInfo{Name: s.name}
}

func (s *trialStubProvider) IsConfigured() bool { return s.configured }

func (s *trialStubProvider) ValidateConfig() provider.ConfigStatus {
	return provider.ConfigStatus{Valid: s.configured}
}

func (s *trialStubProvider) GenerateImage(_ context.Context, cfg provider.GenerationConfig) provider.GenerationResponse {
	s.calls++
	s.lastConfig = cfg
	if s.onGenerate != nil {
		s.onGenerate()
	}
	if len(s.imageData) > 0 {
		return provider.GenerationResponse{
			Success:   true,
			ImageData: s.imageData,
			Metadata:  provider.Metadata{Provider: s.name, Model: "stub-model"},
		}
	}
	return provider.GenerationResponse{
		Success:  true,
		ImageURL: "https://cdn.example.com/generated.png",
		Metadata: provider.Metadata{Provider: s.name, Model: "stub-model"},
	}
}

func newAPITestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "api_test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.Migrate(db))
	return db
}

func newTrialTestEnv(t *testing.T, stub *trialStubProvider) (*gin.Engine, *Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newAPITestDB(t)
	registry := provider.NewRegistry(db, stub)
	h := &Handlers{
		DB:           db,
		Registry:     registry,
		Orchestrator: generation.NewOrchestrator(registry, 42),
		Store:        storage.New(t.TempDir(), nil),
		Gate:         trial.NewGate(db),
		Trial: TrialOptions{
			Provider:         stub.name,
			RateLimitPerHour: 100000, // 测试里不触发限流
		},
	}

	r := gin.New()
	r.POST("/api/anonymous-generate", h.AnonymousGenerateHandler)
	return r, h
}

func postTrial(t *testing.T, r *gin.Engine, body map[string]interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/anonymous-generate", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var parsed map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &parsed)
	return w, parsed
}

func TestAnonymousGenerateMissingPrompt(t *testing.T) {
	r, _ := newTrialTestEnv(t, &trialStubProvider{name: "stub", configured: true})
	w, body := postTrial(t, r, map[string]interface{}{"fingerprint": "fp-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, body["error"])
}

func TestAnonymousGenerateMissingFingerprint(t *testing.T) {
	r, _ := newTrialTestEnv(t, &trialStubProvider{name: "stub", configured: true})
	w, body := postTrial(t, r, map[string]interface{}{"prompt": "a red rex"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, body["error"])
}

func TestAnonymousGenerateSuccessDecrementsQuota(t *testing.T) {
	stub := &trialStubProvider{name: "stub", configured: true}
	r, _ := newTrialTestEnv(t, stub)

	w, body := postTrial(t, r, map[string]interface{}{
		"prompt":      "a red tyrannosaurus",
		"fingerprint": "fp-success",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "https://cdn.example.com/generated.png", body["imageUrl"])
	assert.Equal(t, float64(2), body["remainingGenerations"])
	assert.Equal(t, float64(1), body["totalUsed"])
	assert.Equal(t, float64(3), body["maxAllowed"])
	assert.Equal(t, 1, stub.calls)

	// 任何响应都不得携带服务端凭证
	assert.NotContains(t, w.Body.String(), "api_key")
	assert.NotContains(t, w.Body.String(), "sk-")
}

func TestAnonymousGenerateExhaustedSkipsVendorCall(t *testing.T) {
	stub := &trialStubProvider{name: "stub", configured: true}
	r, h := newTrialTestEnv(t, stub)

	// 预先耗尽该指纹的额度
	usage, err := h.Gate.Lookup("fp-exhausted", "s", "192.0.2.1")
	require.NoError(t, err)
	for i := 0; i < usage.MaxGenerations; i++ {
		_, err := h.Gate.Consume("fp-exhausted")
		require.NoError(t, err)
	}
	stub.calls = 0

	w, body := postTrial(t, r, map[string]interface{}{
		"prompt":      "a red rex",
		"fingerprint": "fp-exhausted",
	})

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Trial limit exceeded", body["error"])
	assert.Equal(t, float64(0), body["remainingGenerations"])
	assert.Equal(t, float64(3), body["totalUsed"])
	assert.Equal(t, float64(3), body["maxAllowed"])
	// 关键约束：额度耗尽时绝不发起厂商调用
	assert.Equal(t, 0, stub.calls)
}

func TestAnonymousGenerateProviderUnconfigured(t *testing.T) {
	stub := &trialStubProvider{name: "stub", configured: false}
	r, _ := newTrialTestEnv(t, stub)

	w, body := postTrial(t, r, map[string]interface{}{
		"prompt":      "a red rex",
		"fingerprint": "fp-1",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, 0, stub.calls)
}

func TestAnonymousGenerateRateLimited(t *testing.T) {
	stub := &trialStubProvider{name: "stub", configured: true}
	gin.SetMode(gin.TestMode)

	db := newAPITestDB(t)
	registry := provider.NewRegistry(db, stub)
	h := &Handlers{
		DB:           db,
		Registry:     registry,
		Orchestrator: generation.NewOrchestrator(registry, 42),
		Store:        storage.New(t.TempDir(), nil),
		Gate:         trial.NewGate(db),
		Trial: TrialOptions{
			Provider:         "stub",
			RateLimitPerHour: 1,
		},
	}
	r := gin.New()
	r.POST("/api/anonymous-generate", h.AnonymousGenerateHandler)

	body := map[string]interface{}{"prompt": "a rex", "fingerprint": "fp-rl"}
	w, _ := postTrial(t, r, body)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = postTrial(t, r, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1, stub.calls)
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// 厂商返回原始图片字节时，imageUrl 必须指向真正对外暴露的静态路由
func TestAnonymousGenerateLocalImageServedFromStorageRoute(t *testing.T) {
	stub := &trialStubProvider{name: "stub", configured: true, imageData: encodeTestPNG(t)}
	gin.SetMode(gin.TestMode)

	db := newAPITestDB(t)
	registry := provider.NewRegistry(db, stub)
	dir := t.TempDir()
	h := &Handlers{
		DB:           db,
		Registry:     registry,
		Orchestrator: generation.NewOrchestrator(registry, 42),
		Store:        storage.New(dir, nil),
		Gate:         trial.NewGate(db),
		Trial: TrialOptions{
			Provider:         "stub",
			RateLimitPerHour: 100000,
		},
	}
	r := gin.New()
	r.POST("/api/anonymous-generate", h.AnonymousGenerateHandler)
	r.Static("/storage", dir)

	w, body := postTrial(t, r, map[string]interface{}{
		"prompt":      "a red rex",
		"fingerprint": "fp-local",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	imageURL, ok := body["imageUrl"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(imageURL, "/storage/"), imageURL)

	// 回头通过同一路由能取回刚生成的文件
	getW := httptest.NewRecorder()
	r.ServeHTTP(getW, httptest.NewRequest(http.MethodGet, imageURL, nil))
	assert.Equal(t, http.StatusOK, getW.Code)
	assert.NotEmpty(t, getW.Body.Bytes())
}

func TestAnonymousGenerateForwardsStepsAndGuidance(t *testing.T) {
	stub := &trialStubProvider{name: "stub", configured: true}
	r, _ := newTrialTestEnv(t, stub)

	w, _ := postTrial(t, r, map[string]interface{}{
		"prompt":      "a rex",
		"fingerprint": "fp-cfg",
		"steps":       12,
		"guidance":    4.5,
		"width":       768,
		"height":      256,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 12, stub.lastConfig.Steps)
	assert.Equal(t, 4.5, stub.lastConfig.GuidanceScale)
	assert.Equal(t, 768, stub.lastConfig.Width)
	assert.Equal(t, 256, stub.lastConfig.Height)

	// 缺省时回落到默认档位
	w, _ = postTrial(t, r, map[string]interface{}{
		"prompt":      "a rex",
		"fingerprint": "fp-cfg",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 30, stub.lastConfig.Steps)
	assert.Equal(t, 7.5, stub.lastConfig.GuidanceScale)
	assert.Equal(t, 512, stub.lastConfig.Width)
	assert.Equal(t, 512, stub.lastConfig.Height)
}

// 生成期间另一请求抢先扣完额度，403 响应里是数据库的真实计数
func TestAnonymousGenerateConsumeRaceReportsFreshCounts(t *testing.T) {
	stub := &trialStubProvider{name: "stub", configured: true}
	r, h := newTrialTestEnv(t, stub)
	stub.onGenerate = func() {
		for {
			if _, err := h.Gate.Consume("fp-race"); err != nil {
				return
			}
		}
	}

	w, body := postTrial(t, r, map[string]interface{}{
		"prompt":      "a rex",
		"fingerprint": "fp-race",
	})
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Equal(t, "Trial limit exceeded", body["error"])
	assert.Equal(t, float64(0), body["remainingGenerations"])
	assert.Equal(t, 1, stub.calls)

	var usage model.TrialUsage
	require.NoError(t, h.DB.Where("fingerprint = ?", "fp-race").First(&usage).Error)
	assert.Equal(t, float64(usage.GenerationsUsed), body["totalUsed"])
	assert.Equal(t, float64(usage.MaxGenerations), body["maxAllowed"])
}

func TestTrialLimiter(t *testing.T) {
	l := newTrialLimiter(2)
	assert.True(t, l.allow("key"))
	assert.True(t, l.allow("key"))
	assert.False(t, l.allow("key"))
	// 不同 key 独立计数
	assert.True(t, l.allow("other"))
}
