package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearestOpenAISize(t *testing.T) {
	tests := []struct {
		name    string
		modelID string
		width   int
		height  int
		want    string
	}{
		{"dall-e-2 小图就近", "dall-e-2", 300, 300, "256x256"},
		{"dall-e-2 中图", "dall-e-2", 512, 512, "512x512"},
		{"dall-e-3 默认方图", "dall-e-3", 0, 0, "1024x1024"},
		{"dall-e-3 横图", "dall-e-3", 1600, 900, "1792x1024"},
		{"dall-e-3 竖图", "dall-e-3", 900, 1600, "1024x1792"},
		{"未知模型按 dall-e-3 处理", "whatever", 1024, 1024, "1024x1024"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nearestOpenAISize(tt.modelID, tt.width, tt.height))
		})
	}
}

func TestNormalizeOpenAIBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"https://api.openai.com", "https://api.openai.com/v1"},
		{"https://api.openai.com/v1", "https://api.openai.com/v1"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1"},
		{"https://proxy.example.com/v1/extra", "https://proxy.example.com/v1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeOpenAIBaseURL(tt.in))
	}
}

func TestOpenAIGenerateSuccess(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/img.png"}]}`))
	}))
	defer srv.Close()

	resolver := NewCredentialResolver(StaticSource{
		ProviderOpenAI: {APIKey: "sk-test", APIBase: srv.URL},
	})
	p := NewOpenAIProvider(resolver, 5*time.Second)

	resp := p.GenerateImage(context.Background(), GenerationConfig{
		Prompt:         "a golden triceratops",
		NegativePrompt: "ignored by dall-e",
		Model:          "dall-e-3",
		Width:          1024,
		Height:         1024,
	})

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "https://cdn.example.com/img.png", resp.ImageURL)
	assert.Empty(t, resp.ImageData)

	// 协议约束：单张、URL 返回、固定尺寸枚举、绝不发送负向提示词
	assert.Equal(t, float64(1), gotBody["n"])
	assert.Equal(t, "url", gotBody["response_format"])
	assert.Equal(t, "1024x1024", gotBody["size"])
	assert.Equal(t, "hd", gotBody["quality"])
	assert.Equal(t, "vivid", gotBody["style"])
	assert.NotContains(t, gotBody, "negative_prompt")
	assert.Contains(t, gotBody["prompt"], "a golden triceratops")
}

func TestOpenAIDallE2OmitsQualityStyle(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Write([]byte(`{"data":[{"url":"https://cdn.example.com/img.png"}]}`))
	}))
	defer srv.Close()

	resolver := NewCredentialResolver(StaticSource{
		ProviderOpenAI: {APIKey: "sk-test", APIBase: srv.URL},
	})
	p := NewOpenAIProvider(resolver, 5*time.Second)
	p.GenerateImage(context.Background(), GenerationConfig{Prompt: "rex", Model: "dall-e-2", Width: 512, Height: 512})

	assert.Equal(t, "512x512", gotBody["size"])
	assert.NotContains(t, gotBody, "quality")
	assert.NotContains(t, gotBody, "style")
}

func TestOpenAIEmptyDataIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	resolver := NewCredentialResolver(StaticSource{
		ProviderOpenAI: {APIKey: "sk-test", APIBase: srv.URL},
	})
	p := NewOpenAIProvider(resolver, 5*time.Second)
	resp := p.GenerateImage(context.Background(), GenerationConfig{Prompt: "rex"})

	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "未找到图片 URL")
}

func TestOpenAIUnconfigured(t *testing.T) {
	p := NewOpenAIProvider(NewCredentialResolver(), time.Second)
	assert.False(t, p.IsConfigured())
	resp := p.GenerateImage(context.Background(), GenerationConfig{Prompt: "rex"})
	assert.False(t, resp.Success)
}
