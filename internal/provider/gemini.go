package provider

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

const geminiDefaultBase = "https://generativelanguage.googleapis.com"

const geminiPromptSuffix = ". Render as a detailed, vividly colored digital illustration."

// GeminiProvider 封装 Google Gemini / Imagen 的图片生成
type GeminiProvider struct {
	resolver *CredentialResolver
	timeout  time.Duration
}

func NewGeminiProvider(resolver *CredentialResolver, timeout time.Duration) *GeminiProvider {
	if timeout <= 0 {
		timeout = 150 * time.Second
	}
	return &GeminiProvider{resolver: resolver, timeout: timeout}
}

func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

func (p *GeminiProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:               ProviderGemini,
		DisplayName:        "Google Gemini",
		RequiresKey:        true,
		SupportsNegative:   false,
		SupportsSteps:      false,
		SupportsGuidance:   false,
		SupportsSeed:       false,
		SupportsDimensions: false,
		Models:             ModelsForProvider(ProviderGemini),
	}
}

func (p *GeminiProvider) IsConfigured() bool {
	return p.resolver.Resolve(ProviderGemini).APIKey != ""
}

func (p *GeminiProvider) ValidateConfig() ConfigStatus {
	key := p.resolver.Resolve(ProviderGemini).APIKey
	if key == "" {
		return ConfigStatus{Valid: false, Error: "未配置 Gemini API Key"}
	}
	if len(key) < 20 {
		return ConfigStatus{Valid: false, Error: "Gemini API Key 长度异常"}
	}
	return ConfigStatus{Valid: true}
}

// newClient 每次调用重建客户端，凭据更新即时生效
func (p *GeminiProvider) newClient(ctx context.Context, cred Credential) (*genai.Client, error) {
	httpClient := &http.Client{
		Timeout: p.timeout,
		Transport: &http.Transport{
			// 禁用连接复用，规避部分中转网关的 bad file descriptor 问题
			DisableKeepAlives:   true,
			ForceAttemptHTTP2:   false,
			MaxIdleConns:        0,
			MaxIdleConnsPerHost: 0,
		},
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cred.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if apiBase := strings.TrimRight(strings.TrimSpace(cred.APIBase), "/"); apiBase != "" && apiBase != geminiDefaultBase {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: apiBase}
	}

	return genai.NewClient(ctx, clientConfig)
}

// GenerateImage 通过 GenerateContent 生成图片，取候选内容中的 InlineData
func (p *GeminiProvider) GenerateImage(ctx context.Context, cfg GenerationConfig) GenerationResponse {
	start := time.Now()
	cred := p.resolver.Resolve(ProviderGemini)
	modelID := cfg.Model
	if modelID == "" {
		modelID = DefaultModelForProvider(ProviderGemini)
	}

	if cred.APIKey == "" {
		return Failure(ProviderGemini, modelID, "未配置 Gemini API Key")
	}

	client, err := p.newClient(ctx, cred)
	if err != nil {
		return Failure(ProviderGemini, modelID, fmt.Sprintf("创建 Gemini 客户端失败: %v", err))
	}

	genConfig := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		SafetySettings: []*genai.SafetySetting{
			{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
			{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
		},
	}

	prompt := cfg.Prompt + geminiPromptSuffix
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	log.Printf("[Gemini] 开始生成, Model: %s\n", modelID)

	resp, err := client.Models.GenerateContent(ctx, modelID, contents, genConfig)
	if err != nil {
		return Failure(ProviderGemini, modelID, fmt.Sprintf("GenerateContent 调用失败: %v", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Failure(ProviderGemini, modelID, "API 未返回有效内容 (可能触发了安全过滤或配额限制)")
	}

	candidate := resp.Candidates[0]
	for _, part := range candidate.Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return GenerationResponse{
				Success:   true,
				ImageData: part.InlineData.Data,
				Metadata: Metadata{
					Provider:       ProviderGemini,
					Model:          modelID,
					GenerationTime: elapsedMS(start),
				},
			}
		}
	}

	var reason strings.Builder
	reason.WriteString(fmt.Sprintf("未在响应中找到图片数据 (FinishReason: %s)", candidate.FinishReason))
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			reason.WriteString(fmt.Sprintf(" | 文本响应: %s", part.Text))
		}
	}
	return Failure(ProviderGemini, modelID, reason.String())
}
