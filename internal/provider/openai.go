package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	openAIKeyPrefix = "sk"

	// DALL-E 3 对描述性后缀响应较好，固定追加
	openAIPromptSuffix = ", digital illustration, highly detailed, dramatic lighting"
)

// openAISizes 两个模型各自支持的固定尺寸枚举
var openAISizes = map[string][][2]int{
	"dall-e-2": {{256, 256}, {512, 512}, {1024, 1024}},
	"dall-e-3": {{1024, 1024}, {1792, 1024}, {1024, 1792}},
}

// OpenAIProvider 封装 OpenAI 图片生成接口 (DALL-E)
type OpenAIProvider struct {
	resolver   *CredentialResolver
	httpClient *http.Client
}

func NewOpenAIProvider(resolver *CredentialResolver, timeout time.Duration) *OpenAIProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIProvider{
		resolver:   resolver,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) Name() string {
	return ProviderOpenAI
}

func (p *OpenAIProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:               ProviderOpenAI,
		DisplayName:        "OpenAI DALL-E",
		RequiresKey:        true,
		SupportsNegative:   false, // DALL-E 不支持负向提示词，永远不要发送
		SupportsSteps:      false,
		SupportsGuidance:   false,
		SupportsSeed:       false,
		SupportsDimensions: false, // 只能从固定尺寸枚举中就近选择
		Models:             ModelsForProvider(ProviderOpenAI),
	}
}

func (p *OpenAIProvider) IsConfigured() bool {
	return p.resolver.Resolve(ProviderOpenAI).APIKey != ""
}

func (p *OpenAIProvider) ValidateConfig() ConfigStatus {
	key := p.resolver.Resolve(ProviderOpenAI).APIKey
	if key == "" {
		return ConfigStatus{Valid: false, Error: "未配置 OpenAI API Key"}
	}
	if !strings.HasPrefix(key, openAIKeyPrefix) {
		return ConfigStatus{Valid: false, Error: "OpenAI API Key 格式错误，应以 sk 开头"}
	}
	return ConfigStatus{Valid: true}
}

func (p *OpenAIProvider) newClient(cred Credential) *openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cred.APIKey),
		option.WithHTTPClient(p.httpClient),
	}
	if base := NormalizeOpenAIBaseURL(cred.APIBase); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := openai.NewClient(opts...)
	return &client
}

// GenerateImage 调用 /images/generations，成功判定为返回非空 data[] 且含 URL
func (p *OpenAIProvider) GenerateImage(ctx context.Context, cfg GenerationConfig) GenerationResponse {
	start := time.Now()
	cred := p.resolver.Resolve(ProviderOpenAI)
	modelID := cfg.Model
	if modelID == "" {
		modelID = DefaultModelForProvider(ProviderOpenAI)
	}

	if cred.APIKey == "" {
		return Failure(ProviderOpenAI, modelID, "未配置 OpenAI API Key")
	}

	size := nearestOpenAISize(modelID, cfg.Width, cfg.Height)
	body := map[string]interface{}{
		"model":           modelID,
		"prompt":          cfg.Prompt + openAIPromptSuffix,
		"n":               1,
		"size":            size,
		"response_format": "url",
	}
	if modelID == "dall-e-3" {
		body["quality"] = "hd"
		body["style"] = "vivid"
	}

	log.Printf("[OpenAI] 开始生成, Model: %s, Size: %s\n", modelID, size)

	var respBytes []byte
	if err := p.newClient(cred).Post(ctx, "/images/generations", body, &respBytes); err != nil {
		return Failure(ProviderOpenAI, modelID, translateOpenAIError(err))
	}

	var parsed struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return Failure(ProviderOpenAI, modelID, fmt.Sprintf("解析响应失败: %v", err))
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return Failure(ProviderOpenAI, modelID, "响应中未找到图片 URL")
	}

	return GenerationResponse{
		Success:  true,
		ImageURL: parsed.Data[0].URL,
		Metadata: Metadata{
			Provider:       ProviderOpenAI,
			Model:          modelID,
			GenerationTime: elapsedMS(start),
		},
	}
}

// nearestOpenAISize 在该模型的固定尺寸枚举中取最接近请求宽高的一档
func nearestOpenAISize(modelID string, width, height int) string {
	sizes, ok := openAISizes[modelID]
	if !ok {
		sizes = openAISizes["dall-e-3"]
	}
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}

	best := sizes[0]
	bestDist := -1
	for _, s := range sizes {
		dw := s[0] - width
		dh := s[1] - height
		dist := dw*dw + dh*dh
		if bestDist < 0 || dist < bestDist {
			best = s
			bestDist = dist
		}
	}
	return fmt.Sprintf("%dx%d", best[0], best[1])
}

// translateOpenAIError 区分内容安全违规与其他失败
func translateOpenAIError(err error) string {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusBadRequest &&
			(apiErr.Code == "content_policy_violation" || strings.Contains(apiErr.Message, "content policy")) {
			return "OpenAI 内容安全审核未通过，请调整提示词"
		}
		if apiErr.StatusCode == http.StatusUnauthorized {
			return "OpenAI API Key 无效"
		}
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return "OpenAI 请求过于频繁，已被限流"
		}
		msg := strings.TrimSpace(apiErr.Message)
		if msg == "" {
			msg = strings.TrimSpace(apiErr.RawJSON())
		}
		if msg != "" {
			return fmt.Sprintf("OpenAI 请求失败 (HTTP %d): %s", apiErr.StatusCode, msg)
		}
	}
	return fmt.Sprintf("OpenAI 请求失败: %v", err)
}

// NormalizeOpenAIBaseURL 规范化自定义 API Base，确保以 /v1 结尾
func NormalizeOpenAIBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return ""
	}

	base = strings.TrimRight(base, "/")
	if strings.Contains(base, "/v1/") {
		return strings.Split(base, "/v1/")[0] + "/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}
