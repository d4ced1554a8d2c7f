package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	stabilityDefaultBase = "https://api.stability.ai"
	stabilityKeyPrefix   = "sk"

	stabilityPromptSuffix = ", detailed scales and textures, cinematic lighting, concept art quality"
)

// StabilityProvider 封装 Stability AI REST API 的文生图调用
type StabilityProvider struct {
	resolver *CredentialResolver
	client   *http.Client
}

func NewStabilityProvider(resolver *CredentialResolver, timeout time.Duration) *StabilityProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &StabilityProvider{
		resolver: resolver,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *StabilityProvider) Name() string {
	return ProviderStability
}

func (p *StabilityProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:               ProviderStability,
		DisplayName:        "Stability AI",
		RequiresKey:        true,
		SupportsNegative:   true, // 以权重 -1 的第二条 prompt 形式传递
		SupportsSteps:      true,
		SupportsGuidance:   true,
		SupportsSeed:       true,
		SupportsDimensions: true,
		Models:             ModelsForProvider(ProviderStability),
	}
}

func (p *StabilityProvider) IsConfigured() bool {
	return p.resolver.Resolve(ProviderStability).APIKey != ""
}

func (p *StabilityProvider) ValidateConfig() ConfigStatus {
	key := p.resolver.Resolve(ProviderStability).APIKey
	if key == "" {
		return ConfigStatus{Valid: false, Error: "未配置 Stability API Key"}
	}
	if !strings.HasPrefix(key, stabilityKeyPrefix) {
		return ConfigStatus{Valid: false, Error: "Stability API Key 格式错误，应以 sk 开头"}
	}
	return ConfigStatus{Valid: true}
}

type stabilityTextPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type stabilityRequest struct {
	TextPrompts []stabilityTextPrompt `json:"text_prompts"`
	CFGScale    float64               `json:"cfg_scale,omitempty"`
	Steps       int                   `json:"steps,omitempty"`
	Width       int                   `json:"width,omitempty"`
	Height      int                   `json:"height,omitempty"`
	Samples     int                   `json:"samples"`
	Seed        *int64                `json:"seed,omitempty"`
}

type stabilityArtifact struct {
	Base64       string `json:"base64"`
	FinishReason string `json:"finishReason"`
	Seed         int64  `json:"seed"`
}

type stabilityResponse struct {
	Artifacts []stabilityArtifact `json:"artifacts"`
}

type stabilityError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// GenerateImage 调用 /v1/generation/{model}/text-to-image。
// 成功判定为 HTTP 200 且 artifacts 首项 finishReason == SUCCESS，
// 图片为 base64，需解码成二进制后返回。
func (p *StabilityProvider) GenerateImage(ctx context.Context, cfg GenerationConfig) GenerationResponse {
	start := time.Now()
	cred := p.resolver.Resolve(ProviderStability)
	modelID := cfg.Model
	if modelID == "" {
		modelID = DefaultModelForProvider(ProviderStability)
	}

	if cred.APIKey == "" {
		return Failure(ProviderStability, modelID, "未配置 Stability API Key")
	}

	base := strings.TrimRight(cred.APIBase, "/")
	if base == "" {
		base = stabilityDefaultBase
	}

	prompts := []stabilityTextPrompt{{Text: cfg.Prompt + stabilityPromptSuffix, Weight: 1}}
	if cfg.NegativePrompt != "" {
		prompts = append(prompts, stabilityTextPrompt{Text: cfg.NegativePrompt, Weight: -1})
	}

	payload := stabilityRequest{
		TextPrompts: prompts,
		CFGScale:    cfg.GuidanceScale,
		Steps:       cfg.Steps,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Samples:     1,
		Seed:        cfg.Seed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(ProviderStability, modelID, fmt.Sprintf("序列化请求失败: %v", err))
	}

	url := fmt.Sprintf("%s/v1/generation/%s/text-to-image", base, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Failure(ProviderStability, modelID, fmt.Sprintf("构造请求失败: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Printf("[Stability] 开始生成, Model: %s, Steps: %d, CFG: %.1f\n", modelID, cfg.Steps, cfg.GuidanceScale)

	resp, err := p.client.Do(req)
	if err != nil {
		return Failure(ProviderStability, modelID, fmt.Sprintf("请求失败: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure(ProviderStability, modelID, fmt.Sprintf("读取响应失败: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return Failure(ProviderStability, modelID, translateStabilityError(resp.StatusCode, data))
	}

	var parsed stabilityResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Failure(ProviderStability, modelID, fmt.Sprintf("解析响应失败: %v", err))
	}
	if len(parsed.Artifacts) == 0 {
		return Failure(ProviderStability, modelID, "响应中未包含 artifacts")
	}

	artifact := parsed.Artifacts[0]
	if artifact.FinishReason != "SUCCESS" {
		return Failure(ProviderStability, modelID, fmt.Sprintf("生成未完成 (finishReason: %s)", artifact.FinishReason))
	}

	imgBytes, err := base64.StdEncoding.DecodeString(artifact.Base64)
	if err != nil {
		return Failure(ProviderStability, modelID, fmt.Sprintf("解码图片数据失败: %v", err))
	}

	seed := artifact.Seed
	return GenerationResponse{
		Success:   true,
		ImageData: imgBytes,
		Metadata: Metadata{
			Provider:       ProviderStability,
			Model:          modelID,
			Seed:           &seed,
			Steps:          cfg.Steps,
			GuidanceScale:  cfg.GuidanceScale,
			GenerationTime: elapsedMS(start),
		},
	}
}

// translateStabilityError 401/429 单独区分，400 透传厂商错误原文
func translateStabilityError(status int, body []byte) string {
	switch status {
	case http.StatusUnauthorized:
		return "Stability API Key 无效"
	case http.StatusTooManyRequests:
		return "Stability 请求过于频繁，已被限流"
	case http.StatusBadRequest:
		var parsed stabilityError
		if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
			return fmt.Sprintf("Stability 参数错误: %s", parsed.Message)
		}
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Sprintf("Stability 参数错误: %s", msg)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Sprintf("Stability 请求失败 (HTTP %d): %s", status, msg)
}
