package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	huggingFaceDefaultBase = "https://api-inference.huggingface.co"
	huggingFaceKeyPrefix   = "hf_"

	// 厂商调优过的质量后缀，固定追加在用户提示词之后
	huggingFacePromptSuffix = ", highly detailed, professional digital art, sharp focus, vibrant colors"
)

// HuggingFaceProvider 封装 HuggingFace Inference API 的文生图调用
type HuggingFaceProvider struct {
	resolver *CredentialResolver
	client   *http.Client
}

func NewHuggingFaceProvider(resolver *CredentialResolver, timeout time.Duration) *HuggingFaceProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HuggingFaceProvider{
		resolver: resolver,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HuggingFaceProvider) Name() string {
	return ProviderHuggingFace
}

func (p *HuggingFaceProvider) Info() ProviderInfo {
	return ProviderInfo{
		Name:               ProviderHuggingFace,
		DisplayName:        "HuggingFace",
		RequiresKey:        true,
		SupportsNegative:   true,
		SupportsSteps:      true,
		SupportsGuidance:   true,
		SupportsSeed:       true,
		SupportsDimensions: true,
		Models:             ModelsForProvider(ProviderHuggingFace),
	}
}

func (p *HuggingFaceProvider) IsConfigured() bool {
	return p.resolver.Resolve(ProviderHuggingFace).APIKey != ""
}

func (p *HuggingFaceProvider) ValidateConfig() ConfigStatus {
	key := p.resolver.Resolve(ProviderHuggingFace).APIKey
	if key == "" {
		return ConfigStatus{Valid: false, Error: "未配置 HuggingFace API Key"}
	}
	if !strings.HasPrefix(key, huggingFaceKeyPrefix) {
		return ConfigStatus{Valid: false, Error: "HuggingFace API Key 格式错误，应以 hf_ 开头"}
	}
	return ConfigStatus{Valid: true}
}

// huggingFaceRequest 请求体，字段名与厂商 API 保持一致
type huggingFaceRequest struct {
	Inputs     string                `json:"inputs"`
	Parameters huggingFaceParameters `json:"parameters"`
}

type huggingFaceParameters struct {
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	Seed              *int64  `json:"seed,omitempty"`
}

// GenerateImage 调用 /models/{model}，成功判定为 HTTP 200 且响应为图片二进制
func (p *HuggingFaceProvider) GenerateImage(ctx context.Context, cfg GenerationConfig) GenerationResponse {
	start := time.Now()
	cred := p.resolver.Resolve(ProviderHuggingFace)
	modelID := cfg.Model
	if modelID == "" {
		modelID = DefaultModelForProvider(ProviderHuggingFace)
	}

	if cred.APIKey == "" {
		return Failure(ProviderHuggingFace, modelID, "未配置 HuggingFace API Key")
	}

	base := strings.TrimRight(cred.APIBase, "/")
	if base == "" {
		base = huggingFaceDefaultBase
	}

	payload := huggingFaceRequest{
		Inputs: cfg.Prompt + huggingFacePromptSuffix,
		Parameters: huggingFaceParameters{
			NegativePrompt:    cfg.NegativePrompt,
			NumInferenceSteps: cfg.Steps,
			GuidanceScale:     cfg.GuidanceScale,
			Width:             cfg.Width,
			Height:            cfg.Height,
			Seed:              cfg.Seed,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(ProviderHuggingFace, modelID, fmt.Sprintf("序列化请求失败: %v", err))
	}

	url := fmt.Sprintf("%s/models/%s", base, modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Failure(ProviderHuggingFace, modelID, fmt.Sprintf("构造请求失败: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+cred.APIKey)
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[HuggingFace] 开始生成, Model: %s, Steps: %d\n", modelID, cfg.Steps)

	resp, err := p.client.Do(req)
	if err != nil {
		return Failure(ProviderHuggingFace, modelID, fmt.Sprintf("请求失败: %v", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure(ProviderHuggingFace, modelID, fmt.Sprintf("读取响应失败: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return Failure(ProviderHuggingFace, modelID, translateHuggingFaceError(resp.StatusCode, data))
	}

	// 200 但返回 JSON 说明是错误或排队信息，不是图片
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return Failure(ProviderHuggingFace, modelID, fmt.Sprintf("响应不是图片 (Content-Type: %s): %s", contentType, msg))
	}

	return GenerationResponse{
		Success:   true,
		ImageData: data,
		Metadata: Metadata{
			Provider:       ProviderHuggingFace,
			Model:          modelID,
			Seed:           cfg.Seed,
			Steps:          cfg.Steps,
			GuidanceScale:  cfg.GuidanceScale,
			GenerationTime: elapsedMS(start),
		},
	}
}

// translateHuggingFaceError 把厂商错误翻译成领域内的提示。
// 403 且提及 Inference Providers 权限时单独区分，与普通 403 不同。
func translateHuggingFaceError(status int, body []byte) string {
	text := string(body)
	switch status {
	case http.StatusUnauthorized:
		return "HuggingFace API Key 无效"
	case http.StatusForbidden:
		if strings.Contains(text, "Inference Providers") || strings.Contains(text, "permissions") {
			return "HuggingFace API Key 权限不足：该 Token 未开通 Inference Providers 权限"
		}
		return "HuggingFace 拒绝访问 (403)"
	case http.StatusTooManyRequests:
		return "HuggingFace 请求过于频繁，已被限流"
	case http.StatusServiceUnavailable:
		return "HuggingFace 模型正在加载，请稍后再试"
	}
	msg := strings.TrimSpace(text)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Sprintf("HuggingFace 请求失败 (HTTP %d): %s", status, msg)
}
