package provider

import (
	"context"
	"time"
)

// GenerationConfig 单次生图请求参数，派发后不再修改
type GenerationConfig struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Model          string  `json:"model,omitempty"` // 能力 ID 或具体模型 ID
	Steps          int     `json:"steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Seed           *int64  `json:"seed,omitempty"`
	Provider       string  `json:"provider,omitempty"` // 期望优先使用的 Provider
}

// Metadata 一次生成的附加信息
type Metadata struct {
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Seed           *int64  `json:"seed,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	GuidanceScale  float64 `json:"guidance_scale,omitempty"`
	CostEstimate   float64 `json:"cost_estimate,omitempty"`
	GenerationTime int64   `json:"generation_time_ms"` // 墙钟耗时（毫秒）
}

// GenerationResponse 生图结果。
// Success 为 true 时 ImageURL 或 ImageData 至少一项非空；
// 为 false 时 Error 必定非空。
type GenerationResponse struct {
	Success   bool     `json:"success"`
	ImageURL  string   `json:"image_url,omitempty"`
	ImageData []byte   `json:"-"`
	Error     string   `json:"error,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// HasImage 返回结果中是否带有可用的图片引用
func (r *GenerationResponse) HasImage() bool {
	return r.ImageURL != "" || len(r.ImageData) > 0
}

// Failure 构造一个失败结果，保证 Error 非空
func Failure(providerName, modelID, message string) GenerationResponse {
	if message == "" {
		message = "生成失败"
	}
	return GenerationResponse{
		Success: false,
		Error:   message,
		Metadata: Metadata{
			Provider: providerName,
			Model:    modelID,
		},
	}
}

// ModelInfo 一个厂商模型的静态元数据
type ModelInfo struct {
	ID        string `json:"id"`   // 厂商 API 使用的模型标识
	Name      string `json:"name"` // 展示名
	MaxWidth  int    `json:"max_width"`
	MaxHeight int    `json:"max_height"`
	Quality   string `json:"quality"` // standard / high / premium
	Speed     string `json:"speed"`   // fast / medium / slow
	Style     string `json:"style"`
}

// ProviderInfo 一个 Provider 的静态元数据，构造时确定、不再变更
type ProviderInfo struct {
	Name                string      `json:"name"`
	DisplayName         string      `json:"display_name"`
	RequiresKey         bool        `json:"requires_key"`
	SupportsNegative    bool        `json:"supports_negative_prompt"`
	SupportsSteps       bool        `json:"supports_steps"`
	SupportsGuidance    bool        `json:"supports_guidance_scale"`
	SupportsSeed        bool        `json:"supports_seed"`
	SupportsDimensions  bool        `json:"supports_custom_dimensions"`
	Models              []ModelInfo `json:"models"`
}

// ConfigStatus 凭据结构性校验结果
type ConfigStatus struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Provider 定义统一的图片生成接口。
// GenerateImage 只发起一次厂商调用、不做内部重试，所有失败都折叠进
// GenerationResponse，不会向外抛错；重试与降级是 Registry 的职责。
type Provider interface {
	Name() string
	Info() ProviderInfo
	IsConfigured() bool
	ValidateConfig() ConfigStatus
	GenerateImage(ctx context.Context, cfg GenerationConfig) GenerationResponse
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
