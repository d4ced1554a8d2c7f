package provider

// 能力标识：调用方用抽象的质量/速度档位挑模型，不写死厂商模型 ID
const (
	CapabilityFastDraft      = "fast-draft"
	CapabilityBalanced       = "balanced"
	CapabilityPremiumQuality = "premium-quality"
	CapabilityPremiumLarge   = "premium-large"
)

// DefaultCapability 未知输入统一落到的档位
const DefaultCapability = CapabilityPremiumQuality

// capabilityOrder 固定遍历顺序，保证反查结果确定
var capabilityOrder = []string{
	CapabilityFastDraft,
	CapabilityBalanced,
	CapabilityPremiumQuality,
	CapabilityPremiumLarge,
}

// capabilityTable 能力 -> 各 Provider 具体模型 ID 的静态映射，运行期不修改
var capabilityTable = map[string]map[string]string{
	ProviderHuggingFace: {
		CapabilityFastDraft:      "runwayml/stable-diffusion-v1-5",
		CapabilityBalanced:       "stabilityai/stable-diffusion-2-1",
		CapabilityPremiumQuality: "stabilityai/stable-diffusion-xl-base-1.0",
		CapabilityPremiumLarge:   "stabilityai/stable-diffusion-xl-base-1.0",
	},
	ProviderOpenAI: {
		CapabilityFastDraft:      "dall-e-2",
		CapabilityBalanced:       "dall-e-3",
		CapabilityPremiumQuality: "dall-e-3",
		CapabilityPremiumLarge:   "dall-e-3",
	},
	ProviderStability: {
		CapabilityFastDraft:      "stable-diffusion-v1-6",
		CapabilityBalanced:       "stable-diffusion-v1-6",
		CapabilityPremiumQuality: "stable-diffusion-xl-1024-v1-0",
		CapabilityPremiumLarge:   "stable-diffusion-xl-1024-v1-0",
	},
	ProviderGemini: {
		CapabilityFastDraft:      "gemini-2.0-flash-preview-image-generation",
		CapabilityBalanced:       "gemini-2.0-flash-preview-image-generation",
		CapabilityPremiumQuality: "imagen-3.0-generate-002",
		CapabilityPremiumLarge:   "imagen-3.0-generate-002",
	},
}

// providerModels 各 Provider 声明的模型列表，首个即默认模型
var providerModels = map[string][]ModelInfo{
	ProviderHuggingFace: {
		{ID: "stabilityai/stable-diffusion-xl-base-1.0", Name: "SDXL Base 1.0", MaxWidth: 1024, MaxHeight: 1024, Quality: "premium", Speed: "medium", Style: "photorealistic"},
		{ID: "stabilityai/stable-diffusion-2-1", Name: "Stable Diffusion 2.1", MaxWidth: 768, MaxHeight: 768, Quality: "high", Speed: "medium", Style: "versatile"},
		{ID: "runwayml/stable-diffusion-v1-5", Name: "Stable Diffusion 1.5", MaxWidth: 512, MaxHeight: 512, Quality: "standard", Speed: "fast", Style: "classic"},
	},
	ProviderOpenAI: {
		{ID: "dall-e-3", Name: "DALL-E 3", MaxWidth: 1792, MaxHeight: 1792, Quality: "premium", Speed: "slow", Style: "vivid"},
		{ID: "dall-e-2", Name: "DALL-E 2", MaxWidth: 1024, MaxHeight: 1024, Quality: "standard", Speed: "fast", Style: "natural"},
	},
	ProviderStability: {
		{ID: "stable-diffusion-xl-1024-v1-0", Name: "SDXL 1.0", MaxWidth: 1024, MaxHeight: 1024, Quality: "premium", Speed: "medium", Style: "photorealistic"},
		{ID: "stable-diffusion-v1-6", Name: "Stable Diffusion 1.6", MaxWidth: 896, MaxHeight: 896, Quality: "standard", Speed: "fast", Style: "versatile"},
	},
	ProviderGemini: {
		{ID: "imagen-3.0-generate-002", Name: "Imagen 3", MaxWidth: 1408, MaxHeight: 1408, Quality: "premium", Speed: "medium", Style: "photorealistic"},
		{ID: "gemini-2.0-flash-preview-image-generation", Name: "Gemini 2.0 Flash Image", MaxWidth: 1024, MaxHeight: 1024, Quality: "standard", Speed: "fast", Style: "versatile"},
	},
}

// ModelsForProvider 返回某 Provider 声明的模型列表
func ModelsForProvider(providerName string) []ModelInfo {
	return providerModels[providerName]
}

// DefaultModelForProvider 返回某 Provider 的默认模型 ID（声明列表首个）
func DefaultModelForProvider(providerName string) string {
	models := providerModels[providerName]
	if len(models) == 0 {
		return ""
	}
	return models[0].ID
}

// Capabilities 按固定顺序返回全部能力标识
func Capabilities() []string {
	out := make([]string, len(capabilityOrder))
	copy(out, capabilityOrder)
	return out
}

// IsCapability 判断输入是否为已定义的能力标识
func IsCapability(id string) bool {
	for _, capID := range capabilityOrder {
		if capID == id {
			return true
		}
	}
	return false
}

// GetModelForProvider 把能力标识映射为目标 Provider 的具体模型 ID。
// 该 Provider 没有对应条目时回落到它的默认模型，绝不返回未声明的 ID。
func GetModelForProvider(providerName, capabilityID string) string {
	if table, ok := capabilityTable[providerName]; ok {
		if id, ok := table[capabilityID]; ok {
			return id
		}
	}
	return DefaultModelForProvider(providerName)
}

// DetectCapabilityFromLegacyModel 反查：已有具体模型 ID 的老调用方
// 想换 Provider 时，先还原成能力标识再做正向映射。
// 未知输入映射到 DefaultCapability，而不是报错。
func DetectCapabilityFromLegacyModel(modelID string) string {
	if IsCapability(modelID) {
		return modelID
	}
	for _, capID := range capabilityOrder {
		for _, table := range capabilityTable {
			if table[capID] == modelID {
				return capID
			}
		}
	}
	return DefaultCapability
}

// ResolveModelForProvider 是 Registry 派发前使用的组合入口：
// 输入可以是能力标识、旧的具体模型 ID 或空串，输出一定是
// 目标 Provider 声明过的模型 ID。
func ResolveModelForProvider(providerName, requested string) string {
	if requested == "" {
		return DefaultModelForProvider(providerName)
	}
	capID := requested
	if !IsCapability(capID) {
		// 已是该 Provider 自己声明的模型则直接使用
		for _, m := range providerModels[providerName] {
			if m.ID == requested {
				return requested
			}
		}
		capID = DetectCapabilityFromLegacyModel(requested)
	}
	return GetModelForProvider(providerName, capID)
}
