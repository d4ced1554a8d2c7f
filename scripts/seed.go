package main

import (
	"log"

	"createosaur-service/internal/model"
)

func main() {
	model.InitDB("data.db")

	configs := []model.ProviderConfig{
		{
			ProviderName: "huggingface",
			DisplayName:  "Hugging Face",
			APIBase:      "https://api-inference.huggingface.co",
			APIKey:       "YOUR_API_KEY_HERE", // 替换为自己的 API Key
			Enabled:      true,
		},
		{
			ProviderName: "openai",
			DisplayName:  "OpenAI DALL-E",
			APIBase:      "https://api.openai.com/v1",
			APIKey:       "YOUR_API_KEY_HERE",
			Enabled:      true,
		},
		{
			ProviderName: "stability",
			DisplayName:  "Stability AI",
			APIBase:      "https://api.stability.ai",
			APIKey:       "YOUR_API_KEY_HERE",
			Enabled:      true,
		},
		{
			ProviderName: "gemini",
			DisplayName:  "Google Gemini",
			APIBase:      "https://generativelanguage.googleapis.com",
			APIKey:       "YOUR_API_KEY_HERE",
			Enabled:      true,
		},
	}

	for i := range configs {
		cfg := configs[i]
		if err := model.DB.Where(model.ProviderConfig{ProviderName: cfg.ProviderName}).FirstOrCreate(&cfg).Error; err != nil {
			log.Fatalf("初始化 %s 配置失败: %v", cfg.ProviderName, err)
		}
	}

	log.Println("默认 Provider 配置已初始化")
}
