package provider

import (
	"log"

	"createosaur-service/internal/config"
	"createosaur-service/internal/model"

	"gorm.io/gorm"
)

// displayNames 配置同步时使用的默认展示名
var displayNames = map[string]string{
	ProviderHuggingFace: "HuggingFace",
	ProviderOpenAI:      "OpenAI DALL-E",
	ProviderStability:   "Stability AI",
	ProviderGemini:      "Google Gemini",
}

// SyncConfigs 把配置文件中的 Provider 条目同步到数据库（不存在才创建），
// 数据库中的记录之后就是凭据查找的第一优先级来源
func SyncConfigs(db *gorm.DB) {
	for name, cfg := range config.GlobalConfig.Providers {
		if !cfg.Enabled {
			continue
		}

		var dbCfg model.ProviderConfig
		err := db.Where("provider_name = ?", name).First(&dbCfg).Error
		if err != nil {
			display := displayNames[name]
			if display == "" {
				display = name
			}
			timeout := cfg.TimeoutSeconds
			if timeout <= 0 {
				timeout = 120
			}
			dbCfg = model.ProviderConfig{
				ProviderName:   name,
				DisplayName:    display,
				APIKey:         cfg.APIKey,
				APIBase:        cfg.APIBase,
				Enabled:        true,
				TimeoutSeconds: timeout,
			}
			if err := db.Create(&dbCfg).Error; err != nil {
				log.Printf("[Provider] 同步配置 %s 失败: %v\n", name, err)
			}
		}
	}
}
