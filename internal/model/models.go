package model

import (
	"time"

	"gorm.io/gorm"
)

// ProviderConfig 对应 provider_configs 表，用于存储各图片生成 API 的配置
type ProviderConfig struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ProviderName   string         `gorm:"uniqueIndex;not null" json:"provider_name"` // e.g. 'huggingface', 'stability'
	DisplayName    string         `json:"display_name"`                              // e.g. 'Stability AI'
	APIBase        string         `json:"api_base"`                                  // API 基础 URL
	APIKey         string         `json:"api_key"`                                   // API 密钥
	Enabled        bool           `gorm:"default:true" json:"enabled"`               // 是否启用
	TimeoutSeconds int            `gorm:"default:120" json:"timeout_seconds"`        // 超时时间
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// Creature 对应 creatures 表，一条记录即一次杂交恐龙生成
type Creature struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	CreatureID     string         `gorm:"uniqueIndex;not null" json:"creature_id"`         // 外部调用的唯一 ID
	Prompt         string         `gorm:"index:idx_prompt_search;index" json:"prompt"`     // 提示词，支持搜索
	NegativePrompt string         `json:"negative_prompt"`                                 // 负向提示词
	ProviderName   string         `gorm:"index" json:"provider_name"`                      // 实际使用的 Provider
	ModelID        string         `gorm:"index" json:"model_id"`                           // 实际使用的模型 ID
	Status         string         `gorm:"index:idx_status_created;not null" json:"status"` // pending/processing/completed/failed
	ErrorMessage   string         `json:"error_message"`                                   // 错误信息
	ImageURL       string         `json:"image_url"`                                      // 远程访问地址
	LocalPath      string         `json:"local_path"`                                     // 本地存储路径
	ThumbnailURL   string         `json:"thumbnail_url"`                                  // 缩略图远程地址
	ThumbnailPath  string         `json:"thumbnail_path"`                                 // 缩略图本地路径
	Width          int            `json:"width"`                                          // 图片宽度
	Height         int            `json:"height"`                                         // 图片高度
	Seed           *int64         `json:"seed"`                                           // 生成时使用的种子
	ConfigSnapshot string         `json:"config_snapshot"`                                // 生成时的配置快照
	CreatedAt      time.Time      `gorm:"index:idx_status_created;index" json:"created_at"`
	CompletedAt    *time.Time     `json:"completed_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// TrialUsage 对应 trial_usages 表，按浏览器指纹记录匿名试用配额。
// 服务端这份计数是权威数据，客户端本地只是展示用的副本。
type TrialUsage struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Fingerprint     string    `gorm:"uniqueIndex;not null" json:"fingerprint"` // 客户端指纹
	SessionID       string    `json:"session_id"`                              // 会话标识（每次浏览器会话随机生成）
	ClientIP        string    `gorm:"index" json:"-"`                          // 请求来源 IP，用于累进限额判定
	GenerationsUsed int       `gorm:"not null;default:0" json:"generations_used"`
	MaxGenerations  int       `gorm:"not null" json:"max_generations"`
	LastUsedAt      time.Time `json:"last_used_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Setting 对应 settings 表，存放少量需要持久化的偏好，例如默认 Provider
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"uniqueIndex;not null" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
