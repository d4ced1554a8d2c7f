package provider

import (
	"os"
	"strings"

	"createosaur-service/internal/model"

	"gorm.io/gorm"
)

// Credential 某个 Provider 解析出的接入信息
type Credential struct {
	APIKey  string
	APIBase string
}

// CredentialSource 单一凭据查找策略
type CredentialSource interface {
	Lookup(providerName string) (Credential, bool)
}

// CredentialResolver 按固定顺序尝试多个查找策略，取第一个带 Key 的结果。
// 顺序在构造时注入，测试可以塞入假的 Source 而不必碰全局状态。
type CredentialResolver struct {
	sources []CredentialSource
}

func NewCredentialResolver(sources ...CredentialSource) *CredentialResolver {
	return &CredentialResolver{sources: sources}
}

// Resolve 逐个策略查找，每次调用都重新执行，凭据变更即时生效
func (r *CredentialResolver) Resolve(providerName string) Credential {
	var merged Credential
	for _, s := range r.sources {
		cred, ok := s.Lookup(providerName)
		if !ok {
			continue
		}
		if merged.APIBase == "" {
			merged.APIBase = cred.APIBase
		}
		if cred.APIKey != "" {
			merged.APIKey = cred.APIKey
			return merged
		}
	}
	return merged
}

// StoreSource 从 provider_configs 表读取凭据（第一优先级）
type StoreSource struct {
	DB *gorm.DB
}

func (s *StoreSource) Lookup(providerName string) (Credential, bool) {
	if s.DB == nil {
		return Credential{}, false
	}
	var cfg model.ProviderConfig
	err := s.DB.Where("provider_name = ? AND enabled = ?", providerName, true).First(&cfg).Error
	if err != nil {
		return Credential{}, false
	}
	return Credential{APIKey: strings.TrimSpace(cfg.APIKey), APIBase: strings.TrimSpace(cfg.APIBase)}, true
}

// EnvSource 从进程环境变量读取凭据（第二优先级），
// 命名固定为 {PROVIDER}_API_KEY / {PROVIDER}_API_BASE
type EnvSource struct{}

func (EnvSource) Lookup(providerName string) (Credential, bool) {
	prefix := strings.ToUpper(strings.ReplaceAll(providerName, "-", "_"))
	key := strings.TrimSpace(os.Getenv(prefix + "_API_KEY"))
	base := strings.TrimSpace(os.Getenv(prefix + "_API_BASE"))
	if key == "" && base == "" {
		return Credential{}, false
	}
	return Credential{APIKey: key, APIBase: base}, true
}

// StaticSource 固定值策略，测试用
type StaticSource map[string]Credential

func (s StaticSource) Lookup(providerName string) (Credential, bool) {
	cred, ok := s[providerName]
	return cred, ok
}
