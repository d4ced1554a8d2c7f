package provider

import (
	"context"
	"fmt"
	"log"

	"createosaur-service/internal/model"

	"gorm.io/gorm"
)

// 已注册的 Provider 名称与哨兵值
const (
	ProviderHuggingFace = "huggingface"
	ProviderOpenAI      = "openai"
	ProviderStability   = "stability"
	ProviderGemini      = "gemini"

	// ProviderDemo 无任何 Provider 配置时演示模式使用的哨兵值
	ProviderDemo = "demo"
	// ProviderNone 降级链全部失败时合成响应使用的哨兵值
	ProviderNone = "none"
)

const defaultProviderKey = "default_provider"

// Registry 持有全部适配器，负责首选 Provider 的持久化与降级链执行。
// 启动时构造一次、显式传递，不做全局单例，测试可以用假适配器搭独立实例。
type Registry struct {
	providers []Provider           // 注册顺序即降级顺序
	byName    map[string]Provider
	db        *gorm.DB // settings 表，db 为空时退化为内存偏好
	fallback  string   // 无持久化记录时的硬编码默认值
	preferred string   // db 为空时的内存偏好
}

func NewRegistry(db *gorm.DB, providers ...Provider) *Registry {
	r := &Registry{
		providers: providers,
		byName:    make(map[string]Provider, len(providers)),
		db:        db,
		fallback:  ProviderHuggingFace,
	}
	for _, p := range providers {
		r.byName[p.Name()] = p
	}
	return r
}

// Providers 按注册顺序返回全部适配器
func (r *Registry) Providers() []Provider {
	return r.providers
}

// Get 按名称取适配器，未注册返回 nil
func (r *Registry) Get(name string) Provider {
	return r.byName[name]
}

// ConfiguredProviders 过滤出已配置凭据的适配器。
// 每次调用重新计算，凭据可能在两次调用之间被用户修改。
func (r *Registry) ConfiguredProviders() []Provider {
	var configured []Provider
	for _, p := range r.providers {
		if p.IsConfigured() {
			configured = append(configured, p)
		}
	}
	return configured
}

// DefaultProvider 返回持久化的首选 Provider，没有记录时用硬编码默认值
func (r *Registry) DefaultProvider() string {
	if r.db == nil {
		if r.preferred != "" {
			return r.preferred
		}
		return r.fallback
	}
	var setting model.Setting
	if err := r.db.Where("key = ?", defaultProviderKey).First(&setting).Error; err != nil || setting.Value == "" {
		return r.fallback
	}
	return setting.Value
}

// SetDefaultProvider 持久化首选 Provider。名称未注册时返回 false，不报错
func (r *Registry) SetDefaultProvider(name string) bool {
	if _, ok := r.byName[name]; !ok {
		return false
	}
	if r.db == nil {
		r.preferred = name
		return true
	}
	var setting model.Setting
	err := r.db.Where("key = ?", defaultProviderKey).First(&setting).Error
	if err != nil {
		setting = model.Setting{Key: defaultProviderKey, Value: name}
		if err := r.db.Create(&setting).Error; err != nil {
			log.Printf("[Registry] 保存默认 Provider 失败: %v\n", err)
			return false
		}
		return true
	}
	if err := r.db.Model(&setting).Update("value", name).Error; err != nil {
		log.Printf("[Registry] 更新默认 Provider 失败: %v\n", err)
		return false
	}
	return true
}

// GenerateWithFallback 执行降级链：
//  1. 目标 Provider 取 cfg.Provider，缺省时取持久化的首选项；
//  2. 目标已配置则映射模型后调用，成功立即返回；
//  3. 否则按注册顺序依次尝试其余已配置的 Provider（跳过已试过的）；
//  4. 全部失败（或无一配置）时返回携带 "none" 哨兵的合成失败响应。
//
// 每次适配器调用都包了 recover：某个适配器崩溃只算作一次普通失败，
// 不会中断整条降级链。
func (r *Registry) GenerateWithFallback(ctx context.Context, cfg GenerationConfig) GenerationResponse {
	target := cfg.Provider
	if target == "" {
		target = r.DefaultProvider()
	}

	attempted := make(map[string]bool)
	var lastError string

	if p := r.Get(target); p != nil && p.IsConfigured() {
		attempted[target] = true
		resp := r.tryProvider(ctx, p, cfg)
		if resp.Success {
			return resp
		}
		lastError = resp.Error
		log.Printf("[Registry] 首选 Provider %s 失败: %s，进入降级链\n", target, resp.Error)
	}

	for _, p := range r.providers {
		if attempted[p.Name()] || !p.IsConfigured() {
			continue
		}
		attempted[p.Name()] = true
		resp := r.tryProvider(ctx, p, cfg)
		if resp.Success {
			return resp
		}
		lastError = resp.Error
		log.Printf("[Registry] Provider %s 失败: %s\n", p.Name(), resp.Error)
	}

	msg := "所有已配置的 Provider 均生成失败"
	if len(attempted) == 0 {
		msg = "没有已配置的 Provider 可用"
	} else if lastError != "" {
		msg = fmt.Sprintf("所有已配置的 Provider 均生成失败，最后一次错误: %s", lastError)
	}
	return Failure(ProviderNone, ProviderNone, msg)
}

// tryProvider 针对具体 Provider 重映射模型并调用，panic 折叠为普通失败
func (r *Registry) tryProvider(ctx context.Context, p Provider, cfg GenerationConfig) (resp GenerationResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Registry] Provider %s panic: %v\n", p.Name(), rec)
			resp = Failure(p.Name(), cfg.Model, fmt.Sprintf("Provider %s 内部错误: %v", p.Name(), rec))
		}
	}()

	local := cfg
	local.Model = ResolveModelForProvider(p.Name(), cfg.Model)
	return p.GenerateImage(ctx, local)
}
