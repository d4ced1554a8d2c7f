package generation

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"

	"createosaur-service/internal/provider"
)

// Orchestrator 生图门面：有已配置 Provider 时走 Registry 降级链，
// 一个都没有时走演示模式，返回确定性的占位图。
type Orchestrator struct {
	registry        *provider.Registry
	demoSeed        int64
	speciesKeywords []string
}

// NewOrchestrator 构造生图门面。speciesKeywords 是物种目录的关键词快照，
// 供演示渲染器在内置对照之外识别更多物种；构造时排序去重，保证确定性。
func NewOrchestrator(registry *provider.Registry, demoSeed int64, speciesKeywords ...string) *Orchestrator {
	seen := make(map[string]bool)
	var keywords []string
	for _, kw := range speciesKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	return &Orchestrator{registry: registry, demoSeed: demoSeed, speciesKeywords: keywords}
}

// Registry 暴露内部 Registry 供 API 层查询 Provider 状态
func (o *Orchestrator) Registry() *provider.Registry {
	return o.registry
}

// DemoMode 返回当前是否处于演示模式（没有任何已配置 Provider）
func (o *Orchestrator) DemoMode() bool {
	return len(o.registry.ConfiguredProviders()) == 0
}

// GenerateImage 单张生成。演示模式路径不做网络 IO、永不失败
func (o *Orchestrator) GenerateImage(ctx context.Context, cfg provider.GenerationConfig) provider.GenerationResponse {
	if o.DemoMode() {
		start := time.Now()
		log.Printf("[Orchestrator] 无已配置 Provider，演示模式生成: %q\n", truncate(cfg.Prompt, 60))
		svg := RenderPlaceholder(cfg.Prompt, o.demoSeed, o.speciesKeywords...)
		return provider.GenerationResponse{
			Success:   true,
			ImageData: svg,
			Metadata: provider.Metadata{
				Provider:       provider.ProviderDemo,
				Model:          provider.ProviderDemo,
				GenerationTime: time.Since(start).Milliseconds(),
			},
		}
	}
	return o.registry.GenerateWithFallback(ctx, cfg)
}

// GenerateBatch 批量生成。刻意串行执行以尊重各厂商按 Key 的限流，
// 不要在未重新设计限流策略前并行化。单个元素失败只记入该元素的
// 结果，不中断后续元素；输出顺序与输入一一对应。
func (o *Orchestrator) GenerateBatch(ctx context.Context, cfgs []provider.GenerationConfig) []provider.GenerationResponse {
	responses := make([]provider.GenerationResponse, 0, len(cfgs))
	for _, cfg := range cfgs {
		responses = append(responses, o.GenerateImage(ctx, cfg))
	}
	return responses
}
