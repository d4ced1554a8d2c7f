package api

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"createosaur-service/internal/generation"
	"createosaur-service/internal/model"
	"createosaur-service/internal/provider"
	"createosaur-service/internal/species"
	"createosaur-service/internal/storage"
	"createosaur-service/internal/trial"
	"createosaur-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Handlers 持有所有 HTTP 处理器的依赖
type Handlers struct {
	DB           *gorm.DB
	Registry     *provider.Registry
	Orchestrator *generation.Orchestrator
	Pool         *worker.Pool
	Store        storage.Storage
	Species      *species.Store
	Gate         *trial.Gate
	Trial        TrialOptions

	limiterOnce sync.Once
	limiter     *trialLimiter
}

// GenerateRequest 生成请求参数
type GenerateRequest struct {
	Prompt         string  `json:"prompt" binding:"required"`
	NegativePrompt string  `json:"negative_prompt"`
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Seed           *int64  `json:"seed"`
}

func (r *GenerateRequest) toConfig() provider.GenerationConfig {
	cfg := provider.GenerationConfig{
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Model:          r.Model,
		Steps:          r.Steps,
		GuidanceScale:  r.GuidanceScale,
		Width:          r.Width,
		Height:         r.Height,
		Seed:           r.Seed,
		Provider:       r.Provider,
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 30
	}
	if cfg.GuidanceScale <= 0 {
		cfg.GuidanceScale = 7.5
	}
	if cfg.Width <= 0 {
		cfg.Width = 512
	}
	if cfg.Height <= 0 {
		cfg.Height = 512
	}
	return cfg
}

// GenerateHandler 提交异步生成任务
func (h *Handlers) GenerateHandler(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, 400, err.Error())
		return
	}

	cfg := req.toConfig()
	providerName := cfg.Provider
	if providerName == "" {
		providerName = h.Registry.DefaultProvider()
	} else if h.Registry.Get(providerName) == nil {
		Error(c, http.StatusBadRequest, 400, "未找到指定的 Provider: "+providerName)
		return
	}

	creature := &model.Creature{
		CreatureID:     uuid.New().String(),
		Prompt:         cfg.Prompt,
		NegativePrompt: cfg.NegativePrompt,
		ProviderName:   providerName,
		ModelID:        provider.ResolveModelForProvider(providerName, cfg.Model),
		Seed:           cfg.Seed,
		Status:         "pending",
	}
	if err := h.DB.Create(creature).Error; err != nil {
		Error(c, http.StatusInternalServerError, 500, "创建任务失败")
		return
	}

	cfg.Provider = providerName
	if !h.Pool.Submit(&worker.Task{Creature: creature, Config: cfg}) {
		h.DB.Model(creature).Updates(map[string]interface{}{
			"status":        "failed",
			"error_message": "任务队列已满，请稍后再试",
		})
		Error(c, http.StatusServiceUnavailable, 503, "服务器繁忙，请稍后再试")
		return
	}

	Success(c, creature)
}

// BatchGenerateRequest 批量生成请求
type BatchGenerateRequest struct {
	Requests []GenerateRequest `json:"requests" binding:"required"`
}

// BatchGenerateHandler 同步批量生成，按提交顺序返回结果
func (h *Handlers) BatchGenerateHandler(c *gin.Context) {
	var req BatchGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, 400, err.Error())
		return
	}
	if len(req.Requests) == 0 {
		Error(c, http.StatusBadRequest, 400, "requests 不能为空")
		return
	}
	if len(req.Requests) > 10 {
		Error(c, http.StatusBadRequest, 400, "单次最多 10 个请求")
		return
	}

	configs := make([]provider.GenerationConfig, 0, len(req.Requests))
	for i := range req.Requests {
		configs = append(configs, req.Requests[i].toConfig())
	}

	results := h.Orchestrator.GenerateBatch(c.Request.Context(), configs)
	Success(c, results)
}

// GetCreatureHandler 获取单个生成记录
func (h *Handlers) GetCreatureHandler(c *gin.Context) {
	id := c.Param("id")
	var creature model.Creature
	if err := h.DB.Where("creature_id = ?", id).First(&creature).Error; err != nil {
		Error(c, http.StatusNotFound, 404, "任务未找到")
		return
	}
	Success(c, creature)
}

// ListCreaturesHandler 获取生成记录列表（含搜索）
func (h *Handlers) ListCreaturesHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize <= 0 {
		pageSize = 20
	} else if pageSize > 100 {
		pageSize = 100
	}
	keyword := c.Query("keyword")
	status := c.Query("status")

	query := h.DB.Model(&model.Creature{})
	if keyword != "" {
		query = query.Where("prompt LIKE ?", "%"+keyword+"%")
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	query.Count(&total)

	offset := (page - 1) * pageSize
	var creatures []model.Creature
	if err := query.Order("status='processing' DESC, status='pending' DESC, created_at DESC").
		Offset(offset).Limit(pageSize).Find(&creatures).Error; err != nil {
		Error(c, http.StatusInternalServerError, 500, "查询失败")
		return
	}

	Success(c, gin.H{
		"total": total,
		"list":  creatures,
	})
}

// DeleteCreatureHandler 删除生成记录及其文件
func (h *Handlers) DeleteCreatureHandler(c *gin.Context) {
	id := c.Param("id")
	var creature model.Creature
	if err := h.DB.Where("creature_id = ?", id).First(&creature).Error; err != nil {
		Error(c, http.StatusNotFound, 404, "图片不存在")
		return
	}

	if creature.LocalPath != "" {
		fileName := filepath.Base(creature.LocalPath)
		if err := h.Store.Delete(fileName); err != nil {
			// 文件可能已不存在，继续删除数据库记录
			log.Printf("[API] 删除物理文件失败 %s: %v", fileName, err)
		}
	}

	if err := h.DB.Delete(&creature).Error; err != nil {
		Error(c, http.StatusInternalServerError, 500, "删除数据库记录失败")
		return
	}
	Success(c, "删除成功")
}

// DownloadCreatureHandler 下载高清原图
func (h *Handlers) DownloadCreatureHandler(c *gin.Context) {
	id := c.Param("id")
	var creature model.Creature
	if err := h.DB.Where("creature_id = ?", id).First(&creature).Error; err != nil {
		Error(c, http.StatusNotFound, 404, "图片不存在")
		return
	}

	if creature.LocalPath == "" {
		Error(c, http.StatusNotFound, 404, "本地文件路径为空")
		return
	}
	if _, err := os.Stat(creature.LocalPath); os.IsNotExist(err) {
		Error(c, http.StatusNotFound, 404, "本地文件不存在")
		return
	}

	fileName := filepath.Base(creature.LocalPath)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Transfer-Encoding", "binary")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", fileName))
	c.Header("Content-Type", "application/octet-stream")
	c.File(creature.LocalPath)
}

// providerView 对外展示的 Provider 状态，不含密钥
type providerView struct {
	Name         string              `json:"name"`
	DisplayName  string              `json:"display_name"`
	Configured   bool                `json:"configured"`
	Enabled      bool                `json:"enabled"`
	IsDefault    bool                `json:"is_default"`
	APIBase      string              `json:"api_base"`
	MaskedAPIKey string              `json:"masked_api_key"`
	Models       []provider.ModelInfo `json:"models"`
}

func maskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// ListProvidersHandler 获取所有 Provider 状态（密钥脱敏）
func (h *Handlers) ListProvidersHandler(c *gin.Context) {
	defaultName := h.Registry.DefaultProvider()
	views := make([]providerView, 0)
	for _, p := range h.Registry.Providers() {
		view := providerView{
			Name:        p.Name(),
			DisplayName: p.Info().DisplayName,
			Configured:  p.IsConfigured(),
			IsDefault:   p.Name() == defaultName,
			Models:      provider.ModelsForProvider(p.Name()),
		}
		var cfg model.ProviderConfig
		if err := h.DB.Where("provider_name = ?", p.Name()).First(&cfg).Error; err == nil {
			view.Enabled = cfg.Enabled
			view.APIBase = cfg.APIBase
			view.MaskedAPIKey = maskAPIKey(cfg.APIKey)
		}
		views = append(views, view)
	}
	Success(c, views)
}

// ProviderConfigRequest 设置 Provider 配置请求
type ProviderConfigRequest struct {
	ProviderName string `json:"provider_name" binding:"required"`
	DisplayName  string `json:"display_name"`
	APIBase      string `json:"api_base"`
	APIKey       string `json:"api_key" binding:"required"`
	Enabled      bool   `json:"enabled"`
	TimeoutSecs  *int   `json:"timeout_seconds"`
}

// UpdateProviderConfigHandler 更新 Provider 配置
func (h *Handlers) UpdateProviderConfigHandler(c *gin.Context) {
	var req ProviderConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, 400, "参数验证失败: "+err.Error())
		return
	}
	if h.Registry.Get(req.ProviderName) == nil {
		Error(c, http.StatusBadRequest, 400, "未找到指定的 Provider: "+req.ProviderName)
		return
	}

	log.Printf("[API] 收到配置更新请求: Provider=%s, Base=%s, KeyLen=%d",
		req.ProviderName, req.APIBase, len(req.APIKey))

	var cfg model.ProviderConfig
	err := h.DB.Where("provider_name = ?", req.ProviderName).First(&cfg).Error
	if err != nil {
		cfg = model.ProviderConfig{
			ProviderName: req.ProviderName,
			DisplayName:  req.DisplayName,
			APIBase:      req.APIBase,
			APIKey:       req.APIKey,
			Enabled:      req.Enabled,
		}
		if req.TimeoutSecs != nil {
			cfg.TimeoutSeconds = *req.TimeoutSecs
		}
		if err := h.DB.Create(&cfg).Error; err != nil {
			Error(c, http.StatusInternalServerError, 500, "保存配置到数据库失败: "+err.Error())
			return
		}
	} else {
		updates := map[string]interface{}{
			"api_base": req.APIBase,
			"api_key":  req.APIKey,
			"enabled":  req.Enabled,
		}
		if req.DisplayName != "" {
			updates["display_name"] = req.DisplayName
		}
		if req.TimeoutSecs != nil {
			updates["timeout_seconds"] = *req.TimeoutSecs
		}
		if err := h.DB.Model(&cfg).Updates(updates).Error; err != nil {
			Error(c, http.StatusInternalServerError, 500, "更新配置到数据库失败: "+err.Error())
			return
		}
	}

	// 凭证每次调用时从数据库解析，无需重建适配器
	Success(c, "配置已更新并生效")
}

// SetDefaultProviderRequest 设置默认 Provider
type SetDefaultProviderRequest struct {
	ProviderName string `json:"provider_name" binding:"required"`
}

// SetDefaultProviderHandler 修改回退链首选 Provider
func (h *Handlers) SetDefaultProviderHandler(c *gin.Context) {
	var req SetDefaultProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, 400, err.Error())
		return
	}
	if !h.Registry.SetDefaultProvider(req.ProviderName) {
		Error(c, http.StatusBadRequest, 400, "未找到指定的 Provider: "+req.ProviderName)
		return
	}
	Success(c, gin.H{"default_provider": req.ProviderName})
}

// ListCapabilitiesHandler 列出能力档位及各 Provider 的映射
func (h *Handlers) ListCapabilitiesHandler(c *gin.Context) {
	type capabilityView struct {
		Capability string            `json:"capability"`
		Models     map[string]string `json:"models"` // provider -> model_id
	}
	capabilities := provider.Capabilities()
	views := make([]capabilityView, 0, len(capabilities))
	for _, capID := range capabilities {
		view := capabilityView{Capability: capID, Models: map[string]string{}}
		for _, p := range h.Registry.Providers() {
			if id := provider.GetModelForProvider(p.Name(), capID); id != "" {
				view.Models[p.Name()] = id
			}
		}
		views = append(views, view)
	}
	Success(c, views)
}

// ListSpeciesHandler 获取物种目录（支持筛选）
func (h *Handlers) ListSpeciesHandler(c *gin.Context) {
	catalog := h.Species.Catalog()
	items := species.Filter(catalog.Items, c.Query("q"), c.Query("diet"), c.Query("period"))
	Success(c, gin.H{
		"meta":    catalog.Meta,
		"species": items,
	})
}

// RefreshSpeciesHandler 从远端刷新物种目录
func (h *Handlers) RefreshSpeciesHandler(c *gin.Context) {
	status := h.Species.RefreshRemote(c.Request.Context())
	Success(c, gin.H{"status": status})
}

// HealthHandler 健康检查
func (h *Handlers) HealthHandler(c *gin.Context) {
	Success(c, gin.H{
		"status":    "ok",
		"demo_mode": h.Orchestrator.DemoMode(),
		"providers": len(h.Registry.ConfiguredProviders()),
	})
}
