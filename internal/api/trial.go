package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"createosaur-service/internal/model"
	"createosaur-service/internal/provider"
	"createosaur-service/internal/trial"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// TrialOptions 试用接口的运行参数
type TrialOptions struct {
	Provider         string // 服务端持有凭证的厂商
	RateLimitPerHour int
	Timeout          time.Duration
}

// trialLimiter 按 IP+指纹 维度限流
type trialLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perHour  int
}

func newTrialLimiter(perHour int) *trialLimiter {
	if perHour <= 0 {
		perHour = 5
	}
	return &trialLimiter{
		limiters: make(map[string]*rate.Limiter),
		perHour:  perHour,
	}
}

func (t *trialLimiter) allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	limiter, ok := t.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(t.perHour)), t.perHour)
		t.limiters[key] = limiter
	}
	return limiter.Allow()
}

// AnonymousGenerateRequest 匿名试用生成请求
type AnonymousGenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt"`
	Fingerprint    string  `json:"fingerprint"`
	SessionID      string  `json:"sessionId"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	Guidance       float64 `json:"guidance"`
}

// AnonymousGenerateHandler 匿名试用生成。
// 厂商凭证只存在于服务端，任何响应都不包含密钥。
func (h *Handlers) AnonymousGenerateHandler(c *gin.Context) {
	var req AnonymousGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误"})
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Fingerprint = strings.TrimSpace(req.Fingerprint)
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt 不能为空"})
		return
	}
	if req.Fingerprint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint 不能为空"})
		return
	}

	h.limiterOnce.Do(func() {
		h.limiter = newTrialLimiter(h.Trial.RateLimitPerHour)
	})
	clientIP := c.ClientIP()
	if !h.limiter.allow(clientIP + "|" + req.Fingerprint) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试"})
		return
	}

	usage, err := h.Gate.Lookup(req.Fingerprint, req.SessionID, clientIP)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务内部错误"})
		return
	}

	status := trial.Check(usage)
	if status.State == trial.StateExhausted {
		// 额度耗尽时不发起任何厂商调用
		c.JSON(http.StatusForbidden, gin.H{
			"error":                "Trial limit exceeded",
			"remainingGenerations": 0,
			"totalUsed":            status.Used,
			"maxAllowed":           status.Max,
			"message":              trial.ConversionMessage(0),
		})
		return
	}

	trialProvider := h.Registry.Get(h.Trial.Provider)
	if trialProvider == nil || !trialProvider.IsConfigured() {
		log.Printf("[Trial] 试用厂商 %s 未配置凭证", h.Trial.Provider)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "试用服务暂不可用"})
		return
	}

	cfg := provider.GenerationConfig{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Provider:       h.Trial.Provider,
		Model:          provider.DefaultModelForProvider(h.Trial.Provider),
		Steps:          req.Steps,
		GuidanceScale:  req.Guidance,
		Width:          req.Width,
		Height:         req.Height,
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

	timeout := h.Trial.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	resp := trialProvider.GenerateImage(ctx, cfg)
	if !resp.Success {
		log.Printf("[Trial] 生成失败: %s", resp.Error)
		c.JSON(http.StatusBadGateway, gin.H{"error": "生成失败，请稍后再试"})
		return
	}

	imageURL, err := h.persistTrialImage(ctx, &req, resp)
	if err != nil {
		log.Printf("[Trial] 保存图片失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存图片失败"})
		return
	}

	// 只有生成成功才扣减额度
	usage, err = h.Gate.Consume(req.Fingerprint)
	if err != nil {
		if errors.Is(err, trial.ErrExhausted) {
			// 并发请求抢先扣完了额度，重新读取记录拿真实计数
			exhausted := status
			if fresh, lookupErr := h.Gate.Lookup(req.Fingerprint, req.SessionID, clientIP); lookupErr == nil {
				exhausted = trial.Check(fresh)
			}
			c.JSON(http.StatusForbidden, gin.H{
				"error":                "Trial limit exceeded",
				"remainingGenerations": 0,
				"totalUsed":            exhausted.Used,
				"maxAllowed":           exhausted.Max,
				"message":              trial.ConversionMessage(0),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务内部错误"})
		return
	}
	status = trial.Check(usage)

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"imageUrl":             imageURL,
		"remainingGenerations": status.Remaining,
		"totalUsed":            status.Used,
		"maxAllowed":           status.Max,
		"message":              trial.ConversionMessage(status.Remaining),
		"upgradeSuggestion":    trial.UpgradeSuggestion(status.Remaining),
	})
}

// persistTrialImage 入库并返回可访问的图片地址
func (h *Handlers) persistTrialImage(ctx context.Context, req *AnonymousGenerateRequest, resp provider.GenerationResponse) (string, error) {
	imageData := resp.ImageData
	if len(imageData) == 0 && resp.ImageURL != "" {
		// 厂商托管 URL 直接透传，不经服务端中转
		return resp.ImageURL, nil
	}
	if len(imageData) == 0 {
		return "", errors.New("未生成任何图片")
	}

	creatureID := uuid.New().String()
	fileName := fmt.Sprintf("%s.png", creatureID)
	result, err := h.Store.SaveWithThumbnail(fileName, bytes.NewReader(imageData))
	if err != nil {
		return "", err
	}

	now := time.Now()
	creature := &model.Creature{
		CreatureID:    creatureID,
		Prompt:        req.Prompt,
		NegativePrompt: req.NegativePrompt,
		ProviderName:  resp.Metadata.Provider,
		ModelID:       resp.Metadata.Model,
		Status:        "completed",
		ImageURL:      result.RemoteURL,
		LocalPath:     result.LocalPath,
		ThumbnailURL:  result.ThumbnailURL,
		ThumbnailPath: result.ThumbnailPath,
		Width:         result.Width,
		Height:        result.Height,
		CompletedAt:   &now,
	}
	if err := h.DB.Create(creature).Error; err != nil {
		return "", err
	}

	if result.RemoteURL != "" {
		return result.RemoteURL, nil
	}
	// 本地文件经 /storage 静态路由对外暴露
	return "/storage/" + fileName, nil
}
