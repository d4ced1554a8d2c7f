package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"createosaur-service/internal/generation"
	"createosaur-service/internal/model"
	"createosaur-service/internal/provider"
	"createosaur-service/internal/storage"
)

// Task 表示一个异步生成任务
type Task struct {
	Creature *model.Creature
	Config   provider.GenerationConfig
}

// Pool 后台生成任务池
type Pool struct {
	workerCount  int
	taskQueue    chan *Task
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	db           *gorm.DB
	orchestrator *generation.Orchestrator
	store        storage.Storage
}

// NewPool 构造任务池，不自动启动
func NewPool(workerCount, queueSize int, db *gorm.DB, orch *generation.Orchestrator, store storage.Storage) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workerCount:  workerCount,
		taskQueue:    make(chan *Task, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		db:           db,
		orchestrator: orch,
		store:        store,
	}
}

// Start 启动所有 Worker
func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("[Worker] 任务池已启动，Worker 数量: %d", p.workerCount)
}

// Stop 优雅停止任务池
func (p *Pool) Stop() {
	// 1. 先关闭队列，不再接收新任务；已入队的任务继续处理
	close(p.taskQueue)

	// 2. 等待所有 Worker 排空队列
	p.wg.Wait()

	// 3. 最后取消 Context，终止仍在进行的 HTTP 请求
	p.cancel()

	log.Println("[Worker] 任务池已优雅停止，队列中的任务已全部处理")
}

// Submit 提交任务，队列已满时返回 false
func (p *Pool) Submit(task *Task) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log.Printf("[Worker] Worker %d 启动", id)

	for {
		select {
		case <-p.ctx.Done():
			log.Printf("[Worker] Worker %d 收到停止信号", id)
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.processTask(task)
		}
	}
}

func (p *Pool) processTask(task *Task) {
	creature := task.Creature
	p.db.Model(creature).Update("status", "processing")

	timeout := p.providerTimeout(task.Config.Provider)
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	done := make(chan provider.GenerationResponse, 1)
	go func() {
		done <- p.orchestrator.GenerateImage(ctx, task.Config)
	}()

	var resp provider.GenerationResponse
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.failCreature(creature, fmt.Errorf("生成超时(%s)", timeout))
		} else {
			p.failCreature(creature, ctx.Err())
		}
		return
	case resp = <-done:
	}

	if !resp.Success {
		p.failCreature(creature, errors.New(resp.Error))
		return
	}

	imageData := resp.ImageData
	if len(imageData) == 0 && resp.ImageURL != "" {
		// 部分厂商只返回托管 URL，下载后统一入库
		data, err := storage.FetchRemote(ctx, resp.ImageURL)
		if err != nil {
			p.failCreature(creature, err)
			return
		}
		imageData = data
	}
	if len(imageData) == 0 {
		p.failCreature(creature, errors.New("未生成任何图片"))
		return
	}

	ext := "png"
	if resp.Metadata.Provider == provider.ProviderDemo {
		ext = "svg"
	}
	fileName := fmt.Sprintf("%s.%s", creature.CreatureID, ext)
	result, err := p.store.SaveWithThumbnail(fileName, bytes.NewReader(imageData))
	if err != nil {
		p.failCreature(creature, err)
		return
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":          "completed",
		"provider_name":   resp.Metadata.Provider,
		"model_id":        resp.Metadata.Model,
		"image_url":       result.RemoteURL,
		"local_path":      result.LocalPath,
		"thumbnail_url":   result.ThumbnailURL,
		"thumbnail_path":  result.ThumbnailPath,
		"width":           result.Width,
		"height":          result.Height,
		"config_snapshot": snapshotConfig(task.Config, resp.Metadata),
		"completed_at":    &now,
	}
	p.db.Model(creature).Updates(updates)
	log.Printf("[Worker] 任务 %s 处理完成 (provider=%s)", creature.CreatureID, resp.Metadata.Provider)
}

func (p *Pool) failCreature(creature *model.Creature, err error) {
	log.Printf("[Worker] 任务 %s 失败: %v", creature.CreatureID, err)
	p.db.Model(creature).Updates(map[string]interface{}{
		"status":        "failed",
		"error_message": err.Error(),
	})
}

func snapshotConfig(cfg provider.GenerationConfig, meta provider.Metadata) string {
	seed := "auto"
	if meta.Seed != nil {
		seed = fmt.Sprintf("%d", *meta.Seed)
	}
	return fmt.Sprintf("provider=%s model=%s steps=%d cfg=%.1f size=%dx%d seed=%s",
		meta.Provider, meta.Model, meta.Steps, meta.GuidanceScale, cfg.Width, cfg.Height, seed)
}

func (p *Pool) providerTimeout(providerName string) time.Duration {
	const fallback = 150 * time.Second
	if p.db == nil || providerName == "" {
		return fallback
	}
	var cfg model.ProviderConfig
	if err := p.db.Select("timeout_seconds").Where("provider_name = ?", providerName).First(&cfg).Error; err != nil {
		return fallback
	}
	if cfg.TimeoutSeconds <= 0 {
		return fallback
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}
