package trial

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"createosaur-service/internal/model"

	"gorm.io/gorm"
)

// 试用配额的累进限额表：同一来源每轮换一次指纹，新记录的上限下调一档，
// 永不回升。用来抬高换指纹绕配额的成本，又不至于直接封死重试。
var frictionSchedule = [...]int{3, 2, 1}

// 记录状态
const (
	StateFresh     = "fresh"     // 该指纹还没有记录
	StateActive    = "active"    // used < max
	StateExhausted = "exhausted" // used == max
)

var ErrExhausted = errors.New("试用次数已用完")

// Gate 匿名试用配额闸门。数据库里的计数是权威数据；
// 客户端本地副本只是展示提示用的缓存，这里从不信任它。
type Gate struct {
	db *gorm.DB
}

func NewGate(db *gorm.DB) *Gate {
	return &Gate{db: db}
}

// Status 某条记录的快照
type Status struct {
	Fingerprint string `json:"fingerprint"`
	State       string `json:"state"`
	Used        int    `json:"used"`
	Max         int    `json:"max"`
	Remaining   int    `json:"remaining"`
}

// Lookup 查找或创建指纹记录。新指纹的限额按累进表确定：
// 同 IP 下已有耗尽记录越多，新记录的上限越低。
func (g *Gate) Lookup(fingerprint, sessionID, clientIP string) (*model.TrialUsage, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, errors.New("缺少 fingerprint")
	}

	var usage model.TrialUsage
	err := g.db.Where("fingerprint = ?", fingerprint).First(&usage).Error
	if err == nil {
		// 同一指纹换了会话时刷新会话标识
		if sessionID != "" && usage.SessionID != sessionID {
			g.db.Model(&usage).Update("session_id", sessionID)
			usage.SessionID = sessionID
		}
		return &usage, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询试用记录失败: %w", err)
	}

	usage = model.TrialUsage{
		Fingerprint:     fingerprint,
		SessionID:       sessionID,
		ClientIP:        clientIP,
		GenerationsUsed: 0,
		MaxGenerations:  g.allotmentFor(clientIP),
		LastUsedAt:      time.Now(),
	}
	if err := g.db.Create(&usage).Error; err != nil {
		return nil, fmt.Errorf("创建试用记录失败: %w", err)
	}
	return &usage, nil
}

// allotmentFor 根据同 IP 已耗尽的历史记录数取累进表中的档位
func (g *Gate) allotmentFor(clientIP string) int {
	if clientIP == "" {
		return frictionSchedule[0]
	}
	var exhausted int64
	g.db.Model(&model.TrialUsage{}).
		Where("client_ip = ? AND generations_used >= max_generations", clientIP).
		Count(&exhausted)
	idx := int(exhausted)
	if idx >= len(frictionSchedule) {
		idx = len(frictionSchedule) - 1
	}
	return frictionSchedule[idx]
}

// Check 计算记录当前的状态快照，不产生任何副作用
func Check(usage *model.TrialUsage) Status {
	if usage == nil {
		return Status{State: StateFresh}
	}
	remaining := usage.MaxGenerations - usage.GenerationsUsed
	if remaining < 0 {
		remaining = 0
	}
	state := StateActive
	if remaining == 0 {
		state = StateExhausted
	}
	return Status{
		Fingerprint: usage.Fingerprint,
		State:       state,
		Used:        usage.GenerationsUsed,
		Max:         usage.MaxGenerations,
		Remaining:   remaining,
	}
}

// Consume 在一次生成成功之后记账。更新带 used < max 守卫，
// 由数据库保证原子性：并发请求不可能把计数顶破上限。
// 配额已满时返回 ErrExhausted，调用方应当在发起生成前就拦下。
func (g *Gate) Consume(fingerprint string) (*model.TrialUsage, error) {
	res := g.db.Model(&model.TrialUsage{}).
		Where("fingerprint = ? AND generations_used < max_generations", fingerprint).
		Updates(map[string]interface{}{
			"generations_used": gorm.Expr("generations_used + 1"),
			"last_used_at":     time.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("更新试用计数失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrExhausted
	}

	var usage model.TrialUsage
	if err := g.db.Where("fingerprint = ?", fingerprint).First(&usage).Error; err != nil {
		return nil, fmt.Errorf("读取试用记录失败: %w", err)
	}
	return &usage, nil
}
