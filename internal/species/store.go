package species

import (
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const maxCatalogBytes = 2 * 1024 * 1024

//go:embed assets/species.json
var embeddedCatalog []byte

// Meta 物种目录的版本信息
type Meta struct {
	Version   string `json:"version"`
	UpdatedAt string `json:"updated_at"`
}

// Species 一个物种条目：关键词供演示渲染与提示词解析使用
type Species struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Keywords []string `json:"keywords"`
	Diet     string   `json:"diet"`
	Period   string   `json:"period"`
	Traits   []string `json:"traits"`
}

// Catalog 完整目录
type Catalog struct {
	Meta  Meta      `json:"meta"`
	Items []Species `json:"items"`
}

// Store 物种目录存储：内置数据兜底，可选远程刷新
type Store struct {
	mu        sync.RWMutex
	catalog   Catalog
	remoteURL string
	timeout   time.Duration
	client    *http.Client
}

// NewStore 从内置数据构造，remoteURL 为空则只用内置目录
func NewStore(remoteURL string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	s := &Store{
		remoteURL: remoteURL,
		timeout:   timeout,
		client:    &http.Client{Timeout: timeout},
	}
	if err := json.Unmarshal(embeddedCatalog, &s.catalog); err != nil {
		// 内置数据随二进制一起发布，解析失败属于构建问题
		log.Printf("[Species] 解析内置物种目录失败: %v\n", err)
	}
	return s
}

// Catalog 返回当前目录快照
func (s *Store) Catalog() Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Keywords 返回目录里全部物种关键词，小写、去重、排序
func (s *Store) Keywords() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, item := range s.catalog.Items {
		for _, kw := range item.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	sort.Strings(out)
	return out
}

// RefreshRemote 尝试用远程目录覆盖本地，返回结果描述。
// 远程不可达时保留现有数据，不算错误。
func (s *Store) RefreshRemote(ctx context.Context) string {
	if s.remoteURL == "" {
		return "remote-disabled"
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.remoteURL, nil)
	if err != nil {
		return "request-error"
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[Species] 拉取远程目录失败: %v\n", err)
		return "fetch-error"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "bad-status"
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return "read-error"
	}

	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil || len(catalog.Items) == 0 {
		return "parse-error"
	}

	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()
	log.Printf("[Species] 远程目录已更新, 条目数: %d\n", len(catalog.Items))
	return "refreshed"
}

// Filter 按关键字 / 食性 / 时期过滤
func Filter(items []Species, q, diet, period string) []Species {
	q = strings.ToLower(strings.TrimSpace(q))
	diet = strings.ToLower(strings.TrimSpace(diet))
	period = strings.ToLower(strings.TrimSpace(period))

	var out []Species
	for _, item := range items {
		if diet != "" && strings.ToLower(item.Diet) != diet {
			continue
		}
		if period != "" && strings.ToLower(item.Period) != period {
			continue
		}
		if q != "" && !matchesQuery(item, q) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func matchesQuery(item Species, q string) bool {
	if strings.Contains(strings.ToLower(item.Name), q) || strings.Contains(strings.ToLower(item.ID), q) {
		return true
	}
	for _, kw := range item.Keywords {
		if strings.Contains(strings.ToLower(kw), q) {
			return true
		}
	}
	for _, tr := range item.Traits {
		if strings.Contains(strings.ToLower(tr), q) {
			return true
		}
	}
	return false
}
