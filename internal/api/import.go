package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"createosaur-service/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mazrean/formstream"
	ginform "github.com/mazrean/formstream/gin"
)

// importedFile 上传的单个图片
type importedFile struct {
	Name    string
	Content []byte
}

// importRequest 批量导入请求解析后的数据
type importRequest struct {
	Prompt       string
	ProviderName string
	Files        []importedFile
}

// parseImportRequest 使用 formstream 流式解析导入表单
func parseImportRequest(c *gin.Context) (*importRequest, error) {
	req := &importRequest{}

	p, err := ginform.NewParser(c)
	if err != nil {
		return nil, fmt.Errorf("创建解析器失败: %w", err)
	}

	p.Parser.Register("prompt", func(reader io.Reader, header formstream.Header) error {
		data, err := io.ReadAll(reader)
		if err != nil {
			return err
		}
		req.Prompt = string(data)
		return nil
	})
	p.Parser.Register("provider", func(reader io.Reader, header formstream.Header) error {
		data, err := io.ReadAll(reader)
		if err != nil {
			return err
		}
		req.ProviderName = string(data)
		return nil
	})
	p.Parser.Register("images", func(reader io.Reader, header formstream.Header) error {
		content, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("读取文件失败: %w", err)
		}
		req.Files = append(req.Files, importedFile{
			Name:    header.FileName(),
			Content: content,
		})
		return nil
	})

	if err := p.Parse(); err != nil {
		return nil, fmt.Errorf("解析表单失败: %w", err)
	}
	return req, nil
}

// ImportCreaturesHandler 导入外部生成的图片进画廊
func (h *Handlers) ImportCreaturesHandler(c *gin.Context) {
	req, err := parseImportRequest(c)
	if err != nil {
		Error(c, http.StatusBadRequest, 400, err.Error())
		return
	}
	if len(req.Files) == 0 {
		Error(c, http.StatusBadRequest, 400, "images 不能为空")
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = "imported"
	}
	providerName := req.ProviderName
	if providerName == "" {
		providerName = "import"
	}

	imported := make([]model.Creature, 0, len(req.Files))
	for _, file := range req.Files {
		creatureID := uuid.New().String()
		fileName := fmt.Sprintf("%s.png", creatureID)
		result, err := h.Store.SaveWithThumbnail(fileName, bytes.NewReader(file.Content))
		if err != nil {
			Error(c, http.StatusInternalServerError, 500, "保存图片失败: "+err.Error())
			return
		}

		now := time.Now()
		creature := model.Creature{
			CreatureID:    creatureID,
			Prompt:        prompt,
			ProviderName:  providerName,
			Status:        "completed",
			ImageURL:      result.RemoteURL,
			LocalPath:     result.LocalPath,
			ThumbnailURL:  result.ThumbnailURL,
			ThumbnailPath: result.ThumbnailPath,
			Width:         result.Width,
			Height:        result.Height,
			CompletedAt:   &now,
		}
		if err := h.DB.Create(&creature).Error; err != nil {
			Error(c, http.StatusInternalServerError, 500, "创建记录失败")
			return
		}
		imported = append(imported, creature)
	}

	Success(c, gin.H{
		"count": len(imported),
		"list":  imported,
	})
}
