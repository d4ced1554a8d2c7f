package api

import (
	"archive/zip"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"createosaur-service/internal/model"

	"github.com/gin-gonic/gin"
)

const maxExportRemoteSize = 50 * 1024 * 1024

type exportCreaturesRequest struct {
	CreatureIDs []string `json:"creatureIds"`
	IDsAlt      []string `json:"creature_ids"`
}

// ExportCreaturesHandler 将选中的图片打包为 zip 下载
func (h *Handlers) ExportCreaturesHandler(c *gin.Context) {
	var req exportCreaturesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, 400, "参数解析失败")
		return
	}

	ids := req.CreatureIDs
	if len(ids) == 0 {
		ids = req.IDsAlt
	}
	if len(ids) == 0 {
		Error(c, http.StatusBadRequest, 400, "creatureIds 不能为空")
		return
	}

	var creatures []model.Creature
	if err := h.DB.Where("creature_id IN ?", ids).Find(&creatures).Error; err != nil {
		Error(c, http.StatusInternalServerError, 500, "查询任务失败")
		return
	}
	if len(creatures) == 0 {
		Error(c, http.StatusNotFound, 404, "未找到可导出的图片")
		return
	}

	creatureMap := make(map[string]model.Creature, len(creatures))
	for _, creature := range creatures {
		creatureMap[creature.CreatureID] = creature
	}

	type fileEntry struct {
		name string
		path string
	}
	var files []fileEntry
	var missing []string

	for _, id := range ids {
		creature, ok := creatureMap[id]
		if !ok {
			missing = append(missing, fmt.Sprintf("%s: not found", id))
			continue
		}
		localPath := strings.TrimSpace(creature.LocalPath)
		if localPath != "" {
			if _, err := os.Stat(localPath); err == nil {
				ext := filepath.Ext(localPath)
				if ext == "" {
					ext = ".png"
				}
				files = append(files, fileEntry{name: id + ext, path: localPath})
				continue
			} else {
				missing = append(missing, fmt.Sprintf("%s: %v", id, err))
			}
		}

		remoteURL := strings.TrimSpace(creature.ImageURL)
		if remoteURL != "" {
			ext := filepath.Ext(remoteURL)
			if ext == "" {
				if parsed, err := url.Parse(remoteURL); err == nil {
					ext = filepath.Ext(parsed.Path)
				}
			}
			if ext == "" {
				ext = ".png"
			}
			files = append(files, fileEntry{name: id + ext, path: remoteURL})
			continue
		}
		missing = append(missing, fmt.Sprintf("%s: no available file", id))
	}

	if len(files) == 0 {
		Error(c, http.StatusNotFound, 404, "没有可导出的图片")
		return
	}

	fileName := fmt.Sprintf("creatures-%d.zip", time.Now().Unix())
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", fileName))
	if len(missing) > 0 {
		c.Header("X-Export-Partial", "true")
	}
	c.Status(http.StatusOK)

	zipWriter := zip.NewWriter(c.Writer)
	defer zipWriter.Close()

	for _, entry := range files {
		if strings.HasPrefix(entry.path, "http://") || strings.HasPrefix(entry.path, "https://") {
			writer, err := zipWriter.Create(entry.name)
			if err != nil {
				missing = append(missing, fmt.Sprintf("%s: %v", entry.name, err))
				continue
			}
			if err := writeRemoteFile(writer, entry.path); err != nil {
				missing = append(missing, fmt.Sprintf("%s: %v", entry.name, err))
			}
			continue
		}

		file, err := os.Open(entry.path)
		if err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", entry.name, err))
			continue
		}

		writer, err := zipWriter.Create(entry.name)
		if err != nil {
			file.Close()
			missing = append(missing, fmt.Sprintf("%s: %v", entry.name, err))
			continue
		}

		if _, err := io.Copy(writer, file); err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", entry.name, err))
		}
		file.Close()
	}

	if len(missing) > 0 {
		if writer, err := zipWriter.Create("missing.txt"); err == nil {
			_, _ = writer.Write([]byte(strings.Join(missing, "\n")))
		}
	}
}

func writeRemoteFile(writer io.Writer, source string) error {
	resp, err := http.Get(source)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}

	reader := io.LimitReader(resp.Body, maxExportRemoteSize+1)
	written, err := io.Copy(writer, reader)
	if err != nil {
		return err
	}
	if written > maxExportRemoteSize {
		return fmt.Errorf("remote file exceeds %d bytes", maxExportRemoteSize)
	}
	return nil
}
