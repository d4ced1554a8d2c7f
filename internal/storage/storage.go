package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/disintegration/imaging"
)

const thumbnailSize = 256

// SaveResult 一次保存产生的全部引用信息
type SaveResult struct {
	LocalPath     string
	RemoteURL     string
	ThumbnailPath string
	ThumbnailURL  string
	Width         int
	Height        int
}

// Storage 定义生成图片的存储接口
type Storage interface {
	Save(name string, reader io.Reader) (*SaveResult, error)             // 只存原图
	SaveWithThumbnail(name string, reader io.Reader) (*SaveResult, error) // 原图 + 缩略图 + 尺寸
	Delete(name string) error
}

// LocalStorage 本地目录存储
type LocalStorage struct {
	BaseDir string
}

func (l *LocalStorage) Save(name string, reader io.Reader) (*SaveResult, error) {
	path := filepath.Join(l.BaseDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("创建本地文件失败: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return nil, fmt.Errorf("写入本地文件失败: %w", err)
	}

	return &SaveResult{LocalPath: path}, nil
}

func (l *LocalStorage) SaveWithThumbnail(name string, reader io.Reader) (*SaveResult, error) {
	result, err := l.Save(name, reader)
	if err != nil {
		return nil, err
	}

	// SVG 等矢量格式没有像素尺寸，跳过缩略图
	if strings.HasSuffix(strings.ToLower(name), ".svg") {
		return result, nil
	}

	srcImg, err := imaging.Open(result.LocalPath)
	if err != nil {
		return result, fmt.Errorf("打开原图生成缩略图失败: %w", err)
	}
	result.Width = srcImg.Bounds().Dx()
	result.Height = srcImg.Bounds().Dy()

	thumbPath := filepath.Join(l.BaseDir, "thumb_"+name)
	dstImg := imaging.Thumbnail(srcImg, thumbnailSize, thumbnailSize, imaging.Lanczos)
	if err := imaging.Save(dstImg, thumbPath); err != nil {
		return result, fmt.Errorf("保存缩略图失败: %w", err)
	}
	result.ThumbnailPath = thumbPath

	return result, nil
}

func (l *LocalStorage) Delete(name string) error {
	err := os.Remove(filepath.Join(l.BaseDir, name))
	// 缩略图可能不存在，忽略
	_ = os.Remove(filepath.Join(l.BaseDir, "thumb_"+name))
	return err
}

// OSSStorage 阿里云 OSS 存储
type OSSStorage struct {
	Bucket *oss.Bucket
	Domain string
}

func (s *OSSStorage) Save(name string, reader io.Reader) (*SaveResult, error) {
	if err := s.Bucket.PutObject(name, reader); err != nil {
		return nil, fmt.Errorf("OSS 上传失败: %w", err)
	}
	return &SaveResult{RemoteURL: fmt.Sprintf("https://%s/%s", s.Domain, name)}, nil
}

func (s *OSSStorage) SaveWithThumbnail(name string, reader io.Reader) (*SaveResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	result, err := s.Save(name, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(strings.ToLower(name), ".svg") {
		return result, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return result, fmt.Errorf("解码图片失败: %w", err)
	}
	result.Width = img.Bounds().Dx()
	result.Height = img.Bounds().Dy()

	dstImg := imaging.Thumbnail(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, dstImg, imaging.JPEG); err != nil {
		return result, fmt.Errorf("编码缩略图失败: %w", err)
	}

	thumbResult, err := s.Save("thumb_"+name, buf)
	if err != nil {
		return result, fmt.Errorf("上传缩略图到 OSS 失败: %w", err)
	}
	result.ThumbnailURL = thumbResult.RemoteURL

	return result, nil
}

func (s *OSSStorage) Delete(name string) error {
	err := s.Bucket.DeleteObject(name)
	_ = s.Bucket.DeleteObject("thumb_" + name)
	return err
}

// CompositeStorage 本地为主、OSS 可选的组合存储
type CompositeStorage struct {
	Local *LocalStorage
	OSS   *OSSStorage
}

func (c *CompositeStorage) Save(name string, reader io.Reader) (*SaveResult, error) {
	return c.Local.Save(name, reader)
}

func (c *CompositeStorage) SaveWithThumbnail(name string, reader io.Reader) (*SaveResult, error) {
	result, err := c.Local.SaveWithThumbnail(name, reader)
	if err != nil {
		return nil, err
	}

	if c.OSS != nil {
		if file, err := os.Open(result.LocalPath); err == nil {
			if remote, err := c.OSS.Save(name, file); err == nil {
				result.RemoteURL = remote.RemoteURL
			}
			file.Close()
		}
		if result.ThumbnailPath != "" {
			if thumbFile, err := os.Open(result.ThumbnailPath); err == nil {
				if remote, err := c.OSS.Save("thumb_"+name, thumbFile); err == nil {
					result.ThumbnailURL = remote.RemoteURL
				}
				thumbFile.Close()
			}
		}
	}

	return result, nil
}

func (c *CompositeStorage) Delete(name string) error {
	var errs []string
	if err := c.Local.Delete(name); err != nil {
		errs = append(errs, fmt.Sprintf("本地删除失败: %v", err))
	}
	if c.OSS != nil {
		if err := c.OSS.Delete(name); err != nil {
			errs = append(errs, fmt.Sprintf("OSS 删除失败: %v", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("删除过程出错: %s", strings.Join(errs, "; "))
	}
	return nil
}

const maxRemoteFetchSize = 50 * 1024 * 1024

// FetchRemote 下载厂商托管的结果图（例如 OpenAI 只返回 URL 的情况）
func FetchRemote(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("下载图片失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("下载图片失败: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxRemoteFetchSize))
}

// New 构造组合存储，ossConfig 为空时只启用本地
func New(localDir string, ossConfig map[string]string) Storage {
	local := &LocalStorage{BaseDir: localDir}

	var ossStorage *OSSStorage
	if ossConfig != nil {
		client, err := oss.New(ossConfig["endpoint"], ossConfig["accessKeyID"], ossConfig["accessKeySecret"])
		if err == nil {
			bucket, err := client.Bucket(ossConfig["bucketName"])
			if err == nil {
				ossStorage = &OSSStorage{Bucket: bucket, Domain: ossConfig["domain"]}
			}
		}
	}

	return &CompositeStorage{Local: local, OSS: ossStorage}
}
