package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"aihelper-go/pkg/storage"
)

// Image 是待发送的图片。
type Image struct {
	Name string
	Data []byte
}

// DataURL 把图片编码为 base64 data URL，用作本地预览和请求体。
func (img Image) DataURL() string {
	mime := http.DetectContentType(img.Data)
	if !strings.HasPrefix(mime, "image/") {
		mime = mimeByExtension(img.Name)
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
}

func mimeByExtension(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	default:
		return "image/png"
	}
}

// ImageLoader 从本地路径或 minio://bucket/key 读取图片。
type ImageLoader interface {
	Load(ctx context.Context, source string) (Image, error)
}

type imageLoader struct {
	objects *storage.Client
}

// NewImageLoader 创建 ImageLoader，objects 为 nil 时不支持 minio:// 来源。
func NewImageLoader(objects *storage.Client) ImageLoader {
	return &imageLoader{objects: objects}
}

func (l *imageLoader) Load(ctx context.Context, source string) (Image, error) {
	if strings.HasPrefix(source, storage.Scheme) {
		if l.objects == nil {
			return Image{}, fmt.Errorf("未配置 MinIO，无法读取 %s", source)
		}
		bucket, object, err := storage.ParseURI(source)
		if err != nil {
			return Image{}, err
		}
		data, name, err := l.objects.Fetch(ctx, bucket, object)
		if err != nil {
			return Image{}, err
		}
		return Image{Name: name, Data: data}, nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return Image{}, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.Size() > storage.MaxObjectSize {
		return Image{}, fmt.Errorf("image %s is too large (%d bytes)", source, info.Size())
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}
	return Image{Name: filepath.Base(source), Data: data}, nil
}
