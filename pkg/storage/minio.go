// Package storage 提供了从对象存储服务（如 MinIO）读取图片的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"aihelper-go/internal/config"
	"aihelper-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Scheme 是对象存储图片来源的前缀，例如 minio://bucket/path/to/image.png
const Scheme = "minio://"

// MaxObjectSize 限制单个对象的大小，避免把过大的文件读进内存
const MaxObjectSize = 20 << 20

// Client 封装 MinIO 客户端。
type Client struct {
	mc *minio.Client
}

// NewClient 根据配置创建 MinIO 客户端。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is not configured")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")
	return &Client{mc: mc}, nil
}

// ParseURI 把 minio://bucket/key 拆成存储桶和对象名。
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, Scheme) {
		return "", "", fmt.Errorf("not a %s uri: %q", Scheme, uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid object uri %q: %w", uri, err)
	}
	bucket = u.Host
	object = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return "", "", fmt.Errorf("object uri must look like %sbucket/key: %q", Scheme, uri)
	}
	return bucket, object, nil
}

// Fetch 读取整个对象，返回内容和对象名中的文件名部分。
func (c *Client) Fetch(ctx context.Context, bucket, object string) ([]byte, string, error) {
	info, err := c.mc.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat %s/%s: %w", bucket, object, err)
	}
	if info.Size > MaxObjectSize {
		return nil, "", fmt.Errorf("object %s/%s is too large (%d bytes)", bucket, object, info.Size)
	}

	obj, err := c.mc.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get %s/%s: %w", bucket, object, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s/%s: %w", bucket, object, err)
	}
	name := object
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	log.Debugw("已从 MinIO 读取对象", "bucket", bucket, "object", object, "size", len(data))
	return data, name, nil
}
