// "Тупой" S3 клиент: зеркалирует сохранённые статьи и изображения в бакет.

package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ilkoid/poncho-writer/pkg/config"
)

// ClientInterface определяет интерфейс для S3 клиента.
// Используется для мокания в тестах и внедрения зависимостей.
type ClientInterface interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	ListFiles(ctx context.Context, prefix string) ([]StoredObject, error)
}

type Client struct {
	api    *minio.Client
	bucket string
}

// Проверка что Client реализует ClientInterface
var _ ClientInterface = (*Client)(nil)

// StoredObject - сырой объект из S3
type StoredObject struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// New создает клиент, используя наш конфиг
func New(cfg config.S3Config) (*Client, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		api:    minioClient,
		bucket: cfg.Bucket,
	}, nil
}

// Upload кладёт объект в бакет целиком.
func (c *Client) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.api.PutObject(ctx, c.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// ListFiles возвращает все объекты по префиксу.
func (c *Client) ListFiles(ctx context.Context, prefix string) ([]StoredObject, error) {
	// Нормализация префикса (добавляем слеш, если это "папка")
	if !strings.HasSuffix(prefix, "/") && prefix != "" {
		prefix += "/"
	}

	var objects []StoredObject

	opts := minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}

	for obj := range c.api.ListObjects(ctx, c.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == prefix {
			continue
		}
		objects = append(objects, StoredObject{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}

	return objects, nil
}

// DownloadFile скачивает объект целиком в память.
func (c *Client) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.api.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Mirror копирует локальные артефакты в бакет, сохраняя путь относительно output_dir.
type Mirror struct {
	client    ClientInterface
	prefix    string
	outputDir string
}

// NewMirror создает зеркало для артефактов из outputDir.
func NewMirror(client ClientInterface, prefix, outputDir string) *Mirror {
	return &Mirror{client: client, prefix: prefix, outputDir: outputDir}
}

// Mirror загружает файл localPath в s3://<bucket>/<prefix>/<путь относительно output_dir>.
func (m *Mirror) Mirror(ctx context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}

	key := ObjectKey(m.prefix, m.outputDir, localPath)
	if err := m.client.Upload(ctx, key, data, contentTypeFor(localPath)); err != nil {
		return "", err
	}
	return key, nil
}

// ObjectKey строит ключ объекта для локального пути.
//
// Файлы вне outputDir кладутся по имени файла.
func ObjectKey(prefix, outputDir, localPath string) string {
	rel, err := filepath.Rel(outputDir, localPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(localPath)
	}
	return path.Join(strings.Trim(prefix, "/"), filepath.ToSlash(rel))
}

func contentTypeFor(p string) string {
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".md":
		return "text/markdown; charset=utf-8"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}
