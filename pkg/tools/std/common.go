// Package std предоставляет стандартные инструменты агента-писателя.
//
// Набор инструментов повторяет конвейер статьи:
// research → write → save → translate → illustrate → finish.
//
// Rule 1: Tool interface ("Raw In, Output Out"), legacy строковые инструменты
// оборачиваются через tools.AdaptString.
// Rule 3: Все инструменты регистрируются через Registry (см. RegisterAll).
package std

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilkoid/poncho-writer/pkg/jimeng"
	"github.com/ilkoid/poncho-writer/pkg/llm"
	"github.com/ilkoid/poncho-writer/pkg/ncbi"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// Имена инструментов.
const (
	ToolSearchAndSummarize = "search_and_summarize"
	ToolSaveArticle        = "save_article"
	ToolReadArticle        = "read_article"
	ToolTranslateText      = "translate_text"
	ToolGenerateImage      = "generate_image"
	ToolSaveImage          = "save_image_with_compression"
	ToolFinish             = "finish"
)

// Searcher ищет публикации по запросу (реализован ncbi.Client).
type Searcher interface {
	Search(ctx context.Context, query string, maxPerSource int) ([]ncbi.Document, error)
}

// Drawer генерирует изображения по prompt (реализован jimeng.Client).
type Drawer interface {
	Draw(ctx context.Context, prompt string, opts jimeng.DrawOptions) ([]string, error)
}

// ArtifactMirror копирует сохранённый файл во внешнее хранилище (s3storage.Mirror).
type ArtifactMirror interface {
	Mirror(ctx context.Context, localPath string) (string, error)
}

// HTTPClient интерфейс для скачивания изображений.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	_ Searcher = (*ncbi.Client)(nil)
	_ Drawer   = (*jimeng.Client)(nil)
)

// maxImageDownload ограничивает размер скачиваемого изображения.
const maxImageDownload = 32 << 20

// generate вызывает провайдера с таймаутом модели и возвращает очищенный текст ответа.
func generate(ctx context.Context, provider llm.Provider, timeout time.Duration, prompt string, opts ...any) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := provider.Generate(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// mirrorArtifact зеркалирует файл если mirror настроен. Ошибки только логируются.
func mirrorArtifact(ctx context.Context, mirror ArtifactMirror, path string) {
	if mirror == nil {
		return
	}
	key, err := mirror.Mirror(ctx, path)
	if err != nil {
		utils.Warn("Artifact mirror failed", "path", path, "error", err)
		return
	}
	utils.Debug("Artifact mirrored", "path", path, "key", key)
}

// validateFilename запрещает пути в имени файла.
func validateFilename(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("filename is required")
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("filename must not contain path separators: %q", name)
	}
	return nil
}

// download скачивает ресурс по URL.
func download(ctx context.Context, hc HTTPClient, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: HTTP %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageDownload))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}
