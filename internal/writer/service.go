// Package writer реализует сценарии HTTP API поверх графа агента.
//
// Service — тонкая обёртка над chain.Chain:
//   - Проверяет запрос и строит seed сообщение
//   - Делегирует прогон графу и превращает RunOutcome в WriteResponse
//   - Сохраняет итог прогона в store
//   - Выполняет пакетные операции (translate, generate-images) прямыми вызовами инструментов
//
// Соблюдение правил из dev_manifest.md:
//   - Использует tools.Registry для инструментов (Правило 3)
//   - Никаких panic, все ошибки возвращаются (Правило 7)
//   - Делегирует бизнес-логику Chain Pattern (Правило 0)
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ilkoid/poncho-writer/pkg/chain"
	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/ilkoid/poncho-writer/pkg/store"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/tools/std"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

const instrumentationName = "github.com/ilkoid/poncho-writer/internal/writer"

// Поддиректории output_dir.
const (
	articleSubdir     = "md"
	imageSubdir       = "img"
	translationSubdir = "trans_exist"
)

// Store — хранилище итогов прогонов (реализован store.SQLiteStore).
type Store interface {
	Save(ctx context.Context, r store.Record) error
	Get(ctx context.Context, articleID string) (store.Record, error)
}

var _ Store = (*store.SQLiteStore)(nil)

// Config конфигурация для создания Service.
type Config struct {
	// Chain — граф агента (обязательный)
	Chain chain.Chain

	// Registry — реестр инструментов для пакетных операций (обязательный)
	Registry *tools.Registry

	// App — конфигурация приложения (обязательный)
	App *config.AppConfig

	// Store — индекс итогов. nil отключает сохранение и GET /write/{id}.
	Store Store

	// Tracer — по умолчанию глобальный otel tracer.
	Tracer trace.Tracer
}

// Service выполняет сценарии записи статей. Безопасен для конкурентного использования:
// каждый Write получает собственный прогон графа.
type Service struct {
	chain    chain.Chain
	registry *tools.Registry
	cfg      *config.AppConfig
	store    Store
	tracer   trace.Tracer

	now   func() time.Time
	newID func() string
}

// New создаёт Service.
//
// Rule 10: Godoc на public API.
func New(cfg Config) (*Service, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("cfg.Chain is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("cfg.Registry is required")
	}
	if cfg.App == nil {
		return nil, fmt.Errorf("cfg.App is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(instrumentationName)
	}

	return &Service{
		chain:    cfg.Chain,
		registry: cfg.Registry,
		cfg:      cfg.App,
		store:    cfg.Store,
		tracer:   cfg.Tracer,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}, nil
}

// DefaultTraceID возвращает trace id для запроса без X-Trace-ID.
func DefaultTraceID(articleID string) string {
	id := articleID
	if len(id) > 8 {
		id = id[:8]
	}
	return "article-" + id
}

// Write пишет статью одним прогоном графа.
//
// Ошибка возвращается только для невалидного запроса (*RequestError).
// Сбой прогона отражается в ответе со status "failed".
func (s *Service) Write(ctx context.Context, req WriteRequest, traceID string) (WriteResponse, error) {
	start := s.now()

	if err := req.Normalize(s.cfg.API); err != nil {
		return WriteResponse{}, err
	}

	articleID := s.newID()
	if traceID == "" {
		traceID = DefaultTraceID(articleID)
	}

	ctx, span := s.tracer.Start(ctx, "Writer.Write", trace.WithAttributes(
		attribute.String("article.id", articleID),
		attribute.String("article.trace_id", traceID),
		attribute.String("article.topic", req.Topic),
	))
	defer span.End()

	utils.Info("Article requested",
		"article_id", articleID,
		"trace_id", traceID,
		"topic", req.Topic,
		"style", req.Style,
		"language", req.Language,
		"translate_to", req.TranslateTo,
		"generate_images", req.GenerateImages)

	runCtx := ctx
	if s.cfg.Agent.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Agent.RunTimeout)
		defer cancel()
	}

	seed := BuildSeed(articleID, s.cfg.App.OutputDir, req)
	outcome := s.chain.Execute(runCtx, seed)
	elapsed := s.now().Sub(start)

	resp := buildResponse(articleID, traceID, req, outcome, elapsed)
	if outcome.Completed() {
		span.SetStatus(codes.Ok, "")
		utils.Info("Article completed",
			"article_id", articleID,
			"iterations", outcome.Iterations,
			"files", len(outcome.ArtifactPaths),
			"duration", elapsed.String())
	} else {
		span.RecordError(outcome.Error)
		span.SetStatus(codes.Error, outcome.ErrorMessage())
		utils.Error("Article failed",
			"article_id", articleID,
			"iterations", outcome.Iterations,
			"error", outcome.ErrorMessage())
	}

	s.persist(context.WithoutCancel(ctx), store.Record{
		ArticleID:     articleID,
		TraceID:       traceID,
		Topic:         req.Topic,
		Status:        string(outcome.Status),
		FinalSummary:  outcome.FinalSummary,
		Error:         outcome.ErrorMessage(),
		ArtifactPaths: outcome.ArtifactPaths,
		Iterations:    outcome.Iterations,
		Duration:      elapsed,
		CreatedAt:     start,
	})

	return resp, nil
}

func buildResponse(articleID, traceID string, req WriteRequest, outcome chain.RunOutcome, elapsed time.Duration) WriteResponse {
	resp := WriteResponse{
		ArticleID:      articleID,
		Status:         string(outcome.Status),
		Metadata:       map[string]any{"topic": req.Topic},
		ProcessingTime: elapsed.Seconds(),
		TraceID:        strPtr(traceID),
		FilePaths:      map[string]string{},
	}

	if !outcome.Completed() {
		resp.Error = strPtr(outcome.ErrorMessage())
		// Частично сохранённые файлы остаются видны клиенту
		for name, path := range outcome.ArtifactPaths {
			resp.FilePaths[name] = path
		}
		return resp
	}

	resp.Content = strPtr(outcome.FinalSummary)
	words := utils.WordCount(outcome.FinalSummary)
	resp.WordCount = &words
	resp.Metadata["style"] = req.Style
	resp.Metadata["language"] = req.Language
	resp.Metadata["iterations"] = outcome.Iterations

	for name, path := range outcome.ArtifactPaths {
		resp.FilePaths[name] = path
	}
	resp.Translations = translationsOf(articleID, req.TranslateTo, outcome.ArtifactPaths)
	resp.GeneratedImages = imagesOf(articleID, outcome.ArtifactPaths)
	return resp
}

// translationsOf находит сохранённые переводы по детерминированным именам файлов.
func translationsOf(articleID string, langs []string, artifacts map[string]string) map[string]string {
	if len(langs) == 0 {
		return nil
	}
	result := make(map[string]string)
	for _, lang := range langs {
		name := fmt.Sprintf("%s_%s.md", MainFilename(articleID), lang)
		if path, ok := artifacts[name]; ok {
			result[lang] = path
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func imagesOf(articleID string, artifacts map[string]string) []string {
	var images []string
	prefix := articleID + "_image"
	for name, path := range artifacts {
		if strings.HasPrefix(name, prefix) {
			images = append(images, path)
		}
	}
	slices.Sort(images)
	return images
}

func (s *Service) persist(ctx context.Context, r store.Record) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, r); err != nil {
		utils.Error("Failed to persist run outcome", "article_id", r.ArticleID, "error", err)
	}
}

// Get возвращает сохранённый итог прогона.
func (s *Service) Get(ctx context.Context, articleID string) (WriteResponse, error) {
	if s.store == nil {
		return WriteResponse{}, notFound("article %s not found", articleID)
	}

	rec, err := s.store.Get(ctx, articleID)
	if errors.Is(err, store.ErrNotFound) {
		return WriteResponse{}, notFound("article %s not found", articleID)
	}
	if err != nil {
		return WriteResponse{}, fmt.Errorf("load article %s: %w", articleID, err)
	}

	resp := WriteResponse{
		ArticleID:      rec.ArticleID,
		Status:         rec.Status,
		Metadata:       map[string]any{"topic": rec.Topic, "iterations": rec.Iterations, "created_at": rec.CreatedAt.UTC().Format(time.RFC3339)},
		ProcessingTime: rec.Duration.Seconds(),
		FilePaths:      map[string]string{},
	}
	if rec.TraceID != "" {
		resp.TraceID = strPtr(rec.TraceID)
	}
	if rec.Status == StatusCompleted {
		resp.Content = strPtr(rec.FinalSummary)
		words := utils.WordCount(rec.FinalSummary)
		resp.WordCount = &words
	}
	if rec.Error != "" {
		resp.Error = strPtr(rec.Error)
	}
	for name, path := range rec.ArtifactPaths {
		resp.FilePaths[name] = path
	}
	resp.GeneratedImages = imagesOf(rec.ArticleID, rec.ArtifactPaths)
	return resp, nil
}

// sourcePath возвращает путь к исходной статье: source_file или <output_dir>/md/<id>_main.md.
func (s *Service) sourcePath(articleID, sourceFile string) (string, error) {
	path := sourceFile
	if path == "" {
		path = filepath.Join(s.cfg.App.OutputDir, articleSubdir, MainFilename(articleID)+".md")
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", notFound("Source file not found: %s", path)
	}
	return path, nil
}

// Translate переводит статью на каждый язык параллельно и сохраняет
// переводы в <output_dir>/trans_exist.
//
// Ошибка одного языка не отменяет остальные: она логируется, а в file_paths
// попадают только успешно сохранённые переводы.
func (s *Service) Translate(ctx context.Context, req TranslateRequest) (WriteResponse, error) {
	start := s.now()
	if err := req.Validate(); err != nil {
		return WriteResponse{}, err
	}
	source, err := s.sourcePath(req.ArticleID, req.SourceFile)
	if err != nil {
		return WriteResponse{}, err
	}
	content, err := os.ReadFile(source)
	if err != nil {
		return WriteResponse{}, fmt.Errorf("read source %s: %w", source, err)
	}
	if err := s.requireTools(std.ToolTranslateText, std.ToolSaveArticle); err != nil {
		return WriteResponse{}, err
	}

	ctx, span := s.tracer.Start(ctx, "Writer.Translate", trace.WithAttributes(
		attribute.String("article.id", req.ArticleID),
		attribute.StringSlice("translate.languages", req.TargetLanguages),
	))
	defer span.End()

	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	outDir := filepath.Join(s.cfg.App.OutputDir, translationSubdir)

	results := make([]tools.Output, len(req.TargetLanguages))
	var wg sync.WaitGroup
	for i, lang := range req.TargetLanguages {
		wg.Add(1)
		go func(i int, lang string) {
			defer wg.Done()
			results[i] = s.translateOne(ctx, string(content), lang, stem, outDir)
		}(i, lang)
	}
	wg.Wait()

	resp := WriteResponse{
		ArticleID:      req.ArticleID,
		Status:         StatusCompleted,
		Metadata:       map[string]any{"source_file": source},
		ProcessingTime: s.now().Sub(start).Seconds(),
		Translations:   map[string]string{},
		FilePaths:      map[string]string{},
	}
	for i, out := range results {
		lang := req.TargetLanguages[i]
		if !out.OK() || out.Path == "" {
			utils.Error("Translation failed", "article_id", req.ArticleID, "language", lang, "reason", out.Reason, "details", out.Details)
			continue
		}
		resp.FilePaths[filepath.Base(out.Path)] = out.Path
		resp.Translations[lang] = out.Path
	}
	if len(resp.Translations) == 0 {
		resp.Translations = nil
	}
	span.SetAttributes(attribute.Int("translate.saved", len(resp.FilePaths)))
	return resp, nil
}

func (s *Service) translateOne(ctx context.Context, content, lang, stem, outDir string) tools.Output {
	translated := s.invoke(ctx, std.ToolTranslateText, map[string]any{
		"text":            content,
		"target_language": lang,
	})
	if !translated.OK() {
		return translated
	}
	return s.invoke(ctx, std.ToolSaveArticle, map[string]any{
		"filename":   fmt.Sprintf("%s_%s", stem, lang),
		"content":    translated.Text,
		"output_dir": outDir,
	})
}

// GenerateImages генерирует number_of_images иллюстраций параллельно
// и сохраняет их со сжатием в <output_dir>/img.
func (s *Service) GenerateImages(ctx context.Context, req ImageGenerationRequest) (WriteResponse, error) {
	start := s.now()
	if err := req.Validate(); err != nil {
		return WriteResponse{}, err
	}
	source, err := s.sourcePath(req.ArticleID, req.SourceFile)
	if err != nil {
		return WriteResponse{}, err
	}
	if err := s.requireTools(std.ToolGenerateImage, std.ToolSaveImage); err != nil {
		return WriteResponse{}, err
	}

	n := *req.NumberOfImages
	ctx, span := s.tracer.Start(ctx, "Writer.GenerateImages", trace.WithAttributes(
		attribute.String("article.id", req.ArticleID),
		attribute.Int("images.requested", n),
	))
	defer span.End()

	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	scene := fmt.Sprintf("A descriptive image for an article titled '%s'", strings.ReplaceAll(stem, "_", " "))
	outDir := filepath.Join(s.cfg.App.OutputDir, imageSubdir)

	results := make([]tools.Output, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.imageOne(ctx, scene, fmt.Sprintf("%s_image_%d", stem, i+1), outDir)
		}(i)
	}
	wg.Wait()

	resp := WriteResponse{
		ArticleID:      req.ArticleID,
		Status:         StatusCompleted,
		Metadata:       map[string]any{"source_file": source},
		ProcessingTime: s.now().Sub(start).Seconds(),
		FilePaths:      map[string]string{},
	}
	for _, out := range results {
		if !out.OK() || out.Path == "" {
			utils.Error("Image generation tool returned an error", "article_id", req.ArticleID, "reason", out.Reason, "details", out.Details)
			continue
		}
		utils.Info("Successfully generated and saved image", "path", out.Path)
		resp.FilePaths[filepath.Base(out.Path)] = out.Path
		resp.GeneratedImages = append(resp.GeneratedImages, out.Path)
	}
	span.SetAttributes(attribute.Int("images.saved", len(resp.GeneratedImages)))
	return resp, nil
}

func (s *Service) imageOne(ctx context.Context, scene, filename, outDir string) tools.Output {
	generated := s.invoke(ctx, std.ToolGenerateImage, map[string]any{"scene_description": scene})
	if !generated.OK() {
		return generated
	}
	tempPath, _ := generated.Payload["temp_file_path"].(string)
	if tempPath == "" {
		return tools.Failure("image generation returned no file", generated.Payload)
	}
	defer os.Remove(tempPath)

	return s.invoke(ctx, std.ToolSaveImage, map[string]any{
		"image_input": map[string]any{"temp_file_path": tempPath},
		"filename":    filename,
		"output_dir":  outDir,
	})
}

func (s *Service) requireTools(names ...string) error {
	for _, name := range names {
		if _, err := s.registry.Resolve(name); err != nil {
			return fmt.Errorf("tool %s is not available: %w", name, err)
		}
	}
	return nil
}

// invoke вызывает инструмент напрямую, минуя граф, с таймаутом из конфига.
// Ошибки исполнения превращаются в Failure, как в Tool Step.
func (s *Service) invoke(ctx context.Context, name string, args map[string]any) tools.Output {
	raw, err := json.Marshal(args)
	if err != nil {
		return tools.Failure("invalid arguments", map[string]any{"tool": name, "cause": err.Error()})
	}
	cleaned, err := s.registry.ValidateArgs(name, string(raw))
	if err != nil {
		return tools.Failure("invalid arguments", map[string]any{"tool": name, "cause": err.Error()})
	}
	tool, err := s.registry.Resolve(name)
	if err != nil {
		return tools.Failure("tool not found", map[string]any{"requested": name})
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ToolTimeout(name))
	defer cancel()

	out, err := execute(ctx, tool, cleaned)
	if err != nil {
		return tools.Failure("tool execution failed", map[string]any{"tool": name, "cause": err.Error()})
	}
	if out.Kind == "" {
		out.Kind = tools.KindSuccess
	}
	return out
}

func execute(ctx context.Context, tool tools.Tool, args string) (out tools.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}
