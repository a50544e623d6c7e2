// Package app собирает компоненты писателя статей для разных точек входа
// (HTTP сервер, CLI).
//
// Пакет следует правилам из dev_manifest.md:
//   - Работает через llm.Provider интерфейс (Правило 4)
//   - Использует tools.Registry (Правило 3)
//   - Все ошибки возвращаются, никаких panic (Правило 7)
//   - Entry points только инициализируют и оркеструют (Правило 6)
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilkoid/poncho-writer/internal/writer"
	"github.com/ilkoid/poncho-writer/pkg/chain"
	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/ilkoid/poncho-writer/pkg/jimeng"
	"github.com/ilkoid/poncho-writer/pkg/models"
	"github.com/ilkoid/poncho-writer/pkg/ncbi"
	"github.com/ilkoid/poncho-writer/pkg/s3storage"
	"github.com/ilkoid/poncho-writer/pkg/store"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/tools/std"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// Components содержит все компоненты приложения для переиспользования.
//
// HTTP сервер и CLI собирают граф одинаково, отличается только потребитель
// потока событий.
type Components struct {
	Config *config.AppConfig
	Models *models.Registry
	Tools  *tools.Registry
	Cycle  *chain.ReActCycle
	Store  *store.SQLiteStore
	Writer *writer.Service
}

// Close освобождает ресурсы (SQLite).
func (c *Components) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// ConfigPathFinder определяет стратегию поиска пути к config.yaml.
//
// По умолчанию используется DefaultConfigPathFinder, но можно
// реализовать свою стратегию для тестов или специальных случаев.
type ConfigPathFinder interface {
	FindConfigPath() string
}

// DefaultConfigPathFinder реализует стандартную стратегию поиска config.yaml.
//
// Порядок поиска:
// 1. Флаг -f/--config (если указан)
// 2. Переменная окружения PONCHO_WRITER_CONFIG
// 3. Текущая директория (./config.yaml)
// 4. Директория бинарника
// 5. Родительские директории (для запуска из cmd/<утилита>/)
type DefaultConfigPathFinder struct {
	// ConfigFlag - значение флага, если указан
	ConfigFlag string
}

// ConfigEnvVar — переменная окружения с путём к конфигу.
const ConfigEnvVar = "PONCHO_WRITER_CONFIG"

// FindConfigPath находит путь к config.yaml.
func (f *DefaultConfigPathFinder) FindConfigPath() string {
	if f.ConfigFlag != "" {
		return resolveAbsPath(f.ConfigFlag)
	}
	if env := os.Getenv(ConfigEnvVar); env != "" {
		return resolveAbsPath(env)
	}

	candidates := []string{"config.yaml"}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), "config.yaml"))
	}
	candidates = append(candidates,
		filepath.Join("..", "config.yaml"),
		filepath.Join("..", "..", "config.yaml"),
	)

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return resolveAbsPath(p)
		}
	}

	// Возвращаем дефолтный путь (даже если не существует)
	return resolveAbsPath("config.yaml")
}

// InitializeConfig находит и загружает конфигурацию.
//
// Правило 2: все настройки в YAML с поддержкой ENV-переменных.
func InitializeConfig(finder ConfigPathFinder) (*config.AppConfig, string, error) {
	cfgPath := finder.FindConfigPath()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config from %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// Options — переопределения для Initialize.
type Options struct {
	// Model заменяет models.default_chat для Model Step.
	Model string

	// Debug принудительно включает JSON трассу прогонов.
	Debug bool

	// SkipStore не открывает SQLite (CLI не нужен индекс прогонов).
	SkipStore bool
}

// Initialize создаёт и связывает все компоненты приложения.
//
// Порядок: models → внешние клиенты (NCBI, Jimeng, S3) → инструменты →
// граф агента → store → writer.Service. Отсутствующие необязательные клиенты
// выключают зависящие от них инструменты, но не старт.
func Initialize(ctx context.Context, cfg *config.AppConfig, opts Options) (*Components, error) {
	utils.Info("Initializing components", "output_dir", cfg.App.OutputDir, "model", cfg.ModelFor(opts.Model))

	// 1. Модели
	modelRegistry, err := models.NewRegistryFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create model registry: %w", err)
	}
	utils.Info("Model registry created", "models", modelRegistry.Names())

	// 2. Внешние клиенты
	deps := std.Deps{Models: modelRegistry}

	searcher, err := ncbi.NewFromConfig(cfg.NCBI)
	if err != nil {
		return nil, fmt.Errorf("failed to create NCBI client: %w", err)
	}
	deps.Searcher = searcher

	if drawer, err := jimeng.NewFromConfig(cfg.Jimeng); err != nil {
		utils.Warn("Jimeng client not configured, image generation disabled", "error", err)
	} else {
		deps.Drawer = drawer
	}

	if cfg.S3.Enabled {
		s3Client, err := s3storage.New(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		deps.Mirror = s3storage.NewMirror(s3Client, cfg.S3.Prefix, cfg.App.OutputDir)
		utils.Info("S3 artifact mirror enabled", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}

	// 3. Инструменты
	registry := tools.NewRegistry()
	if err := std.RegisterAll(registry, cfg, deps); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	// 4. Граф агента
	cycleConfig := chain.FromAppConfig(cfg)
	if opts.Debug {
		cycleConfig.Debug.Enabled = true
		if cycleConfig.Debug.LogsDir == "" {
			cycleConfig.Debug.LogsDir = filepath.Join(cfg.App.OutputDir, "debug")
		}
	}
	cycle := chain.NewReActCycle(cycleConfig)
	cycle.SetModelRegistry(modelRegistry, cfg.ModelFor(opts.Model))
	cycle.SetRegistry(registry)

	comps := &Components{
		Config: cfg,
		Models: modelRegistry,
		Tools:  registry,
		Cycle:  cycle,
	}

	// 5. Индекс итогов
	var st writer.Store
	if !opts.SkipStore {
		sqlite, err := store.Open(ctx, cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		comps.Store = sqlite
		st = sqlite
		utils.Info("Run store opened", "path", cfg.Store.Path)
	}

	// 6. Сервис
	svc, err := writer.New(writer.Config{
		Chain:    cycle,
		Registry: registry,
		App:      cfg,
		Store:    st,
	})
	if err != nil {
		_ = comps.Close()
		return nil, fmt.Errorf("failed to create writer service: %w", err)
	}
	comps.Writer = svc

	return comps, nil
}

// resolveAbsPath преобразует путь в абсолютный (если это не уже абсолютный путь).
func resolveAbsPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
