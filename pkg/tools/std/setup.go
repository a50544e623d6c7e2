package std

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/ilkoid/poncho-writer/pkg/models"
	"github.com/ilkoid/poncho-writer/pkg/tools"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// Deps — внешние клиенты, нужные инструментам.
//
// Searcher и Drawer могут быть nil: зависящие от них инструменты не регистрируются.
// Mirror nil отключает зеркалирование артефактов.
type Deps struct {
	Models     *models.Registry
	Searcher   Searcher
	Drawer     Drawer
	Mirror     ArtifactMirror
	HTTPClient HTTPClient
}

// AllTools — порядок регистрации инструментов.
var AllTools = []string{
	ToolSearchAndSummarize,
	ToolSaveArticle,
	ToolReadArticle,
	ToolTranslateText,
	ToolGenerateImage,
	ToolSaveImage,
	ToolFinish,
}

// RegisterAll регистрирует включённые в конфиге инструменты.
//
// finish регистрируется всегда: без терминального инструмента граф
// заканчивается только по лимиту шагов.
//
// Rule 3: Все инструменты регистрируются через Registry.Register().
func RegisterAll(registry *tools.Registry, cfg *config.AppConfig, deps Deps) error {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: cfg.ToolTimeout(ToolSaveImage)}
	}

	for _, name := range AllTools {
		if name != ToolFinish && !cfg.ToolEnabled(name) {
			utils.Debug("Tool disabled, skipping", "name", name)
			continue
		}
		if err := registerTool(name, registry, cfg, deps); err != nil {
			return fmt.Errorf("tool %s: %w", name, err)
		}
	}

	utils.Info("Tools registered", "tools", registry.Names())
	return nil
}

// registerTool регистрирует отдельный инструмент через factory switch.
//
// Для добавления нового инструмента добавьте case сюда и имя в AllTools.
func registerTool(name string, registry *tools.Registry, cfg *config.AppConfig, deps Deps) error {
	switch name {
	case ToolSearchAndSummarize:
		if deps.Searcher == nil {
			utils.Warn("Searcher not configured, skipping tool", "name", name)
			return nil
		}
		model, err := modelFor(deps.Models, models.RoleSummarizer)
		if err != nil {
			return err
		}
		return registry.Register(NewSearchAndSummarizeTool(deps.Searcher, model.Provider, model.Def.Timeout))

	case ToolSaveArticle:
		dir := filepath.Join(cfg.App.OutputDir, "md")
		return registry.RegisterString(NewSaveArticleTool(dir, deps.Mirror))

	case ToolReadArticle:
		return registry.Register(NewReadArticleTool())

	case ToolTranslateText:
		model, err := modelFor(deps.Models, models.RoleTranslator)
		if err != nil {
			return err
		}
		return registry.Register(NewTranslateTextTool(model.Provider, model.Def.Timeout))

	case ToolGenerateImage:
		if deps.Drawer == nil {
			utils.Warn("Image generation service not configured, skipping tool", "name", name)
			return nil
		}
		model, err := modelFor(deps.Models, models.RoleImagePrompt)
		if err != nil {
			return err
		}
		return registry.Register(NewGenerateImageTool(deps.Drawer, model.Provider, model.Def.Timeout, deps.HTTPClient, ""))

	case ToolSaveImage:
		dir := filepath.Join(cfg.App.OutputDir, "img")
		return registry.RegisterString(NewSaveImageTool(dir, cfg.ImageProcessing.MaxBytes, deps.HTTPClient, deps.Mirror, ""))

	case ToolFinish:
		return registry.Register(NewFinishTool())

	default:
		return fmt.Errorf("unknown tool: %s", name)
	}
}

// modelFor возвращает модель роли; без реестра моделей инструменты не собрать.
func modelFor(reg *models.Registry, role models.Role) (models.Model, error) {
	if reg == nil {
		return models.Model{}, fmt.Errorf("model registry is not set")
	}
	return reg.ForRole(role)
}
