// Package models хранит LLM провайдеров, созданных из config.yaml, и привязку
// ролей (агент, summarizer, translator, image_prompt) к конкретным моделям.
//
// Агент и инструменты спрашивают модель по роли и не знают про ключи и base_url.
//
// Rule 3: Registry pattern (similar to tools.Registry)
// Rule 5: Thread-safe via sync.RWMutex
package models

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ilkoid/poncho-writer/pkg/config"
	"github.com/ilkoid/poncho-writer/pkg/factory"
	"github.com/ilkoid/poncho-writer/pkg/llm"
)

// Role — назначение модели в приложении.
type Role string

const (
	RoleAgent       Role = "default_chat"
	RoleSummarizer  Role = "summarizer"
	RoleTranslator  Role = "translator"
	RoleImagePrompt Role = "image_prompt"
)

// Model — провайдер вместе с определением, из которого он создан.
type Model struct {
	Name     string
	Provider llm.Provider
	Def      config.ModelDef
}

// Registry — потокобезопасное хранилище моделей.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]Model
	roles    map[Role]string
	fallback string
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]Model),
		roles:  make(map[Role]string),
	}
}

// Register добавляет модель. Повторное имя и nil провайдер — ошибка.
func (r *Registry) Register(name string, def config.ModelDef, provider llm.Provider) error {
	if provider == nil {
		return fmt.Errorf("model %q: provider is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[name]; exists {
		return fmt.Errorf("model %q already registered", name)
	}
	r.models[name] = Model{Name: name, Provider: provider, Def: def}
	return nil
}

// SetDefault задаёт модель, которой отвечают Resolve и ForRole, когда
// запрошенное имя или роль не найдены.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// Default возвращает имя модели по умолчанию.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Bind привязывает роль к модели. Пустое имя снимает привязку.
func (r *Registry) Bind(role Role, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		delete(r.roles, role)
		return
	}
	r.roles[role] = name
}

// Get возвращает модель строго по имени.
func (r *Registry) Get(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return Model{}, fmt.Errorf("model %q not found in registry", name)
	}
	return m, nil
}

// Resolve возвращает модель name, а если её нет (или name пустое) — модель по умолчанию.
func (r *Registry) Resolve(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(name)
}

// ForRole возвращает модель, привязанную к роли, с fallback на модель по умолчанию.
func (r *Registry) ForRole(role Role) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, err := r.resolveLocked(r.roles[role])
	if err != nil {
		return Model{}, fmt.Errorf("role %s: %w", role, err)
	}
	return m, nil
}

func (r *Registry) resolveLocked(name string) (Model, error) {
	if m, ok := r.models[name]; ok {
		return m, nil
	}
	if m, ok := r.models[r.fallback]; ok {
		return m, nil
	}
	return Model{}, fmt.Errorf("neither model %q nor default %q found in registry", name, r.fallback)
}

// Names возвращает отсортированные имена зарегистрированных моделей.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewRegistryFromConfig создаёт провайдера для каждой записи models.definitions,
// делает default_chat моделью по умолчанию и привязывает роли из алиасов.
//
// Rule 7: Возвращает ошибку вместо panic.
func NewRegistryFromConfig(cfg *config.AppConfig) (*Registry, error) {
	registry := NewRegistry()

	for name, def := range cfg.Models.Definitions {
		provider, err := factory.NewLLMProvider(def)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider for model %q: %w", name, err)
		}
		if err := registry.Register(name, def, provider); err != nil {
			return nil, err
		}
	}

	registry.SetDefault(cfg.Models.DefaultChat)
	registry.Bind(RoleAgent, cfg.Models.DefaultChat)
	registry.Bind(RoleSummarizer, cfg.Models.Summarizer)
	registry.Bind(RoleTranslator, cfg.Models.Translator)
	registry.Bind(RoleImagePrompt, cfg.Models.ImagePrompt)
	return registry, nil
}
