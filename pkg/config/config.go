package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig — корневая структура конфигурации.
// Она зеркалит структуру config.yaml.
type AppConfig struct {
	Models          ModelsConfig          `yaml:"models"`
	App             AppSpecific           `yaml:"app"`
	API             APIConfig             `yaml:"api"`
	Agent           AgentConfig           `yaml:"agent"`
	Tools           map[string]ToolConfig `yaml:"tools"`
	NCBI            NCBIConfig            `yaml:"ncbi"`
	Jimeng          JimengConfig          `yaml:"jimeng"`
	S3              S3Config              `yaml:"s3"`
	ImageProcessing ImageProcConfig       `yaml:"image_processing"`
	Store           StoreConfig           `yaml:"store"`
}

// ModelsConfig — настройки AI моделей.
//
// Алиасы указывают на ключи Definitions. Пустые summarizer/translator/image_prompt
// означают "использовать default_chat".
type ModelsConfig struct {
	DefaultChat string              `yaml:"default_chat"`
	Summarizer  string              `yaml:"summarizer"`
	Translator  string              `yaml:"translator"`
	ImagePrompt string              `yaml:"image_prompt"`
	Definitions map[string]ModelDef `yaml:"definitions"`
}

// ModelDef — параметры конкретной модели.
type ModelDef struct {
	Provider    string        `yaml:"provider"`   // "openai", "deepseek", "openrouter"
	ModelName   string        `yaml:"model_name"` // Реальное имя в API
	APIKey      string        `yaml:"api_key"`    // Поддерживает ${VAR}
	BaseURL     string        `yaml:"base_url"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"` // Go умеет парсить строки вида "60s", "1m"
}

// AppSpecific — общие настройки приложения.
type AppSpecific struct {
	Debug     bool   `yaml:"debug"`
	OutputDir string `yaml:"output_dir"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"` // Пусто = stdout
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *AppSpecific) GetDefaults() AppSpecific {
	result := *c

	if result.OutputDir == "" {
		result.OutputDir = "output"
	}
	if result.Host == "" {
		result.Host = "0.0.0.0"
	}
	if result.Port == 0 {
		result.Port = 8000
	}
	if result.LogLevel == "" {
		result.LogLevel = "info"
	}

	return result
}

// APIConfig — ограничения HTTP API на входные запросы.
type APIConfig struct {
	SupportedStyles    []string `yaml:"supported_styles"`
	SupportedLanguages []string `yaml:"supported_languages"`
	DefaultStyle       string   `yaml:"default_style"`
	DefaultLanguage    string   `yaml:"default_language"`
	MaxKeywords        int      `yaml:"max_keywords"`
	MaxFocusAreas      int      `yaml:"max_focus_areas"`
	DefaultMaxSources  int      `yaml:"default_max_sources"`
	MaxSourcesLimit    int      `yaml:"max_sources_limit"`
	CORSOrigins        []string `yaml:"cors_origins"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *APIConfig) GetDefaults() APIConfig {
	result := *c

	if len(result.SupportedStyles) == 0 {
		result.SupportedStyles = []string{"popular science article", "review", "blog post"}
	}
	if len(result.SupportedLanguages) == 0 {
		result.SupportedLanguages = []string{"en", "zh-CN", "zh-TW", "ja", "fr"}
	}
	if result.DefaultStyle == "" {
		result.DefaultStyle = "popular science article"
	}
	if result.DefaultLanguage == "" {
		result.DefaultLanguage = "English"
	}
	if result.MaxKeywords == 0 {
		result.MaxKeywords = 10
	}
	if result.MaxFocusAreas == 0 {
		result.MaxFocusAreas = 5
	}
	if result.DefaultMaxSources == 0 {
		result.DefaultMaxSources = 5
	}
	if result.MaxSourcesLimit == 0 {
		result.MaxSourcesLimit = 20
	}
	if len(result.CORSOrigins) == 0 {
		result.CORSOrigins = []string{"*"}
	}

	return result
}

// AgentConfig — параметры графа агента.
type AgentConfig struct {
	// MaxIterations ограничивает число циклов AGENT→ACTION (circuit breaker).
	MaxIterations int           `yaml:"max_iterations"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	ParallelTools bool          `yaml:"parallel_tools"`
	EventBuffer   int           `yaml:"event_buffer"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	SystemPrompt  string        `yaml:"system_prompt"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *AgentConfig) GetDefaults() AgentConfig {
	result := *c

	if result.MaxIterations == 0 {
		result.MaxIterations = 15
	}
	if result.ToolTimeout == 0 {
		result.ToolTimeout = 5 * time.Minute
	}
	if result.EventBuffer == 0 {
		result.EventBuffer = 16
	}
	if result.RunTimeout == 0 {
		result.RunTimeout = 30 * time.Minute
	}

	return result
}

// ToolConfig — настройки инструмента.
//
// Отсутствующий enabled трактуется как true: секцию можно использовать
// только для переопределения timeout.
type ToolConfig struct {
	Enabled *bool         `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// IsEnabled сообщает включён ли инструмент.
func (t ToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// NCBIConfig — настройки клиента NCBI E-utilities (PubMed/PMC).
type NCBIConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"` // Поддерживает ${VAR}
	Email         string `yaml:"email"`
	Tool          string `yaml:"tool"`
	RateLimit     int    `yaml:"rate_limit"`  // Запросов в минуту
	BurstLimit    int    `yaml:"burst_limit"` // Burst для rate limiter
	RetryAttempts int    `yaml:"retry_attempts"`
	Timeout       string `yaml:"timeout"` // Timeout для HTTP запросов (например, "30s")
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *NCBIConfig) GetDefaults() NCBIConfig {
	result := *c

	if result.BaseURL == "" {
		result.BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if result.Tool == "" {
		result.Tool = "poncho-writer"
	}
	if result.RateLimit == 0 {
		// Без API ключа NCBI допускает 3 запроса в секунду
		result.RateLimit = 180
	}
	if result.BurstLimit == 0 {
		result.BurstLimit = 3
	}
	if result.RetryAttempts == 0 {
		result.RetryAttempts = 3
	}
	if result.Timeout == "" {
		result.Timeout = "30s"
	}

	return result
}

// JimengConfig — настройки сервиса генерации изображений Jimeng (Volcengine Visual API).
type JimengConfig struct {
	AccessKey string `yaml:"access_key"` // Поддерживает ${VAR}
	SecretKey string `yaml:"secret_key"` // Поддерживает ${VAR}
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Service   string `yaml:"service"`
	ReqKey    string `yaml:"req_key"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	Timeout   string `yaml:"timeout"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *JimengConfig) GetDefaults() JimengConfig {
	result := *c

	if result.Endpoint == "" {
		result.Endpoint = "https://visual.volcengineapi.com"
	}
	if result.Region == "" {
		result.Region = "cn-south-1"
	}
	if result.Service == "" {
		result.Service = "cv"
	}
	if result.ReqKey == "" {
		result.ReqKey = "jimeng_high_aes_general_v21_L"
	}
	if result.Width == 0 {
		result.Width = 512
	}
	if result.Height == 0 {
		result.Height = 512
	}
	if result.Timeout == "" {
		result.Timeout = "60s"
	}

	return result
}

// S3Config — настройки объектного хранилища для зеркалирования артефактов.
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"` // Поддерживает ${VAR}
	SecretKey string `yaml:"secret_key"` // Поддерживает ${VAR}
	UseSSL    bool   `yaml:"use_ssl"`
}

// ImageProcConfig — настройки обработки изображений.
type ImageProcConfig struct {
	MaxBytes int `yaml:"max_bytes"`
	MaxWidth int `yaml:"max_width"`
}

// GetDefaults возвращает дефолтные значения для незаполненных полей.
func (c *ImageProcConfig) GetDefaults() ImageProcConfig {
	result := *c

	if result.MaxBytes == 0 {
		result.MaxBytes = 500 * 1024
	}
	if result.MaxWidth == 0 {
		result.MaxWidth = 2048
	}

	return result
}

// StoreConfig — настройки SQLite индекса результатов.
type StoreConfig struct {
	Path string `yaml:"path"` // Пусто = <output_dir>/runs.db
}

// Load читает YAML файл, подставляет ENV переменные и возвращает готовую структуру.
func Load(path string) (*AppConfig, error) {
	// 1. Проверяем существование файла
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at: %s", path)
	}

	// 2. Читаем файл целиком
	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(rawBytes)
}

// Parse разбирает содержимое config.yaml и применяет дефолты.
func Parse(raw []byte) (*AppConfig, error) {
	// os.ExpandEnv заменяет ${VAR} или $VAR на значение из системы.
	contentWithEnv := os.ExpandEnv(string(raw))

	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(contentWithEnv), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults заполняет незаданные поля всех секций.
func (c *AppConfig) ApplyDefaults() {
	c.App = c.App.GetDefaults()
	c.API = c.API.GetDefaults()
	c.Agent = c.Agent.GetDefaults()
	c.NCBI = c.NCBI.GetDefaults()
	c.Jimeng = c.Jimeng.GetDefaults()
	c.ImageProcessing = c.ImageProcessing.GetDefaults()
	if c.Store.Path == "" {
		c.Store.Path = c.App.OutputDir + "/runs.db"
	}
	if c.Tools == nil {
		c.Tools = make(map[string]ToolConfig)
	}
}

// validate проверяет обязательные поля.
func (c *AppConfig) validate() error {
	if c.Models.DefaultChat == "" {
		return fmt.Errorf("models.default_chat is required")
	}
	for _, alias := range []string{c.Models.DefaultChat, c.Models.Summarizer, c.Models.Translator, c.Models.ImagePrompt} {
		if alias == "" {
			continue
		}
		if _, ok := c.Models.Definitions[alias]; !ok {
			return fmt.Errorf("model '%s' is not defined in definitions", alias)
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required")
		}
		if c.S3.Endpoint == "" {
			return fmt.Errorf("s3.endpoint is required")
		}
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	return nil
}

// Helper методы для удобства доступа (Syntactic sugar)

// ModelFor возвращает имя модели для роли с fallback на default_chat.
func (c *AppConfig) ModelFor(alias string) string {
	if alias == "" {
		return c.Models.DefaultChat
	}
	return alias
}

// ToolTimeout возвращает timeout инструмента: из tools.<name>.timeout или agent.tool_timeout.
func (c *AppConfig) ToolTimeout(name string) time.Duration {
	if tc, ok := c.Tools[name]; ok && tc.Timeout > 0 {
		return tc.Timeout
	}
	return c.Agent.ToolTimeout
}

// ToolEnabled сообщает включён ли инструмент в конфиге.
func (c *AppConfig) ToolEnabled(name string) bool {
	tc, ok := c.Tools[name]
	return !ok || tc.IsEnabled()
}
