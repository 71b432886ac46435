package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	ROIEngineGo     = "go"
	ROIEngineOpenCV = "opencv"

	RuntimeONNX   = "onnxruntime"
	RuntimeOpenCV = "opencv"
)

// Имена файлов моделей в MODEL_DIR
const (
	BinaryWeightsFile   = "binary.safetensors"
	BinaryBackboneFile  = "binary_backbone.onnx"
	DiseaseWeightsFile  = "disease.safetensors"
	DiseaseBackboneFile = "disease_backbone.onnx"
)

type Config struct {
	HTTPAddr       string        `env:"HTTP_ADDR" env-default:":8080"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" env-default:"30s"`
	LogLevel       string        `env:"LOG_LEVEL" env-default:"info"`

	ModelDir         string `env:"MODEL_DIR" env-default:"models"`
	ImageSize        int    `env:"IMAGE_SIZE" env-default:"320"`
	ROIMinSize       int    `env:"ROI_MIN_SIZE" env-default:"64"`
	ROIEngine        string `env:"ROI_ENGINE" env-default:"go"`
	BackboneRuntime  string `env:"BACKBONE_RUNTIME" env-default:"onnxruntime"`
	ONNXRuntimeLib   string `env:"ONNXRUNTIME_LIB"`
	IntraOpThreads   int    `env:"INTRA_OP_THREADS" env-default:"0"`
	InferenceWorkers int    `env:"INFERENCE_WORKERS" env-default:"2"`

	TelegramToken string `env:"TELEGRAM_TOKEN"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	CacheTTL      time.Duration `env:"CACHE_TTL" env-default:"24h"`

	DatabaseURL string `env:"DATABASE_URL"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" env-separator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" env-default:"pet-skin.diagnoses"`

	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" env-default:"gemini-1.5-flash"`
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate проверяет значения, которые нельзя исправить значением по умолчанию.
func (c *Config) Validate() error {
	switch {
	case c.ImageSize < 32:
		return fmt.Errorf("IMAGE_SIZE must be at least 32, got %d", c.ImageSize)
	case c.ROIMinSize < 0:
		return fmt.Errorf("ROI_MIN_SIZE must not be negative, got %d", c.ROIMinSize)
	case c.ROIEngine != ROIEngineGo && c.ROIEngine != ROIEngineOpenCV:
		return fmt.Errorf("ROI_ENGINE must be %q or %q, got %q", ROIEngineGo, ROIEngineOpenCV, c.ROIEngine)
	case c.BackboneRuntime != RuntimeONNX && c.BackboneRuntime != RuntimeOpenCV:
		return fmt.Errorf("BACKBONE_RUNTIME must be %q or %q, got %q", RuntimeONNX, RuntimeOpenCV, c.BackboneRuntime)
	case c.InferenceWorkers < 1:
		return fmt.Errorf("INFERENCE_WORKERS must be positive, got %d", c.InferenceWorkers)
	}
	return nil
}

// ModelPath путь к файлу модели в MODEL_DIR
func (c *Config) ModelPath(name string) string {
	return filepath.Join(c.ModelDir, name)
}
