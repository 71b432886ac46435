package container

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pet-skin/config"
	"pet-skin/internal/api/rest"
	"pet-skin/internal/api/telegram"
	app "pet-skin/internal/application"
	"pet-skin/internal/domain/entity"
	"pet-skin/internal/domain/port"
	"pet-skin/internal/infrastructure/cache"
	"pet-skin/internal/infrastructure/describer"
	"pet-skin/internal/infrastructure/model"
	"pet-skin/internal/infrastructure/notify"
	"pet-skin/internal/infrastructure/storage"
	"pet-skin/internal/infrastructure/vision"
)

type Container struct {
	UserService      *app.UserService
	InferenceService *app.InferenceService
	DiagnosisService *app.DiagnosisService

	Server  *rest.Server
	Bot     *telegram.Bot
	BotAPI  *tgbotapi.BotAPI
	closers []func() error
}

// New загружает обе модели каскада и собирает сервисы.
// Ошибка загрузки модели возвращается как *entity.ModelLoadError.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	c := &Container{}
	if err := c.init(ctx, cfg, logger); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) init(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := checkModelFiles(cfg); err != nil {
		return err
	}

	roi, err := newROIExtractor(cfg)
	if err != nil {
		return err
	}
	pre := vision.NewPreprocessor(cfg.ImageSize)

	if cfg.BackboneRuntime == config.RuntimeONNX {
		if err := model.InitONNXRuntime(cfg.ONNXRuntimeLib); err != nil {
			return err
		}
		c.closers = append(c.closers, model.DestroyONNXRuntime)
	}

	binary, err := c.loadStage(cfg, logger, config.BinaryWeightsFile, config.BinaryBackboneFile, len(entity.BinaryLabels))
	if err != nil {
		return err
	}
	disease, err := c.loadStage(cfg, logger, config.DiseaseWeightsFile, config.DiseaseBackboneFile, len(entity.DiseaseLabels))
	if err != nil {
		return err
	}

	cascade := app.NewDiagnosisCascade(roi, pre, binary, disease, logger)

	var opts []app.InferenceOption
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, rc.Close)
		opts = append(opts, app.WithCache(rc))
	}
	if cfg.GeminiAPIKey != "" {
		gd, err := describer.NewGeminiDescriber(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, gd.Close)
		opts = append(opts, app.WithDescriber(gd))
	}
	c.InferenceService = app.NewInferenceService(cascade, vision.Decoder{}, cfg.InferenceWorkers, logger, opts...)

	history, err := c.newHistory(ctx, cfg)
	if err != nil {
		return err
	}
	c.UserService = app.NewUserService(storage.NewMemoryUserRepository())

	var notifiers notify.Fanout
	if cfg.TelegramToken != "" {
		c.BotAPI, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		notifiers = append(notifiers, notify.NewTelegramNotifier(c.BotAPI))
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := notify.ConnectProducer(cfg.KafkaBrokers)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		kn := notify.NewKafkaNotifier(producer, cfg.KafkaTopic)
		c.closers = append(c.closers, kn.Close)
		notifiers = append(notifiers, kn)
	}

	var notifier port.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}
	c.DiagnosisService = app.NewDiagnosisService(c.InferenceService, history, c.UserService, notifier, logger)

	c.Server = rest.NewServer(cfg.HTTPAddr, cfg.RequestTimeout, c.InferenceService, c.DiagnosisService, logger)
	if c.BotAPI != nil {
		c.Bot = telegram.NewBot(c.BotAPI, c.UserService, c.DiagnosisService, logger)
	}

	return nil
}

// Close освобождает ресурсы в обратном порядке создания.
func (c *Container) Close() error {
	if c.DiagnosisService != nil {
		c.DiagnosisService.Wait()
	}

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) loadStage(cfg *config.Config, logger *zap.Logger, weightsFile, backboneFile string, numClasses int) (*model.FusionClassifier, error) {
	backbone, err := newBackbone(cfg, cfg.ModelPath(backboneFile))
	if err != nil {
		return nil, err
	}

	clf, err := model.Load(cfg.ModelPath(weightsFile), numClasses, backbone,
		model.WithLogger(logger.Named("model")),
		model.WithSanitySize(cfg.ImageSize),
	)
	if err != nil {
		_ = backbone.Close()
		return nil, err
	}
	c.closers = append(c.closers, clf.Close)
	return clf, nil
}

func (c *Container) newHistory(ctx context.Context, cfg *config.Config) (port.DiagnosisRepository, error) {
	if cfg.DatabaseURL == "" {
		return storage.NewMemoryDiagnosisRepository(), nil
	}

	repo, err := storage.NewPostgresDiagnosisRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() error {
		repo.Close()
		return nil
	})
	return repo, nil
}

// newROIExtractor выбирает движок и проверяет его на пустом кадре.
func newROIExtractor(cfg *config.Config) (port.ROIExtractor, error) {
	var roi port.ROIExtractor = vision.NewOtsuExtractor(cfg.ROIMinSize)
	if cfg.ROIEngine == config.ROIEngineOpenCV {
		roi = vision.NewGoCVExtractor(cfg.ROIMinSize)
	}
	if _, err := roi.Locate(image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		return nil, fmt.Errorf("roi engine %s: %w", cfg.ROIEngine, err)
	}
	return roi, nil
}

func newBackbone(cfg *config.Config, path string) (model.Backbone, error) {
	if cfg.BackboneRuntime == config.RuntimeOpenCV {
		b, err := model.NewGoCVBackbone(path, cfg.ImageSize)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	b, err := model.NewONNXBackbone(path, cfg.ImageSize, cfg.IntraOpThreads)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// checkModelFiles проверяет наличие всех файлов до инициализации рантайма.
func checkModelFiles(cfg *config.Config) error {
	for _, name := range []string{
		config.BinaryWeightsFile,
		config.BinaryBackboneFile,
		config.DiseaseWeightsFile,
		config.DiseaseBackboneFile,
	} {
		path := cfg.ModelPath(name)
		if _, err := os.Stat(path); err != nil {
			return &entity.ModelLoadError{Path: path, Err: err}
		}
	}
	return nil
}
