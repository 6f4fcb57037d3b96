// Package app は設定から生成パイプライン一式を組み立てます。CLI とワーカーで共有します。
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sashabaranov/go-openai"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/gcsfactory"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/shouni/gemini-pose-kit/internal/config"
	"github.com/shouni/gemini-pose-kit/pkg/adapters"
	"github.com/shouni/gemini-pose-kit/pkg/cache"
	"github.com/shouni/gemini-pose-kit/pkg/generator"
	"github.com/shouni/gemini-pose-kit/pkg/metrics"
)

// MetricsNamespace はパイプラインとワーカーのメトリクスに付ける名前空間です。
const MetricsNamespace = "posekit"

// Pipeline は組み立て済みのオーケストレーターと、終了時に閉じるべき資源を保持します。
type Pipeline struct {
	Runner  generator.Runner
	Options generator.Options
	// Writer は生成画像の書き出し先です。gs:// とローカルパスを受け付けます。
	Writer remoteio.OutputWriter

	closers []func() error
}

// Close は保持している接続をすべて閉じます。
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildOption は Build の挙動を調整します。
type BuildOption func(*buildOptions)

type buildOptions struct {
	allowLocalFiles bool
	registerer      prometheus.Registerer
}

// WithLocalFiles はローカルパスの画像指定を許可します。CLI 専用です。
func WithLocalFiles() BuildOption {
	return func(o *buildOptions) { o.allowLocalFiles = true }
}

// WithRegisterer はパイプラインのメトリクスを reg に登録します。指定しなければメトリクスは記録しません。
func WithRegisterer(reg prometheus.Registerer) BuildOption {
	return func(o *buildOptions) { o.registerer = reg }
}

// Build は設定に従って各クライアントを生成し、オーケストレーターを組み立てます。
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...BuildOption) (_ *Pipeline, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	p := &Pipeline{
		Options: generator.Options{
			ConfidenceThreshold: generator.Threshold(cfg.Pipeline.ConfidenceThreshold),
			MaxAttempts:         cfg.Pipeline.MaxAttempts,
			CallTimeout:         cfg.Pipeline.CallTimeout,
		},
	}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	reader, err := p.buildStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	source, err := p.buildResolver(ctx, cfg, reader, bo, logger)
	if err != nil {
		return nil, err
	}

	clients, err := newProviderClients(ctx, cfg.Inference)
	if err != nil {
		return nil, err
	}

	editor, err := newEditor(cfg.Inference, clients, source, logger)
	if err != nil {
		return nil, err
	}
	vision, err := newVision(cfg.Inference, clients, source, logger)
	if err != nil {
		return nil, err
	}

	validator, err := generator.NewValidationStage(vision, logger)
	if err != nil {
		return nil, err
	}
	describer, err := generator.NewFallbackDescriber(vision, logger)
	if err != nil {
		return nil, err
	}

	var orchOpts []generator.OrchestratorOption
	if bo.registerer != nil {
		orchOpts = append(orchOpts, generator.WithRecorder(metrics.NewRecorder(MetricsNamespace, bo.registerer)))
	}
	orch, err := generator.NewOrchestrator(editor, validator, describer, logger, orchOpts...)
	if err != nil {
		return nil, err
	}
	p.Runner = orch

	logger.Info("生成パイプラインを構築しました",
		zap.String("edit_provider", cfg.Inference.EditProvider),
		zap.String("vision_provider", cfg.Inference.VisionProvider))
	return p, nil
}

// buildStorage は gs:// の読み書きが必要な場合だけ Cloud Storage クライアントを作ります。
// 不要な場合もローカルパスの読み書きには同じ remoteio の実装を使います。
func (p *Pipeline) buildStorage(ctx context.Context, cfg *config.Config) (remoteio.InputReader, error) {
	if !cfg.Image.EnableGCS && !remoteio.IsGCSURI(cfg.OutputDir) {
		p.Writer = remoteio.NewUniversalIOWriter(nil, nil)
		return remoteio.NewUniversalInputReader(nil, nil), nil
	}

	factory, err := gcsfactory.New(ctx)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, factory.Close)

	reader, err := factory.InputReader()
	if err != nil {
		return nil, err
	}
	writer, err := factory.OutputWriter()
	if err != nil {
		return nil, err
	}
	p.Writer = writer
	return reader, nil
}

func (p *Pipeline) buildResolver(ctx context.Context, cfg *config.Config, reader remoteio.InputReader, bo buildOptions, logger *zap.Logger) (*adapters.ImageResolver, error) {
	var imageCache adapters.ImageCacher
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisImageCache(ctx, cache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			DefaultTTL: cfg.Image.CacheTTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, rc.Close)
		imageCache = rc
	}

	return adapters.NewImageResolver(httpkit.New(cfg.Image.FetchTimeout), reader, imageCache, adapters.ResolverOptions{
		Compress:        cfg.Image.Compress,
		Quality:         cfg.Image.JPEGQuality,
		MaxEdge:         cfg.Image.MaxEdge,
		CacheTTL:        cfg.Image.CacheTTL,
		AllowLocalFiles: bo.allowLocalFiles,
		AllowGCS:        cfg.Image.EnableGCS,
	}, logger)
}

type providerClients struct {
	gemini *genai.Client
	openai *openai.Client
}

func newProviderClients(ctx context.Context, cfg config.InferenceConfig) (providerClients, error) {
	var c providerClients
	uses := func(name string) bool { return cfg.EditProvider == name || cfg.VisionProvider == name }

	if uses(config.ProviderGemini) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return c, fmt.Errorf("Gemini クライアントの初期化に失敗しました: %w", err)
		}
		c.gemini = client
	}
	if uses(config.ProviderOpenAI) {
		oc := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			oc.BaseURL = cfg.OpenAIBaseURL
		}
		c.openai = openai.NewClientWithConfig(oc)
	}
	return c, nil
}

func newEditor(cfg config.InferenceConfig, c providerClients, source adapters.ImageSource, logger *zap.Logger) (generator.ImageEditClient, error) {
	switch cfg.EditProvider {
	case config.ProviderGemini:
		return adapters.NewGeminiImageEditor(c.gemini.Models, source, cfg.GeminiEditModel, logger)
	case config.ProviderOpenAI:
		var opts []adapters.OpenAIEditorOption
		if cfg.OpenAIImageSize != "" {
			opts = append(opts, adapters.WithImageSize(cfg.OpenAIImageSize))
		}
		return adapters.NewOpenAIImageEditor(c.openai, source, cfg.OpenAIEditModel, logger, opts...)
	default:
		return nil, fmt.Errorf("unsupported edit provider: %q", cfg.EditProvider)
	}
}

func newVision(cfg config.InferenceConfig, c providerClients, source adapters.ImageSource, logger *zap.Logger) (generator.VisionQueryClient, error) {
	switch cfg.VisionProvider {
	case config.ProviderGemini:
		return adapters.NewGeminiVisionClient(c.gemini.Models, source, cfg.GeminiVisionModel, logger)
	case config.ProviderOpenAI:
		return adapters.NewOpenAIVisionClient(c.openai, source, cfg.OpenAIVisionModel, logger)
	default:
		return nil, fmt.Errorf("unsupported vision provider: %q", cfg.VisionProvider)
	}
}
