package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/semdilemma/config"
	"github.com/c360studio/semdilemma/corpus"
	"github.com/c360studio/semdilemma/llm"
	"github.com/c360studio/semdilemma/model"
	"github.com/c360studio/semdilemma/novelty"
	"github.com/c360studio/semdilemma/pipeline"
	"github.com/c360studio/semdilemma/prompts"
	"github.com/c360studio/semdilemma/review"
	"github.com/c360studio/semdilemma/revision"
	"github.com/c360studio/semdilemma/validation"
	"github.com/c360studio/semdilemma/vignette"
)

// App wires the pipeline components from configuration.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry    *prometheus.Registry
	metrics     *pipeline.Metrics
	server      *http.Server
	metricsAddr string

	kv      *corpus.KVStore
	corpus  *corpus.Corpus
	lexicon *validation.Lexicon
	watcher *validation.LexiconWatcher

	validator  *validation.Validator
	controller *pipeline.Controller
}

// appOption configures NewApp.
type appOption func(*appOptions)

type appOptions struct {
	completer llm.Completer
	store     corpus.Store
}

// withCompleter replaces the HTTP completion client.
func withCompleter(c llm.Completer) appOption {
	return func(o *appOptions) { o.completer = c }
}

// withStore replaces the configured corpus store.
func withStore(s corpus.Store) appOption {
	return func(o *appOptions) { o.store = s }
}

// NewApp builds every component and loads the corpus. Close releases the
// watcher, the metrics listener and the NATS connection.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*App, error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = pipeline.NewMetrics(a.registry)

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.initValidation(ctx); err != nil {
		return nil, err
	}
	if err := a.initCorpus(ctx, o.store); err != nil {
		return nil, err
	}

	completer := o.completer
	if completer == nil {
		c, err := a.newClient()
		if err != nil {
			return nil, err
		}
		completer = c
	}
	if err := a.initController(completer); err != nil {
		return nil, err
	}
	if err := a.startMetrics(); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func (a *App) limits() validation.Config {
	v := validation.DefaultConfig()
	v.WordCeiling = a.cfg.Pipeline.WordCeiling
	v.WordFloor = a.cfg.Pipeline.WordFloor
	return v
}

func (a *App) initValidation(ctx context.Context) error {
	terms := append(validation.DefaultTerms(), a.cfg.Pipeline.ForbiddenLexicon...)
	a.lexicon = validation.NewLexicon(terms...)

	if path := a.cfg.Pipeline.LexiconFile; path != "" {
		w, err := validation.NewLexiconWatcher(path, terms, a.lexicon,
			validation.WithWatcherLogger(a.logger))
		if err != nil {
			return fmt.Errorf("lexicon file: %w", err)
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Stop()
			return fmt.Errorf("watch lexicon file: %w", err)
		}
		a.watcher = w
	}

	a.validator = validation.NewValidator(
		validation.WithConfig(a.limits()),
		validation.WithLexicon(a.lexicon),
	)
	return nil
}

func (a *App) initCorpus(ctx context.Context, store corpus.Store) error {
	if store == nil && a.cfg.Corpus.NATSURL != "" {
		kv, err := corpus.DialKVStore(ctx, a.cfg.Corpus.NATSURL, a.cfg.Corpus.Bucket)
		if err != nil {
			return fmt.Errorf("open corpus store: %w", err)
		}
		a.kv = kv
		store = kv
		a.logger.Info("Corpus backed by JetStream KV",
			"url", a.cfg.Corpus.NATSURL,
			"bucket", a.cfg.Corpus.Bucket)
	}

	a.corpus = corpus.New(store, corpus.WithLogger(a.logger))
	if err := a.corpus.Load(ctx); err != nil {
		return err
	}
	a.logger.Debug("Corpus ready", "records", a.corpus.Len())
	return nil
}

func (a *App) newClient() (*llm.Client, error) {
	registry := model.NewDefaultRegistry()
	if path := a.cfg.Model.RegistryFile; path != "" {
		r, err := model.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("model registry: %w", err)
		}
		registry = r
	}
	return llm.NewClient(registry,
		llm.WithHTTPClient(&http.Client{Timeout: a.cfg.Model.Timeout}),
		llm.WithLogger(a.logger),
		llm.WithCallObserver(a.metrics.ObserveCall),
	), nil
}

func (a *App) initController(completer llm.Completer) error {
	catalogue, err := prompts.Default()
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	engine := revision.NewEngine(completer, catalogue,
		revision.WithPolicy(revision.Policy{
			MaxAttempts: a.cfg.Revision.MaxAttempts,
			BackoffBase: a.cfg.Revision.BackoffBase,
			MaxBackoff:  a.cfg.Revision.MaxBackoff,
		}),
		revision.WithTemperature(a.cfg.Model.DraftTemperature),
		revision.WithLimits(a.limits()),
		revision.WithLogger(a.logger),
	)

	reviewers := review.DefaultReviewers(completer, catalogue,
		review.WithTemperature(a.cfg.Model.ReviewTemperature),
		review.WithReviewerLogger(a.logger),
	)
	critic := review.NewAggregator(reviewers,
		review.WithReviewerTimeout(a.cfg.Pipeline.ReviewerTimeout),
		review.WithAggregatorLogger(a.logger),
		review.WithVerdictHook(a.metrics.ObserveVerdict),
	)

	a.controller, err = pipeline.New(a.pipelineConfig(), pipeline.Deps{
		Generator: engine,
		Critic:    critic,
		Validator: a.validator,
		Guard:     novelty.NewGuard(novelty.WithThreshold(a.cfg.Pipeline.NoveltyThreshold)),
		Corpus:    a.corpus,
	},
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(a.metrics),
	)
	return err
}

func (a *App) pipelineConfig() pipeline.Config {
	p := a.cfg.Pipeline
	values := make([]vignette.Value, len(p.Values))
	for i, v := range p.Values {
		values[i] = vignette.ParseValue(v)
	}
	return pipeline.Config{
		MaxCycles:        p.MaxCycles,
		MaxRegenerations: p.MaxRegenerations,
		RegenerateAfter:  p.RegenerateAfter,
		ReviewerTimeout:  p.ReviewerTimeout,
		NoveltyThreshold: p.NoveltyThreshold,
		ForbiddenLexicon: p.ForbiddenLexicon,
		WordCeiling:      p.WordCeiling,
		WordFloor:        p.WordFloor,
		Values:           values,
	}
}

func (a *App) startMetrics() error {
	addr := a.cfg.Metrics.Listen
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metricsAddr = ln.Addr().String()

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("Serving metrics", "addr", a.metricsAddr)
	return nil
}

// Close releases every resource NewApp acquired.
func (a *App) Close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			a.logger.Warn("Failed to drain NATS connection", "error", err)
		}
	}
}
