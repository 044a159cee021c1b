package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"yarn-agent/dao"
	"yarn-agent/internal/aiclient"
	"yarn-agent/internal/classifier"
	"yarn-agent/internal/config"
	"yarn-agent/internal/observability"
	"yarn-agent/internal/session"
	"yarn-agent/model"
	"yarn-agent/service"
)

const redisPingTimeout = 3 * time.Second

// app holds everything a command needs, built once from the config.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	intent    *classifier.Tier
	sentiment *classifier.Tier
	risk      *classifier.Tier

	store   *session.Store
	sink    *service.AsyncSink
	replies *service.TemplateSelector
	router  *service.Router
	// events is set only when events are kept in Redis.
	events *dao.RedisEventSink

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.New(a.registry)

	if cfg.Trace.SampleRatio > 0 {
		a.closers = append(a.closers, observability.InitTracing(logger, cfg.Trace.SampleRatio))
	}

	if err := a.buildTiers(metrics); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	var (
		repo   session.Repository
		events service.EventStore
	)
	if cfg.Redis.Enabled {
		client := dao.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		redisStore := dao.NewRedisStore(client, cfg.Redis.TTL)
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := redisStore.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = redisStore.Close()
			_ = a.Close(ctx)
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, func(context.Context) error { return redisStore.Close() })
		a.events = dao.NewRedisEventSink(client, cfg.Redis.EventsMaxLen)
		repo, events = redisStore, a.events
		logger.Info("[Wire] sessions persisted in redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		repo, events = session.NewMemoryRepository(), service.LogStore{Logger: logger}
		logger.Info("[Wire] sessions kept in memory")
	}

	a.store = session.NewStore(session.Config{
		TTL:             cfg.Session.TTL,
		CleanupInterval: cfg.Session.CleanupInterval,
		Shards:          cfg.Session.Shards,
	}, repo, logger)
	observability.RegisterSessionGauge(a.registry, a.store.Len)

	a.sink = service.NewAsyncSink(events, cfg.Events.Buffer, logger, metrics)

	var err error
	a.replies, err = service.NewTemplateSelector(nil)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	deps := service.Deps{
		Risk:      service.NewRiskCheck(a.risk, logger),
		Intent:    a.intent,
		Sentiment: a.sentiment,
		Store:     a.store,
		Repo:      repo,
		Policy:    service.NewFallbackPolicy(cfg.Policy.MaxAttempts),
		Replies:   a.replies,
		Events:    a.sink,
		Logger:    logger,
		Metrics:   metrics,
	}
	if cfg.LLM.Enabled && cfg.LLM.Conversation {
		deps.Conversationalist = aiclient.NewChatConversationalist(a.openAI(), cfg.LLM.Model, 0)
	}
	a.router, err = service.NewRouter(deps)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) llmConfig() aiclient.LLMConfig {
	return aiclient.LLMConfig{
		Provider:          a.cfg.LLM.Provider,
		BaseURL:           a.cfg.LLM.BaseURL,
		APIKey:            a.cfg.LLM.APIKey,
		Model:             a.cfg.LLM.Model,
		MaxTokens:         a.cfg.LLM.MaxTokens,
		DefaultConfidence: a.cfg.LLM.DefaultConfidence,
	}
}

func (a *app) openAI() *openai.Client {
	return aiclient.NewOpenAIClient(a.llmConfig())
}

// buildTiers assembles the three tiers from the enabled backends, in the
// member order the config gives.
func (a *app) buildTiers(rec classifier.Recorder) error {
	intentRules, err := classifier.NewIntentRules(nil)
	if err != nil {
		return fmt.Errorf("load intent rules: %w", err)
	}
	riskRules, err := classifier.NewRiskRules(nil)
	if err != nil {
		return fmt.Errorf("load risk rules: %w", err)
	}

	intent := map[string]classifier.Backend{"rules": intentRules}
	sentiment := map[string]classifier.Backend{"rules": classifier.NewSentimentRules()}
	risk := map[string]classifier.Backend{"rules": riskRules}

	if a.cfg.Model.Enabled {
		client := aiclient.NewClient(a.cfg.Model.BaseURL, a.cfg.Model.Timeout)
		intent["model"] = aiclient.NewModelBackend(client, aiclient.IntentTask)
		sentiment["model"] = aiclient.NewModelBackend(client, aiclient.SentimentTask)
		risk["model"] = aiclient.NewModelBackend(client, aiclient.RiskTask)
	}
	if a.cfg.LLM.Enabled {
		api, cfg := a.openAI(), a.llmConfig()
		intent["llm"] = aiclient.NewLLMBackend(api, cfg, aiclient.IntentTask, a.logger)
		sentiment["llm"] = aiclient.NewLLMBackend(api, cfg, aiclient.SentimentTask, a.logger)
		risk["llm"] = aiclient.NewLLMBackend(api, cfg, aiclient.RiskTask, a.logger)
	}

	opts := []classifier.TierOption{classifier.WithLogger(a.logger), classifier.WithRecorder(rec)}
	tiers := a.cfg.Tiers
	a.intent = a.tier("intent", tiers.Intent, model.LabelUnclear, a.cfg.Booster(), intent, opts)
	a.sentiment = a.tier("sentiment", tiers.Sentiment, model.LabelNeutral, nil, sentiment, opts)
	a.risk = a.tier("risk", tiers.Risk, model.LabelNoRisk, nil, risk, opts)
	return nil
}

func (a *app) tier(name string, tc config.TierConfig, def model.Label, booster *classifier.Booster,
	available map[string]classifier.Backend, opts []classifier.TierOption) *classifier.Tier {
	members := make([]classifier.Backend, 0, len(tc.Members))
	for _, m := range tc.Members {
		b, ok := available[m]
		if !ok {
			a.logger.Info("[Wire] tier member disabled", zap.String("tier", name), zap.String("member", m))
			continue
		}
		members = append(members, b)
	}
	return classifier.NewTier(classifier.TierConfig{
		Name:          name,
		DefaultLabel:  def,
		Threshold:     tc.Threshold,
		Margin:        tc.Margin,
		MemberTimeout: tc.MemberTimeout,
		Booster:       booster,
	}, members, opts...)
}

// Close stops the background workers, then releases connections.
func (a *app) Close(ctx context.Context) error {
	if a.store != nil {
		a.store.Stop()
	}
	if a.sink != nil {
		a.sink.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
