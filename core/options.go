package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	persistenceClient any
	repositoryFactory any
	store             VerificationStore
	reservationStore  ReservationStore
	healthStore       ProviderHealthStore
	registry          *HealthRegistry
	ledger            CreditLedger
	emitter           Emitter
	rateLimitPolicy   RateLimitPolicy
	pollRegistrar     PollRegistrar
	secretProvider    SecretProvider
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithVerificationStore(store VerificationStore) Option {
	return func(b *serviceBuilder) {
		b.store = store
	}
}

func WithReservationStore(store ReservationStore) Option {
	return func(b *serviceBuilder) {
		b.reservationStore = store
	}
}

func WithProviderHealthStore(store ProviderHealthStore) Option {
	return func(b *serviceBuilder) {
		b.healthStore = store
	}
}

func WithHealthRegistry(registry *HealthRegistry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithCreditLedger(ledger CreditLedger) Option {
	return func(b *serviceBuilder) {
		b.ledger = ledger
	}
}

func WithEmitter(emitter Emitter) Option {
	return func(b *serviceBuilder) {
		b.emitter = emitter
	}
}

func WithRateLimitPolicy(policy RateLimitPolicy) Option {
	return func(b *serviceBuilder) {
		b.rateLimitPolicy = policy
	}
}

func WithPollRegistrar(registrar PollRegistrar) Option {
	return func(b *serviceBuilder) {
		b.pollRegistrar = registrar
	}
}

func WithSecretProvider(provider SecretProvider) Option {
	return func(b *serviceBuilder) {
		b.secretProvider = provider
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("smsbroker", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return brokerErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || cfg.VerificationTTL > 0 {
		layer["verification_ttl"] = cfg.VerificationTTL
	}
	if includeZero || cfg.SweepInterval > 0 {
		layer["sweep_interval"] = cfg.SweepInterval
	}
	if includeZero || cfg.NoDeliveryFee > 0 {
		layer["no_delivery_fee"] = cfg.NoDeliveryFee
	}
	if includeZero || cfg.WebhookRetention > 0 {
		layer["webhook_retention"] = cfg.WebhookRetention
	}
	if includeZero || cfg.Polling != (PollingConfig{}) {
		layer["polling"] = map[string]any{
			"initial_interval": cfg.Polling.InitialInterval,
			"multiplier":       cfg.Polling.Multiplier,
			"max_interval":     cfg.Polling.MaxInterval,
			"workers":          cfg.Polling.Workers,
		}
	}
	if includeZero || cfg.Circuit != (CircuitConfig{}) {
		layer["circuit"] = map[string]any{
			"failure_threshold": cfg.Circuit.FailureThreshold,
			"window":            cfg.Circuit.Window,
			"cooldown":          cfg.Circuit.Cooldown,
		}
	}
	if includeZero || cfg.Selection != (SelectionConfig{}) {
		layer["selection"] = map[string]any{
			"success_weight":       cfg.Selection.SuccessWeight,
			"cost_weight":          cfg.Selection.CostWeight,
			"max_acquire_attempts": cfg.Selection.MaxAcquireAttempts,
		}
	}
	if len(cfg.Providers) > 0 {
		providers := map[string]any{}
		for id, provider := range cfg.Providers {
			providers[id] = map[string]any{
				"enabled":          provider.Enabled,
				"api_key":          provider.APIKey,
				"base_url":         provider.BaseURL,
				"webhook_enabled":  provider.WebhookEnabled,
				"webhook_secret":   provider.WebhookSecret,
				"cost_estimate":    provider.CostEstimate,
				"cancellation_fee": provider.CancellationFee,
				"call_timeout":     provider.CallTimeout,
				"rate_limit_rps":   provider.RateLimitRPS,
				"rate_limit_burst": provider.RateLimitBurst,
			}
		}
		layer["providers"] = providers
	}
	return layer
}
