package smsbroker

import "github.com/goliatone/go-smsbroker/core"

type Config = core.Config

type ProviderConfig = core.ProviderConfig

type Option = core.Option

type Service = core.Service

type HealthRegistry = core.HealthRegistry
type TimeoutSweeper = core.TimeoutSweeper
type CodeExtractor = core.CodeExtractor

type ProviderAdapter = core.ProviderAdapter
type WebhookCapableAdapter = core.WebhookCapableAdapter
type CreditLedger = core.CreditLedger
type Emitter = core.Emitter
type PollRegistrar = core.PollRegistrar

type CreateVerificationRequest = core.CreateVerificationRequest
type ApplyCodeInput = core.ApplyCodeInput
type VerificationView = core.VerificationView

var (
	WithLogger              = core.WithLogger
	WithLoggerProvider      = core.WithLoggerProvider
	WithMetricsRecorder     = core.WithMetricsRecorder
	WithErrorFactory        = core.WithErrorFactory
	WithErrorMapper         = core.WithErrorMapper
	WithConfigProvider      = core.WithConfigProvider
	WithOptionsResolver     = core.WithOptionsResolver
	WithPersistenceClient   = core.WithPersistenceClient
	WithRepositoryFactory   = core.WithRepositoryFactory
	WithVerificationStore   = core.WithVerificationStore
	WithReservationStore    = core.WithReservationStore
	WithProviderHealthStore = core.WithProviderHealthStore
	WithHealthRegistry      = core.WithHealthRegistry
	WithCreditLedger        = core.WithCreditLedger
	WithEmitter             = core.WithEmitter
	WithRateLimitPolicy     = core.WithRateLimitPolicy
	WithPollRegistrar       = core.WithPollRegistrar
	WithSecretProvider      = core.WithSecretProvider
	WithClock               = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func NewTimeoutSweeper(service *Service) (*TimeoutSweeper, error) {
	return core.NewTimeoutSweeper(service)
}
