package smsbroker

import (
	"fmt"

	brokercommand "github.com/goliatone/go-smsbroker/command"
	"github.com/goliatone/go-smsbroker/core"
	brokerquery "github.com/goliatone/go-smsbroker/query"
)

// CommandQueryService is the mutating surface the facade builds on: the
// lifecycle manager plus the read accessors queries need.
type CommandQueryService interface {
	brokercommand.MutatingService
	brokerquery.VerificationReader
}

type Commands struct {
	CreateVerification *brokercommand.CreateVerificationCommand
	ApplySMSCode       *brokercommand.ApplySMSCodeCommand
	CancelVerification *brokercommand.CancelVerificationCommand
	SweepTimeouts      *brokercommand.SweepTimeoutsCommand
}

type Queries struct {
	GetVerification         *brokerquery.GetVerificationQuery
	ListActiveVerifications *brokerquery.ListActiveVerificationsQuery
	GetProviderHealth       *brokerquery.GetProviderHealthQuery
	ListProviderHealth      *brokerquery.ListProviderHealthQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	sweeper      brokercommand.TimeoutSweepingService
	healthReader brokerquery.ProviderHealthReader
	lister       brokerquery.VerificationLister
}

func WithTimeoutSweeper(sweeper brokercommand.TimeoutSweepingService) FacadeOption {
	return func(options *facadeOptions) {
		options.sweeper = sweeper
	}
}

func WithProviderHealthReader(reader brokerquery.ProviderHealthReader) FacadeOption {
	return func(options *facadeOptions) {
		options.healthReader = reader
	}
}

func WithVerificationLister(lister brokerquery.VerificationLister) FacadeOption {
	return func(options *facadeOptions) {
		options.lister = lister
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("smsbroker: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	if cfg.sweeper == nil {
		cfg.sweeper = resolveSweeper(service)
	}
	if cfg.healthReader == nil {
		cfg.healthReader = resolveHealthReader(service)
	}
	if cfg.lister == nil {
		cfg.lister = resolveVerificationLister(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateVerification: brokercommand.NewCreateVerificationCommand(service),
		ApplySMSCode:       brokercommand.NewApplySMSCodeCommand(service),
		CancelVerification: brokercommand.NewCancelVerificationCommand(service),
		SweepTimeouts:      brokercommand.NewSweepTimeoutsCommand(cfg.sweeper),
	}
	facade.queries = Queries{
		GetVerification:         brokerquery.NewGetVerificationQuery(service),
		ListActiveVerifications: brokerquery.NewListActiveVerificationsQuery(cfg.lister),
		GetProviderHealth:       brokerquery.NewGetProviderHealthQuery(cfg.healthReader),
		ListProviderHealth:      brokerquery.NewListProviderHealthQuery(cfg.healthReader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveSweeper builds a timeout sweeper when the facade is handed the
// concrete lifecycle service; callers with a custom service supply their own.
func resolveSweeper(service CommandQueryService) brokercommand.TimeoutSweepingService {
	concrete, ok := service.(*core.Service)
	if !ok {
		return nil
	}
	sweeper, err := core.NewTimeoutSweeper(concrete)
	if err != nil {
		return nil
	}
	return sweeper
}

func resolveHealthReader(service CommandQueryService) brokerquery.ProviderHealthReader {
	if reader, ok := service.(brokerquery.ProviderHealthReader); ok {
		return reader
	}
	provider, ok := service.(interface{ Registry() *core.HealthRegistry })
	if !ok {
		return nil
	}
	registry := provider.Registry()
	if registry == nil {
		return nil
	}
	return registry
}

func resolveVerificationLister(service CommandQueryService) brokerquery.VerificationLister {
	if lister, ok := service.(brokerquery.VerificationLister); ok {
		return lister
	}
	provider, ok := service.(interface{ Store() core.VerificationStore })
	if !ok {
		return nil
	}
	store := provider.Store()
	if store == nil {
		return nil
	}
	return store
}
