package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	brokercommand "github.com/goliatone/go-smsbroker/command"
	"github.com/goliatone/go-smsbroker/core"
	brokerquery "github.com/goliatone/go-smsbroker/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeCommandFunc[T any](handler command.CommandFunc[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(handler, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func SubscribeQueryFunc[T any, R any](qry command.QueryFunc[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// BrokerHandlers carries the verification command and query surface that
// SubscribeBroker places on the dispatcher. Nil fields are skipped, so a
// deployment can wire commands without the read side or vice versa.
type BrokerHandlers struct {
	CreateVerification *brokercommand.CreateVerificationCommand
	ApplySMSCode       *brokercommand.ApplySMSCodeCommand
	CancelVerification *brokercommand.CancelVerificationCommand
	SweepTimeouts      *brokercommand.SweepTimeoutsCommand

	GetVerification         *brokerquery.GetVerificationQuery
	ListActiveVerifications *brokerquery.ListActiveVerificationsQuery
	GetProviderHealth       *brokerquery.GetProviderHealthQuery
	ListProviderHealth      *brokerquery.ListProviderHealthQuery
}

// SubscribeBroker registers every supplied verification handler on the
// registry and the dispatcher in one pass. A failure part way through unwinds
// the subscriptions already taken, so the bus never carries a partial surface.
func SubscribeBroker(
	adapter *RegistryAdapter,
	handlers BrokerHandlers,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}

	var subscriptions []commanddispatcher.Subscription
	keep := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			for _, taken := range subscriptions {
				taken.Unsubscribe()
			}
			return err
		}
		subscriptions = append(subscriptions, subscription)
		return nil
	}

	if handlers.CreateVerification != nil {
		if err := keep(RegisterAndSubscribe[brokercommand.CreateVerificationMessage](
			adapter, handlers.CreateVerification, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.ApplySMSCode != nil {
		if err := keep(RegisterAndSubscribe[brokercommand.ApplySMSCodeMessage](
			adapter, handlers.ApplySMSCode, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.CancelVerification != nil {
		if err := keep(RegisterAndSubscribe[brokercommand.CancelVerificationMessage](
			adapter, handlers.CancelVerification, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.SweepTimeouts != nil {
		if err := keep(RegisterAndSubscribe[brokercommand.SweepTimeoutsMessage](
			adapter, handlers.SweepTimeouts, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.GetVerification != nil {
		if err := keep(RegisterAndSubscribeQuery[brokerquery.GetVerificationMessage, core.VerificationView](
			adapter, handlers.GetVerification, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.ListActiveVerifications != nil {
		if err := keep(RegisterAndSubscribeQuery[brokerquery.ListActiveVerificationsMessage, []core.Verification](
			adapter, handlers.ListActiveVerifications, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.GetProviderHealth != nil {
		if err := keep(RegisterAndSubscribeQuery[brokerquery.GetProviderHealthMessage, core.ProviderHealth](
			adapter, handlers.GetProviderHealth, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if handlers.ListProviderHealth != nil {
		if err := keep(RegisterAndSubscribeQuery[brokerquery.ListProviderHealthMessage, []core.ProviderHealth](
			adapter, handlers.ListProviderHealth, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if len(subscriptions) == 0 {
		return nil, fmt.Errorf("gocommand: at least one broker handler is required")
	}
	return subscriptions, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
