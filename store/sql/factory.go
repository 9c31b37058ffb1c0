package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory wires every durable store off one bun handle so callers
// configure persistence once and pull typed stores from a single place.
type RepositoryFactory struct {
	db *bun.DB

	verificationStore    *VerificationStore
	reservationStore     *CreditReservationStore
	providerHealthStore  *ProviderHealthStore
	webhookDeliveryStore *WebhookDeliveryStore
	rateLimitStateStore  *RateLimitStateStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.verificationStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) VerificationStore() *VerificationStore {
	if f == nil {
		return nil
	}
	return f.verificationStore
}

func (f *RepositoryFactory) ReservationStore() *CreditReservationStore {
	if f == nil {
		return nil
	}
	return f.reservationStore
}

func (f *RepositoryFactory) ProviderHealthStore() *ProviderHealthStore {
	if f == nil {
		return nil
	}
	return f.providerHealthStore
}

func (f *RepositoryFactory) WebhookDeliveryStore() *WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.webhookDeliveryStore
}

func (f *RepositoryFactory) RateLimitStateStore() *RateLimitStateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

func (f *RepositoryFactory) initStores() error {
	verificationStore, err := NewVerificationStore(f.db)
	if err != nil {
		return err
	}
	f.verificationStore = verificationStore

	reservationStore, err := NewCreditReservationStore(f.db)
	if err != nil {
		return err
	}
	f.reservationStore = reservationStore

	providerHealthStore, err := NewProviderHealthStore(f.db)
	if err != nil {
		return err
	}
	f.providerHealthStore = providerHealthStore

	webhookDeliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.webhookDeliveryStore = webhookDeliveryStore

	rateLimitStateStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateLimitStateStore = rateLimitStateStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
