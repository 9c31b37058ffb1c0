package query

import (
	"context"

	"github.com/goliatone/go-smsbroker/core"
)

type VerificationReader interface {
	Get(ctx context.Context, verificationID string) (core.VerificationView, error)
}

type VerificationLister interface {
	ListByStatus(ctx context.Context, status core.VerificationStatus) ([]core.Verification, error)
}

type ProviderHealthReader interface {
	Snapshot(providerID string) (core.ProviderHealth, bool)
	Snapshots() []core.ProviderHealth
}

type GetVerificationQuery struct {
	reader VerificationReader
}

func NewGetVerificationQuery(reader VerificationReader) *GetVerificationQuery {
	return &GetVerificationQuery{reader: reader}
}

func (q *GetVerificationQuery) Query(ctx context.Context, msg GetVerificationMessage) (core.VerificationView, error) {
	if q == nil || q.reader == nil {
		return core.VerificationView{}, queryDependencyError("query: verification reader is required")
	}
	return q.reader.Get(ctx, msg.VerificationID)
}

type ListActiveVerificationsQuery struct {
	lister VerificationLister
}

func NewListActiveVerificationsQuery(lister VerificationLister) *ListActiveVerificationsQuery {
	return &ListActiveVerificationsQuery{lister: lister}
}

func (q *ListActiveVerificationsQuery) Query(
	ctx context.Context,
	msg ListActiveVerificationsMessage,
) ([]core.Verification, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: verification lister is required")
	}
	return q.lister.ListByStatus(ctx, msg.Status)
}

type GetProviderHealthQuery struct {
	reader ProviderHealthReader
}

func NewGetProviderHealthQuery(reader ProviderHealthReader) *GetProviderHealthQuery {
	return &GetProviderHealthQuery{reader: reader}
}

func (q *GetProviderHealthQuery) Query(
	ctx context.Context,
	msg GetProviderHealthMessage,
) (core.ProviderHealth, error) {
	if q == nil || q.reader == nil {
		return core.ProviderHealth{}, queryDependencyError("query: provider health reader is required")
	}
	health, ok := q.reader.Snapshot(msg.ProviderID)
	if !ok {
		return core.ProviderHealth{}, queryNotFoundError("query: provider health not found")
	}
	return health, nil
}

type ListProviderHealthQuery struct {
	reader ProviderHealthReader
}

func NewListProviderHealthQuery(reader ProviderHealthReader) *ListProviderHealthQuery {
	return &ListProviderHealthQuery{reader: reader}
}

func (q *ListProviderHealthQuery) Query(
	ctx context.Context,
	_ ListProviderHealthMessage,
) ([]core.ProviderHealth, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: provider health reader is required")
	}
	return q.reader.Snapshots(), nil
}
