package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockSource is a mock implementation of reconciliation.Source
type mockSource struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[reconciliation.Collection]reconciliation.ChangeHandler
}

func newMockSource() *mockSource {
	return &mockSource{handlers: make(map[reconciliation.Collection]reconciliation.ChangeHandler)}
}

func (m *mockSource) Fetch(ctx context.Context, collection reconciliation.Collection) ([]reconciliation.Record, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]reconciliation.Record), args.Error(1)
}

func (m *mockSource) Subscribe(collection reconciliation.Collection, onChange reconciliation.ChangeHandler) reconciliation.Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[collection] = onChange
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, collection)
	}
}

func (m *mockSource) emit(collection reconciliation.Collection, records []reconciliation.Record) {
	m.mu.Lock()
	h := m.handlers[collection]
	m.mu.Unlock()
	if h != nil {
		h(collection, records)
	}
}

func (m *mockSource) subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// expectCollections answers every Fetch from data, empty for missing collections
func (m *mockSource) expectCollections(data map[reconciliation.Collection][]reconciliation.Record) {
	for _, c := range reconciliation.AllCollections() {
		records := data[c]
		if records == nil {
			records = []reconciliation.Record{}
		}
		m.On("Fetch", mock.Anything, c).Return(records, nil)
	}
}

// capturePublisher records published events
type capturePublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *capturePublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *capturePublisher) recomputed() []*reconciliation.ReconciliationRecomputedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*reconciliation.ReconciliationRecomputedEvent
	for _, e := range p.events {
		if r, ok := e.(*reconciliation.ReconciliationRecomputedEvent); ok {
			out = append(out, r)
		}
	}
	return out
}

func boltStock(opening int) map[reconciliation.Collection][]reconciliation.Record {
	return map[reconciliation.Collection][]reconciliation.Record{
		reconciliation.CollectionStockSnapshots: {
			{"itemCode": "BOLT-1", "openingQty": opening},
		},
		reconciliation.CollectionRequests: {
			{"indentNo": "IND-2", "items": []any{
				map[string]any{"itemCode": "BOLT-1", "requestedQty": 30, "closed": true},
			}},
			{"indentNo": "IND-1", "items": []any{
				map[string]any{"itemCode": "BOLT-1", "requestedQty": 30},
			}},
		},
	}
}

func newTestService(t *testing.T, source reconciliation.Source, opts ...ServiceOption) *Service {
	t.Helper()
	engine, err := reconciliation.NewFormulaEngine(reconciliation.DefaultProfile())
	require.NoError(t, err)
	opts = append([]ServiceOption{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewService(source, engine, opts...)
}

func assertDecimal(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromInt(want).Equal(got), "want %d, got %s", want, got)
}

func TestService_DerivedQuantities(t *testing.T) {
	source := newMockSource()
	source.expectCollections(boltStock(50))
	svc := newTestService(t, source)

	resp, err := svc.DerivedQuantities(context.Background(), reconciliation.ItemRef{Code: "bolt 1"})
	require.NoError(t, err)
	assert.True(t, resp.Matched)
	assertDecimal(t, 50, resp.ClosingStock)
	assert.Equal(t, svc.Stats().Generation, resp.Generation)

	_, err = svc.DerivedQuantities(context.Background(), reconciliation.ItemRef{Code: "BOLT-1"})
	require.NoError(t, err)

	source.AssertNumberOfCalls(t, "Fetch", len(reconciliation.AllCollections()))
	assert.Equal(t, int64(1), svc.Stats().Hits)
}

func TestService_DerivedQuantitiesRequiresItem(t *testing.T) {
	svc := newTestService(t, newMockSource())

	_, err := svc.DerivedQuantities(context.Background(), reconciliation.ItemRef{})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestService_FetchError(t *testing.T) {
	source := newMockSource()
	source.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("store offline"))
	svc := newTestService(t, source)

	_, err := svc.Allocate(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store offline")
}

func TestService_AllocateStoredRequests(t *testing.T) {
	source := newMockSource()
	source.expectCollections(boltStock(50))
	svc := newTestService(t, source)

	report, err := svc.Allocate(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	assert.Equal(t, "IND-1", report.Results[0].BatchRef)
	assertDecimal(t, 30, report.Results[0].AllocatedAmount)
	assert.True(t, report.Results[0].IsClosed)
	assert.Equal(t, "IND-2", report.Results[1].BatchRef)
	assertDecimal(t, 20, report.Results[1].AllocatedAmount)
	assert.False(t, report.Results[1].IsClosed)

	require.Len(t, report.StatusChanges, 2)
	require.Len(t, report.Summary, 1)
}

func TestService_AllocateSuppliedBatches(t *testing.T) {
	source := newMockSource()
	source.expectCollections(boltStock(50))
	svc := newTestService(t, source)

	report, err := svc.Allocate(context.Background(), []reconciliation.RequestBatch{{
		Ref: "REQ-9",
		Lines: []reconciliation.RequestLine{{
			LineRef:      "1",
			Item:         reconciliation.ItemRef{Code: "BOLT-1"},
			RequestedQty: decimal.NewFromInt(80),
		}},
	}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assertDecimal(t, 50, report.Results[0].AllocatedAmount)
	assert.False(t, report.Results[0].IsClosed)
}

func TestService_StoredBatchesAndStatusChanges(t *testing.T) {
	source := newMockSource()
	source.expectCollections(boltStock(50))
	svc := newTestService(t, source)
	ctx := context.Background()

	batches, err := svc.StoredBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "IND-2", batches[0].Ref)

	changes, err := svc.StatusChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	byRef := map[string]reconciliation.StatusChange{}
	for _, c := range changes {
		byRef[c.BatchRef] = c
	}
	assert.False(t, byRef["IND-1"].From)
	assert.True(t, byRef["IND-1"].To)
	assert.True(t, byRef["IND-2"].From)
	assert.False(t, byRef["IND-2"].To)
}

func TestService_Export(t *testing.T) {
	source := newMockSource()
	source.expectCollections(boltStock(50))
	svc := newTestService(t, source)

	got, err := svc.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, svc.Stats().Generation, got.Generation)
	require.Len(t, got.Results, 2)
	require.Len(t, got.Quantities, 1)
	assert.True(t, got.Quantities[0].Matched)
	assertDecimal(t, 50, got.Quantities[0].ClosingStock)
	assertDecimal(t, 50, got.Results[0].TotalSupply)
	assert.Equal(t, 2, svc.Stats().Lines)
}

func TestService_AllocationLine(t *testing.T) {
	source := newMockSource()
	source.expectCollections(boltStock(50))
	svc := newTestService(t, source)
	ctx := context.Background()
	item := reconciliation.ItemRef{Code: "BOLT-1"}

	t.Run("a miss allocates the stored requests once", func(t *testing.T) {
		got, err := svc.AllocationLine(ctx, "IND-2", item, "1")
		require.NoError(t, err)
		assertDecimal(t, 20, got.AllocatedAmount)
		assert.Equal(t, reconciliation.LineOpen, got.Status)
		assert.Equal(t, 2, svc.Stats().Lines)
	})

	t.Run("later lookups are served from the cache", func(t *testing.T) {
		hits := svc.Stats().Hits
		got, err := svc.AllocationLine(ctx, "IND-1", reconciliation.ItemRef{Code: "bolt-1"}, "1")
		require.NoError(t, err)
		assertDecimal(t, 30, got.AllocatedAmount)
		assert.Greater(t, svc.Stats().Hits, hits)
	})

	t.Run("unknown line", func(t *testing.T) {
		_, err := svc.AllocationLine(ctx, "IND-9", item, "1")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("missing refs", func(t *testing.T) {
		_, err := svc.AllocationLine(ctx, "", item, "1")
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("caller batches are not memoized", func(t *testing.T) {
		svc.Invalidate(ctx, reconciliation.ReasonManual)
		_, err := svc.Allocate(ctx, []reconciliation.RequestBatch{{
			Ref:   "TMP-1",
			Lines: []reconciliation.RequestLine{{LineRef: "1", Item: item, RequestedQty: decimal.NewFromInt(5)}},
		}})
		require.NoError(t, err)
		assert.Zero(t, svc.Stats().Lines)
	})
}

func TestService_ChangeReplacesCollection(t *testing.T) {
	source := newMockSource()
	source.expectCollections(boltStock(50))
	publisher := &capturePublisher{}
	svc := newTestService(t, source, WithEventPublisher(publisher))
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	assert.Equal(t, len(reconciliation.AllCollections()), source.subscriptions())

	before, err := svc.DerivedQuantities(ctx, reconciliation.ItemRef{Code: "BOLT-1"})
	require.NoError(t, err)
	assertDecimal(t, 50, before.ClosingStock)

	source.emit(reconciliation.CollectionStockSnapshots, []reconciliation.Record{
		{"itemCode": "BOLT-1", "openingQty": 75},
	})

	after, err := svc.DerivedQuantities(ctx, reconciliation.ItemRef{Code: "BOLT-1"})
	require.NoError(t, err)
	assertDecimal(t, 75, after.ClosingStock)
	assert.Greater(t, after.Generation, before.Generation)

	// the changed collection is not fetched again
	source.AssertNumberOfCalls(t, "Fetch", len(reconciliation.AllCollections()))

	events := publisher.recomputed()
	require.Len(t, events, 1)
	assert.Equal(t, reconciliation.ReasonCollectionChanged, events[0].Reason)
	assert.Equal(t, svc.EngineID(), events[0].AggregateID())

	require.NoError(t, svc.Stop(ctx))
	assert.Zero(t, source.subscriptions())
}

func TestService_InvalidateReloadsEverything(t *testing.T) {
	source := newMockSource()
	source.expectCollections(boltStock(50))
	publisher := &capturePublisher{}
	svc := newTestService(t, source, WithEventPublisher(publisher))
	ctx := context.Background()

	_, err := svc.Allocate(ctx, nil)
	require.NoError(t, err)

	gen := svc.Invalidate(ctx, reconciliation.ReasonRemote)
	assert.Equal(t, gen, svc.Stats().Generation)

	_, err = svc.Allocate(ctx, nil)
	require.NoError(t, err)
	source.AssertNumberOfCalls(t, "Fetch", 2*len(reconciliation.AllCollections()))

	events := publisher.recomputed()
	require.Len(t, events, 1)
	assert.Equal(t, reconciliation.ReasonRemote, events[0].Reason)
	assert.Empty(t, events[0].Collections)
}
