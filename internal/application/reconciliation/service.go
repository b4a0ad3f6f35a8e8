package reconciliation

import (
	"context"
	"fmt"
	"sync"

	"github.com/erp/stockrecon/internal/domain/reconciliation"
	"github.com/erp/stockrecon/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service keeps one lazily built reconciliation snapshot per cache generation.
//
// Collections are fetched on first use and replaced by change notifications.
// Any change discards the cache; nothing is recomputed until the next query.
type Service struct {
	source    reconciliation.Source
	engine    *reconciliation.FormulaEngine
	cache     *reconciliation.Cache
	publisher shared.EventPublisher
	logger    *zap.Logger
	engineID  uuid.UUID

	mu           sync.Mutex
	collections  map[reconciliation.Collection][]reconciliation.Record
	calc         *reconciliation.Calculator
	unsubscribes []reconciliation.Unsubscribe
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithEventPublisher sets the publisher for reconciliation events
func WithEventPublisher(publisher shared.EventPublisher) ServiceOption {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// WithLogger sets the service logger
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a reconciliation service reading from source
func NewService(source reconciliation.Source, engine *reconciliation.FormulaEngine, opts ...ServiceOption) *Service {
	s := &Service{
		source:      source,
		engine:      engine,
		cache:       reconciliation.NewCache(),
		logger:      zap.NewNop(),
		engineID:    uuid.New(),
		collections: make(map[reconciliation.Collection][]reconciliation.Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EngineID identifies this service instance in published events
func (s *Service) EngineID() uuid.UUID {
	return s.engineID
}

// Start subscribes to change notifications of every collection
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.unsubscribes) > 0 {
		return nil
	}
	for _, c := range reconciliation.AllCollections() {
		unsubscribe := s.source.Subscribe(c, func(collection reconciliation.Collection, records []reconciliation.Record) {
			s.handleChange(context.Background(), collection, records)
		})
		s.unsubscribes = append(s.unsubscribes, unsubscribe)
	}
	s.logger.Info("reconciliation service started",
		zap.String("engine_id", s.engineID.String()),
		zap.Int("collections", len(s.unsubscribes)),
	)
	return nil
}

// Stop cancels every subscription
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsubscribes := s.unsubscribes
	s.unsubscribes = nil
	s.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
	s.logger.Info("reconciliation service stopped")
	return nil
}

func (s *Service) handleChange(ctx context.Context, collection reconciliation.Collection, records []reconciliation.Record) {
	s.mu.Lock()
	s.collections[collection] = records
	s.mu.Unlock()

	s.publish(ctx, reconciliation.NewCollectionChangedEvent(s.engineID, collection, len(records)))
	s.invalidate(ctx, reconciliation.ReasonCollectionChanged, false, collection)
}

// Invalidate discards every cached figure and every loaded collection.
// Collections are fetched again on the next query.
func (s *Service) Invalidate(ctx context.Context, reason string) uint64 {
	return s.invalidate(ctx, reason, true)
}

func (s *Service) invalidate(ctx context.Context, reason string, reload bool, collections ...reconciliation.Collection) uint64 {
	s.mu.Lock()
	if reload {
		s.collections = make(map[reconciliation.Collection][]reconciliation.Record)
	}
	s.calc = nil
	gen := s.cache.Invalidate()
	s.mu.Unlock()

	s.logger.Debug("reconciliation cache invalidated",
		zap.String("reason", reason),
		zap.Uint64("generation", gen),
		zap.Int("collections", len(collections)),
	)
	s.publish(ctx, reconciliation.NewReconciliationRecomputedEvent(s.engineID, gen, reason, collections...))
	return gen
}

func (s *Service) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, events...); err != nil {
		s.logger.Warn("failed to publish reconciliation event", zap.Error(err))
	}
}

// calculator returns the calculator of the current generation, loading
// missing collections from the source first.
func (s *Service) calculator(ctx context.Context) (*reconciliation.Calculator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.calc != nil && !s.calc.Stale() {
		return s.calc, nil
	}

	fetched := 0
	for _, c := range reconciliation.AllCollections() {
		if _, ok := s.collections[c]; ok {
			continue
		}
		records, err := s.source.Fetch(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch collection %s: %w", c, err)
		}
		s.collections[c] = records
		fetched++
	}

	snapshot := reconciliation.NewSnapshot(s.collections)
	s.calc = reconciliation.NewCalculator(s.engine, snapshot, s.cache)

	fields := make([]zap.Field, 0, len(s.collections)+2)
	fields = append(fields, zap.Uint64("generation", s.calc.Generation()), zap.Int("fetched", fetched))
	for c, n := range snapshot.Counts() {
		fields = append(fields, zap.Int(c.String(), n))
	}
	s.logger.Debug("reconciliation snapshot loaded", fields...)
	return s.calc, nil
}

// DerivedQuantities returns the stage quantities of one item
func (s *Service) DerivedQuantities(ctx context.Context, item reconciliation.ItemRef) (*ItemQuantitiesResponse, error) {
	if item.IsZero() {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, "item code or name is required")
	}
	calc, err := s.calculator(ctx)
	if err != nil {
		return nil, err
	}
	d := calc.DerivedQuantities(item)
	if !d.Matched {
		s.logger.Debug("item not referenced by any supply collection",
			zap.String("item_code", item.Code),
			zap.String("item_name", item.Name),
		)
	}
	return ToItemQuantitiesResponse(d, calc.Generation()), nil
}

// StoredBatches decodes the request collection into batches
func (s *Service) StoredBatches(ctx context.Context) ([]reconciliation.RequestBatch, error) {
	calc, err := s.calculator(ctx)
	if err != nil {
		return nil, err
	}
	return reconciliation.DecodeRequestBatches(
		calc.Snapshot().Records(reconciliation.CollectionRequests),
		s.engine.Profile(),
	), nil
}

// Allocate runs the sequential allocator. A nil batch list allocates the
// stored requests.
func (s *Service) Allocate(ctx context.Context, batches []reconciliation.RequestBatch) (*AllocationReport, error) {
	calc, err := s.calculator(ctx)
	if err != nil {
		return nil, err
	}
	return s.allocate(calc, batches), nil
}

func (s *Service) allocate(calc *reconciliation.Calculator, batches []reconciliation.RequestBatch) *AllocationReport {
	stored := batches == nil
	if stored {
		batches = reconciliation.DecodeRequestBatches(
			calc.Snapshot().Records(reconciliation.CollectionRequests),
			s.engine.Profile(),
		)
	}

	for _, b := range batches {
		if !reconciliation.ParseSerial(b.Ref).Valid() {
			s.logger.Debug("request reference carries no serial, ordered last",
				zap.String("batch_ref", b.Ref))
		}
	}
	var results []reconciliation.AllocationResult
	if stored {
		results = calc.AllocateStored(batches)
	} else {
		results = calc.Allocate(batches)
	}

	report := &AllocationReport{
		Generation:    calc.Generation(),
		Results:       results,
		Summary:       reconciliation.Summarize(results),
		StatusChanges: reconciliation.StatusChanges(results),
	}
	s.logger.Debug("allocation computed",
		zap.Uint64("generation", report.Generation),
		zap.Bool("stored", stored),
		zap.Int("batches", len(batches)),
		zap.Int("lines", len(results)),
		zap.Int("status_changes", len(report.StatusChanges)),
	)
	return report
}

// AllocationLine returns the allocation of one stored request line. Lines are
// served from the cache; a miss allocates the stored requests once.
func (s *Service) AllocationLine(ctx context.Context, batchRef string, item reconciliation.ItemRef, lineRef string) (*AllocationLineResponse, error) {
	if batchRef == "" || lineRef == "" || item.IsZero() {
		return nil, shared.NewDomainError(shared.ErrInvalidInput.Code, "batch, line and item code or name are required")
	}
	calc, err := s.calculator(ctx)
	if err != nil {
		return nil, err
	}
	if r, ok := calc.Line(batchRef, item, lineRef); ok {
		return &AllocationLineResponse{Generation: calc.Generation(), AllocationResult: r}, nil
	}

	key := reconciliation.NewLineKey(batchRef, item, lineRef)
	for _, r := range s.allocate(calc, nil).Results {
		if r.Key() == key {
			return &AllocationLineResponse{Generation: calc.Generation(), AllocationResult: r}, nil
		}
	}
	return nil, shared.NewDomainError(shared.ErrNotFound.Code,
		fmt.Sprintf("no allocation for line %s of %s", lineRef, batchRef))
}

// Export returns the allocation of the stored requests together with the
// stage quantities of every allocated item, both taken from one snapshot.
func (s *Service) Export(ctx context.Context) (*AllocationExport, error) {
	calc, err := s.calculator(ctx)
	if err != nil {
		return nil, err
	}
	report := s.allocate(calc, nil)
	quantities := make([]reconciliation.DerivedQuantities, 0, len(report.Summary))
	for _, sum := range report.Summary {
		quantities = append(quantities, calc.DerivedQuantities(sum.Item))
	}
	return &AllocationExport{AllocationReport: report, Quantities: quantities}, nil
}

// StatusChanges lists the closed-flag updates the stored requests need
func (s *Service) StatusChanges(ctx context.Context) ([]reconciliation.StatusChange, error) {
	report, err := s.Allocate(ctx, nil)
	if err != nil {
		return nil, err
	}
	return report.StatusChanges, nil
}

// Stats returns the cache statistics
func (s *Service) Stats() reconciliation.CacheStats {
	return s.cache.Stats()
}
