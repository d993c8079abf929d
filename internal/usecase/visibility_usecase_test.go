package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lumora-tech/visibility-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// --- фейки для интерфейсов движка ---

type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...any)            {}
func (noopLogger) Infof(format string, args ...any)             {}
func (noopLogger) Warnf(format string, args ...any)             {}
func (noopLogger) Errorf(err error, format string, args ...any) {}

// fakeTx — пустая транзакция для transaction.NewTransaction в тестах;
// фейковые репозитории применяют записи сразу.
type fakeTx struct{}

func (fakeTx) Begin(ctx context.Context) (pgx.Tx, error)    { return fakeTx{}, nil }
func (fakeTx) Commit(ctx context.Context) error             { return nil }
func (fakeTx) Rollback(ctx context.Context) error           { return nil }
func (fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (fakeTx) Conn() *pgx.Conn                                               { return nil }

type fakePool struct{}

func (fakePool) Begin(ctx context.Context) (pgx.Tx, error) { return fakeTx{}, nil }
func (fakePool) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return fakeTx{}, nil
}

type fakeProductRepo struct {
	products []*domain.Product
}

func (f *fakeProductRepo) ListProductsPage(ctx context.Context, afterID int64, limit int) ([]*domain.Product, error) {
	result := make([]*domain.Product, 0)
	for _, p := range f.products {
		if p.ID > afterID {
			result = append(result, p)
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (f *fakeProductRepo) GetProducts(ctx context.Context, ids []int64) ([]*domain.Product, error) {
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	result := make([]*domain.Product, 0)
	for _, p := range f.products {
		if _, ok := wanted[p.ID]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

type fakeCategoryRepo struct {
	snapshot domain.CategoryVisibilitySet
}

func (f *fakeCategoryRepo) GetVisibilitySnapshot(ctx context.Context) (domain.CategoryVisibilitySet, error) {
	return f.snapshot, nil
}

type fakeVisibilityRepo struct {
	mu             sync.Mutex
	productVisible map[int64]bool
	domainVisible  map[int64]map[int64]bool
	failUpsert     map[int64]error
	upsertCalls    map[int64]int
	deleted        []int64
	afterUpsert    func(productID int64)
}

func newFakeVisibilityRepo() *fakeVisibilityRepo {
	return &fakeVisibilityRepo{
		productVisible: make(map[int64]bool),
		domainVisible:  make(map[int64]map[int64]bool),
		failUpsert:     make(map[int64]error),
		upsertCalls:    make(map[int64]int),
	}
}

func (f *fakeVisibilityRepo) UpsertProductDomains(ctx context.Context, productID int64, verdicts map[int64]bool) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failUpsert[productID]; err != nil {
		return nil, err
	}

	f.upsertCalls[productID]++

	stored, ok := f.domainVisible[productID]
	if !ok {
		stored = make(map[int64]bool)
		f.domainVisible[productID] = stored
	}

	changed := make([]int64, 0)
	for domainID, visible := range verdicts {
		cur, exists := stored[domainID]
		if !exists || cur != visible {
			stored[domainID] = visible
			changed = append(changed, domainID)
		}
	}

	if f.afterUpsert != nil {
		f.afterUpsert(productID)
	}

	return changed, nil
}

func (f *fakeVisibilityRepo) UpdateProductVisible(ctx context.Context, productID int64, visible bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, ok := f.productVisible[productID]
	if ok && cur == visible {
		return false, nil
	}

	f.productVisible[productID] = visible
	return !ok || cur != visible, nil
}

func (f *fakeVisibilityRepo) DeleteProductDomains(ctx context.Context, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.domainVisible, productID)
	f.deleted = append(f.deleted, productID)
	return nil
}

func (f *fakeVisibilityRepo) domainVerdict(productID, domainID int64) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.domainVisible[productID]
	if !ok {
		return false, false
	}
	v, ok := stored[domainID]
	return v, ok
}

type fakeDirtyRepo struct {
	mu       sync.Mutex
	marks    map[int64]struct{}
	order    []int64
	notifies int
}

func newFakeDirtyRepo() *fakeDirtyRepo {
	return &fakeDirtyRepo{marks: make(map[int64]struct{})}
}

func (f *fakeDirtyRepo) MarkDirty(ctx context.Context, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.notifies++
	f.enqueue(productID)
	return nil
}

func (f *fakeDirtyRepo) RequeueDirty(ctx context.Context, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.enqueue(productID)
	return nil
}

func (f *fakeDirtyRepo) enqueue(productID int64) {
	if _, ok := f.marks[productID]; ok {
		return
	}

	f.marks[productID] = struct{}{}
	f.order = append(f.order, productID)
}

func (f *fakeDirtyRepo) notifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.notifies
}

func (f *fakeDirtyRepo) ConsumeDirtySet(ctx context.Context, limit int) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := limit
	if n > len(f.order) {
		n = len(f.order)
	}

	ids := make([]int64, 0, n)
	for _, id := range f.order[:n] {
		delete(f.marks, id)
		ids = append(ids, id)
	}
	f.order = f.order[n:]

	return ids, nil
}

func (f *fakeDirtyRepo) pending() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]int64(nil), f.order...)
}

type fakeCacheRepo struct {
	mu      sync.Mutex
	set     []ProductVisibilityInfo
	deleted []int64
}

func (f *fakeCacheRepo) SetVisibility(ctx context.Context, entries []ProductVisibilityInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.set = append(f.set, entries...)
	return nil
}

func (f *fakeCacheRepo) DeleteVisibility(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeProducer struct {
	mu      sync.Mutex
	events  []*VisibilityChangedReq
	onWrite func(req *VisibilityChangedReq)
}

func (f *fakeProducer) WriteVisibilityChanged(ctx context.Context, req *VisibilityChangedReq) error {
	f.mu.Lock()
	f.events = append(f.events, req)
	hook := f.onWrite
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	return nil
}

func (f *fakeProducer) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.events)
}

// --- фикстура ---

type engineFixture struct {
	uc         *VisibilityUseCase
	products   *fakeProductRepo
	visibility *fakeVisibilityRepo
	dirty      *fakeDirtyRepo
	cache      *fakeCacheRepo
	producer   *fakeProducer
}

// newEngineFixture собирает движок с доменами 1 и 2 и четырьмя продуктами:
// 1 — валидный (категория 10, видимая на обоих доменах),
// 2 — категория 20, видимая только на домене 1,
// 3 — скрыт флагом hidden,
// 4 — без цены.
func newEngineFixture() *engineFixture {
	price := decimal.NewFromInt(100)

	products := &fakeProductRepo{products: []*domain.Product{
		{ID: 1, Price: &price, CategoryIDs: []int64{10}},
		{ID: 2, Price: &price, CategoryIDs: []int64{20}},
		{ID: 3, Hidden: true, Price: &price, CategoryIDs: []int64{10}},
		{ID: 4, Price: nil, CategoryIDs: []int64{10}},
	}}

	snapshot := domain.NewCategoryVisibilitySet()
	snapshot.Add(10, 1)
	snapshot.Add(10, 2)
	snapshot.Add(20, 1)

	visibility := newFakeVisibilityRepo()
	for _, p := range products.products {
		visibility.productVisible[p.ID] = false
	}

	dirty := newFakeDirtyRepo()
	cache := &fakeCacheRepo{}
	producer := &fakeProducer{}

	uc := NewVisibilityUC(
		products,
		&fakeCategoryRepo{snapshot: snapshot},
		visibility,
		dirty,
		cache,
		producer,
		fakePool{},
		[]int64{1, 2},
		2, // маленькая страница, чтобы пагинация реально работала
		noopLogger{},
	)

	return &engineFixture{
		uc:         uc,
		products:   products,
		visibility: visibility,
		dirty:      dirty,
		cache:      cache,
		producer:   producer,
	}
}

// --- тесты ---

func TestRefreshAll_ComputesAndStoresVerdicts(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	now := time.Now()

	stats, err := f.uc.RefreshAll(ctx, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Processed != 4 {
		t.Errorf("expected 4 processed products, got %d", stats.Processed)
	}
	if stats.Failed != 0 {
		t.Errorf("expected no failures, got %d", stats.Failed)
	}

	wantDomains := map[int64]map[int64]bool{
		1: {1: true, 2: true},
		2: {1: true, 2: false},
		3: {1: false, 2: false},
		4: {1: false, 2: false},
	}
	for productID, domains := range wantDomains {
		for domainID, want := range domains {
			got, ok := f.visibility.domainVerdict(productID, domainID)
			if !ok {
				t.Errorf("missing stored verdict for product %d domain %d", productID, domainID)
				continue
			}
			if got != want {
				t.Errorf("product %d domain %d: expected visible=%v, got %v", productID, domainID, want, got)
			}
		}
	}

	wantProduct := map[int64]bool{1: true, 2: true, 3: false, 4: false}
	for productID, want := range wantProduct {
		if got := f.visibility.productVisible[productID]; got != want {
			t.Errorf("product %d: expected aggregate visible=%v, got %v", productID, want, got)
		}
	}
}

func TestRefreshAll_Idempotent(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	now := time.Now()

	if _, err := f.uc.RefreshAll(ctx, now); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	eventsAfterFirst := f.producer.eventCount()

	stats, err := f.uc.RefreshAll(ctx, now)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if stats.Changed != 0 {
		t.Errorf("second run must not change stored state, changed: %d", stats.Changed)
	}
	if f.producer.eventCount() != eventsAfterFirst {
		t.Errorf("second run must not publish events: %d -> %d", eventsAfterFirst, f.producer.eventCount())
	}
}

func TestRefreshAll_FailureDoesNotAbortPass(t *testing.T) {
	f := newEngineFixture()
	f.visibility.failUpsert[2] = errors.New("connection reset")
	ctx := context.Background()

	stats, err := f.uc.RefreshAll(ctx, time.Now())
	if err != nil {
		t.Fatalf("full refresh must survive a per-product failure: %v", err)
	}

	if stats.Failed != 1 {
		t.Errorf("expected 1 failed product, got %d", stats.Failed)
	}
	if stats.Processed != 3 {
		t.Errorf("expected 3 processed products, got %d", stats.Processed)
	}
	if f.visibility.upsertCalls[2] != 0 {
		t.Errorf("failed product must not be written, upserts: %d", f.visibility.upsertCalls[2])
	}
	if f.visibility.upsertCalls[1] == 0 || f.visibility.upsertCalls[3] == 0 || f.visibility.upsertCalls[4] == 0 {
		t.Error("remaining products must still be processed")
	}
}

func TestRefreshMarked_TouchesOnlyMarkedProducts(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	now := time.Now()

	if _, err := f.uc.RefreshAll(ctx, now); err != nil {
		t.Fatalf("seed run failed: %v", err)
	}

	// Правка продукта 2: теперь он скрыт, и его метка поставлена.
	// Продукт 1 тоже "испорчен", но без метки — движок не должен его трогать.
	f.products.products[1].Hidden = true
	f.products.products[0].Hidden = true
	if err := f.uc.MarkDirty(ctx, 2); err != nil {
		t.Fatalf("mark dirty failed: %v", err)
	}

	callsBefore := map[int64]int{}
	for id, n := range f.visibility.upsertCalls {
		callsBefore[id] = n
	}

	stats, err := f.uc.RefreshMarked(ctx, now)
	if err != nil {
		t.Fatalf("marked refresh failed: %v", err)
	}

	if stats.Processed != 1 {
		t.Errorf("expected exactly 1 processed product, got %d", stats.Processed)
	}
	if f.visibility.upsertCalls[1] != callsBefore[1] {
		t.Error("unmarked product must not be rewritten")
	}
	if got := f.visibility.productVisible[2]; got {
		t.Error("marked hidden product must become invisible")
	}
	if got := f.visibility.productVisible[1]; !got {
		t.Error("unmarked product keeps its stale stored visibility until its own refresh")
	}
	if len(f.dirty.pending()) != 0 {
		t.Errorf("consumed marks must be cleared, pending: %v", f.dirty.pending())
	}
}

func TestRefreshMarked_RemovesStaleProduct(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	if err := f.uc.MarkDirty(ctx, 99); err != nil {
		t.Fatalf("mark dirty failed: %v", err)
	}

	stats, err := f.uc.RefreshMarked(ctx, time.Now())
	if err != nil {
		t.Fatalf("marked refresh failed: %v", err)
	}

	if stats.Removed != 1 {
		t.Errorf("expected 1 removed product, got %d", stats.Removed)
	}
	if len(f.visibility.deleted) != 1 || f.visibility.deleted[0] != 99 {
		t.Errorf("expected domain rows of product 99 to be deleted, got %v", f.visibility.deleted)
	}
	if len(f.cache.deleted) != 1 || f.cache.deleted[0] != 99 {
		t.Errorf("expected cache entry of product 99 to be dropped, got %v", f.cache.deleted)
	}
}

func TestRefreshMarked_RequeuesFailedProduct(t *testing.T) {
	f := newEngineFixture()
	f.visibility.failUpsert[2] = errors.New("i/o timeout")
	ctx := context.Background()

	if err := f.uc.MarkDirty(ctx, 2); err != nil {
		t.Fatalf("mark dirty failed: %v", err)
	}
	notifiesBefore := f.dirty.notifyCount()

	stats, err := f.uc.RefreshMarked(ctx, time.Now())
	if err != nil {
		t.Fatalf("marked refresh failed: %v", err)
	}

	if stats.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", stats.Failed)
	}

	pending := f.dirty.pending()
	if len(pending) != 1 || pending[0] != 2 {
		t.Errorf("failed product must stay dirty for the next run, pending: %v", pending)
	}
	// Возврат метки не должен будить слушателя: иначе сбойный продукт
	// гоняет цикл consume -> fail -> requeue без пауз.
	if got := f.dirty.notifyCount(); got != notifiesBefore {
		t.Errorf("re-queue must not notify the listener: %d -> %d", notifiesBefore, got)
	}

	// После починки хранилища следующий запуск обрабатывает метку.
	delete(f.visibility.failUpsert, 2)
	stats, err = f.uc.RefreshMarked(ctx, time.Now())
	if err != nil {
		t.Fatalf("retry run failed: %v", err)
	}
	if stats.Processed != 1 {
		t.Errorf("expected re-queued product to be processed, got %d", stats.Processed)
	}
	if len(f.dirty.pending()) != 0 {
		t.Errorf("mark must be cleared after successful retry, pending: %v", f.dirty.pending())
	}
}

func TestRefreshMarked_MarkDuringRunIsNotLost(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	// Метка, поставленная во время прогона (после снятия снимка очереди),
	// не теряется: она попадает в следующую итерацию потребления.
	f.producer.onWrite = func(req *VisibilityChangedReq) {
		if req.ProductID == 1 {
			if err := f.uc.MarkDirty(ctx, 3); err != nil {
				t.Errorf("concurrent mark failed: %v", err)
			}
		}
	}

	if err := f.uc.MarkDirty(ctx, 1); err != nil {
		t.Fatalf("mark dirty failed: %v", err)
	}

	stats, err := f.uc.RefreshMarked(ctx, time.Now())
	if err != nil {
		t.Fatalf("marked refresh failed: %v", err)
	}

	if stats.Processed != 2 {
		t.Errorf("expected both products to be processed, got %d", stats.Processed)
	}
	if f.visibility.upsertCalls[3] == 0 {
		t.Error("product marked during the run must be recomputed")
	}
	if len(f.dirty.pending()) != 0 {
		t.Errorf("no marks may remain pending, got %v", f.dirty.pending())
	}
}

func TestMarkDirty_Validation(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	if err := f.uc.MarkDirty(ctx, 0); err == nil {
		t.Error("expected error for non-positive product id")
	}

	if err := f.uc.MarkDirty(ctx, 7); err != nil {
		t.Fatalf("mark dirty failed: %v", err)
	}
	if err := f.uc.MarkDirty(ctx, 7); err != nil {
		t.Fatalf("repeated mark dirty failed: %v", err)
	}

	if got := f.dirty.pending(); len(got) != 1 {
		t.Errorf("mark dirty must be idempotent, pending: %v", got)
	}
}
