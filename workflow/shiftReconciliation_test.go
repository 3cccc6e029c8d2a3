package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kasirhub/pos_backend/models"
)

// fakeOrderSource is an in-memory OrderSource with the same conditional-bind
// semantics as the SQL implementation (shift_id IS NULL guard).
type fakeOrderSource struct {
	mu       sync.Mutex
	orders   map[int]*models.Order
	payments map[int][]models.Payment
	bindErr  map[int]error
}

func newFakeOrderSource() *fakeOrderSource {
	return &fakeOrderSource{
		orders:   map[int]*models.Order{},
		payments: map[int][]models.Payment{},
		bindErr:  map[int]error{},
	}
}

func (f *fakeOrderSource) addOrder(o models.Order, payments ...models.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := o
	f.orders[o.ID] = &cp
	f.payments[o.ID] = append(f.payments[o.ID], payments...)
}

func (f *fakeOrderSource) OrdersByShift(_ context.Context, shiftId int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.ShiftId != nil && *o.ShiftId == shiftId && o.PaymentStatus == models.OrderPaymentStatusPaid {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderSource) OrphanSelfServiceOrders(_ context.Context, businessId string, outletId int, from, to time.Time) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.BusinessId == businessId && o.OutletId == outletId &&
			o.Type == models.OrderTypeSelfService && o.PaymentStatus == models.OrderPaymentStatusPaid &&
			o.ShiftId == nil && !o.CreatedAt.Before(from) && !o.CreatedAt.After(to) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderSource) OrdersByEmployeeWindow(_ context.Context, businessId string, outletId int, employeeId int, from, to time.Time) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.BusinessId == businessId && o.OutletId == outletId && o.EmployeeId == employeeId &&
			o.PaymentStatus == models.OrderPaymentStatusPaid &&
			!o.CreatedAt.Before(from) && !o.CreatedAt.After(to) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderSource) PaymentsForOrders(_ context.Context, orderIds []int) (map[int][]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[int][]models.Payment{}
	for _, id := range orderIds {
		if ps, ok := f.payments[id]; ok {
			out[id] = append([]models.Payment(nil), ps...)
		}
	}
	return out, nil
}

func (f *fakeOrderSource) BindOrderToShift(_ context.Context, orderId int, shiftId int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.bindErr[orderId]; err != nil {
		return false, err
	}
	o, ok := f.orders[orderId]
	if !ok || o.ShiftId != nil {
		return false, nil
	}
	sid := shiftId
	o.ShiftId = &sid
	return true, nil
}

func (f *fakeOrderSource) shiftIdOf(orderId int) *int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[orderId].ShiftId
}

type fakeShiftStore struct {
	mu             sync.Mutex
	shifts         map[int]*models.Shift
	employeeByUser map[int]int
	saves          int
}

func newFakeShiftStore() *fakeShiftStore {
	return &fakeShiftStore{shifts: map[int]*models.Shift{}, employeeByUser: map[int]int{}}
}

func (f *fakeShiftStore) SaveReconciliation(_ context.Context, shift *models.Shift) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if stored, ok := f.shifts[shift.ID]; ok && stored.Status == models.ShiftStatusOpen {
		cp := *shift
		f.shifts[shift.ID] = &cp
	}
	return nil
}

func (f *fakeShiftStore) EmployeeIdForUser(_ context.Context, _ string, userId int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.employeeByUser[userId], nil
}

func (f *fakeShiftStore) ShiftById(_ context.Context, _ string, shiftId int) (*models.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shifts[shiftId]
	if !ok {
		return nil, ErrShiftNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeShiftStore) ActiveShift(_ context.Context, businessId string, userId int, outletId int) (*models.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.shifts {
		if s.BusinessId == businessId && s.UserId == userId && s.OutletId == outletId && s.Status == models.ShiftStatusOpen {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeShiftStore) CreateShift(_ context.Context, shift *models.Shift) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if shift.ID == 0 {
		shift.ID = len(f.shifts) + 1
	}
	cp := *shift
	f.shifts[shift.ID] = &cp
	return nil
}

func (f *fakeShiftStore) CloseShift(_ context.Context, shift *models.Shift) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.shifts[shift.ID]
	if !ok || stored.Status != models.ShiftStatusOpen {
		return false, nil
	}
	cp := *shift
	cp.Status = models.ShiftStatusClosed
	f.shifts[shift.ID] = &cp
	return true, nil
}

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func intPtr(n int) *int { return &n }

func testShift(openedAt time.Time) *models.Shift {
	return &models.Shift{
		ID:             1,
		BusinessId:     "biz-1",
		OutletId:       10,
		UserId:         7,
		EmployeeId:     3,
		Status:         models.ShiftStatusOpen,
		OpenedAt:       openedAt,
		OpeningBalance: d(100000),
	}
}

func newTestEngine(src *fakeOrderSource, store *fakeShiftStore) *ReconcileEngine {
	return NewReconcileEngine(src, store, nil, d(100), true)
}

// Scenario from the field audit sheet: opening float 100000, one cash order
// with change, one card order.
func TestReconcile_CashAndCardScenario(t *testing.T) {
	openedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	now := openedAt.Add(4 * time.Hour)

	src := newFakeOrderSource()
	store := newFakeShiftStore()
	shift := testShift(openedAt)
	store.shifts[shift.ID] = shift

	src.addOrder(models.Order{
		ID: 101, BusinessId: "biz-1", OutletId: 10, ShiftId: intPtr(1),
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(50000), ChangeAmount: d(10000), CreatedAt: openedAt.Add(time.Hour),
	}, pay(101, models.PaymentMethodCash, 60000, models.PaymentStatusSuccess, openedAt.Add(time.Hour)))

	src.addOrder(models.Order{
		ID: 102, BusinessId: "biz-1", OutletId: 10, ShiftId: intPtr(1),
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(30000), CreatedAt: openedAt.Add(2 * time.Hour),
	}, pay(102, models.PaymentMethodCard, 30000, models.PaymentStatusPaid, openedAt.Add(2*time.Hour)))

	engine := newTestEngine(src, store)
	result, err := engine.Reconcile(context.Background(), shift, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if result.TotalTransactions != 2 {
		t.Errorf("total_transactions: want 2, got %d", result.TotalTransactions)
	}
	if !result.ExpectedTotal.Equal(d(80000)) {
		t.Errorf("expected_total: want 80000, got %s", result.ExpectedTotal)
	}
	if !result.NetCashSales.Equal(d(50000)) {
		t.Errorf("net_cash_sales: want 50000, got %s", result.NetCashSales)
	}
	if !result.ExpectedCash.Equal(d(150000)) {
		t.Errorf("expected_cash: want 150000, got %s", result.ExpectedCash)
	}
	if !result.ExpectedCard.Equal(d(30000)) {
		t.Errorf("expected_card: want 30000, got %s", result.ExpectedCard)
	}
	if result.Warning != nil {
		t.Errorf("unexpected consistency warning: %+v", result.Warning)
	}
	if shift.CashTransactions != 1 || shift.CardTransactions != 1 {
		t.Errorf("per-method counts: cash=%d card=%d", shift.CashTransactions, shift.CardTransactions)
	}
	if store.saves == 0 {
		t.Error("reconcile must persist expected totals on the shift")
	}
}

// expected_total comes from order totals, never from payment sums, even when
// they disagree.
func TestReconcile_OrderTotalAuthoritative(t *testing.T) {
	openedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	now := openedAt.Add(time.Hour)

	src := newFakeOrderSource()
	store := newFakeShiftStore()
	shift := testShift(openedAt)
	shift.OpeningBalance = decimal.Zero
	store.shifts[shift.ID] = shift

	// Order says 50000, payment row says 45000 (partial refund recorded
	// upstream, say). 5000 gap exceeds the 100 tolerance.
	src.addOrder(models.Order{
		ID: 201, BusinessId: "biz-1", OutletId: 10, ShiftId: intPtr(1),
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(50000), CreatedAt: openedAt.Add(time.Minute),
	}, pay(201, models.PaymentMethodQris, 45000, models.PaymentStatusSettlement, openedAt.Add(time.Minute)))

	engine := newTestEngine(src, store)
	result, err := engine.Reconcile(context.Background(), shift, now)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if !result.ExpectedTotal.Equal(d(50000)) {
		t.Errorf("expected_total must follow order.total: want 50000, got %s", result.ExpectedTotal)
	}
	if result.Warning == nil {
		t.Fatal("expected a consistency warning")
	}
	if !result.Warning.Gap.Equal(d(5000)) {
		t.Errorf("warning gap: want 5000, got %s", result.Warning.Gap)
	}
}

func TestReconcile_GapWithinToleranceNoWarning(t *testing.T) {
	openedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	src := newFakeOrderSource()
	store := newFakeShiftStore()
	shift := testShift(openedAt)
	store.shifts[shift.ID] = shift

	src.addOrder(models.Order{
		ID: 301, BusinessId: "biz-1", OutletId: 10, ShiftId: intPtr(1),
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(10050), CreatedAt: openedAt.Add(time.Minute),
	}, pay(301, models.PaymentMethodCard, 10000, models.PaymentStatusPaid, openedAt.Add(time.Minute)))

	engine := newTestEngine(src, store)
	result, err := engine.Reconcile(context.Background(), shift, openedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Warning != nil {
		t.Errorf("gap of 50 is within tolerance 100, got warning %+v", result.Warning)
	}
}

// Orders without any valid payment still count in expected_total.
func TestReconcile_OrderWithoutValidPaymentsStillCounted(t *testing.T) {
	openedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	src := newFakeOrderSource()
	store := newFakeShiftStore()
	shift := testShift(openedAt)
	shift.OpeningBalance = decimal.Zero
	store.shifts[shift.ID] = shift

	src.addOrder(models.Order{
		ID: 401, BusinessId: "biz-1", OutletId: 10, ShiftId: intPtr(1),
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(25000), CreatedAt: openedAt.Add(time.Minute),
	}, pay(401, models.PaymentMethodCash, 25000, models.PaymentStatusFailed, openedAt.Add(time.Minute)))

	engine := newTestEngine(src, store)
	result, err := engine.Reconcile(context.Background(), shift, openedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	if result.TotalTransactions != 1 {
		t.Errorf("total_transactions: want 1, got %d", result.TotalTransactions)
	}
	if !result.ExpectedTotal.Equal(d(25000)) {
		t.Errorf("expected_total: want 25000, got %s", result.ExpectedTotal)
	}
	if shift.CashTransactions != 0 {
		t.Errorf("failed payment must not bump the cash counter, got %d", shift.CashTransactions)
	}
	// Valid payments sum to zero; the 25000 gap yields a warning.
	if result.Warning == nil {
		t.Error("expected a consistency warning for the unpaid-looking order")
	}
}

func TestReconcile_OrphanBoundExactlyOnceSequential(t *testing.T) {
	openedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	src := newFakeOrderSource()
	store := newFakeShiftStore()
	shift := testShift(openedAt)
	store.shifts[shift.ID] = shift

	src.addOrder(models.Order{
		ID: 501, BusinessId: "biz-1", OutletId: 10, Type: models.OrderTypeSelfService,
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(15000), CreatedAt: openedAt.Add(30 * time.Minute),
	}, pay(501, models.PaymentMethodQris, 15000, models.PaymentStatusSettlement, openedAt.Add(30*time.Minute)))

	engine := newTestEngine(src, store)

	now := openedAt.Add(time.Hour)
	first, err := engine.Reconcile(context.Background(), shift, now)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if len(first.BoundOrderIds) != 1 || first.BoundOrderIds[0] != 501 {
		t.Fatalf("first reconcile should bind order 501, got %v", first.BoundOrderIds)
	}

	second, err := engine.Reconcile(context.Background(), shift, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(second.BoundOrderIds) != 0 {
		t.Fatalf("second reconcile must not rebind, got %v", second.BoundOrderIds)
	}
	// The order now sits in the primary set and keeps counting.
	if second.TotalTransactions != 1 || !second.ExpectedTotal.Equal(d(15000)) {
		t.Fatalf("order must keep counting after binding: n=%d total=%s",
			second.TotalTransactions, second.ExpectedTotal)
	}
	if sid := src.shiftIdOf(501); sid == nil || *sid != 1 {
		t.Fatalf("order 501 must carry shift_id=1, got %v", sid)
	}
}

func TestReconcile_OrphanBoundExactlyOnceConcurrent(t *testing.T) {
	openedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	for run := 0; run < 50; run++ {
		src := newFakeOrderSource()
		store := newFakeShiftStore()
		shift := testShift(openedAt)
		store.shifts[shift.ID] = shift

		src.addOrder(models.Order{
			ID: 601, BusinessId: "biz-1", OutletId: 10, Type: models.OrderTypeSelfService,
			PaymentStatus: models.OrderPaymentStatusPaid,
			Total:         d(20000), CreatedAt: openedAt.Add(10 * time.Minute),
		}, pay(601, models.PaymentMethodQris, 20000, models.PaymentStatusCapture, openedAt.Add(10*time.Minute)))

		engine := newTestEngine(src, store)
		now := openedAt.Add(time.Hour)

		var wg sync.WaitGroup
		var mu sync.Mutex
		totalBinds := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s := *shift
				res, err := engine.Reconcile(context.Background(), &s, now)
				if err != nil {
					t.Errorf("reconcile: %v", err)
					return
				}
				mu.Lock()
				totalBinds += len(res.BoundOrderIds)
				mu.Unlock()
			}()
		}
		wg.Wait()

		if totalBinds != 1 {
			t.Fatalf("run=%d: order must be bound exactly once across concurrent reconciles, got %d", run, totalBinds)
		}
	}
}

// A bind failure on one orphan must not abort the rest of the batch.
func TestReconcile_BindFailureIsolated(t *testing.T) {
	openedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	src := newFakeOrderSource()
	store := newFakeShiftStore()
	shift := testShift(openedAt)
	shift.OpeningBalance = decimal.Zero
	store.shifts[shift.ID] = shift

	src.addOrder(models.Order{
		ID: 701, BusinessId: "biz-1", OutletId: 10, Type: models.OrderTypeSelfService,
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(10000), CreatedAt: openedAt.Add(time.Minute),
	}, pay(701, models.PaymentMethodQris, 10000, models.PaymentStatusSettlement, openedAt.Add(time.Minute)))
	src.addOrder(models.Order{
		ID: 702, BusinessId: "biz-1", OutletId: 10, Type: models.OrderTypeSelfService,
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(12000), CreatedAt: openedAt.Add(2 * time.Minute),
	}, pay(702, models.PaymentMethodQris, 12000, models.PaymentStatusSettlement, openedAt.Add(2*time.Minute)))
	src.bindErr[701] = context.DeadlineExceeded

	engine := newTestEngine(src, store)
	result, err := engine.Reconcile(context.Background(), shift, openedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("reconcile must not fail on a single bind error: %v", err)
	}
	if len(result.BoundOrderIds) != 1 || result.BoundOrderIds[0] != 702 {
		t.Fatalf("order 702 must still bind, got %v", result.BoundOrderIds)
	}
	if !result.ExpectedTotal.Equal(d(12000)) {
		t.Fatalf("only the bound order counts this pass, got %s", result.ExpectedTotal)
	}
}

// With no orders bound to the shift, reconciliation falls back to the
// cashier's own paid orders in the window.
func TestReconcile_DerivedFallback(t *testing.T) {
	openedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	src := newFakeOrderSource()
	store := newFakeShiftStore()
	shift := testShift(openedAt)
	shift.EmployeeId = 0
	shift.OpeningBalance = decimal.Zero
	store.shifts[shift.ID] = shift
	store.employeeByUser[7] = 3

	src.addOrder(models.Order{
		ID: 801, BusinessId: "biz-1", OutletId: 10, EmployeeId: 3,
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(40000), CreatedAt: openedAt.Add(time.Minute),
	}, pay(801, models.PaymentMethodTransfer, 40000, models.PaymentStatusSuccess, openedAt.Add(time.Minute)))

	// Outside the window: opened_at minus an hour.
	src.addOrder(models.Order{
		ID: 802, BusinessId: "biz-1", OutletId: 10, EmployeeId: 3,
		PaymentStatus: models.OrderPaymentStatusPaid,
		Total:         d(99999), CreatedAt: openedAt.Add(-time.Hour),
	})

	engine := newTestEngine(src, store)
	result, err := engine.Reconcile(context.Background(), shift, openedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.TotalTransactions != 1 {
		t.Fatalf("derived set: want 1 order, got %d", result.TotalTransactions)
	}
	if !result.ExpectedTransfer.Equal(d(40000)) {
		t.Fatalf("expected_transfer: want 40000, got %s", result.ExpectedTransfer)
	}
}
