// internal/usecase/ledger/fakes_test.go
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/provider/gateway"
	"ledger-service/internal/repository"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/idempotency"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memStore is an in-memory repository.LedgerStore with snapshot rollback so
// a failed WithTx closure leaves no partial effects, mirroring the store
// transaction semantics the engine relies on. conflictsLeft injects
// serialization conflicts to exercise the retry loop.
type memStore struct {
	mu            sync.Mutex
	wallets       map[string]*domain.Wallet // by userID
	txs           []*domain.WalletTransaction
	vouchers      map[string]*domain.Voucher // by code
	usages        []*domain.VoucherUsage
	orders        map[string]string // orderID -> status
	conflictsLeft int
}

func newMemStore() *memStore {
	return &memStore{
		wallets:  make(map[string]*domain.Wallet),
		vouchers: make(map[string]*domain.Voucher),
		orders:   make(map[string]string),
	}
}

func (s *memStore) seedWallet(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[userID] = &domain.Wallet{
		ID:      "wal-" + userID,
		UserID:  userID,
		Balance: decimal.NewFromInt(balance),
	}
}

func (s *memStore) seedVoucher(v *domain.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.vouchers[v.Code] = &cp
}

func (s *memStore) balance(userID string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		return w.Balance
	}
	return decimal.Zero
}

func (s *memStore) transactions(filter func(*domain.WalletTransaction) bool) []*domain.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.WalletTransaction
	for _, tx := range s.txs {
		if filter == nil || filter(tx) {
			out = append(out, copyTransaction(tx))
		}
	}
	return out
}

// copyMetadata deep-copies the variant pointer so a copied transaction does
// not alias the stored one; assertions against durable rows must not see
// in-flight mutations of the engine's in-memory record.
func copyMetadata(m domain.Metadata) domain.Metadata {
	cp := m
	if m.Deposit != nil {
		d := *m.Deposit
		cp.Deposit = &d
	}
	if m.Payment != nil {
		p := *m.Payment
		cp.Payment = &p
	}
	if m.Refund != nil {
		r := *m.Refund
		cp.Refund = &r
	}
	if m.Withdrawal != nil {
		w := *m.Withdrawal
		cp.Withdrawal = &w
	}
	return cp
}

func copyTransaction(tx *domain.WalletTransaction) *domain.WalletTransaction {
	cp := *tx
	cp.Metadata = copyMetadata(tx.Metadata)
	return &cp
}

type storeSnapshot struct {
	wallets  map[string]*domain.Wallet
	txs      []*domain.WalletTransaction
	vouchers map[string]*domain.Voucher
	usages   []*domain.VoucherUsage
	orders   map[string]string
}

func (s *memStore) snapshot() *storeSnapshot {
	snap := &storeSnapshot{
		wallets:  make(map[string]*domain.Wallet, len(s.wallets)),
		vouchers: make(map[string]*domain.Voucher, len(s.vouchers)),
		orders:   make(map[string]string, len(s.orders)),
	}
	for k, w := range s.wallets {
		cp := *w
		snap.wallets[k] = &cp
	}
	for _, tx := range s.txs {
		snap.txs = append(snap.txs, copyTransaction(tx))
	}
	for k, v := range s.vouchers {
		cp := *v
		snap.vouchers[k] = &cp
	}
	for _, u := range s.usages {
		cp := *u
		snap.usages = append(snap.usages, &cp)
	}
	for k, v := range s.orders {
		snap.orders[k] = v
	}
	return snap
}

func (s *memStore) restore(snap *storeSnapshot) {
	s.wallets = snap.wallets
	s.txs = snap.txs
	s.vouchers = snap.vouchers
	s.usages = snap.usages
	s.orders = snap.orders
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return fmt.Errorf("%w: serialization failure", domain.ErrStoreConflict)
	}

	snap := s.snapshot()
	if err := fn(&memTx{store: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.ID == id {
			return copyTransaction(tx), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (s *memStore) GetTransactionByGatewayRef(ctx context.Context, gatewayRef string) (*domain.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.Metadata.Deposit != nil && tx.Metadata.Deposit.GatewayRef == gatewayRef {
			return copyTransaction(tx), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (s *memStore) GetCompletedDeduction(ctx context.Context, orderID string) (*domain.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.txs) - 1; i >= 0; i-- {
		tx := s.txs[i]
		if tx.OrderID != nil && *tx.OrderID == orderID &&
			tx.Type == domain.TxTypeDeduction && tx.Status == domain.TxStatusCompleted {
			return copyTransaction(tx), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (s *memStore) ListUserTransactions(ctx context.Context, userID string, limit, offset int) ([]*domain.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.WalletTransaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].UserID == userID {
			out = append(out, copyTransaction(s.txs[i]))
		}
	}
	return out, nil
}

func (s *memStore) SumCompletedWithdrawalsSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, tx := range s.txs {
		if tx.UserID == userID && tx.Type == domain.TxTypeWithdrawal &&
			tx.Status != domain.TxStatusFailed && !tx.CreatedAt.Before(since) {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

func (s *memStore) SetTransactionWebhookStatus(ctx context.Context, txID string, status domain.WebhookStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.ID == txID {
			tx.Metadata.WebhookStatus = status
			return nil
		}
	}
	return domain.ErrTransactionNotFound
}

func (s *memStore) ResolveUserByPayment(ctx context.Context, paymentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.PaymentID != nil && *tx.PaymentID == paymentID {
			return tx.UserID, nil
		}
	}
	return "", domain.ErrTransactionNotFound
}

func (s *memStore) GetVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[code]
	if !ok {
		return nil, domain.ErrVoucherInvalid
	}
	cp := *v
	return &cp, nil
}

func (s *memStore) CreateVoucher(ctx context.Context, v *domain.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.vouchers[v.Code] = &cp
	return nil
}

func (s *memStore) DeactivateVoucher(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vouchers[code]
	if !ok {
		return domain.ErrVoucherInvalid
	}
	v.Active = false
	return nil
}

var _ repository.LedgerStore = (*memStore)(nil)

// memTx operates on the store under the lock already held by WithTx.
type memTx struct {
	store *memStore
}

func (t *memTx) GetWalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error) {
	w, ok := t.store.wallets[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (t *memTx) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	if _, exists := t.store.wallets[w.UserID]; exists {
		return nil
	}
	cp := *w
	t.store.wallets[w.UserID] = &cp
	return nil
}

func (t *memTx) walletByID(walletID string) *domain.Wallet {
	for _, w := range t.store.wallets {
		if w.ID == walletID {
			return w
		}
	}
	return nil
}

func (t *memTx) IncrementBalance(ctx context.Context, walletID string, amount decimal.Decimal) error {
	w := t.walletByID(walletID)
	if w == nil {
		return domain.ErrWalletNotFound
	}
	w.Balance = w.Balance.Add(amount)
	return nil
}

func (t *memTx) DecrementBalance(ctx context.Context, walletID string, amount decimal.Decimal) error {
	w := t.walletByID(walletID)
	if w == nil {
		return domain.ErrWalletNotFound
	}
	if w.Balance.LessThan(amount) {
		return domain.ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	return nil
}

func (t *memTx) CreateTransaction(ctx context.Context, tx *domain.WalletTransaction) error {
	tx.CreatedAt = time.Now()
	tx.UpdatedAt = tx.CreatedAt
	t.store.txs = append(t.store.txs, copyTransaction(tx))
	return nil
}

func (t *memTx) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	for _, tx := range t.store.txs {
		if tx.ID == id {
			tx.Status = status
			tx.UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrTransactionNotFound
}

func (t *memTx) UpdateTransactionMetadata(ctx context.Context, id string, m domain.Metadata) error {
	for _, tx := range t.store.txs {
		if tx.ID == id {
			tx.Metadata = copyMetadata(m)
			tx.UpdatedAt = time.Now()
			return nil
		}
	}
	return domain.ErrTransactionNotFound
}

func (t *memTx) ClaimTransaction(ctx context.Context, id string, from, to domain.TransactionStatus) (bool, error) {
	for _, tx := range t.store.txs {
		if tx.ID == id {
			if tx.Status != from {
				return false, nil
			}
			tx.Status = to
			tx.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, domain.ErrTransactionNotFound
}

func (t *memTx) GetVoucherForUpdate(ctx context.Context, code string) (*domain.Voucher, error) {
	v, ok := t.store.vouchers[code]
	if !ok {
		return nil, domain.ErrVoucherInvalid
	}
	cp := *v
	return &cp, nil
}

func (t *memTx) CountVoucherUsage(ctx context.Context, voucherID, userID string) (int, error) {
	n := 0
	for _, u := range t.store.usages {
		if u.VoucherID == voucherID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CreateVoucherUsage(ctx context.Context, u *domain.VoucherUsage) error {
	cp := *u
	t.store.usages = append(t.store.usages, &cp)
	return nil
}

func (t *memTx) IncrementVoucherUsage(ctx context.Context, voucherID string) error {
	for _, v := range t.store.vouchers {
		if v.ID == voucherID {
			v.UsedCount++
			return nil
		}
	}
	return domain.ErrVoucherInvalid
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID string, entity domain.EntityType, status string) error {
	t.store.orders[orderID] = status
	return nil
}

var _ repository.LedgerTx = (*memTx)(nil)

// fakeGateway records calls; each operation can be forced to fail.
type fakeGateway struct {
	mu sync.Mutex

	intentErr   error
	transferErr error
	refundErr   error

	transferCompleted bool

	intents   []*gateway.IntentRequest
	transfers []*gateway.TransferRequest
	refunds   []*gateway.RefundRequest
}

func (g *fakeGateway) CreateIntent(ctx context.Context, req *gateway.IntentRequest) (*gateway.IntentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	g.intents = append(g.intents, req)
	return &gateway.IntentResponse{
		GatewayRef:  "gw-" + req.Reference,
		PaymentLink: "https://pay.example/" + req.Reference,
	}, nil
}

func (g *fakeGateway) Transfer(ctx context.Context, req *gateway.TransferRequest) (*gateway.TransferResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	g.transfers = append(g.transfers, req)
	return &gateway.TransferResponse{
		GatewayRef: "tr-" + req.Reference,
		Completed:  g.transferCompleted,
	}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, req *gateway.RefundRequest) (*gateway.RefundResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, req)
	return &gateway.RefundResponse{GatewayRef: "rf-" + req.Reference}, nil
}

type fakeFraud struct {
	mu       sync.Mutex
	blockErr error
	calls    int
}

func (f *fakeFraud) Check(ctx context.Context, userID string, amount decimal.Decimal, operationType string, entityType, entityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.blockErr
}

type fakeSettings struct {
	settings map[string]*domain.UserSettings
}

func (f *fakeSettings) Get(ctx context.Context, userID string) (*domain.UserSettings, error) {
	if s, ok := f.settings[userID]; ok {
		return s, nil
	}
	return &domain.UserSettings{UserID: userID, Role: domain.RoleUser}, nil
}

type triggeredEvent struct {
	event string
	txID  string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []triggeredEvent
}

func (f *fakeEvents) Trigger(ctx context.Context, userID *string, tx *domain.WalletTransaction, eventType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, triggeredEvent{event: eventType, txID: tx.ID})
}

func (f *fakeEvents) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.event
	}
	return out
}

func (f *fakeEvents) has(event string) bool {
	for _, name := range f.names() {
		if name == event {
			return true
		}
	}
	return false
}

// kvCache backs balance caching and idempotency; list ops are unused here.
type kvCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newKVCache() *kvCache {
	return &kvCache{data: make(map[string]string)}
}

func (c *kvCache) Get(ctx context.Context, namespace, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[namespace+":"+key]
	if !ok {
		return "", cache.Nil
	}
	return v, nil
}

func (c *kvCache) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[namespace+":"+key] = fmt.Sprintf("%v", value)
	return nil
}

func (c *kvCache) Delete(ctx context.Context, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, namespace+":"+key)
	return nil
}

func (c *kvCache) IncrWithExpire(ctx context.Context, namespace, key string, window time.Duration) (int64, error) {
	return 1, nil
}
func (c *kvCache) LPush(ctx context.Context, namespace, key string, value interface{}) error {
	return nil
}
func (c *kvCache) RPush(ctx context.Context, namespace, key string, value interface{}) error {
	return nil
}
func (c *kvCache) LPop(ctx context.Context, namespace, key string) (string, error) {
	return "", cache.Nil
}
func (c *kvCache) LLen(ctx context.Context, namespace, key string) (int64, error) { return 0, nil }
func (c *kvCache) LRange(ctx context.Context, namespace, key string, start, stop int64) ([]string, error) {
	return nil, nil
}

type testEnv struct {
	svc      *Service
	store    *memStore
	gateway  *fakeGateway
	fraud    *fakeFraud
	settings *fakeSettings
	events   *fakeEvents
	cache    *kvCache
}

func newTestEnv() *testEnv {
	store := newMemStore()
	gw := &fakeGateway{}
	fraudGuard := &fakeFraud{}
	settings := &fakeSettings{settings: make(map[string]*domain.UserSettings)}
	events := &fakeEvents{}
	kv := newKVCache()
	logger := zap.NewNop()

	svc := New(store, settings, fraudGuard, gw, kv, events, idempotency.New(kv, logger), logger)
	svc.sleep = func(time.Duration) {}
	return &testEnv{
		svc:      svc,
		store:    store,
		gateway:  gw,
		fraud:    fraudGuard,
		settings: settings,
		events:   events,
		cache:    kv,
	}
}
