// internal/usecase/ledger/payment_test.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
)

func payReq(userID, orderID string, base int64) *PaymentRequest {
	return &PaymentRequest{
		UserID:     userID,
		OrderID:    orderID,
		EntityType: domain.EntityServiceOrder,
		BaseAmount: decimal.NewFromInt(base),
		Currency:   "USD",
	}
}

func TestPayDebitsWalletAndCompletes(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)

	resp, err := env.svc.Pay(context.Background(), payReq("user-1", "order-1", 30))
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}

	if !resp.Total.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("total = %s, want 30", resp.Total)
	}
	if !env.store.balance("user-1").Equal(decimal.NewFromInt(70)) {
		t.Fatalf("balance = %s, want 70", env.store.balance("user-1"))
	}

	txs := env.store.transactions(nil)
	if len(txs) != 1 {
		t.Fatalf("transaction count = %d, want 1", len(txs))
	}
	tx := txs[0]
	if tx.Type != domain.TxTypeDeduction || tx.Status != domain.TxStatusCompleted {
		t.Fatalf("tx = %s/%s, want DEDUCTION/COMPLETED", tx.Type, tx.Status)
	}
	if !tx.Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("tx amount = %s, want 30", tx.Amount)
	}
	if !env.events.has("PAYMENT_COMPLETED") {
		t.Fatalf("events = %v, want PAYMENT_COMPLETED", env.events.names())
	}
	if env.store.orders["order-1"] != "PAID" {
		t.Fatalf("order status = %q, want PAID", env.store.orders["order-1"])
	}
}

func TestPayChargesFeesOnTopOfBase(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)

	req := payReq("user-1", "order-1", 30)
	req.ServiceCharge = decimal.NewFromInt(5)
	req.VAT = decimal.NewFromInt(3)
	req.Tax = decimal.NewFromInt(2)

	resp, err := env.svc.Pay(context.Background(), req)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if !resp.Total.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("total = %s, want 40", resp.Total)
	}
	if !env.store.balance("user-1").Equal(decimal.NewFromInt(60)) {
		t.Fatalf("balance = %s, want 60", env.store.balance("user-1"))
	}
}

func TestPayIdempotentReplay(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)

	first, err := env.svc.Pay(context.Background(), payReq("user-1", "order-1", 30))
	if err != nil {
		t.Fatalf("first Pay: %v", err)
	}
	second, err := env.svc.Pay(context.Background(), payReq("user-1", "order-1", 30))
	if err != nil {
		t.Fatalf("second Pay: %v", err)
	}

	if first.TransactionID != second.TransactionID {
		t.Fatalf("replay returned different transaction: %s vs %s", first.TransactionID, second.TransactionID)
	}
	// Exactly one debit happened.
	if !env.store.balance("user-1").Equal(decimal.NewFromInt(70)) {
		t.Fatalf("balance = %s, want 70 after replay", env.store.balance("user-1"))
	}
	if n := len(env.store.transactions(nil)); n != 1 {
		t.Fatalf("transaction count = %d, want 1", n)
	}
}

func TestPayInsufficientFunds(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 10)

	_, err := env.svc.Pay(context.Background(), payReq("user-1", "order-1", 30))
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if !env.store.balance("user-1").Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance = %s, want untouched 10", env.store.balance("user-1"))
	}

	// The failure leaves a FAILED audit record and emits PAYMENT_FAILED.
	failed := env.store.transactions(func(tx *domain.WalletTransaction) bool {
		return tx.Status == domain.TxStatusFailed
	})
	if len(failed) != 1 {
		t.Fatalf("failed audit records = %d, want 1", len(failed))
	}
	if !env.events.has("PAYMENT_FAILED") {
		t.Fatalf("events = %v, want PAYMENT_FAILED", env.events.names())
	}
}

func TestPayFraudBlocked(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)
	env.fraud.blockErr = domain.ErrFraudBlocked

	_, err := env.svc.Pay(context.Background(), payReq("user-1", "order-1", 30))
	if !errors.Is(err, domain.ErrFraudBlocked) {
		t.Fatalf("err = %v, want ErrFraudBlocked", err)
	}
	if !env.store.balance("user-1").Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want untouched 100", env.store.balance("user-1"))
	}
	if !env.events.has("PAYMENT_FAILED") {
		t.Fatalf("events = %v, want PAYMENT_FAILED", env.events.names())
	}
}

func TestPayValidation(t *testing.T) {
	env := newTestEnv()

	tests := []struct {
		name string
		req  *PaymentRequest
	}{
		{"missing user", payReq("", "order-1", 30)},
		{"missing order", payReq("user-1", "", 30)},
		{"zero amount", payReq("user-1", "order-1", 0)},
		{"bad entity", &PaymentRequest{
			UserID: "user-1", OrderID: "order-1",
			EntityType: "OTHER", BaseAmount: decimal.NewFromInt(10),
		}},
		{"negative fee", &PaymentRequest{
			UserID: "user-1", OrderID: "order-1",
			EntityType: domain.EntityServiceOrder,
			BaseAmount: decimal.NewFromInt(10),
			VAT:        decimal.NewFromInt(-1),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.Pay(context.Background(), tt.req); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
	// Rejected requests create no records at all.
	if n := len(env.store.transactions(nil)); n != 0 {
		t.Fatalf("transaction count = %d, want 0", n)
	}
}

func TestPayVoucherDiscountAndSingleUse(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)
	env.store.seedVoucher(&domain.Voucher{
		ID:         "v-1",
		Code:       "SAVE20",
		Discount:   decimal.NewFromInt(20),
		Type:       domain.VoucherTypeFixed,
		Scope:      domain.VoucherScopeGlobal,
		MaxUses:    1,
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(time.Hour),
		Active:     true,
	})

	req := payReq("user-1", "order-1", 30)
	req.VoucherCode = "SAVE20"
	resp, err := env.svc.Pay(context.Background(), req)
	if err != nil {
		t.Fatalf("Pay with voucher: %v", err)
	}
	if !resp.VoucherCredit.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("voucher credit = %s, want 20", resp.VoucherCredit)
	}
	if !resp.Total.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("total = %s, want 10", resp.Total)
	}
	if !env.store.balance("user-1").Equal(decimal.NewFromInt(90)) {
		t.Fatalf("balance = %s, want 90", env.store.balance("user-1"))
	}

	env.store.mu.Lock()
	usedCount := env.store.vouchers["SAVE20"].UsedCount
	usageRows := len(env.store.usages)
	env.store.mu.Unlock()
	if usedCount != 1 || usageRows != 1 {
		t.Fatalf("used_count = %d, usage rows = %d, want 1/1", usedCount, usageRows)
	}

	// A second order cannot reuse the exhausted voucher.
	req2 := payReq("user-1", "order-2", 30)
	req2.VoucherCode = "SAVE20"
	if _, err := env.svc.Pay(context.Background(), req2); !errors.Is(err, domain.ErrVoucherInvalid) {
		t.Fatalf("err = %v, want ErrVoucherInvalid on exhausted voucher", err)
	}
}

func TestPayVoucherScopeMismatch(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)
	env.store.seedVoucher(&domain.Voucher{
		ID:         "v-1",
		Code:       "PROD10",
		Discount:   decimal.NewFromInt(10),
		Type:       domain.VoucherTypeFixed,
		Scope:      domain.VoucherScopeProduct,
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidUntil: time.Now().Add(time.Hour),
		Active:     true,
	})

	req := payReq("user-1", "order-1", 30) // SERVICE_ORDER
	req.VoucherCode = "PROD10"
	if _, err := env.svc.Pay(context.Background(), req); !errors.Is(err, domain.ErrVoucherInvalid) {
		t.Fatalf("err = %v, want ErrVoucherInvalid on scope mismatch", err)
	}
}

func TestPayVendorTransferFailureAbortsDebit(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)
	env.gateway.transferErr = errors.New("provider 503")

	req := payReq("user-1", "order-1", 30)
	req.VendorAccount = "vendor-acct"
	_, err := env.svc.Pay(context.Background(), req)
	if !errors.Is(err, domain.ErrGatewayFailure) {
		t.Fatalf("err = %v, want ErrGatewayFailure", err)
	}
	// The whole transaction aborted: no debit survived.
	if !env.store.balance("user-1").Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance = %s, want 100 after aborted payout", env.store.balance("user-1"))
	}
	completed := env.store.transactions(func(tx *domain.WalletTransaction) bool {
		return tx.Status == domain.TxStatusCompleted
	})
	if len(completed) != 0 {
		t.Fatalf("completed transactions = %d, want 0", len(completed))
	}
}

func TestPayRetriesStoreConflicts(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)
	env.store.conflictsLeft = 2

	if _, err := env.svc.Pay(context.Background(), payReq("user-1", "order-1", 30)); err != nil {
		t.Fatalf("Pay after conflicts: %v", err)
	}
	if !env.store.balance("user-1").Equal(decimal.NewFromInt(70)) {
		t.Fatalf("balance = %s, want 70", env.store.balance("user-1"))
	}
}

func TestPaySurfacesConflictAfterRetryBudget(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)
	env.store.conflictsLeft = 3

	_, err := env.svc.Pay(context.Background(), payReq("user-1", "order-1", 30))
	if !errors.Is(err, domain.ErrStoreConflict) {
		t.Fatalf("err = %v, want ErrStoreConflict after exhausted retries", err)
	}
	if !env.events.has("PAYMENT_FAILED") {
		t.Fatalf("events = %v, want PAYMENT_FAILED", env.events.names())
	}
}

func TestPayPersistsTransferReferences(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)

	req := payReq("user-1", "order-1", 30)
	req.ServiceCharge = decimal.NewFromInt(5)
	req.VendorAccount = "vendor-acct"
	req.PlatformAccount = "platform-acct"

	if _, err := env.svc.Pay(context.Background(), req); err != nil {
		t.Fatalf("Pay: %v", err)
	}

	// The durable row, not the in-flight record, must carry both refs.
	txs := env.store.transactions(func(tx *domain.WalletTransaction) bool {
		return tx.Type == domain.TxTypeDeduction
	})
	if len(txs) != 1 {
		t.Fatalf("deduction records = %d, want 1", len(txs))
	}
	meta := txs[0].Metadata.Payment
	if meta == nil {
		t.Fatal("stored record has no payment metadata")
	}
	if meta.VendorRef == "" {
		t.Fatal("stored record missing vendor transfer ref")
	}
	if meta.PlatformFeeRef == "" {
		t.Fatal("stored record missing platform fee transfer ref")
	}
}

func TestPayConcurrentOrdersKeepBalanceInvariant(t *testing.T) {
	env := newTestEnv()
	env.store.seedWallet("user-1", 100)

	const workers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = env.svc.Pay(context.Background(), payReq("user-1", fmt.Sprintf("order-%d", i), 10))
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("order-%d err = %v, want nil or ErrInsufficientFunds", i, err)
		}
	}

	// Balance equals the sum of applied deltas and is never negative.
	want := decimal.NewFromInt(100 - int64(succeeded)*10)
	if got := env.store.balance("user-1"); !got.Equal(want) {
		t.Fatalf("balance = %s, want %s after %d settled payments", got, want, succeeded)
	}
	if env.store.balance("user-1").IsNegative() {
		t.Fatal("balance went negative")
	}
	completed := env.store.transactions(func(tx *domain.WalletTransaction) bool {
		return tx.Type == domain.TxTypeDeduction && tx.Status == domain.TxStatusCompleted
	})
	if len(completed) != succeeded {
		t.Fatalf("completed deductions = %d, want %d", len(completed), succeeded)
	}
}
