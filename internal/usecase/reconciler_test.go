package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/provider/mpesa"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/repository"
)

type recordingNotifier struct {
	messages chan string
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, message string) error {
	n.messages <- message
	return nil
}

type recordingCounter struct {
	bumps chan string
}

func (c *recordingCounter) IncrementTransactionCount(_ context.Context, _, phoneHash string) error {
	c.bumps <- phoneHash
	return nil
}

func waitFor(t *testing.T, ch chan string, what string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return ""
	}
}

type reconcilerFixture struct {
	reconciler *CallbackReconciler
	store      *repository.MemoryStore
	notifier   *recordingNotifier
	contacts   *recordingCounter
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	notifier := &recordingNotifier{messages: make(chan string, 8)}
	contacts := &recordingCounter{bumps: make(chan string, 8)}
	return &reconcilerFixture{
		reconciler: NewCallbackReconciler(store, contacts, notifier, zap.NewNop()),
		store:      store,
		notifier:   notifier,
		contacts:   contacts,
	}
}

func seedPushed(t *testing.T, store *repository.MemoryStore, checkoutID string) *domain.Transaction {
	t.Helper()
	pushedAt := time.Now().UTC().Add(-time.Minute)
	txn := &domain.Transaction{
		ID:                 "01PUSHED" + checkoutID,
		IdempotencyKey:     "key-" + checkoutID,
		SenderID:           "user-1",
		Type:               domain.TypeSendMoney,
		Status:             domain.StatusPushed,
		Amount:             decimal.NewFromInt(500),
		Currency:           "KES",
		RecipientPhoneHash: "hash-1",
		RecipientName:      "Jane",
		CheckoutRequestID:  checkoutID,
		CreatedAt:          pushedAt.Add(-time.Minute),
		PushedAt:           &pushedAt,
	}
	if err := store.Create(context.Background(), txn); err != nil {
		t.Fatalf("seed pushed transaction: %v", err)
	}
	return txn
}

func TestReconcileSuccess(t *testing.T) {
	f := newReconcilerFixture(t)
	seedPushed(t, f.store, "co-1")

	err := f.reconciler.Reconcile(context.Background(), &mpesa.CallbackResult{
		CheckoutRequestID: "co-1",
		ResultCode:        0,
		ResultDescription: "The service request is processed successfully.",
		ReceiptNumber:     "QK12XYZ",
		Amount:            decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	txn, err := f.store.GetByID(context.Background(), "01PUSHEDco-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if txn.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", txn.Status)
	}
	if txn.GatewayReceiptNumber != "QK12XYZ" {
		t.Errorf("receipt = %q", txn.GatewayReceiptNumber)
	}
	if txn.ResultCode == nil || *txn.ResultCode != 0 {
		t.Error("result code not recorded")
	}
	if txn.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}

	if hash := waitFor(t, f.contacts.bumps, "contact bump"); hash != "hash-1" {
		t.Errorf("contact bumped with hash %q", hash)
	}
	msg := waitFor(t, f.notifier.messages, "success notification")
	if msg == "" {
		t.Error("empty notification message")
	}
}

func TestReconcileFailure(t *testing.T) {
	f := newReconcilerFixture(t)
	seedPushed(t, f.store, "co-2")

	err := f.reconciler.Reconcile(context.Background(), &mpesa.CallbackResult{
		CheckoutRequestID: "co-2",
		ResultCode:        1032,
		ResultDescription: "Request cancelled by user",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	txn, _ := f.store.GetByID(context.Background(), "01PUSHEDco-2")
	if txn.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", txn.Status)
	}
	if txn.FailureReason != "Request cancelled by user" {
		t.Errorf("failure reason = %q", txn.FailureReason)
	}
	if txn.GatewayReceiptNumber != "" {
		t.Error("receipt recorded on failure")
	}

	waitFor(t, f.notifier.messages, "failure notification")
	select {
	case <-f.contacts.bumps:
		t.Error("contact bumped on failed payment")
	default:
	}
}

func TestReconcileDuplicateCallbackIgnored(t *testing.T) {
	f := newReconcilerFixture(t)
	seedPushed(t, f.store, "co-3")

	success := &mpesa.CallbackResult{
		CheckoutRequestID: "co-3",
		ResultCode:        0,
		ReceiptNumber:     "QK99ABC",
	}
	if err := f.reconciler.Reconcile(context.Background(), success); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	waitFor(t, f.notifier.messages, "first notification")
	waitFor(t, f.contacts.bumps, "first contact bump")

	// A replay, and a contradictory late failure, both land on a settled
	// record and change nothing.
	if err := f.reconciler.Reconcile(context.Background(), success); err != nil {
		t.Fatalf("replay reconcile: %v", err)
	}
	late := &mpesa.CallbackResult{CheckoutRequestID: "co-3", ResultCode: 1, ResultDescription: "late failure"}
	if err := f.reconciler.Reconcile(context.Background(), late); err != nil {
		t.Fatalf("late reconcile: %v", err)
	}

	txn, _ := f.store.GetByID(context.Background(), "01PUSHEDco-3")
	if txn.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", txn.Status)
	}
	if len(f.notifier.messages) != 0 {
		t.Error("duplicate callback produced a second notification")
	}
	if len(f.contacts.bumps) != 0 {
		t.Error("duplicate callback bumped the contact again")
	}
}

func TestReconcileUnknownCheckoutID(t *testing.T) {
	f := newReconcilerFixture(t)

	err := f.reconciler.Reconcile(context.Background(), &mpesa.CallbackResult{
		CheckoutRequestID: "co-missing",
		ResultCode:        0,
	})
	if err != nil {
		t.Fatalf("unknown checkout id must not error: %v", err)
	}
}
