package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func newTransaction(status TransactionStatus) *Transaction {
	return &Transaction{
		ID:       "01TEST",
		SenderID: "user-1",
		Type:     TypeSendMoney,
		Status:   status,
		Amount:   decimal.NewFromInt(100),
		Currency: "KES",
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from    TransactionStatus
		to      TransactionStatus
		allowed bool
	}{
		{StatusInitiated, StatusPendingConfirmation, true},
		{StatusInitiated, StatusCancelled, true},
		{StatusInitiated, StatusConfirmed, false},
		{StatusInitiated, StatusCompleted, false},

		{StatusPendingConfirmation, StatusConfirmed, true},
		{StatusPendingConfirmation, StatusCancelled, true},
		{StatusPendingConfirmation, StatusExpired, true},
		{StatusPendingConfirmation, StatusPushed, false},
		{StatusPendingConfirmation, StatusCompleted, false},

		{StatusConfirmed, StatusProcessing, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusCompleted, false},

		{StatusProcessing, StatusPushed, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, false},

		{StatusPushed, StatusCompleted, true},
		{StatusPushed, StatusFailed, true},
		{StatusPushed, StatusCancelled, false},
		{StatusPushed, StatusExpired, false},

		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusFailed, false},

		{StatusFailed, StatusPushed, false},
		{StatusCancelled, StatusPendingConfirmation, false},
		{StatusExpired, StatusConfirmed, false},
		{StatusRefunded, StatusCompleted, false},
	}

	for _, tc := range tests {
		txn := newTransaction(tc.from)
		err := txn.TransitionTo(tc.to)
		if tc.allowed && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.allowed {
			if err == nil {
				t.Errorf("%s -> %s: expected error, got none", tc.from, tc.to)
			} else if !errors.Is(err, ErrInvalidStateTransition) {
				t.Errorf("%s -> %s: error %v does not match ErrInvalidStateTransition", tc.from, tc.to, err)
			}
			if txn.Status != tc.from {
				t.Errorf("%s -> %s: status changed to %s on rejected transition", tc.from, tc.to, txn.Status)
			}
		}
	}
}

func TestTransitionStampsTimestamps(t *testing.T) {
	txn := newTransaction(StatusProcessing)
	if err := txn.TransitionTo(StatusPushed); err != nil {
		t.Fatalf("transition to pushed: %v", err)
	}
	if txn.PushedAt == nil {
		t.Fatal("PushedAt not stamped")
	}

	if err := txn.TransitionTo(StatusCompleted); err != nil {
		t.Fatalf("transition to completed: %v", err)
	}
	if txn.CompletedAt == nil {
		t.Fatal("CompletedAt not stamped")
	}

	failed := newTransaction(StatusPushed)
	if err := failed.TransitionTo(StatusFailed); err != nil {
		t.Fatalf("transition to failed: %v", err)
	}
	if failed.FailedAt == nil {
		t.Fatal("FailedAt not stamped")
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []TransactionStatus{
		StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded,
	}
	live := []TransactionStatus{
		StatusInitiated, StatusPendingConfirmation, StatusConfirmed, StatusProcessing, StatusPushed,
	}

	for _, s := range terminal {
		if !newTransaction(s).IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range live {
		if newTransaction(s).IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestInvalidTransitionErrorDetail(t *testing.T) {
	txn := newTransaction(StatusPushed)
	err := txn.TransitionTo(StatusCancelled)

	var detail *InvalidTransitionError
	if !errors.As(err, &detail) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if detail.From != StatusPushed || detail.To != StatusCancelled {
		t.Errorf("unexpected detail: %+v", detail)
	}
}
