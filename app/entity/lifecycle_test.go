package entity

import (
	"reflect"
	"testing"
)

func TestNextFollowsTransitionTable(t *testing.T) {
	cases := []struct {
		from PaymentStatus
		t    Transition
		to   PaymentStatus
		ok   bool
	}{
		{PaymentStatusPending, TransitionAuthorize, PaymentStatusAuthorized, true},
		{PaymentStatusPending, TransitionFail, PaymentStatusFailed, true},
		{PaymentStatusPending, TransitionCancel, PaymentStatusCancelled, true},
		{PaymentStatusPending, TransitionCapture, "", false},
		{PaymentStatusAuthorized, TransitionCapture, PaymentStatusConfirmed, true},
		{PaymentStatusAuthorized, TransitionFail, PaymentStatusFailed, true},
		{PaymentStatusAuthorized, TransitionCancel, PaymentStatusCancelled, true},
		{PaymentStatusAuthorized, TransitionRefund, "", false},
		{PaymentStatusConfirmed, TransitionRefund, PaymentStatusRefunded, true},
		{PaymentStatusConfirmed, TransitionFail, "", false},
		{PaymentStatusConfirmed, TransitionCancel, "", false},
		{PaymentStatusRefunded, TransitionFail, "", false},
		{PaymentStatusFailed, TransitionAuthorize, "", false},
		{PaymentStatusCancelled, TransitionCapture, "", false},
	}

	for _, tc := range cases {
		to, ok := Next(tc.from, tc.t)
		if ok != tc.ok || to != tc.to {
			t.Fatalf("Next(%s, %s) = (%q, %v), want (%q, %v)", tc.from, tc.t, to, ok, tc.to, tc.ok)
		}
	}
}

func TestPathToResolvesOutOfOrderTargets(t *testing.T) {
	path, ok := PathTo(PaymentStatusAuthorized, PaymentStatusRefunded)
	if !ok {
		t.Fatal("expected refunded to be reachable from authorized")
	}
	if !reflect.DeepEqual(path, []Transition{TransitionCapture, TransitionRefund}) {
		t.Fatalf("unexpected path: %v", path)
	}

	path, ok = PathTo(PaymentStatusPending, PaymentStatusConfirmed)
	if !ok || !reflect.DeepEqual(path, []Transition{TransitionAuthorize, TransitionCapture}) {
		t.Fatalf("unexpected pending->confirmed path: %v ok=%v", path, ok)
	}

	path, ok = PathTo(PaymentStatusPending, PaymentStatusFailed)
	if !ok || !reflect.DeepEqual(path, []Transition{TransitionFail}) {
		t.Fatalf("unexpected pending->failed path: %v ok=%v", path, ok)
	}
}

func TestPathToRejectsBackwardMoves(t *testing.T) {
	if _, ok := PathTo(PaymentStatusConfirmed, PaymentStatusPending); ok {
		t.Fatal("expected confirmed->pending to be unreachable")
	}
	if _, ok := PathTo(PaymentStatusConfirmed, PaymentStatusFailed); ok {
		t.Fatal("expected confirmed->failed to be unreachable")
	}
	if _, ok := PathTo(PaymentStatusFailed, PaymentStatusConfirmed); ok {
		t.Fatal("expected failed->confirmed to be unreachable")
	}
	path, ok := PathTo(PaymentStatusConfirmed, PaymentStatusConfirmed)
	if !ok || len(path) != 0 {
		t.Fatalf("expected empty path for same status, got %v ok=%v", path, ok)
	}
}

func TestRefundableCents(t *testing.T) {
	p := &Payment{Status: PaymentStatusConfirmed, CapturedCents: 5000, RefundedCents: 2000}
	if got := p.RefundableCents(); got != 3000 {
		t.Fatalf("expected 3000 refundable, got %d", got)
	}
	p.Status = PaymentStatusRefunded
	if got := p.RefundableCents(); got != 0 {
		t.Fatalf("expected 0 refundable once refunded, got %d", got)
	}
}
