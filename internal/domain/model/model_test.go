package model

import "testing"

func TestCanTransitionHappyPath(t *testing.T) {
	path := []OrderStatus{
		OrderStatusCreated,
		OrderStatusAwaitingPayment,
		OrderStatusPaid,
		OrderStatusProcessing,
		OrderStatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be allowed", path[i], path[i+1])
		}
	}
}

func TestCanTransitionRejectsSkipsAndReversals(t *testing.T) {
	cases := []struct{ from, to OrderStatus }{
		{OrderStatusCreated, OrderStatusPaid},
		{OrderStatusCreated, OrderStatusCompleted},
		{OrderStatusPaid, OrderStatusAwaitingPayment},
		{OrderStatusProcessing, OrderStatusPaid},
		{OrderStatusPaid, OrderStatusPaid},
		{OrderStatusCompleted, OrderStatusFailed},
		{OrderStatusCanceled, OrderStatusProcessing},
		{OrderStatusCompleted, OrderStatusCanceled},
	}
	for _, c := range cases {
		if CanTransition(c.from, c.to) {
			t.Fatalf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

func TestCanTransitionFailureAndCancelFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []OrderStatus{
		OrderStatusCreated,
		OrderStatusAwaitingPayment,
		OrderStatusPaid,
		OrderStatusProcessing,
	}
	for _, from := range nonTerminal {
		if !CanTransition(from, OrderStatusFailed) {
			t.Fatalf("expected %s -> FAILED to be allowed", from)
		}
		if !CanTransition(from, OrderStatusCanceled) {
			t.Fatalf("expected %s -> CANCELED to be allowed", from)
		}
	}
}

func TestCanTransitionFailedIsRecoverable(t *testing.T) {
	if !CanTransition(OrderStatusFailed, OrderStatusProcessing) {
		t.Fatal("expected FAILED -> PROCESSING to be allowed for recovery")
	}
	if CanTransition(OrderStatusFailed, OrderStatusCompleted) {
		t.Fatal("expected FAILED -> COMPLETED to require PROCESSING first")
	}
}

func TestNormalizeESimStatusKnownMappings(t *testing.T) {
	cases := map[string]ESimStatus{
		"IN_USE":         ESimStatusActivated,
		"ENABLED":        ESimStatusActivated,
		"GOT_RESOURCE":   ESimStatusActivated,
		"INSTALLATION":   ESimStatusProcessing,
		"CANCEL":         ESimStatusCanceled,
		"RELEASED":       ESimStatusCanceled,
		"USED_UP":        ESimStatusDepleted,
		"UNUSED_EXPIRED": ESimStatusExpired,
	}
	for provider, want := range cases {
		got, ok := NormalizeESimStatus(provider)
		if !ok {
			t.Fatalf("expected %s to be a known status", provider)
		}
		if got != want {
			t.Fatalf("status %s: expected %s, got %s", provider, want, got)
		}
	}
}

func TestNormalizeESimStatusUnknownPassesThrough(t *testing.T) {
	got, ok := NormalizeESimStatus("SOME_FUTURE_STATE")
	if ok {
		t.Fatal("expected unknown status to be flagged")
	}
	if got != ESimStatus("SOME_FUTURE_STATE") {
		t.Fatalf("expected verbatim pass-through, got %s", got)
	}
}

func TestRemainingFraction(t *testing.T) {
	e := ESim{TotalBytes: 1 << 30, UsedBytes: (1 << 30) - (1 << 28)}
	if got := e.RemainingFraction(); got != 0.25 {
		t.Fatalf("expected 0.25 remaining, got %v", got)
	}

	over := ESim{TotalBytes: 100, UsedBytes: 150}
	if got := over.RemainingFraction(); got != 0 {
		t.Fatalf("expected clamped zero, got %v", got)
	}

	unknown := ESim{TotalBytes: 0, UsedBytes: 10}
	if got := unknown.RemainingFraction(); got != 1 {
		t.Fatalf("expected full allowance for unknown volume, got %v", got)
	}
}
