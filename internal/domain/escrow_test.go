package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestEscrowReleasable(t *testing.T) {
	tests := []struct {
		status EscrowStatus
		want   bool
	}{
		{EscrowPendingDeposit, false},
		{EscrowFunded, true},
		{EscrowPartiallyReleased, true},
		{EscrowFullyReleased, false},
		{EscrowRefunded, false},
	}

	for _, tt := range tests {
		e := &EscrowTransaction{Status: tt.status}
		if got := e.Releasable(); got != tt.want {
			t.Errorf("Releasable() in %s = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusAfterRelease(t *testing.T) {
	tests := []struct {
		name     string
		released string
		amount   string
		total    string
		want     EscrowStatus
	}{
		{"first partial release", "0", "400", "1000", EscrowPartiallyReleased},
		{"release reaching total", "400", "600", "1000", EscrowFullyReleased},
		{"single full release", "0", "1000", "1000", EscrowFullyReleased},
		{"middle release", "400", "100", "1000", EscrowPartiallyReleased},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &EscrowTransaction{
				TotalAmount:    dec(tt.total),
				ReleasedAmount: dec(tt.released),
			}
			if got := e.StatusAfterRelease(dec(tt.amount)); got != tt.want {
				t.Fatalf("StatusAfterRelease(%s) = %s, want %s", tt.amount, got, tt.want)
			}
		})
	}
}

func TestRefundableAmount(t *testing.T) {
	e := &EscrowTransaction{
		TotalAmount:    dec("1000"),
		ReleasedAmount: dec("400"),
	}
	if got := e.RefundableAmount(); !got.Equal(dec("600")) {
		t.Fatalf("RefundableAmount() = %s, want 600", got)
	}
}

func TestCheckInvariants(t *testing.T) {
	tests := []struct {
		name   string
		escrow EscrowTransaction
		want   bool
	}{
		{
			name: "fresh escrow",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("0"), RefundedAmount: dec("0"),
				Status: EscrowPendingDeposit,
			},
			want: true,
		},
		{
			name: "funded untouched",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("0"), RefundedAmount: dec("0"),
				Status: EscrowFunded,
			},
			want: true,
		},
		{
			name: "partial within bounds",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("400"), RefundedAmount: dec("0"),
				Status: EscrowPartiallyReleased,
			},
			want: true,
		},
		{
			name: "fully released at total",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("1000"), RefundedAmount: dec("0"),
				Status: EscrowFullyReleased,
			},
			want: true,
		},
		{
			name: "refunded balance",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("0"), RefundedAmount: dec("1000"),
				Status: EscrowRefunded,
			},
			want: true,
		},
		{
			name: "overdrawn release",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("1100"), RefundedAmount: dec("0"),
				Status: EscrowFullyReleased,
			},
			want: false,
		},
		{
			name: "release plus refund above total",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("400"), RefundedAmount: dec("700"),
				Status: EscrowRefunded,
			},
			want: false,
		},
		{
			name: "negative released amount",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("-1"), RefundedAmount: dec("0"),
				Status: EscrowFunded,
			},
			want: false,
		},
		{
			name: "funded with release leakage",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("100"), RefundedAmount: dec("0"),
				Status: EscrowFunded,
			},
			want: false,
		},
		{
			name: "partial claiming full total",
			escrow: EscrowTransaction{
				TotalAmount: dec("1000"), ReleasedAmount: dec("1000"), RefundedAmount: dec("0"),
				Status: EscrowPartiallyReleased,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.escrow.CheckInvariants(); got != tt.want {
				t.Fatalf("CheckInvariants() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestReleaseLifecycle walks a $1000 escrow through two milestone releases the way
// the release coordinator does, checking the state machine at each step.
func TestReleaseLifecycle(t *testing.T) {
	e := &EscrowTransaction{
		TotalAmount:    dec("1000"),
		ReleasedAmount: dec("0"),
		RefundedAmount: dec("0"),
		Status:         EscrowFunded,
	}

	// First release: $400 of $1000.
	if !e.Releasable() {
		t.Fatal("funded escrow must be releasable")
	}
	e.Status = e.StatusAfterRelease(dec("400"))
	e.ReleasedAmount = e.ReleasedAmount.Add(dec("400"))
	if e.Status != EscrowPartiallyReleased {
		t.Fatalf("expected PARTIALLY_RELEASED, got %s", e.Status)
	}
	if !e.CheckInvariants() {
		t.Fatal("invariants must hold after first release")
	}

	// Second release: the remaining $600.
	if !e.Releasable() {
		t.Fatal("partially released escrow must be releasable")
	}
	e.Status = e.StatusAfterRelease(dec("600"))
	e.ReleasedAmount = e.ReleasedAmount.Add(dec("600"))
	if e.Status != EscrowFullyReleased {
		t.Fatalf("expected FULLY_RELEASED, got %s", e.Status)
	}
	if !e.CheckInvariants() {
		t.Fatal("invariants must hold after final release")
	}
	if e.Releasable() {
		t.Fatal("fully released escrow must not be releasable")
	}
}
