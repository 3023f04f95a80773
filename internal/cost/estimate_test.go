package cost

import "testing"

func TestEstimateKnownModel(t *testing.T) {
	got := Estimate("gpt-4o", 1_000_000, 1_000_000)
	want := 2.50 + 10.00
	if got != want {
		t.Fatalf("Estimate = %v, want %v", got, want)
	}
}

func TestEstimateUnknownModelUsesDefault(t *testing.T) {
	got := Estimate("some-totally-unknown-model", 1_000_000, 1_000_000)
	want := 1.0 + 3.0
	if got != want {
		t.Fatalf("Estimate = %v, want default-priced %v", got, want)
	}
}

func TestEstimateZeroMaxTokensBoundary(t *testing.T) {
	// A stage with zero max_tokens: output side costs 0, input side
	// may still be nonzero.
	got := Estimate("gpt-4o", 500, 0)
	want := 500 * 2.50 / 1_000_000
	if got != want {
		t.Fatalf("Estimate = %v, want %v", got, want)
	}
}

func TestEstimateZeroTokensIsZeroCost(t *testing.T) {
	if got := Estimate("deepseek-chat", 0, 0); got != 0 {
		t.Fatalf("Estimate(0,0) = %v, want 0", got)
	}
}
