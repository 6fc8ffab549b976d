package math_test

import (
	fpmath "PredictLedger/internal/math"
	"testing"
)

// ============================================================================
// Test: MulDivFloor
// ============================================================================

func TestMulDivFloor_Floors(t *testing.T) {
	cases := []struct {
		name    string
		a, b, c int64
		want    int64
	}{
		{"exact", 10, 1, 5, 2},
		{"remainder dropped", 7, 1, 2, 3},
		{"just below next", 5, 3, 8, 1},
		{"zero stake", 0, 99, 7, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := fpmath.MulDivFloor(tc.a, tc.b, tc.c); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestMulDivFloor_NoOverflow(t *testing.T) {
	// 9e18 * 9e18 overflows int64; the quotient does not.
	a := int64(9_000_000_000_000_000_000)
	got := fpmath.MulDivFloor(a, a, a)
	if got != a {
		t.Errorf("got %d, want %d", got, a)
	}
}

// ============================================================================
// Test: ComputeFees
// ============================================================================

func TestComputeFees_SplitsWinnings(t *testing.T) {
	// 2 + 3 on the winner, 5 on the loser.
	fb := fpmath.ComputeFees(fpmath.Coins(10), fpmath.Coins(5))

	if fb.Winnings != fpmath.Coins(5) {
		t.Errorf("winnings: got %d, want %d", fb.Winnings, fpmath.Coins(5))
	}
	if fb.TotalFee != 5_000_000 {
		t.Errorf("total fee: got %d, want 5_000_000", fb.TotalFee)
	}
	if fb.PlatformFee != 2_500_000 || fb.CreatorFee != 2_500_000 {
		t.Errorf("split: got platform=%d creator=%d", fb.PlatformFee, fb.CreatorFee)
	}
	if fb.PoolAfterFee != 9_995_000_000 {
		t.Errorf("pool after fee: got %d, want 9_995_000_000", fb.PoolAfterFee)
	}
}

func TestComputeFees_OddTotalFeeGoesToCreator(t *testing.T) {
	fb := fpmath.ComputeFees(3_000+1_000, 1_000)

	if fb.TotalFee != 3 {
		t.Fatalf("total fee: got %d, want 3", fb.TotalFee)
	}
	if fb.PlatformFee != 1 || fb.CreatorFee != 2 {
		t.Errorf("split: got platform=%d creator=%d, want 1/2", fb.PlatformFee, fb.CreatorFee)
	}
}

func TestComputeFees_NoFee(t *testing.T) {
	cases := []struct {
		name        string
		total       int64
		winningPool int64
	}{
		{"nobody backed winner", fpmath.Coins(10), 0},
		{"only winners staked", fpmath.Coins(5), fpmath.Coins(5)},
		{"winnings below divisor", 1_999, 1_000},
		{"empty pool", 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fb := fpmath.ComputeFees(tc.total, tc.winningPool)
			if fb.TotalFee != 0 {
				t.Errorf("total fee: got %d, want 0", fb.TotalFee)
			}
			if fb.PoolAfterFee != tc.total {
				t.Errorf("pool after fee: got %d, want %d", fb.PoolAfterFee, tc.total)
			}
		})
	}
}

func TestComputeFees_Conservation(t *testing.T) {
	for total := int64(1); total < 5_000; total += 37 {
		for winning := int64(0); winning <= total; winning += 53 {
			fb := fpmath.ComputeFees(total, winning)
			if fb.PlatformFee+fb.CreatorFee != fb.TotalFee {
				t.Fatalf("fee split does not add up: %+v", fb)
			}
			if fb.PoolAfterFee+fb.TotalFee != total {
				t.Fatalf("pool not conserved: %+v total=%d", fb, total)
			}
		}
	}
}

// ============================================================================
// Test: ProportionalPayout
// ============================================================================

func TestProportionalPayout(t *testing.T) {
	pool := int64(9_995_000_000)
	winning := fpmath.Coins(5)

	a := fpmath.ProportionalPayout(fpmath.Coins(2), pool, winning)
	b := fpmath.ProportionalPayout(fpmath.Coins(3), pool, winning)

	if a != 3_998_000_000 {
		t.Errorf("2/5 share: got %d, want 3_998_000_000", a)
	}
	if b != 5_997_000_000 {
		t.Errorf("3/5 share: got %d, want 5_997_000_000", b)
	}
	if a+b > pool {
		t.Errorf("payouts %d exceed pool %d", a+b, pool)
	}
}

func TestProportionalPayout_ZeroStake(t *testing.T) {
	if got := fpmath.ProportionalPayout(0, 100, 10); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := fpmath.ProportionalPayout(5, 100, 0); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

// ============================================================================
// Test: Amount parsing
// ============================================================================

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1", 1_000_000_000},
		{"1.5", 1_500_000_000},
		{"0.000000001", 1},
		{"9.995", 9_995_000_000},
	}
	for _, tc := range cases {
		got, err := fpmath.ParseAmount(tc.in)
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseAmount(%q): got %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, in := range []string{"abc", "-1", "0.0000000001", "99999999999999"} {
		if _, err := fpmath.ParseAmount(in); err == nil {
			t.Errorf("ParseAmount(%q) should fail", in)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := fpmath.FormatAmount(9_995_000_000); got != "9.995" {
		t.Errorf("got %q, want %q", got, "9.995")
	}
	if got := fpmath.FormatAmount(fpmath.Coins(3)); got != "3" {
		t.Errorf("got %q, want %q", got, "3")
	}
}
