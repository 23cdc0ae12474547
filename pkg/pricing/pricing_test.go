package pricing

import (
	"fmt"
	"math"
	"testing"

	"github.com/Iwinswap/iwinswap-solvency-pool-go/pkg/wad"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var thresholds = []string{"0.25", "0.23", "0.20"}

func TestCoverageRatio(t *testing.T) {
	got, err := CoverageRatio(wad.FromUnits(500), wad.FromUnits(1000))
	require.NoError(t, err)
	assert.Equal(t, wad.MustParse("0.5"), got)

	got, err = CoverageRatio(wad.FromUnits(1200), wad.FromUnits(1000))
	require.NoError(t, err)
	assert.Equal(t, wad.MustParse("1.2"), got)

	_, err = CoverageRatio(wad.FromUnits(1), wad.Zero())
	assert.ErrorIs(t, err, ErrLiabilityZero)
}

func TestLiquidityConversions(t *testing.T) {
	liability := wad.FromUnits(1100)
	supply := wad.FromUnits(1000)

	t.Run("LiquidityToTokenAmount", func(t *testing.T) {
		got, err := LiquidityToTokenAmount(wad.FromUnits(100), liability, supply)
		require.NoError(t, err)
		assert.Equal(t, wad.FromUnits(110), got)
	})

	t.Run("TokenAmountToLiquidity", func(t *testing.T) {
		got, err := TokenAmountToLiquidity(wad.FromUnits(110), liability, supply)
		require.NoError(t, err)
		assert.Equal(t, wad.FromUnits(100), got)
	})

	t.Run("ZeroDenominators", func(t *testing.T) {
		_, err := LiquidityToTokenAmount(wad.One, liability, wad.Zero())
		assert.ErrorIs(t, err, ErrTotalSupplyZero)
		_, err = LiquidityToTokenAmount(wad.One, wad.Zero(), supply)
		assert.ErrorIs(t, err, ErrLiabilityZero)
		_, err = TokenAmountToLiquidity(wad.One, liability, wad.Zero())
		assert.ErrorIs(t, err, ErrTotalSupplyZero)
		_, err = TokenAmountToLiquidity(wad.One, wad.Zero(), supply)
		assert.ErrorIs(t, err, ErrLiabilityZero)
	})
}

func TestSolvencyCurveIntegral(t *testing.T) {
	for _, th := range thresholds {
		rThres := wad.MustParse(th)

		t.Run("ContinuousAtThreshold_"+th, func(t *testing.T) {
			linear, err := integralLinear(rThres, rThres)
			require.NoError(t, err)
			curved, err := integralCurved(rThres, rThres)
			require.NoError(t, err)
			assert.Equal(t, linear, curved)

			// (1 - rT) / 5 at the threshold itself.
			want, _ := wad.Sub(wad.One, rThres)
			want.Div(want, five)
			got, err := SolvencyCurveIntegral(rThres, rThres)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})

		t.Run("NonIncreasing_"+th, func(t *testing.T) {
			step := wad.MustParse("0.005")
			prev, err := SolvencyCurveIntegral(rThres, step)
			require.NoError(t, err)
			for r := new(uint256.Int).Add(step, step); r.Cmp(wad.MustParse("1.2")) <= 0; r = new(uint256.Int).Add(r, step) {
				f, err := SolvencyCurveIntegral(rThres, r)
				require.NoError(t, err)
				require.False(t, f.Gt(prev), "F(%s)=%s above previous %s", wad.Format(r), wad.Format(f), wad.Format(prev))
				prev = f
			}
		})

		t.Run("ZeroAtOrAboveOne_"+th, func(t *testing.T) {
			for _, r := range []string{"1", "1.0001", "5"} {
				f, err := SolvencyCurveIntegral(rThres, wad.MustParse(r))
				require.NoError(t, err)
				assert.True(t, f.IsZero(), "F(%s)", r)
			}
		})
	}

	t.Run("KnownValue", func(t *testing.T) {
		// 0.1^5 / (5 * 0.75^4)
		f, err := SolvencyCurveIntegral(wad.MustParse("0.25"), wad.MustParse("0.9"))
		require.NoError(t, err)
		assert.Equal(t, uint256.NewInt(6_320_987_654_320), f)
	})

	t.Run("RejectsZeroInputs", func(t *testing.T) {
		_, err := SolvencyCurveIntegral(wad.Zero(), wad.One)
		assert.ErrorIs(t, err, ErrRThresholdZero)
		_, err = SolvencyCurveIntegral(wad.MustParse("0.25"), wad.Zero())
		assert.ErrorIs(t, err, ErrRatioZero)
	})
}

func TestSolvencyScore(t *testing.T) {
	rThres := wad.MustParse("0.25")
	cash, liability := wad.FromUnits(800), wad.FromUnits(1000)

	t.Run("ZeroChange", func(t *testing.T) {
		for _, add := range []bool{true, false} {
			s, err := SolvencyScore(rThres, cash, liability, wad.Zero(), add)
			require.NoError(t, err)
			assert.True(t, s.IsZero(), "addCash=%v", add)
		}
	})

	t.Run("AboveFullCoverage", func(t *testing.T) {
		// Both ratios sit on the flat branch, so there is no price impact.
		s, err := SolvencyScore(rThres, wad.FromUnits(1000), liability, wad.FromUnits(100), true)
		require.NoError(t, err)
		assert.True(t, s.IsZero())
	})

	t.Run("CashOutflowFromBalancedAsset", func(t *testing.T) {
		s, err := SolvencyScore(rThres, wad.FromUnits(1000), liability, wad.FromUnits(100), false)
		require.NoError(t, err)
		assert.Equal(t, uint256.NewInt(63_209_876_543_200), s)
	})

	t.Run("LiabilityZero", func(t *testing.T) {
		_, err := SolvencyScore(rThres, cash, wad.Zero(), wad.One, true)
		assert.ErrorIs(t, err, ErrLiabilityZero)
	})

	t.Run("DrainingToZero", func(t *testing.T) {
		_, err := SolvencyScore(rThres, cash, liability, cash, false)
		assert.ErrorIs(t, err, ErrRatioZero)
	})

	t.Run("Underflow", func(t *testing.T) {
		_, err := SolvencyScore(rThres, cash, liability, wad.FromUnits(801), false)
		assert.ErrorIs(t, err, wad.ErrUnderflow)
	})
}

func TestSolvencyScoreProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rThres := wad.MustParse(rapid.SampledFrom(thresholds).Draw(t, "rThres"))
		liability := wad.FromUnits(rapid.Uint64Range(1, 1_000_000).Draw(t, "liability"))
		cash := wad.FromUnits(rapid.Uint64Range(1, 2_000_000).Draw(t, "cash"))
		change := wad.FromUnits(rapid.Uint64Range(0, 1_000_000).Draw(t, "change"))
		add := rapid.Bool().Draw(t, "add")
		if !add && change.Cmp(cash) >= 0 {
			t.Skip("outflow would drain the asset")
		}

		s, err := SolvencyScore(rThres, cash, liability, change, add)
		if err != nil {
			t.Fatalf("SolvencyScore: %v", err)
		}
		// The steepest slope of F is 1 on the linear branch.
		if s.Gt(wad.One) {
			t.Fatalf("score %s above 1", wad.Format(s))
		}

		got, err := ComputeToAmount(s, s, change)
		if err != nil {
			t.Fatalf("ComputeToAmount: %v", err)
		}
		if !got.Eq(change) {
			t.Fatalf("equal scores changed %s to %s", change, got)
		}
	})
}

func TestComputeToAmount(t *testing.T) {
	amount := wad.FromUnits(100)

	got, err := ComputeToAmount(wad.MustParse("0.01"), wad.MustParse("0.03"), amount)
	require.NoError(t, err)
	assert.Equal(t, wad.FromUnits(98), got)

	got, err = ComputeToAmount(wad.MustParse("0.02"), wad.Zero(), amount)
	require.NoError(t, err)
	assert.Equal(t, wad.FromUnits(102), got)

	_, err = ComputeToAmount(wad.Zero(), wad.MustParse("1.5"), amount)
	assert.ErrorIs(t, err, wad.ErrUnderflow)
}

func TestHaircutAndDividend(t *testing.T) {
	h, err := Haircut(wad.FromUnits(1000), wad.MustParse("0.0003"))
	require.NoError(t, err)
	assert.Equal(t, wad.MustParse("0.3"), h)

	d, err := Dividend(h, wad.MustParse("0.2"))
	require.NoError(t, err)
	assert.Equal(t, wad.MustParse("0.24"), d)

	d, err = Dividend(h, wad.One)
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = Dividend(h, wad.MustParse("1.1"))
	assert.ErrorIs(t, err, wad.ErrUnderflow)
}

func TestConvertTokenAmount(t *testing.T) {
	got, err := ConvertTokenAmount(wad.FromUnits(10), wad.MustParse("1.05"), wad.MustParse("0.5"))
	require.NoError(t, err)
	assert.Equal(t, wad.FromUnits(21), got)

	got, err = ConvertTokenAmount(wad.FromUnits(10), wad.One, wad.One)
	require.NoError(t, err)
	assert.Equal(t, wad.FromUnits(10), got)

	_, err = ConvertTokenAmount(wad.One, wad.Zero(), wad.One)
	assert.ErrorIs(t, err, ErrPriceZero)
	_, err = ConvertTokenAmount(wad.One, wad.One, wad.Zero())
	assert.ErrorIs(t, err, ErrPriceZero)
}

func TestWithdrawalFee(t *testing.T) {
	rThres := wad.MustParse("0.25")

	t.Run("ZeroAtFullCoverage", func(t *testing.T) {
		for _, cash := range []uint64{1000, 1500} {
			fee, err := WithdrawalFee(rThres, wad.FromUnits(cash), wad.FromUnits(1000), wad.FromUnits(400))
			require.NoError(t, err)
			assert.True(t, fee.IsZero(), "cash=%d", cash)
		}
	})

	t.Run("FullWithdrawal", func(t *testing.T) {
		// x = 0: the remaining cash is zero and every unit of cash is paid out.
		fee, err := WithdrawalFee(rThres, wad.MustParse("0.5"), wad.One, wad.One)
		require.NoError(t, err)
		assert.Equal(t, wad.MustParse("0.5"), fee)
	})

	t.Run("PartialWithdrawal", func(t *testing.T) {
		fee, err := WithdrawalFee(rThres, wad.MustParse("0.5"), wad.One, wad.MustParse("0.1"))
		require.NoError(t, err)
		assert.Equal(t, uint256.NewInt(22_324_391_068_015_913), fee)
	})

	t.Run("EmptyAsset", func(t *testing.T) {
		fee, err := WithdrawalFee(rThres, wad.Zero(), wad.One, wad.MustParse("0.3"))
		require.NoError(t, err)
		assert.Equal(t, wad.MustParse("0.3"), fee)
	})

	t.Run("BelowWadPrecision", func(t *testing.T) {
		// (1 - c)^3 truncates to zero when 1 - c < 1e-6.
		cash := new(uint256.Int).Sub(wad.One, uint256.NewInt(100_000_000_000))
		fee, err := WithdrawalFee(rThres, cash, wad.One, wad.MustParse("0.5"))
		require.NoError(t, err)
		assert.True(t, fee.IsZero())
	})

	t.Run("InvariantBelowThreshold", func(t *testing.T) {
		// Coverage far below the threshold has no valid solution.
		_, err := WithdrawalFee(rThres, wad.MustParse("0.01"), wad.One, wad.MustParse("0.8"))
		assert.ErrorIs(t, err, ErrFeeInvariant)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := WithdrawalFee(rThres, wad.One, wad.Zero(), wad.One)
		assert.ErrorIs(t, err, ErrLiabilityZero)
		_, err = WithdrawalFee(rThres, wad.MustParse("0.5"), wad.One, wad.FromUnits(2))
		assert.ErrorIs(t, err, wad.ErrUnderflow)
	})
}

// Above the threshold every withdrawal of at least 1e-9 of liability has a
// fee within [0, Δ] and the invariant holds.
func TestWithdrawalFeeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rThres := wad.MustParse(rapid.SampledFrom(thresholds).Draw(t, "rThres"))
		liability := wad.FromUnits(rapid.Uint64Range(1, 1_000_000_000).Draw(t, "liability"))

		floor, _ := wad.Mul(liability, rThres)
		span := new(uint256.Int).Sub(liability, floor)
		cashFrac := rapid.Uint64Range(1, 999_999).Draw(t, "cashFrac")
		cash := new(uint256.Int).Mul(span, uint256.NewInt(cashFrac))
		cash.Div(cash, uint256.NewInt(1_000_000))
		cash.Add(cash, floor)

		deltaFrac := rapid.Uint64Range(1, 1_000_000_000).Draw(t, "deltaFrac")
		delta := new(uint256.Int).Mul(liability, uint256.NewInt(deltaFrac))
		delta.Div(delta, uint256.NewInt(1_000_000_000))

		fee, err := WithdrawalFee(rThres, cash, liability, delta)
		if err != nil {
			t.Fatalf("WithdrawalFee(%s, %s, %s): %v", wad.Format(cash), wad.Format(liability), wad.Format(delta), err)
		}
		if fee.Gt(delta) {
			t.Fatalf("fee %s above withdrawal %s", wad.Format(fee), wad.Format(delta))
		}
	})
}

func ExampleWithdrawalFee() {
	fee, _ := WithdrawalFee(wad.MustParse("0.25"), wad.MustParse("0.5"), wad.One, wad.One)
	fmt.Println(wad.Format(fee))
	// Output: 0.5
}

func TestWithdrawalFeePrecisionFloor(t *testing.T) {
	rThres := wad.MustParse("0.25")
	liability := wad.FromUnits(1_000_000)
	cash := wad.FromUnits(600_000)
	// ((1 - 0.6) / (1 - 0.25))^4
	slope := math.Pow(0.4/0.75, 4)

	tests := []struct {
		name  string
		delta string
	}{
		{"below the floor uses the first-order fee", "0.00001"},
		{"smallest amount priced by the solve", "0.0001"},
		{"nano amount", "0.000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := wad.MustParse(tt.delta)
			fee, err := WithdrawalFee(rThres, cash, liability, delta)
			require.NoError(t, err)
			assert.False(t, fee.IsZero())
			assert.True(t, fee.Lt(delta))
			assert.InEpsilon(t, slope, wad.Float64(fee)/wad.Float64(delta), 1e-3)
		})
	}

	t.Run("continuous across the floor", func(t *testing.T) {
		below, err := WithdrawalFee(rThres, cash, liability, wad.MustParse("0.0000999"))
		require.NoError(t, err)
		at, err := WithdrawalFee(rThres, cash, liability, wad.MustParse("0.0001"))
		require.NoError(t, err)
		assert.InEpsilon(t, wad.Float64(below)/0.0000999, wad.Float64(at)/0.0001, 1e-3)
	})

	t.Run("capped at the amount below the threshold", func(t *testing.T) {
		fee, err := WithdrawalFee(rThres, wad.FromUnits(100_000), liability, wad.MustParse("0.00001"))
		require.NoError(t, err)
		assert.Equal(t, wad.MustParse("0.00001"), fee)
	})

	t.Run("fully covered assets never reach the solver", func(t *testing.T) {
		fee, err := WithdrawalFee(rThres, liability, liability, uint256.NewInt(1))
		require.NoError(t, err)
		assert.True(t, fee.IsZero())
	})
}
