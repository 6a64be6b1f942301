package loop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStepSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		total       int64
		denominator int64
		want        int64
	}{
		{name: "tiny loop reports every iteration", total: 10, denominator: 1, want: 1},
		{name: "at threshold stays unsampled", total: 200, denominator: 1, want: 1},
		{name: "just past threshold", total: 201, denominator: 1, want: 2},
		{name: "global counter large loop", total: 1_000_000, denominator: 1, want: 10_000},
		{name: "small share per worker", total: 1000, denominator: 250, want: 1},
		{name: "large total few units", total: 1_000_000, denominator: 100_000, want: 1},
		{name: "per worker sampling", total: 1_000_000, denominator: 10, want: 1000},
		{name: "zero denominator treated as one", total: 1000, denominator: 0, want: 10},
		{name: "negative denominator treated as one", total: 500, denominator: -3, want: 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, StepSize(tc.total, tc.denominator))
		})
	}
}

func TestStepSizeNeverBelowOne(t *testing.T) {
	t.Parallel()

	for total := int64(1); total <= 500; total++ {
		for _, den := range []int64{1, 2, 3, 7, 50, 400} {
			require.GreaterOrEqual(t, StepSize(total, den), int64(1),
				"total=%d denominator=%d", total, den)
		}
	}
}

func TestStepSizeUnsampledBelowThreshold(t *testing.T) {
	t.Parallel()

	// Any loop with at most 200 iterations per unit reports every increment.
	for _, den := range []int64{1, 4, 16} {
		for total := int64(1); total <= 200*den; total += den {
			require.Equal(t, int64(1), StepSize(total, den),
				"total=%d denominator=%d", total, den)
		}
	}
}

func TestSpecValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Spec{TotalIterations: 1, Workers: 1}.Validate())
	require.NoError(t, Spec{TotalIterations: 1_000_000, Workers: 32}.Validate())

	require.Error(t, Spec{TotalIterations: 0, Workers: 4}.Validate())
	require.Error(t, Spec{TotalIterations: -5, Workers: 4}.Validate())
	require.Error(t, Spec{TotalIterations: 100, Workers: 0}.Validate())
}

func TestSpecStep(t *testing.T) {
	t.Parallel()

	// 100k iterations per worker sample down to exactly 100 reports each.
	s := Spec{TotalIterations: 1_000_000, Workers: 10}
	require.Equal(t, int64(1000), s.Step())

	// Four workers with 250 iterations each sit just past the threshold.
	require.Equal(t, int64(2), Spec{TotalIterations: 1000, Workers: 4}.Step())

	// Small shares stay unsampled.
	require.Equal(t, int64(1), Spec{TotalIterations: 400, Workers: 4}.Step())
}
