package balancer

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

type fixedSampler float64

func (f fixedSampler) Float64() float64 { return float64(f) }

func mix411() models.Mix {
	return models.Mix{
		{Type: "educational", Target: 4},
		{Type: "soft_sell", Target: 1},
		{Type: "hard_sell", Target: 1},
	}
}

func TestBalance_TieBrokenByDefinitionOrder(t *testing.T) {
	b := New(fixedSampler(0))
	status := b.Balance(Input{
		Mix:          mix411(),
		WeekCounts:   map[string]int{"educational": 4, "soft_sell": 0, "hard_sell": 0},
		TotalHistory: 12,
	})

	assert.Equal(t, "soft_sell", status.ChosenType)
	require.Len(t, status.Deficits, 3)
	assert.Equal(t, "soft_sell", status.Deficits[0].Type)
	assert.Equal(t, "hard_sell", status.Deficits[1].Type)
	assert.Equal(t, "educational", status.Deficits[2].Type)
	assert.Equal(t, 0.0, status.Deficits[2].Deficit)
	assert.False(t, status.ColdStart)

	// Same counts, reversed definition order: hard_sell now wins.
	reordered := models.Mix{mix411()[0], mix411()[2], mix411()[1]}
	status = b.Balance(Input{Mix: reordered, WeekCounts: map[string]int{"educational": 4}, TotalHistory: 1})
	assert.Equal(t, "hard_sell", status.ChosenType)
}

func TestBalance_LargestDeficitWins(t *testing.T) {
	b := New(fixedSampler(0))
	status := b.Balance(Input{
		Mix:          mix411(),
		WeekCounts:   map[string]int{"educational": 1},
		TotalHistory: 3,
	})
	assert.Equal(t, "educational", status.ChosenType)
	assert.Contains(t, status.Reason, "largest weekly deficit")
}

func TestBalance_QuotaMetPicksPrimaryType(t *testing.T) {
	b := New(fixedSampler(0))
	status := b.Balance(Input{
		Mix:          models.Mix{{Type: "soft_sell", Target: 1}, {Type: "educational", Target: 4}},
		WeekCounts:   map[string]int{"educational": 5, "soft_sell": 2},
		TotalHistory: 40,
	})
	assert.Equal(t, "educational", status.ChosenType)
	assert.Contains(t, status.Reason, "bonus")
}

func TestBalance_NoMixUsesDefault(t *testing.T) {
	b := New(nil)
	status := b.Balance(Input{})
	assert.Equal(t, models.DefaultContentType, status.ChosenType)
	assert.Empty(t, status.Deficits)
	assert.NotNil(t, status.Deficits)
}

func TestBalance_InvalidMixRecovered(t *testing.T) {
	b := New(fixedSampler(0))
	status := b.Balance(Input{
		Mix:          models.Mix{{Type: "promo", Target: -3}, {Type: "", Target: 2}},
		TotalHistory: 5,
	})
	// promo clamped to 0; nothing has a positive deficit, promo is the only type left.
	assert.Equal(t, "promo", status.ChosenType)
}

func TestBalance_ColdStartWeightedDraw(t *testing.T) {
	cases := []struct {
		draw float64
		want string
	}{
		{0.0, "educational"},
		{0.66, "educational"}, // 0.66*6 = 3.96 < 4
		{0.67, "soft_sell"},   // 4.02
		{0.84, "hard_sell"},   // 5.04
		{0.9999, "hard_sell"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("draw_%v", tc.draw), func(t *testing.T) {
			status := New(fixedSampler(tc.draw)).Balance(Input{Mix: mix411(), TotalHistory: 0})
			assert.True(t, status.ColdStart)
			assert.Equal(t, tc.want, status.ChosenType)
			assert.Len(t, status.Deficits, 3)
		})
	}
}

func TestBalance_ColdStartAllZeroTargetsFallsBack(t *testing.T) {
	status := New(fixedSampler(0.5)).Balance(Input{
		Mix: models.Mix{{Type: "a", Target: 0}, {Type: "b", Target: 0}},
	})
	assert.False(t, status.ColdStart)
	assert.Equal(t, "a", status.ChosenType)
}

func TestBalance_ColdStartOnlyWithoutAnyHistory(t *testing.T) {
	// An empty week with past history is not a cold start.
	status := New(fixedSampler(0.99)).Balance(Input{Mix: mix411(), TotalHistory: 7})
	assert.False(t, status.ColdStart)
	assert.Equal(t, "educational", status.ChosenType)
}

// For arbitrary mixes and counts, the chosen type has the maximum positive
// deficit, or the maximum target when no deficit is positive.
func TestBalance_PropertyMaxDeficit(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))
	b := New(fixedSampler(0))
	types := []string{"educational", "soft_sell", "hard_sell", "news", "community", "promo"}

	for i := 0; i < 500; i++ {
		n := 1 + r.IntN(len(types))
		var mix models.Mix
		counts := map[string]int{}
		for _, ty := range types[:n] {
			mix = append(mix, models.MixEntry{Type: ty, Target: float64(r.IntN(6))})
			counts[ty] = r.IntN(6)
		}

		status := b.Balance(Input{Mix: mix, WeekCounts: counts, TotalHistory: 1})

		maxDeficit := 0.0
		firstMax := ""
		for _, e := range mix {
			d := e.Target - float64(counts[e.Type])
			if d > maxDeficit {
				maxDeficit, firstMax = d, e.Type
			}
		}
		if firstMax != "" {
			require.Equal(t, firstMax, status.ChosenType, "mix=%v counts=%v", mix, counts)
			continue
		}
		require.Equal(t, PrimaryType(mix), status.ChosenType, "mix=%v counts=%v", mix, counts)
		want, _ := mix.Get(status.ChosenType)
		for _, e := range mix {
			require.LessOrEqual(t, e.Target, want)
		}
	}
}

func TestResolveMix(t *testing.T) {
	p := &models.ProjectConfig{
		ContentMix:  mix411(),
		PlatformMix: map[string]models.Mix{"x": {{Type: "news", Target: 3}}},
	}
	assert.Equal(t, "news", ResolveMix(p, "X")[0].Type)
	assert.Equal(t, "educational", ResolveMix(p, "facebook")[0].Type)
	assert.Nil(t, ResolveMix(nil, "x"))
}

func TestWeekStart(t *testing.T) {
	// 2026-10-14 is a Wednesday.
	wed := time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), WeekStart(wed, nil))

	sun := time.Date(2026, 10, 18, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), WeekStart(sun, time.UTC))

	mon := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, mon, WeekStart(mon, time.UTC))
}

func TestAnnotation(t *testing.T) {
	status := New(fixedSampler(0)).Balance(Input{
		Mix:          mix411(),
		WeekCounts:   map[string]int{"educational": 4},
		TotalHistory: 4,
	})
	out := Annotation(status)
	assert.Contains(t, out, "Content type for this post: soft_sell")
	assert.Contains(t, out, "- educational: 4 / 4 / 0")
	assert.Contains(t, out, "- soft_sell: 1 / 0 / 1")
}
