// Package balancer picks the next content type from weekly quota deficits.
package balancer

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// Sampler yields uniform draws in [0,1).
type Sampler interface {
	Float64() float64
}

// Balancer chooses content types so each week's mix converges on its targets.
type Balancer struct {
	rng Sampler
}

// New creates a balancer. A nil sampler uses a process-seeded PCG source.
func New(rng Sampler) *Balancer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Balancer{rng: rng}
}

// Input is everything the balancer needs for one decision.
type Input struct {
	Mix          models.Mix
	WeekCounts   map[string]int
	TotalHistory int // posts ever created for this project+platform
}

// Balance computes deficits and picks a type. It never fails: an empty or
// all-invalid mix yields the default category with zero deficits.
func (b *Balancer) Balance(in Input) models.MixStatus {
	mix, _ := in.Mix.Normalized()
	counts := in.WeekCounts
	if counts == nil {
		counts = map[string]int{}
	}

	status := models.MixStatus{
		TargetMix: mix,
		ThisWeek:  counts,
	}

	if len(mix) == 0 {
		status.ChosenType = models.DefaultContentType
		status.Deficits = []models.Deficit{}
		status.Reason = "no content mix configured; using default category"
		return status
	}

	status.Deficits = Deficits(mix, counts)

	if in.TotalHistory == 0 {
		if chosen, ok := b.weightedDraw(mix); ok {
			status.ChosenType = chosen
			status.ColdStart = true
			status.Reason = fmt.Sprintf("cold start: no history yet, sampled %s by target weight", chosen)
			return status
		}
	}

	// Deficits are sorted descending with definition order preserved on ties.
	if top := status.Deficits[0]; top.Deficit > 0 {
		status.ChosenType = top.Type
		status.Reason = fmt.Sprintf("largest weekly deficit: %s is %s short of target %s",
			top.Type, formatNum(top.Deficit), formatNum(top.Target))
		return status
	}

	primary := PrimaryType(mix)
	status.ChosenType = primary
	status.Reason = fmt.Sprintf("weekly quota met; bonus post of primary type %s", primary)
	return status
}

// Deficits returns target-actual per type, sorted by deficit descending.
// The sort is stable so ties keep mix definition order.
func Deficits(mix models.Mix, counts map[string]int) []models.Deficit {
	out := make([]models.Deficit, 0, len(mix))
	for _, e := range mix {
		actual := counts[e.Type]
		out = append(out, models.Deficit{
			Type:    e.Type,
			Target:  e.Target,
			Actual:  actual,
			Deficit: e.Target - float64(actual),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Deficit > out[j].Deficit
	})
	return out
}

// PrimaryType is the type with the largest target; first defined wins ties.
func PrimaryType(mix models.Mix) string {
	if len(mix) == 0 {
		return models.DefaultContentType
	}
	best := mix[0]
	for _, e := range mix[1:] {
		if e.Target > best.Target {
			best = e
		}
	}
	return best.Type
}

func (b *Balancer) weightedDraw(mix models.Mix) (string, bool) {
	total := 0.0
	for _, e := range mix {
		total += e.Target
	}
	if total <= 0 {
		return "", false
	}
	r := b.rng.Float64() * total
	cumulative := 0.0
	for _, e := range mix {
		if e.Target <= 0 {
			continue
		}
		cumulative += e.Target
		if r < cumulative {
			return e.Type, true
		}
	}
	// Float rounding can leave r == total; the last weighted entry owns it.
	for i := len(mix) - 1; i >= 0; i-- {
		if mix[i].Target > 0 {
			return mix[i].Type, true
		}
	}
	return "", false
}

// ResolveMix returns the platform override when present, otherwise the global mix.
func ResolveMix(project *models.ProjectConfig, platform string) models.Mix {
	if project == nil {
		return nil
	}
	if m, ok := project.PlatformMix[strings.ToLower(platform)]; ok && len(m) > 0 {
		return m
	}
	return project.ContentMix
}

// WeekStart returns Monday 00:00 of t's week in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, -offset)
}

// Annotation renders the deficit table so the generator knows why the type was chosen.
func Annotation(status models.MixStatus) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Content type for this post: %s\n", status.ChosenType)
	if status.Reason != "" {
		fmt.Fprintf(&sb, "Why: %s\n", status.Reason)
	}
	if len(status.Deficits) > 0 {
		sb.WriteString("Weekly mix (target / created so far / still needed):\n")
		for _, d := range status.Deficits {
			fmt.Fprintf(&sb, "- %s: %s / %d / %s\n", d.Type, formatNum(d.Target), d.Actual, formatNum(d.Deficit))
		}
	}
	return sb.String()
}

func formatNum(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}
