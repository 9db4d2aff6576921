package radio

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/garry/tunesync/config"
)

// DefaultTrackSeconds is the average track length used when the catalog has no durations
const DefaultTrackSeconds = 210.0

const percentEpsilon = 1e-9

// Quota is the number of slots planned for one category
type Quota struct {
	Category string
	Target   float64
	Count    int
}

// TotalSlots converts a playlist length into a number of slots
func TotalSlots(lengthMinutes int, averageTrackSeconds float64) int {
	if lengthMinutes <= 0 {
		return 0
	}
	if averageTrackSeconds <= 0 {
		averageTrackSeconds = DefaultTrackSeconds
	}
	return int(math.Floor(float64(lengthMinutes*60) / averageTrackSeconds))
}

// Plan computes the per-category quotas for totalSlots and their fair interleaving
func Plan(categories []config.Category, totalSlots int) ([]string, []Quota, error) {
	if totalSlots < 0 {
		return nil, nil, errors.Wrapf(ErrInvalidRequest, "negative slot count %d", totalSlots)
	}

	var total float64
	for _, category := range categories {
		if category.Percentage < 0 {
			return nil, nil, errors.Wrapf(ErrInvalidRequest, "category %s has a negative percentage", category.Name)
		}
		total += category.Percentage
	}
	if total > 100+percentEpsilon {
		return nil, nil, errors.Wrapf(ErrInvalidRequest, "category percentages sum to %.1f, more than 100", total)
	}

	quotas := Quotas(categories, totalSlots)
	return Distribute(quotas), quotas, nil
}

// Quotas floors every category's target and, when the percentages cover the
// whole playlist, hands the leftover slots to the largest remainders. The
// first listed category wins ties.
func Quotas(categories []config.Category, totalSlots int) []Quota {
	quotas := make([]Quota, len(categories))
	var total float64
	assigned := 0
	for i, category := range categories {
		target := float64(totalSlots) * category.Percentage / 100
		count := int(math.Floor(target + percentEpsilon))
		quotas[i] = Quota{Category: category.Name, Target: target, Count: count}
		total += category.Percentage
		assigned += count
	}

	if math.Abs(total-100) > percentEpsilon {
		return quotas
	}

	order := make([]int, len(quotas))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainder(quotas[order[a]]) > remainder(quotas[order[b]])
	})

	for _, i := range order {
		if assigned >= totalSlots {
			break
		}
		if remainder(quotas[i]) <= percentEpsilon {
			continue
		}
		quotas[i].Count++
		assigned++
	}

	return quotas
}

func remainder(q Quota) float64 {
	return q.Target - float64(q.Count)
}

// Distribute interleaves the quotas. Each category is next due at
// (emitted+1)/count; the smallest due value is emitted and the first listed
// category wins ties. A category with a zero count is never due.
func Distribute(quotas []Quota) []string {
	total := 0
	for _, q := range quotas {
		total += q.Count
	}

	emitted := make([]int, len(quotas))
	sequence := make([]string, 0, total)
	for len(sequence) < total {
		best := -1
		for i, q := range quotas {
			if q.Count <= 0 || emitted[i] >= q.Count {
				continue
			}
			// (emitted[i]+1)/count[i] < (emitted[best]+1)/count[best], without division
			if best < 0 || (emitted[i]+1)*quotas[best].Count < (emitted[best]+1)*q.Count {
				best = i
			}
		}
		sequence = append(sequence, quotas[best].Category)
		emitted[best]++
	}

	return sequence
}
