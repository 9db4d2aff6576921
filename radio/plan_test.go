package radio

import (
	"math"
	"reflect"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/garry/tunesync/config"
)

func TestPlanFairInterleave(t *testing.T) {
	categories := []config.Category{
		{Name: "New", Percentage: 50, ArtistRepeat: 3},
		{Name: "Old", Percentage: 50, ArtistRepeat: 1},
	}

	sequence, _, err := Plan(categories, 4)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []string{"New", "Old", "New", "Old"}
	if !reflect.DeepEqual(sequence, expected) {
		t.Errorf("Expected %v, got %v", expected, sequence)
	}
}

func TestPlanZeroPercentage(t *testing.T) {
	categories := []config.Category{
		{Name: "Never", Percentage: 0},
		{Name: "Always", Percentage: 100},
	}

	sequence, quotas, err := Plan(categories, 7)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(sequence) != 7 {
		t.Fatalf("Expected 7 slots, got %d", len(sequence))
	}
	for i, category := range sequence {
		if category == "Never" {
			t.Errorf("Slot %d: zero percentage category was selected", i)
		}
	}
	if quotas[0].Count != 0 {
		t.Errorf("Expected zero quota, got %d", quotas[0].Count)
	}
}

func TestPlanCountsWithinFloorAndCeil(t *testing.T) {
	tests := []struct {
		categories []config.Category
		slots      int
	}{
		{[]config.Category{{Name: "A", Percentage: 20}, {Name: "B", Percentage: 55}, {Name: "C", Percentage: 25}}, 68},
		{[]config.Category{{Name: "A", Percentage: 33.3}, {Name: "B", Percentage: 33.3}, {Name: "C", Percentage: 33.4}}, 10},
		{[]config.Category{{Name: "A", Percentage: 10}, {Name: "B", Percentage: 90}}, 3},
		{[]config.Category{{Name: "A", Percentage: 40}, {Name: "B", Percentage: 30}}, 11},
		{[]config.Category{{Name: "A", Percentage: 100}}, 0},
	}

	for _, test := range tests {
		sequence, quotas, err := Plan(test.categories, test.slots)
		if err != nil {
			t.Errorf("Plan(%v, %d): unexpected error %v", test.categories, test.slots, err)
			continue
		}

		var total float64
		for _, c := range test.categories {
			total += c.Percentage
		}
		if total == 100 && len(sequence) != test.slots {
			t.Errorf("Plan(%v, %d): expected %d slots, got %d", test.categories, test.slots, test.slots, len(sequence))
		}
		if len(sequence) > test.slots {
			t.Errorf("Plan(%v, %d): sequence longer than slots: %d", test.categories, test.slots, len(sequence))
		}

		actual := make(map[string]int)
		for _, category := range sequence {
			actual[category]++
		}
		for _, q := range quotas {
			target := float64(test.slots) * percentageOf(test.categories, q.Category) / 100
			if float64(actual[q.Category]) < math.Floor(target) || float64(actual[q.Category]) > math.Ceil(target) {
				t.Errorf("Plan(%v, %d): category %s has %d slots, target %.2f", test.categories, test.slots, q.Category, actual[q.Category], target)
			}
			if actual[q.Category] != q.Count {
				t.Errorf("Plan(%v, %d): category %s emitted %d times, quota %d", test.categories, test.slots, q.Category, actual[q.Category], q.Count)
			}
		}
	}
}

func percentageOf(categories []config.Category, name string) float64 {
	for _, c := range categories {
		if c.Name == name {
			return c.Percentage
		}
	}
	return 0
}

func TestPlanDeterministic(t *testing.T) {
	categories := []config.Category{
		{Name: "RecentAdd", Percentage: 20, ArtistRepeat: 10},
		{Name: "Library", Percentage: 55, ArtistRepeat: 25},
		{Name: "Old", Percentage: 25, ArtistRepeat: 40},
	}

	first, _, _ := Plan(categories, 68)
	second, _, _ := Plan(categories, 68)
	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical sequences for identical input")
	}
}

func TestPlanInterleavesRatherThanBlocks(t *testing.T) {
	categories := []config.Category{
		{Name: "A", Percentage: 75},
		{Name: "B", Percentage: 25},
	}

	sequence, _, _ := Plan(categories, 8)
	expected := []string{"A", "A", "A", "B", "A", "A", "A", "B"}
	if !reflect.DeepEqual(sequence, expected) {
		t.Errorf("Expected %v, got %v", expected, sequence)
	}
}

func TestPlanRejectsInvalidPercentages(t *testing.T) {
	tests := [][]config.Category{
		{{Name: "A", Percentage: 60}, {Name: "B", Percentage: 50}},
		{{Name: "A", Percentage: -10}},
	}

	for _, categories := range tests {
		_, _, err := Plan(categories, 10)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Plan(%v): expected ErrInvalidRequest, got %v", categories, err)
		}
	}
}

func TestTotalSlots(t *testing.T) {
	tests := []struct {
		minutes  int
		average  float64
		expected int
	}{
		{240, 210, 68},
		{60, 0, 17},
		{0, 200, 0},
		{10, 600, 1},
	}

	for _, test := range tests {
		result := TotalSlots(test.minutes, test.average)
		if result != test.expected {
			t.Errorf("TotalSlots(%d, %.0f): expected %d, got %d", test.minutes, test.average, test.expected, result)
		}
	}
}
