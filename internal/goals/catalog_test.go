package goals

import (
	"math/rand"
	"testing"
)

func TestCatalogHasSeventeenSegments(t *testing.T) {
	c := NewCatalog()
	if c.Len() != 17 {
		t.Fatalf("expected 17 segments, got %d", c.Len())
	}
	for index, goal := range c.All() {
		if goal.ID != index+1 {
			t.Fatalf("goal ids must be dense from 1, got %d at index %d", goal.ID, index)
		}
		if goal.Weight <= 0 {
			t.Fatalf("goal %d has non-positive weight", goal.ID)
		}
	}
}

func TestByIDBounds(t *testing.T) {
	c := NewCatalog()
	if _, err := c.ByID(0); err == nil {
		t.Fatalf("expected error for id 0")
	}
	if _, err := c.ByID(18); err == nil {
		t.Fatalf("expected error for id 18")
	}
	goal, err := c.ByID(13)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if goal.ID != 13 {
		t.Fatalf("unexpected goal %d", goal.ID)
	}
}

func TestDrawCoversCatalogAndRespectsWeights(t *testing.T) {
	c := NewCatalog()
	r := rand.New(rand.NewSource(7))

	counts := make(map[int]int)
	const draws = 100000
	for i := 0; i < draws; i++ {
		counts[c.Draw(r).ID]++
	}

	for _, goal := range c.All() {
		if counts[goal.ID] == 0 {
			t.Fatalf("goal %d never drawn", goal.ID)
		}
	}

	// Heaviest segment should be drawn measurably more often than the lightest.
	heavy, err := c.ByID(13)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	light, err := c.ByID(9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[heavy.ID] <= counts[light.ID] {
		t.Fatalf("weight %d goal drawn %d times, weight %d goal drawn %d times", heavy.Weight, counts[heavy.ID], light.Weight, counts[light.ID])
	}
}
