package goals

import (
	"errors"
	"fmt"
	"math/rand"
)

// Goal is one of the fixed sustainability objectives assignable by a wheel
// draw. The set is enumerable and never changes at runtime.
type Goal struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Weight int    `json:"weight"`
}

// ErrUnknownGoal indicates an identifier outside the catalog range.
var ErrUnknownGoal = errors.New("goals: unknown goal id")

var catalog = []Goal{
	{ID: 1, Title: "No Poverty", Weight: 5},
	{ID: 2, Title: "Zero Hunger", Weight: 5},
	{ID: 3, Title: "Good Health and Well-Being", Weight: 7},
	{ID: 4, Title: "Quality Education", Weight: 6},
	{ID: 5, Title: "Gender Equality", Weight: 5},
	{ID: 6, Title: "Clean Water and Sanitation", Weight: 7},
	{ID: 7, Title: "Affordable and Clean Energy", Weight: 7},
	{ID: 8, Title: "Decent Work and Economic Growth", Weight: 5},
	{ID: 9, Title: "Industry, Innovation and Infrastructure", Weight: 4},
	{ID: 10, Title: "Reduced Inequalities", Weight: 5},
	{ID: 11, Title: "Sustainable Cities and Communities", Weight: 7},
	{ID: 12, Title: "Responsible Consumption and Production", Weight: 8},
	{ID: 13, Title: "Climate Action", Weight: 8},
	{ID: 14, Title: "Life Below Water", Weight: 6},
	{ID: 15, Title: "Life on Land", Weight: 6},
	{ID: 16, Title: "Peace, Justice and Strong Institutions", Weight: 4},
	{ID: 17, Title: "Partnerships for the Goals", Weight: 5},
}

// Catalog exposes the fixed goal set.
type Catalog struct {
	goals       []Goal
	totalWeight int
}

// NewCatalog returns the standard seventeen-goal catalog.
func NewCatalog() *Catalog {
	total := 0
	for _, goal := range catalog {
		total += goal.Weight
	}
	return &Catalog{goals: catalog, totalWeight: total}
}

// Len reports the number of wheel segments.
func (c *Catalog) Len() int {
	return len(c.goals)
}

// All returns the goals in segment order.
func (c *Catalog) All() []Goal {
	out := make([]Goal, len(c.goals))
	copy(out, c.goals)
	return out
}

// ByID resolves a goal from its identifier.
func (c *Catalog) ByID(id int) (Goal, error) {
	if id < 1 || id > len(c.goals) {
		return Goal{}, fmt.Errorf("%w: %d", ErrUnknownGoal, id)
	}
	return c.goals[id-1], nil
}

// Draw performs a weighted random selection over the catalog.
func (c *Catalog) Draw(r *rand.Rand) Goal {
	pick := r.Intn(c.totalWeight)
	for _, goal := range c.goals {
		pick -= goal.Weight
		if pick < 0 {
			return goal
		}
	}
	return c.goals[len(c.goals)-1]
}
