package scenario

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/domain"
	"github.com/aristath/horizon/internal/modules/factors"
	"github.com/aristath/horizon/internal/modules/lifecycle"
)

// Validate runs every configuration-time check a run depends on: the
// correlation matrix must factorize, every cross-reference must resolve, and
// the lifecycle schedule must cover the starting age. A validation error is
// unrecoverable for the run; nothing is simulated after one.
//
// On success the built schedule is returned so callers do not validate twice.
func Validate(scn *domain.Scenario, log zerolog.Logger) (*lifecycle.Schedule, error) {
	if scn.Months <= 0 {
		return nil, fmt.Errorf("months must be positive, got %d", scn.Months)
	}
	if scn.StartAgeMonths < 0 {
		return nil, fmt.Errorf("start age must not be negative, got %d", scn.StartAgeMonths)
	}

	if err := factors.Validate(scn.Factors, scn.Correlations); err != nil {
		return nil, err
	}

	if err := validatePortfolio(scn); err != nil {
		return nil, err
	}
	if err := validateAllocations(scn); err != nil {
		return nil, err
	}
	if err := validateEvents(scn); err != nil {
		return nil, err
	}

	schedule, err := lifecycle.NewSchedule(scn, log)
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func validatePortfolio(scn *domain.Scenario) error {
	factorIDs := make(map[string]bool, len(scn.Factors))
	for _, f := range scn.Factors {
		factorIDs[f.ID] = true
	}

	seen := make(map[string]bool, len(scn.Portfolio.Assets))
	for i := range scn.Portfolio.Assets {
		a := &scn.Portfolio.Assets[i]
		if a.ID == "" {
			return fmt.Errorf("asset %d has no id", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate asset id %q", a.ID)
		}
		seen[a.ID] = true

		if a.FactorID != "" && !factorIDs[a.FactorID] {
			return fmt.Errorf("asset %q references unknown factor %q", a.ID, a.FactorID)
		}
		if a.Quantity > 0 && len(a.Transactions) == 0 {
			return fmt.Errorf("asset %q holds %v units without a recorded cost basis", a.ID, a.Quantity)
		}
	}
	return nil
}

func validateAllocations(scn *domain.Scenario) error {
	for _, p := range scn.AllocationProfiles {
		sum := 0.0
		for class, w := range p.Weights {
			if w < 0 {
				return fmt.Errorf("allocation profile %q: negative weight for class %q", p.ID, class)
			}
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-6 {
			return fmt.Errorf("allocation profile %q: weights sum to %v, want 1", p.ID, sum)
		}
	}
	return nil
}

func validateEvents(scn *domain.Scenario) error {
	seen := make(map[string]bool, len(scn.Events))
	for _, e := range scn.Events {
		if e.ID == "" {
			return fmt.Errorf("event %q has no id", e.Name)
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate event id %q", e.ID)
		}
		seen[e.ID] = true

		earliest := e.TargetMonth + e.EarliestOffset
		if earliest < 0 {
			return fmt.Errorf("event %q: earliest possible month %d is before the simulation start", e.ID, earliest)
		}
	}
	return nil
}
