// Package lifecycle resolves which phase of the household's life is active
// in a given month and which profiles govern it.
package lifecycle

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/domain"
)

// Schedule is the validated, age-ordered phase plan of one scenario. Phases
// are contiguous: each one runs from its start age until the next phase
// begins, and the last phase never ends.
type Schedule struct {
	phases     []domain.LifecyclePhase
	tax        map[string]domain.TaxProfile
	strategy   map[string]domain.StrategyProfile
	allocation map[string]domain.AllocationProfile
	log        zerolog.Logger
}

// ResolvedPhase is the month's effective policy: the referenced profiles plus
// the allocation weights with phase overrides applied. When the month falls
// inside a glide path toward the next phase, NextWeights and the blending
// progress are populated for the rebalancing engine.
type ResolvedPhase struct {
	Tax      domain.TaxProfile
	Strategy domain.StrategyProfile
	Weights  map[string]float64

	// GlidepathMonths and MonthsIntoGlidepath describe the linear blend
	// toward NextWeights. NextWeights is nil outside any glide path.
	GlidepathMonths     int
	MonthsIntoGlidepath int
	NextWeights         map[string]float64
}

// NewSchedule validates the scenario's phases and profile references and
// returns the resolved schedule. Every phase must reference existing
// profiles, and the first phase must already be active at the scenario's
// starting age; both violations are unrecoverable configuration errors.
func NewSchedule(scn *domain.Scenario, log zerolog.Logger) (*Schedule, error) {
	if len(scn.Phases) == 0 {
		return nil, fmt.Errorf("scenario has no phases: %w", domain.ErrNoActivePhaseAtStart)
	}

	s := &Schedule{
		phases:     make([]domain.LifecyclePhase, len(scn.Phases)),
		tax:        make(map[string]domain.TaxProfile, len(scn.TaxProfiles)),
		strategy:   make(map[string]domain.StrategyProfile, len(scn.StrategyProfiles)),
		allocation: make(map[string]domain.AllocationProfile, len(scn.AllocationProfiles)),
		log:        log.With().Str("service", "lifecycle").Logger(),
	}
	copy(s.phases, scn.Phases)
	sort.SliceStable(s.phases, func(a, b int) bool {
		return s.phases[a].StartAge < s.phases[b].StartAge
	})

	for _, p := range scn.TaxProfiles {
		s.tax[p.ID] = p
	}
	for _, p := range scn.StrategyProfiles {
		s.strategy[p.ID] = p
	}
	for _, p := range scn.AllocationProfiles {
		s.allocation[p.ID] = p
	}

	for _, ph := range s.phases {
		if _, ok := s.tax[ph.TaxProfileID]; !ok {
			return nil, fmt.Errorf("phase at age %d, tax profile %q: %w",
				ph.StartAge, ph.TaxProfileID, domain.ErrDanglingProfileReference)
		}
		if _, ok := s.strategy[ph.StrategyProfileID]; !ok {
			return nil, fmt.Errorf("phase at age %d, strategy profile %q: %w",
				ph.StartAge, ph.StrategyProfileID, domain.ErrDanglingProfileReference)
		}
		if _, ok := s.allocation[ph.AllocationProfileID]; !ok {
			return nil, fmt.Errorf("phase at age %d, allocation profile %q: %w",
				ph.StartAge, ph.AllocationProfileID, domain.ErrDanglingProfileReference)
		}
	}

	if scn.StartAgeMonths < s.phases[0].StartAge*12 {
		return nil, fmt.Errorf("start age %d months precedes first phase at age %d: %w",
			scn.StartAgeMonths, s.phases[0].StartAge, domain.ErrNoActivePhaseAtStart)
	}

	return s, nil
}

// At resolves the active phase for the given age in months.
func (s *Schedule) At(ageMonths int) ResolvedPhase {
	// First phase whose start lies beyond ageMonths; the active phase is the
	// one before it.
	next := sort.Search(len(s.phases), func(i int) bool {
		return s.phases[i].StartAge*12 > ageMonths
	})
	active := s.phases[next-1]

	resolved := ResolvedPhase{
		Tax:      s.tax[active.TaxProfileID],
		Strategy: s.strategy[active.StrategyProfileID],
		Weights:  s.phaseWeights(active),
	}

	if next < len(s.phases) && active.GlidepathMonths > 0 {
		transition := s.phases[next].StartAge * 12
		into := active.GlidepathMonths - (transition - ageMonths)
		if into >= 0 {
			resolved.GlidepathMonths = active.GlidepathMonths
			resolved.MonthsIntoGlidepath = into
			resolved.NextWeights = s.phaseWeights(s.phases[next])
		}
	}

	return resolved
}

// phaseWeights copies the phase's allocation profile weights and applies its
// per-class overrides.
func (s *Schedule) phaseWeights(ph domain.LifecyclePhase) map[string]float64 {
	profile := s.allocation[ph.AllocationProfileID]
	weights := make(map[string]float64, len(profile.Weights))
	for class, w := range profile.Weights {
		weights[class] = w
	}
	for class, w := range ph.ClassOverrides {
		weights[class] = w
	}
	return weights
}
