package assignment

import (
	"workdesk/internal/domain"
)

// DistributionConfig tunes individual strategies.
type DistributionConfig struct {
	Seed       int
	MaxLoad    int
	LoadPolicy domain.LoadPolicy
}

// DistributionContext is the input every strategy sees.
type DistributionContext struct {
	EligibleUsers []string
	// HistoricalAssignments is ordered oldest first.
	HistoricalAssignments []string
	// Loads maps user id to the number of open items currently assigned.
	Loads  map[string]int
	Config DistributionConfig
}

type Selection struct {
	SelectedUsers []string
}

type Strategy interface {
	Resolve(ctx DistributionContext) Selection
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(DistributionContext) Selection

func (f StrategyFunc) Resolve(ctx DistributionContext) Selection { return f(ctx) }

// OfferToAll selects every eligible user.
type OfferToAll struct{}

func (OfferToAll) Resolve(ctx DistributionContext) Selection {
	return Selection{SelectedUsers: append([]string(nil), ctx.EligibleUsers...)}
}

// FirstEligible is the legacy default: only the first eligible user.
type FirstEligible struct{}

func (FirstEligible) Resolve(ctx DistributionContext) Selection {
	if len(ctx.EligibleUsers) == 0 {
		return Selection{}
	}
	return Selection{SelectedUsers: []string{ctx.EligibleUsers[0]}}
}

// RoundRobin picks the user after the most recent historical assignee.
type RoundRobin struct{}

func (RoundRobin) Resolve(ctx DistributionContext) Selection {
	n := len(ctx.EligibleUsers)
	if n == 0 {
		return Selection{}
	}
	next := 0
	if h := len(ctx.HistoricalAssignments); h > 0 {
		last := ctx.HistoricalAssignments[h-1]
		for i, u := range ctx.EligibleUsers {
			if u == last {
				next = (i + 1) % n
				break
			}
		}
	}
	return Selection{SelectedUsers: []string{ctx.EligibleUsers[next]}}
}

// Random is deterministic: seed mod eligible count.
type Random struct{}

func (Random) Resolve(ctx DistributionContext) Selection {
	n := len(ctx.EligibleUsers)
	if n == 0 {
		return Selection{}
	}
	idx := ctx.Config.Seed % n
	if idx < 0 {
		idx += n
	}
	return Selection{SelectedUsers: []string{ctx.EligibleUsers[idx]}}
}

// LoadBased selects by open-item load.
type LoadBased struct{}

func (LoadBased) Resolve(ctx DistributionContext) Selection {
	if len(ctx.EligibleUsers) == 0 {
		return Selection{}
	}
	switch ctx.Config.LoadPolicy {
	case domain.LoadThreshold:
		var under []string
		for _, u := range ctx.EligibleUsers {
			if ctx.Config.MaxLoad <= 0 || ctx.Loads[u] < ctx.Config.MaxLoad {
				under = append(under, u)
			}
		}
		return Selection{SelectedUsers: under}
	default:
		best := ""
		bestLoad := 0
		for _, u := range ctx.EligibleUsers {
			load := ctx.Loads[u]
			if ctx.Config.MaxLoad > 0 && load >= ctx.Config.MaxLoad {
				continue
			}
			if best == "" || load < bestLoad {
				best, bestLoad = u, load
			}
		}
		if best == "" {
			return Selection{}
		}
		return Selection{SelectedUsers: []string{best}}
	}
}

// SeparationOfDuties excludes prior participants, then takes the first remaining user.
type SeparationOfDuties struct{}

func (SeparationOfDuties) Resolve(ctx DistributionContext) Selection {
	excluded := make(map[string]struct{}, len(ctx.HistoricalAssignments))
	for _, u := range ctx.HistoricalAssignments {
		excluded[u] = struct{}{}
	}
	for _, u := range ctx.EligibleUsers {
		if _, ok := excluded[u]; !ok {
			return Selection{SelectedUsers: []string{u}}
		}
	}
	return Selection{}
}
