// Package attendance derives attendance counts from a member snapshot.
//
// Two counting conventions exist and disagree on members that have joined but
// not yet confirmed presence:
//
//   - Inclusive: joined members count as present (dashboard summary tiles).
//   - Strict: only status "present" counts as present (present/missing roster split).
//
// Both are kept as named modes; callers pick the one their surface shows.
package attendance

import (
	"fmt"

	"busbuddy/pkg/types"
)

// Mode selects an attendance counting convention
type Mode string

const (
	Inclusive Mode = "inclusive"
	Strict    Mode = "strict"
)

// ParseMode accepts "inclusive" or "strict"
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Inclusive, Strict:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown attendance mode %q", types.ErrValidation, s)
	}
}

// Compute counts total, present and missing members under the given mode
func Compute(members []*types.Member, mode Mode) types.Stats {
	stats := types.Stats{Total: len(members)}
	for _, m := range members {
		switch m.Status {
		case types.StatusPresent:
			stats.Present++
		case types.StatusJoined:
			if mode == Inclusive {
				stats.Present++
			}
		case types.StatusMissing:
			stats.Missing++
		}
	}
	return stats
}

// Summary carries both conventions side by side
type Summary struct {
	Inclusive types.Stats `json:"inclusive"`
	Strict    types.Stats `json:"strict"`
}

// Roster is the strict split of a member list, preserving input order
type Roster struct {
	Present []*types.Member `json:"present"`
	Missing []*types.Member `json:"missing"`
	Joined  []*types.Member `json:"joined"`
}

// Split partitions members by exact status
func Split(members []*types.Member) Roster {
	r := Roster{
		Present: []*types.Member{},
		Missing: []*types.Member{},
		Joined:  []*types.Member{},
	}
	for _, m := range members {
		switch m.Status {
		case types.StatusPresent:
			r.Present = append(r.Present, m)
		case types.StatusMissing:
			r.Missing = append(r.Missing, m)
		case types.StatusJoined:
			r.Joined = append(r.Joined, m)
		}
	}
	return r
}
