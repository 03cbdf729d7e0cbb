package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSubgroup is returned when a subgroup index or size vector is structurally invalid.
var ErrInvalidSubgroup = errors.New("invalid subgroup")

// Group is a named cohort within a study, optionally split into subgroups and
// optionally derived from another group at a phase.
//
// A group with no FromGroupID and a FromPhaseID is a root (randomization) group.
// An empty SubgroupSizes vector is treated as a single subgroup of size zero.
type Group struct {
	Base
	StudyID          string  `json:"study_id"`
	ShortName        string  `json:"short_name"`
	Name             string  `json:"name"`
	Color            string  `json:"color,omitempty"`
	Description      string  `json:"description,omitempty"`
	FromGroupID      *string `json:"from_group_id"`
	FromPhaseID      *string `json:"from_phase_id"`
	SubgroupSizes    []int   `json:"subgroup_sizes"`
	DividingSampling *string `json:"dividing_sampling,omitempty"`
}

// IsRoot reports whether the group starts a randomization at its phase.
func (g Group) IsRoot() bool {
	return g.FromGroupID == nil && g.FromPhaseID != nil
}

// SubgroupCount returns the number of subgroups (minimum 1).
func (g Group) SubgroupCount() int {
	if len(g.SubgroupSizes) == 0 {
		return 1
	}
	return len(g.SubgroupSizes)
}

// Sizes returns a normalized copy of the subgroup capacity vector.
func (g Group) Sizes() []int {
	if len(g.SubgroupSizes) == 0 {
		return []int{0}
	}
	return append([]int(nil), g.SubgroupSizes...)
}

// TotalSize sums the declared subgroup capacities.
func (g Group) TotalSize() int {
	total := 0
	for _, n := range g.SubgroupSizes {
		total += n
	}
	return total
}

// ValidSubgroup reports whether index addresses an existing subgroup.
func (g Group) ValidSubgroup(index int) bool {
	return index >= 0 && index < g.SubgroupCount()
}

// AddSubgroup appends an empty subgroup.
func (g *Group) AddSubgroup() {
	g.SubgroupSizes = append(g.Sizes(), 0)
}

// RemoveSubgroup drops the subgroup at index. Occupancy must be checked by the
// caller; this only enforces the structural constraints.
func (g *Group) RemoveSubgroup(index int) error {
	if !g.ValidSubgroup(index) {
		return fmt.Errorf("%w: index %d out of range [0,%d) for group %s", ErrInvalidSubgroup, index, g.SubgroupCount(), g.ShortName)
	}
	if g.SubgroupCount() == 1 {
		return fmt.Errorf("%w: group %s must keep at least one subgroup", ErrInvalidSubgroup, g.ShortName)
	}
	sizes := g.Sizes()
	g.SubgroupSizes = append(sizes[:index], sizes[index+1:]...)
	return nil
}

// MoveSubgroupUp swaps the subgroup at index with its predecessor.
func (g *Group) MoveSubgroupUp(index int) error {
	if index <= 0 || index >= g.SubgroupCount() {
		return fmt.Errorf("%w: cannot move subgroup %d up in group %s", ErrInvalidSubgroup, index, g.ShortName)
	}
	sizes := g.Sizes()
	sizes[index-1], sizes[index] = sizes[index], sizes[index-1]
	g.SubgroupSizes = sizes
	return nil
}

// SetSubgroupSizes replaces the capacity vector.
func (g *Group) SetSubgroupSizes(sizes []int) error {
	if len(sizes) == 0 {
		return fmt.Errorf("%w: group %s needs at least one subgroup", ErrInvalidSubgroup, g.ShortName)
	}
	for i, n := range sizes {
		if n < 0 {
			return fmt.Errorf("%w: negative size %d for subgroup %d", ErrInvalidSubgroup, n, i)
		}
	}
	g.SubgroupSizes = append([]int(nil), sizes...)
	return nil
}

// MergeCheck reports whether two groups can be merged.
type MergeCheck struct {
	Compatible bool
	Reason     string
	Warnings   []string
}

// IsCompatibleForMerge compares g with other using the study's group list to
// derive each group's split targets ("to" groups). Differences in fromGroup,
// fromPhase, split targets or dividing sampling make the groups incompatible;
// a differing description only yields a warning.
func (g Group) IsCompatibleForMerge(other Group, studyGroups []Group) MergeCheck {
	switch {
	case g.ID == other.ID:
		return MergeCheck{Reason: fmt.Sprintf("group %s cannot be merged with itself", g.ShortName)}
	case g.StudyID != other.StudyID:
		return MergeCheck{Reason: fmt.Sprintf("groups %s and %s belong to different studies", g.ShortName, other.ShortName)}
	case !SameID(g.FromGroupID, other.FromGroupID):
		return MergeCheck{Reason: fmt.Sprintf("groups %s and %s derive from different groups", g.ShortName, other.ShortName)}
	case !SameID(g.FromPhaseID, other.FromPhaseID):
		return MergeCheck{Reason: fmt.Sprintf("groups %s and %s start at different phases", g.ShortName, other.ShortName)}
	case !SameID(g.DividingSampling, other.DividingSampling):
		return MergeCheck{Reason: fmt.Sprintf("groups %s and %s use different dividing samplings", g.ShortName, other.ShortName)}
	}
	if !equalStringSets(ToGroupIDs(g.ID, studyGroups), ToGroupIDs(other.ID, studyGroups)) {
		return MergeCheck{Reason: fmt.Sprintf("groups %s and %s are split into different groups", g.ShortName, other.ShortName)}
	}
	check := MergeCheck{Compatible: true}
	if strings.TrimSpace(g.Description) != strings.TrimSpace(other.Description) {
		check.Warnings = append(check.Warnings, fmt.Sprintf("descriptions of %s and %s differ", g.ShortName, other.ShortName))
	}
	return check
}

// ToGroupIDs returns the sorted ids of groups deriving from groupID.
func ToGroupIDs(groupID string, studyGroups []Group) []string {
	var ids []string
	for _, candidate := range studyGroups {
		if candidate.FromGroupID != nil && *candidate.FromGroupID == groupID {
			ids = append(ids, candidate.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsAncestorOf reports whether g appears in the fromGroup chain of descendant.
func (g Group) IsAncestorOf(descendant Group, lookup func(id string) (Group, bool)) bool {
	seen := map[string]struct{}{descendant.ID: {}}
	current := descendant
	for current.FromGroupID != nil {
		if *current.FromGroupID == g.ID {
			return true
		}
		if _, loop := seen[*current.FromGroupID]; loop {
			return false
		}
		seen[*current.FromGroupID] = struct{}{}
		next, ok := lookup(*current.FromGroupID)
		if !ok {
			return false
		}
		current = next
	}
	return false
}

func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
