package core

import (
	"strconv"
	"strings"

	"spiritcore/pkg/domain"
)

// AttachedBiosample is one row of an attachment batch. It is the input to
// planning and, once applied, carries the resolved record and subgroup.
type AttachedBiosample struct {
	SampleID    string
	SampleName  string
	GroupID     *string
	SubGroup    *int
	ContainerID *string
	Weight      *float64

	// BiosampleID is set once the row is resolved to a persisted record.
	BiosampleID string
}

func (r AttachedBiosample) blank() bool {
	return strings.TrimSpace(r.SampleID) == "" &&
		strings.TrimSpace(r.SampleName) == "" &&
		r.GroupID == nil && r.SubGroup == nil &&
		(r.ContainerID == nil || strings.TrimSpace(*r.ContainerID) == "") &&
		r.Weight == nil
}

// Allocate assigns n specimens, in order, to the first subgroup with
// remaining capacity. Once every subgroup is full the rest overflow to the
// last subgroup; capacity never rejects a specimen.
func Allocate(sizes []int, n int) []int {
	remaining := append([]int(nil), sizes...)
	return allocateFrom(remaining, n)
}

func allocateFrom(remaining []int, n int) []int {
	out := make([]int, n)
	if len(remaining) == 0 {
		return out
	}
	last := len(remaining) - 1
	for i := range out {
		out[i] = last
		for idx, left := range remaining {
			if left > 0 {
				remaining[idx]--
				out[i] = idx
				break
			}
		}
	}
	return out
}

// AllocateSubgroups fills in SubGroup for every row that lacks one. Rows with
// an explicit subgroup consume capacity first; rows without a group get 0.
// Groups missing from the lookup are treated as a single subgroup.
func AllocateSubgroups(rows []AttachedBiosample, lookup func(id string) (domain.Group, bool)) {
	remaining := make(map[string][]int)
	capacity := func(groupID string) []int {
		if r, ok := remaining[groupID]; ok {
			return r
		}
		sizes := []int{0}
		if g, ok := lookup(groupID); ok {
			sizes = g.Sizes()
		}
		remaining[groupID] = sizes
		return sizes
	}
	for _, row := range rows {
		if row.GroupID == nil || row.SubGroup == nil {
			continue
		}
		r := capacity(*row.GroupID)
		if *row.SubGroup >= 0 && *row.SubGroup < len(r) && r[*row.SubGroup] > 0 {
			r[*row.SubGroup]--
		}
	}
	for i := range rows {
		if rows[i].SubGroup != nil {
			continue
		}
		if rows[i].GroupID == nil {
			zero := 0
			rows[i].SubGroup = &zero
			continue
		}
		idx := allocateFrom(capacity(*rows[i].GroupID), 1)[0]
		rows[i].SubGroup = &idx
	}
}

// NextSampleNumber returns one past the largest numeric name, or 1 when no
// name is numeric.
func NextSampleNumber(existingNames []string) int {
	highest := 0
	for _, name := range existingNames {
		n, err := strconv.Atoi(strings.TrimSpace(name))
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// Renumber gives consecutive numeric names to rows with a blank SampleName,
// starting at startOverride when set and otherwise after the highest numeric
// existing name. Named rows are left untouched. It returns the start used.
func Renumber(rows []AttachedBiosample, existingNames []string, startOverride *int) int {
	start := NextSampleNumber(existingNames)
	if startOverride != nil {
		start = *startOverride
	}
	next := start
	for i := range rows {
		if strings.TrimSpace(rows[i].SampleName) != "" {
			continue
		}
		rows[i].SampleName = strconv.Itoa(next)
		next++
	}
	return start
}
