package core

import (
	"context"
	"fmt"

	"spiritcore/pkg/domain"
)

// NewSubgroupRangeRule blocks participants and study actions whose subgroup
// index falls outside their group, and participants whose group belongs to
// another study.
func NewSubgroupRangeRule() domain.Rule {
	return subgroupRangeRule{}
}

type subgroupRangeRule struct{}

func (subgroupRangeRule) Name() string { return "subgroup_range" }

func (r subgroupRangeRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(entity domain.EntityType, id, format string, args ...any) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf(format, args...),
			Entity:   entity,
			EntityID: id,
		})
	}
	for _, b := range view.ListBiosamples() {
		if b.InheritedGroupID == nil {
			continue
		}
		g, ok := view.FindGroup(*b.InheritedGroupID)
		switch {
		case !ok:
			block(domain.EntityBiosample, b.ID, "biosample %s references missing group %s", b.SampleID, *b.InheritedGroupID)
		case b.InheritedStudyID == nil || *b.InheritedStudyID != g.StudyID:
			block(domain.EntityBiosample, b.ID, "biosample %s is in group %s of another study", b.SampleID, g.ShortName)
		case !g.ValidSubgroup(b.InheritedSubGroup):
			block(domain.EntityBiosample, b.ID, "biosample %s subgroup %d outside group %s (%d subgroups)", b.SampleID, b.InheritedSubGroup, g.ShortName, g.SubgroupCount())
		}
	}
	for _, st := range view.ListStudies() {
		for _, g := range view.ListGroups(st.ID) {
			for _, a := range view.ListStudyActions(g.ID) {
				if !g.ValidSubgroup(a.SubGroup) {
					block(domain.EntityStudyAction, a.ID, "action %s subgroup %d outside group %s (%d subgroups)", a.ID, a.SubGroup, g.ShortName, g.SubgroupCount())
				}
			}
		}
	}
	return res, nil
}
