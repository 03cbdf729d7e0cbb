package core

import (
	"context"
	"fmt"

	"spiritcore/pkg/domain"
)

// NewGroupSelfReferenceRule blocks groups whose fromGroup chain loops back on itself.
func NewGroupSelfReferenceRule() domain.Rule {
	return groupSelfReferenceRule{}
}

type groupSelfReferenceRule struct{}

func (groupSelfReferenceRule) Name() string { return "group_self_reference" }

func (groupSelfReferenceRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, st := range view.ListStudies() {
		for _, g := range view.ListGroups(st.ID) {
			if g.FromGroupID == nil {
				continue
			}
			if *g.FromGroupID == g.ID || g.IsAncestorOf(g, view.FindGroup) {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "group_self_reference",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("group %s derives from itself", g.ShortName),
					Entity:   domain.EntityGroup,
					EntityID: g.ID,
				})
			}
		}
	}
	return res, nil
}
