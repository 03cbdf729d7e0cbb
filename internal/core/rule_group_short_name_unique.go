package core

import (
	"context"
	"fmt"

	"spiritcore/pkg/domain"
)

// NewGroupShortNameUniqueRule blocks two groups of one study sharing a short name.
func NewGroupShortNameUniqueRule() domain.Rule {
	return groupShortNameUniqueRule{}
}

type groupShortNameUniqueRule struct{}

func (groupShortNameUniqueRule) Name() string { return "group_short_name_unique" }

func (groupShortNameUniqueRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, st := range view.ListStudies() {
		seen := make(map[string]struct{})
		for _, g := range view.ListGroups(st.ID) {
			if _, dup := seen[g.ShortName]; dup {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "group_short_name_unique",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("study %s has more than one group named %s", st.StudyID, g.ShortName),
					Entity:   domain.EntityGroup,
					EntityID: g.ID,
				})
				continue
			}
			seen[g.ShortName] = struct{}{}
		}
	}
	return res, nil
}
