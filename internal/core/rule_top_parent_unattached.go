package core

import (
	"context"
	"fmt"

	"spiritcore/pkg/domain"
)

// NewTopParentUnattachedRule blocks a clone top record from being attached to a study.
func NewTopParentUnattachedRule() domain.Rule {
	return topParentUnattachedRule{}
}

type topParentUnattachedRule struct{}

func (topParentUnattachedRule) Name() string { return "top_parent_unattached" }

func (topParentUnattachedRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	var cloning CloningService
	for _, ch := range changes {
		if ch.Entity != domain.EntityBiosample || ch.Action == domain.ActionDelete {
			continue
		}
		after, ok := ch.After.(domain.Biosample)
		if !ok {
			continue
		}
		candidates := []string{after.ID}
		if after.ParentID != nil {
			candidates = append(candidates, *after.ParentID)
		}
		for _, id := range candidates {
			b, ok := view.FindBiosample(id)
			if !ok || !b.IsAttached() || !cloning.IsTopRecord(b) {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "top_parent_unattached",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("clone top record %s is attached to a study", b.SampleID),
				Entity:   domain.EntityBiosample,
				EntityID: b.ID,
			})
		}
	}
	return res, nil
}
