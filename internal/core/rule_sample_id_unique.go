package core

import (
	"context"
	"fmt"

	"spiritcore/pkg/domain"
)

// NewSampleIDUniqueRule blocks commits that leave two biosamples sharing a sample id.
func NewSampleIDUniqueRule() domain.Rule {
	return sampleIDUniqueRule{}
}

type sampleIDUniqueRule struct{}

func (sampleIDUniqueRule) Name() string { return "sample_id_unique" }

func (sampleIDUniqueRule) Evaluate(_ context.Context, view domain.TransactionView, _ []domain.Change) (domain.Result, error) {
	owners := make(map[string]string)
	res := domain.Result{}
	for _, b := range view.ListBiosamples() {
		if first, dup := owners[b.SampleID]; dup {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "sample_id_unique",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("sample id %s used by biosamples %s and %s", b.SampleID, first, b.ID),
				Entity:   domain.EntityBiosample,
				EntityID: b.ID,
			})
			continue
		}
		owners[b.SampleID] = b.ID
	}
	return res, nil
}
