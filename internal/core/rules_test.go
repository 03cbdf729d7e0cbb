package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiritcore/pkg/domain"
)

func TestDefaultRulesEngineRegistersInvariants(t *testing.T) {
	var names []string
	for _, rule := range NewDefaultRulesEngine().Rules() {
		names = append(names, rule.Name())
	}
	assert.Equal(t, []string{"sample_id_unique", "subgroup_range", "group_self_reference", "top_parent_unattached", "group_short_name_unique"}, names)
}

func requireBlocked(t *testing.T, err error, rule string) {
	t.Helper()
	var violation domain.RuleViolationError
	require.ErrorAs(t, err, &violation)
	for _, v := range violation.Result.Violations {
		if v.Rule == rule && v.Severity == domain.SeverityBlock {
			return
		}
	}
	t.Fatalf("expected a blocking %s violation, got %+v", rule, violation.Result.Violations)
}

func TestSubgroupRangeRule(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	other := f.study("S-2")
	g := f.group(study, "1", nil, 1, 1)

	_, err := f.store.RunInTransaction(f.ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateBiosample(Biosample{SampleID: "x", AttachedStudyID: &study.ID, InheritedStudyID: &study.ID, InheritedGroupID: &g.ID, InheritedSubGroup: 2})
		return err
	})
	requireBlocked(t, err, "subgroup_range")

	_, err = f.store.RunInTransaction(f.ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateBiosample(Biosample{SampleID: "y", AttachedStudyID: &other.ID, InheritedStudyID: &other.ID, InheritedGroupID: &g.ID})
		return err
	})
	requireBlocked(t, err, "subgroup_range")

	d0 := f.phase(study, "d0")
	_, err = f.store.RunInTransaction(f.ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateStudyAction(StudyAction{GroupID: g.ID, PhaseID: d0.ID, SubGroup: 4})
		return err
	})
	requireBlocked(t, err, "subgroup_range")
}

func TestGroupRules(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	g1 := f.group(study, "1", nil, 1)

	_, err := f.store.RunInTransaction(f.ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateGroup(Group{StudyID: study.ID, ShortName: "1"})
		return err
	})
	requireBlocked(t, err, "group_short_name_unique")

	g2, err := f.svc.CreateGroup(f.ctx, Group{StudyID: study.ID, ShortName: "2", FromGroupID: &g1.ID})
	require.NoError(t, err)
	_, err = f.store.RunInTransaction(f.ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateGroup(g1.ID, func(g *domain.Group) error {
			g.FromGroupID = &g2.ID
			return nil
		})
		return err
	})
	requireBlocked(t, err, "group_self_reference")
}

func TestTopParentUnattachedRule(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	top, err := f.svc.CreateBiosample(f.ctx, Biosample{SampleID: "T1", CloneTop: true})
	require.NoError(t, err)
	_, err = f.svc.CreateBiosample(f.ctx, Biosample{SampleID: "T1A", ParentID: &top.ID})
	require.NoError(t, err)

	_, err = f.store.RunInTransaction(f.ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateBiosample(top.ID, func(b *domain.Biosample) error {
			b.AttachedStudyID = &study.ID
			b.InheritedStudyID = &study.ID
			return nil
		})
		return err
	})
	requireBlocked(t, err, "top_parent_unattached")

	// Lettered children of an ordinary attached specimen are derived samples, not clones.
	g := f.group(study, "1", nil, 1)
	parent := f.participant("Y1", study, g, 0)
	child, err := f.svc.CreateBiosample(f.ctx, Biosample{SampleID: "Y1A", ParentID: &parent.ID})
	require.NoError(t, err)
	assert.Equal(t, parent.ID, *child.ParentID)
}

type biosampleListView struct {
	domain.TransactionView
	biosamples []domain.Biosample
}

func (v biosampleListView) ListBiosamples() []domain.Biosample { return v.biosamples }

func TestSampleIDUniqueRule(t *testing.T) {
	view := biosampleListView{biosamples: []domain.Biosample{
		{Base: domain.Base{ID: "1"}, SampleID: "S"},
		{Base: domain.Base{ID: "2"}, SampleID: "S"},
		{Base: domain.Base{ID: "3"}, SampleID: "T"},
	}}
	res, err := NewSampleIDUniqueRule().Evaluate(context.Background(), view, nil)
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "2", res.Violations[0].EntityID)
	assert.True(t, res.HasBlocking())
}
