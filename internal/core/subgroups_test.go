package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiritcore/pkg/domain"
)

func TestAddSubgroup(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	g := f.group(study, "1", nil, 3)
	f.notes.reset()

	updated, err := f.svc.AddSubgroup(f.ctx, autoSession, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 0}, updated.SubgroupSizes)
	assert.Equal(t, []notifyCall{
		{kind: ChangeUpdated, entity: domain.EntityStudy, count: 1},
		{kind: ChangeUpdated, entity: domain.EntityGroup, count: 1},
	}, f.notes.snapshot())
}

func TestRemoveSubgroupShiftsHigherIndices(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	d0 := f.phase(study, "d0")
	g := f.group(study, "1", &d0, 1, 2, 3)
	f.action(g, d0, 1, "dropped")
	f.action(g, d0, 2, "kept")
	f.participant("p0", study, g, 0)
	f.participant("p2", study, g, 2)

	updated, err := f.svc.RemoveSubgroup(f.ctx, autoSession, g.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, updated.SubgroupSizes)

	actions := f.actions(g.ID)
	require.Len(t, actions, 1)
	assert.Equal(t, "kept", actions[0].Label)
	assert.Equal(t, 1, actions[0].SubGroup)
	assert.Equal(t, 1, f.biosample("p2").InheritedSubGroup)
	assert.Equal(t, 0, f.biosample("p0").InheritedSubGroup)
}

func TestRemoveSubgroupRejections(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	g := f.group(study, "1", nil, 1, 1)
	single := f.group(study, "2", nil, 4)
	f.participant("p1", study, g, 1)
	before := f.store.ExportState()

	var verr *ValidationError
	_, err := f.svc.RemoveSubgroup(f.ctx, autoSession, g.ID, 1)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "occupied by p1")

	_, err = f.svc.RemoveSubgroup(f.ctx, autoSession, g.ID, 5)
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, domain.ErrInvalidSubgroup)

	_, err = f.svc.RemoveSubgroup(f.ctx, autoSession, single.ID, 0)
	require.ErrorAs(t, err, &verr)

	assert.Equal(t, before, f.store.ExportState())
}

func TestMoveSubgroupUpSwapsMembers(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	d0 := f.phase(study, "d0")
	g := f.group(study, "1", &d0, 2, 5)
	f.action(g, d0, 0, "low")
	f.action(g, d0, 1, "high")
	f.participant("lo", study, g, 0)
	f.participant("hi", study, g, 1)

	updated, err := f.svc.MoveSubgroupUp(f.ctx, autoSession, g.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 2}, updated.SubgroupSizes)
	assert.Equal(t, 0, f.biosample("hi").InheritedSubGroup)
	assert.Equal(t, 1, f.biosample("lo").InheritedSubGroup)

	actions := f.actions(g.ID)
	require.Len(t, actions, 2)
	assert.Equal(t, "high", actions[0].Label)
	assert.Equal(t, "low", actions[1].Label)

	_, err = f.svc.MoveSubgroupUp(f.ctx, autoSession, g.ID, 0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSetSubgroupSizes(t *testing.T) {
	f := newFixture(t)
	study := f.study("S-1")
	d0 := f.phase(study, "d0")
	source := f.group(study, "1", &d0, 2, 2)
	dividing, err := f.svc.CreateGroup(f.ctx, Group{
		StudyID:          study.ID,
		ShortName:        "1D",
		FromGroupID:      &source.ID,
		FromPhaseID:      &d0.ID,
		DividingSampling: domain.StringPtr("organ-split"),
		SubgroupSizes:    []int{4},
	})
	require.NoError(t, err)

	var verr *ValidationError
	_, err = f.svc.SetSubgroupSizes(f.ctx, autoSession, dividing.ID, []int{3})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "dividing-group total mismatch")

	updated, err := f.svc.SetSubgroupSizes(f.ctx, autoSession, dividing.ID, []int{1, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, updated.SubgroupSizes)

	_, err = f.svc.SetSubgroupSizes(f.ctx, autoSession, source.ID, []int{2, -1})
	require.ErrorAs(t, err, &verr)

	f.participant("p1", study, source, 1)
	_, err = f.svc.SetSubgroupSizes(f.ctx, autoSession, source.ID, []int{4})
	require.ErrorAs(t, err, &verr, "an occupied subgroup cannot be cut off")
	var blocked domain.RuleViolationError
	assert.ErrorAs(t, err, &blocked)
	g, _ := f.findGroup(source.ID)
	assert.Equal(t, []int{2, 2}, g.SubgroupSizes)
}

func TestSubgroupEditsNeedEditRight(t *testing.T) {
	f := newFixture(t)
	g := f.group(f.study("S-1"), "1", nil, 1)
	_, err := f.svc.AddSubgroup(f.ctx, Session{User: "viewer", Rights: &fixedRights{}}, g.ID)
	var perr *PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "edit", perr.Action)
}
