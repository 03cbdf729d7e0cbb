package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiritcore/pkg/domain"
)

func seed(t *testing.T, store *Store) (Study, Phase, Group) {
	t.Helper()
	var (
		study Study
		phase Phase
		group Group
	)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		if study, err = tx.CreateStudy(Study{StudyID: "S-1", Title: "Tox"}); err != nil {
			return err
		}
		if phase, err = tx.CreatePhase(Phase{StudyID: study.ID, Name: "d0"}); err != nil {
			return err
		}
		group, err = tx.CreateGroup(Group{StudyID: study.ID, ShortName: "1", FromPhaseID: &phase.ID, SubgroupSizes: []int{2, 2}})
		return err
	})
	require.NoError(t, err)
	return study, phase, group
}

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	study, _, group := seed(t, store)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		created, err := tx.CreateBiosample(Biosample{SampleID: "881234", AttachedStudyID: &study.ID, InheritedStudyID: &study.ID, InheritedGroupID: &group.ID})
		if err != nil {
			return err
		}
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, created.ID, created.TopParentID)
		assert.Equal(t, domain.DefaultBiotype, created.Biotype)
		_, ok := tx.Snapshot().FindBiosampleBySampleID("881234")
		assert.True(t, ok, "transaction view sees its own writes")
		return nil
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, store.View(context.Background(), func(v TransactionView) error {
		count = len(v.ListAttached(study.ID, nil))
		return nil
	}))
	assert.Equal(t, 1, count)

	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	assert.Empty(t, store.ExportState().Biosamples)
	store.ImportState(snapshot)
	assert.Len(t, store.ExportState().Biosamples, 1)
	assert.NotNil(t, store.RulesEngine())
	assert.NotNil(t, store.NowFunc())
}

func TestFailedTransactionLeavesStateUntouched(t *testing.T) {
	store := NewStore(nil)
	study, _, _ := seed(t, store)
	before := store.ExportState()

	boom := errors.New("boom")
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateBiosample(Biosample{SampleID: "X1", AttachedStudyID: &study.ID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, before, store.ExportState())
}

func TestCommitHookFailureRollsBack(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	before := store.ExportState()

	hookErr := errors.New("disk full")
	var seen Snapshot
	store.SetCommitHook(func(_ context.Context, next Snapshot) error {
		seen = next
		return hookErr
	})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateBiosample(Biosample{SampleID: "X2"})
		return err
	})
	require.ErrorIs(t, err, hookErr)
	assert.Len(t, seen.Biosamples, 1, "hook receives the pending state")
	assert.Equal(t, before, store.ExportState())
}

type blockAll struct{}

func (blockAll) Name() string { return "block_all" }

func (blockAll) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{Violations: []domain.Violation{{Rule: "block_all", Severity: domain.SeverityBlock, Message: "nope"}}}, nil
}

func TestBlockingRuleAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	store := NewStore(engine)
	seed(t, store)
	engine.Register(blockAll{})

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateBiosample(Biosample{SampleID: "X3"})
		return err
	})
	var violation domain.RuleViolationError
	require.ErrorAs(t, err, &violation)
	assert.Empty(t, store.ExportState().Biosamples)
}

func TestBiosampleValidation(t *testing.T) {
	store := NewStore(nil)
	seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		parent, err := tx.CreateBiosample(Biosample{SampleID: "P"})
		require.NoError(t, err)

		_, err = tx.CreateBiosample(Biosample{SampleID: "P"})
		assert.ErrorContains(t, err, "already used")
		_, err = tx.CreateBiosample(Biosample{SampleID: "  "})
		assert.Error(t, err)
		_, err = tx.CreateBiosample(Biosample{SampleID: "C", ParentID: domain.StringPtr("missing")})
		assert.Error(t, err)

		child, err := tx.CreateBiosample(Biosample{SampleID: "C", ParentID: &parent.ID})
		require.NoError(t, err)
		assert.Equal(t, parent.ID, child.TopParentID)

		renamed, err := tx.UpdateBiosample(parent.ID, func(b *Biosample) error {
			b.SampleID = "PA"
			return nil
		})
		require.NoError(t, err)
		view := tx.Snapshot()
		_, ok := view.FindBiosampleBySampleID("P")
		assert.False(t, ok)
		got, ok := view.FindBiosampleBySampleID("PA")
		require.True(t, ok)
		assert.Equal(t, renamed.ID, got.ID)

		_, err = tx.UpdateBiosample(child.ID, func(b *Biosample) error {
			b.SampleID = "PA"
			return nil
		})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestGroupReferencesAndDelete(t *testing.T) {
	store := NewStore(nil)
	study, phase, group := seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateGroup(group.ID, func(g *Group) error {
			g.FromGroupID = &g.ID
			return nil
		})
		assert.ErrorContains(t, err, "itself")

		child, err := tx.CreateGroup(Group{StudyID: study.ID, ShortName: "1A", FromGroupID: &group.ID, FromPhaseID: &phase.ID})
		require.NoError(t, err)
		assert.Equal(t, []int{0}, child.SubgroupSizes)

		assert.ErrorContains(t, tx.DeleteGroup(group.ID), "referenced by group")

		action, err := tx.CreateStudyAction(StudyAction{GroupID: child.ID, PhaseID: phase.ID})
		require.NoError(t, err)
		assert.Equal(t, study.ID, action.StudyID)
		assert.ErrorContains(t, tx.DeleteGroup(child.ID), "study action")
		require.NoError(t, tx.DeleteStudyAction(action.ID))
		require.NoError(t, tx.DeleteGroup(child.ID))
		require.NoError(t, tx.DeleteGroup(group.ID))
		return nil
	})
	require.NoError(t, err)
}

func TestViewQueries(t *testing.T) {
	store := NewStore(nil)
	study, phase, group := seed(t, store)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		other, err := tx.CreateGroup(Group{StudyID: study.ID, ShortName: "10"})
		require.NoError(t, err)
		root, err := tx.CreateBiosample(Biosample{SampleID: "R", AttachedStudyID: &study.ID, InheritedStudyID: &study.ID, InheritedGroupID: &group.ID})
		require.NoError(t, err)
		mid, err := tx.CreateBiosample(Biosample{SampleID: "M", ParentID: &root.ID})
		require.NoError(t, err)
		_, err = tx.CreateBiosample(Biosample{SampleID: "L", ParentID: &mid.ID})
		require.NoError(t, err)
		_, err = tx.CreateBiosample(Biosample{SampleID: "Q", AttachedStudyID: &study.ID, InheritedStudyID: &study.ID, InheritedGroupID: &other.ID})
		require.NoError(t, err)
		value := 21.5
		_, err = tx.CreateResult(TestResult{TestName: domain.WeighingTest, PhaseID: phase.ID, BiosampleID: root.ID, Value: &value})
		return err
	})
	require.NoError(t, err)

	require.NoError(t, store.View(context.Background(), func(v TransactionView) error {
		root, ok := v.FindBiosampleBySampleID("R")
		require.True(t, ok)
		assert.Len(t, v.ChildrenOf(root.ID), 1)
		descendants := v.DescendantsOf(root.ID)
		require.Len(t, descendants, 2)
		assert.Equal(t, "M", descendants[0].SampleID)
		assert.Equal(t, root.ID, descendants[1].TopParentID)

		assert.Len(t, v.ListAttached(study.ID, nil), 2)
		scoped := v.ListAttached(study.ID, &phase.ID)
		require.Len(t, scoped, 1, "group without a start phase is out of scope")
		assert.Equal(t, "R", scoped[0].SampleID)

		groups := v.ListGroups(study.ID)
		require.Len(t, groups, 2)
		assert.Equal(t, "1", groups[0].ShortName)
		assert.Equal(t, "10", groups[1].ShortName)

		res, ok := v.FindResult(domain.WeighingTest, phase.ID, root.ID)
		require.True(t, ok)
		assert.InDelta(t, 21.5, *res.Value, 0.001)
		return nil
	}))
}

func TestMigrateSnapshotDropsDanglingReferences(t *testing.T) {
	store := NewStore(nil)
	store.ImportState(Snapshot{
		Studies: map[string]Study{"s": {Base: domain.Base{ID: "s"}}},
		Groups: map[string]Group{
			"g":      {Base: domain.Base{ID: "g"}, StudyID: "s", FromGroupID: domain.StringPtr("gone")},
			"orphan": {Base: domain.Base{ID: "orphan"}, StudyID: "missing"},
		},
		Biosamples: map[string]Biosample{
			"b": {Base: domain.Base{ID: "b"}, SampleID: "B", ParentID: domain.StringPtr("gone"), InheritedGroupID: domain.StringPtr("orphan"), InheritedSubGroup: 3},
		},
		Results: map[string]TestResult{"r": {Base: domain.Base{ID: "r"}, BiosampleID: "gone"}},
	})
	state := store.ExportState()
	assert.NotContains(t, state.Groups, "orphan")
	assert.Nil(t, state.Groups["g"].FromGroupID)
	assert.Equal(t, []int{0}, state.Groups["g"].SubgroupSizes)
	b := state.Biosamples["b"]
	assert.Nil(t, b.ParentID)
	assert.Equal(t, "b", b.TopParentID)
	assert.Nil(t, b.InheritedGroupID)
	assert.Zero(t, b.InheritedSubGroup)
	assert.Empty(t, state.Results)
}

func TestNaturalLess(t *testing.T) {
	assert.True(t, NaturalLess("2", "10"))
	assert.True(t, NaturalLess("A2", "A10"))
	assert.True(t, NaturalLess("1", "1A"))
	assert.False(t, NaturalLess("10", "9"))
	assert.True(t, NaturalLess("007", "8"))
	assert.False(t, NaturalLess("B", "A"))
}

func TestRestoreRunsCommitHook(t *testing.T) {
	source := NewStore(nil)
	seed(t, source)
	archived := source.ExportState()

	target := NewStore(nil)
	var hooked int
	target.SetCommitHook(func(_ context.Context, next Snapshot) error {
		hooked++
		if hooked == 1 {
			return errors.New("disk full")
		}
		assert.Len(t, next.Groups, 1)
		return nil
	})

	require.EqualError(t, target.Restore(context.Background(), archived), "disk full")
	assert.Empty(t, target.ExportState().Studies)

	require.NoError(t, target.Restore(context.Background(), archived))
	assert.Equal(t, archived, target.ExportState())
	err := target.View(context.Background(), func(v domain.TransactionView) error {
		_, ok := v.FindBiosampleBySampleID("missing")
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}
