package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"spiritcore/internal/infra/persistence/memory"
	"spiritcore/pkg/domain"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	svc   *Service
	notes *recordingNotifier
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	notes := &recordingNotifier{}
	opts = append([]Option{WithEditGuard(NewEditGuard()), WithNotifier(notes)}, opts...)
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		svc:   NewService(store, opts...),
		notes: notes,
	}
}

func (f *fixture) study(code string) Study {
	f.t.Helper()
	st, err := f.svc.CreateStudy(f.ctx, Study{StudyID: code, Title: code})
	require.NoError(f.t, err)
	return st
}

func (f *fixture) phase(study Study, name string) Phase {
	f.t.Helper()
	p, err := f.svc.CreatePhase(f.ctx, Phase{StudyID: study.ID, Name: name})
	require.NoError(f.t, err)
	return p
}

// group creates a root group starting at phase (when non-nil) with the given subgroup sizes.
func (f *fixture) group(study Study, shortName string, phase *Phase, sizes ...int) Group {
	f.t.Helper()
	g := Group{StudyID: study.ID, ShortName: shortName, Name: "Group " + shortName, SubgroupSizes: sizes}
	if phase != nil {
		g.FromPhaseID = &phase.ID
	}
	created, err := f.svc.CreateGroup(f.ctx, g)
	require.NoError(f.t, err)
	return created
}

func (f *fixture) action(group Group, phase Phase, subGroup int, label string) StudyAction {
	f.t.Helper()
	a, err := f.svc.CreateStudyAction(f.ctx, StudyAction{GroupID: group.ID, PhaseID: phase.ID, SubGroup: subGroup, Label: label})
	require.NoError(f.t, err)
	return a
}

// participant accessions sampleID directly into study/group/subGroup.
func (f *fixture) participant(sampleID string, study Study, group Group, subGroup int) Biosample {
	f.t.Helper()
	b, err := f.svc.CreateBiosample(f.ctx, Biosample{
		SampleID:          sampleID,
		AttachedStudyID:   &study.ID,
		InheritedStudyID:  &study.ID,
		InheritedGroupID:  &group.ID,
		InheritedSubGroup: subGroup,
	})
	require.NoError(f.t, err)
	return b
}

func (f *fixture) biosample(sampleID string) Biosample {
	f.t.Helper()
	b, err := f.svc.BiosampleBySampleID(f.ctx, sampleID)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) groups(study Study) []Group {
	f.t.Helper()
	gs, err := f.svc.Groups(f.ctx, study.ID)
	require.NoError(f.t, err)
	return gs
}

func (f *fixture) actions(groupID string) []StudyAction {
	f.t.Helper()
	var out []StudyAction
	require.NoError(f.t, f.store.View(f.ctx, func(v domain.TransactionView) error {
		out = v.ListStudyActions(groupID)
		return nil
	}))
	return out
}

func (f *fixture) findGroup(id string) (Group, bool) {
	f.t.Helper()
	var (
		g  Group
		ok bool
	)
	require.NoError(f.t, f.store.View(f.ctx, func(v domain.TransactionView) error {
		g, ok = v.FindGroup(id)
		return nil
	}))
	return g, ok
}

func row(sampleID string, group *Group) AttachedBiosample {
	r := AttachedBiosample{SampleID: sampleID}
	if group != nil {
		r.GroupID = &group.ID
	}
	return r
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

var autoSession = Session{User: "tester", Confirmer: AutoConfirm}

type recordingConfirmer struct {
	answer   bool
	messages []string
}

func (c *recordingConfirmer) Confirm(_ context.Context, message string) bool {
	c.messages = append(c.messages, message)
	return c.answer
}

type fixedRights struct {
	edit  bool
	admin bool
	calls int
}

func (r *fixedRights) CanEdit(context.Context, string, EntityRef) bool {
	r.calls++
	return r.edit
}

func (r *fixedRights) CanAdmin(context.Context, string, EntityRef) bool {
	r.calls++
	return r.admin
}

type notifyCall struct {
	kind   ChangeKind
	entity domain.EntityType
	count  int
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) Notify(kind ChangeKind, entity domain.EntityType, entities []any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{kind: kind, entity: entity, count: len(entities)})
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.calls = nil
	n.mu.Unlock()
}

func (n *recordingNotifier) snapshot() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}
