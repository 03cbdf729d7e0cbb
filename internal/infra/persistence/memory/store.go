// Package memory provides an in-memory implementation of the core persistence
// store used for tests, ephemeral environments and as the transactional layer
// of the durable backends.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"spiritcore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Study aliases domain.Study for in-memory persistence operations.
	Study = domain.Study
	// Phase aliases domain.Phase.
	Phase = domain.Phase
	// Group aliases domain.Group.
	Group = domain.Group
	// StudyAction aliases domain.StudyAction.
	StudyAction = domain.StudyAction
	// Biosample aliases domain.Biosample.
	Biosample = domain.Biosample
	// TestResult aliases domain.TestResult.
	TestResult = domain.TestResult
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook runs after rules pass and before the new state becomes visible.
// Returning an error discards the whole transaction.
type CommitHook func(ctx context.Context, next Snapshot) error

type memoryState struct {
	studies     map[string]Study
	phases      map[string]Phase
	groups      map[string]Group
	actions     map[string]StudyAction
	biosamples  map[string]Biosample
	results     map[string]TestResult
	sampleIndex map[string]string
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Studies    map[string]Study       `json:"studies"`
	Phases     map[string]Phase       `json:"phases"`
	Groups     map[string]Group       `json:"groups"`
	Actions    map[string]StudyAction `json:"actions"`
	Biosamples map[string]Biosample   `json:"biosamples"`
	Results    map[string]TestResult  `json:"results"`
}

func newMemoryState() memoryState {
	return memoryState{
		studies:     make(map[string]Study),
		phases:      make(map[string]Phase),
		groups:      make(map[string]Group),
		actions:     make(map[string]StudyAction),
		biosamples:  make(map[string]Biosample),
		results:     make(map[string]TestResult),
		sampleIndex: make(map[string]string),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Studies:    make(map[string]Study, len(state.studies)),
		Phases:     make(map[string]Phase, len(state.phases)),
		Groups:     make(map[string]Group, len(state.groups)),
		Actions:    make(map[string]StudyAction, len(state.actions)),
		Biosamples: make(map[string]Biosample, len(state.biosamples)),
		Results:    make(map[string]TestResult, len(state.results)),
	}
	for k, v := range state.studies {
		s.Studies[k] = v
	}
	for k, v := range state.phases {
		s.Phases[k] = clonePhase(v)
	}
	for k, v := range state.groups {
		s.Groups[k] = cloneGroup(v)
	}
	for k, v := range state.actions {
		s.Actions[k] = cloneAction(v)
	}
	for k, v := range state.biosamples {
		s.Biosamples[k] = cloneBiosample(v)
	}
	for k, v := range state.results {
		s.Results[k] = cloneResult(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Studies {
		state.studies[k] = v
	}
	for k, v := range s.Phases {
		state.phases[k] = clonePhase(v)
	}
	for k, v := range s.Groups {
		state.groups[k] = cloneGroup(v)
	}
	for k, v := range s.Actions {
		state.actions[k] = cloneAction(v)
	}
	for k, v := range s.Biosamples {
		state.biosamples[k] = cloneBiosample(v)
		state.sampleIndex[v.SampleID] = k
	}
	for k, v := range s.Results {
		state.results[k] = cloneResult(v)
	}
	return state
}

// migrateSnapshot drops records whose owning references no longer exist and
// normalizes fields older snapshots may have left empty.
//
//nolint:gocyclo // one pass over every bucket keeps imports consistent.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Studies == nil {
		snapshot.Studies = map[string]Study{}
	}
	if snapshot.Phases == nil {
		snapshot.Phases = map[string]Phase{}
	}
	if snapshot.Groups == nil {
		snapshot.Groups = map[string]Group{}
	}
	if snapshot.Actions == nil {
		snapshot.Actions = map[string]StudyAction{}
	}
	if snapshot.Biosamples == nil {
		snapshot.Biosamples = map[string]Biosample{}
	}
	if snapshot.Results == nil {
		snapshot.Results = map[string]TestResult{}
	}

	for id, phase := range snapshot.Phases {
		if _, ok := snapshot.Studies[phase.StudyID]; !ok {
			delete(snapshot.Phases, id)
		}
	}
	for id, group := range snapshot.Groups {
		if _, ok := snapshot.Studies[group.StudyID]; !ok {
			delete(snapshot.Groups, id)
			continue
		}
		if len(group.SubgroupSizes) == 0 {
			group.SubgroupSizes = []int{0}
		}
		if group.FromGroupID != nil {
			if _, ok := snapshot.Groups[*group.FromGroupID]; !ok || *group.FromGroupID == id {
				group.FromGroupID = nil
			}
		}
		if group.FromPhaseID != nil {
			if _, ok := snapshot.Phases[*group.FromPhaseID]; !ok {
				group.FromPhaseID = nil
			}
		}
		snapshot.Groups[id] = group
	}
	for id, action := range snapshot.Actions {
		_, groupOK := snapshot.Groups[action.GroupID]
		_, phaseOK := snapshot.Phases[action.PhaseID]
		if !groupOK || !phaseOK {
			delete(snapshot.Actions, id)
		}
	}
	for id, sample := range snapshot.Biosamples {
		if sample.ParentID != nil {
			if _, ok := snapshot.Biosamples[*sample.ParentID]; !ok {
				sample.ParentID = nil
			}
		}
		if sample.TopParentID == "" {
			sample.TopParentID = id
		}
		if sample.InheritedGroupID != nil {
			if _, ok := snapshot.Groups[*sample.InheritedGroupID]; !ok {
				sample.InheritedGroupID = nil
				sample.InheritedSubGroup = 0
			}
		}
		snapshot.Biosamples[id] = sample
	}
	for id, result := range snapshot.Results {
		if _, ok := snapshot.Biosamples[result.BiosampleID]; !ok {
			delete(snapshot.Results, id)
		}
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.studies {
		cloned.studies[k] = v
	}
	for k, v := range s.phases {
		cloned.phases[k] = clonePhase(v)
	}
	for k, v := range s.groups {
		cloned.groups[k] = cloneGroup(v)
	}
	for k, v := range s.actions {
		cloned.actions[k] = cloneAction(v)
	}
	for k, v := range s.biosamples {
		cloned.biosamples[k] = cloneBiosample(v)
	}
	for k, v := range s.results {
		cloned.results[k] = cloneResult(v)
	}
	for k, v := range s.sampleIndex {
		cloned.sampleIndex[k] = v
	}
	return cloned
}

func clonePhase(p Phase) Phase {
	cp := p
	if p.AbsoluteDate != nil {
		t := *p.AbsoluteDate
		cp.AbsoluteDate = &t
	}
	return cp
}

func cloneGroup(g Group) Group {
	cp := g
	cp.SubgroupSizes = append([]int(nil), g.SubgroupSizes...)
	cp.FromGroupID = domain.CloneStringPtr(g.FromGroupID)
	cp.FromPhaseID = domain.CloneStringPtr(g.FromPhaseID)
	cp.DividingSampling = domain.CloneStringPtr(g.DividingSampling)
	return cp
}

func cloneAction(a StudyAction) StudyAction {
	cp := a
	cp.SamplingIDs = append([]string(nil), a.SamplingIDs...)
	return cp
}

func cloneBiosample(b Biosample) Biosample {
	cp := b
	cp.AttachedStudyID = domain.CloneStringPtr(b.AttachedStudyID)
	cp.InheritedStudyID = domain.CloneStringPtr(b.InheritedStudyID)
	cp.InheritedGroupID = domain.CloneStringPtr(b.InheritedGroupID)
	cp.ParentID = domain.CloneStringPtr(b.ParentID)
	cp.ContainerID = domain.CloneStringPtr(b.ContainerID)
	return cp
}

func cloneResult(r TestResult) TestResult {
	cp := r
	if r.Value != nil {
		v := *r.Value
		cp.Value = &v
	}
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// SetCommitHook installs the hook durable backends use to persist a
// transaction before it becomes visible.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// SetNowFunc overrides the clock, mainly for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn != nil {
		s.nowFn = fn
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// Restore replaces the committed state with snapshot after the commit hook
// accepts it, so durable backends persist the restored state as well.
func (s *Store) Restore(ctx context.Context, snapshot Snapshot) error {
	next := memoryStateFromSnapshot(migrateSnapshot(snapshot))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hook != nil {
		if err := s.hook(ctx, snapshotFromMemoryState(next)); err != nil {
			return err
		}
	}
	s.state = next
	return nil
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn, the rules engine and the
// commit hook all succeed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil {
		if err := s.hook(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateStudy stores a new study.
func (tx *transaction) CreateStudy(st Study) (Study, error) {
	if st.ID == "" {
		st.ID = tx.store.newID()
	}
	if _, exists := tx.state.studies[st.ID]; exists {
		return Study{}, fmt.Errorf("study %q already exists", st.ID)
	}
	if strings.TrimSpace(st.StudyID) == "" {
		st.StudyID = st.ID
	}
	st.CreatedAt = tx.now
	st.UpdatedAt = tx.now
	tx.state.studies[st.ID] = st
	tx.recordChange(Change{Entity: domain.EntityStudy, Action: domain.ActionCreate, After: st})
	return st, nil
}

// UpdateStudy mutates an existing study.
func (tx *transaction) UpdateStudy(id string, mutator func(*Study) error) (Study, error) {
	current, ok := tx.state.studies[id]
	if !ok {
		return Study{}, fmt.Errorf("study %q not found", id)
	}
	before := current
	if err := mutator(&current); err != nil {
		return Study{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.studies[id] = current
	tx.recordChange(Change{Entity: domain.EntityStudy, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreatePhase stores a new phase for an existing study.
func (tx *transaction) CreatePhase(p Phase) (Phase, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.phases[p.ID]; exists {
		return Phase{}, fmt.Errorf("phase %q already exists", p.ID)
	}
	if _, ok := tx.state.studies[p.StudyID]; !ok {
		return Phase{}, fmt.Errorf("study %q not found for phase", p.StudyID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.phases[p.ID] = clonePhase(p)
	tx.recordChange(Change{Entity: domain.EntityPhase, Action: domain.ActionCreate, After: clonePhase(p)})
	return clonePhase(p), nil
}

func (tx *transaction) validateGroupRefs(g Group) error {
	if _, ok := tx.state.studies[g.StudyID]; !ok {
		return fmt.Errorf("study %q not found for group", g.StudyID)
	}
	if g.FromGroupID != nil {
		if *g.FromGroupID == g.ID {
			return fmt.Errorf("group %q cannot derive from itself", g.ID)
		}
		from, ok := tx.state.groups[*g.FromGroupID]
		if !ok {
			return fmt.Errorf("group %q not found as source of group %q", *g.FromGroupID, g.ID)
		}
		if from.StudyID != g.StudyID {
			return fmt.Errorf("group %q derives from a group of another study", g.ID)
		}
	}
	if g.FromPhaseID != nil {
		if _, ok := tx.state.phases[*g.FromPhaseID]; !ok {
			return fmt.Errorf("phase %q not found for group %q", *g.FromPhaseID, g.ID)
		}
	}
	return nil
}

// CreateGroup stores a new group definition.
func (tx *transaction) CreateGroup(g Group) (Group, error) {
	if g.ID == "" {
		g.ID = tx.store.newID()
	}
	if _, exists := tx.state.groups[g.ID]; exists {
		return Group{}, fmt.Errorf("group %q already exists", g.ID)
	}
	if err := tx.validateGroupRefs(g); err != nil {
		return Group{}, err
	}
	if len(g.SubgroupSizes) == 0 {
		g.SubgroupSizes = []int{0}
	}
	g.CreatedAt = tx.now
	g.UpdatedAt = tx.now
	tx.state.groups[g.ID] = cloneGroup(g)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionCreate, After: cloneGroup(g)})
	return cloneGroup(g), nil
}

// UpdateGroup mutates an existing group.
func (tx *transaction) UpdateGroup(id string, mutator func(*Group) error) (Group, error) {
	current, ok := tx.state.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("group %q not found", id)
	}
	before := cloneGroup(current)
	if err := mutator(&current); err != nil {
		return Group{}, err
	}
	current.ID = id
	current.StudyID = before.StudyID
	if err := tx.validateGroupRefs(current); err != nil {
		return Group{}, err
	}
	current.UpdatedAt = tx.now
	tx.state.groups[id] = cloneGroup(current)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionUpdate, Before: before, After: cloneGroup(current)})
	return cloneGroup(current), nil
}

// DeleteGroup removes a group once nothing references it.
func (tx *transaction) DeleteGroup(id string) error {
	current, ok := tx.state.groups[id]
	if !ok {
		return fmt.Errorf("group %q not found", id)
	}
	for _, action := range tx.state.actions {
		if action.GroupID == id {
			return fmt.Errorf("group %q still referenced by study action %q", id, action.ID)
		}
	}
	for _, sample := range tx.state.biosamples {
		if sample.InheritedGroupID != nil && *sample.InheritedGroupID == id {
			return fmt.Errorf("group %q still referenced by biosample %q", id, sample.SampleID)
		}
	}
	for _, group := range tx.state.groups {
		if group.FromGroupID != nil && *group.FromGroupID == id {
			return fmt.Errorf("group %q still referenced by group %q", id, group.ShortName)
		}
	}
	delete(tx.state.groups, id)
	tx.recordChange(Change{Entity: domain.EntityGroup, Action: domain.ActionDelete, Before: cloneGroup(current)})
	return nil
}

func (tx *transaction) validateActionRefs(a StudyAction) error {
	group, ok := tx.state.groups[a.GroupID]
	if !ok {
		return fmt.Errorf("group %q not found for study action", a.GroupID)
	}
	if _, ok := tx.state.phases[a.PhaseID]; !ok {
		return fmt.Errorf("phase %q not found for study action", a.PhaseID)
	}
	if a.StudyID != "" && a.StudyID != group.StudyID {
		return fmt.Errorf("study action %q references group of another study", a.ID)
	}
	return nil
}

// CreateStudyAction stores a new study action.
func (tx *transaction) CreateStudyAction(a StudyAction) (StudyAction, error) {
	if a.ID == "" {
		a.ID = tx.store.newID()
	}
	if _, exists := tx.state.actions[a.ID]; exists {
		return StudyAction{}, fmt.Errorf("study action %q already exists", a.ID)
	}
	if err := tx.validateActionRefs(a); err != nil {
		return StudyAction{}, err
	}
	a.StudyID = tx.state.groups[a.GroupID].StudyID
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.actions[a.ID] = cloneAction(a)
	tx.recordChange(Change{Entity: domain.EntityStudyAction, Action: domain.ActionCreate, After: cloneAction(a)})
	return cloneAction(a), nil
}

// UpdateStudyAction mutates an existing study action.
func (tx *transaction) UpdateStudyAction(id string, mutator func(*StudyAction) error) (StudyAction, error) {
	current, ok := tx.state.actions[id]
	if !ok {
		return StudyAction{}, fmt.Errorf("study action %q not found", id)
	}
	before := cloneAction(current)
	if err := mutator(&current); err != nil {
		return StudyAction{}, err
	}
	current.ID = id
	if err := tx.validateActionRefs(current); err != nil {
		return StudyAction{}, err
	}
	current.StudyID = tx.state.groups[current.GroupID].StudyID
	current.UpdatedAt = tx.now
	tx.state.actions[id] = cloneAction(current)
	tx.recordChange(Change{Entity: domain.EntityStudyAction, Action: domain.ActionUpdate, Before: before, After: cloneAction(current)})
	return cloneAction(current), nil
}

// DeleteStudyAction removes a study action.
func (tx *transaction) DeleteStudyAction(id string) error {
	current, ok := tx.state.actions[id]
	if !ok {
		return fmt.Errorf("study action %q not found", id)
	}
	delete(tx.state.actions, id)
	tx.recordChange(Change{Entity: domain.EntityStudyAction, Action: domain.ActionDelete, Before: cloneAction(current)})
	return nil
}

func (tx *transaction) validateBiosample(b Biosample) error {
	if strings.TrimSpace(b.SampleID) == "" {
		return errors.New("biosample requires a sample id")
	}
	if owner, taken := tx.state.sampleIndex[b.SampleID]; taken && owner != b.ID {
		return fmt.Errorf("sample id %q already used", b.SampleID)
	}
	if b.ParentID != nil {
		if *b.ParentID == b.ID {
			return fmt.Errorf("biosample %q cannot be its own parent", b.SampleID)
		}
		if _, ok := tx.state.biosamples[*b.ParentID]; !ok {
			return fmt.Errorf("parent %q not found for biosample %q", *b.ParentID, b.SampleID)
		}
	}
	for _, ref := range []*string{b.AttachedStudyID, b.InheritedStudyID} {
		if ref == nil {
			continue
		}
		if _, ok := tx.state.studies[*ref]; !ok {
			return fmt.Errorf("study %q not found for biosample %q", *ref, b.SampleID)
		}
	}
	if b.InheritedGroupID != nil {
		if _, ok := tx.state.groups[*b.InheritedGroupID]; !ok {
			return fmt.Errorf("group %q not found for biosample %q", *b.InheritedGroupID, b.SampleID)
		}
	}
	return nil
}

// CreateBiosample stores a new biosample. A missing TopParentID is derived from the parent.
func (tx *transaction) CreateBiosample(b Biosample) (Biosample, error) {
	if b.ID == "" {
		b.ID = tx.store.newID()
	}
	if _, exists := tx.state.biosamples[b.ID]; exists {
		return Biosample{}, fmt.Errorf("biosample %q already exists", b.ID)
	}
	if err := tx.validateBiosample(b); err != nil {
		return Biosample{}, err
	}
	if b.TopParentID == "" {
		b.TopParentID = b.ID
		if b.ParentID != nil {
			b.TopParentID = tx.state.biosamples[*b.ParentID].TopParentID
		}
	}
	if b.Biotype == "" {
		b.Biotype = domain.DefaultBiotype
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	tx.state.biosamples[b.ID] = cloneBiosample(b)
	tx.state.sampleIndex[b.SampleID] = b.ID
	tx.recordChange(Change{Entity: domain.EntityBiosample, Action: domain.ActionCreate, After: cloneBiosample(b)})
	return cloneBiosample(b), nil
}

// UpdateBiosample mutates an existing biosample and keeps the sample id index current.
func (tx *transaction) UpdateBiosample(id string, mutator func(*Biosample) error) (Biosample, error) {
	current, ok := tx.state.biosamples[id]
	if !ok {
		return Biosample{}, fmt.Errorf("biosample %q not found", id)
	}
	before := cloneBiosample(current)
	if err := mutator(&current); err != nil {
		return Biosample{}, err
	}
	current.ID = id
	if err := tx.validateBiosample(current); err != nil {
		return Biosample{}, err
	}
	if current.TopParentID == "" {
		current.TopParentID = id
	}
	current.UpdatedAt = tx.now
	if before.SampleID != current.SampleID {
		delete(tx.state.sampleIndex, before.SampleID)
	}
	tx.state.sampleIndex[current.SampleID] = id
	tx.state.biosamples[id] = cloneBiosample(current)
	tx.recordChange(Change{Entity: domain.EntityBiosample, Action: domain.ActionUpdate, Before: before, After: cloneBiosample(current)})
	return cloneBiosample(current), nil
}

// CreateResult stores a measurement result.
func (tx *transaction) CreateResult(r TestResult) (TestResult, error) {
	if r.ID == "" {
		r.ID = tx.store.newID()
	}
	if _, exists := tx.state.results[r.ID]; exists {
		return TestResult{}, fmt.Errorf("result %q already exists", r.ID)
	}
	if _, ok := tx.state.biosamples[r.BiosampleID]; !ok {
		return TestResult{}, fmt.Errorf("biosample %q not found for result", r.BiosampleID)
	}
	if _, ok := tx.state.phases[r.PhaseID]; !ok {
		return TestResult{}, fmt.Errorf("phase %q not found for result", r.PhaseID)
	}
	if strings.TrimSpace(r.TestName) == "" {
		return TestResult{}, errors.New("result requires a test name")
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	tx.state.results[r.ID] = cloneResult(r)
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionCreate, After: cloneResult(r)})
	return cloneResult(r), nil
}

// UpdateResult mutates an existing result.
func (tx *transaction) UpdateResult(id string, mutator func(*TestResult) error) (TestResult, error) {
	current, ok := tx.state.results[id]
	if !ok {
		return TestResult{}, fmt.Errorf("result %q not found", id)
	}
	before := cloneResult(current)
	if err := mutator(&current); err != nil {
		return TestResult{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.results[id] = cloneResult(current)
	tx.recordChange(Change{Entity: domain.EntityResult, Action: domain.ActionUpdate, Before: before, After: cloneResult(current)})
	return cloneResult(current), nil
}

// Read helpers ---------------------------------------------------------------

// ListStudies returns all studies ordered by study code.
func (v transactionView) ListStudies() []Study {
	out := make([]Study, 0, len(v.state.studies))
	for _, st := range v.state.studies {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudyID < out[j].StudyID })
	return out
}

// FindStudy retrieves a study by ID.
func (v transactionView) FindStudy(id string) (Study, bool) {
	st, ok := v.state.studies[id]
	return st, ok
}

// ListPhases returns the study's phases ordered by date then name.
func (v transactionView) ListPhases(studyID string) []Phase {
	var out []Phase
	for _, p := range v.state.phases {
		if p.StudyID == studyID {
			out = append(out, clonePhase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AbsoluteDate != nil && b.AbsoluteDate != nil && !a.AbsoluteDate.Equal(*b.AbsoluteDate) {
			return a.AbsoluteDate.Before(*b.AbsoluteDate)
		}
		return a.Name < b.Name
	})
	return out
}

// FindPhase retrieves a phase by ID.
func (v transactionView) FindPhase(id string) (Phase, bool) {
	p, ok := v.state.phases[id]
	if !ok {
		return Phase{}, false
	}
	return clonePhase(p), true
}

// ListGroups returns the study's groups in natural short-name order.
func (v transactionView) ListGroups(studyID string) []Group {
	var out []Group
	for _, g := range v.state.groups {
		if g.StudyID == studyID {
			out = append(out, cloneGroup(g))
		}
	}
	SortGroups(out)
	return out
}

// FindGroup retrieves a group by ID.
func (v transactionView) FindGroup(id string) (Group, bool) {
	g, ok := v.state.groups[id]
	if !ok {
		return Group{}, false
	}
	return cloneGroup(g), true
}

// ListStudyActions returns the group's actions ordered by subgroup then phase.
func (v transactionView) ListStudyActions(groupID string) []StudyAction {
	var out []StudyAction
	for _, a := range v.state.actions {
		if a.GroupID == groupID {
			out = append(out, cloneAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubGroup != out[j].SubGroup {
			return out[i].SubGroup < out[j].SubGroup
		}
		if out[i].PhaseID != out[j].PhaseID {
			return out[i].PhaseID < out[j].PhaseID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListBiosamples returns all biosamples ordered by sample id.
func (v transactionView) ListBiosamples() []Biosample {
	out := make([]Biosample, 0, len(v.state.biosamples))
	for _, b := range v.state.biosamples {
		out = append(out, cloneBiosample(b))
	}
	sortBiosamples(out)
	return out
}

// FindBiosample retrieves a biosample by ID.
func (v transactionView) FindBiosample(id string) (Biosample, bool) {
	b, ok := v.state.biosamples[id]
	if !ok {
		return Biosample{}, false
	}
	return cloneBiosample(b), true
}

// FindBiosampleBySampleID resolves a biosample through the sample id index.
func (v transactionView) FindBiosampleBySampleID(sampleID string) (Biosample, bool) {
	id, ok := v.state.sampleIndex[sampleID]
	if !ok {
		return Biosample{}, false
	}
	return v.FindBiosample(id)
}

// ChildrenOf returns the direct children of a biosample.
func (v transactionView) ChildrenOf(id string) []Biosample {
	var out []Biosample
	for _, b := range v.state.biosamples {
		if b.ParentID != nil && *b.ParentID == id {
			out = append(out, cloneBiosample(b))
		}
	}
	sortBiosamples(out)
	return out
}

// DescendantsOf returns every record below id, breadth first.
func (v transactionView) DescendantsOf(id string) []Biosample {
	var out []Biosample
	seen := map[string]struct{}{id: {}}
	queue := []string{id}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range v.ChildrenOf(next) {
			if _, dup := seen[child.ID]; dup {
				continue
			}
			seen[child.ID] = struct{}{}
			out = append(out, child)
			queue = append(queue, child.ID)
		}
	}
	return out
}

// ListAttached returns the study's participants, optionally scoped to the
// groups starting at phaseID.
func (v transactionView) ListAttached(studyID string, phaseID *string) []Biosample {
	var out []Biosample
	for _, b := range v.state.biosamples {
		if b.AttachedStudyID == nil || *b.AttachedStudyID != studyID {
			continue
		}
		if phaseID != nil {
			if b.InheritedGroupID == nil {
				continue
			}
			group, ok := v.state.groups[*b.InheritedGroupID]
			if !ok || group.FromPhaseID == nil || *group.FromPhaseID != *phaseID {
				continue
			}
		}
		out = append(out, cloneBiosample(b))
	}
	sortBiosamples(out)
	return out
}

// ListResults returns all measurement results.
func (v transactionView) ListResults() []TestResult {
	out := make([]TestResult, 0, len(v.state.results))
	for _, r := range v.state.results {
		out = append(out, cloneResult(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindResult looks up the result for a (test, phase, biosample) combination.
func (v transactionView) FindResult(testName, phaseID, biosampleID string) (TestResult, bool) {
	for _, r := range v.state.results {
		if r.TestName == testName && r.PhaseID == phaseID && r.BiosampleID == biosampleID {
			return cloneResult(r), true
		}
	}
	return TestResult{}, false
}

func sortBiosamples(out []Biosample) {
	sort.Slice(out, func(i, j int) bool { return out[i].SampleID < out[j].SampleID })
}

// SortGroups orders groups by natural short-name order ("2" before "10").
func SortGroups(groups []Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		return NaturalLess(groups[i].ShortName, groups[j].ShortName)
	})
}

// NaturalLess compares strings treating digit runs as numbers.
func NaturalLess(a, b string) bool {
	for a != "" && b != "" {
		ad, arest := leadingDigits(a)
		bd, brest := leadingDigits(b)
		if ad != "" && bd != "" {
			an, bn := strings.TrimLeft(ad, "0"), strings.TrimLeft(bd, "0")
			if len(an) != len(bn) {
				return len(an) < len(bn)
			}
			if an != bn {
				return an < bn
			}
			a, b = arest, brest
			continue
		}
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		a, b = a[1:], b[1:]
	}
	return len(a) < len(b)
}

func leadingDigits(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i], s[i:]
}
