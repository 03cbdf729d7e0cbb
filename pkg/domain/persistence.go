package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateStudy(Study) (Study, error)
	UpdateStudy(id string, mutator func(*Study) error) (Study, error)
	CreatePhase(Phase) (Phase, error)
	CreateGroup(Group) (Group, error)
	UpdateGroup(id string, mutator func(*Group) error) (Group, error)
	DeleteGroup(id string) error
	CreateStudyAction(StudyAction) (StudyAction, error)
	UpdateStudyAction(id string, mutator func(*StudyAction) error) (StudyAction, error)
	DeleteStudyAction(id string) error
	CreateBiosample(Biosample) (Biosample, error)
	UpdateBiosample(id string, mutator func(*Biosample) error) (Biosample, error)
	CreateResult(TestResult) (TestResult, error)
	UpdateResult(id string, mutator func(*TestResult) error) (TestResult, error)
}

// TransactionView provides read-only access to snapshot data for rules and planners.
type TransactionView interface {
	ListStudies() []Study
	FindStudy(id string) (Study, bool)
	ListPhases(studyID string) []Phase
	FindPhase(id string) (Phase, bool)
	ListGroups(studyID string) []Group
	FindGroup(id string) (Group, bool)
	ListStudyActions(groupID string) []StudyAction
	ListBiosamples() []Biosample
	FindBiosample(id string) (Biosample, bool)
	FindBiosampleBySampleID(sampleID string) (Biosample, bool)
	ChildrenOf(id string) []Biosample
	DescendantsOf(id string) []Biosample
	// ListAttached returns the study's participants. When phaseID is set only
	// participants whose current group starts at that phase are returned.
	ListAttached(studyID string, phaseID *string) []Biosample
	ListResults() []TestResult
	FindResult(testName, phaseID, biosampleID string) (TestResult, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
