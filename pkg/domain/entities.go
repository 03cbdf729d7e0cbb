// Package domain defines the persistent entities, value types, and rule
// evaluation primitives used by spiritcore.
package domain

import (
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records, notifications and persistence buckets.
const (
	// EntityStudy identifies a study record.
	EntityStudy EntityType = "study"
	// EntityPhase identifies a study timepoint.
	EntityPhase EntityType = "phase"
	// EntityGroup identifies a study group.
	EntityGroup EntityType = "group"
	// EntityStudyAction identifies a per (group, subgroup, phase) action record.
	EntityStudyAction EntityType = "study_action"
	// EntityBiosample identifies a biosample (specimen) record.
	EntityBiosample EntityType = "biosample"
	// EntityResult identifies a measurement result record.
	EntityResult EntityType = "result"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// DefaultBiotype is assigned to biosamples created during attachment when no biotype is supplied.
const DefaultBiotype = "Animal"

// WeighingTest is the fixed test name under which captured weights are stored.
const WeighingTest = "Weighing"

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Study owns groups, phases and participants. Groups and phases reference the
// study by id; participants are biosamples whose AttachedStudyID matches.
type Study struct {
	Base
	StudyID string `json:"study_id"`
	Title   string `json:"title"`
	Owner   string `json:"owner"`
}

// Phase is a timepoint within a study.
type Phase struct {
	Base
	StudyID      string     `json:"study_id"`
	Name         string     `json:"name"`
	AbsoluteDate *time.Time `json:"absolute_date,omitempty"`
}

// StudyAction is the planned measurement/treatment record for one
// (group, subgroup, phase) combination.
type StudyAction struct {
	Base
	StudyID       string   `json:"study_id"`
	GroupID       string   `json:"group_id"`
	SubGroup      int      `json:"sub_group"`
	PhaseID       string   `json:"phase_id"`
	Label         string   `json:"label,omitempty"`
	MeasureWeight bool     `json:"measure_weight"`
	MeasureFood   bool     `json:"measure_food"`
	MeasureWater  bool     `json:"measure_water"`
	SamplingIDs   []string `json:"sampling_ids,omitempty"`
}

// Biosample is a physical specimen or one of its virtual clones.
//
// ParentID is the single ownership link; children are derived by lookup.
// TopParentID names the hierarchy root and equals ID for a root record.
// InheritedGroupID and InheritedSubGroup are only meaningful when
// InheritedStudyID is set.
type Biosample struct {
	Base
	SampleID          string  `json:"sample_id"`
	SampleName        string  `json:"sample_name"`
	Biotype           string  `json:"biotype"`
	AttachedStudyID   *string `json:"attached_study_id"`
	InheritedStudyID  *string `json:"inherited_study_id"`
	InheritedGroupID  *string `json:"inherited_group_id"`
	InheritedSubGroup int     `json:"inherited_sub_group"`
	ParentID          *string `json:"parent_id"`
	TopParentID       string  `json:"top_parent_id"`
	ContainerID       *string `json:"container_id"`
	Comments          string  `json:"comments,omitempty"`
	// CloneTop marks the unattached record created when a specimen is first
	// cloned; its lettered children are the clones.
	CloneTop          bool    `json:"clone_top,omitempty"`
}

// IsAttached reports whether the biosample is a direct participant of a study.
func (b Biosample) IsAttached() bool {
	return b.AttachedStudyID != nil
}

// TestResult is a measurement captured for a biosample at a phase.
type TestResult struct {
	Base
	TestName    string   `json:"test_name"`
	PhaseID     string   `json:"phase_id"`
	BiosampleID string   `json:"biosample_id"`
	Value       *float64 `json:"value"`
	Unit        string   `json:"unit,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}

// StringPtr returns a pointer to a copy of v.
func StringPtr(v string) *string {
	return &v
}

// SameID reports whether two optional ids reference the same record.
func SameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// CloneStringPtr copies an optional id so mutations never alias.
func CloneStringPtr(v *string) *string {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
