package core

import "spiritcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Study              = domain.Study
	Phase              = domain.Phase
	Group              = domain.Group
	StudyAction        = domain.StudyAction
	Biosample          = domain.Biosample
	TestResult         = domain.TestResult
	Change             = domain.Change
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityStudy       = domain.EntityStudy
	EntityPhase       = domain.EntityPhase
	EntityGroup       = domain.EntityGroup
	EntityStudyAction = domain.EntityStudyAction
	EntityBiosample   = domain.EntityBiosample
	EntityResult      = domain.EntityResult
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)
