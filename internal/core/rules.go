package core

import "spiritcore/pkg/domain"

// Rule defines an evaluation executed within a transaction boundary.
type Rule = domain.Rule

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in invariant set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewSampleIDUniqueRule())
	engine.Register(NewSubgroupRangeRule())
	engine.Register(NewGroupSelfReferenceRule())
	engine.Register(NewTopParentUnattachedRule())
	engine.Register(NewGroupShortNameUniqueRule())
	return engine
}
