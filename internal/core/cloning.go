package core

import (
	"fmt"
	"strings"

	"spiritcore/pkg/domain"
)

// CloneKind describes how a batch row is mapped onto a biosample record.
type CloneKind string

const (
	// CloneNone attaches the resolved record itself.
	CloneNone CloneKind = ""
	// CloneReuse attaches an existing clone already in the target study.
	CloneReuse CloneKind = "reuse"
	// CloneFirst splits an attached record into an unattached top record
	// and two lettered children, one per use.
	CloneFirst CloneKind = "first"
	// CloneNext adds another lettered child under an existing top record.
	CloneNext CloneKind = "next"
)

// ClonePlan is the cloning decision for one batch row.
type ClonePlan struct {
	Kind           CloneKind
	SourceID       string
	SourceSampleID string
	SourceStudyID  *string
	TopID          string
	ReuseID        string
	RenameTo       string
	NewSampleID    string
}

// Cloning reports whether the plan creates records.
func (p ClonePlan) Cloning() bool {
	return p.Kind == CloneFirst || p.Kind == CloneNext
}

func (p ClonePlan) fingerprint() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s/%s", p.Kind, p.SourceID, p.TopID, p.ReuseID, p.RenameTo, p.NewSampleID)
}

func (p ClonePlan) describe(view domain.TransactionView, targetStudy domain.Study) string {
	from := "another group"
	if p.SourceStudyID != nil {
		if st, ok := view.FindStudy(*p.SourceStudyID); ok {
			from = "study " + st.StudyID
		}
	}
	switch p.Kind {
	case CloneFirst:
		return fmt.Sprintf("%s is used in %s: it becomes %s there and %s is created for study %s", p.SourceSampleID, from, p.RenameTo, p.NewSampleID, targetStudy.StudyID)
	case CloneNext:
		return fmt.Sprintf("%s is used in %s: clone %s is created for study %s", p.SourceSampleID, from, p.NewSampleID, targetStudy.StudyID)
	default:
		return ""
	}
}

// cloneScope carries per-batch planning state.
type cloneScope struct {
	study    domain.Study
	phaseID  *string
	reserved map[string]struct{}
}

func newCloneScope(study domain.Study, phaseID *string, batchSampleIDs []string) *cloneScope {
	reserved := make(map[string]struct{}, len(batchSampleIDs))
	for _, id := range batchSampleIDs {
		reserved[id] = struct{}{}
	}
	return &cloneScope{study: study, phaseID: phaseID, reserved: reserved}
}

func (s *cloneScope) taken(view domain.TransactionView, sampleID string) bool {
	if _, ok := s.reserved[sampleID]; ok {
		return true
	}
	_, ok := view.FindBiosampleBySampleID(sampleID)
	return ok
}

// CloningService decides when a specimen committed elsewhere must be cloned
// and performs the cloning inside a transaction.
type CloningService struct{}

// cloneLetter returns the suffix letter when child is parent followed by one of A..Z.
func cloneLetter(parent, child string) (byte, bool) {
	if len(child) != len(parent)+1 || !strings.HasPrefix(child, parent) {
		return 0, false
	}
	c := child[len(child)-1]
	return c, c >= 'A' && c <= 'Z'
}

// IsTopRecord reports whether b heads a clone family.
func (CloningService) IsTopRecord(b domain.Biosample) bool {
	return b.CloneTop
}

// topFor returns the top record of the clone family b belongs to.
func (c CloningService) topFor(view domain.TransactionView, b domain.Biosample) (domain.Biosample, bool) {
	if c.IsTopRecord(b) {
		return b, true
	}
	if b.ParentID == nil {
		return domain.Biosample{}, false
	}
	parent, ok := view.FindBiosample(*b.ParentID)
	if !ok || !c.IsTopRecord(parent) {
		return domain.Biosample{}, false
	}
	if _, ok := cloneLetter(parent.SampleID, b.SampleID); !ok {
		return domain.Biosample{}, false
	}
	return parent, true
}

// acceptableGroup reports whether a specimen currently in group current may
// simply be reassigned to target within the operation's phase scope.
func acceptableGroup(view domain.TransactionView, phaseID, current, target *string) bool {
	if current == nil || phaseID == nil {
		return true
	}
	g, ok := view.FindGroup(*current)
	if !ok {
		return true
	}
	if g.FromPhaseID != nil && *g.FromPhaseID == *phaseID {
		return true
	}
	if target == nil {
		return false
	}
	if *target == g.ID {
		return true
	}
	tg, ok := view.FindGroup(*target)
	return ok && g.IsAncestorOf(tg, view.FindGroup)
}

func (scope *cloneScope) fits(view domain.TransactionView, b domain.Biosample, targetGroupID *string) bool {
	return b.InheritedStudyID != nil && *b.InheritedStudyID == scope.study.ID &&
		acceptableGroup(view, scope.phaseID, b.InheritedGroupID, targetGroupID)
}

// Plan decides how b is attached to the scope's study and target group.
func (c CloningService) Plan(view domain.TransactionView, scope *cloneScope, b domain.Biosample, targetGroupID *string) (ClonePlan, error) {
	plan := ClonePlan{SourceID: b.ID, SourceSampleID: b.SampleID, SourceStudyID: domain.CloneStringPtr(b.InheritedStudyID)}
	isTop := c.IsTopRecord(b)
	if !isTop {
		if b.InheritedStudyID == nil || scope.fits(view, b, targetGroupID) {
			return plan, nil
		}
	}

	top, hasTop := c.topFor(view, b)
	family := b.ID
	if hasTop {
		family = top.ID
	}
	for _, child := range view.ChildrenOf(family) {
		if child.ID == b.ID {
			continue
		}
		if scope.fits(view, child, targetGroupID) {
			plan.Kind = CloneReuse
			plan.ReuseID = child.ID
			return plan, nil
		}
	}

	if hasTop {
		next, err := c.nextLetter(view, scope, top)
		if err != nil {
			return ClonePlan{}, err
		}
		plan.Kind = CloneNext
		plan.TopID = top.ID
		plan.NewSampleID = top.SampleID + string(next)
		scope.reserved[plan.NewSampleID] = struct{}{}
		return plan, nil
	}

	plan.Kind = CloneFirst
	plan.RenameTo = b.SampleID + "A"
	plan.NewSampleID = b.SampleID + "B"
	for _, id := range []string{plan.RenameTo, plan.NewSampleID} {
		if scope.taken(view, id) {
			return ClonePlan{}, invalidf("attach", "cannot clone %s: sample id %s is already in use", b.SampleID, id)
		}
	}
	scope.reserved[plan.RenameTo] = struct{}{}
	scope.reserved[plan.NewSampleID] = struct{}{}
	return plan, nil
}

func (c CloningService) nextLetter(view domain.TransactionView, scope *cloneScope, top domain.Biosample) (byte, error) {
	highest := byte('A' - 1)
	for _, child := range view.ChildrenOf(top.ID) {
		if l, ok := cloneLetter(top.SampleID, child.SampleID); ok && l > highest {
			highest = l
		}
	}
	for l := highest + 1; l <= 'Z'; l++ {
		if !scope.taken(view, top.SampleID+string(l)) {
			return l, nil
		}
	}
	return 0, invalidf("attach", "no clone letter left for %s", top.SampleID)
}

// Apply executes plan and returns the record the batch row attaches.
func (c CloningService) Apply(tx domain.Transaction, plan ClonePlan) (domain.Biosample, error) {
	view := tx.Snapshot()
	switch plan.Kind {
	case CloneNone:
		return findBiosample(view, plan.SourceID)
	case CloneReuse:
		return findBiosample(view, plan.ReuseID)
	case CloneNext:
		top, err := findBiosample(view, plan.TopID)
		if err != nil {
			return domain.Biosample{}, err
		}
		source, err := findBiosample(view, plan.SourceID)
		if err != nil {
			return domain.Biosample{}, err
		}
		return tx.CreateBiosample(domain.Biosample{
			SampleID:    plan.NewSampleID,
			SampleName:  source.SampleName,
			Biotype:     top.Biotype,
			ParentID:    &top.ID,
			TopParentID: top.TopParentID,
		})
	case CloneFirst:
		return c.splitFirstUse(tx, plan)
	default:
		return domain.Biosample{}, fmt.Errorf("unknown clone kind %q", plan.Kind)
	}
}

// splitFirstUse turns source into the first lettered child of a new
// unattached top record carrying its original sample id, then creates the
// second child for the new use.
func (c CloningService) splitFirstUse(tx domain.Transaction, plan ClonePlan) (domain.Biosample, error) {
	view := tx.Snapshot()
	source, err := findBiosample(view, plan.SourceID)
	if err != nil {
		return domain.Biosample{}, err
	}
	wasRoot := source.TopParentID == source.ID
	descendants := view.DescendantsOf(source.ID)

	if _, err := tx.UpdateBiosample(source.ID, func(b *domain.Biosample) error {
		b.SampleID = plan.RenameTo
		return nil
	}); err != nil {
		return domain.Biosample{}, err
	}
	topTemplate := domain.Biosample{
		SampleID:   plan.SourceSampleID,
		SampleName: source.SampleName,
		Biotype:    source.Biotype,
		ParentID:   domain.CloneStringPtr(source.ParentID),
		Comments:   source.Comments,
		CloneTop:   true,
	}
	if !wasRoot {
		topTemplate.TopParentID = source.TopParentID
	}
	top, err := tx.CreateBiosample(topTemplate)
	if err != nil {
		return domain.Biosample{}, err
	}
	if _, err := tx.UpdateBiosample(source.ID, func(b *domain.Biosample) error {
		b.ParentID = &top.ID
		if wasRoot {
			b.TopParentID = top.ID
		}
		return nil
	}); err != nil {
		return domain.Biosample{}, err
	}
	if wasRoot {
		for _, d := range descendants {
			if d.TopParentID != source.ID {
				continue
			}
			if _, err := tx.UpdateBiosample(d.ID, func(b *domain.Biosample) error {
				b.TopParentID = top.ID
				return nil
			}); err != nil {
				return domain.Biosample{}, err
			}
		}
	}
	return tx.CreateBiosample(domain.Biosample{
		SampleID:    plan.NewSampleID,
		SampleName:  source.SampleName,
		Biotype:     source.Biotype,
		ParentID:    &top.ID,
		TopParentID: top.TopParentID,
	})
}

func findBiosample(view domain.TransactionView, id string) (domain.Biosample, error) {
	b, ok := view.FindBiosample(id)
	if !ok {
		return domain.Biosample{}, ErrNotFound{Entity: domain.EntityBiosample, ID: id}
	}
	return b, nil
}
