package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"spiritcore/pkg/domain"
)

// AttachState is a stage of an AttachmentTransaction.
type AttachState int

const (
	StateValidating AttachState = iota
	StateConflictResolution
	StatePlanning
	StatePersisting
	StateCommitted
	StateAborted
)

func (s AttachState) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateConflictResolution:
		return "conflict_resolution"
	case StatePlanning:
		return "planning"
	case StatePersisting:
		return "persisting"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Terminal reports whether no further transition is possible.
func (s AttachState) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// AttachRequest describes the desired participants of a study.
//
// With a nil PhaseID the batch replaces every participant of the study. With a
// PhaseID only participants whose group starts at that phase may be detached.
type AttachRequest struct {
	StudyID        string
	PhaseID        *string
	Rows           []AttachedBiosample
	Biotype        string
	Renumber       bool
	RenumberStart  *int
	CaptureWeights bool
	WeightUnit     string
}

// AttachOutcome summarizes a committed attachment.
type AttachOutcome struct {
	Rows     []AttachedBiosample
	Created  []domain.Biosample
	Updated  []domain.Biosample
	Detached []domain.Biosample
	Clones   []ClonePlan
	Results  []domain.TestResult
}

type planEntry struct {
	row      AttachedBiosample
	existing *domain.Biosample
	clone    ClonePlan
}

type attachPlan struct {
	entries []planEntry
	detach  []domain.Biosample
	moved   []domain.Biosample
}

func (p attachPlan) fingerprint() string {
	var sb strings.Builder
	for _, e := range p.entries {
		existing := "-"
		if e.existing != nil {
			existing = e.existing.ID
		}
		group, sub := "-", 0
		if e.row.GroupID != nil {
			group = *e.row.GroupID
		}
		if e.row.SubGroup != nil {
			sub = *e.row.SubGroup
		}
		fmt.Fprintf(&sb, "%s|%s|%s|%s|%d|%s;", e.row.SampleID, existing, e.clone.fingerprint(), group, sub, e.row.SampleName)
	}
	for _, d := range p.detach {
		sb.WriteString("-" + d.ID + ";")
	}
	return sb.String()
}

func (p attachPlan) clones() []ClonePlan {
	var out []ClonePlan
	for _, e := range p.entries {
		if e.clone.Cloning() {
			out = append(out, e.clone)
		}
	}
	return out
}

// AttachmentTransaction applies one attachment batch end to end. It is
// single-use: after Apply reaches Committed or Aborted it cannot be reused.
type AttachmentTransaction struct {
	svc     *Service
	session Session
	req     AttachRequest
	state   AttachState
	cloner  CloningService
}

// NewAttachment prepares an attachment of req for the session user.
func (s *Service) NewAttachment(session Session, req AttachRequest) *AttachmentTransaction {
	rows := append([]AttachedBiosample(nil), req.Rows...)
	req.Rows = rows
	return &AttachmentTransaction{svc: s, session: session, req: req, state: StateValidating}
}

// State returns the current stage.
func (t *AttachmentTransaction) State() AttachState {
	return t.state
}

// Apply runs validation, conflict resolution, planning and persistence. Every
// failure leaves the store unchanged and the transaction Aborted.
func (t *AttachmentTransaction) Apply(ctx context.Context) (AttachOutcome, error) {
	if t.state.Terminal() {
		return AttachOutcome{}, ErrTransactionFinished
	}
	var outcome AttachOutcome
	err := t.svc.observe(ctx, "attach", func(ctx context.Context) error {
		var err error
		outcome, err = t.apply(ctx)
		return err
	})
	if err != nil {
		t.state = StateAborted
		return AttachOutcome{}, err
	}
	t.state = StateCommitted
	return outcome, nil
}

func (t *AttachmentTransaction) apply(ctx context.Context) (AttachOutcome, error) {
	const op = "attach"
	log := t.svc.logger.With(zap.String("operation", op), zap.String("study_id", t.req.StudyID), zap.String("user", t.session.User))

	t.state = StateValidating
	rows, err := normalizeRows(t.req.Rows)
	if err != nil {
		return AttachOutcome{}, err
	}
	if t.req.CaptureWeights && t.req.PhaseID == nil {
		return AttachOutcome{}, invalidf(op, "weight capture requires a phase")
	}

	var (
		study     domain.Study
		confirmed attachPlan
		messages  []string
		overwrite string
	)
	err = t.svc.store.View(ctx, func(view domain.TransactionView) error {
		var err error
		if study, err = t.validate(ctx, view, rows); err != nil {
			return err
		}
		t.state = StateConflictResolution
		if confirmed, err = t.plan(view, study, rows); err != nil {
			return err
		}
		for _, c := range confirmed.clones() {
			if c.SourceStudyID != nil && *c.SourceStudyID != study.ID {
				src, _ := view.FindBiosample(c.SourceID)
				if err := t.session.requireEdit(ctx, biosampleRef(src)); err != nil {
					return err
				}
			}
			messages = append(messages, c.describe(view, study))
		}
		overwrite = overwriteMessage(confirmed)
		return nil
	})
	if err != nil {
		log.Info("attachment rejected", zap.Error(err))
		return AttachOutcome{}, err
	}

	if len(messages) > 0 && !t.session.confirm(ctx, "Clone specimens?\n"+strings.Join(messages, "\n")) {
		log.Info("cloning declined", zap.Int("clones", len(messages)))
		return AttachOutcome{}, ErrConflictDeclined
	}

	t.state = StatePlanning
	if overwrite != "" && !t.session.confirm(ctx, overwrite) {
		log.Info("overwrite declined", zap.Int("detached", len(confirmed.detach)), zap.Int("moved", len(confirmed.moved)))
		return AttachOutcome{}, ErrConflictDeclined
	}

	t.state = StatePersisting
	var outcome AttachOutcome
	err = t.svc.run(ctx, op, func(tx *txScope) error {
		replayed, err := t.plan(tx.Snapshot(), study, rows)
		if err != nil {
			return err
		}
		if replayed.fingerprint() != confirmed.fingerprint() {
			return ErrPlanChanged
		}
		outcome, err = t.persist(tx, study, replayed)
		return err
	})
	if err != nil {
		log.Warn("attachment aborted", zap.Error(err))
		return AttachOutcome{}, err
	}
	log.Info("attachment committed",
		zap.Int("rows", len(outcome.Rows)),
		zap.Int("created", len(outcome.Created)),
		zap.Int("detached", len(outcome.Detached)),
		zap.Int("clones", len(outcome.Clones)),
		zap.Int("results", len(outcome.Results)))
	return outcome, nil
}

// normalizeRows drops blank rows and rejects malformed or duplicate sample ids.
func normalizeRows(in []AttachedBiosample) ([]AttachedBiosample, error) {
	out := make([]AttachedBiosample, 0, len(in))
	seen := make(map[string]int, len(in))
	for i, row := range in {
		if row.blank() {
			continue
		}
		row.SampleID = strings.TrimSpace(row.SampleID)
		if row.SampleID == "" {
			return nil, invalidf("attach", "row %d has data but no sample id", i+1)
		}
		if first, dup := seen[row.SampleID]; dup {
			return nil, invalidf("attach", "sample id %s appears in rows %d and %d", row.SampleID, first+1, i+1)
		}
		seen[row.SampleID] = i
		row.BiosampleID = ""
		out = append(out, row)
	}
	return out, nil
}

func (t *AttachmentTransaction) validate(ctx context.Context, view domain.TransactionView, rows []AttachedBiosample) (domain.Study, error) {
	study, ok := view.FindStudy(t.req.StudyID)
	if !ok {
		return domain.Study{}, ErrNotFound{Entity: domain.EntityStudy, ID: t.req.StudyID}
	}
	if err := t.session.requireEdit(ctx, studyRef(study)); err != nil {
		return domain.Study{}, err
	}
	if t.req.PhaseID != nil {
		phase, ok := view.FindPhase(*t.req.PhaseID)
		if !ok || phase.StudyID != study.ID {
			return domain.Study{}, invalidf("attach", "phase %s does not belong to study %s", *t.req.PhaseID, study.StudyID)
		}
	}
	for _, row := range rows {
		if row.GroupID == nil {
			if row.SubGroup != nil && *row.SubGroup != 0 {
				return domain.Study{}, invalidf("attach", "%s has subgroup %d but no group", row.SampleID, *row.SubGroup)
			}
			continue
		}
		group, ok := view.FindGroup(*row.GroupID)
		if !ok || group.StudyID != study.ID {
			return domain.Study{}, invalidf("attach", "group %s of %s does not belong to study %s", *row.GroupID, row.SampleID, study.StudyID)
		}
		if row.SubGroup != nil && !group.ValidSubgroup(*row.SubGroup) {
			return domain.Study{}, invalidf("attach", "subgroup %d of %s out of range [0,%d) for group %s", *row.SubGroup, row.SampleID, group.SubgroupCount(), group.ShortName)
		}
	}
	return study, nil
}

// plan is a pure function of the view: it is run once for confirmation and
// replayed inside the write transaction.
func (t *AttachmentTransaction) plan(view domain.TransactionView, study domain.Study, in []AttachedBiosample) (attachPlan, error) {
	rows := append([]AttachedBiosample(nil), in...)
	keepCurrentSubgroups(view, study, rows)
	AllocateSubgroups(rows, view.FindGroup)

	if t.req.Renumber {
		for i := range rows {
			if strings.TrimSpace(rows[i].SampleName) != "" {
				continue
			}
			if b, ok := view.FindBiosampleBySampleID(rows[i].SampleID); ok {
				rows[i].SampleName = b.SampleName
			}
		}
		var names []string
		for _, p := range view.ListAttached(study.ID, nil) {
			names = append(names, p.SampleName)
		}
		Renumber(rows, names, t.req.RenumberStart)
	}

	sampleIDs := make([]string, len(rows))
	for i, row := range rows {
		sampleIDs[i] = row.SampleID
	}
	scope := newCloneScope(study, t.req.PhaseID, sampleIDs)

	var plan attachPlan
	targets := make(map[string]string, len(rows))
	for _, row := range rows {
		entry := planEntry{row: row}
		if b, ok := view.FindBiosampleBySampleID(row.SampleID); ok {
			existing := b
			entry.existing = &existing
			clone, err := t.cloner.Plan(view, scope, b, row.GroupID)
			if err != nil {
				return attachPlan{}, err
			}
			entry.clone = clone
			target := b.ID
			if clone.Kind == CloneReuse {
				target = clone.ReuseID
			}
			if !clone.Cloning() {
				if other, dup := targets[target]; dup {
					return attachPlan{}, invalidf("attach", "rows %s and %s resolve to the same specimen", other, row.SampleID)
				}
				targets[target] = row.SampleID
			}
		}
		plan.entries = append(plan.entries, entry)
	}

	for _, p := range view.ListAttached(study.ID, t.req.PhaseID) {
		if _, kept := targets[p.ID]; kept {
			continue
		}
		plan.detach = append(plan.detach, p)
	}
	for _, e := range plan.entries {
		if e.existing == nil || e.clone.Cloning() {
			continue
		}
		current := *e.existing
		if e.clone.Kind == CloneReuse {
			current, _ = view.FindBiosample(e.clone.ReuseID)
		}
		if current.AttachedStudyID == nil || *current.AttachedStudyID != study.ID || current.InheritedGroupID == nil {
			continue
		}
		if !domain.SameID(current.InheritedGroupID, e.row.GroupID) || current.InheritedSubGroup != derefInt(e.row.SubGroup) {
			plan.moved = append(plan.moved, current)
		}
	}
	return plan, nil
}

// keepCurrentSubgroups pins participants resubmitted to their current group
// without a subgroup to the subgroup they already occupy.
func keepCurrentSubgroups(view domain.TransactionView, study domain.Study, rows []AttachedBiosample) {
	for i := range rows {
		if rows[i].SubGroup != nil || rows[i].GroupID == nil {
			continue
		}
		b, ok := view.FindBiosampleBySampleID(rows[i].SampleID)
		if !ok || b.AttachedStudyID == nil || *b.AttachedStudyID != study.ID || !domain.SameID(b.InheritedGroupID, rows[i].GroupID) {
			continue
		}
		if g, ok := view.FindGroup(*rows[i].GroupID); ok && g.ValidSubgroup(b.InheritedSubGroup) {
			sub := b.InheritedSubGroup
			rows[i].SubGroup = &sub
		}
	}
}

func overwriteMessage(p attachPlan) string {
	if len(p.detach) == 0 && len(p.moved) == 0 {
		return ""
	}
	var parts []string
	if n := len(p.detach); n > 0 {
		ids := make([]string, 0, n)
		for _, d := range p.detach {
			ids = append(ids, d.SampleID)
		}
		sort.Strings(ids)
		parts = append(parts, fmt.Sprintf("%d participant(s) will be detached: %s", n, strings.Join(ids, ", ")))
	}
	if n := len(p.moved); n > 0 {
		parts = append(parts, fmt.Sprintf("%d participant(s) will change group or subgroup", n))
	}
	return "Replace the current attachment?\n" + strings.Join(parts, "\n")
}

func (t *AttachmentTransaction) persist(tx *txScope, study domain.Study, plan attachPlan) (AttachOutcome, error) {
	outcome := AttachOutcome{Clones: plan.clones()}

	for _, d := range plan.detach {
		detached, err := tx.UpdateBiosample(d.ID, func(b *domain.Biosample) error {
			if t.req.PhaseID == nil {
				b.AttachedStudyID = nil
				b.InheritedStudyID = nil
			}
			b.InheritedGroupID = nil
			b.InheritedSubGroup = 0
			b.ContainerID = nil
			return nil
		})
		if err != nil {
			return AttachOutcome{}, err
		}
		if err := propagateToDescendants(tx, detached, d); err != nil {
			return AttachOutcome{}, err
		}
		outcome.Detached = append(outcome.Detached, detached)
	}

	for _, e := range plan.entries {
		row := e.row
		var (
			record domain.Biosample
			err    error
		)
		if e.existing == nil {
			biotype := t.req.Biotype
			if biotype == "" {
				biotype = domain.DefaultBiotype
			}
			record, err = tx.CreateBiosample(domain.Biosample{SampleID: row.SampleID, SampleName: row.SampleName, Biotype: biotype})
			if err != nil {
				return AttachOutcome{}, err
			}
			outcome.Created = append(outcome.Created, record)
		} else {
			record, err = t.cloner.Apply(tx, e.clone)
			if err != nil {
				return AttachOutcome{}, err
			}
		}
		before := record
		updated, err := tx.UpdateBiosample(record.ID, func(b *domain.Biosample) error {
			b.AttachedStudyID = &study.ID
			b.InheritedStudyID = &study.ID
			b.InheritedGroupID = domain.CloneStringPtr(row.GroupID)
			b.InheritedSubGroup = derefInt(row.SubGroup)
			if row.ContainerID != nil {
				b.ContainerID = domain.CloneStringPtr(row.ContainerID)
			}
			if strings.TrimSpace(row.SampleName) != "" {
				b.SampleName = row.SampleName
			}
			return nil
		})
		if err != nil {
			return AttachOutcome{}, err
		}
		if err := propagateToDescendants(tx, updated, before); err != nil {
			return AttachOutcome{}, err
		}
		if e.existing != nil {
			outcome.Updated = append(outcome.Updated, updated)
		}
		row.BiosampleID = updated.ID
		outcome.Rows = append(outcome.Rows, row)

		if t.req.CaptureWeights && row.Weight != nil {
			result, err := upsertWeight(tx, *t.req.PhaseID, updated.ID, *row.Weight, t.req.WeightUnit)
			if err != nil {
				return AttachOutcome{}, err
			}
			outcome.Results = append(outcome.Results, result)
		}
	}
	return outcome, nil
}

// propagateToDescendants copies the study, group and subgroup of parent onto
// every descendant that has no attachment of its own and still carried the
// values parent had before the change.
func propagateToDescendants(tx *txScope, parent, before domain.Biosample) error {
	if domain.SameID(parent.InheritedStudyID, before.InheritedStudyID) &&
		domain.SameID(parent.InheritedGroupID, before.InheritedGroupID) &&
		parent.InheritedSubGroup == before.InheritedSubGroup {
		return nil
	}
	for _, d := range tx.Snapshot().DescendantsOf(parent.ID) {
		if d.IsAttached() {
			continue
		}
		if !domain.SameID(d.InheritedStudyID, before.InheritedStudyID) || !domain.SameID(d.InheritedGroupID, before.InheritedGroupID) {
			continue
		}
		if _, err := tx.UpdateBiosample(d.ID, func(b *domain.Biosample) error {
			b.InheritedStudyID = domain.CloneStringPtr(parent.InheritedStudyID)
			b.InheritedGroupID = domain.CloneStringPtr(parent.InheritedGroupID)
			b.InheritedSubGroup = parent.InheritedSubGroup
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func upsertWeight(tx *txScope, phaseID, biosampleID string, weight float64, unit string) (domain.TestResult, error) {
	if unit == "" {
		unit = "g"
	}
	if existing, ok := tx.Snapshot().FindResult(domain.WeighingTest, phaseID, biosampleID); ok {
		return tx.UpdateResult(existing.ID, func(r *domain.TestResult) error {
			r.Value = &weight
			r.Unit = unit
			return nil
		})
	}
	return tx.CreateResult(domain.TestResult{TestName: domain.WeighingTest, PhaseID: phaseID, BiosampleID: biosampleID, Value: &weight, Unit: unit})
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
