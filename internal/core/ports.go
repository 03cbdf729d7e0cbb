package core

import (
	"context"
	"fmt"

	"spiritcore/pkg/domain"
)

// EntityRef identifies a record handed to the rights port.
type EntityRef struct {
	Type    domain.EntityType
	ID      string
	Label   string
	StudyID string
}

func (r EntityRef) String() string {
	if r.Label != "" {
		return fmt.Sprintf("%s %s", r.Type, r.Label)
	}
	return fmt.Sprintf("%s %s", r.Type, r.ID)
}

func studyRef(st domain.Study) EntityRef {
	return EntityRef{Type: domain.EntityStudy, ID: st.ID, Label: st.StudyID, StudyID: st.ID}
}

func biosampleRef(b domain.Biosample) EntityRef {
	ref := EntityRef{Type: domain.EntityBiosample, ID: b.ID, Label: b.SampleID}
	if b.InheritedStudyID != nil {
		ref.StudyID = *b.InheritedStudyID
	}
	return ref
}

// Rights answers authorization questions for a user.
type Rights interface {
	CanEdit(ctx context.Context, user string, entity EntityRef) bool
	CanAdmin(ctx context.Context, user string, study EntityRef) bool
}

// AllowAll grants every right. It is the default when a session has no Rights.
type AllowAll struct{}

// CanEdit implements Rights.
func (AllowAll) CanEdit(context.Context, string, EntityRef) bool { return true }

// CanAdmin implements Rights.
func (AllowAll) CanAdmin(context.Context, string, EntityRef) bool { return true }

// Confirmer asks the operator a yes/no question. A false answer aborts the
// enclosing operation with no mutation.
type Confirmer interface {
	Confirm(ctx context.Context, message string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, message string) bool

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, message string) bool { return f(ctx, message) }

// AutoConfirm answers yes to every prompt.
var AutoConfirm Confirmer = ConfirmFunc(func(context.Context, string) bool { return true })

// ChangeKind classifies a committed change for notification listeners.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "CREATED"
	ChangeUpdated ChangeKind = "UPDATED"
)

// Notifier receives committed changes, grouped by kind and entity type.
type Notifier interface {
	Notify(kind ChangeKind, entity domain.EntityType, entities []any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(kind ChangeKind, entity domain.EntityType, entities []any)

// Notify implements Notifier.
func (f NotifierFunc) Notify(kind ChangeKind, entity domain.EntityType, entities []any) {
	f(kind, entity, entities)
}

// Session bundles the user identity with the rights and confirmation ports
// for one caller. It replaces any process-wide notion of a current user.
type Session struct {
	User      string
	Rights    Rights
	Confirmer Confirmer
}

func (s Session) rights() Rights {
	if s.Rights == nil {
		return AllowAll{}
	}
	return s.Rights
}

// confirm asks the session's confirmer. A session without one declines.
func (s Session) confirm(ctx context.Context, message string) bool {
	if s.Confirmer == nil {
		return false
	}
	return s.Confirmer.Confirm(ctx, message)
}

func (s Session) requireEdit(ctx context.Context, ref EntityRef) error {
	if !s.rights().CanEdit(ctx, s.User, ref) {
		return &PermissionError{User: s.User, Action: "edit", Target: ref.String()}
	}
	return nil
}

func (s Session) requireAdmin(ctx context.Context, ref EntityRef) error {
	if !s.rights().CanAdmin(ctx, s.User, ref) {
		return &PermissionError{User: s.User, Action: "administer", Target: ref.String()}
	}
	return nil
}
