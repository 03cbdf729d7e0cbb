package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spiritcore/pkg/domain"
)

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	verr := invalidf("op", "bad row %d", 3)
	assert.Same(t, verr, classify("op", verr))
	assert.Equal(t, "op: validation failed: bad row 3", verr.Error())

	perr := &PermissionError{User: "u", Action: "edit", Target: "study S"}
	assert.Same(t, perr, classify("op", perr))
	assert.Equal(t, `user "u" may not edit study S`, perr.Error())

	for _, sentinel := range []error{ErrConflictDeclined, ErrPlanChanged, ErrTransactionFinished} {
		assert.Equal(t, sentinel, classify("op", sentinel))
	}
	nf := ErrNotFound{Entity: domain.EntityGroup, ID: "g1"}
	assert.Equal(t, error(nf), classify("op", nf))
	assert.Equal(t, "group g1 not found", nf.Error())

	blocked := domain.RuleViolationError{Result: domain.Result{Violations: []domain.Violation{{Rule: "r", Severity: domain.SeverityBlock, Message: "nope"}}}}
	var asValidation *ValidationError
	require.ErrorAs(t, classify("op", blocked), &asValidation)
	assert.Contains(t, asValidation.Reason, "nope")

	wrapped := fmt.Errorf("remove: %w", domain.ErrInvalidSubgroup)
	require.ErrorAs(t, classify("op", wrapped), &asValidation)
	assert.ErrorIs(t, classify("op", wrapped), domain.ErrInvalidSubgroup)

	connErr := errors.New("connection reset")
	var asPersistence *PersistenceError
	require.ErrorAs(t, classify("commit", connErr), &asPersistence)
	assert.Equal(t, "commit", asPersistence.Op)
	assert.ErrorIs(t, asPersistence, connErr)
	assert.Equal(t, "commit: persistence failed: connection reset", asPersistence.Error())
}

func TestEntityRefString(t *testing.T) {
	assert.Equal(t, "study S-1", EntityRef{Type: domain.EntityStudy, ID: "x", Label: "S-1"}.String())
	assert.Equal(t, "group g1", EntityRef{Type: domain.EntityGroup, ID: "g1"}.String())
}
