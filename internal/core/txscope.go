package core

import "spiritcore/pkg/domain"

// txScope decorates a store transaction and records which studies, groups,
// biosamples and results were created or updated, for notification after commit.
type txScope struct {
	domain.Transaction
	order   []touchKey
	touched map[touchKey]touched
}

type touchKey struct {
	entity domain.EntityType
	id     string
}

type touched struct {
	kind  ChangeKind
	value any
}

type notification struct {
	kind     ChangeKind
	entity   domain.EntityType
	entities []any
}

var notifiedEntities = []domain.EntityType{domain.EntityStudy, domain.EntityGroup, domain.EntityBiosample, domain.EntityResult}

func newTxScope(tx domain.Transaction) *txScope {
	return &txScope{Transaction: tx, touched: make(map[touchKey]touched)}
}

// touch records the latest value of a record. A record created in this
// transaction stays CREATED however often it is updated afterwards.
func (t *txScope) touch(entity domain.EntityType, id string, kind ChangeKind, value any) {
	key := touchKey{entity: entity, id: id}
	prev, seen := t.touched[key]
	if !seen {
		t.order = append(t.order, key)
	} else if prev.kind == ChangeCreated {
		kind = ChangeCreated
	}
	t.touched[key] = touched{kind: kind, value: value}
}

// notifications groups touched records by kind and entity type.
func (t *txScope) notifications() []notification {
	var out []notification
	for _, kind := range []ChangeKind{ChangeCreated, ChangeUpdated} {
		for _, entity := range notifiedEntities {
			var entities []any
			for _, key := range t.order {
				rec := t.touched[key]
				if key.entity == entity && rec.kind == kind {
					entities = append(entities, rec.value)
				}
			}
			if len(entities) > 0 {
				out = append(out, notification{kind: kind, entity: entity, entities: entities})
			}
		}
	}
	return out
}

func (t *txScope) CreateStudy(st domain.Study) (domain.Study, error) {
	created, err := t.Transaction.CreateStudy(st)
	if err == nil {
		t.touch(domain.EntityStudy, created.ID, ChangeCreated, created)
	}
	return created, err
}

func (t *txScope) UpdateStudy(id string, mutator func(*domain.Study) error) (domain.Study, error) {
	updated, err := t.Transaction.UpdateStudy(id, mutator)
	if err == nil {
		t.touch(domain.EntityStudy, updated.ID, ChangeUpdated, updated)
	}
	return updated, err
}

// touchStudy marks a study updated when its group structure changed.
func (t *txScope) touchStudy(studyID string) {
	if st, ok := t.Snapshot().FindStudy(studyID); ok {
		t.touch(domain.EntityStudy, st.ID, ChangeUpdated, st)
	}
}

func (t *txScope) CreateGroup(g domain.Group) (domain.Group, error) {
	created, err := t.Transaction.CreateGroup(g)
	if err == nil {
		t.touch(domain.EntityGroup, created.ID, ChangeCreated, created)
	}
	return created, err
}

func (t *txScope) UpdateGroup(id string, mutator func(*domain.Group) error) (domain.Group, error) {
	updated, err := t.Transaction.UpdateGroup(id, mutator)
	if err == nil {
		t.touch(domain.EntityGroup, updated.ID, ChangeUpdated, updated)
	}
	return updated, err
}

func (t *txScope) DeleteGroup(id string) error {
	if err := t.Transaction.DeleteGroup(id); err != nil {
		return err
	}
	key := touchKey{entity: domain.EntityGroup, id: id}
	if _, seen := t.touched[key]; seen {
		delete(t.touched, key)
		for i, k := range t.order {
			if k == key {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (t *txScope) CreateBiosample(b domain.Biosample) (domain.Biosample, error) {
	created, err := t.Transaction.CreateBiosample(b)
	if err == nil {
		t.touch(domain.EntityBiosample, created.ID, ChangeCreated, created)
	}
	return created, err
}

func (t *txScope) UpdateBiosample(id string, mutator func(*domain.Biosample) error) (domain.Biosample, error) {
	updated, err := t.Transaction.UpdateBiosample(id, mutator)
	if err == nil {
		t.touch(domain.EntityBiosample, updated.ID, ChangeUpdated, updated)
	}
	return updated, err
}

func (t *txScope) CreateResult(r domain.TestResult) (domain.TestResult, error) {
	created, err := t.Transaction.CreateResult(r)
	if err == nil {
		t.touch(domain.EntityResult, created.ID, ChangeCreated, created)
	}
	return created, err
}

func (t *txScope) UpdateResult(id string, mutator func(*domain.TestResult) error) (domain.TestResult, error) {
	updated, err := t.Transaction.UpdateResult(id, mutator)
	if err == nil {
		t.touch(domain.EntityResult, updated.ID, ChangeUpdated, updated)
	}
	return updated, err
}
