package core

import (
	"context"

	"go.uber.org/zap"

	"spiritcore/pkg/domain"
)

// editGroup runs a structural change of one group. check runs read-only
// against the committed state; change runs inside the write transaction and
// returns the updated group.
func (s *Service) editGroup(ctx context.Context, op string, session Session, groupID string,
	check func(view domain.TransactionView, g domain.Group) error,
	change func(tx *txScope, g domain.Group) (domain.Group, error),
) (Group, error) {
	var updated Group
	err := s.observe(ctx, op, func(ctx context.Context) error {
		err := s.view(ctx, func(view domain.TransactionView) error {
			g, err := loadGroup(view, groupID)
			if err != nil {
				return err
			}
			study, err := loadStudy(view, g.StudyID)
			if err != nil {
				return err
			}
			if err := session.requireEdit(ctx, studyRef(study)); err != nil {
				return err
			}
			if check == nil {
				return nil
			}
			return check(view, g)
		})
		if err != nil {
			return classify(op, err)
		}
		return s.run(ctx, op, func(tx *txScope) error {
			g, err := loadGroup(tx.Snapshot(), groupID)
			if err != nil {
				return err
			}
			if check != nil {
				if err := check(tx.Snapshot(), g); err != nil {
					return err
				}
			}
			if updated, err = change(tx, g); err != nil {
				return err
			}
			tx.touchStudy(g.StudyID)
			s.logger.Info("group structure changed", zap.String("operation", op), zap.String("group", g.ShortName), zap.Ints("subgroup_sizes", updated.Sizes()))
			return nil
		})
	})
	return updated, err
}

// AddSubgroup appends an empty subgroup to the group.
func (s *Service) AddSubgroup(ctx context.Context, session Session, groupID string) (Group, error) {
	return s.editGroup(ctx, "add_subgroup", session, groupID, nil, func(tx *txScope, _ domain.Group) (domain.Group, error) {
		return tx.UpdateGroup(groupID, func(g *domain.Group) error {
			g.AddSubgroup()
			return nil
		})
	})
}

// RemoveSubgroup drops subgroup index together with its study actions. Higher
// subgroups shift down by one. A subgroup still holding a participant cannot
// be removed.
func (s *Service) RemoveSubgroup(ctx context.Context, session Session, groupID string, index int) (Group, error) {
	check := func(view domain.TransactionView, g domain.Group) error {
		probe := g
		probe.SubgroupSizes = g.Sizes()
		if err := probe.RemoveSubgroup(index); err != nil {
			return err
		}
		for _, b := range view.ListBiosamples() {
			if b.InheritedGroupID != nil && *b.InheritedGroupID == g.ID && b.InheritedSubGroup == index {
				return invalidf("remove_subgroup", "subgroup %d of group %s is occupied by %s", index+1, g.ShortName, b.SampleID)
			}
		}
		return nil
	}
	return s.editGroup(ctx, "remove_subgroup", session, groupID, check, func(tx *txScope, g domain.Group) (domain.Group, error) {
		if err := moveGroupMembers(tx, g.ID, func(sub int) (string, int, bool) {
			switch {
			case sub == index:
				return g.ID, sub, false
			case sub > index:
				return g.ID, sub - 1, true
			default:
				return g.ID, sub, true
			}
		}); err != nil {
			return domain.Group{}, err
		}
		return tx.UpdateGroup(g.ID, func(rec *domain.Group) error {
			return rec.RemoveSubgroup(index)
		})
	})
}

// MoveSubgroupUp swaps subgroup index with its predecessor, carrying the
// subgroups' actions and participants along.
func (s *Service) MoveSubgroupUp(ctx context.Context, session Session, groupID string, index int) (Group, error) {
	check := func(_ domain.TransactionView, g domain.Group) error {
		probe := g
		probe.SubgroupSizes = g.Sizes()
		return probe.MoveSubgroupUp(index)
	}
	return s.editGroup(ctx, "move_subgroup_up", session, groupID, check, func(tx *txScope, g domain.Group) (domain.Group, error) {
		if err := moveGroupMembers(tx, g.ID, func(sub int) (string, int, bool) {
			switch sub {
			case index:
				return g.ID, index - 1, true
			case index - 1:
				return g.ID, index, true
			default:
				return g.ID, sub, true
			}
		}); err != nil {
			return domain.Group{}, err
		}
		return tx.UpdateGroup(g.ID, func(rec *domain.Group) error {
			return rec.MoveSubgroupUp(index)
		})
	})
}

// SetSubgroupSizes replaces the group's capacity vector. A group created by a
// dividing sampling must keep the same total as the group it derives from.
// Shrinking the vector below an occupied subgroup is blocked at commit.
func (s *Service) SetSubgroupSizes(ctx context.Context, session Session, groupID string, sizes []int) (Group, error) {
	check := func(view domain.TransactionView, g domain.Group) error {
		probe := g
		if err := probe.SetSubgroupSizes(sizes); err != nil {
			return err
		}
		return checkDividingTotal(view, probe)
	}
	return s.editGroup(ctx, "set_subgroup_sizes", session, groupID, check, func(tx *txScope, g domain.Group) (domain.Group, error) {
		count := len(sizes)
		if err := moveGroupMembers(tx, g.ID, func(sub int) (string, int, bool) {
			return g.ID, sub, sub < count
		}); err != nil {
			return domain.Group{}, err
		}
		return tx.UpdateGroup(g.ID, func(rec *domain.Group) error {
			return rec.SetSubgroupSizes(sizes)
		})
	})
}

func checkDividingTotal(view domain.TransactionView, g domain.Group) error {
	if g.DividingSampling == nil || g.FromGroupID == nil {
		return nil
	}
	from, ok := view.FindGroup(*g.FromGroupID)
	if !ok {
		return nil
	}
	if g.TotalSize() != from.TotalSize() {
		return invalidf("set_subgroup_sizes", "dividing-group total mismatch: group %s has %d, source %s has %d", g.ShortName, g.TotalSize(), from.ShortName, from.TotalSize())
	}
	return nil
}
