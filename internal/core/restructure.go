package core

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"spiritcore/pkg/domain"
)

// maxShortNameAttempts bounds the search for a free short name when duplicating.
const maxShortNameAttempts = 200

func loadGroup(view domain.TransactionView, id string) (domain.Group, error) {
	g, ok := view.FindGroup(id)
	if !ok {
		return domain.Group{}, ErrNotFound{Entity: domain.EntityGroup, ID: id}
	}
	return g, nil
}

func loadStudy(view domain.TransactionView, id string) (domain.Study, error) {
	st, ok := view.FindStudy(id)
	if !ok {
		return domain.Study{}, ErrNotFound{Entity: domain.EntityStudy, ID: id}
	}
	return st, nil
}

// groupMove maps an action or specimen subgroup onto its new group and subgroup.
// keep=false deletes the action; specimens are never deleted.
type groupMove func(subGroup int) (groupID string, newSub int, keep bool)

// moveGroupMembers rewrites every study action and biosample that references groupID.
func moveGroupMembers(tx *txScope, groupID string, move groupMove) error {
	view := tx.Snapshot()
	for _, a := range view.ListStudyActions(groupID) {
		target, sub, keep := move(a.SubGroup)
		if !keep {
			if err := tx.DeleteStudyAction(a.ID); err != nil {
				return err
			}
			continue
		}
		if target == a.GroupID && sub == a.SubGroup {
			continue
		}
		if _, err := tx.UpdateStudyAction(a.ID, func(sa *domain.StudyAction) error {
			sa.GroupID = target
			sa.SubGroup = sub
			return nil
		}); err != nil {
			return err
		}
	}
	for _, b := range view.ListBiosamples() {
		if b.InheritedGroupID == nil || *b.InheritedGroupID != groupID {
			continue
		}
		target, sub, _ := move(b.InheritedSubGroup)
		if target == groupID && sub == b.InheritedSubGroup {
			continue
		}
		if _, err := tx.UpdateBiosample(b.ID, func(rec *domain.Biosample) error {
			rec.InheritedGroupID = &target
			rec.InheritedSubGroup = sub
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Merge folds sources into target: target's subgroups are extended by each
// source's subgroups, and every action and specimen of a source moves to the
// matching appended subgroup. Sources are deleted.
func (s *Service) Merge(ctx context.Context, session Session, targetID string, sourceIDs []string) (Group, error) {
	const op = "merge"
	var merged Group
	err := s.observe(ctx, op, func(ctx context.Context) error {
		if len(sourceIDs) == 0 {
			return invalidf(op, "no groups to merge into %s", targetID)
		}
		var warnings []string
		err := s.view(ctx, func(view domain.TransactionView) error {
			target, err := loadGroup(view, targetID)
			if err != nil {
				return err
			}
			study, err := loadStudy(view, target.StudyID)
			if err != nil {
				return err
			}
			if err := session.requireAdmin(ctx, studyRef(study)); err != nil {
				return err
			}
			groups := view.ListGroups(study.ID)
			seen := map[string]struct{}{}
			for _, id := range sourceIDs {
				if _, dup := seen[id]; dup {
					return invalidf(op, "group %s listed twice", id)
				}
				seen[id] = struct{}{}
				source, err := loadGroup(view, id)
				if err != nil {
					return err
				}
				check := target.IsCompatibleForMerge(source, groups)
				if !check.Compatible {
					return invalidf(op, "%s", check.Reason)
				}
				warnings = append(warnings, check.Warnings...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(warnings) > 0 && !session.confirm(ctx, "Merge groups anyway?\n"+strings.Join(warnings, "\n")) {
			return ErrConflictDeclined
		}

		return s.run(ctx, op, func(tx *txScope) error {
			for _, id := range sourceIDs {
				view := tx.Snapshot()
				target, err := loadGroup(view, targetID)
				if err != nil {
					return err
				}
				source, err := loadGroup(view, id)
				if err != nil {
					return err
				}
				if check := target.IsCompatibleForMerge(source, view.ListGroups(target.StudyID)); !check.Compatible {
					return ErrPlanChanged
				}
				offset := target.SubgroupCount()
				if err := moveGroupMembers(tx, source.ID, func(sub int) (string, int, bool) {
					return target.ID, sub + offset, true
				}); err != nil {
					return err
				}
				if merged, err = tx.UpdateGroup(target.ID, func(g *domain.Group) error {
					g.SubgroupSizes = append(g.Sizes(), source.Sizes()...)
					return nil
				}); err != nil {
					return err
				}
				if err := tx.DeleteGroup(source.ID); err != nil {
					return err
				}
				s.logger.Info("group merged", zap.String("operation", op), zap.String("target", target.ShortName), zap.String("source", source.ShortName), zap.Int("offset", offset))
			}
			tx.touchStudy(merged.StudyID)
			return nil
		})
	})
	return merged, err
}

// Split replaces a group of n subgroups with n single-subgroup groups named
// after the original with a letter appended. Each subgroup's actions and
// specimens move to subgroup 0 of its new group; the original is deleted.
func (s *Service) Split(ctx context.Context, session Session, groupID string) ([]Group, error) {
	const op = "split"
	var created []Group
	err := s.observe(ctx, op, func(ctx context.Context) error {
		var names []string
		err := s.view(ctx, func(view domain.TransactionView) error {
			group, err := loadGroup(view, groupID)
			if err != nil {
				return err
			}
			study, err := loadStudy(view, group.StudyID)
			if err != nil {
				return err
			}
			if err := session.requireAdmin(ctx, studyRef(study)); err != nil {
				return err
			}
			names, err = splitNames(view, group)
			return err
		})
		if err != nil {
			return err
		}

		return s.run(ctx, op, func(tx *txScope) error {
			view := tx.Snapshot()
			group, err := loadGroup(view, groupID)
			if err != nil {
				return err
			}
			replayed, err := splitNames(view, group)
			if err != nil {
				return err
			}
			if strings.Join(replayed, ",") != strings.Join(names, ",") {
				return ErrPlanChanged
			}
			created = created[:0]
			for i, size := range group.Sizes() {
				name := strings.TrimSpace(group.Name + " " + names[i][len(group.ShortName):])
				g, err := tx.CreateGroup(domain.Group{
					StudyID:          group.StudyID,
					ShortName:        names[i],
					Name:             name,
					Color:            group.Color,
					Description:      group.Description,
					FromGroupID:      domain.CloneStringPtr(group.FromGroupID),
					FromPhaseID:      domain.CloneStringPtr(group.FromPhaseID),
					DividingSampling: domain.CloneStringPtr(group.DividingSampling),
					SubgroupSizes:    []int{size},
				})
				if err != nil {
					return err
				}
				created = append(created, g)
			}
			last := len(created) - 1
			if err := moveGroupMembers(tx, group.ID, func(sub int) (string, int, bool) {
				if sub < 0 || sub > last {
					sub = last
				}
				return created[sub].ID, 0, true
			}); err != nil {
				return err
			}
			if err := tx.DeleteGroup(group.ID); err != nil {
				return err
			}
			tx.touchStudy(group.StudyID)
			s.logger.Info("group split", zap.String("operation", op), zap.String("group", group.ShortName), zap.Int("parts", len(created)))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func splitNames(view domain.TransactionView, group domain.Group) ([]string, error) {
	n := group.SubgroupCount()
	if n < 2 {
		return nil, invalidf("split", "group %s has a single subgroup", group.ShortName)
	}
	if n > 26 {
		return nil, invalidf("split", "group %s has more subgroups than letters", group.ShortName)
	}
	groups := view.ListGroups(group.StudyID)
	if to := domain.ToGroupIDs(group.ID, groups); len(to) > 0 {
		return nil, invalidf("split", "group %s is split into %d other group(s)", group.ShortName, len(to))
	}
	taken := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		taken[g.ShortName] = struct{}{}
	}
	names := make([]string, n)
	for i := range names {
		names[i] = group.ShortName + string(rune('A'+i))
		if _, clash := taken[names[i]]; clash {
			return nil, invalidf("split", "short name %s already used in the study", names[i])
		}
	}
	return names, nil
}

// Duplicate deep-copies groups and their study actions under fresh short
// names. Specimens are not copied. A duplicated group derived from another
// duplicated group points to that group's copy.
func (s *Service) Duplicate(ctx context.Context, session Session, groupIDs []string) ([]Group, error) {
	const op = "duplicate"
	var created []Group
	err := s.observe(ctx, op, func(ctx context.Context) error {
		if len(groupIDs) == 0 {
			return invalidf(op, "no groups to duplicate")
		}
		var names []string
		err := s.view(ctx, func(view domain.TransactionView) error {
			first, err := loadGroup(view, groupIDs[0])
			if err != nil {
				return err
			}
			study, err := loadStudy(view, first.StudyID)
			if err != nil {
				return err
			}
			if err := session.requireAdmin(ctx, studyRef(study)); err != nil {
				return err
			}
			names, err = duplicateNames(view, study.ID, groupIDs)
			return err
		})
		if err != nil {
			return err
		}

		return s.run(ctx, op, func(tx *txScope) error {
			view := tx.Snapshot()
			studyID := ""
			if g, ok := view.FindGroup(groupIDs[0]); ok {
				studyID = g.StudyID
			}
			replayed, err := duplicateNames(view, studyID, groupIDs)
			if err != nil {
				return err
			}
			if strings.Join(replayed, ",") != strings.Join(names, ",") {
				return ErrPlanChanged
			}
			copies := make(map[string]string, len(groupIDs))
			for _, id := range groupIDs {
				copies[id] = ""
			}
			created = created[:0]
			for i, id := range groupIDs {
				original, err := loadGroup(view, id)
				if err != nil {
					return err
				}
				dup := original
				dup.Base = domain.Base{}
				dup.ShortName = names[i]
				dup.SubgroupSizes = original.Sizes()
				if dup.FromGroupID != nil {
					if _, inSet := copies[*dup.FromGroupID]; inSet {
						dup.FromGroupID = nil
					}
				}
				g, err := tx.CreateGroup(dup)
				if err != nil {
					return err
				}
				copies[id] = g.ID
				for _, a := range view.ListStudyActions(original.ID) {
					copied := a
					copied.Base = domain.Base{}
					copied.GroupID = g.ID
					copied.SamplingIDs = append([]string(nil), a.SamplingIDs...)
					if _, err := tx.CreateStudyAction(copied); err != nil {
						return err
					}
				}
				created = append(created, g)
			}
			for i, id := range groupIDs {
				original, _ := view.FindGroup(id)
				if original.FromGroupID == nil {
					continue
				}
				target, inSet := copies[*original.FromGroupID]
				if !inSet {
					continue
				}
				updated, err := tx.UpdateGroup(created[i].ID, func(g *domain.Group) error {
					g.FromGroupID = &target
					return nil
				})
				if err != nil {
					return err
				}
				created[i] = updated
			}
			tx.touchStudy(studyID)
			s.logger.Info("groups duplicated", zap.String("operation", op), zap.Strings("short_names", names))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func duplicateNames(view domain.TransactionView, studyID string, groupIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(groupIDs))
	for _, id := range groupIDs {
		if _, dup := seen[id]; dup {
			return nil, invalidf("duplicate", "group %s listed twice", id)
		}
		seen[id] = struct{}{}
		g, err := loadGroup(view, id)
		if err != nil {
			return nil, err
		}
		if g.StudyID != studyID {
			return nil, invalidf("duplicate", "groups belong to different studies")
		}
	}
	groups := view.ListGroups(studyID)
	taken := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		taken[g.ShortName] = struct{}{}
	}
	cursor := ""
	if len(groups) > 0 {
		cursor = groups[len(groups)-1].ShortName
	}
	names := make([]string, 0, len(groupIDs))
	for range groupIDs {
		name, ok := nextFreeShortName(cursor, taken)
		if !ok {
			return nil, invalidf("duplicate", "no free short name after %s within %d attempts", cursor, maxShortNameAttempts)
		}
		taken[name] = struct{}{}
		names = append(names, name)
		cursor = name
	}
	return names, nil
}

func nextFreeShortName(from string, taken map[string]struct{}) (string, bool) {
	name := from
	for i := 0; i < maxShortNameAttempts; i++ {
		name = incrementShortName(name)
		if _, clash := taken[name]; !clash {
			return name, true
		}
	}
	return "", false
}

// incrementShortName increments the alphanumeric suffix of name: a trailing
// number counts up ("9" to "10"), a trailing letter moves to the next letter
// and "Z" grows to "ZA". Names without such a suffix gain "1".
func incrementShortName(name string) string {
	if name == "" {
		return "1"
	}
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i < len(name) {
		digits := name[i:]
		n, err := strconv.Atoi(digits)
		if err != nil {
			return name + "1"
		}
		next := strconv.Itoa(n + 1)
		if len(next) < len(digits) {
			next = strings.Repeat("0", len(digits)-len(next)) + next
		}
		return name[:i] + next
	}
	last := name[len(name)-1]
	switch {
	case last == 'Z':
		return name + "A"
	case last == 'z':
		return name + "a"
	case (last >= 'A' && last < 'Z') || (last >= 'a' && last < 'z'):
		return name[:len(name)-1] + string(last+1)
	default:
		return name + "1"
	}
}
