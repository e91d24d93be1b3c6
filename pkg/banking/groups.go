package banking

import (
	"context"
	"fmt"

	"approval-chain/pkg/account"
	"approval-chain/pkg/lock"
	"approval-chain/pkg/logging"
	"approval-chain/pkg/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GroupService manages account groups. Membership lives on the member side,
// so every change is persisted by saving the affected members.
type GroupService struct {
	options
	store store.Store
}

// NewGroupService creates a GroupService.
func NewGroupService(st store.Store, opts ...Option) *GroupService {
	s := &GroupService{options: buildOptions(opts), store: st}
	s.logger = s.logger.Named("groups")
	return s
}

// CreateGroup opens an empty group. maxMembers of 0 means unlimited.
func (s *GroupService) CreateGroup(ctx context.Context, name string, groupType account.GroupType, ownerID int64, maxMembers int) (*account.Account, error) {
	if maxMembers < 0 {
		return nil, fmt.Errorf("banking: max members must not be negative, got %d", maxMembers)
	}
	g := account.NewGroup(account.NewAccountNumber(account.KindGroup), name, groupType, ownerID, maxMembers)
	g.CreatedAt = s.clock()
	if err := s.store.CreateAccount(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("group created", logging.Account("group", g), zap.Int("max_members", maxMembers))
	return g, nil
}

func (s *GroupService) group(ctx context.Context, number string) (*account.Account, error) {
	g, err := s.store.FindAccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !g.IsComposite() {
		return nil, fmt.Errorf("%w: %s is not a group", ErrUnsupportedOperation, number)
	}
	return g, nil
}

// maxGroupLockAttempts bounds how often withGroup relocks when membership
// changes between the load and the lock.
const maxGroupLockAttempts = 5

// withGroup loads the group, locks it together with extra and its members,
// then reloads the group so fn sees current members. When the reload shows a
// member that is not locked, the locks are released and taken again.
func (s *GroupService) withGroup(ctx context.Context, number string, extra []int64, fn func(g *account.Account) error) error {
	g, err := s.group(ctx, number)
	if err != nil {
		return err
	}

	locked := make(map[int64]struct{})
	ids := append([]int64{g.ID}, extra...)
	for attempt := 1; ; attempt++ {
		for _, m := range g.Members() {
			ids = append(ids, m.ID)
		}
		for _, id := range ids {
			locked[id] = struct{}{}
		}

		release, err := s.lockAccounts(ctx, ids...)
		if err != nil {
			return err
		}

		g, err = s.group(ctx, number)
		if err != nil {
			release()
			return err
		}
		if coversMembers(g, locked) {
			defer release()
			return fn(g)
		}
		release()

		if attempt == maxGroupLockAttempts {
			return fmt.Errorf("%w: members of group %s kept changing", lock.ErrLockTimeout, number)
		}
		s.logger.Debug("group membership changed while locking, retrying",
			zap.String("group", number), zap.Int("attempt", attempt))
	}
}

func coversMembers(g *account.Account, locked map[int64]struct{}) bool {
	for _, m := range g.Members() {
		if _, ok := locked[m.ID]; !ok {
			return false
		}
	}
	return true
}

// AddMember puts an account into the group. An account can belong to one
// group only.
func (s *GroupService) AddMember(ctx context.Context, groupNumber, memberNumber string) error {
	member, err := s.store.FindAccountByNumber(ctx, memberNumber)
	if err != nil {
		return err
	}

	return s.withGroup(ctx, groupNumber, []int64{member.ID}, func(g *account.Account) error {
		member, err := s.store.FindAccountByID(ctx, member.ID)
		if err != nil {
			return err
		}
		if member.GroupID != nil && *member.GroupID != g.ID {
			return fmt.Errorf("%w: %s belongs to group %d", ErrAlreadyGrouped, member.Number, *member.GroupID)
		}
		if err := g.Add(member); err != nil {
			return err
		}
		if err := s.store.SaveAccounts(ctx, member); err != nil {
			return err
		}

		s.logger.Info("member added", logging.Account("group", g), logging.Account("member", member))
		return nil
	})
}

// RemoveMember takes an account out of the group.
func (s *GroupService) RemoveMember(ctx context.Context, groupNumber, memberNumber string) error {
	return s.withGroup(ctx, groupNumber, nil, func(g *account.Account) error {
		member, err := g.FindMember(memberNumber)
		if err != nil {
			return err
		}
		if err := g.Remove(member); err != nil {
			return err
		}
		if err := s.store.SaveAccounts(ctx, member); err != nil {
			return err
		}

		s.logger.Info("member removed", logging.Account("group", g), logging.Account("member", member))
		return nil
	})
}

// TransferWithinGroup moves amount between two members of the group.
func (s *GroupService) TransferWithinGroup(ctx context.Context, groupNumber, fromNumber, toNumber string, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return s.withGroup(ctx, groupNumber, nil, func(g *account.Account) error {
		if err := g.TransferWithinGroup(fromNumber, toNumber, amount); err != nil {
			return err
		}
		from, _ := g.FindMember(fromNumber)
		to, _ := g.FindMember(toNumber)
		if err := s.store.SaveAccounts(ctx, from, to); err != nil {
			return err
		}

		s.logger.Info("transfer within group",
			logging.Account("group", g),
			zap.String("from", fromNumber),
			zap.String("to", toNumber),
			zap.String("amount", amount.StringFixed(2)),
		)
		return nil
	})
}

// SetMembersStatus applies status to every member of the group.
func (s *GroupService) SetMembersStatus(ctx context.Context, groupNumber string, status account.Status) error {
	return s.withGroup(ctx, groupNumber, nil, func(g *account.Account) error {
		if err := g.SetMembersStatus(status); err != nil {
			return err
		}
		members := g.Members()
		if len(members) == 0 {
			return nil
		}
		return s.store.SaveAccounts(ctx, members...)
	})
}

// Stats summarizes the members of the group.
func (s *GroupService) Stats(ctx context.Context, groupNumber string) (account.GroupStats, error) {
	g, err := s.group(ctx, groupNumber)
	if err != nil {
		return account.GroupStats{}, err
	}
	return g.Stats()
}

// TotalBalance returns the sum of the balances of the ACTIVE members.
func (s *GroupService) TotalBalance(ctx context.Context, groupNumber string) (decimal.Decimal, error) {
	g, err := s.group(ctx, groupNumber)
	if err != nil {
		return decimal.Zero, err
	}
	return g.TotalBalance(), nil
}
