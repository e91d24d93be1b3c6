package account

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// GroupStats summarizes the members of a group.
type GroupStats struct {
	Members  int
	Active   int
	Frozen   int
	Total    decimal.Decimal
	Average  decimal.Decimal
	Largest  *Account
	Smallest *Account
}

// Add makes child a member of the group. Adding an existing member is a no-op.
// Whether child already belongs to another group is checked by the caller.
func (a *Account) Add(child *Account) error {
	if !a.IsComposite() {
		return unsupported("add member", a.Kind)
	}
	if child == nil {
		return ErrNullChild
	}
	if child.IsComposite() {
		return unsupported("nest group", child.Kind)
	}
	if a.indexOf(child.Number) >= 0 {
		return nil
	}
	if a.MaxMembers > 0 && len(a.members) >= a.MaxMembers {
		return fmt.Errorf("%w: group %s holds %d of %d",
			ErrCapacityExceeded, a.Number, len(a.members), a.MaxMembers)
	}

	id := a.ID
	child.GroupID = &id
	a.members = append(a.members, child)
	return nil
}

// Remove releases child from the group.
func (a *Account) Remove(child *Account) error {
	if !a.IsComposite() {
		return unsupported("remove member", a.Kind)
	}
	if child == nil {
		return ErrNullChild
	}
	i := a.indexOf(child.Number)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, child.Number)
	}

	a.members[i].GroupID = nil
	child.GroupID = nil
	a.members = append(a.members[:i], a.members[i+1:]...)
	return nil
}

// Members returns the group members in insertion order.
func (a *Account) Members() []*Account {
	out := make([]*Account, len(a.members))
	copy(out, a.members)
	return out
}

// MemberCount returns the number of members. Leaves have none.
func (a *Account) MemberCount() int {
	return len(a.members)
}

// FindMember resolves a direct member by account number.
func (a *Account) FindMember(number string) (*Account, error) {
	if !a.IsComposite() {
		return nil, unsupported("find member", a.Kind)
	}
	i := a.indexOf(number)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s in group %s", ErrMemberNotFound, number, a.Number)
	}
	return a.members[i], nil
}

// TransferWithinGroup moves amount between two direct members.
func (a *Account) TransferWithinGroup(fromNumber, toNumber string, amount decimal.Decimal) error {
	from, err := a.FindMember(fromNumber)
	if err != nil {
		return err
	}
	to, err := a.FindMember(toNumber)
	if err != nil {
		return err
	}
	return from.TransferTo(to, amount)
}

// SetMembersStatus applies status to every member.
func (a *Account) SetMembersStatus(status Status) error {
	if !a.IsComposite() {
		return unsupported("set member status", a.Kind)
	}
	if !status.IsValid() {
		return fmt.Errorf("account: unknown status %q", status)
	}
	for _, m := range a.members {
		m.Status = status
	}
	return nil
}

// Stats computes member statistics. Average is taken over active members.
func (a *Account) Stats() (GroupStats, error) {
	if !a.IsComposite() {
		return GroupStats{}, unsupported("stats", a.Kind)
	}

	stats := GroupStats{
		Members: len(a.members),
		Total:   a.TotalBalance(),
		Average: decimal.Zero,
	}
	for _, m := range a.members {
		switch m.Status {
		case StatusActive:
			stats.Active++
		case StatusFrozen:
			stats.Frozen++
		}
		if stats.Largest == nil || m.Balance.GreaterThan(stats.Largest.Balance) {
			stats.Largest = m
		}
		if stats.Smallest == nil || m.Balance.LessThan(stats.Smallest.Balance) {
			stats.Smallest = m
		}
	}
	if stats.Active > 0 {
		stats.Average = stats.Total.Div(decimal.NewFromInt(int64(stats.Active))).Round(2)
	}
	return stats, nil
}

func (a *Account) indexOf(number string) int {
	for i, m := range a.members {
		if m.Number == number {
			return i
		}
	}
	return -1
}
