package account

// Kind identifies the account variant.
type Kind string

const (
	KindChecking   Kind = "CHECKING"
	KindSavings    Kind = "SAVINGS"
	KindLoan       Kind = "LOAN"
	KindInvestment Kind = "INVESTMENT"
	KindBusiness   Kind = "BUSINESS"
	// KindGroup is the composite variant. It holds members instead of a balance.
	KindGroup Kind = "GROUP"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindChecking, KindSavings, KindLoan, KindInvestment, KindBusiness, KindGroup:
		return true
	}
	return false
}

// prefix is used when generating account numbers.
func (k Kind) prefix() string {
	switch k {
	case KindSavings:
		return "SAV"
	case KindChecking:
		return "CHK"
	case KindLoan:
		return "LON"
	case KindInvestment:
		return "INV"
	case KindBusiness:
		return "BUS"
	case KindGroup:
		return "GRP"
	default:
		return "ACC"
	}
}

// Status governs whether an account may be debited.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusFrozen    Status = "FROZEN"
	StatusSuspended Status = "SUSPENDED"
	StatusClosed    Status = "CLOSED"
	StatusPending   Status = "PENDING"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusFrozen, StatusSuspended, StatusClosed, StatusPending:
		return true
	}
	return false
}

// GroupType describes what a group of accounts is used for.
type GroupType string

const (
	GroupFamily   GroupType = "FAMILY"
	GroupBusiness GroupType = "BUSINESS"
	GroupJoint    GroupType = "JOINT"
)

// DefaultMonthlyWithdrawalLimit is applied to savings accounts opened without an explicit limit.
const DefaultMonthlyWithdrawalLimit = 5
