package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Daily   PeriodUnit = "daily"
	Weekly  PeriodUnit = "weekly"
	Monthly PeriodUnit = "monthly"
)

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteDeclined InviteStatus = "declined"
)

const (
	TxIncome  TxType = "income"
	TxExpense TxType = "expense"
)

// MaxDuration caps the number of periods a pool may be partitioned into.
const MaxDuration = 366

type (
	PeriodUnit   string
	Role         string
	InviteStatus string
	TxType       string

	// Pool is a shared savings pool: a total amount split evenly across
	// duration periods of the given unit, contributed to by its members.
	Pool struct {
		ID          string     `json:"id"`
		Name        string     `json:"name"`
		Description string     `json:"description"`
		Total       Money      `json:"totalCents"`
		Spent       Money      `json:"spentCents"`
		Unit        PeriodUnit `json:"period"`
		Duration    int        `json:"duration"`
		StartDate   Date       `json:"startDate"`
		EndDate     Date       `json:"endDate"`
		CategoryID  string     `json:"categoryId,omitempty"`
		CreatedBy   string     `json:"createdBy"`
		CreatedAt   int64      `json:"createdAt"`
	}

	// Period is one sub-interval of a pool's schedule. Budget is fixed at
	// creation; Spent is maintained incrementally by the transaction poster.
	Period struct {
		ID            string         `json:"id"`
		PoolID        string         `json:"groupBudgetId"`
		Number        int            `json:"periodNumber"`
		StartDate     Date           `json:"startDate"`
		EndDate       Date           `json:"endDate"`
		Budget        Money          `json:"budgetCents"`
		Spent         Money          `json:"spentCents"`
		Transactions  []Transaction  `json:"transactions,omitempty"`
		Confirmations []Confirmation `json:"confirmations,omitempty"`
	}

	Member struct {
		PoolID   string `json:"groupBudgetId"`
		UserID   string `json:"userId"`
		Role     Role   `json:"role"`
		JoinedAt int64  `json:"joinedAt"`
	}

	Invitation struct {
		ID          string       `json:"id"`
		PoolID      string       `json:"groupBudgetId"`
		Email       string       `json:"email"`
		InvitedBy   string       `json:"invitedBy"`
		Status      InviteStatus `json:"status"`
		InvitedAt   int64        `json:"invitedAt"`
		RespondedAt *int64       `json:"respondedAt"`
	}

	// Transaction is an immutable contribution record. Type is a free
	// label: income and expense increment spent identically.
	Transaction struct {
		ID          string `json:"id"`
		PoolID      string `json:"groupBudgetId"`
		PeriodID    string `json:"periodId"`
		Amount      Money  `json:"amountCents"`
		Description string `json:"description"`
		Type        TxType `json:"type"`
		Date        Date   `json:"date"`
		CreatedBy   string `json:"createdBy"`
		CreatedAt   int64  `json:"createdAt"`
	}

	// Confirmation records a member's contribution acknowledgment for one
	// period. ConfirmedAt is nil while un-confirmed; the row itself is
	// kept so toggling never deletes history.
	Confirmation struct {
		PeriodID    string `json:"periodId"`
		UserID      string `json:"userId"`
		ConfirmedAt *int64 `json:"confirmedAt"`
	}

	// RosterEntry is one line of a period's confirmation roster: every
	// member of the parent pool appears, confirmed or not.
	RosterEntry struct {
		UserID      string `json:"userId"`
		Role        Role   `json:"role"`
		ConfirmedAt *int64 `json:"confirmedAt"`
	}

	// Notification is an in-app notification persisted by the delivery
	// worker.
	Notification struct {
		ID        string `json:"id"`
		UserID    string `json:"userId"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		Priority  string `json:"priority"`
		Metadata  string `json:"metadata"`
		Read      bool   `json:"read"`
		CreatedAt int64  `json:"createdAt"`
	}
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInvalidPeriodUnit = errors.New("invalid period unit")
	ErrEmptyName         = errors.New("empty name")
	ErrEmptyDescription  = errors.New("empty description")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidType       = errors.New("invalid transaction type")
	ErrInvalidEmail      = errors.New("invalid email")
	ErrAlreadyConfirmed  = errors.New("contribution already confirmed")
	ErrDuplicateInvite   = errors.New("a pending invitation already exists for this email")
	ErrAlreadyMember     = errors.New("email already belongs to a member")
	ErrInviteResolved    = errors.New("invitation already responded to")
	ErrEmailMismatch     = errors.New("invitation addressed to a different email")
)

// Date is a civil date (UTC midnight). It marshals as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`null`), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AddDays returns the date shifted by n days.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func (u PeriodUnit) Valid() bool {
	switch u {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

func (t TxType) Valid() bool {
	return t == TxIncome || t == TxExpense
}

func (p Pool) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if len(p.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	if err := p.Total.Validate(); err != nil {
		return err
	}
	if !p.Unit.Valid() {
		return ErrInvalidPeriodUnit
	}
	if p.Duration < 1 || p.Duration > MaxDuration {
		return ErrInvalidDuration
	}
	if p.StartDate.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if t.Date.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// ValidEmail is a deliberately loose check: the invitee may not be a
// registered user yet, so only the shape is verified.
func ValidEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t")
}
