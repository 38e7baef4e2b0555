package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"patungan/internal/config"
	"patungan/internal/core"
	"patungan/internal/notify"
	"patungan/internal/storage"
)

// capturingPublisher records published messages and can be told to
// fail.
type capturingPublisher struct {
	mu       sync.Mutex
	messages []*notify.Message
	err      error
}

func (p *capturingPublisher) Publish(_ context.Context, msg *notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *capturingPublisher) byKind(kind string) []*notify.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*notify.Message
	for _, m := range p.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createPool(t *testing.T, svc *PoolService, userID string) (*core.Pool, []core.Period) {
	t.Helper()
	pool, periods, err := svc.Create(context.Background(), userID, CreatePoolInput{
		Name:        "trip fund",
		Description: "summer trip",
		Amount:      "1200.00",
		Period:      core.Monthly,
		Duration:    3,
		StartDate:   core.NewDate(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool, periods
}

func TestCreatePoolDerivesSchedule(t *testing.T) {
	store := newTestStore(t)
	pub := &capturingPublisher{}
	svc := NewPoolService(store, pub)

	pool, periods, err := svc.Create(context.Background(), "user-a", CreatePoolInput{
		Name:         "house",
		Amount:       "300.00",
		Period:       core.Monthly,
		Duration:     3,
		StartDate:    core.NewDate(2024, 1, 1),
		InviteEmails: []string{"b@example.com", "B@example.com", "c@example.com"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if pool.EndDate.String() != "2024-03-31" {
		t.Errorf("derived end date = %s, want 2024-03-31", pool.EndDate)
	}
	if len(periods) != 3 || periods[0].Budget.Cents != 10000 {
		t.Errorf("unexpected periods: %+v", periods)
	}
	// duplicate emails are collapsed case-insensitively
	if got := pub.byKind(notify.KindInvite); len(got) != 2 {
		t.Errorf("expected 2 invite notifications, got %d", len(got))
	}
}

func TestCreatePoolValidation(t *testing.T) {
	svc := NewPoolService(newTestStore(t), nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreatePoolInput
		want error
	}{
		{"empty name", CreatePoolInput{Amount: "10", Period: core.Monthly, Duration: 1, StartDate: core.NewDate(2024, 1, 1)}, core.ErrEmptyName},
		{"bad amount", CreatePoolInput{Name: "x", Amount: "zero", Period: core.Monthly, Duration: 1, StartDate: core.NewDate(2024, 1, 1)}, core.ErrInvalidAmount},
		{"negative amount", CreatePoolInput{Name: "x", Amount: "-5", Period: core.Monthly, Duration: 1, StartDate: core.NewDate(2024, 1, 1)}, core.ErrInvalidAmount},
		{"bad unit", CreatePoolInput{Name: "x", Amount: "10", Period: "yearly", Duration: 1, StartDate: core.NewDate(2024, 1, 1)}, core.ErrInvalidPeriodUnit},
		{"zero duration", CreatePoolInput{Name: "x", Amount: "10", Period: core.Daily, Duration: 0, StartDate: core.NewDate(2024, 1, 1)}, core.ErrInvalidDuration},
		{"huge duration", CreatePoolInput{Name: "x", Amount: "10", Period: core.Daily, Duration: 400, StartDate: core.NewDate(2024, 1, 1)}, core.ErrInvalidDuration},
		{"no start", CreatePoolInput{Name: "x", Amount: "10", Period: core.Daily, Duration: 1}, core.ErrInvalidDate},
		{"bad email", CreatePoolInput{Name: "x", Amount: "10", Period: core.Daily, Duration: 1, StartDate: core.NewDate(2024, 1, 1), InviteEmails: []string{"nope"}}, core.ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := svc.Create(ctx, "user-a", tt.in); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGetPoolHiddenFromNonMembers(t *testing.T) {
	store := newTestStore(t)
	svc := NewPoolService(store, nil)
	pool, _ := createPool(t, svc, "user-a")

	if _, _, err := svc.Get(context.Background(), "stranger", pool.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound for non-member, got %v", err)
	}
	if _, _, err := svc.Get(context.Background(), "user-a", pool.ID); err != nil {
		t.Errorf("member read failed: %v", err)
	}
}

func TestUpdateAndDeleteAuthorization(t *testing.T) {
	store := newTestStore(t)
	pools := NewPoolService(store, nil)
	invites := NewInvitationService(store, nil, config.InviteKeep)
	ctx := context.Background()

	pool, _ := createPool(t, pools, "user-a")

	inv, err := invites.Invite(ctx, "user-a", pool.ID, InviteInput{Email: "b@example.com"})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if _, err := invites.Accept(ctx, "user-b", "b@example.com", inv.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// plain member cannot update or delete
	if _, err := pools.Update(ctx, "user-b", pool.ID, UpdatePoolInput{Name: "renamed"}); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("member update: expected ErrForbidden, got %v", err)
	}
	if err := pools.Delete(ctx, "user-b", pool.ID); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("member delete: expected ErrForbidden, got %v", err)
	}

	// non-member sees nothing
	if _, err := pools.Update(ctx, "stranger", pool.ID, UpdatePoolInput{Name: "renamed"}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("stranger update: expected ErrNotFound, got %v", err)
	}

	updated, err := pools.Update(ctx, "user-a", pool.ID, UpdatePoolInput{Name: "renamed", Description: "new"})
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if updated.Name != "renamed" {
		t.Errorf("name not updated: %q", updated.Name)
	}

	if err := pools.Delete(ctx, "user-a", pool.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestPostTransactionOnTime(t *testing.T) {
	store := newTestStore(t)
	pub := &capturingPublisher{}
	pools := NewPoolService(store, pub)
	txs := NewTransactionService(store, pub)
	ctx := context.Background()

	pool, periods := createPool(t, pools, "user-a")

	res, err := txs.Post(ctx, "user-a", PostTransactionInput{
		GroupBudgetID: pool.ID,
		PeriodID:      periods[0].ID,
		Amount:        "25.50",
		Description:   "january deposit",
		Type:          core.TxIncome,
		Date:          core.NewDate(2024, 1, 20),
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if res.IsLate || res.Warning != "" {
		t.Errorf("on-time post flagged late: %+v", res)
	}
	if res.Transaction.Amount.Cents != 2550 {
		t.Errorf("amount = %d, want 2550", res.Transaction.Amount.Cents)
	}
	if got := pub.byKind(notify.KindLate); len(got) != 0 {
		t.Errorf("unexpected late notification")
	}
}

func TestPostTransactionLate(t *testing.T) {
	store := newTestStore(t)
	pub := &capturingPublisher{}
	pools := NewPoolService(store, pub)
	txs := NewTransactionService(store, pub)
	ctx := context.Background()

	pool, periods := createPool(t, pools, "user-a")

	// period 1 ends 2024-01-31; posting dated feb 3rd is 3 days late
	res, err := txs.Post(ctx, "user-a", PostTransactionInput{
		GroupBudgetID: pool.ID,
		PeriodID:      periods[0].ID,
		Amount:        "10.00",
		Description:   "late deposit",
		Type:          core.TxIncome,
		Date:          core.NewDate(2024, 2, 3),
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !res.IsLate || res.DaysLate != 3 {
		t.Errorf("lateness = %v/%d, want true/3", res.IsLate, res.DaysLate)
	}
	if res.Warning == "" {
		t.Error("expected a warning")
	}

	late := pub.byKind(notify.KindLate)
	if len(late) != 1 {
		t.Fatalf("expected 1 late notification, got %d", len(late))
	}
	if late[0].UserID != "user-a" {
		t.Errorf("late notification addressed to %q, want the owner", late[0].UserID)
	}
	if late[0].Metadata["daysLate"] != "3" {
		t.Errorf("metadata daysLate = %q", late[0].Metadata["daysLate"])
	}
}

func TestPostTransactionPublishFailureDoesNotFail(t *testing.T) {
	store := newTestStore(t)
	pub := &capturingPublisher{err: errors.New("broker down")}
	pools := NewPoolService(store, &capturingPublisher{})
	txs := NewTransactionService(store, pub)
	ctx := context.Background()

	pool, periods := createPool(t, pools, "user-a")

	res, err := txs.Post(ctx, "user-a", PostTransactionInput{
		GroupBudgetID: pool.ID,
		PeriodID:      periods[0].ID,
		Amount:        "10.00",
		Description:   "late deposit",
		Type:          core.TxIncome,
		Date:          core.NewDate(2024, 5, 1),
	})
	if err != nil {
		t.Fatalf("post should survive publish failure: %v", err)
	}
	if !res.IsLate {
		t.Error("expected late flag")
	}
}

func TestPostTransactionAuthorization(t *testing.T) {
	store := newTestStore(t)
	pools := NewPoolService(store, nil)
	txs := NewTransactionService(store, nil)
	ctx := context.Background()

	pool, periods := createPool(t, pools, "user-a")

	in := PostTransactionInput{
		GroupBudgetID: pool.ID,
		PeriodID:      periods[0].ID,
		Amount:        "5",
		Description:   "x",
		Type:          core.TxExpense,
		Date:          core.NewDate(2024, 1, 2),
	}
	if _, err := txs.Post(ctx, "stranger", in); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("stranger post: expected ErrNotFound, got %v", err)
	}

	// period belonging to a different pool reads as missing
	_, otherPeriods := createPool(t, pools, "user-a")
	in.PeriodID = otherPeriods[0].ID
	if _, err := txs.Post(ctx, "user-a", in); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-pool post: expected ErrNotFound, got %v", err)
	}
}

func TestConfirmStrictMode(t *testing.T) {
	store := newTestStore(t)
	pools := NewPoolService(store, nil)
	confs := NewConfirmationService(store, nil, config.ConfirmStrict)
	ctx := context.Background()

	pool, periods := createPool(t, pools, "user-a")

	conf, err := confs.Confirm(ctx, "user-a", pool.ID, periods[0].ID, ConfirmInput{})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if conf.ConfirmedAt == nil {
		t.Fatal("expected a timestamp")
	}
	if _, err := confs.Confirm(ctx, "user-a", pool.ID, periods[0].ID, ConfirmInput{}); !errors.Is(err, core.ErrAlreadyConfirmed) {
		t.Errorf("second confirm: expected ErrAlreadyConfirmed, got %v", err)
	}
}

func TestConfirmToggleMode(t *testing.T) {
	store := newTestStore(t)
	pools := NewPoolService(store, nil)
	confs := NewConfirmationService(store, nil, config.ConfirmToggle)
	ctx := context.Background()

	pool, periods := createPool(t, pools, "user-a")

	conf, err := confs.Confirm(ctx, "user-a", pool.ID, periods[0].ID, ConfirmInput{})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if conf.ConfirmedAt == nil {
		t.Fatal("expected a timestamp")
	}

	off := false
	conf, err = confs.Confirm(ctx, "user-a", pool.ID, periods[0].ID, ConfirmInput{Confirmed: &off})
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if conf.ConfirmedAt != nil {
		t.Error("expected nil timestamp after toggle off")
	}

	roster, err := confs.Roster(ctx, "user-a", pool.ID, periods[0].ID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 1 || roster[0].ConfirmedAt != nil {
		t.Errorf("unexpected roster: %+v", roster)
	}
}

func TestInvitationLifecycleService(t *testing.T) {
	store := newTestStore(t)
	pub := &capturingPublisher{}
	pools := NewPoolService(store, pub)
	invites := NewInvitationService(store, pub, config.InviteKeep)
	ctx := context.Background()

	pool, _ := createPool(t, pools, "user-a")

	inv, err := invites.Invite(ctx, "user-a", pool.ID, InviteInput{Email: "B@Example.com"})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if inv.Email != "b@example.com" {
		t.Errorf("email not normalized: %q", inv.Email)
	}

	// wrong email cannot respond
	if _, err := invites.Accept(ctx, "user-x", "x@example.com", inv.ID); !errors.Is(err, core.ErrEmailMismatch) {
		t.Errorf("expected ErrEmailMismatch, got %v", err)
	}
	if err := invites.Decline(ctx, "x@example.com", inv.ID); !errors.Is(err, core.ErrEmailMismatch) {
		t.Errorf("expected ErrEmailMismatch, got %v", err)
	}

	pending, err := invites.ListPendingForUser(ctx, "b@example.com")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending invitation, got %d", len(pending))
	}

	member, err := invites.Accept(ctx, "user-b", "b@example.com", inv.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if member.Role != core.RoleMember {
		t.Errorf("role = %q, want member", member.Role)
	}

	// the invitee got the invite, the inviter got the acceptance notice
	if got := pub.byKind(notify.KindInvite); len(got) != 1 {
		t.Errorf("expected 1 invite notification, got %d", len(got))
	}
	accepted := pub.byKind(notify.KindAccepted)
	if len(accepted) != 1 || accepted[0].UserID != "user-a" {
		t.Errorf("unexpected acceptance notices: %+v", accepted)
	}

	// members cannot invite
	if _, err := invites.Invite(ctx, "user-b", pool.ID, InviteInput{Email: "c@example.com"}); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("member invite: expected ErrForbidden, got %v", err)
	}
}

func TestRecomputeOwnerOnly(t *testing.T) {
	store := newTestStore(t)
	pools := NewPoolService(store, nil)
	ctx := context.Background()

	pool, _ := createPool(t, pools, "user-a")

	if _, err := pools.Recompute(ctx, "stranger", pool.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("stranger recompute: expected ErrNotFound, got %v", err)
	}
	if _, err := pools.Recompute(ctx, "user-a", pool.ID); err != nil {
		t.Errorf("owner recompute: %v", err)
	}
}
