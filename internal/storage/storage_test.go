package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"golang.org/x/sync/errgroup"

	"patungan/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPool(t *testing.T, s *Store, total int64, duration int) (*core.Pool, []core.Period) {
	t.Helper()
	pool := &core.Pool{
		Name:      "vacation fund",
		Total:     core.Money{Cents: total},
		Unit:      core.Monthly,
		Duration:  duration,
		StartDate: core.NewDate(2024, 1, 1),
		CreatedBy: "user-owner",
	}
	windows, err := core.BuildPeriods(pool.StartDate, pool.Unit, pool.Duration, pool.Total)
	if err != nil {
		t.Fatalf("build periods: %v", err)
	}
	pool.EndDate = windows[len(windows)-1].EndDate
	periods, err := s.CreatePool(context.Background(), pool, windows, nil)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool, periods
}

func TestCreateAndGetPool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pool := &core.Pool{
		Name:        "house deposit",
		Description: "shared savings",
		Total:       core.Money{Cents: 120000},
		Unit:        core.Monthly,
		Duration:    3,
		StartDate:   core.NewDate(2024, 1, 1),
		CreatedBy:   "user-a",
	}
	windows, err := core.BuildPeriods(pool.StartDate, pool.Unit, pool.Duration, pool.Total)
	if err != nil {
		t.Fatalf("build periods: %v", err)
	}
	pool.EndDate = windows[len(windows)-1].EndDate

	invites := []core.Invitation{
		{Email: "friend@example.com", InvitedBy: "user-a"},
	}
	periods, err := s.CreatePool(ctx, pool, windows, invites)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if len(periods) != 3 {
		t.Fatalf("expected 3 periods, got %d", len(periods))
	}

	got, err := s.GetPool(ctx, pool.ID)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got.Name != "house deposit" || got.Total.Cents != 120000 {
		t.Errorf("unexpected pool: %+v", got)
	}
	if got.EndDate.String() != "2024-03-31" {
		t.Errorf("expected end date 2024-03-31, got %s", got.EndDate)
	}

	m, err := s.GetMember(ctx, pool.ID, "user-a")
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if m.Role != core.RoleOwner {
		t.Errorf("creator role = %q, want owner", m.Role)
	}

	invs, err := s.ListInvitations(ctx, pool.ID)
	if err != nil {
		t.Fatalf("list invitations: %v", err)
	}
	if len(invs) != 1 || invs[0].Status != core.InvitePending {
		t.Errorf("unexpected invitations: %+v", invs)
	}
}

func TestGetPoolNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetPool(context.Background(), "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPostTransactionUpdatesCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, periods := seedPool(t, s, 300000, 3)

	tx := &core.Transaction{
		PoolID:      pool.ID,
		PeriodID:    periods[0].ID,
		Amount:      core.Money{Cents: 2500},
		Description: "january deposit",
		Type:        core.TxIncome,
		Date:        core.NewDate(2024, 1, 15),
		CreatedBy:   "user-owner",
	}
	if err := s.PostTransaction(ctx, tx); err != nil {
		t.Fatalf("post transaction: %v", err)
	}

	p, err := s.GetPeriod(ctx, periods[0].ID)
	if err != nil {
		t.Fatalf("get period: %v", err)
	}
	if p.Spent.Cents != 2500 {
		t.Errorf("period spent = %d, want 2500", p.Spent.Cents)
	}

	got, err := s.GetPool(ctx, pool.ID)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got.Spent.Cents != 2500 {
		t.Errorf("pool spent = %d, want 2500", got.Spent.Cents)
	}
}

func TestPostTransactionPeriodFromOtherPool(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	poolA, _ := seedPool(t, s, 100000, 2)
	_, periodsB := seedPool(t, s, 100000, 2)

	tx := &core.Transaction{
		PoolID:      poolA.ID,
		PeriodID:    periodsB[0].ID,
		Amount:      core.Money{Cents: 100},
		Description: "wrong pool",
		Type:        core.TxExpense,
		Date:        core.NewDate(2024, 1, 2),
		CreatedBy:   "user-owner",
	}
	if err := s.PostTransaction(ctx, tx); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, _ := s.GetPool(ctx, poolA.ID)
	if got.Spent.Cents != 0 {
		t.Errorf("pool spent changed on failed post: %d", got.Spent.Cents)
	}
}

func TestConcurrentPostsSumExactly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, periods := seedPool(t, s, 1000000, 2)

	const workers = 20
	const postsEach = 5

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < postsEach; i++ {
				tx := &core.Transaction{
					PoolID:      pool.ID,
					PeriodID:    periods[w%2].ID,
					Amount:      core.Money{Cents: 7},
					Description: fmt.Sprintf("post %d/%d", w, i),
					Type:        core.TxIncome,
					Date:        core.NewDate(2024, 1, 10),
					CreatedBy:   "user-owner",
				}
				if err := s.PostTransaction(gctx, tx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent posts: %v", err)
	}

	want := int64(workers * postsEach * 7)
	got, err := s.GetPool(ctx, pool.ID)
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	if got.Spent.Cents != want {
		t.Errorf("pool spent = %d, want %d", got.Spent.Cents, want)
	}

	var periodSum int64
	for _, p := range periods {
		pp, err := s.GetPeriod(ctx, p.ID)
		if err != nil {
			t.Fatalf("get period: %v", err)
		}
		periodSum += pp.Spent.Cents
	}
	if periodSum != want {
		t.Errorf("period spent sum = %d, want %d", periodSum, want)
	}
}

func TestRecomputeSpentRepairsDrift(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, periods := seedPool(t, s, 100000, 2)

	tx := &core.Transaction{
		PoolID:      pool.ID,
		PeriodID:    periods[0].ID,
		Amount:      core.Money{Cents: 4200},
		Description: "deposit",
		Type:        core.TxIncome,
		Date:        core.NewDate(2024, 1, 5),
		CreatedBy:   "user-owner",
	}
	if err := s.PostTransaction(ctx, tx); err != nil {
		t.Fatalf("post transaction: %v", err)
	}

	// simulate counter drift
	if _, err := s.db.Exec(`UPDATE pools SET spent_cents = 999 WHERE id = ?`, pool.ID); err != nil {
		t.Fatalf("inject drift: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE pool_periods SET spent_cents = 1 WHERE id = ?`, periods[0].ID); err != nil {
		t.Fatalf("inject drift: %v", err)
	}

	if err := s.RecomputeSpent(ctx, pool.ID); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	got, _ := s.GetPool(ctx, pool.ID)
	if got.Spent.Cents != 4200 {
		t.Errorf("pool spent after recompute = %d, want 4200", got.Spent.Cents)
	}
	p, _ := s.GetPeriod(ctx, periods[0].ID)
	if p.Spent.Cents != 4200 {
		t.Errorf("period spent after recompute = %d, want 4200", p.Spent.Cents)
	}
}

func TestConfirmOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, periods := seedPool(t, s, 100000, 2)

	if _, err := s.Confirm(ctx, periods[0].ID, "user-owner"); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, err := s.Confirm(ctx, periods[0].ID, "user-owner"); !errors.Is(err, core.ErrAlreadyConfirmed) {
		t.Errorf("second confirm: expected ErrAlreadyConfirmed, got %v", err)
	}

	// a different period is independent
	if _, err := s.Confirm(ctx, periods[1].ID, "user-owner"); err != nil {
		t.Errorf("confirm other period: %v", err)
	}
}

func TestSetConfirmedToggles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, periods := seedPool(t, s, 100000, 1)

	stamp, err := s.SetConfirmed(ctx, periods[0].ID, "user-owner", true)
	if err != nil {
		t.Fatalf("set confirmed: %v", err)
	}
	if stamp == nil {
		t.Fatal("expected a timestamp")
	}

	stamp, err = s.SetConfirmed(ctx, periods[0].ID, "user-owner", false)
	if err != nil {
		t.Fatalf("unset confirmed: %v", err)
	}
	if stamp != nil {
		t.Fatalf("expected nil timestamp, got %d", *stamp)
	}

	roster, err := s.Roster(ctx, periods[0].ID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 1 {
		t.Fatalf("expected 1 roster entry, got %d", len(roster))
	}
	if roster[0].ConfirmedAt != nil {
		t.Errorf("expected unconfirmed entry after toggle off")
	}
}

func TestRosterIncludesUnconfirmedMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, periods := seedPool(t, s, 100000, 1)

	inv := &core.Invitation{PoolID: pool.ID, Email: "b@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if _, err := s.AcceptInvitation(ctx, inv.ID, "user-b", true); err != nil {
		t.Fatalf("accept invitation: %v", err)
	}

	if _, err := s.Confirm(ctx, periods[0].ID, "user-owner"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	roster, err := s.Roster(ctx, periods[0].ID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("expected 2 roster entries, got %d", len(roster))
	}
	byUser := map[string]core.RosterEntry{}
	for _, e := range roster {
		byUser[e.UserID] = e
	}
	if byUser["user-owner"].ConfirmedAt == nil {
		t.Errorf("owner should be confirmed")
	}
	if byUser["user-b"].ConfirmedAt != nil {
		t.Errorf("new member should be unconfirmed")
	}
}

func TestInvitationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, _ := seedPool(t, s, 100000, 1)

	inv := &core.Invitation{PoolID: pool.ID, Email: "c@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("create invitation: %v", err)
	}

	// pending duplicate
	dup := &core.Invitation{PoolID: pool.ID, Email: "c@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, dup); !errors.Is(err, core.ErrDuplicateInvite) {
		t.Errorf("expected ErrDuplicateInvite, got %v", err)
	}

	m, err := s.AcceptInvitation(ctx, inv.ID, "user-c", true)
	if err != nil {
		t.Fatalf("accept invitation: %v", err)
	}
	if m.Role != core.RoleMember {
		t.Errorf("joined role = %q, want member", m.Role)
	}

	// terminal: a second accept fails
	if _, err := s.AcceptInvitation(ctx, inv.ID, "user-c", true); !errors.Is(err, core.ErrInviteResolved) {
		t.Errorf("expected ErrInviteResolved, got %v", err)
	}
	if err := s.DeclineInvitation(ctx, inv.ID); !errors.Is(err, core.ErrInviteResolved) {
		t.Errorf("expected ErrInviteResolved, got %v", err)
	}

	// accepted email cannot be re-invited
	again := &core.Invitation{PoolID: pool.ID, Email: "c@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, again); !errors.Is(err, core.ErrAlreadyMember) {
		t.Errorf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestDeclinedEmailCanBeReinvited(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, _ := seedPool(t, s, 100000, 1)

	inv := &core.Invitation{PoolID: pool.ID, Email: "d@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if err := s.DeclineInvitation(ctx, inv.ID); err != nil {
		t.Fatalf("decline invitation: %v", err)
	}

	again := &core.Invitation{PoolID: pool.ID, Email: "d@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, again); err != nil {
		t.Fatalf("re-invite after decline: %v", err)
	}
	got, err := s.GetInvitation(ctx, again.ID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if got.Status != core.InvitePending || got.RespondedAt != nil {
		t.Errorf("re-invite not fresh: %+v", got)
	}
}

func TestAcceptInvitationDeleteRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, _ := seedPool(t, s, 100000, 1)

	inv := &core.Invitation{PoolID: pool.ID, Email: "e@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if _, err := s.AcceptInvitation(ctx, inv.ID, "user-e", false); err != nil {
		t.Fatalf("accept invitation: %v", err)
	}
	if _, err := s.GetInvitation(ctx, inv.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected invitation row removed, got %v", err)
	}
	if _, err := s.GetMember(ctx, pool.ID, "user-e"); err != nil {
		t.Errorf("membership missing after accept: %v", err)
	}
}

func TestAcceptRejectedForExistingMember(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, _ := seedPool(t, s, 100000, 1)

	inv := &core.Invitation{PoolID: pool.ID, Email: "e@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if _, err := s.AcceptInvitation(ctx, inv.ID, "user-e", false); err != nil {
		t.Fatalf("accept invitation: %v", err)
	}

	// delete retention left no invitation row, so the email can be
	// invited again; the second accept must still hit the member guard
	again := &core.Invitation{PoolID: pool.ID, Email: "e@example.com", InvitedBy: "user-owner"}
	if err := s.CreateInvitation(ctx, again); err != nil {
		t.Fatalf("re-invite: %v", err)
	}
	if _, err := s.AcceptInvitation(ctx, again.ID, "user-e", false); !errors.Is(err, core.ErrAlreadyMember) {
		t.Errorf("second accept: expected ErrAlreadyMember, got %v", err)
	}

	// the guard rolled everything back, the invitation is still pending
	got, err := s.GetInvitation(ctx, again.ID)
	if err != nil {
		t.Fatalf("get invitation: %v", err)
	}
	if got.Status != core.InvitePending {
		t.Errorf("invitation status = %q, want pending", got.Status)
	}
}

func TestListPendingByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	poolA, _ := seedPool(t, s, 100000, 1)
	poolB, _ := seedPool(t, s, 100000, 1)

	for _, poolID := range []string{poolA.ID, poolB.ID} {
		inv := &core.Invitation{PoolID: poolID, Email: "multi@example.com", InvitedBy: "user-owner"}
		if err := s.CreateInvitation(ctx, inv); err != nil {
			t.Fatalf("create invitation: %v", err)
		}
	}

	pending, err := s.ListPendingByEmail(ctx, "multi@example.com")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("expected 2 pending invitations, got %d", len(pending))
	}
}

func TestDeletePoolCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, periods := seedPool(t, s, 100000, 2)

	tx := &core.Transaction{
		PoolID:      pool.ID,
		PeriodID:    periods[0].ID,
		Amount:      core.Money{Cents: 100},
		Description: "deposit",
		Type:        core.TxIncome,
		Date:        core.NewDate(2024, 1, 3),
		CreatedBy:   "user-owner",
	}
	if err := s.PostTransaction(ctx, tx); err != nil {
		t.Fatalf("post transaction: %v", err)
	}
	if _, err := s.Confirm(ctx, periods[0].ID, "user-owner"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if err := s.DeletePool(ctx, pool.ID); err != nil {
		t.Fatalf("delete pool: %v", err)
	}

	if _, err := s.GetPeriod(ctx, periods[0].ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("period survived delete: %v", err)
	}
	txs, err := s.ListTransactions(ctx, periods[0].ID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("transactions survived delete: %d", len(txs))
	}
}

func TestListPeriodsDetailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pool, periods := seedPool(t, s, 100000, 2)

	tx := &core.Transaction{
		PoolID:      pool.ID,
		PeriodID:    periods[1].ID,
		Amount:      core.Money{Cents: 900},
		Description: "february deposit",
		Type:        core.TxIncome,
		Date:        core.NewDate(2024, 2, 10),
		CreatedBy:   "user-owner",
	}
	if err := s.PostTransaction(ctx, tx); err != nil {
		t.Fatalf("post transaction: %v", err)
	}
	if _, err := s.Confirm(ctx, periods[1].ID, "user-owner"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	detailed, err := s.ListPeriodsDetailed(ctx, pool.ID)
	if err != nil {
		t.Fatalf("list detailed: %v", err)
	}
	if len(detailed) != 2 {
		t.Fatalf("expected 2 periods, got %d", len(detailed))
	}
	if len(detailed[0].Transactions) != 0 || len(detailed[1].Transactions) != 1 {
		t.Errorf("transactions misattached: %d/%d", len(detailed[0].Transactions), len(detailed[1].Transactions))
	}
	if len(detailed[1].Confirmations) != 1 {
		t.Errorf("expected 1 confirmation on period 2, got %d", len(detailed[1].Confirmations))
	}
}

func TestNotifications(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &core.Notification{UserID: "user-x", Title: "late contribution", Message: "3 days late", Priority: "high"}
	if err := s.InsertNotification(ctx, n); err != nil {
		t.Fatalf("insert notification: %v", err)
	}

	notes, err := s.ListNotifications(ctx, "user-x", 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Read {
		t.Fatalf("unexpected notifications: %+v", notes)
	}

	if err := s.MarkNotificationRead(ctx, n.ID, "user-x"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := s.MarkNotificationRead(ctx, n.ID, "someone-else"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound for wrong user, got %v", err)
	}

	notes, _ = s.ListNotifications(ctx, "user-x", 10)
	if !notes[0].Read {
		t.Errorf("notification still unread")
	}
}

func TestReminderSweepQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, periods := seedPool(t, s, 100000, 2)

	// as of march both periods have ended and the owner confirmed none
	due, err := s.ListUnconfirmedEndedPeriods(ctx, core.NewDate(2024, 3, 15))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due reminders, got %d", len(due))
	}

	if _, err := s.Confirm(ctx, periods[0].ID, "user-owner"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := s.MarkReminded(ctx, periods[1].ID, "user-owner"); err != nil {
		t.Fatalf("mark reminded: %v", err)
	}

	due, err = s.ListUnconfirmedEndedPeriods(ctx, core.NewDate(2024, 3, 15))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due reminders, got %d", len(due))
	}

	// marking twice is a no-op
	if err := s.MarkReminded(ctx, periods[1].ID, "user-owner"); err != nil {
		t.Errorf("second mark reminded: %v", err)
	}
}
