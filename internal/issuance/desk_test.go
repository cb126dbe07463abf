package issuance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/cylinder-portal/internal/inventory"
	"github.com/pitabwire/cylinder-portal/model"
)

// --- Test helpers ---

func testRctx(operatorID string) *model.RequestContext {
	return &model.RequestContext{OperatorID: operatorID, PlantID: "plant-1"}
}

type deskObserver struct {
	issued   []model.IssuanceRecord
	rejected []string
}

func (o *deskObserver) OnIssued(_ context.Context, r model.IssuanceRecord) {
	o.issued = append(o.issued, r)
}

func (o *deskObserver) OnExchangeRejected(_ context.Context, department string) {
	o.rejected = append(o.rejected, department)
}

type deskEnv struct {
	desk     *Desk
	repo     *MemoryRequestRepository
	ledger   *inventory.Ledger
	idem     *MemoryIdempotencyStore
	observer *deskObserver
}

func newTestDesk(t *testing.T) deskEnv {
	t.Helper()
	env := deskEnv{
		repo: NewMemoryRequestRepository(seedRequests()),
		ledger: inventory.NewLedger([]model.StockLevel{
			{Gas: model.GasCO2, Full: 45, Empty: 15},
			{Gas: model.GasArgon, Full: 38, Empty: 12},
			{Gas: model.GasOxygen, Full: 72, Empty: 18},
		}, 25),
		idem:     NewMemoryIdempotencyStore(),
		observer: &deskObserver{},
	}
	env.desk = NewDesk(env.repo, env.ledger,
		WithIdempotencyStore(env.idem, 0),
		WithObserver(env.observer),
	)
	return env
}

func fillForm(t *testing.T, d *Desk, rctx *model.RequestContext, requestID string, full, empty int) {
	t.Helper()
	ctx := context.Background()
	_, err := d.Select(ctx, rctx, requestID)
	require.NoError(t, err)
	_, err = d.AdjustFull(ctx, rctx, full)
	require.NoError(t, err)
	_, err = d.AdjustEmpty(ctx, rctx, empty)
	require.NoError(t, err)
}

// --- Selection ---

func TestDesk_Pending(t *testing.T) {
	env := newTestDesk(t)
	pending, err := env.desk.Pending(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(pending))
	for _, r := range pending {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"REQ-001", "REQ-002", "REQ-003"}, ids)
}

func TestDesk_Select(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")

	desc, err := env.desk.Select(ctx, rctx, "REQ-001")
	require.NoError(t, err)
	require.NotNil(t, desc.Request)
	assert.Equal(t, "Welding Shop", desc.Request.Department)
	assert.Equal(t, "REQ-001", desc.Form.RequestID)
	assert.False(t, desc.Verdict.Valid)

	_, err = env.desk.Select(ctx, rctx, "REQ-004")
	assert.Equal(t, model.ErrRequestClosed, model.CodeOf(err))

	_, err = env.desk.Select(ctx, rctx, "REQ-999")
	assert.Equal(t, model.ErrNotFound, model.CodeOf(err))
}

func TestDesk_Select_resetsOnlyForDifferentRequest(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	fillForm(t, env.desk, rctx, "REQ-001", 2, 1)

	desc, err := env.desk.Select(ctx, rctx, "REQ-001")
	require.NoError(t, err)
	assert.Equal(t, 2, desc.Form.FullCylindersIssued, "reselecting keeps the form")

	desc, err = env.desk.Select(ctx, rctx, "REQ-002")
	require.NoError(t, err)
	assert.Equal(t, 0, desc.Form.FullCylindersIssued)
	assert.Equal(t, 0, desc.Form.EmptyCylindersReceived)
	assert.Equal(t, "REQ-002", desc.Form.RequestID)
}

func TestDesk_formsArePerOperator(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	fillForm(t, env.desk, testRctx("op-1"), "REQ-001", 3, 3)

	desc, err := env.desk.Form(ctx, testRctx("op-2"))
	require.NoError(t, err)
	assert.Nil(t, desc.Request)
	assert.False(t, desc.Verdict.Valid)

	_, err = env.desk.AdjustFull(ctx, testRctx("op-2"), 1)
	assert.Equal(t, model.ErrNoRequestSelected, model.CodeOf(err))
}

// --- Editing ---

func TestDesk_countersClampAtZero(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	_, _ = env.desk.Select(ctx, rctx, "REQ-001")

	desc, err := env.desk.AdjustFull(ctx, rctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, desc.Form.FullCylindersIssued)

	desc, _ = env.desk.AdjustEmpty(ctx, rctx, 2)
	desc, _ = env.desk.AdjustEmpty(ctx, rctx, -5)
	assert.Equal(t, 0, desc.Form.EmptyCylindersReceived)
}

func TestDesk_verdictFollowsCounters(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	fillForm(t, env.desk, rctx, "REQ-001", 2, 3)

	desc, err := env.desk.Form(ctx, rctx)
	require.NoError(t, err)
	assert.False(t, desc.Verdict.Valid)

	desc, err = env.desk.AdjustEmpty(ctx, rctx, -1)
	require.NoError(t, err)
	assert.True(t, desc.Verdict.Valid)
}

func TestDesk_Tags(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	_, _ = env.desk.Select(ctx, rctx, "REQ-001")

	_, _ = env.desk.AddTag(ctx, rctx, model.TagSideIssued, " RF-1 ")
	_, _ = env.desk.AddTag(ctx, rctx, model.TagSideIssued, "")
	_, _ = env.desk.AddTag(ctx, rctx, model.TagSideIssued, "RF-1")
	desc, err := env.desk.AddTag(ctx, rctx, model.TagSideReceived, "RF-9")
	require.NoError(t, err)
	assert.Equal(t, model.TagList{"RF-1", "RF-1"}, desc.Form.IssuedTags)
	assert.Equal(t, model.TagList{"RF-9"}, desc.Form.ReceivedTags)

	desc, err = env.desk.RemoveTag(ctx, rctx, model.TagSideIssued, 0)
	require.NoError(t, err)
	assert.Equal(t, model.TagList{"RF-1"}, desc.Form.IssuedTags)

	desc, err = env.desk.RemoveTag(ctx, rctx, model.TagSideReceived, 3)
	require.NoError(t, err)
	assert.Equal(t, model.TagList{"RF-9"}, desc.Form.ReceivedTags)

	_, err = env.desk.AddTag(ctx, rctx, "sideways", "RF-2")
	assert.Equal(t, model.ErrBadRequest, model.CodeOf(err))
}

// --- Issue ---

func TestDesk_Issue(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	fillForm(t, env.desk, rctx, "REQ-001", 2, 2)
	_, _ = env.desk.AddTag(ctx, rctx, model.TagSideIssued, "RF-1")
	_, _ = env.desk.SetNotes(ctx, rctx, "  night shift  ")

	record, err := env.desk.Issue(ctx, rctx, IssueInput{IdempotencyKey: "k1", RequestID: "REQ-001"})
	require.NoError(t, err)
	assert.Equal(t, "REQ-001", record.RequestID)
	assert.Equal(t, 2, record.FullCylindersIssued)
	assert.Equal(t, model.TagList{"RF-1"}, record.IssuedTags)
	assert.Equal(t, "night shift", record.Notes)

	req, _ := env.repo.Get(ctx, "REQ-001")
	assert.Equal(t, model.RequestCompleted, req.Status)

	level, _ := env.ledger.Level(model.GasCO2)
	assert.Equal(t, 43, level.Full)
	assert.Equal(t, 17, level.Empty)

	desc, _ := env.desk.Form(ctx, rctx)
	assert.Nil(t, desc.Request, "form cleared after issue")

	require.Len(t, env.observer.issued, 1)
	assert.Len(t, env.desk.Issued(0), 1)
	assert.Equal(t, 1, env.idem.Len())
}

func TestDesk_Issue_idempotentReplay(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	fillForm(t, env.desk, rctx, "REQ-001", 2, 2)

	first, err := env.desk.Issue(ctx, rctx, IssueInput{IdempotencyKey: "k1", RequestID: "REQ-001"})
	require.NoError(t, err)

	again, err := env.desk.Issue(ctx, rctx, IssueInput{IdempotencyKey: "k1", RequestID: "REQ-001"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	level, _ := env.ledger.Level(model.GasCO2)
	assert.Equal(t, 43, level.Full, "replay must not move stock twice")

	_, err = env.desk.Issue(ctx, rctx, IssueInput{IdempotencyKey: "k1", RequestID: "REQ-002"})
	assert.Equal(t, model.ErrConflict, model.CodeOf(err))
}

func TestDesk_Issue_invalidExchange(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	fillForm(t, env.desk, rctx, "REQ-001", 2, 3)

	_, err := env.desk.Issue(ctx, rctx, IssueInput{})
	var ee *model.ErrorEnvelope
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, model.ErrExchangeInvalid, ee.Code)
	assert.Equal(t, "Full cylinders issued (2) must equal empty cylinders received (3)", ee.Message)
	assert.Equal(t, []string{"Welding Shop"}, env.observer.rejected)

	req, _ := env.repo.Get(ctx, "REQ-001")
	assert.Equal(t, model.RequestPending, req.Status)
	level, _ := env.ledger.Level(model.GasCO2)
	assert.Equal(t, 45, level.Full)

	desc, _ := env.desk.Form(ctx, rctx)
	assert.Equal(t, 2, desc.Form.FullCylindersIssued, "form kept after rejection")
}

func TestDesk_Issue_vendor(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	fillForm(t, env.desk, rctx, "REQ-002", 3, 0)

	_, err := env.desk.Issue(ctx, rctx, IssueInput{})
	require.NoError(t, err)

	level, _ := env.ledger.Level(model.GasArgon)
	assert.Equal(t, 35, level.Full)
	assert.Equal(t, 12, level.Empty)
}

func TestDesk_Issue_noSelection(t *testing.T) {
	env := newTestDesk(t)
	_, err := env.desk.Issue(context.Background(), testRctx("op-1"), IssueInput{})
	assert.Equal(t, model.ErrNoRequestSelected, model.CodeOf(err))
}

func TestDesk_Issue_requestMismatch(t *testing.T) {
	env := newTestDesk(t)
	rctx := testRctx("op-1")
	fillForm(t, env.desk, rctx, "REQ-001", 1, 1)

	_, err := env.desk.Issue(context.Background(), rctx, IssueInput{RequestID: "REQ-003"})
	assert.Equal(t, model.ErrConflict, model.CodeOf(err))
}

func TestDesk_Issue_insufficientStock(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")
	fillForm(t, env.desk, rctx, "REQ-003", 80, 80)

	_, err := env.desk.Issue(ctx, rctx, IssueInput{})
	assert.Equal(t, model.ErrConflict, model.CodeOf(err))

	req, _ := env.repo.Get(ctx, "REQ-003")
	assert.Equal(t, model.RequestInProgress, req.Status)
}

func TestDesk_Issue_requestClosedByOtherOperator(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	fillForm(t, env.desk, testRctx("op-1"), "REQ-001", 1, 1)
	fillForm(t, env.desk, testRctx("op-2"), "REQ-001", 2, 2)

	_, err := env.desk.Issue(ctx, testRctx("op-1"), IssueInput{})
	require.NoError(t, err)

	_, err = env.desk.Issue(ctx, testRctx("op-2"), IssueInput{})
	assert.Equal(t, model.ErrRequestClosed, model.CodeOf(err))

	level, _ := env.ledger.Level(model.GasCO2)
	assert.Equal(t, 44, level.Full, "only the first issue moves stock")
}

func TestDesk_Issued_newestFirst(t *testing.T) {
	env := newTestDesk(t)
	ctx := context.Background()
	rctx := testRctx("op-1")

	fillForm(t, env.desk, rctx, "REQ-001", 1, 1)
	_, err := env.desk.Issue(ctx, rctx, IssueInput{})
	require.NoError(t, err)
	fillForm(t, env.desk, rctx, "REQ-003", 1, 1)
	_, err = env.desk.Issue(ctx, rctx, IssueInput{})
	require.NoError(t, err)

	issued := env.desk.Issued(1)
	require.Len(t, issued, 1)
	assert.Equal(t, "REQ-003", issued[0].RequestID)
}
