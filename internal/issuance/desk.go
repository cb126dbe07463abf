// Package issuance runs the cylinder issue desk: operators pick an open
// department request, count full cylinders out and empty cylinders back in,
// and confirm the exchange.
package issuance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/cylinder-portal/internal/inventory"
	"github.com/pitabwire/cylinder-portal/internal/observability"
	"github.com/pitabwire/cylinder-portal/model"
)

const (
	defaultIdempotencyTTL = 24 * time.Hour
	maxIssuedHistory      = 500
)

// StockLedger receives the cylinder movements produced by issuances.
type StockLedger interface {
	Apply(ctx context.Context, movement model.StockMovement) error
}

// Observer receives issue desk events. Implementations may record metrics
// or other telemetry.
type Observer interface {
	OnIssued(ctx context.Context, record model.IssuanceRecord)
	OnExchangeRejected(ctx context.Context, department string)
}

// IssueInput confirms the exchange on the operator's form.
type IssueInput struct {
	IdempotencyKey string `json:"idempotency_key"`
	// RequestID, when set, must match the request the form is scoped to.
	RequestID string `json:"request_id"`
}

// Desk holds one issuance form per operator and confirms exchanges against
// the request repository and stock ledger.
type Desk struct {
	requests    RequestRepository
	stock       StockLedger
	idempotency IdempotencyStore
	idemTTL     time.Duration
	observers   []Observer
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.Mutex
	forms  map[string]*model.IssuanceForm // key: operator ID
	issued []model.IssuanceRecord
}

// Option configures optional dependencies.
type Option func(*Desk)

// WithIdempotencyStore sets the idempotency store and the TTL of its
// entries.
func WithIdempotencyStore(store IdempotencyStore, ttl time.Duration) Option {
	return func(d *Desk) {
		d.idempotency = store
		if ttl > 0 {
			d.idemTTL = ttl
		}
	}
}

// WithObserver adds an observer.
func WithObserver(obs Observer) Option {
	return func(d *Desk) { d.observers = append(d.observers, obs) }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Desk) { d.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Desk) { d.now = now }
}

// NewDesk creates an issue desk.
func NewDesk(requests RequestRepository, stock StockLedger, opts ...Option) *Desk {
	d := &Desk{
		requests: requests,
		stock:    stock,
		idemTTL:  defaultIdempotencyTTL,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		forms:    make(map[string]*model.IssuanceForm),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Pending returns requests that can still be issued against.
func (d *Desk) Pending(ctx context.Context) ([]model.CylinderRequest, error) {
	return d.requests.List(ctx, model.RequestPending, model.RequestInProgress)
}

// Requests returns every request, optionally filtered by status.
func (d *Desk) Requests(ctx context.Context, statuses ...model.RequestStatus) ([]model.CylinderRequest, error) {
	return d.requests.List(ctx, statuses...)
}

// Select scopes the operator's form to requestID. Selecting a different
// request discards the previous form; reselecting the current one keeps it.
func (d *Desk) Select(ctx context.Context, rctx *model.RequestContext, requestID string) (model.IssuanceDescriptor, error) {
	req, err := d.requests.Get(ctx, requestID)
	if err != nil {
		return model.IssuanceDescriptor{}, err
	}
	if !req.Status.Open() {
		return model.IssuanceDescriptor{}, model.NewRequestClosedError(
			fmt.Sprintf("cylinder request %q is %s", requestID, req.Status),
		)
	}

	d.mu.Lock()
	form, ok := d.forms[rctx.OperatorID]
	if !ok || form.RequestID != requestID {
		f := model.NewIssuanceForm(requestID)
		form = &f
		d.forms[rctx.OperatorID] = form
	}
	snapshot := form.Clone()
	d.mu.Unlock()

	return describe(&req, snapshot), nil
}

// Form returns the operator's current form. With no request selected the
// descriptor has a nil request and an invalid verdict.
func (d *Desk) Form(ctx context.Context, rctx *model.RequestContext) (model.IssuanceDescriptor, error) {
	d.mu.Lock()
	form, ok := d.forms[rctx.OperatorID]
	var snapshot model.IssuanceForm
	if ok {
		snapshot = form.Clone()
	}
	d.mu.Unlock()

	if !ok {
		return model.IssuanceDescriptor{
			Form:    model.NewIssuanceForm(""),
			Verdict: model.ExchangeVerdict{Message: "Select a cylinder request"},
		}, nil
	}

	req, err := d.requests.Get(ctx, snapshot.RequestID)
	if err != nil {
		return model.IssuanceDescriptor{}, err
	}
	return describe(&req, snapshot), nil
}

// AdjustFull changes the full-cylinder counter by delta, clamping at zero.
func (d *Desk) AdjustFull(ctx context.Context, rctx *model.RequestContext, delta int) (model.IssuanceDescriptor, error) {
	return d.edit(ctx, rctx, func(f *model.IssuanceForm) error {
		f.AdjustFull(delta)
		return nil
	})
}

// AdjustEmpty changes the empty-cylinder counter by delta, clamping at zero.
func (d *Desk) AdjustEmpty(ctx context.Context, rctx *model.RequestContext, delta int) (model.IssuanceDescriptor, error) {
	return d.edit(ctx, rctx, func(f *model.IssuanceForm) error {
		f.AdjustEmpty(delta)
		return nil
	})
}

// AddTag appends a scanned tag to one side of the exchange. Blank tags are
// ignored.
func (d *Desk) AddTag(ctx context.Context, rctx *model.RequestContext, side model.TagSide, tag string) (model.IssuanceDescriptor, error) {
	return d.edit(ctx, rctx, func(f *model.IssuanceForm) error {
		tags := f.Tags(side)
		if tags == nil {
			return unknownSide(side)
		}
		tags.Add(tag)
		return nil
	})
}

// RemoveTag deletes the tag at index from one side. An out-of-range index is
// a no-op.
func (d *Desk) RemoveTag(ctx context.Context, rctx *model.RequestContext, side model.TagSide, index int) (model.IssuanceDescriptor, error) {
	return d.edit(ctx, rctx, func(f *model.IssuanceForm) error {
		tags := f.Tags(side)
		if tags == nil {
			return unknownSide(side)
		}
		tags.Remove(index)
		return nil
	})
}

// SetNotes replaces the form notes.
func (d *Desk) SetNotes(ctx context.Context, rctx *model.RequestContext, notes string) (model.IssuanceDescriptor, error) {
	return d.edit(ctx, rctx, func(f *model.IssuanceForm) error {
		f.Notes = notes
		return nil
	})
}

// Clear discards the operator's form.
func (d *Desk) Clear(rctx *model.RequestContext) {
	d.mu.Lock()
	delete(d.forms, rctx.OperatorID)
	d.mu.Unlock()
}

// Issue confirms the exchange on the operator's form: it moves stock, marks
// the request Completed and clears the form. A repeated confirmation with
// the same idempotency key returns the original record.
func (d *Desk) Issue(ctx context.Context, rctx *model.RequestContext, in IssueInput) (model.IssuanceRecord, error) {
	ctx, span := observability.StartSpan(ctx, "issuance.Issue",
		append(observability.OperatorAttrs(rctx), observability.AttrRequestID.String(in.RequestID))...)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	var idemKey, hash string
	if in.IdempotencyKey != "" && d.idempotency != nil {
		idemKey = FormatIdempotencyKey(rctx.OperatorID, in.IdempotencyKey)
		hash = hashIssueInput(in)
		cached, found, cerr := d.idempotency.Check(ctx, idemKey, hash)
		if cerr != nil {
			err = cerr
			return model.IssuanceRecord{}, err
		}
		if found && cached != nil {
			return *cached, nil
		}
	}

	d.mu.Lock()
	form, ok := d.forms[rctx.OperatorID]
	var snapshot model.IssuanceForm
	if ok {
		snapshot = form.Clone()
	}
	d.mu.Unlock()

	if !ok {
		err = model.NewNoRequestSelectedError()
		return model.IssuanceRecord{}, err
	}
	if in.RequestID != "" && in.RequestID != snapshot.RequestID {
		err = model.NewConflictError(fmt.Sprintf(
			"issuance form is scoped to request %q, not %q", snapshot.RequestID, in.RequestID,
		))
		return model.IssuanceRecord{}, err
	}

	req, err := d.requests.Get(ctx, snapshot.RequestID)
	if err != nil {
		return model.IssuanceRecord{}, err
	}
	span.SetAttributes(observability.AttrGas.String(string(req.Gas)))
	if !req.Status.Open() {
		err = model.NewRequestClosedError(fmt.Sprintf("cylinder request %q is %s", req.ID, req.Status))
		return model.IssuanceRecord{}, err
	}

	verdict := Verdict(req, snapshot)
	if !verdict.Valid {
		for _, obs := range d.observers {
			obs.OnExchangeRejected(ctx, req.Department)
		}
		err = model.NewExchangeInvalidError(verdict.Message)
		return model.IssuanceRecord{}, err
	}

	now := d.now()
	mv := model.StockMovement{
		Gas:        req.Gas,
		FullDelta:  -snapshot.FullCylindersIssued,
		EmptyDelta: snapshot.EmptyCylindersReceived,
		Reason:     inventory.ReasonIssuance,
		Reference:  req.ID,
		ActorID:    rctx.Actor(),
		Timestamp:  now,
	}
	if err = d.stock.Apply(ctx, mv); err != nil {
		return model.IssuanceRecord{}, err
	}

	logger := observability.RequestLogger(ctx, d.logger)
	if _, err = d.requests.Complete(ctx, req.ID, now); err != nil {
		// Another operator closed the request first; put the stock back.
		mv.FullDelta, mv.EmptyDelta = -mv.FullDelta, -mv.EmptyDelta
		mv.Reason = inventory.ReasonIssuanceReversal
		if rerr := d.stock.Apply(ctx, mv); rerr != nil {
			logger.Error("reverse issuance stock failed",
				zap.String("request_id", req.ID),
				zap.Error(rerr),
			)
		}
		return model.IssuanceRecord{}, err
	}

	record := model.IssuanceRecord{
		ID:                     uuid.New().String(),
		RequestID:              req.ID,
		Department:             req.Department,
		Gas:                    req.Gas,
		FullCylindersIssued:    snapshot.FullCylindersIssued,
		EmptyCylindersReceived: snapshot.EmptyCylindersReceived,
		IssuedTags:             snapshot.IssuedTags,
		ReceivedTags:           snapshot.ReceivedTags,
		Notes:                  strings.TrimSpace(snapshot.Notes),
		OperatorID:             rctx.Actor(),
		IssuedAt:               now,
	}

	d.mu.Lock()
	if cur, ok := d.forms[rctx.OperatorID]; ok && cur.RequestID == req.ID {
		delete(d.forms, rctx.OperatorID)
	}
	d.issued = append(d.issued, record)
	if len(d.issued) > maxIssuedHistory {
		d.issued = d.issued[len(d.issued)-maxIssuedHistory:]
	}
	d.mu.Unlock()

	if idemKey != "" {
		if serr := d.idempotency.Store(ctx, idemKey, hash, record, d.idemTTL); serr != nil {
			logger.Warn("store idempotency key failed", zap.String("key", idemKey), zap.Error(serr))
		}
	}

	for _, obs := range d.observers {
		obs.OnIssued(ctx, record)
	}
	logger.Info("cylinders issued",
		zap.String("request_id", req.ID),
		zap.String("department", req.Department),
		zap.String("gas", string(req.Gas)),
		zap.Int("full", record.FullCylindersIssued),
		zap.Int("empty", record.EmptyCylindersReceived),
	)
	return record, nil
}

// Issued returns confirmed issuances, newest first. A limit of zero returns
// every retained record.
func (d *Desk) Issued(limit int) []model.IssuanceRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.IssuanceRecord, 0, len(d.issued))
	for i := len(d.issued) - 1; i >= 0; i-- {
		out = append(out, d.issued[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// edit applies fn to the operator's form. The request must still be open.
func (d *Desk) edit(ctx context.Context, rctx *model.RequestContext, fn func(f *model.IssuanceForm) error) (model.IssuanceDescriptor, error) {
	d.mu.Lock()
	form, ok := d.forms[rctx.OperatorID]
	if !ok {
		d.mu.Unlock()
		return model.IssuanceDescriptor{}, model.NewNoRequestSelectedError()
	}
	if err := fn(form); err != nil {
		d.mu.Unlock()
		return model.IssuanceDescriptor{}, err
	}
	snapshot := form.Clone()
	d.mu.Unlock()

	req, err := d.requests.Get(ctx, snapshot.RequestID)
	if err != nil {
		return model.IssuanceDescriptor{}, err
	}
	return describe(&req, snapshot), nil
}

func describe(req *model.CylinderRequest, form model.IssuanceForm) model.IssuanceDescriptor {
	return model.IssuanceDescriptor{
		Request: req,
		Form:    form,
		Verdict: Verdict(*req, form),
	}
}

func unknownSide(side model.TagSide) error {
	return model.NewBadRequestError(fmt.Sprintf("unknown tag side %q (expected issued or received)", side))
}

func hashIssueInput(in IssueInput) string {
	sum := sha256.Sum256([]byte(in.RequestID))
	return hex.EncodeToString(sum[:])
}
