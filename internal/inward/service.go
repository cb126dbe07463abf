package inward

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pitabwire/cylinder-portal/internal/inventory"
	"github.com/pitabwire/cylinder-portal/internal/observability"
	"github.com/pitabwire/cylinder-portal/model"
)

const defaultPageSize = 20

// StockLedger receives the cylinder movements produced by completed
// shipments.
type StockLedger interface {
	Apply(ctx context.Context, movement model.StockMovement) error
}

// Observer receives lifecycle events from inward sessions. Implementations
// may record metrics or other telemetry.
type Observer interface {
	OnInwardStarted(ctx context.Context)
	OnStepChanged(ctx context.Context, from, to model.Step)
	OnShipmentCompleted(ctx context.Context, shipment model.CompletedShipment)
}

// Service drives inward sessions through the six-stage process.
type Service struct {
	store     SessionStore
	recorder  ShipmentRecorder
	stock     StockLedger
	observers []Observer
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures optional dependencies.
type Option func(*Service)

// WithStockLedger sets the ledger credited when a shipment completes.
func WithStockLedger(l StockLedger) Option {
	return func(s *Service) { s.stock = l }
}

// WithObserver adds an observer.
func WithObserver(obs Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, obs) }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an inward service.
func NewService(store SessionStore, recorder ShipmentRecorder, opts ...Option) *Service {
	s := &Service{
		store:    store,
		recorder: recorder,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ArrivalInput replaces the truck arrival record.
type ArrivalInput struct {
	TruckID     string     `json:"truck_id"`
	DriverName  string     `json:"driver_name"`
	ArrivalTime *time.Time `json:"arrival_time"`
}

// WeighingInput updates weighbridge readings. Nil fields are left as they
// are. Setting Net pins the net weight; ClearNetOverride returns it to gross
// minus tare and takes precedence over Net.
type WeighingInput struct {
	Gross            *decimal.Decimal `json:"gross_weight"`
	Tare             *decimal.Decimal `json:"tare_weight"`
	Net              *decimal.Decimal `json:"net_weight"`
	ClearNetOverride bool             `json:"clear_net_override"`
}

// TallyInput replaces the PO/invoice tally.
type TallyInput struct {
	PONumber      string        `json:"po_number"`
	InvoiceNumber string        `json:"invoice_number"`
	ItemCount     int           `json:"item_count"`
	Gas           model.GasType `json:"gas"`
}

// InspectionInput merges check results and optionally replaces the notes.
type InspectionInput struct {
	Checks map[string]model.QualityResult `json:"checks"`
	Notes  *string                        `json:"notes"`
}

// ListFilters select and page active sessions.
type ListFilters struct {
	OperatorID string
	Page       int
	PageSize   int
}

// CompletionResult is returned when a session is confirmed at the final
// step.
type CompletionResult struct {
	Shipment model.CompletedShipment `json:"shipment"`
	Session  model.InwardDescriptor  `json:"session"`
}

// Start opens a new session at the first stage with an empty record.
func (s *Service) Start(ctx context.Context, rctx *model.RequestContext) (model.InwardDescriptor, error) {
	ctx, span := observability.StartSpan(ctx, "inward.Start", observability.OperatorAttrs(rctx)...)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	now := s.now()
	sess := model.InwardSession{
		ID:          uuid.New().String(),
		PlantID:     rctx.PlantID,
		OperatorID:  rctx.OperatorID,
		CurrentStep: model.StepTruckArrival,
		Status:      model.SessionStatusActive,
		Record:      model.NewInwardRecord(),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.store.Create(ctx, sess); err != nil {
		return model.InwardDescriptor{}, err
	}
	if err = s.appendEvent(ctx, sess.ID, sess.CurrentStep, model.EventSessionStarted, rctx.Actor(), nil, ""); err != nil {
		return model.InwardDescriptor{}, err
	}

	for _, obs := range s.observers {
		obs.OnInwardStarted(ctx)
	}
	observability.RequestLogger(ctx, s.logger).Info("inward session started",
		zap.String("session_id", sess.ID),
	)
	return s.describe(ctx, sess)
}

// Get returns the session descriptor for the frontend.
func (s *Service) Get(ctx context.Context, rctx *model.RequestContext, sessionID string) (model.InwardDescriptor, error) {
	sess, err := s.store.Get(ctx, rctx.PlantID, sessionID)
	if err != nil {
		return model.InwardDescriptor{}, err
	}
	return s.describe(ctx, sess)
}

// List returns summaries of the plant's active sessions and the total count.
func (s *Service) List(ctx context.Context, rctx *model.RequestContext, filters ListFilters) ([]model.InwardSummary, int, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	page := filters.Page
	if page < 1 {
		page = 1
	}

	sessions, err := s.store.FindActive(ctx, rctx.PlantID, SessionFilters{
		OperatorID: filters.OperatorID,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	})
	if err != nil {
		return nil, 0, err
	}
	all, err := s.store.FindActive(ctx, rctx.PlantID, SessionFilters{OperatorID: filters.OperatorID})
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]model.InwardSummary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, model.InwardSummary{
			ID:                sess.ID,
			OperatorID:        sess.OperatorID,
			TruckID:           sess.Record.Arrival.TruckID,
			CurrentStep:       sess.CurrentStep,
			StepName:          sess.CurrentStep.String(),
			CompletionPercent: CompletionPercent(sess.CurrentStep),
			Status:            sess.Status,
			UpdatedAt:         sess.UpdatedAt,
		})
	}
	return summaries, len(all), nil
}

// UpdateArrival replaces the truck arrival record.
func (s *Service) UpdateArrival(ctx context.Context, rctx *model.RequestContext, sessionID string, in ArrivalInput) (model.InwardDescriptor, error) {
	return s.mutate(ctx, rctx, sessionID, "arrival", func(rec *model.InwardRecord) error {
		rec.Arrival = model.TruckArrival{
			TruckID:     strings.TrimSpace(in.TruckID),
			DriverName:  strings.TrimSpace(in.DriverName),
			ArrivalTime: in.ArrivalTime,
		}
		return nil
	})
}

// UpdateWeighing applies weighbridge readings. The net weight follows gross
// minus tare until overridden.
func (s *Service) UpdateWeighing(ctx context.Context, rctx *model.RequestContext, sessionID string, in WeighingInput) (model.InwardDescriptor, error) {
	var details []model.FieldError
	for field, v := range map[string]*decimal.Decimal{
		"gross_weight": in.Gross,
		"tare_weight":  in.Tare,
		"net_weight":   in.Net,
	} {
		if v != nil && v.IsNegative() {
			details = append(details, model.FieldError{Field: field, Code: "NEGATIVE", Message: "Weight cannot be negative"})
		}
	}
	if len(details) > 0 {
		sortFieldErrors(details)
		return model.InwardDescriptor{}, model.NewValidationError(details)
	}

	return s.mutate(ctx, rctx, sessionID, "weighing", func(rec *model.InwardRecord) error {
		w := &rec.Weighing
		if in.Gross != nil {
			w.SetGross(*in.Gross)
		}
		if in.Tare != nil {
			w.SetTare(*in.Tare)
		}
		switch {
		case in.ClearNetOverride:
			w.ClearNetOverride()
		case in.Net != nil:
			w.OverrideNet(*in.Net)
		}
		return nil
	})
}

// UpdateTally replaces the PO/invoice tally.
func (s *Service) UpdateTally(ctx context.Context, rctx *model.RequestContext, sessionID string, in TallyInput) (model.InwardDescriptor, error) {
	var details []model.FieldError
	if in.ItemCount < 0 {
		details = append(details, model.FieldError{Field: "item_count", Code: "NEGATIVE", Message: "Item count cannot be negative"})
	}
	if in.Gas != "" && !in.Gas.Valid() {
		details = append(details, model.FieldError{Field: "gas", Code: "INVALID", Message: fmt.Sprintf("Unknown gas type %q", in.Gas)})
	}
	if len(details) > 0 {
		return model.InwardDescriptor{}, model.NewValidationError(details)
	}

	return s.mutate(ctx, rctx, sessionID, "tally", func(rec *model.InwardRecord) error {
		rec.Tally = model.Tally{
			PONumber:      strings.TrimSpace(in.PONumber),
			InvoiceNumber: strings.TrimSpace(in.InvoiceNumber),
			ItemCount:     in.ItemCount,
			Gas:           in.Gas,
		}
		return nil
	})
}

// UpdateInspection merges quality check results into the record.
func (s *Service) UpdateInspection(ctx context.Context, rctx *model.RequestContext, sessionID string, in InspectionInput) (model.InwardDescriptor, error) {
	var details []model.FieldError
	for id, result := range in.Checks {
		if !knownCheck(id) {
			details = append(details, model.FieldError{Field: "checks." + id, Code: "UNKNOWN_CHECK", Message: "Unknown quality check"})
			continue
		}
		if !result.Valid() {
			details = append(details, model.FieldError{Field: "checks." + id, Code: "INVALID", Message: "Result must be pass or fail"})
		}
	}
	if len(details) > 0 {
		sortFieldErrors(details)
		return model.InwardDescriptor{}, model.NewValidationError(details)
	}

	return s.mutate(ctx, rctx, sessionID, "inspection", func(rec *model.InwardRecord) error {
		for id, result := range in.Checks {
			rec.Inspection.Checks[id] = result
		}
		if in.Notes != nil {
			rec.Notes = *in.Notes
		}
		return nil
	})
}

// AddTag appends an RFID tag. Blank tags are ignored.
func (s *Service) AddTag(ctx context.Context, rctx *model.RequestContext, sessionID, tag string) (model.InwardDescriptor, error) {
	return s.update(ctx, rctx, sessionID, func(sess *model.InwardSession) (string, map[string]any, error) {
		if !sess.Record.Tagging.Tags.Add(tag) {
			return "", nil, nil
		}
		return model.EventTagAdded, map[string]any{"tag": strings.TrimSpace(tag)}, nil
	})
}

// RemoveTag deletes the tag at index. An out-of-range index is a no-op.
func (s *Service) RemoveTag(ctx context.Context, rctx *model.RequestContext, sessionID string, index int) (model.InwardDescriptor, error) {
	return s.update(ctx, rctx, sessionID, func(sess *model.InwardSession) (string, map[string]any, error) {
		tags := sess.Record.Tagging.Tags
		if index < 0 || index >= len(tags) {
			return "", nil, nil
		}
		removed := tags[index]
		sess.Record.Tagging.Tags.Remove(index)
		return model.EventTagRemoved, map[string]any{"tag": removed, "index": index}, nil
	})
}

// Next advances to the following stage. At the final stage it is a no-op.
func (s *Service) Next(ctx context.Context, rctx *model.RequestContext, sessionID string) (model.InwardDescriptor, error) {
	return s.navigate(ctx, rctx, sessionID, (*Stepper).Advance)
}

// Previous returns to the preceding stage. At the first stage it is a no-op.
func (s *Service) Previous(ctx context.Context, rctx *model.RequestContext, sessionID string) (model.InwardDescriptor, error) {
	return s.navigate(ctx, rctx, sessionID, (*Stepper).Retreat)
}

// Complete hands the finished record to the shipment recorder, credits the
// received cylinders to stock, and resets the session to the first stage
// with an empty record. It is only valid at the final stage.
func (s *Service) Complete(ctx context.Context, rctx *model.RequestContext, sessionID string) (CompletionResult, error) {
	ctx, span := observability.StartSpan(ctx, "inward.Complete",
		observability.AttrSessionID.String(sessionID),
	)
	var err error
	defer func() { observability.EndSpanWithError(span, err) }()

	sess, err := s.loadActive(ctx, rctx, sessionID)
	if err != nil {
		return CompletionResult{}, err
	}

	stepper := &Stepper{Current: sess.CurrentStep}
	if !stepper.CanComplete() {
		err = model.NewInvalidTransitionError(
			fmt.Sprintf("session %q is at %q; shipments can only be completed at %q",
				sessionID, sess.CurrentStep, model.StepComplete),
		)
		return CompletionResult{}, err
	}

	now := s.now()
	shipment := model.CompletedShipment{
		ID:          uuid.New().String(),
		SessionID:   sess.ID,
		PlantID:     sess.PlantID,
		OperatorID:  rctx.Actor(),
		Gas:         sess.Record.Tally.Gas,
		Record:      sess.Record.Clone(),
		CompletedAt: now,
	}

	// Persisting the reset first claims the completion: a concurrent
	// confirmation loses on the version check before anything is recorded.
	original := sess
	original.Record = sess.Record.Clone()
	stepper.Reset()
	sess.CurrentStep = stepper.Current
	sess.Record = model.NewInwardRecord()
	sess.CompletedCount++
	if err = s.store.Update(ctx, sess); err != nil {
		return CompletionResult{}, err
	}
	sess.Version++

	logger := observability.RequestLogger(ctx, s.logger)
	if err = s.recorder.Record(ctx, shipment); err != nil {
		err = fmt.Errorf("record shipment: %w", err)
		original.Version = sess.Version
		if rerr := s.store.Update(ctx, original); rerr != nil {
			logger.Error("restore inward session after failed recording",
				zap.String("session_id", sess.ID),
				zap.Error(rerr),
			)
		}
		return CompletionResult{}, err
	}

	if s.stock != nil && shipment.Gas.Valid() && shipment.Record.Tally.ItemCount > 0 {
		mv := model.StockMovement{
			Gas:       shipment.Gas,
			FullDelta: shipment.Record.Tally.ItemCount,
			Reason:    inventory.ReasonInward,
			Reference: shipment.ID,
			ActorID:   rctx.Actor(),
			Timestamp: now,
		}
		if serr := s.stock.Apply(ctx, mv); serr != nil {
			logger.Error("credit inward stock failed",
				zap.String("shipment_id", shipment.ID),
				zap.Error(serr),
			)
		}
	}

	if err = s.appendEvent(ctx, sess.ID, model.StepComplete, model.EventShipmentComplete, rctx.Actor(),
		map[string]any{"shipment_id": shipment.ID}, ""); err != nil {
		return CompletionResult{}, err
	}
	if err = s.appendEvent(ctx, sess.ID, sess.CurrentStep, model.EventStepEntered, rctx.Actor(), nil, ""); err != nil {
		return CompletionResult{}, err
	}

	for _, obs := range s.observers {
		obs.OnShipmentCompleted(ctx, shipment)
	}
	logger.Info("inward shipment completed",
		zap.String("session_id", sess.ID),
		zap.String("shipment_id", shipment.ID),
		zap.String("truck_id", shipment.Record.Arrival.TruckID),
		zap.String("net_weight", shipment.Record.Weighing.NetWeight.String()),
	)

	desc, err := s.describe(ctx, sess)
	if err != nil {
		return CompletionResult{}, err
	}
	return CompletionResult{Shipment: shipment, Session: desc}, nil
}

// Cancel closes an active session without recording a shipment.
func (s *Service) Cancel(ctx context.Context, rctx *model.RequestContext, sessionID, reason string) error {
	sess, err := s.loadActive(ctx, rctx, sessionID)
	if err != nil {
		return err
	}

	sess.Status = model.SessionStatusCancelled
	if err := s.appendEvent(ctx, sess.ID, sess.CurrentStep, model.EventSessionCancelled, rctx.Actor(), nil, reason); err != nil {
		return err
	}
	return s.store.Update(ctx, sess)
}

// Shipments returns the plant's completed shipments, newest first.
func (s *Service) Shipments(ctx context.Context, rctx *model.RequestContext, limit int) ([]model.CompletedShipment, error) {
	return s.recorder.List(ctx, rctx.PlantID, limit)
}

func (s *Service) navigate(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID string,
	move func(*Stepper) bool,
) (model.InwardDescriptor, error) {
	ctx, span := observability.StartSpan(ctx, "inward.Navigate",
		observability.AttrSessionID.String(sessionID),
	)
	defer span.End()

	var from model.Step
	desc, err := s.update(ctx, rctx, sessionID, func(sess *model.InwardSession) (string, map[string]any, error) {
		from = sess.CurrentStep
		stepper := &Stepper{Current: sess.CurrentStep}
		if !move(stepper) {
			return "", nil, nil
		}
		sess.CurrentStep = stepper.Current
		return model.EventStepEntered, map[string]any{"from": int(from)}, nil
	})
	if err != nil {
		return model.InwardDescriptor{}, err
	}
	span.SetAttributes(observability.AttrStep.Int(int(desc.CurrentStep.Order)))
	if desc.CurrentStep.Order != from {
		for _, obs := range s.observers {
			obs.OnStepChanged(ctx, from, desc.CurrentStep.Order)
		}
	}
	return desc, nil
}

// mutate applies fn to the session's record and records a record_updated
// event tagged with section.
func (s *Service) mutate(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID, section string,
	fn func(rec *model.InwardRecord) error,
) (model.InwardDescriptor, error) {
	return s.update(ctx, rctx, sessionID, func(sess *model.InwardSession) (string, map[string]any, error) {
		if err := fn(&sess.Record); err != nil {
			return "", nil, err
		}
		return model.EventRecordUpdated, map[string]any{"section": section}, nil
	})
}

// update loads an active session, applies fn and persists the result. When
// fn returns an empty event name nothing changed and nothing is written.
func (s *Service) update(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID string,
	fn func(sess *model.InwardSession) (event string, data map[string]any, err error),
) (model.InwardDescriptor, error) {
	sess, err := s.loadActive(ctx, rctx, sessionID)
	if err != nil {
		return model.InwardDescriptor{}, err
	}

	event, data, err := fn(&sess)
	if err != nil {
		return model.InwardDescriptor{}, err
	}
	if event == "" {
		return s.describe(ctx, sess)
	}

	if err := s.store.Update(ctx, sess); err != nil {
		return model.InwardDescriptor{}, err
	}
	if err := s.appendEvent(ctx, sess.ID, sess.CurrentStep, event, rctx.Actor(), data, ""); err != nil {
		return model.InwardDescriptor{}, err
	}
	return s.describe(ctx, sess)
}

func (s *Service) loadActive(ctx context.Context, rctx *model.RequestContext, sessionID string) (model.InwardSession, error) {
	sess, err := s.store.Get(ctx, rctx.PlantID, sessionID)
	if err != nil {
		return model.InwardSession{}, err
	}
	if sess.Status != model.SessionStatusActive {
		return model.InwardSession{}, model.NewSessionNotActiveError(
			fmt.Sprintf("inward session %q is %s, not active", sessionID, sess.Status),
		)
	}
	return sess, nil
}

func (s *Service) describe(ctx context.Context, sess model.InwardSession) (model.InwardDescriptor, error) {
	stepper := &Stepper{Current: sess.CurrentStep}

	steps := make([]model.StepSummary, 0, model.StepCount)
	missing := make(map[string][]string)
	for _, step := range model.AllSteps {
		steps = append(steps, stepSummary(step, stepper.Status(step)))
		if m := sess.Record.Missing(step); len(m) > 0 {
			missing[step.Key()] = m
		}
	}

	events, err := s.store.GetEvents(ctx, sess.PlantID, sess.ID)
	if err != nil {
		return model.InwardDescriptor{}, err
	}
	history := make([]model.HistoryEntry, 0, len(events))
	for _, evt := range events {
		history = append(history, model.HistoryEntry{
			StepName:  evt.Step.String(),
			Event:     evt.Event,
			Actor:     evt.ActorID,
			Timestamp: evt.Timestamp.Format(time.RFC3339),
			Comment:   evt.Comment,
		})
	}

	return model.InwardDescriptor{
		ID:                sess.ID,
		Status:            sess.Status,
		CurrentStep:       stepSummary(sess.CurrentStep, model.StepStatusActive),
		CompletionPercent: stepper.CompletionPercent(),
		CanComplete:       stepper.CanComplete(),
		Steps:             steps,
		Record:            sess.Record,
		QualityChecks:     model.DefaultQualityChecks,
		Missing:           missing,
		CompletedCount:    sess.CompletedCount,
		History:           history,
	}, nil
}

func (s *Service) appendEvent(
	ctx context.Context,
	sessionID string,
	step model.Step,
	event, actorID string,
	data map[string]any,
	comment string,
) error {
	return s.store.AppendEvent(ctx, model.InwardEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Step:      step,
		Event:     event,
		ActorID:   actorID,
		Data:      data,
		Comment:   comment,
		Timestamp: s.now(),
	})
}

func stepSummary(step model.Step, status model.StepStatus) model.StepSummary {
	return model.StepSummary{
		Order:  step,
		Key:    step.Key(),
		Name:   step.String(),
		Status: status,
	}
}

func knownCheck(id string) bool {
	for _, c := range model.DefaultQualityChecks {
		if c.ID == id {
			return true
		}
	}
	return false
}

func sortFieldErrors(details []model.FieldError) {
	slices.SortFunc(details, func(a, b model.FieldError) int {
		return strings.Compare(a.Field, b.Field)
	})
}
