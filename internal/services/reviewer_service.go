package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/lionbidi/storefront/internal/domain"
	"github.com/lionbidi/storefront/internal/repositories"
)

// MaxVerificationNotesLength bounds reviewer notes in characters.
const MaxVerificationNotesLength = 500

// ReviewerServiceDeps bundles collaborators for reviewer decisions.
type ReviewerServiceDeps struct {
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Events     OrderEventPublisher
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// ReviewerService records verify or reject decisions on pending payments.
type ReviewerService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	sanitizer  *bluemonday.Policy
}

// NewReviewerService wires a ReviewerService.
func NewReviewerService(deps ReviewerServiceDeps) (*ReviewerService, error) {
	if deps.Orders == nil {
		return nil, errors.New("reviewer service: order repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &ReviewerService{
		orders:     deps.Orders,
		unitOfWork: unit,
		clock:      func() time.Time { return clock().UTC() },
		events:     deps.Events,
		logger:     logger,
		sanitizer:  bluemonday.StrictPolicy(),
	}, nil
}

// Decide records the verdict. Only a payment pending verification can be decided; any later call
// fails with ErrDecisionAlreadyRecorded and leaves the order untouched.
func (s *ReviewerService) Decide(ctx context.Context, cmd DecisionCommand) (domain.Order, error) {
	reviewer := strings.TrimSpace(cmd.ReviewerID)
	if reviewer == "" {
		return domain.Order{}, ErrUnauthenticated
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrDecisionInvalidInput)
	}
	if cmd.Verdict != VerdictVerified && cmd.Verdict != VerdictRejected {
		return domain.Order{}, fmt.Errorf("%w: unknown verdict %q", ErrDecisionInvalidInput, cmd.Verdict)
	}
	notes := s.sanitizeNotes(cmd.Notes)
	visible := html.UnescapeString(notes)
	if utf8.RuneCountInString(visible) > MaxVerificationNotesLength {
		return domain.Order{}, fmt.Errorf("%w: notes exceed %d characters", ErrDecisionInvalidInput, MaxVerificationNotesLength)
	}
	if cmd.Verdict == VerdictRejected && strings.TrimSpace(visible) == "" {
		return domain.Order{}, fmt.Errorf("%w: rejection reason is required", ErrDecisionInvalidInput)
	}

	var (
		updated  domain.Order
		previous domain.OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if order.Payment.Status != domain.PaymentStatusPendingVerification {
			return fmt.Errorf("%w: payment status is %s", ErrDecisionAlreadyRecorded, order.Payment.Status)
		}
		target := domain.OrderStatusConfirmed
		if cmd.Verdict == VerdictRejected {
			target = domain.OrderStatusVerificationFailed
		}
		if !domain.CanTransition(order.Status, target) {
			return fmt.Errorf("%w: cannot move order from %s to %s", ErrOrderInvalidState, order.Status, target)
		}
		now := s.clock()
		previous = order.Status
		order.Payment.ReviewedBy = reviewer
		order.Payment.VerificationNotes = notes
		order.UpdatedAt = now
		order.Status = target
		if cmd.Verdict == VerdictVerified {
			order.Payment.Status = domain.PaymentStatusVerified
			order.Payment.VerifiedAt = &now
		} else {
			order.Payment.Status = domain.PaymentStatusVerificationFailed
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	eventType := orderEventPaymentVerified
	if cmd.Verdict == VerdictRejected {
		eventType = orderEventPaymentRejected
	}
	publishEvent(ctx, s.events, s.logger, OrderEvent{
		Type:           eventType,
		OrderID:        updated.ID,
		OrderNumber:    updated.OrderNumber,
		UserID:         updated.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		PaymentStatus:  string(updated.Payment.Status),
		ActorID:        reviewer,
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

// sanitizeNotes strips markup and keeps the result HTML-escaped, so notes are safe to render as-is.
func (s *ReviewerService) sanitizeNotes(raw string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(raw))
}
