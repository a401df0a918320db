package service

import (
	"context"
	"errors"
	"fmt"

	"bikeshop/internal/model"
	"bikeshop/internal/payment"
	"bikeshop/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// reconciliationService implements ReconciliationService.
type reconciliationService struct {
	orderRepo repository.OrderRepository
	ledger    *StockLedger
	gateway   payment.Gateway
	logger    zerolog.Logger
}

// NewReconciliationService creates the payment callback reconciler.
func NewReconciliationService(
	orderRepo repository.OrderRepository,
	ledger *StockLedger,
	gateway payment.Gateway,
	logger zerolog.Logger,
) ReconciliationService {
	return &reconciliationService{
		orderRepo: orderRepo,
		ledger:    ledger,
		gateway:   gateway,
		logger:    logger.With().Str("service", "reconciliation").Logger(),
	}
}

// HandlePayment applies one payment notification. The callback payload is
// never trusted: status and order reference come from the gateway.
func (s *reconciliationService) HandlePayment(ctx context.Context, paymentID string) (Outcome, error) {
	log := s.logger.With().Str("payment_id", paymentID).Logger()

	if paymentID == "" {
		log.Warn().Msg("payment callback without payment id")
		return OutcomeIgnored, nil
	}

	info, err := s.gateway.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			log.Warn().Msg("callback for unknown payment")
			return OutcomeIgnored, nil
		}
		log.Error().Err(err).Msg("failed to fetch payment from gateway")
		return "", model.NewExternalError("failed to fetch payment status", err)
	}

	orderID, err := uuid.Parse(info.ExternalReference)
	if err != nil {
		log.Warn().Str("external_reference", info.ExternalReference).Msg("payment does not reference an order")
		return OutcomeIgnored, nil
	}

	log = log.With().Str("order_id", orderID.String()).Str("gateway_status", info.RawStatus).Logger()

	switch info.Status {
	case payment.StatusApproved:
		return s.applyApproved(ctx, orderID, paymentID, log)
	case payment.StatusRejected, payment.StatusCancelled:
		return s.applyRejected(ctx, orderID, paymentID, log)
	default:
		log.Info().Msg("payment status needs no action")
		return OutcomeIgnored, nil
	}
}

func (s *reconciliationService) applyApproved(ctx context.Context, orderID uuid.UUID, paymentID string, log zerolog.Logger) (Outcome, error) {
	claimed, err := s.orderRepo.ClaimPayment(ctx, orderID, paymentID)
	if err != nil {
		return "", fmt.Errorf("failed to claim payment: %w", err)
	}

	if !claimed {
		order, err := s.orderRepo.GetByID(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("failed to load order: %w", err)
		}
		switch {
		case order == nil:
			log.Warn().Msg("approved payment for unknown order")
			return OutcomeIgnored, nil
		case order.Status == model.OrderCancelled:
			log.Error().Msg("payment approved for a cancelled order, refund required")
		default:
			log.Info().Str("status", string(order.Status)).Msg("duplicate approval ignored")
		}
		return OutcomeDuplicate, nil
	}

	// This caller owns the one stock deduction for the order.
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err == nil && order == nil {
		err = model.NewInconsistencyError("claimed order disappeared")
	}
	if err != nil {
		s.release(ctx, orderID, log)
		return "", fmt.Errorf("failed to load claimed order: %w", err)
	}

	err = s.ledger.DeductAll(ctx, order.StockChanges())
	switch {
	case err == nil:
		return s.markDeducted(ctx, order, log)

	case errors.Is(err, model.ErrStockConflict):
		if recErr := s.orderRepo.RecordStockShortfall(ctx, orderID); recErr != nil {
			s.release(ctx, orderID, log)
			return "", fmt.Errorf("failed to record stock shortfall: %w", recErr)
		}
		if cur, getErr := s.orderRepo.GetByID(ctx, orderID); getErr == nil && cur != nil && cur.Status == model.OrderCancelled {
			log.Error().Msg("order cancelled while payment was applied, refund required")
			return OutcomeRefundRequired, nil
		}
		log.Error().Err(err).Msg("order paid but stock is short, staff action required")
		return OutcomeShortfall, nil

	default:
		s.release(ctx, orderID, log)
		return "", err
	}
}

// markDeducted commits a finished deduction. A cancellation that landed after
// the claim restored nothing, so the units just taken are handed back here.
func (s *reconciliationService) markDeducted(ctx context.Context, order *model.Order, log zerolog.Logger) (Outcome, error) {
	bg := context.WithoutCancel(ctx)
	marked, err := s.orderRepo.MarkStockDeducted(bg, order.ID)
	if err != nil {
		if restoreErr := s.ledger.RestoreAll(bg, order.StockChanges()); restoreErr != nil {
			log.Error().Err(restoreErr).Msg("stock restore after failed commit incomplete, manual correction required")
		}
		s.release(ctx, order.ID, log)
		return "", err
	}
	if !marked {
		if err := s.ledger.RestoreAll(bg, order.StockChanges()); err != nil {
			log.Error().Err(err).Msg("stock restore for cancelled order incomplete, manual correction required")
		}
		log.Error().Msg("order cancelled while payment was applied, refund required")
		return OutcomeRefundRequired, nil
	}

	log.Info().Int("item_count", len(order.Items)).Msg("payment applied, stock deducted")
	return OutcomeApplied, nil
}

// release hands the claim back so the gateway's retry can try again.
func (s *reconciliationService) release(ctx context.Context, orderID uuid.UUID, log zerolog.Logger) {
	if err := s.orderRepo.ReleasePaymentClaim(context.WithoutCancel(ctx), orderID); err != nil {
		log.Error().Err(err).Msg("failed to release payment claim, order needs manual reconciliation")
		return
	}
	log.Warn().Msg("payment claim released for retry")
}

func (s *reconciliationService) applyRejected(ctx context.Context, orderID uuid.UUID, paymentID string, log zerolog.Logger) (Outcome, error) {
	res, err := s.orderRepo.CancelByGateway(ctx, orderID, paymentID)
	if err != nil {
		return "", fmt.Errorf("failed to cancel order: %w", err)
	}

	if !res.Applied {
		order, err := s.orderRepo.GetByID(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("failed to load order: %w", err)
		}
		if order == nil {
			log.Warn().Msg("rejected payment for unknown order")
			return OutcomeIgnored, nil
		}
		log.Info().Str("status", string(order.Status)).Msg("stale or duplicate rejection ignored")
		return OutcomeDuplicate, nil
	}

	if res.RestoreStock {
		order, err := s.orderRepo.GetByID(ctx, orderID)
		if err == nil && order != nil {
			err = s.ledger.RestoreAll(ctx, order.StockChanges())
		}
		if err != nil {
			// The cancellation is committed and will not be handed out again;
			// a retry could not restore anything.
			log.Error().Err(err).Msg("order cancelled but stock restore incomplete, manual correction required")
		}
	}

	log.Info().Bool("stock_restored", res.RestoreStock).Msg("order cancelled by gateway")
	return OutcomeCancelled, nil
}
