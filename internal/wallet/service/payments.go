package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/stratusbill/walletd/internal/config"
	"github.com/stratusbill/walletd/internal/wallet/domain"
	"go.uber.org/zap"
)

// SimulatedPaymentExecutor approves every charge without moving money. Used
// outside production so auto top-up flows can be exercised end to end.
type SimulatedPaymentExecutor struct {
	log *zap.Logger
}

func (e *SimulatedPaymentExecutor) Execute(ctx context.Context, orgID snowflake.ID, amountCents int64) error {
	e.log.Info("simulated payment approved",
		zap.String("org_id", orgID.String()),
		zap.Int64("amount_cents", amountCents),
	)
	return nil
}

// UnconfiguredPaymentExecutor rejects every charge. Production deployments
// must replace it with a real gateway integration; the gap is explicit.
type UnconfiguredPaymentExecutor struct{}

func (UnconfiguredPaymentExecutor) Execute(ctx context.Context, orgID snowflake.ID, amountCents int64) error {
	return domain.ErrGatewayUnavailable
}

func NewPaymentExecutor(cfg config.Config, log *zap.Logger) domain.PaymentExecutor {
	if cfg.IsProduction() {
		return UnconfiguredPaymentExecutor{}
	}
	return &SimulatedPaymentExecutor{log: log.Named("wallet.payments")}
}
