package wallet

import (
	"github.com/stratusbill/walletd/internal/wallet/repository"
	"github.com/stratusbill/walletd/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewPaymentExecutor),
	fx.Provide(service.NewService),
)
