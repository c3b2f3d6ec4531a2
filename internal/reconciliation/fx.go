package reconciliation

import (
	"github.com/stratusbill/walletd/internal/reconciliation/repository"
	"github.com/stratusbill/walletd/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
