package billingcycle

import (
	"github.com/stratusbill/walletd/internal/billingcycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billingcycle",
	fx.Provide(service.NewService),
)
