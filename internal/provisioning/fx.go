package provisioning

import (
	"github.com/stratusbill/walletd/internal/provisioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning",
	fx.Provide(service.NewService),
)
