package billingrecord

import (
	"github.com/stratusbill/walletd/internal/billingrecord/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("billingrecord",
	fx.Provide(repository.Provide),
)
