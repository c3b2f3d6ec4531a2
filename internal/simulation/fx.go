package simulation

import "go.uber.org/fx"

var Module = fx.Module("simulation",
	fx.Provide(New),
)
