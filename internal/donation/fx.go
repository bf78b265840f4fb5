package donation

import (
	"github.com/smallbiznis/donorflow/internal/donation/repository"
	"github.com/smallbiznis/donorflow/internal/donation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("donation",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
