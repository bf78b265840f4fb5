package newsletter

import (
	"github.com/smallbiznis/donorflow/internal/newsletter/repository"
	"github.com/smallbiznis/donorflow/internal/newsletter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("newsletter.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
