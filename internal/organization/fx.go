package organization

import (
	"github.com/smallbiznis/donorflow/internal/organization/repository"
	"github.com/smallbiznis/donorflow/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewConnectGateway),
	fx.Provide(service.New),
)
