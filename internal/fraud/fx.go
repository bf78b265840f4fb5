package fraud

import (
	"github.com/smallbiznis/donorflow/internal/fraud/repository"
	"github.com/smallbiznis/donorflow/internal/fraud/scorer"
	"github.com/smallbiznis/donorflow/internal/fraud/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fraud",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewHistoryReader),
	fx.Provide(scorer.New),
	fx.Provide(service.New),
)
