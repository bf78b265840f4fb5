package providers

import (
	"github.com/smallbiznis/donorflow/internal/providers/email"
	"github.com/smallbiznis/donorflow/internal/providers/pdf"
	"github.com/smallbiznis/donorflow/internal/providers/storage"
	"go.uber.org/fx"
)

// Module groups the outbound adapters: SMTP, PDF rendering and receipt archive.
var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
	storage.Module,
)
