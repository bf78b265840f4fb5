package observability

import (
	"strings"

	"github.com/smallbiznis/donorflow/internal/config"
)

// Config is the observability view of the process configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	out := Config{
		ServiceName:          firstNonEmpty(cfg.AppName, "donorflow"),
		Environment:          firstNonEmpty(obs.DeploymentEnv, cfg.Environment),
		Version:              firstNonEmpty(obs.ServiceVersion, cfg.AppVersion),
		LogLevel:             firstNonEmpty(obs.LogLevel, "info"),
		LogFormat:            firstNonEmpty(obs.LogFormat, "json"),
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: firstNonEmpty(obs.OtelEndpoint, cfg.OTLPEndpoint),
		OtelExporterProtocol: firstNonEmpty(obs.OtelProtocol, "grpc"),
		OtelSamplingRatio:    obs.OtelSampling,
	}
	// Out-of-range ratios fall back to 10%.
	if out.OtelSamplingRatio <= 0 || out.OtelSamplingRatio > 1 {
		out.OtelSamplingRatio = 0.1
	}
	return out
}

// Debug turns on verbose request logs and stack traces.
func (c Config) Debug() bool {
	if strings.EqualFold(c.LogLevel, "debug") {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
