// internal/workers/analysis/analyze-pitch/config.go
package analyzepitch

import (
	"time"

	"diligence-engine/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

// ConfigFromWorker derives the handler config from the worker's entry in
// the application config.
func ConfigFromWorker(wc config.WorkerConfig) *Config {
	timeout := config.GetDuration(wc.Timeout)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Config{Timeout: timeout}
}
