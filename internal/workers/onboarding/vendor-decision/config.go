// internal/workers/onboarding/vendor-decision/config.go
package vendordecision

import (
	"time"

	"diligence-engine/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func ConfigFromWorker(wc config.WorkerConfig) *Config {
	timeout := config.GetDuration(wc.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Config{Timeout: timeout}
}
