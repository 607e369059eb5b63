package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner followed by a one-line summary of
// where the service listens and which lock backend the queue will use
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("Gramflow", LoadVersionFromFile())

	locks := "badger (process-local)"
	if config.Redis.Addr != "" {
		locks = "redis " + config.Redis.Addr
	}

	logger.Info().
		Str("listen", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Str("environment", config.Environment).
		Str("account_locks", locks).
		Int("workers", config.Queue.Concurrency).
		Msg("Gramflow ready to start")
}
