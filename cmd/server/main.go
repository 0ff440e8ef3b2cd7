// cmd/server/main.go
package main

import (
	"context"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wisher-game/wisher/internal/auth"
	"github.com/wisher-game/wisher/internal/cache"
	"github.com/wisher-game/wisher/internal/database"
	"github.com/wisher-game/wisher/internal/handlers"
)

const releaseVersion = "0.1.0"

func main() {
	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func serve(ctx context.Context, cfg *Config) error {
	logger := logrus.New()
	if cfg.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	auth.Init()
	database.ConnectDB()
	if err := database.Migrate(ctx); err != nil {
		return err
	}

	if cfg.withRedis {
		if err := cache.ConnectRedis(); err != nil {
			// Round history is a nice-to-have; the game runs without it.
			logger.WithError(err).Warn("redis unavailable, round history disabled")
		}
	}

	srv := handlers.NewServer(logger, database.Recorder{}, cfg.baseURL)

	logger.Infof("Running on %s", cfg.addr())
	return http.ListenAndServe(cfg.addr(), srv.Routes())
}
