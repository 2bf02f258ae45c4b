// Command expire-quotes runs one expiry sweep and exits. For deployments
// that prefer cron over the in-process ticker.
package main

import (
	"context"
	"flag"
	"time"

	"crosspay/internal/app"
	"crosspay/internal/config"
	"crosspay/internal/db"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if err := db.InitDB(); err != nil {
		logrus.WithError(err).Fatal("failed to initialize database")
	}

	container, err := app.InitializeContainer()
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize services")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	count, err := container.QuoteExpiryService.RunOnce(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("expiry sweep failed")
	}
	logrus.WithField("expired", count).Info("expiry sweep complete")
}
