package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/krishkpatil/CreditUdaan/internal/api"
	"github.com/krishkpatil/CreditUdaan/internal/config"
	"github.com/krishkpatil/CreditUdaan/internal/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (env CREDIT_CONFIG)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg.Logging.Apply()
	metrics.Init()

	if dir := filepath.Dir(cfg.Store.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("create data directory: %v", err)
		}
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"port":  cfg.Server.Port,
		"store": cfg.Store.Path,
	}).Info("starting creditudaan backend")
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
