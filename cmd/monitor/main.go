package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/energy-bypass-monitor/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	// Load .env file - flexible path for both Linux (pods/containers) and Windows
	envPaths := []string{
		".env",                     // working directory of the pod or container
		"../../.env",               // binary started from bin/
		filepath.Join(".", ".env"), // explicit current dir
	}

	// Walk up from the working directory so `go run ./cmd/monitor` finds the repo .env
	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		grandParentDir := filepath.Dir(parentDir)

		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(grandParentDir, ".env"),
		)
	}

	envLoaded := false
	for _, envPath := range envPaths {
		// Skip missing candidates quietly
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				absPath, _ := filepath.Abs(envPath)
				fmt.Printf("Loaded environment from: %s\n", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		fmt.Println("No .env file found, using system environment variables (OK for pods/containers)")
	}

	// Optional infrastructure (RabbitMQ, Redis, InfluxDB) is provided as nil
	// when disabled; consumers check before attaching it
	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideValidator,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideRedisClient,
			ProvideLimiter,
			ProvideMailTransport,
			ProvideDispatcher,
			ProvideRegistry,
			ProvideWatchdog,
			ProvideInfluxClient,
			ProvideLiveCache,
			ProvideFeedSource,
			ProvideHub,
			ProvidePipeline,
			ProvideCustomerService,
			ProvideHandler,
		),
		fx.Invoke(startMonitor, startHTTPServer),
	)

	// Shut down on Ctrl+C or the orchestrator's SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Bootstrap logger, usable before config has loaded
	tempLogger, _ := newLogger(&config.Config{ServiceName: "bypass-monitor"})
	tempLogger.Info("starting application...", zap.String("timeout", "30s"))

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		// A hung dial usually shows up as a start timeout
		if startCtx.Err() == context.DeadlineExceeded {
			tempLogger.Error("APPLICATION START TIMEOUT: Failed to start within 30 seconds. This usually means a dependency (Database, RabbitMQ, MQTT, Kafka, Redis or InfluxDB) is not accessible. Check the error messages above for specific connection failures.")
		}
		panic(err)
	}

	// Block until a shutdown signal arrives
	<-ctx.Done()

	// Give in-flight alert dispatches and the HTTP server time to drain

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}
