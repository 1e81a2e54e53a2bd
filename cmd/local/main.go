package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

func main() {
	configPath := flag.String("main_config", "./configs/train.yml", "path to the run configuration")
	flag.Parse()

	os.Exit(run(*configPath))
}

func run(configPath string) int {
	_ = os.Mkdir("log", 0777)
	logFile, err := os.OpenFile("log/run.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return common.EXIT_ERROR
	}
	defer logFile.Close()

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "DEBUG"
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "meritfed",
		Level:  hclog.LevelFromString(level),
		Output: io.MultiWriter(os.Stdout, logFile),
	})

	config, err := florch.ReadRunConfig(configPath)
	if err != nil {
		logger.Error("Error reading run config", "error", err)
		return common.EXIT_ERROR
	}
	config.ApplyEnvironment()

	provider, err := config.NewLocalPeerProvider()
	if err != nil {
		logger.Error("Error creating peers", "error", err)
		return common.EXIT_ERROR
	}

	eventBus := events.NewEventBus()
	dropped := make(chan events.Event, 16)
	eventBus.Subscribe(common.PEER_DROPPED_EVENT_TYPE, dropped)
	go func() {
		for event := range dropped {
			data := event.Data.(events.PeerDroppedEvent)
			logger.Info(fmt.Sprintf("Peers %v dropped at step %d", data.PeerIds, data.Step),
				"weights", common.FormatWeights(data.Weights))
		}
	}()

	flOrchestrator, err := florch.NewFlOrchestrator(uuid.New().String(), provider, eventBus, logger, config)
	if err != nil {
		logger.Error("Error creating orchestrator", "error", err)
		return common.EXIT_ERROR
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := flOrchestrator.Run(ctx); err != nil {
		logger.Error("Training failed", "error", err)
		return common.EXIT_ERROR
	}

	snapshot := flOrchestrator.Snapshot()
	logger.Info(fmt.Sprintf("Finished at step %d: %s", snapshot.Step, snapshot.ExitMessage),
		"weights", common.FormatWeights(snapshot.Weights), "val_loss", snapshot.ValLoss, "cost", snapshot.Cost)
	return int(snapshot.ExitCode)
}
