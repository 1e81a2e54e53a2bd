package main

import (
	"io"
	"os"
	"strconv"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/server"
	"github.com/hashicorp/go-hclog"
)

func main() {
	_ = os.Mkdir("log", 0777)
	logFile, err := os.OpenFile("log/run.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0777)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			panic(err)
		}
	}()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "meritfed",
		Level:  hclog.LevelFromString(logLevel()),
		Output: io.MultiWriter(os.Stdout, logFile),
	})

	port := common.HTTP_SERVER_PORT
	if len(os.Args) == 2 {
		port, err = strconv.Atoi(os.Args[1])
		if err != nil {
			logger.Error("Invalid port", "port", os.Args[1])
			return
		}
	}

	eventBus := events.NewEventBus()
	handler := server.NewHandler(logger, eventBus, server.LocalProviderFactory, dataDir())

	server.StartHttpServer(logger, server.NewRouter(handler), port, handler.Shutdown)
}

// dataDir is where requests may read peer tables and write results.
func dataDir() string {
	if dir := os.Getenv("SAVING_DIR"); dir != "" {
		return dir
	}
	return "."
}

func logLevel() string {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		return level
	}
	return "DEBUG"
}
