package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/florch/meritfed"
	"github.com/AIoTwin-Adaptive-FL-Orch/meritfed/internal/peers"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

// ProviderFactory builds the peer provider of a run from its configuration.
type ProviderFactory func(config *florch.RunConfig) (peers.IPeerProvider, error)

func LocalProviderFactory(config *florch.RunConfig) (peers.IPeerProvider, error) {
	return config.NewLocalPeerProvider()
}

type run struct {
	orchestrator *florch.FlOrchestrator
	cancel       context.CancelFunc
	done         chan struct{}
}

// Handler serves runs whose peer files and results live under dataDir. Finished runs stay
// queryable until more than maxFinished runs have finished after them.
type Handler struct {
	logger          hclog.Logger
	eventBus        *events.EventBus
	providerFactory ProviderFactory
	dataDir         string
	maxFinished     int

	mu       sync.Mutex
	runs     map[string]*run
	finished []string
	wg       sync.WaitGroup
}

func NewHandler(logger hclog.Logger, eventBus *events.EventBus, providerFactory ProviderFactory, dataDir string) *Handler {
	return &Handler{
		logger:          logger,
		eventBus:        eventBus,
		providerFactory: providerFactory,
		dataDir:         dataDir,
		maxFinished:     common.MAX_FINISHED_RUNS,
		runs:            map[string]*run{},
	}
}

func NewRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/fl/start", handler.StartFl).Methods(http.MethodPost)
	router.HandleFunc("/fl/stop/{runId}", handler.StopFl).Methods(http.MethodPost)
	router.HandleFunc("/fl/status/{runId}", handler.GetStatus).Methods(http.MethodGet)
	return router
}

func (handler *Handler) StartFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := uuid.New().String()

	config := florch.DefaultRunConfig()
	if err := fromJSON(config, r.Body); err != nil {
		handler.logger.Error("error starting FL", "error", err)
		writeError(rw, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if err := config.ConfineTo(handler.dataDir); err != nil {
		handler.logger.Error("error starting FL", "error", err)
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	provider, err := handler.providerFactory(config)
	if err != nil {
		handler.logger.Error("error starting FL", "error", err)
		writeError(rw, http.StatusBadRequest, err)
		return
	}

	flOrchestrator, err := florch.NewFlOrchestrator(runId, provider, handler.eventBus, handler.logger.Named(runId), config)
	if err != nil {
		handler.logger.Error("error starting FL", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, meritfed.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		writeError(rw, status, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	current := &run{orchestrator: flOrchestrator, cancel: cancel, done: make(chan struct{})}

	handler.mu.Lock()
	handler.runs[runId] = current
	handler.mu.Unlock()

	handler.logger.Info(fmt.Sprintf("Starting FL run %s with variant %s and %d max steps", runId, config.Variant(),
		config.MaxSteps))

	handler.wg.Add(1)
	go func() {
		defer handler.wg.Done()
		defer close(current.done)
		defer cancel()
		if err := flOrchestrator.Run(ctx); err != nil {
			handler.logger.Error("FL run failed", "runId", runId, "error", err)
		}
		handler.retire(runId)
	}()

	rw.WriteHeader(http.StatusOK)
	toJSON(StartFlResponse{RunId: runId}, rw)
}

func (handler *Handler) StopFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := getURLParameter(r, "runId")

	handler.logger.Info(fmt.Sprintf("Stopping FL with run ID: %s", runId))

	current := handler.getRun(runId)
	if current == nil {
		writeError(rw, http.StatusNotFound, fmt.Errorf("no run with the given ID"))
		return
	}

	current.cancel()
	rw.WriteHeader(http.StatusOK)
	toJSON(StopFlResponse{RunId: runId, Status: "stopping"}, rw)
}

func (handler *Handler) GetStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	current := handler.getRun(getURLParameter(r, "runId"))
	if current == nil {
		writeError(rw, http.StatusNotFound, fmt.Errorf("no run with the given ID"))
		return
	}

	rw.WriteHeader(http.StatusOK)
	toJSON(current.orchestrator.Snapshot(), rw)
}

// Shutdown stops every run and waits for them to return.
func (handler *Handler) Shutdown() {
	handler.mu.Lock()
	for _, current := range handler.runs {
		current.cancel()
	}
	handler.mu.Unlock()

	handler.wg.Wait()
}

func (handler *Handler) retire(runId string) {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	handler.finished = append(handler.finished, runId)
	for len(handler.finished) > handler.maxFinished {
		delete(handler.runs, handler.finished[0])
		handler.finished = handler.finished[1:]
	}
}

func (handler *Handler) getRun(runId string) *run {
	handler.mu.Lock()
	defer handler.mu.Unlock()
	return handler.runs[runId]
}

func writeError(rw http.ResponseWriter, status int, err error) {
	rw.WriteHeader(status)
	toJSON(ErrorResponse{Error: err.Error()}, rw)
}

func getURLParameter(r *http.Request, parameter string) string {
	vars := mux.Vars(r)
	id := vars[parameter]
	return id
}
