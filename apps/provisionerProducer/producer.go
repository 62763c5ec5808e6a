// receives provisioning requests over HTTP and puts them in the Kafka queue

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/andrej220/provchain/internal/serverutil"
	"github.com/andrej220/provchain/pkg/config"
	"github.com/andrej220/provchain/pkg/kafkautil"
	dm "github.com/andrej220/provchain/pkg/shared-models"
	"github.com/google/uuid"
)

const MAXTIMEOUT time.Duration = 2 * time.Minute

type requestWriter interface {
	Write(ctx context.Context, key []byte, req dm.Request) error
}

type Handler struct {
	producer requestWriter
	lg       lg.Logger
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	request, ok := serverutil.RequestFrom[dm.Request](r.Context())
	if !ok {
		http.Error(rw, "Internal server error", http.StatusInternalServerError)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), MAXTIMEOUT)
	defer cancel()

	request.RunID = uuid.New()
	logger := h.lg.With(lg.String("machine", request.Machine), lg.String("run_id", request.RunID.String()))

	if err := h.producer.Write(ctx, request.RunID[:], request); err != nil {
		if errors.Is(err, kafkautil.ErrUnknownTopic) {
			logger.Error("Kafka topic does not exist",
				lg.String("action", "Create the topic manually or enable auto-creation"))
		}
		logger.Error("Failed to process request", lg.Err(err))
		http.Error(rw, "Failed to process request", http.StatusInternalServerError)
		return
	}
	logger.Info("request queued")

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	resp := dm.Response{RunID: request.RunID, Machine: request.Machine, Status: dm.StatusQueued}
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		logger.Error("Failed to encode response", lg.Err(err))
	}
}

func main() {
	logCfg := lg.NewConfigFromFlags(SERVICENAME)
	logger := lg.New(logCfg)
	defer logger.Sync()

	path := os.Getenv(CONFIGENV)
	if path == "" {
		path = CONFIGFILENAME
	}
	store, err := config.NewStore(config.FileStore, &config.FileConfig{Path: path})
	if err != nil {
		logger.Error("failed to open configuration", lg.Err(err))
		os.Exit(1)
	}
	cfg, err := loadConfig(store)
	if err != nil {
		logger.Error("failed to load configuration", lg.String("path", path), lg.Err(err))
		os.Exit(1)
	}

	producer, err := kafkautil.NewProducer[dm.Request](cfg.Kafka)
	if err != nil {
		logger.Error("failed to create producer", lg.Err(err))
		os.Exit(1)
	}
	defer producer.Close()

	logger.Info("starting service", lg.String("port", cfg.Service.Port), lg.String("path", cfg.Service.HTTPpath))

	mux := http.NewServeMux()
	mux.Handle(cfg.Service.HTTPpath, serverutil.NewValidationHandler[dm.Request](&Handler{producer: producer, lg: logger}, dm.Request.Validate))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvCfg := serverutil.DefaultServerConfig()
	srvCfg.Logger = logger
	srvCfg.Port = cfg.Service.Port
	if err := serverutil.Run(ctx, mux, srvCfg); err != nil {
		logger.Error("Fatal error. Failed to run server", lg.Err(err))
		os.Exit(1)
	}
}
