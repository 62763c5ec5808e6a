package serverutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andrej220/provchain/internal/lg"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes limits request bodies accepted by ValidationHandler.
const maxBodyBytes = 1 << 20

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Logger          lg.Logger
}

// DefaultServerConfig provides default server configuration values.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            "8081",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Run serves handler until ctx is done, then shuts the server down
// gracefully. It returns the listen error, if any.
func Run(ctx context.Context, handler http.Handler, config ServerConfig) error {
	ln, err := net.Listen("tcp", ":"+config.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", config.Port, err)
	}
	return Serve(ctx, ln, handler, config)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, config ServerConfig) error {
	logger := lg.OrDiscard(config.Logger)
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultServerConfig().ShutdownTimeout
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return lg.Attach(context.Background(), logger) },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", lg.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("server stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

type requestKey[T any] struct{}

// RequestFrom returns the request decoded by ValidationHandler[T].
func RequestFrom[T any](ctx context.Context) (T, bool) {
	req, ok := ctx.Value(requestKey[T]{}).(T)
	return req, ok
}

// ValidationHandler is a middleware that validates incoming JSON requests.
type ValidationHandler[T any] struct {
	next     http.Handler
	validate *validator.Validate
	checks   []func(T) error
}

// NewValidationHandler creates a new validation handler for the given request
// type. The checks run after the struct tags passed.
func NewValidationHandler[T any](next http.Handler, checks ...func(T) error) http.Handler {
	return &ValidationHandler[T]{next: next, validate: validator.New(), checks: checks}
}

// ServeHTTP decodes and validates the JSON request, passing it to the next handler via context.
func (h *ValidationHandler[T]) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var request T
	decoder := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		http.Error(rw, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(request); err != nil {
		http.Error(rw, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	for _, check := range h.checks {
		if err := check(request); err != nil {
			http.Error(rw, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
	}

	ctx := context.WithValue(r.Context(), requestKey[T]{}, request)
	h.next.ServeHTTP(rw, r.WithContext(ctx))
}
