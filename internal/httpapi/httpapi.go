// Package httpapi exposes the component over HTTP: command ingress,
// retained topic reads and a websocket feed of everything published.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/telemetryd/internal/bus"
	"codeberg.org/mutker/telemetryd/internal/command"
	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxCommandBytes = 64 << 10
	requestTimeout  = 15 * time.Second
	streamBuffer    = 64
	shutdownTimeout = 5 * time.Second
)

// Commander executes an inbound command addressed by its suffix.
type Commander interface {
	HandleCommand(ctx context.Context, suffix string, payload []byte) command.Result
}

// Hub is the read side of the bus.
type Hub interface {
	Retained(suffix string) ([]byte, bool)
	RetainedTopics() []string
	Subscribe(buffer int, replay bool) *bus.Subscription
}

func Router(cmd Commander, hub Hub) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
		StreamHandler(w, r, hub)
	})

	router.Group(func(r chi.Router) {
		r.Use(requestLogger)
		r.Use(middleware.Timeout(requestTimeout))

		r.Post("/cmd/*", func(w http.ResponseWriter, r *http.Request) {
			CommandHandler(w, r, cmd)
		})
		r.Get("/retained", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, hub.RetainedTopics())
		})
		r.Get("/retained/*", func(w http.ResponseWriter, r *http.Request) {
			RetainedHandler(w, r, hub)
		})
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return router
}

// CommandHandler runs the command named by the path and answers with its
// result. Protocol-level failures still produce a 200 with ok=false.
func CommandHandler(w http.ResponseWriter, r *http.Request, cmd Commander) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	suffix := command.CommandSuffix(chi.URLParam(r, "*"))
	writeJSON(w, http.StatusOK, cmd.HandleCommand(r.Context(), suffix, body))
}

func RetainedHandler(w http.ResponseWriter, r *http.Request, hub Hub) {
	payload, ok := hub.Retained(chi.URLParam(r, "*"))
	if !ok {
		http.Error(w, "no retained payload", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// StreamHandler upgrades to a websocket and forwards every bus message,
// starting with the retained ones, until the client goes away.
func StreamHandler(w http.ResponseWriter, r *http.Request, hub Hub) {
	// Subscribe before the handshake completes so nothing published in
	// between is missed.
	sub := hub.Subscribe(streamBuffer, true)
	defer sub.Close()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	// The feed is write-only; CloseRead handles control frames and
	// cancels ctx once the peer closes.
	ctx := conn.CloseRead(r.Context())

	logger.Debug().Str("remote", r.RemoteAddr).Msg("Stream client connected")

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Str("remote", r.RemoteAddr).Msg("Stream client disconnected")
			return
		case msg, ok := <-sub.C:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			err := wsjson.Write(writeCtx, conn, msg)
			cancel()
			if err != nil {
				logger.Debug().Err(err).Msg("Stream write failed")
				return
			}
		}
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}

// Server wraps http.Server with context driven shutdown.
type Server struct {
	srv *http.Server
}

func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errFactory := errors.New()

	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errFactory.Wrap(errors.ErrInternal, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return nil
}
