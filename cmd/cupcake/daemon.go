package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/eqtylab/cupcake-go/internal/binding"
)

// requestFrame and responseFrame are the websocket wire shapes per
// SPEC_FULL.md §5a: a request carries an id and an arbitrary input
// payload; the response echoes the id alongside either a result or an
// error string, never both.
type requestFrame struct {
	ID    string          `json:"id"`
	Input json.RawMessage `json:"input"`
}

type responseFrame struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// newDaemonCmd serves one binding.Surface over a long-lived websocket
// listener, so an IDE/editor integration pays the engine-construction
// cost once instead of per hook event. All decision logic stays in
// engine.Engine; this command is connection bookkeeping only.
func newDaemonCmd(projectDir, logLevel *string) *cobra.Command {
	var addr string
	var allowAllOrigins bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Serve evaluation over a websocket connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			ctx := context.Background()

			surface, err := binding.New(ctx, *projectDir, logger)
			if err != nil {
				return fmt.Errorf("initializing engine: %w", err)
			}
			defer surface.Close(ctx)

			if err := surface.Watch(ctx); err != nil {
				logger.Warn("hot reload disabled", "error", err)
			}

			upgrader := newUpgrader(allowAllOrigins)

			mux := http.NewServeMux()
			mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
				serveConnection(w, r, upgrader, surface, logger)
			})

			server := &http.Server{Addr: addr, Handler: mux}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				logger.Info("shutting down daemon")
				shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = server.Shutdown(shutCtx)
			}()

			logger.Info("daemon listening", "addr", addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("daemon server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7733", "Address to listen on")
	cmd.Flags().BoolVar(&allowAllOrigins, "allow-all-origins", false, "Accept websocket connections regardless of their Origin header (unsafe: permits any browser page to drive evaluation)")
	return cmd
}

// newUpgrader builds a websocket.Upgrader whose CheckOrigin rejects a
// cross-origin browser handshake by default: a browser's Origin header
// must match the daemon's own Host, so a malicious webpage cannot open
// a WebSocket straight to a locally-running daemon and submit crafted
// evaluation requests that trigger action dispatch (arbitrary shell
// commands) on the victim's machine. Non-browser clients (IDE/editor
// integrations, curl, a CLI wrapper) send no Origin header at all and
// are always allowed through. The Host comparison is exact, not a
// substring match: an Origin like http://127.0.0.1:7733.evil.com
// contains the daemon's real host as a substring while pointing
// browsers at an attacker-controlled page.
func newUpgrader(allowAllOrigins bool) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowAllOrigins {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
}

// serveConnection upgrades one HTTP connection and loops reading
// request frames, evaluating each against surface, and writing back a
// response frame. One connection serves one client for its lifetime;
// concurrent requests on the same connection are evaluated
// sequentially in the order frames arrive (the engine itself is safe
// for concurrent use, but a single reader goroutine per connection
// keeps the frame protocol simple).
func serveConnection(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader, surface *binding.Surface, logger *slog.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req requestFrame
		if err := json.Unmarshal(message, &req); err != nil {
			writeFrame(conn, responseFrame{Error: fmt.Sprintf("invalid request frame: %v", err)})
			continue
		}

		result, evalErr := surface.Evaluate(r.Context(), req.Input)
		if evalErr != nil {
			writeFrame(conn, responseFrame{ID: req.ID, Error: evalErr.Error()})
			continue
		}
		writeFrame(conn, responseFrame{ID: req.ID, Result: result})
	}
}

func writeFrame(conn *websocket.Conn, frame responseFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
