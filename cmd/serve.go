package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crowdeval/mapseval/internal/model"
	"github.com/crowdeval/mapseval/internal/monitoring"
	"github.com/crowdeval/mapseval/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status HTTP server",
	Long:  "Serves session history, task records, and a live metrics snapshot over HTTP for dashboards and the alert checker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		collector := monitoring.NewCollector(st)
		alerter := monitoring.NewAlerter(cfg.Monitoring)

		// Background alert checks share the server's store.
		checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)
		go checker.Run(ctx)

		mux := http.NewServeMux()

		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
			window := cfg.Monitoring.LookbackWindowHours
			if v := r.URL.Query().Get("window"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(w, `{"error":"invalid window"}`, http.StatusBadRequest)
					return
				}
				window = n
			}

			snap, err := collector.Collect(r.Context(), window)
			if err != nil {
				zap.L().Error("status collect failed", zap.Error(err))
				http.Error(w, `{"error":"collect failed"}`, http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, struct {
				*monitoring.MetricsSnapshot
				Alerts []monitoring.Alert `json:"alerts,omitempty"`
			}{snap, alerter.Evaluate(snap)})
		})

		mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
			sessions, err := st.ListSessions(r.Context(), store.SessionFilter{
				Status: model.SessionStatus(r.URL.Query().Get("status")),
				Limit:  queryInt(r, "limit", 50),
			})
			if err != nil {
				zap.L().Error("sessions list failed", zap.Error(err))
				http.Error(w, `{"error":"list failed"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, sessions)
		})

		mux.HandleFunc("GET /tasks", func(w http.ResponseWriter, r *http.Request) {
			tasks, err := st.ListTasks(r.Context(), store.TaskFilter{
				SessionID: r.URL.Query().Get("session_id"),
				Rating:    model.Rating(r.URL.Query().Get("rating")),
				Limit:     queryInt(r, "limit", 100),
			})
			if err != nil {
				zap.L().Error("tasks list failed", zap.Error(err))
				http.Error(w, `{"error":"list failed"}`, http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, tasks)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go gracefulShutdown(ctx, srv)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// gracefulShutdown waits for the signal context to cancel, then drains the
// server on a fresh timeout context. The signal context is already done at
// that point, so passing it to Shutdown would abort in-flight requests.
func gracefulShutdown(ctx context.Context, srv *http.Server) {
	<-ctx.Done()
	zap.L().Info("shutting down server")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
