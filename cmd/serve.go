package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadsignal/intent-cli/internal/model"
	"github.com/leadsignal/intent-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prediction HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env, cfg.Server.AllowedOrigins),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// predictionResponse is the envelope for all prediction endpoints.
type predictionResponse struct {
	Success     bool               `json:"success"`
	Prediction  *model.Prediction  `json:"prediction,omitempty"`
	Predictions []model.Prediction `json:"predictions,omitempty"`
	Message     string             `json:"message,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func newRouter(env *appEnv, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/predictions", func(r chi.Router) {
		r.Post("/", handlePredict(env))
		r.Get("/", handleListPredictions(env))
		r.Get("/{companyID}", handleGetPrediction(env))
	})

	return r
}

func handlePredict(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CompanyID string `json:"company_id"`
			OrgID     string `json:"org_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, predictionResponse{Error: "invalid request body"})
			return
		}
		if req.CompanyID == "" || req.OrgID == "" {
			writeJSON(w, http.StatusBadRequest, predictionResponse{Error: "company_id and org_id are required"})
			return
		}

		out, err := env.Predictor.Predict(r.Context(), req.CompanyID, req.OrgID)
		if err != nil {
			zap.L().Error("prediction request failed",
				zap.String("company_id", req.CompanyID),
				zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, predictionResponse{Error: "prediction failed"})
			return
		}

		// The stored row changed; the next read repopulates the cache.
		if env.Cache != nil && out.Prediction != nil {
			env.Cache.InvalidatePrediction(r.Context(), req.CompanyID, req.OrgID)
		}

		writeJSON(w, http.StatusOK, predictionResponse{
			Success:    true,
			Prediction: out.Prediction,
			Message:    out.Message,
		})
	}
}

func handleGetPrediction(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := chi.URLParam(r, "companyID")
		orgID := r.URL.Query().Get("org_id")
		if orgID == "" {
			writeJSON(w, http.StatusBadRequest, predictionResponse{Error: "org_id is required"})
			return
		}

		if env.Cache != nil {
			if p := env.Cache.GetPrediction(r.Context(), companyID, orgID); p != nil {
				writeJSON(w, http.StatusOK, predictionResponse{Success: true, Prediction: p})
				return
			}
		}

		p, err := env.Store.GetPrediction(r.Context(), companyID, orgID)
		if err != nil {
			zap.L().Error("prediction lookup failed",
				zap.String("company_id", companyID),
				zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, predictionResponse{Error: "lookup failed"})
			return
		}
		if p == nil {
			writeJSON(w, http.StatusNotFound, predictionResponse{Error: "no prediction for company"})
			return
		}

		if env.Cache != nil {
			env.Cache.SetPrediction(r.Context(), p)
		}
		writeJSON(w, http.StatusOK, predictionResponse{Success: true, Prediction: p})
	}
}

func handleListPredictions(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.URL.Query().Get("org_id")
		if orgID == "" {
			writeJSON(w, http.StatusBadRequest, predictionResponse{Error: "org_id is required"})
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, predictionResponse{Error: "limit must be a non-negative integer"})
				return
			}
			limit = n
		}

		list, err := env.Store.ListPredictions(r.Context(), store.ListFilter{OrgID: orgID, Limit: limit})
		if err != nil {
			zap.L().Error("prediction list failed",
				zap.String("org_id", orgID),
				zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, predictionResponse{Error: "list failed"})
			return
		}

		writeJSON(w, http.StatusOK, predictionResponse{Success: true, Predictions: list})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
