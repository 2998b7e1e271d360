package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadgate/internal/intake"
	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/validate"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lead intake HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
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
			Handler: newRouter(env),
		}

		g, ctx := errgroup.WithContext(ctx)

		if env.worker != nil {
			g.Go(func() error {
				if err := env.worker.Run(ctx); !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		}

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func newRouter(env *env) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/api/leads", handleSubmit(env))
	r.Post("/api/leads/verify-otp", handleVerifyOTP(env))
	r.Post("/api/calls/status", handleCallStatus(env))

	return r
}

// submitRequest is the form submission body.
type submitRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Zip         string `json:"zip"`
	City        string `json:"city"`
	State       string `json:"state"`
	Homeowner   bool   `json:"homeowner"`
	IssueType   string `json:"issueType"`
	Urgency     string `json:"urgency"`
	ConsentTCPA bool   `json:"consentTcpa"`
	UTMSource   string `json:"utmSource"`
	UTMCampaign string `json:"utmCampaign"`
	UTMContent  string `json:"utmContent"`
	UTMTerm     string `json:"utmTerm"`
	LandingPage string `json:"landingPage"`

	// Website is the hidden honeypot field; humans never fill it.
	Website    string `json:"website"`
	FormMillis int64  `json:"formMillis"`
}

func handleSubmit(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := env.intake.Submit(r.Context(), intake.Submission{
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Phone:       req.Phone,
			Email:       req.Email,
			Zip:         req.Zip,
			City:        req.City,
			State:       req.State,
			Homeowner:   req.Homeowner,
			IssueType:   model.IssueType(req.IssueType),
			Urgency:     model.Urgency(req.Urgency),
			ConsentTCPA: req.ConsentTCPA,
			UTMSource:   req.UTMSource,
			UTMCampaign: req.UTMCampaign,
			UTMContent:  req.UTMContent,
			UTMTerm:     req.UTMTerm,
			LandingPage: req.LandingPage,
			IP:          r.RemoteAddr,
			UserAgent:   r.UserAgent(),
			Honeypot:    req.Website,
			FormTime:    time.Duration(req.FormMillis) * time.Millisecond,
		})
		switch {
		case err == nil:
		case errors.Is(err, validate.ErrBotSuspected):
			// Indistinguishable from success so bots learn nothing.
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
			return
		case errors.Is(err, intake.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		case errors.Is(err, validate.ErrInvalidPhone),
			errors.Is(err, validate.ErrInvalidZip),
			errors.Is(err, intake.ErrMissingName),
			errors.Is(err, intake.ErrConsentRequired):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		default:
			zap.L().Error("submission failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"leadId": res.Lead.ID,
			"status": string(res.Lead.Status),
		})
	}
}

type verifyRequest struct {
	LeadID string `json:"leadId"`
	Code   string `json:"code"`
}

func handleVerifyOTP(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.LeadID == "" || req.Code == "" {
			writeError(w, http.StatusBadRequest, "leadId and code are required")
			return
		}

		res, err := env.intake.VerifyOTP(r.Context(), req.LeadID, req.Code)
		switch {
		case err == nil:
		case errors.Is(err, intake.ErrLeadNotFound):
			writeError(w, http.StatusNotFound, "lead not found")
			return
		case errors.Is(err, intake.ErrNotPendingOTP):
			writeError(w, http.StatusConflict, "lead is not awaiting verification")
			return
		case errors.Is(err, intake.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "too many attempts")
			return
		default:
			zap.L().Error("otp verification failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"verified": res.Verified,
			"status":   string(res.Lead.Status),
		})
	}
}

// handleCallStatus ingests the telephony provider's form-encoded status
// callbacks. The provider retries on non-2xx, so transient failures get a
// 500 on purpose.
func handleCallStatus(env *env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}

		sid := r.PostForm.Get("CallSid")
		if sid == "" {
			writeError(w, http.StatusBadRequest, "CallSid is required")
			return
		}
		duration, _ := strconv.Atoi(r.PostForm.Get("CallDuration"))

		_, err := env.intake.QualifyCall(r.Context(), intake.CallEvent{
			SID:          sid,
			From:         r.PostForm.Get("From"),
			To:           r.PostForm.Get("To"),
			Status:       r.PostForm.Get("CallStatus"),
			Duration:     duration,
			RecordingURL: r.PostForm.Get("RecordingUrl"),
			UTMSource:    r.PostForm.Get("utm_source"),
			UTMCampaign:  r.PostForm.Get("utm_campaign"),
		})
		if err != nil {
			zap.L().Error("call status ingest failed", zap.String("sid", sid), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
