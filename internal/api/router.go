package api

import (
	"net/http"
	"time"

	// Registers the generated API definitions with swag.
	_ "polychat/docs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Chat    *ChatHandler
	Model   *ModelHandler
	Compare *CompareHandler
}

// NewRouter creates a chi router with all the application's routes.
func NewRouter(log *zap.Logger, h Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/api/swagger/*", httpSwagger.WrapHandler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// JSON routes get a request timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/settings", h.Chat.GetSettings)
			r.Post("/settings", h.Chat.UpdateSettings)
			r.Get("/settings/values/{key}", h.Chat.GetSettingValue)
			r.Put("/settings/values/{key}", h.Chat.PutSettingValue)
			r.Delete("/settings/values/{key}", h.Chat.DeleteSettingValue)

			r.Get("/chats", h.Chat.GetChats)
			r.Post("/chats/resume", h.Chat.ResumeChat)
			r.Post("/chats/import", h.Chat.HandleImportChat)
			r.Get("/chats/{chatID}", h.Chat.GetChat)
			r.Put("/chats/{chatID}/title", h.Chat.UpdateChatTitle)
			r.Delete("/chats/{chatID}", h.Chat.HandleDeleteChat)
			r.Post("/chats/{chatID}/branch", h.Chat.HandleBranchChat)
			r.Get("/chats/{chatID}/export", h.Chat.HandleExportChat)

			r.Get("/models", h.Model.HandleListModels)
			r.Get("/providers", h.Model.HandleListProviders)

			r.Get("/compare", h.Compare.HandleListComparisons)
			r.Get("/compare/{comparisonID}", h.Compare.HandleGetComparison)
			r.Delete("/compare/{comparisonID}", h.Compare.HandleDeleteComparison)
		})

		// Streaming routes hold the connection open and must not time out.
		r.Group(func(r chi.Router) {
			r.Post("/chats/messages", h.Chat.HandleStreamMessage)
			r.Post("/chats/{chatID}/messages/{messageID}/edit", h.Chat.HandleEditMessage)
			r.Post("/chats/{chatID}/messages/{messageID}/regenerate", h.Chat.HandleRegenerateMessage)
			r.Post("/compare", h.Compare.HandleCompare)
		})
	})

	return r
}

// requestLogger logs every finished request with its status and latency.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.L()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("Request handled",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
