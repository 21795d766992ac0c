package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"taskflare/internal/engine"
	"taskflare/internal/notify"
)

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List my notifications",
		Description: "Returns the caller's notification feed, newest first.",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.ListNotifications(ctx, userID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: mapNotifications(items)}, nil
	})
}

// registerNotificationStream wires the SSE endpoint directly on the
// router. huma buffers response bodies, which defeats streaming, so
// this one bypasses it.
func registerNotificationStream(r chi.Router, basePath string, hub *notify.Hub) {
	r.Get(path.Join(basePath, "notifications/stream"), func(w http.ResponseWriter, req *http.Request) {
		if hub == nil {
			http.Error(w, "streaming disabled", http.StatusNotImplemented)
			return
		}
		p, ok := principalFromContext(req.Context())
		if !ok || p.UserID == "" {
			writeAuthError(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ch, cancel := hub.Subscribe(p.UserID)
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		// Keep-alive comments let proxies and clients detect a dead
		// connection between notifications.
		keepAlive := time.NewTicker(30 * time.Second)
		defer keepAlive.Stop()

		for {
			select {
			case <-req.Context().Done():
				return
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case n := <-ch:
				payload, err := json.Marshal(notificationResponse(n))
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
				flusher.Flush()
			}
		}
	})
}

type devLoginRequest struct {
	UserID string `json:"user_id"`
}

type devLoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
}

// registerDevAuth exposes a token mint for local development. Disabled
// unless DevMode is set.
func registerDevAuth(api huma.API, cfg AuthConfig) {
	if !cfg.DevMode {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "Issue a dev token",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body devLoginRequest `json:"body"`
	}) (*struct {
		Body devLoginResponse `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		const ttl = 24 * time.Hour
		token, err := IssueToken(cfg.JWTSecret, input.Body.UserID, ttl)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body devLoginResponse `json:"body"`
		}{Body: devLoginResponse{
			Token:     token,
			TokenType: "Bearer",
			ExpiresIn: int(ttl / time.Second),
		}}, nil
	})
}
