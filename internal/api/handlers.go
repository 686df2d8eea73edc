package api

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"chatcore/internal/stats"
)

// serveWs upgrades an authenticated request and attaches the connection to
// the given namespace.
func (a *App) serveWs(namespace string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			errResp := NewUnauthorizedError()
			a.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}

				return slices.Contains(a.allowedOrigins, origin)
			},
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.log.Println("error upgrading connection:", err)
			return
		}

		client := a.cs.Connect(identity, namespace, conn)
		go client.Write()
		go client.Read()
	}
}

type statsSummaryResponse struct {
	ActiveConnections     int64 `json:"active_connections"`
	MessagesSent          int64 `json:"messages_sent"`
	NotificationsSent     int64 `json:"notifications_sent"`
	RateLimitRejections   int64 `json:"rate_limit_rejections"`
	AuthFailures          int64 `json:"auth_failures"`
	InactivityDisconnects int64 `json:"inactivity_disconnects"`
}

func (a *App) statsSummary(w http.ResponseWriter, r *http.Request) {
	a.writeJson(w, http.StatusOK, statsSummaryResponse{
		ActiveConnections:     a.stats.Get(stats.ActiveConnections),
		MessagesSent:          a.stats.Get(stats.MessagesSent),
		NotificationsSent:     a.stats.Get(stats.NotificationsSent),
		RateLimitRejections:   a.stats.Get(stats.RateLimitRejections),
		AuthFailures:          a.stats.Get(stats.AuthFailures),
		InactivityDisconnects: a.stats.Get(stats.InactivityDisconnects),
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	if err := a.db.Ping(); err != nil {
		a.log.Println("health check:", err)
		errResp := NewServiceUnavailableError(err)
		a.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	a.writeJson(w, http.StatusOK, healthResponse{Status: "ok"})
}
