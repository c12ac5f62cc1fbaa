package router

import (
	decisionHandler "agora/internal/decision"
	"agora/internal/decision/service"
	"agora/middleware"
	"agora/socket"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup wires the HTTP surface: the authenticated decision API, the live feed and the operational endpoints.
func Setup(svc *service.DecisionService, hub *socket.Hub, jwtSecret []byte, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.NewAuthMiddleware(jwtSecret)

	// WebSocket
	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserIDFromContext(r.Context())
		socket.ServeWs(hub, w, r, userID)
	})
	mux.Handle("/ws", auth(wsHandler))

	// REST API
	h := decisionHandler.NewDecisionHandler(svc)
	mux.Handle("/api/decisions/create", auth(http.HandlerFunc(h.CreateDecision)))
	mux.Handle("/api/decisions", auth(http.HandlerFunc(h.GetDecisions)))
	mux.Handle("/api/decisions/get", auth(http.HandlerFunc(h.GetDecision)))
	mux.Handle("/api/decisions/update", auth(http.HandlerFunc(h.UpdateDecision)))
	mux.Handle("/api/decisions/votes/add", auth(http.HandlerFunc(h.CastVote)))
	mux.Handle("/api/decisions/votes", auth(http.HandlerFunc(h.GetVotes)))
	mux.Handle("/api/decisions/balance", auth(http.HandlerFunc(h.GetBalance)))

	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return middleware.CORSMiddleware(mux)
}
