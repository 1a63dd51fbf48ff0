package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfederation/centralid/internal/central/service"
	"github.com/openfederation/centralid/internal/central/store"
	"github.com/openfederation/centralid/pkg/httpx"
	"github.com/openfederation/centralid/pkg/jwtx"
	"github.com/openfederation/centralid/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	signer       *jwtx.Signer
	verifier     *jwtx.Verifier
	issuer       string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store

	AuthService   *service.AuthService
	Identity      *service.IdentityService
	TokenSessions *service.TokenSessionService
	Queue         *service.RenameQueueService
}

func NewRouter(
	signer *jwtx.Signer,
	issuer, buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		signer:       signer,
		verifier:     signer.Verifier(issuer),
		issuer:       issuer,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.MetricsMiddleware(),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerTokens()
	r.registerIdentities()
	r.registerRenameQueue()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &LoginHandler{
		AuthService: r.AuthService,
		Signer:      r.signer,
		Issuer:      r.issuer,
	}

	// Authentication attempts: strict limit keyed by IP + username.
	r.Mux.Handle("POST /v1/login",
		httpx.Chain(h,
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "username"),
		),
	)

	// Confirmation round trip shares the login limit.
	r.Mux.Handle("POST /v1/login/continue",
		httpx.Chain(http.HandlerFunc(h.HandleContinue),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerTokens() {
	h := &TokenHandler{
		TokenSessions: r.TokenSessions,
		Signer:        r.signer,
		Issuer:        r.issuer,
	}

	// Issuance needs an authenticated session on an attached identity.
	r.Mux.Handle("POST /v1/tokens",
		httpx.Chain(http.HandlerFunc(h.HandleIssue),
			httpx.AuthnMiddleware(r.verifier),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)

	// Exchange is presented by foreign sites carrying the one-time token.
	r.Mux.Handle("POST /v1/tokens/exchange",
		httpx.Chain(http.HandlerFunc(h.HandleExchange),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerIdentities() {
	h := &IdentityHandler{Identity: r.Identity}

	r.Mux.Handle("POST /v1/identities",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("GET /v1/identities/{name}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// Cross-site fan-out; moderate limit keeps scatter/gather load sane.
	r.Mux.Handle("GET /v1/identities/{name}/unattached",
		httpx.Chain(http.HandlerFunc(h.HandleUnattached),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerRenameQueue() {
	h := &RenameHandler{Queue: r.Queue, Identity: r.Identity}

	r.Mux.Handle("POST /v1/rename-requests",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("GET /v1/rename-requests/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("DELETE /v1/rename-requests/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleCancel),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// Steward surface: queue listings and decisions need the rename
	// scope.
	queueRead := func(next http.Handler) http.Handler {
		return httpx.Chain(next,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireAnyScope("steward:rename"),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("GET /v1/rename-queue/open", queueRead(http.HandlerFunc(h.HandleListOpen)))
	r.Mux.Handle("GET /v1/rename-queue/closed", queueRead(http.HandlerFunc(h.HandleListClosed)))
	r.Mux.Handle("POST /v1/rename-queue/{id}/approve", queueRead(http.HandlerFunc(h.HandleApprove)))
	r.Mux.Handle("POST /v1/rename-queue/{id}/reject", queueRead(http.HandlerFunc(h.HandleReject)))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{
		Identity:      r.Identity,
		TokenSessions: r.TokenSessions,
		Orchestrator:  r.Queue.Orchestrator,
	}

	secured := func(next http.Handler) http.Handler {
		return httpx.Chain(next,
			httpx.AuthnMiddleware(r.verifier),
			httpx.RequireAnyScope("admin:lock", "admin:oversight", "admin:unmerge"),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("POST /v1/admin/identities/{name}/status", secured(http.HandlerFunc(h.HandleStatus)))
	r.Mux.Handle("DELETE /v1/admin/identities/{name}", secured(http.HandlerFunc(h.HandleDelete)))
	r.Mux.Handle("POST /v1/admin/identities/{name}/unattach", secured(http.HandlerFunc(h.HandleUnattach)))
	r.Mux.Handle("POST /v1/admin/renames/{name}/resubmit", secured(http.HandlerFunc(h.HandleRenameResubmit)))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /metrics", promhttp.Handler())
}
