package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/zktools/zk-tools/api/middleware"
	"github.com/zktools/zk-tools/api/services"
)

// NewRouter registers every route of the web tool.
func NewRouter(svc *services.Service) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithLogger)

	r.HandleFunc("/healthz", Healthz()).Methods(http.MethodGet)

	// Everything else runs inside a session
	app := r.NewRoute().Subrouter()
	app.Use(middleware.Sessions(svc.Signer, svc.Config.Auth.SessionTTL))

	auth := app.PathPrefix("/auth").Subrouter()
	auth.Use(middleware.RateLimit(svc.Config.Auth.LoginAttempts, time.Minute, loginKey(svc)))
	auth.HandleFunc("/login", LoginForm(svc)).Methods(http.MethodGet)
	auth.HandleFunc("/login", Login(svc)).Methods(http.MethodPost)
	auth.HandleFunc("/logout", Logout(svc)).Methods(http.MethodGet, http.MethodPost)

	operators := app.PathPrefix("/auth/operators").Subrouter()
	operators.Use(middleware.RequireLogin(svc.AuthEnabled()))
	operators.Use(middleware.RequireAdmin)
	operators.HandleFunc("", Operators(svc)).Methods(http.MethodGet)
	operators.HandleFunc("", ManageOperator(svc)).Methods(http.MethodPost)

	protected := app.NewRoute().Subrouter()
	protected.Use(middleware.RequireLogin(svc.AuthEnabled()))

	protected.HandleFunc("/", Index(svc)).Methods(http.MethodGet)
	protected.HandleFunc("/", Action(svc)).Methods(http.MethodPost)

	api := protected.PathPrefix("/api").Subrouter()
	api.HandleFunc("/terminals", ListTerminals(svc)).Methods(http.MethodGet)
	api.HandleFunc("/terminals/{terminal}/employees", GetEmployees(svc)).Methods(http.MethodGet)
	api.HandleFunc("/terminals/{terminal}/status", GetStatus(svc)).Methods(http.MethodGet)

	adminAPI := api.NewRoute().Subrouter()
	adminAPI.Use(middleware.RequireAdmin)
	adminAPI.HandleFunc("/operators", ListOperators(svc)).Methods(http.MethodGet)

	return r
}

// loginKey keys login attempts by client address. Proxies were validated
// when the config was loaded.
func loginKey(svc *services.Service) middleware.KeyExtractor {
	proxies, err := svc.Config.Server.ProxyPrefixes()
	if err != nil {
		log.Warn().Err(err).Msg("ignoring trusted proxies")
		proxies = nil
	}
	return middleware.ProxyAwareKeyExtractor(proxies)
}
