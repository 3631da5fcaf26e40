package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/api/services"
	"github.com/zktools/zk-tools/models"
)

// Healthz reports that the server is up. It never touches a terminal.
func Healthz() http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		services.WriteResponse(w, http.StatusOK, models.Response{
			Success: 1,
			Data:    map[string]string{"status": "ok"},
		})
	}
}

// ListTerminals returns the configured terminals.
func ListTerminals(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		services.WriteResponse(w, http.StatusOK, models.Response{
			Success: 1,
			Data:    svc.KnownTerminals(),
		})
	}
}

// GetEmployees reads the employees of the terminal in the path.
func GetEmployees(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.ResolveTerminal(mux.Vars(r)["terminal"])
		if err != nil {
			services.HandleErrResponse(w, services.StatusFor(err), err)
			return
		}

		employees, err := svc.ReadEmployees(r.Context(), t)
		if err != nil {
			services.HandleErrResponse(w, services.StatusFor(err), err)
			return
		}

		services.WriteResponse(w, http.StatusOK, models.Response{Success: 1, Data: employees})
	}
}

// GetStatus reads the information of the terminal in the path.
func GetStatus(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.ResolveTerminal(mux.Vars(r)["terminal"])
		if err != nil {
			services.HandleErrResponse(w, services.StatusFor(err), err)
			return
		}

		status, err := svc.Status(r.Context(), t)
		if err != nil {
			services.HandleErrResponse(w, services.StatusFor(err), err)
			return
		}

		services.WriteResponse(w, http.StatusOK, models.Response{Success: 1, Data: status})
	}
}

// ListOperators returns the operator accounts. Administrators only.
func ListOperators(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		operators, err := svc.ListOperators(r.Context())
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("error listing operators")
			services.HandleErrResponse(w, services.StatusFor(err), err)
			return
		}

		services.WriteResponse(w, http.StatusOK, models.Response{Success: 1, Data: operators})
	}
}
