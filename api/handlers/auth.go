package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/zktools/zk-tools/api/middleware"
	"github.com/zktools/zk-tools/api/services"
	"github.com/zktools/zk-tools/models"
)

type loginPage struct {
	page
	Next      string
	Usernames bool
}

type operatorsPage struct {
	page
	Operators []models.Operator
}

// LoginForm renders the login page. Without authentication it goes home.
func LoginForm(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		if !svc.AuthEnabled() {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		data := loginPage{
			Next:      safeNext(r.URL.Query().Get("next")),
			Usernames: svc.DB != nil,
		}
		data.page = newPage(svc, r, "Log in")
		render(w, r, http.StatusOK, "login.html", data)
	}
}

// Login checks the submitted credentials and starts an authenticated
// session.
func Login(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		next := safeNext(r.FormValue("next"))

		token, claims, err := svc.Login(r.Context(), "", r.FormValue("username"), r.FormValue("password"))
		if err != nil {
			if errors.Is(err, services.ErrLoginFailed) {
				logger.Warn().Str("username", r.FormValue("username")).Msg("login failed")
				svc.Store.AddFlash(sessionID(r), levelError, "Invalid username or password.")
			} else {
				logger.Error().Err(err).Msg("login error")
				svc.Store.AddFlash(sessionID(r), levelError, "Login is not available right now.")
			}
			http.Redirect(w, r, "/auth/login?next="+url.QueryEscape(next), http.StatusSeeOther)
			return
		}

		middleware.SetSessionCookie(w, token, svc.Config.Auth.SessionTTL)
		logger.Info().Str("operator", claims.Operator).Bool("admin", claims.Admin).Msg("operator logged in")
		svc.Store.AddFlash(claims.SessionID(), levelSuccess, "Welcome, "+claims.Operator+".")
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}

// Logout drops the session cache and hands out a fresh anonymous session.
func Logout(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		svc.Store.ClearAll(sessionID(r))

		token, err := svc.Logout()
		if err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to issue session")
			http.Error(w, "failed to log out", http.StatusInternalServerError)
			return
		}
		middleware.SetSessionCookie(w, token, svc.Config.Auth.SessionTTL)

		target := "/"
		if svc.AuthEnabled() {
			target = "/auth/login"
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// Operators lists the operator accounts.
func Operators(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		operators, err := svc.ListOperators(r.Context())
		if err != nil {
			if !errors.Is(err, services.ErrOperatorsOff) {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to list operators")
			}
			svc.Store.AddFlash(sessionID(r), levelWarning, err.Error())
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}

		data := operatorsPage{Operators: operators}
		data.page = newPage(svc, r, "Operators")
		render(w, r, http.StatusOK, "operators.html", data)
	}
}

// ManageOperator handles the create, update and delete forms of the
// operators page.
func ManageOperator(svc *services.Service) http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())
		sid := sessionID(r)
		claims, _ := middleware.ClaimsFromContext(r.Context())

		var (
			op  *models.Operator
			err error
			msg string
		)

		action := r.FormValue("action")
		switch action {
		case "create":
			op, err = svc.CreateOperator(r.Context(), r.FormValue("username"), r.FormValue("password"),
				r.FormValue("confirm"), isTrue(r.FormValue("is_admin")))
			if err == nil {
				msg = "Operator " + op.Username + " created."
			}
		case "update", "delete":
			id, perr := strconv.ParseInt(r.FormValue("id"), 10, 64)
			if perr != nil {
				err = &services.ValidationError{Message: "unknown operator"}
				break
			}
			if action == "update" {
				op, err = svc.UpdateOperator(r.Context(), id, r.FormValue("password"),
					r.FormValue("confirm"), isTrue(r.FormValue("is_admin")))
				if err == nil {
					msg = "Operator " + op.Username + " updated."
				}
			} else {
				err = svc.DeleteOperator(r.Context(), claims.Operator, id)
				msg = "Operator deleted."
			}
		default:
			err = &services.ValidationError{Message: "unknown action"}
		}

		switch {
		case err == nil:
			logger.Info().Str("action", action).Str("by", claims.Operator).Msg("operator changed")
			svc.Store.AddFlash(sid, levelSuccess, msg)
		case services.IsValidation(err), errors.Is(err, services.ErrOperatorsOff):
			svc.Store.AddFlash(sid, levelWarning, err.Error())
		default:
			logger.Error().Err(err).Str("action", action).Msg("operator change failed")
			svc.Store.AddFlash(sid, levelError, err.Error())
		}
		http.Redirect(w, r, "/auth/operators", http.StatusSeeOther)
	}
}
