package api

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rostergate/rostergate/api/helpers"
	"github.com/rostergate/rostergate/api/teams"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	Teams *teams.Controller
	// APIToken guards /api. The admin API is not mounted without one.
	APIToken string
	// Webhook receives Telegram updates on /telegram/webhook/{secret}.
	Webhook       http.Handler
	WebhookSecret string
	AccessLog     io.Writer
}

// Route declares all routes
func Route(opts Options) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		helpers.WriteErrorStatus(w, "not found", http.StatusNotFound)
	})

	r.HandleFunc("/api/ping", pongHandler).Methods("GET", "HEAD")

	if opts.Webhook != nil && opts.WebhookSecret != "" {
		r.Handle("/telegram/webhook/{secret}", webhookSecretMiddleware(opts.WebhookSecret, opts.Webhook)).Methods("POST")
	}

	if opts.APIToken != "" && opts.Teams != nil {
		c := opts.Teams

		authenticated := r.PathPrefix("/api").Subrouter()
		authenticated.Use(tokenMiddleware(opts.APIToken))

		team := authenticated.PathPrefix("/teams/{team_id}").Subrouter()
		team.Use(teams.TeamMiddleware)

		team.HandleFunc("/participants", c.GetParticipants).Methods("GET")
		team.HandleFunc("/participants", c.AddParticipant).Methods("POST")

		participant := team.PathPrefix("/participants/{participant_id}").Subrouter()
		participant.Use(c.ParticipantMiddleware)
		participant.HandleFunc("", c.GetParticipant).Methods("GET")
		participant.HandleFunc("/approve", c.ApproveParticipant).Methods("POST")
		participant.HandleFunc("/reject", c.RejectParticipant).Methods("POST")
		participant.HandleFunc("/invitations", c.IssueInvitation).Methods("POST")

		team.HandleFunc("/invitations", c.GetInvites).Methods("GET")

		invite := team.PathPrefix("/invitations/{invite_id}").Subrouter()
		invite.Use(c.InviteMiddleware)
		invite.HandleFunc("", c.GetInvites).Methods("GET")
		invite.HandleFunc("", c.RevokeInvite).Methods("DELETE")
	}

	var h http.Handler = r
	if opts.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(opts.AccessLog, h)
	}
	return handlers.RecoveryHandler(handlers.RecoveryLogger(log.StandardLogger()))(h)
}

func pongHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func tokenMiddleware(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				helpers.WriteErrorStatus(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func webhookSecretMiddleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(mux.Vars(r)["secret"]), []byte(secret)) != 1 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}
