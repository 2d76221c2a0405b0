package teams

import (
	"net/http"
	"strings"

	"github.com/rostergate/rostergate/api/helpers"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/services/roster"
)

// APIActor is recorded as the creator of records made over the API.
const APIActor = "api"

type Controller struct {
	Roster      *roster.Service
	Invitations *invitations.Service
	Issuer      *invitations.Issuer
}

// TeamMiddleware loads the team id to the context
func TeamMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		teamID, err := helpers.GetStrParam("team_id", w, r)
		if err != nil {
			return
		}
		if strings.TrimSpace(teamID) != teamID {
			helpers.WriteErrorStatus(w, "invalid team id", http.StatusBadRequest)
			return
		}

		r = helpers.SetContextValue(r, "team", teamID)
		next.ServeHTTP(w, r)
	})
}

func teamFromContext(r *http.Request) string {
	return helpers.GetFromContext(r, "team").(string)
}
