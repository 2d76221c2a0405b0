package teams

import (
	"net/http"

	"github.com/rostergate/rostergate/api/helpers"
	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/services/invitations"
)

// InviteMiddleware ensures an invite exists and loads it to the context
func (c *Controller) InviteMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inviteID, err := helpers.GetStrParam("invite_id", w, r)
		if err != nil {
			return
		}

		invite, err := c.Invitations.Get(r.Context(), teamFromContext(r), inviteID)
		if err != nil {
			helpers.WriteError(w, err)
			return
		}

		r = helpers.SetContextValue(r, "invite", invite)
		next.ServeHTTP(w, r)
	})
}

// GetInvites returns the team's invitations, oldest first
func (c *Controller) GetInvites(w http.ResponseWriter, r *http.Request) {
	// get single invite if invite ID specified in the request
	if invite := helpers.GetFromContext(r, "invite"); invite != nil {
		helpers.WriteJSON(w, http.StatusOK, invite.(db.Invitation))
		return
	}

	filter := invitations.ListFilter{
		Status:   db.InvitationStatus(helpers.QueryParam(r.URL, "status")),
		RecordID: helpers.QueryParam(r.URL, "record_id"),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		helpers.WriteErrorStatus(w, "invalid status filter", http.StatusBadRequest)
		return
	}

	invites, err := c.Invitations.List(r.Context(), teamFromContext(r), filter)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	if invites == nil {
		invites = []db.Invitation{}
	}
	helpers.WriteJSON(w, http.StatusOK, invites)
}

// RevokeInvite withdraws an ACTIVE invitation. Revoking twice is fine.
func (c *Controller) RevokeInvite(w http.ResponseWriter, r *http.Request) {
	invite := helpers.GetFromContext(r, "invite").(db.Invitation)

	if err := c.Invitations.Revoke(r.Context(), invite.TeamID, invite.ID); err != nil {
		helpers.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
