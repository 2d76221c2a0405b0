package teams

import (
	"net/http"

	"github.com/rostergate/rostergate/api/helpers"
	"github.com/rostergate/rostergate/db"
	"github.com/rostergate/rostergate/services/invitations"
	"github.com/rostergate/rostergate/services/roster"
)

// ParticipantMiddleware ensures a roster record exists and loads it to
// the context
func (c *Controller) ParticipantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recordID, err := helpers.GetStrParam("participant_id", w, r)
		if err != nil {
			return
		}

		p, err := c.Roster.Get(r.Context(), teamFromContext(r), recordID)
		if err != nil {
			helpers.WriteError(w, err)
			return
		}

		r = helpers.SetContextValue(r, "participant", p)
		next.ServeHTTP(w, r)
	})
}

func (c *Controller) GetParticipants(w http.ResponseWriter, r *http.Request) {
	filter := roster.ListFilter{
		Status: db.ParticipantStatus(helpers.QueryParam(r.URL, "status")),
		Kind:   db.ParticipantKind(helpers.QueryParam(r.URL, "kind")),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		helpers.WriteErrorStatus(w, "invalid status filter", http.StatusBadRequest)
		return
	}

	list, err := c.Roster.List(r.Context(), teamFromContext(r), filter)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	if list == nil {
		list = []db.Participant{}
	}
	helpers.WriteJSON(w, http.StatusOK, list)
}

func (c *Controller) GetParticipant(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, helpers.GetFromContext(r, "participant").(db.Participant))
}

type participantCreated struct {
	Participant db.Participant     `json:"participant"`
	Invitation  invitations.Issued `json:"invitation"`
}

// AddParticipant creates a PENDING roster record and its first
// invitation. The token is only returned here.
func (c *Controller) AddParticipant(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Name         string     `json:"name"`
		Role         db.RoleTag `json:"role"`
		ContactPhone string     `json:"contact_phone,omitempty"`
	}

	if !helpers.Bind(w, r, &request) {
		return
	}

	p, err := c.Roster.Create(r.Context(), roster.NewParticipant{
		TeamID:       teamFromContext(r),
		Name:         request.Name,
		Role:         request.Role,
		ContactPhone: request.ContactPhone,
		CreatedBy:    APIActor,
	})
	if err != nil {
		helpers.WriteError(w, err)
		return
	}

	issued, err := c.Issuer.Issue(r.Context(), p, APIActor)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}

	helpers.WriteJSON(w, http.StatusCreated, participantCreated{Participant: p, Invitation: issued})
}

// IssueInvitation creates a fresh invitation for an unlinked record.
func (c *Controller) IssueInvitation(w http.ResponseWriter, r *http.Request) {
	p := helpers.GetFromContext(r, "participant").(db.Participant)

	issued, err := c.Issuer.Issue(r.Context(), p, APIActor)
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, issued)
}

func (c *Controller) ApproveParticipant(w http.ResponseWriter, r *http.Request) {
	c.decide(w, r, true)
}

func (c *Controller) RejectParticipant(w http.ResponseWriter, r *http.Request) {
	c.decide(w, r, false)
}

func (c *Controller) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	p := helpers.GetFromContext(r, "participant").(db.Participant)

	var err error
	if approve {
		p, err = c.Roster.Approve(r.Context(), p.TeamID, p.ID, APIActor)
	} else {
		p, err = c.Roster.Reject(r.Context(), p.TeamID, p.ID, APIActor)
	}
	if err != nil {
		helpers.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, p)
}
