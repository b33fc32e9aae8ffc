package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"residencial.org/internal/people"
)

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	const op = "persons.assign_role"
	var in people.AssignRoleInput
	if !a.decode(w, r, op, &in) {
		return
	}
	pr, err := a.people.AssignRole(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusCreated, op, "Role assigned", personRoleView{
		PersonID:    pr.PersonID,
		RoleID:      pr.RoleID,
		FromDate:    pr.FromDate,
		UnitID:      pr.UnitID,
		ApartmentID: pr.ApartmentID,
		CreatedAt:   pr.CreatedAt,
	})
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	const op = "roles.list"
	roles, err := a.people.Roles(r.Context())
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		perms := role.Permissions
		if perms == nil {
			perms = []string{}
		}
		out = append(out, roleView{
			ID:          role.ID,
			Name:        role.Name,
			Description: role.Description,
			IsActive:    role.IsActive,
			Permissions: perms,
		})
	}
	a.respond(w, r, http.StatusOK, op, "Roles retrieved", out)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	const op = "permissions.list"
	perms, err := a.people.Permissions(r.Context())
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	out := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionView{ID: p.ID, Code: p.Code, Description: p.Description})
	}
	a.respond(w, r, http.StatusOK, op, "Permissions retrieved", out)
}
