package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"residencial.org/internal/people"
	"residencial.org/internal/validate"
)

func (a *API) handleListPersons(w http.ResponseWriter, r *http.Request) {
	const op = "persons.list"
	q := r.URL.Query()
	f := people.ListFilter{Search: q.Get("search")}
	var (
		c   validate.Collector
		err error
	)
	if f.IncludeDeleted, err = parseBool(q.Get("include_deleted")); err != nil {
		c.Add("include_deleted", "must be a boolean")
	}
	if f.Page, err = parsePositiveInt(q.Get("page"), 1, 1, 1_000_000); err != nil {
		c.Add("page", err.Error())
	}
	if f.Limit, err = parsePositiveInt(q.Get("limit"), 20, 1, 100); err != nil {
		c.Add("limit", err.Error())
	}
	if err := c.Err(); err != nil {
		a.respondError(w, r, op, err)
		return
	}

	res, err := a.people.List(r.Context(), f)
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	items := make([]personView, 0, len(res.Items))
	for i := range res.Items {
		items = append(items, newPersonView(&res.Items[i]))
	}
	a.respond(w, r, http.StatusOK, op, "Persons retrieved", pageView[personView]{
		Items: items,
		Total: res.Total,
		Page:  res.Page,
		Limit: res.Limit,
		Pages: pages(res.Total, res.Limit),
	})
}

func (a *API) handleCreatePerson(w http.ResponseWriter, r *http.Request) {
	const op = "persons.create"
	var in people.CreateInput
	if !a.decode(w, r, op, &in) {
		return
	}
	p, err := a.people.Create(r.Context(), in)
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	w.Header().Set("Location", "/api/v1/persons/"+p.ID)
	a.respond(w, r, http.StatusCreated, op, "Person created", newPersonView(p))
}

func (a *API) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	const op = "persons.get"
	p, err := a.people.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Person retrieved", newPersonView(p))
}

func (a *API) handleUpdatePerson(w http.ResponseWriter, r *http.Request) {
	const op = "persons.update"
	var in people.UpdateInput
	if !a.decode(w, r, op, &in) {
		return
	}
	p, err := a.people.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Person updated", newPersonView(p))
}

func (a *API) handleDeletePerson(w http.ResponseWriter, r *http.Request) {
	const op = "persons.delete"
	id := chi.URLParam(r, "id")
	if err := a.people.Delete(r.Context(), id); err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Person deleted", map[string]any{"id": id})
}

func (a *API) handleRestorePerson(w http.ResponseWriter, r *http.Request) {
	const op = "persons.restore"
	p, err := a.people.Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.respondError(w, r, op, err)
		return
	}
	a.respond(w, r, http.StatusOK, op, "Person restored", newPersonView(p))
}
