package scheduling

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medclinic/clinic/internal/platform/apperr"
	"github.com/medclinic/clinic/internal/platform/auth"
	"github.com/medclinic/clinic/pkg/pagination"
	"github.com/medclinic/clinic/pkg/response"
)

type Handler struct {
	svc      *Service
	policy   *auth.Enforcer
	patients auth.PatientResolver
}

func NewHandler(svc *Service, policy *auth.Enforcer, patients auth.PatientResolver) *Handler {
	return &Handler{svc: svc, policy: policy, patients: patients}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	allow := func(action auth.Action) echo.MiddlewareFunc {
		return auth.Authorize(h.policy, h.patients, auth.EntityAppointment, action)
	}

	api.GET("/appointments", h.ListAppointments, allow(auth.ActionRead))
	api.POST("/appointments", h.CreateAppointment, allow(auth.ActionCreate))
	api.GET("/appointments/doctor/:doctorId", h.ListByDoctor, allow(auth.ActionRead))
	api.GET("/appointments/patient/:patientId", h.ListByPatient, allow(auth.ActionRead))
	api.GET("/appointments/:id", h.GetAppointment, allow(auth.ActionRead))
	api.PUT("/appointments/:id", h.UpdateAppointment, allow(auth.ActionUpdate))
	api.DELETE("/appointments/:id", h.DeleteAppointment, allow(auth.ActionDelete))
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	a, err := h.svc.CreateAppointment(c.Request().Context(), p, in)
	if err != nil {
		return err
	}
	return response.Created(c, "appointment created", a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return response.OK(c, "appointment retrieved", a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f, err := filterFromQuery(c, pg)
	if err != nil {
		return err
	}
	if f.DoctorID, err = uuidQuery(c, "doctorId"); err != nil {
		return err
	}
	if f.PatientID, err = uuidQuery(c, "patientId"); err != nil {
		return err
	}
	items, total, err := h.svc.ListAppointments(c.Request().Context(), p, f)
	if err != nil {
		return err
	}
	return response.List(c, "appointments retrieved", items, pg.Of(total))
}

func (h *Handler) ListByDoctor(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	doctorID, err := uuidParam(c, "doctorId")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f, err := filterFromQuery(c, pg)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListByDoctor(c.Request().Context(), p, doctorID, f)
	if err != nil {
		return err
	}
	return response.List(c, "appointments retrieved", items, pg.Of(total))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	patientID, err := uuidParam(c, "patientId")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f, err := filterFromQuery(c, pg)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListByPatient(c.Request().Context(), p, patientID, f)
	if err != nil {
		return err
	}
	return response.List(c, "appointments retrieved", items, pg.Of(total))
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var in UpdateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	a, err := h.svc.UpdateAppointment(c.Request().Context(), p, id, in)
	if err != nil {
		return err
	}
	return response.OK(c, "appointment updated", a)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), p, id); err != nil {
		return err
	}
	return response.OK(c, "appointment deleted", nil)
}

// -- request parsing --

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func uuidQuery(c echo.Context, name string) (uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

func filterFromQuery(c echo.Context, pg pagination.Params) (ListFilter, error) {
	f := ListFilter{Status: Status(c.QueryParam("status")), Limit: pg.Limit, Offset: pg.Offset}
	var err error
	if f.From, err = timeQuery(c, "from"); err != nil {
		return f, err
	}
	if f.To, err = timeQuery(c, "to"); err != nil {
		return f, err
	}
	return f, nil
}

// timeQuery accepts RFC 3339 timestamps or plain dates, read as UTC
// midnight.
func timeQuery(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apperr.Validation("invalid %s: expected RFC 3339 time or YYYY-MM-DD", name)
}
