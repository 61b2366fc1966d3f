package clinical

import (
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
	allow := func(entity auth.Entity, action auth.Action) echo.MiddlewareFunc {
		return auth.Authorize(h.policy, h.patients, entity, action)
	}

	api.GET("/consultations", h.ListConsultations, allow(auth.EntityConsultation, auth.ActionRead))
	api.POST("/consultations", h.CreateConsultation, allow(auth.EntityConsultation, auth.ActionCreate))
	api.GET("/consultations/:id", h.GetConsultation, allow(auth.EntityConsultation, auth.ActionRead))
	api.PUT("/consultations/:id", h.UpdateConsultation, allow(auth.EntityConsultation, auth.ActionUpdate))
	api.DELETE("/consultations/:id", h.DeleteConsultation, allow(auth.EntityConsultation, auth.ActionDelete))

	api.GET("/prescriptions", h.ListPrescriptions, allow(auth.EntityPrescription, auth.ActionRead))
	api.POST("/prescriptions", h.CreatePrescription, allow(auth.EntityPrescription, auth.ActionCreate))
	api.GET("/prescriptions/:id", h.GetPrescription, allow(auth.EntityPrescription, auth.ActionRead))
	api.PUT("/prescriptions/:id", h.UpdatePrescription, allow(auth.EntityPrescription, auth.ActionUpdate))
	api.DELETE("/prescriptions/:id", h.DeletePrescription, allow(auth.EntityPrescription, auth.ActionDelete))
}

// -- Consultation Handlers --

func (h *Handler) CreateConsultation(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	var in CreateConsultationInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	cons, err := h.svc.CreateConsultation(c.Request().Context(), p, in)
	if err != nil {
		return err
	}
	return response.Created(c, "consultation created", cons)
}

func (h *Handler) GetConsultation(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	cons, err := h.svc.GetConsultation(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return response.OK(c, "consultation retrieved", cons)
}

func (h *Handler) ListConsultations(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := ConsultationFilter{Status: ConsultationStatus(c.QueryParam("status")), Limit: pg.Limit, Offset: pg.Offset}
	if f.AppointmentID, err = uuidQuery(c, "appointmentId"); err != nil {
		return err
	}
	if f.PatientID, err = uuidQuery(c, "patientId"); err != nil {
		return err
	}
	if f.DoctorID, err = uuidQuery(c, "doctorId"); err != nil {
		return err
	}
	items, total, err := h.svc.ListConsultations(c.Request().Context(), p, f)
	if err != nil {
		return err
	}
	return response.List(c, "consultations retrieved", items, pg.Of(total))
}

func (h *Handler) UpdateConsultation(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var in UpdateConsultationInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	cons, err := h.svc.UpdateConsultation(c.Request().Context(), p, id, in)
	if err != nil {
		return err
	}
	return response.OK(c, "consultation updated", cons)
}

func (h *Handler) DeleteConsultation(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteConsultation(c.Request().Context(), p, id); err != nil {
		return err
	}
	return response.OK(c, "consultation deleted", nil)
}

// -- Prescription Handlers --

func (h *Handler) CreatePrescription(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	var in CreatePrescriptionInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	rx, err := h.svc.CreatePrescription(c.Request().Context(), p, in)
	if err != nil {
		return err
	}
	return response.Created(c, "prescription created", rx)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	rx, err := h.svc.GetPrescription(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return response.OK(c, "prescription retrieved", rx)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := PrescriptionFilter{Status: PrescriptionStatus(c.QueryParam("status")), Limit: pg.Limit, Offset: pg.Offset}
	if f.ConsultationID, err = uuidQuery(c, "consultationId"); err != nil {
		return err
	}
	if f.PatientID, err = uuidQuery(c, "patientId"); err != nil {
		return err
	}
	if f.DoctorID, err = uuidQuery(c, "doctorId"); err != nil {
		return err
	}
	items, total, err := h.svc.ListPrescriptions(c.Request().Context(), p, f)
	if err != nil {
		return err
	}
	return response.List(c, "prescriptions retrieved", items, pg.Of(total))
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var in UpdatePrescriptionInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	rx, err := h.svc.UpdatePrescription(c.Request().Context(), p, id, in)
	if err != nil {
		return err
	}
	return response.OK(c, "prescription updated", rx)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	p, err := auth.MustPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeletePrescription(c.Request().Context(), p, id); err != nil {
		return err
	}
	return response.OK(c, "prescription deleted", nil)
}

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
