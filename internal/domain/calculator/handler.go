package calculator

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medcalc/internal/engine"
	"github.com/ehr/medcalc/internal/engine/calcerr"
	"github.com/ehr/medcalc/internal/engine/form"
	"github.com/ehr/medcalc/internal/platform/auth"
	"github.com/ehr/medcalc/internal/platform/middleware"
	"github.com/ehr/medcalc/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/calculators", h.ListCalculators)
	api.GET("/calculators/:id", h.GetCalculator)
	api.GET("/calculators/:id/markup", h.GetMarkup)

	api.POST("/forms", h.CreateForm)
	api.GET("/forms/:id", h.GetForm)
	api.PUT("/forms/:id/fields/:field", h.ChangeField)
	api.PUT("/forms/:id/fields/:field/unit", h.ToggleUnit)
	api.POST("/forms/:id/panels/:panel", h.RunPanel)
	api.DELETE("/forms/:id", h.DeleteForm)
}

// -- Calculator Handlers --

func (h *Handler) ListCalculators(c echo.Context) error {
	pg := pagination.FromContext(c)
	category, q := c.QueryParam("category"), c.QueryParam("q")
	list := h.svc.List(category, q)

	base := c.Request().URL.Path
	filter := url.Values{}
	if category != "" {
		filter.Set("category", category)
	}
	if q != "" {
		filter.Set("q", q)
	}
	if len(filter) > 0 {
		base += "?" + filter.Encode()
	}
	return c.JSON(http.StatusOK, pagination.Page(list, pg, base))
}

func (h *Handler) GetCalculator(c echo.Context) error {
	d, err := h.svc.Describe(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetMarkup(c echo.Context) error {
	markup, err := h.svc.Markup(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.HTML(http.StatusOK, markup)
}

// -- Form Handlers --

func (h *Handler) CreateForm(c echo.Context) error {
	var req CreateFormRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	c.Set(middleware.CalculatorKey, req.CalculatorID)
	ctx := c.Request().Context()
	launch := Launch{
		PatientID: auth.SMARTPatientIDFromContext(ctx),
		Token:     auth.BearerTokenFromContext(ctx),
		Scopes:    auth.SMARTScopesFromContext(ctx),
		Verified:  auth.LaunchVerifiedFromContext(ctx),
	}
	if launch.Verified {
		launch.TenantID, _ = c.Get("jwt_tenant_id").(string)
	} else {
		launch.TenantID, _ = c.Get("tenant_id").(string)
	}
	inst, err := h.svc.Open(ctx, req, launch)
	if err != nil {
		return httpError(err)
	}
	st, err := h.svc.state(inst, true)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return respond(c, http.StatusCreated, st)
}

func (h *Handler) GetForm(c echo.Context) error {
	st, err := h.svc.State(c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return respond(c, http.StatusOK, st)
}

func (h *Handler) ChangeField(c echo.Context) error {
	var req ChangeFieldRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.Change(c.Param("id"), c.Param("field"), req.Value)
	if err != nil {
		return httpError(err)
	}
	return respond(c, http.StatusOK, st)
}

func (h *Handler) ToggleUnit(c echo.Context) error {
	var req ToggleUnitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.ToggleUnit(c.Param("id"), c.Param("field"), req.Unit)
	if err != nil {
		return httpError(err)
	}
	return respond(c, http.StatusOK, st)
}

func (h *Handler) RunPanel(c echo.Context) error {
	var req RunPanelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.RunPanel(c.Param("id"), c.Param("panel"), req.Inputs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteForm(c echo.Context) error {
	if err := h.svc.Close(c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// respond records the form's calculator and pass state for the request log.
func respond(c echo.Context, code int, st *FormState) error {
	c.Set(middleware.CalculatorKey, st.Calculator)
	c.Set(middleware.OutcomeKey, st.State)
	return c.JSON(code, st)
}

func httpError(err error) error {
	var cerr calcerr.Error
	switch {
	case errors.Is(err, engine.ErrUnknownCalculator),
		errors.Is(err, ErrFormNotFound),
		errors.Is(err, form.ErrUnknownField),
		errors.Is(err, form.ErrUnknownPanel):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrLaunchRequired):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrPatientMismatch):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, form.ErrDetached):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.As(err, &cerr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}
