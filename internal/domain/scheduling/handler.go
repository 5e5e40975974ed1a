package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/booking/internal/platform/auth"
	"github.com/clinic/booking/pkg/apperrors"
	"github.com/clinic/booking/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type bookRequest struct {
	SlotID uuid.UUID `json:"slot_id"`
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctorOnly := auth.RequireRole(auth.RoleDoctor)
	patientOnly := auth.RequireRole(auth.RolePatient)
	anyRole := auth.RequireRole(auth.RoleDoctor, auth.RolePatient)

	// Public directory
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)

	// Doctor self-service
	api.PATCH("/doctors/schedule-config", h.UpdateScheduleConfig, doctorOnly)
	api.POST("/doctors/availability", h.CreateAvailability, doctorOnly)
	api.GET("/doctors/availability", h.ListAvailability, doctorOnly)
	api.DELETE("/doctors/availability/:id", h.DeleteAvailability, doctorOnly)
	api.POST("/slots", h.CreateSlot, doctorOnly)
	api.PATCH("/slots/:id", h.UpdateSlot, doctorOnly)
	api.DELETE("/slots/:id", h.DeleteSlot, doctorOnly)
	api.GET("/appointments/doctor", h.ListDoctorAppointments, doctorOnly)

	// Patient booking
	api.GET("/doctors/:id/availability", h.ListOpenSlots, patientOnly)
	api.POST("/appointments", h.Book, patientOnly)
	api.GET("/appointments/me", h.ListPatientAppointments, patientOnly)

	api.PATCH("/appointments/:id/cancel", h.Cancel, anyRole)
}

func identity(c echo.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid id")
	}
	return id, nil
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperrors.BadRequest("malformed request body")
	}
	return nil
}

// -- Doctor directory --

func (h *Handler) ListDoctors(c echo.Context) error {
	items, err := h.svc.ListDoctors(c.Request().Context(), DoctorFilter{
		Name:           c.QueryParam("name"),
		Specialization: c.QueryParam("specialization"),
	})
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	if items == nil {
		items = []*Doctor{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	doctorID, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), doctorID)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListOpenSlots(c echo.Context) error {
	doctorID, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListOpenSlots(c.Request().Context(), doctorID, pg)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	if items == nil {
		items = []*Slot{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Doctor self-service --

func (h *Handler) UpdateScheduleConfig(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var in ScheduleConfigInput
	if err := bind(c, &in); err != nil {
		return err
	}
	d, err := h.svc.UpdateScheduleConfig(c.Request().Context(), id, in)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CreateAvailability(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var in AvailabilityInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.CreateAvailability(c.Request().Context(), id, in)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListAvailability(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAvailability(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	if items == nil {
		items = []*AvailabilityWindow{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	windowID, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailability(c.Request().Context(), id, windowID); err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CreateSlot(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var in ManualSlotInput
	if err := bind(c, &in); err != nil {
		return err
	}
	slot, err := h.svc.CreateSlot(c.Request().Context(), id, in)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	slotID, err := pathID(c)
	if err != nil {
		return err
	}
	var in SlotUpdateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	slot, err := h.svc.UpdateSlot(c.Request().Context(), id, slotID, in)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	slotID, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), id, slotID); err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointments --

func (h *Handler) Book(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	var req bookRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.SlotID == uuid.Nil {
		return apperrors.BadRequest("slot_id is required")
	}
	appt, err := h.svc.Book(c.Request().Context(), id, req.SlotID)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	apptID, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Cancel(c.Request().Context(), id, apptID)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPatientAppointments(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	if items == nil {
		items = []*AppointmentWithRelations{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListDoctorAppointments(c echo.Context) error {
	id, err := identity(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListDoctorAppointments(c.Request().Context(), id)
	if err != nil {
		return apperrors.ToHTTP(err)
	}
	if items == nil {
		items = []*AppointmentWithRelations{}
	}
	return c.JSON(http.StatusOK, items)
}
