package reservations

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"BRMS-backend/internal/platform/auth"
	"BRMS-backend/internal/reserve_mgmt/apierr"
)

type Handler struct{ svc *Service }

// RegisterRoutes mounts the resident-facing reservation endpoints.
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/reservations", h.Create)
	r.GET("/reservations", h.List)
	r.GET("/reservations/:ulid", h.Get)
	r.POST("/reservations/:ulid/cancel", h.Cancel)
	r.POST("/reservations/:ulid/renew", h.Renew)
	r.GET("/resources/:ulid/availability", h.Availability)
}

// RegisterStaffRoutes mounts the decision endpoints on the staff-gated group.
func RegisterStaffRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/reservations/:ulid/approve", h.Approve)
	r.POST("/reservations/:ulid/reject", h.Reject)
	r.POST("/reservations/:ulid/release", h.Release)
	r.POST("/reservations/:ulid/return", h.Return)
}

func isStaff(c *gin.Context) bool {
	role := auth.Role(c)
	return role == auth.RoleStaff || role == auth.RoleAdmin
}

func writeError(c *gin.Context, err error) {
	c.JSON(apierr.HTTPStatus(err), apierr.ToBody(err))
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Invalid("invalid request body"))
		return
	}

	resp, err := h.svc.Request(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Get(c *gin.Context) {
	resp, err := h.svc.Get(c.Request.Context(), c.Param("ulid"), auth.UserID(c), isStaff(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) List(c *gin.Context) {
	f := Filter{ResourceULID: c.Query("resource_ulid")}
	if isStaff(c) {
		f.RequesterID = c.Query("requester_id")
	} else {
		f.RequesterID = auth.UserID(c)
	}
	if s := c.Query("status"); s != "" {
		st := Status(s)
		f.Status = &st
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	p := Page{Limit: limit, Offset: offset, Order: c.DefaultQuery("order", "desc")}

	resp, err := h.svc.List(c.Request.Context(), f, p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Cancel(c *gin.Context) {
	resp, err := h.svc.Cancel(c.Request.Context(), c.Param("ulid"), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Renew(c *gin.Context) {
	var req RenewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Invalid("invalid request body"))
		return
	}

	resp, err := h.svc.Renew(c.Request.Context(), c.Param("ulid"), auth.UserID(c), isStaff(c), req.NewDateTo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Availability(c *gin.Context) {
	dateFrom := c.Query("date_from")
	if dateFrom == "" {
		writeError(c, apierr.Invalid("date_from is required"))
		return
	}

	resp, err := h.svc.Availability(c.Request.Context(), c.Param("ulid"),
		dateFrom, c.Query("date_to"), c.Query("time_from"), c.Query("time_to"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Approve(c *gin.Context) {
	resp, err := h.svc.Approve(c.Request.Context(), c.Param("ulid"), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Invalid("a rejection reason is required"))
		return
	}

	resp, err := h.svc.Reject(c.Request.Context(), c.Param("ulid"), auth.UserID(c), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Release(c *gin.Context) {
	resp, err := h.svc.Release(c.Request.Context(), c.Param("ulid"), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Return(c *gin.Context) {
	var req ReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Invalid("invalid request body"))
		return
	}

	resp, err := h.svc.ReturnItem(c.Request.Context(), c.Param("ulid"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
