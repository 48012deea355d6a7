package quota

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"BRMS-backend/internal/platform/auth"
	"BRMS-backend/internal/reserve_mgmt/apierr"
)

type Handler struct{ svc *Service }

// RegisterRoutes mounts the resident-facing print quota endpoints.
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/print-requests", h.Create)
	r.GET("/print-requests", h.List)
	r.GET("/print-requests/:ulid", h.Get)
	r.POST("/print-requests/:ulid/cancel", h.Cancel)
	r.GET("/print-quota/remaining", h.Remaining)
}

// RegisterStaffRoutes mounts the decision endpoints on the staff-gated group.
func RegisterStaffRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/print-requests/:ulid/approve", h.Approve)
	r.POST("/print-requests/:ulid/reject", h.Reject)
}

func isStaff(c *gin.Context) bool {
	role := auth.Role(c)
	return role == auth.RoleStaff || role == auth.RoleAdmin
}

func writeError(c *gin.Context, err error) {
	c.JSON(apierr.HTTPStatus(err), apierr.ToBody(err))
}

func (h *Handler) Create(c *gin.Context) {
	var req CreatePrintRequest
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
	f := Filter{PrintDate: c.Query("print_date")}
	if isStaff(c) {
		f.RequesterID = c.Query("requester_id")
	} else {
		f.RequesterID = auth.UserID(c)
	}
	if s := c.Query("status"); s != "" {
		st := Status(s)
		f.Status = &st
	}

	resp, err := h.svc.List(c.Request.Context(), f)
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

func (h *Handler) Remaining(c *gin.Context) {
	printDate := c.Query("print_date")
	if printDate == "" {
		writeError(c, apierr.Invalid("print_date is required"))
		return
	}

	resp, err := h.svc.Remaining(c.Request.Context(), auth.UserID(c), printDate)
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
