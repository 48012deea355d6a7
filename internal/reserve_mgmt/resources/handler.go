package resources

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"BRMS-backend/internal/reserve_mgmt/apierr"
)

type Handler struct{ svc *Service }

// RegisterRoutes mounts the read-only catalog endpoints for all
// authenticated users.
func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/resources", h.List)
	r.GET("/resources/:ulid", h.Get)
}

// RegisterAdminRoutes mounts catalog management on the admin-gated group.
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/resources", h.Create)
	r.PUT("/resources/:ulid", h.Update)
	r.DELETE("/resources/:ulid", h.Delete)
	r.POST("/resources/:ulid/capacity", h.AdjustCapacity)
}

func writeError(c *gin.Context, err error) {
	c.JSON(apierr.HTTPStatus(err), apierr.ToBody(err))
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Invalid("invalid request body"))
		return
	}

	resp, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Get(c *gin.Context) {
	resp, err := h.svc.Get(c.Request.Context(), c.Param("ulid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) List(c *gin.Context) {
	resp, err := h.svc.List(c.Request.Context(), c.Query("kind"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Update(c *gin.Context) {
	var req UpdateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Invalid("invalid request body"))
		return
	}

	resp, err := h.svc.Update(c.Request.Context(), c.Param("ulid"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("ulid")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

func (h *Handler) AdjustCapacity(c *gin.Context) {
	var req AdjustCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.Invalid("invalid request body"))
		return
	}

	resp, err := h.svc.AdjustCapacity(c.Request.Context(), c.Param("ulid"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
