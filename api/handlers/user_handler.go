package handlers

import (
	"net/http"

	"github.com/devadigapratham/fleet3d/api/models"
	"github.com/gin-gonic/gin"
)

type createUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
	Role  string `json:"role"`
}

// CreateUser adds a dashboard user
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleOperator
	}
	if !models.IsValidRole(req.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}

	res, ok := h.apply(c, &models.Command{
		Type: models.AddUser,
		User: &models.User{Name: req.Name, Email: req.Email, Role: req.Role},
	})
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetUsers returns all users
func (h *Handler) GetUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.Node.GetFSM().GetUsers())
}

// GetUser returns one user
func (h *Handler) GetUser(c *gin.Context) {
	u, ok := h.Node.GetFSM().GetUser(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, u)
}

// UpdateUser patches a user
func (h *Handler) UpdateUser(c *gin.Context) {
	var patch models.UserPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := patch.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, ok := h.apply(c, &models.Command{Type: models.UpdateUser, TargetID: c.Param("id"), UserPatch: &patch})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteUser removes a user
func (h *Handler) DeleteUser(c *gin.Context) {
	if _, ok := h.apply(c, &models.Command{Type: models.RemoveUser, TargetID: c.Param("id")}); !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
