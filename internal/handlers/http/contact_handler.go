package http

import (
	"errors"
	"net/http"

	"ringline/internal/core/domain"
	"ringline/internal/core/ports"
	"ringline/internal/core/services"
	"ringline/internal/infrastructure/middleware"
	apperrors "ringline/pkg/errors"
	"ringline/pkg/validation"

	"github.com/gin-gonic/gin"
)

const unknownContactName = "Unknown User"

type ContactView struct {
	ID      domain.IdentityID `json:"id"`
	Name    string            `json:"name"`
	Online  bool              `json:"online"`
	CanCall bool              `json:"can_call"`
}

type PresenceView struct {
	Identity domain.IdentityID `json:"identity"`
	Online   bool              `json:"online"`
	CanCall  bool              `json:"can_call"`
}

// ContactHandler serves the caller's own contact list and presence queries.
// Every route requires an attach token.
type ContactHandler struct {
	contacts ports.ContactDirectory
	presence ports.PresenceService
	gate     ports.AuthorizationService
	auth     services.AuthService
}

func NewContactHandler(
	contacts ports.ContactDirectory,
	presence ports.PresenceService,
	gate ports.AuthorizationService,
	auth services.AuthService,
) *ContactHandler {
	return &ContactHandler{
		contacts: contacts,
		presence: presence,
		gate:     gate,
		auth:     auth,
	}
}

func (h *ContactHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(h.auth))
	{
		api.GET("/me", h.Me)
		api.GET("/contacts", h.ListContacts)
		api.POST("/contacts", h.AddContact)
		api.DELETE("/contacts/:id", h.RemoveContact)
		api.GET("/presence/:id", h.GetPresence)
	}
}

func (h *ContactHandler) Me(c *gin.Context) {
	self, ok := middleware.IdentityFromContext(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	name, err := h.contacts.DisplayName(c.Request.Context(), self)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     self,
		"name":   name,
		"online": h.presence.IsOnline(self),
	})
}

func (h *ContactHandler) ListContacts(c *gin.Context) {
	self, ok := middleware.IdentityFromContext(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
		return
	}
	ctx := c.Request.Context()

	ids, err := h.contacts.Contacts(ctx, self)
	if err != nil {
		_ = c.Error(err)
		return
	}

	views := make([]ContactView, 0, len(ids))
	for _, id := range ids {
		name, err := h.contacts.DisplayName(ctx, id)
		switch {
		case errors.Is(err, domain.ErrUnknownIdentity):
			name = unknownContactName
		case err != nil:
			_ = c.Error(err)
			return
		}
		views = append(views, ContactView{
			ID:      id,
			Name:    name,
			Online:  h.presence.IsOnline(id),
			CanCall: h.gate.CanSignal(ctx, self, id),
		})
	}

	c.JSON(http.StatusOK, gin.H{"contacts": views})
}

func (h *ContactHandler) AddContact(c *gin.Context) {
	self, ok := middleware.IdentityFromContext(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	var req struct {
		ContactID domain.IdentityID `json:"contact_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("contact_id required"))
		return
	}
	if err := validation.ValidateIdentityID(string(req.ContactID)); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if req.ContactID == self {
		_ = c.Error(apperrors.NewInvalidInputError("cannot add yourself as contact"))
		return
	}

	ctx := c.Request.Context()
	exists, err := h.contacts.IdentityExists(ctx, req.ContactID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if !exists {
		_ = c.Error(apperrors.NewNotFoundError("identity"))
		return
	}
	already, err := h.contacts.RelationshipExists(ctx, self, req.ContactID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if already {
		_ = c.Error(apperrors.NewConflictError("contact already exists"))
		return
	}

	if err := h.contacts.AddContact(ctx, self, req.ContactID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":       req.ContactID,
		"can_call": h.gate.CanSignal(ctx, self, req.ContactID),
	})
}

func (h *ContactHandler) RemoveContact(c *gin.Context) {
	self, ok := middleware.IdentityFromContext(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	if err := h.contacts.RemoveContact(c.Request.Context(), self, domain.IdentityID(c.Param("id"))); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPresence reports whether id is online and whether the caller may call
// it. Online status is only revealed to mutual contacts.
func (h *ContactHandler) GetPresence(c *gin.Context) {
	self, ok := middleware.IdentityFromContext(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	target := domain.IdentityID(c.Param("id"))
	if err := validation.ValidateIdentityID(string(target)); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	canCall := h.gate.CanSignal(c.Request.Context(), self, target)
	c.JSON(http.StatusOK, PresenceView{
		Identity: target,
		Online:   canCall && h.presence.IsOnline(target),
		CanCall:  canCall,
	})
}
