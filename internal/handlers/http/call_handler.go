package http

import (
	"net/http"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/validation"

	"github.com/gin-gonic/gin"
)

// CallHandler exposes the call core to the render process: one command API
// for the active session plus the device and diagnostics facade.
type CallHandler struct {
	manager  ports.CallManager
	devices  ports.DeviceFacade
	registry DeviceReplacer
}

// DeviceReplacer accepts renderer-pushed device snapshots. Implemented by
// the devices registry.
type DeviceReplacer interface {
	Replace(devices []domain.DeviceDescriptor)
}

func NewCallHandler(manager ports.CallManager, devices ports.DeviceFacade, registry DeviceReplacer) *CallHandler {
	return &CallHandler{
		manager:  manager,
		devices:  devices,
		registry: registry,
	}
}

func (h *CallHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.POST("/call/start", h.StartCall)
		api.POST("/call/end", h.EndCall)
		api.POST("/call/mode", h.SwitchMode)
		api.POST("/call/mute", h.SetMuted)
		api.POST("/call/pip", h.SetPictureInPicture)
		api.GET("/call", h.GetCall)
		api.GET("/call/quality/:participant", h.GetQuality)

		api.GET("/devices", h.ListDevices)
		api.PUT("/devices", h.ReplaceDevices)
		api.POST("/devices/select", h.SelectDevice)
	}
}

type startCallRequest struct {
	Channel     domain.ChannelID     `json:"channel" binding:"required"`
	Participant domain.ParticipantID `json:"participant" binding:"required"`
	Mode        domain.CallMode      `json:"mode" binding:"required"`
}

func (h *CallHandler) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}
	if err := validation.ValidateChannelID(string(req.Channel)); err != nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}
	if err := validation.ValidateParticipantID(string(req.Participant)); err != nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}

	snapshot, err := h.manager.Start(c.Request.Context(), req.Channel, req.Participant, req.Mode)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": snapshot})
}

func (h *CallHandler) EndCall(c *gin.Context) {
	h.manager.End(c.Request.Context())
	c.Status(http.StatusNoContent)
}

type switchModeRequest struct {
	Mode domain.CallMode `json:"mode" binding:"required"`
}

func (h *CallHandler) SwitchMode(c *gin.Context) {
	var req switchModeRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}

	if err := h.manager.SwitchMode(c.Request.Context(), req.Mode); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setMutedRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func (h *CallHandler) SetMuted(c *gin.Context) {
	var req setMutedRequest
	if err := c.BindJSON(&req); err != nil || req.Muted == nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}

	if err := h.manager.SetMuted(c.Request.Context(), *req.Muted); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setPiPRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *CallHandler) SetPictureInPicture(c *gin.Context) {
	var req setPiPRequest
	if err := c.BindJSON(&req); err != nil || req.Enabled == nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}

	if err := h.manager.SetPictureInPicture(*req.Enabled); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) GetCall(c *gin.Context) {
	snapshot, ok := h.manager.Snapshot()
	if !ok {
		c.Error(domain.ErrNoActiveCall)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": snapshot})
}

func (h *CallHandler) GetQuality(c *gin.Context) {
	remote := domain.ParticipantID(c.Param("participant"))
	if remote == "" {
		c.Error(domain.ErrInvalidArgument)
		return
	}

	sample, err := h.devices.SampleQuality(remote)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quality": sample})
}

func (h *CallHandler) ListDevices(c *gin.Context) {
	devices, err := h.devices.ListOutputDevices(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

type replaceDevicesRequest struct {
	Devices []domain.DeviceDescriptor `json:"devices"`
}

func (h *CallHandler) ReplaceDevices(c *gin.Context) {
	if h.registry == nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}

	var req replaceDevicesRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}

	h.registry.Replace(req.Devices)
	c.Status(http.StatusNoContent)
}

type selectDeviceRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

func (h *CallHandler) SelectDevice(c *gin.Context) {
	var req selectDeviceRequest
	if err := c.BindJSON(&req); err != nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}
	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		c.Error(domain.ErrInvalidArgument)
		return
	}

	if err := h.devices.SelectOutputDevice(c.Request.Context(), req.DeviceID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
