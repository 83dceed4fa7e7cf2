// internal/handler/bus_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"maus-bus/internal/bus"
	"maus-bus/internal/driver"
	"maus-bus/internal/model"
	"maus-bus/internal/service"
	"maus-bus/internal/utils"
)

// BusHandler handles scan and registry requests
type BusHandler struct {
	busService    *service.BusService
	driverService *service.DriverService
	logger        *utils.ServiceLogger
}

// NewBusHandler creates a new bus handler
func NewBusHandler(busService *service.BusService, driverService *service.DriverService, logger *zap.Logger) *BusHandler {
	return &BusHandler{
		busService:    busService,
		driverService: driverService,
		logger:        utils.NewServiceLogger(logger, "bus-handler"),
	}
}

// RegisterRoutes registers bus routes
func (h *BusHandler) RegisterRoutes(router *gin.RouterGroup) {
	b := router.Group("/bus")
	b.POST("/scan", h.Scan)
	b.GET("/scan/last", h.LastScan)
	b.GET("/devices", h.ListDevices)
	b.DELETE("/devices", h.ClearDevices)
	b.GET("/devices/:address", h.GetDevice)
	b.POST("/devices/:address/register", h.RegisterDevice)
	b.DELETE("/devices/:address/register", h.UnregisterDevice)
	b.GET("/drivers", h.ListDrivers)
	b.GET("/drivers/:address", h.GetDriver)
}

// Scan walks the bus
// @Summary Scan the bus
// @Description Run a quick scan (identified devices only) or a full scan (every responding address). Found devices are registered unless register=false.
// @Tags Bus
// @Accept json
// @Produce json
// @Param mode query string false "Scan mode" Enums(quick, full)
// @Param clear query bool false "Drop previous results first"
// @Param register query bool false "Register found devices"
// @Param request body model.ScanRequest false "Scan request"
// @Success 200 {object} utils.APIResponse{data=model.ScanResult} "Scan completed"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 501 {object} utils.APIResponse "Unknown scan mode"
// @Router /bus/scan [post]
func (h *BusHandler) Scan(c *gin.Context) {
	var req model.ScanRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	register := h.busService.AutoRegister()
	if req.Register != nil {
		register = *req.Register
	}

	result, err := h.busService.Scan(c.Request.Context(), req.Mode, req.Clear, register)
	if err != nil {
		h.logger.Error("Scan failed", zap.Error(err))
		utils.BusErrorResponse(c, "Scan failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Scan completed", result)
}

// LastScan returns the previous scan result
// @Summary Last scan
// @Tags Bus
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.ScanResult}
// @Failure 404 {object} utils.APIResponse "No scan yet"
// @Router /bus/scan/last [get]
func (h *BusHandler) LastScan(c *gin.Context) {
	result, ok := h.busService.LastScan()
	if !ok {
		utils.ErrorResponse(c, http.StatusNotFound, "No scan has run", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Last scan retrieved", result)
}

// ListDevices lists scan results
// @Summary List scanned devices
// @Description List entries recorded by previous scans, including duplicates from repeated scans
// @Tags Bus
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.DeviceEntry}
// @Router /bus/devices [get]
func (h *BusHandler) ListDevices(c *gin.Context) {
	devices := h.busService.Devices()
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved", devices)
}

// GetDevice returns the scan entry of one address
// @Summary Get scanned device
// @Tags Bus
// @Produce json
// @Param address path string true "Device address, e.g. 70:50"
// @Success 200 {object} utils.APIResponse{data=model.DeviceEntry}
// @Failure 400 {object} utils.APIResponse "Invalid address"
// @Failure 404 {object} utils.APIResponse "Not found"
// @Router /bus/devices/{address} [get]
func (h *BusHandler) GetDevice(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	entry, err := h.busService.Device(addr)
	if err != nil {
		utils.BusErrorResponse(c, "Device not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device retrieved", entry)
}

// ClearDevices drops all scan results
// @Summary Clear scan results
// @Tags Bus
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /bus/devices [delete]
func (h *BusHandler) ClearDevices(c *gin.Context) {
	h.busService.ClearDevices()
	utils.SuccessResponse(c, http.StatusOK, "Scan results cleared", nil)
}

// RegisterDevice creates a driver instance for a scanned device
// @Summary Register device
// @Tags Bus
// @Produce json
// @Param address path string true "Device address"
// @Success 201 {object} utils.APIResponse{data=model.InstanceView}
// @Failure 400 {object} utils.APIResponse "Invalid address"
// @Failure 404 {object} utils.APIResponse "Address not in scan results"
// @Failure 507 {object} utils.APIResponse "Out of driver slots"
// @Router /bus/devices/{address}/register [post]
func (h *BusHandler) RegisterDevice(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	inst, err := h.busService.Register(c.Request.Context(), addr)
	if err != nil {
		h.logger.Error("Failed to register device", zap.String("address", addr.String()), zap.Error(err))
		utils.BusErrorResponse(c, "Failed to register device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Device registered", h.instanceView(inst))
}

// UnregisterDevice removes a driver instance
// @Summary Unregister device
// @Tags Bus
// @Produce json
// @Param address path string true "Device address"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse "Not registered"
// @Router /bus/devices/{address}/register [delete]
func (h *BusHandler) UnregisterDevice(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	if !h.busService.Unregister(c.Request.Context(), addr) {
		utils.ErrorResponse(c, http.StatusNotFound, "Device not registered", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device unregistered", nil)
}

// ListDrivers lists registered driver instances in registration order
// @Summary List registered drivers
// @Tags Bus
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.InstanceView}
// @Router /bus/drivers [get]
func (h *BusHandler) ListDrivers(c *gin.Context) {
	views := []model.InstanceView{}
	h.busService.EnumerateDrivers(func(inst *driver.Instance, _ bus.Descriptor, _ bus.Address) {
		views = append(views, h.instanceView(inst))
	})
	utils.SuccessResponse(c, http.StatusOK, "Drivers retrieved", views)
}

// GetDriver returns the driver instance at an address
// @Summary Get registered driver
// @Tags Bus
// @Produce json
// @Param address path string true "Device address"
// @Success 200 {object} utils.APIResponse{data=model.InstanceView}
// @Failure 404 {object} utils.APIResponse "Not registered"
// @Router /bus/drivers/{address} [get]
func (h *BusHandler) GetDriver(c *gin.Context) {
	addr, ok := parseAddress(c)
	if !ok {
		return
	}
	inst, err := h.busService.Instance(addr)
	if err != nil {
		utils.BusErrorResponse(c, "Driver not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Driver retrieved", h.instanceView(inst))
}

func (h *BusHandler) instanceView(inst *driver.Instance) model.InstanceView {
	cfg, _ := h.driverService.ConfigFor(inst.Address)
	return model.NewInstanceView(inst, cfg)
}

// parseAddress reads the :address parameter, answering 400 on failure.
func parseAddress(c *gin.Context) (bus.Address, bool) {
	addr, err := bus.ParseAddress(c.Param("address"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid device address", err)
		return bus.Address{}, false
	}
	return addr, true
}
