// internal/handler/driver_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"maus-bus/internal/drivercfg"
	"maus-bus/internal/model"
	"maus-bus/internal/service"
	"maus-bus/internal/utils"
)

const (
	defaultReportLimit = 50
	maxReportLimit     = 500
)

// DriverHandler handles driver definition requests
type DriverHandler struct {
	driverService *service.DriverService
	logger        *utils.ServiceLogger
}

// NewDriverHandler creates a new driver handler
func NewDriverHandler(driverService *service.DriverService, logger *zap.Logger) *DriverHandler {
	return &DriverHandler{
		driverService: driverService,
		logger:        utils.NewServiceLogger(logger, "driver-handler"),
	}
}

// RegisterRoutes registers driver routes
func (h *DriverHandler) RegisterRoutes(router *gin.RouterGroup) {
	d := router.Group("/drivers")
	d.GET("", h.ListDrivers)
	d.POST("", h.LoadDriver)
	d.GET("/:id", h.GetDriver)
	d.DELETE("/:id", h.UnloadDriver)
	d.POST("/:id/functions/:name", h.InvokeFunction)
	d.POST("/:id/events/:name", h.InvokeEvent)
	d.POST("/:id/actions", h.InvokeAction)
	d.GET("/:id/variables/:name", h.GetVariable)
	d.PUT("/:id/variables/:name", h.SetVariable)
	d.GET("/:id/reports", h.ListReports)

	router.POST("/events/:name", h.BroadcastEvent)
	router.GET("/system-functions", h.ListSystemFunctions)
}

// ListDrivers lists loaded driver definitions
// @Summary List driver definitions
// @Tags Drivers
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.ConfigView}
// @Router /drivers [get]
func (h *DriverHandler) ListDrivers(c *gin.Context) {
	views := []model.ConfigView{}
	h.driverService.EnumerateConfigs(func(cfg *drivercfg.Config) {
		views = append(views, model.NewConfigView(cfg, h.driverService.BoundTo(cfg.ID)))
	})
	utils.SuccessResponse(c, http.StatusOK, "Driver definitions retrieved", views)
}

// LoadDriver loads a driver definition document
// @Summary Load driver definition
// @Description Parse and load a JSON driver definition. The definition is stored when the database is enabled and bound to matching registered devices.
// @Tags Drivers
// @Accept json
// @Produce json
// @Param definition body object true "Driver definition document"
// @Success 201 {object} utils.APIResponse{data=model.ConfigView}
// @Failure 400 {object} utils.APIResponse "Invalid definition"
// @Router /drivers [post]
func (h *DriverHandler) LoadDriver(c *gin.Context) {
	doc, err := c.GetRawData()
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg, err := h.driverService.Load(c.Request.Context(), doc)
	if err != nil {
		h.logger.Error("Failed to load driver definition", zap.Error(err))
		utils.BusErrorResponse(c, "Failed to load driver definition", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Driver definition loaded",
		model.NewConfigView(cfg, h.driverService.BoundTo(cfg.ID)))
}

// GetDriver returns one loaded definition
// @Summary Get driver definition
// @Tags Drivers
// @Produce json
// @Param id path string true "Config ID"
// @Success 200 {object} utils.APIResponse{data=model.ConfigView}
// @Failure 404 {object} utils.APIResponse "Not found"
// @Router /drivers/{id} [get]
func (h *DriverHandler) GetDriver(c *gin.Context) {
	cfg, err := h.driverService.Get(c.Param("id"))
	if err != nil {
		utils.BusErrorResponse(c, "Driver definition not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Driver definition retrieved",
		model.NewConfigView(cfg, h.driverService.BoundTo(cfg.ID)))
}

// UnloadDriver unloads a definition
// @Summary Unload driver definition
// @Description Unbind the definition from its devices, running their detached events, and remove it
// @Tags Drivers
// @Produce json
// @Param id path string true "Config ID"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse "Not found"
// @Router /drivers/{id} [delete]
func (h *DriverHandler) UnloadDriver(c *gin.Context) {
	id := c.Param("id")
	if err := h.driverService.Unload(c.Request.Context(), id); err != nil {
		h.logger.Error("Failed to unload driver definition", zap.String("config_id", id), zap.Error(err))
		utils.BusErrorResponse(c, "Failed to unload driver definition", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Driver definition unloaded", nil)
}

// InvokeFunction runs a named function
// @Summary Invoke function
// @Tags Drivers
// @Accept json
// @Produce json
// @Param id path string true "Config ID"
// @Param name path string true "Function name"
// @Param request body model.InvokeRequest false "Argument"
// @Success 200 {object} utils.APIResponse{data=drivercfg.Report}
// @Failure 404 {object} utils.APIResponse "Unknown config or function"
// @Failure 410 {object} utils.APIResponse "Config unloaded"
// @Router /drivers/{id}/functions/{name} [post]
func (h *DriverHandler) InvokeFunction(c *gin.Context) {
	h.invoke(c, "Function", h.driverService.InvokeFunction)
}

// InvokeEvent delivers a named event
// @Summary Invoke event
// @Tags Drivers
// @Accept json
// @Produce json
// @Param id path string true "Config ID"
// @Param name path string true "Event name"
// @Param request body model.InvokeRequest false "Argument"
// @Success 200 {object} utils.APIResponse{data=drivercfg.Report}
// @Failure 404 {object} utils.APIResponse "Unknown config or event"
// @Failure 410 {object} utils.APIResponse "Config unloaded"
// @Router /drivers/{id}/events/{name} [post]
func (h *DriverHandler) InvokeEvent(c *gin.Context) {
	h.invoke(c, "Event", h.driverService.InvokeEvent)
}

// InvokeAction runs one ad-hoc action
// @Summary Invoke action
// @Description Resolve a callee against the definition's functions, then the system functions, and run it once
// @Tags Drivers
// @Accept json
// @Produce json
// @Param id path string true "Config ID"
// @Param request body model.ActionRequest true "Action"
// @Success 200 {object} utils.APIResponse{data=drivercfg.Report}
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 404 {object} utils.APIResponse "Unknown config"
// @Router /drivers/{id}/actions [post]
func (h *DriverHandler) InvokeAction(c *gin.Context) {
	var req model.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := c.Param("id")
	action := drivercfg.Action{Callee: req.Callee, Args: req.Args}
	report, err := h.driverService.InvokeAction(c.Request.Context(), id, action, req.Arg)
	if err != nil {
		utils.BusErrorResponse(c, "Action invocation failed", err)
		return
	}
	if report.Failed() > 0 {
		h.logger.Warn("Action failed",
			zap.String("config_id", id),
			zap.String("callee", req.Callee),
			zap.Strings("unresolved", report.Unresolved()),
		)
	}
	utils.SuccessResponse(c, http.StatusOK, "Action invoked", report)
}

type invokeFunc func(ctx context.Context, id, name string, arg json.RawMessage) (*drivercfg.Report, error)

func (h *DriverHandler) invoke(c *gin.Context, what string, fn invokeFunc) {
	var req model.InvokeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	id, name := c.Param("id"), c.Param("name")
	report, err := fn(c.Request.Context(), id, name, req.Arg)
	if err != nil {
		utils.BusErrorResponse(c, what+" invocation failed", err)
		return
	}
	if report.Failed() > 0 {
		h.logger.Warn("Actions failed",
			zap.String("config_id", id),
			zap.String("name", name),
			zap.Int("failed", report.Failed()),
		)
	}
	utils.SuccessResponse(c, http.StatusOK, what+" invoked", report)
}

// BroadcastEvent delivers an event to every definition that declares it
// @Summary Broadcast event
// @Tags Drivers
// @Accept json
// @Produce json
// @Param name path string true "Event name"
// @Param request body model.InvokeRequest false "Argument"
// @Success 200 {object} utils.APIResponse{data=[]drivercfg.Report}
// @Router /events/{name} [post]
func (h *DriverHandler) BroadcastEvent(c *gin.Context) {
	var req model.InvokeRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	reports := h.driverService.Broadcast(c.Request.Context(), c.Param("name"), req.Arg)
	if reports == nil {
		reports = []*drivercfg.Report{}
	}
	utils.SuccessResponse(c, http.StatusOK, "Event broadcast", reports)
}

// GetVariable reads a variable
// @Summary Get variable
// @Tags Drivers
// @Produce json
// @Param id path string true "Config ID"
// @Param name path string true "Variable name"
// @Success 200 {object} utils.APIResponse{data=model.VariableView}
// @Failure 404 {object} utils.APIResponse "Unknown config"
// @Router /drivers/{id}/variables/{name} [get]
func (h *DriverHandler) GetVariable(c *gin.Context) {
	id, name := c.Param("id"), c.Param("name")
	v, err := h.driverService.Variable(id, name)
	if err != nil {
		utils.BusErrorResponse(c, "Driver not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Variable retrieved", model.VariableView{ConfigID: id, Name: name, Value: v})
}

// SetVariable assigns a variable
// @Summary Set variable
// @Tags Drivers
// @Accept json
// @Produce json
// @Param id path string true "Config ID"
// @Param name path string true "Variable name"
// @Param request body model.VariableRequest true "Value"
// @Success 200 {object} utils.APIResponse{data=model.VariableView}
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 404 {object} utils.APIResponse "Unknown config"
// @Router /drivers/{id}/variables/{name} [put]
func (h *DriverHandler) SetVariable(c *gin.Context) {
	var req model.VariableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ValidationErrorResponse(c, map[string]string{"value": "integer value is required"})
		return
	}

	id, name := c.Param("id"), c.Param("name")
	if err := h.driverService.SetVariable(c.Request.Context(), id, name, *req.Value); err != nil {
		utils.BusErrorResponse(c, "Failed to set variable", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Variable updated", model.VariableView{ConfigID: id, Name: name, Value: *req.Value})
}

// ListReports returns stored action reports
// @Summary List action reports
// @Description Newest first. Requires the database.
// @Tags Drivers
// @Produce json
// @Param id path string true "Config ID"
// @Param limit query int false "Maximum reports" default(50)
// @Success 200 {object} utils.APIResponse{data=[]model.ActionReportRecord}
// @Failure 501 {object} utils.APIResponse "Report storage disabled"
// @Router /drivers/{id}/reports [get]
func (h *DriverHandler) ListReports(c *gin.Context) {
	limit := defaultReportLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			utils.ValidationErrorResponse(c, map[string]string{"limit": "must be a positive integer"})
			return
		}
		limit = min(n, maxReportLimit)
	}

	reports, err := h.driverService.Reports(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		utils.BusErrorResponse(c, "Failed to list reports", err)
		return
	}
	if reports == nil {
		reports = []*model.ActionReportRecord{}
	}
	utils.SuccessResponse(c, http.StatusOK, "Reports retrieved", reports)
}

// ListSystemFunctions lists callees available to every definition
// @Summary List system functions
// @Tags Drivers
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]string}
// @Router /system-functions [get]
func (h *DriverHandler) ListSystemFunctions(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "System functions retrieved", h.driverService.SystemFunctions().Names())
}

// bindOptionalJSON binds a JSON body when one is present
func bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}
