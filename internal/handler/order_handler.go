package handler

import (
	"net/http"
	"strconv"

	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/importer"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/middleware"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/progress"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/repository"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/service"
	ws "github.com/delion-inc/Instant-Wellness-Tax-Engine/internal/websocket"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/pkg/pagination"
	"github.com/delion-inc/Instant-Wellness-Tax-Engine/pkg/response"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	orderService  service.OrderService
	batchStore    *service.ImportBatchStore
	progressStore *progress.Store
	jwtSecret     []byte
}

func NewOrderHandler(
	orderService service.OrderService,
	batchStore *service.ImportBatchStore,
	progressStore *progress.Store,
	jwtSecret []byte,
) *OrderHandler {
	return &OrderHandler{
		orderService:  orderService,
		batchStore:    batchStore,
		progressStore: progressStore,
		jwtSecret:     jwtSecret,
	}
}

func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	orders := router.Group("/api/v1/orders")
	orders.Use(middleware.RequireRole("admin", "operator"))
	{
		orders.POST("", h.CreateOrder)
		orders.GET("", h.GetOrders)
		orders.POST("/import", h.ImportCSV)
		orders.POST("/calculate", h.CalculateAll)
		orders.GET("/imports/:trackingId/calculation", h.GetCalculationResult)
		orders.GET("/imports/:trackingId/errors", h.GetImportErrors)
	}

	// The progress stream authenticates via token query param inside the
	// websocket handshake, not through the bearer middleware.
	router.GET("/api/v1/orders/imports/:trackingId/progress", h.SubscribeProgress)
}

// CreateOrder creates a single order and calculates it synchronously
// @Summary      Create order manually
// @Description  Creates an order and resolves its tax jurisdictions immediately; the response carries CALCULATED or OUT_OF_SCOPE.
// @Tags         orders
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateOrderRequest  true  "Order Payload"
// @Success      201      {object}  response.Response
// @Failure      400      {object}  response.Response
// @Router       /api/v1/orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	order, err := h.orderService.CreateOrder(c.Request.Context(), req, middleware.CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, order))
}

// GetOrders lists orders with filters and pagination
// @Summary      List orders
// @Description  Filters: status, csvImported, timestampFrom, timestampTo. Ordered by id DESC.
// @Tags         orders
// @Produce      json
// @Param        page           query     int     false  "Page (1-based)"
// @Param        limit          query     int     false  "Page size"
// @Param        status         query     string  false  "ADDED | CALCULATED | OUT_OF_SCOPE"
// @Param        csvImported    query     bool    false  "Imported via CSV only"
// @Param        timestampFrom  query     string  false  "Epoch millis or ISO-8601"
// @Param        timestampTo    query     string  false  "Epoch millis or ISO-8601"
// @Success      200  {object}  response.Response
// @Router       /api/v1/orders [get]
func (h *OrderHandler) GetOrders(c *gin.Context) {
	params := pagination.Parse(c)

	filter := repository.OrderFilter{Status: c.Query("status")}
	if v := c.Query("csvImported"); v != "" {
		imported, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid csvImported value: "+v))
			return
		}
		filter.CSVImported = &imported
	}
	if v := c.Query("timestampFrom"); v != "" {
		ts, err := importer.ParseTimestamp(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
			return
		}
		filter.TimestampFrom = &ts
	}
	if v := c.Query("timestampTo"); v != "" {
		ts, err := importer.ParseTimestamp(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
			return
		}
		filter.TimestampTo = &ts
	}

	orders, total, err := h.orderService.GetOrders(c.Request.Context(), filter, params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"items": orders,
		"total": total,
		"page":  params.Page,
		"limit": params.Limit,
	}))
}

// ImportCSV imports orders from a CSV file
// @Summary      Import orders from CSV
// @Description  duplicateHandling: skip | overwrite | fail (default skip). outOfScopeHandling: mark | fail (default mark). Recalculation runs in background under the returned tracking id.
// @Tags         orders
// @Accept       multipart/form-data
// @Produce      json
// @Param        file                body      string  true   "CSV file"
// @Param        duplicateHandling   query     string  false  "skip | overwrite | fail"
// @Param        outOfScopeHandling  query     string  false  "mark | fail"
// @Success      200  {object}  response.Response{data=service.ImportResult}
// @Failure      400  {object}  response.Response
// @Router       /api/v1/orders/import [post]
func (h *OrderHandler) ImportCSV(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Missing file upload: "+err.Error()))
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Failed to open upload: "+err.Error()))
		return
	}
	defer src.Close()

	result := h.orderService.ImportFromCSV(
		c.Request.Context(), src, middleware.CurrentUserID(c),
		c.DefaultQuery("duplicateHandling", "skip"),
		c.DefaultQuery("outOfScopeHandling", "mark"),
	)

	status := http.StatusOK
	if result.Status == service.ImportStatusFailed {
		status = http.StatusBadRequest
	}
	c.JSON(status, response.Success(status, result))
}

// CalculateAll recalculates every pending order
// @Summary      Calculate taxes for all pending orders
// @Description  Runs the bulk point-in-polygon lookup for all orders with status ADDED; each becomes CALCULATED or OUT_OF_SCOPE.
// @Tags         orders
// @Produce      json
// @Success      200  {object}  response.Response
// @Router       /api/v1/orders/calculate [post]
func (h *OrderHandler) CalculateAll(c *gin.Context) {
	calculated, outOfScope, err := h.orderService.CalculateAll(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"calculated": calculated,
		"outOfScope": outOfScope,
		"message":    "Tax calculation complete",
	}))
}

// SubscribeProgress streams live calculation progress over a websocket
// @Summary      Subscribe to calculation progress
// @Description  Connect before or after import; a finished run replays its terminal event immediately. Token query param carries the JWT.
// @Tags         orders
// @Param        trackingId  path   string  true  "Tracking id returned by the import call"
// @Param        token       query  string  true  "JWT"
// @Router       /api/v1/orders/imports/{trackingId}/progress [get]
func (h *OrderHandler) SubscribeProgress(c *gin.Context) {
	ws.ServeProgress(c, h.progressStore, c.Param("trackingId"), h.jwtSecret)
}

// GetCalculationResult returns the cached terminal event
// @Summary      Get final calculation result for a tracking id
// @Tags         orders
// @Produce      json
// @Param        trackingId  path      string  true  "Tracking id"
// @Success      200         {object}  response.Response{data=progress.Event}
// @Failure      404         {object}  response.Response
// @Router       /api/v1/orders/imports/{trackingId}/calculation [get]
func (h *OrderHandler) GetCalculationResult(c *gin.Context) {
	trackingID := c.Param("trackingId")

	event, ok := h.progressStore.Result(trackingID)
	if !ok {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound,
			"Calculation result not found or still in progress: "+trackingID))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, event))
}

// GetImportErrors downloads the CSV error report of an import batch
// @Summary      Download CSV error report for an import batch
// @Tags         orders
// @Produce      text/csv
// @Param        trackingId  path  string  true  "Tracking id"
// @Success      200  {string}  string  "CSV payload"
// @Failure      404  {object}  response.Response
// @Router       /api/v1/orders/imports/{trackingId}/errors [get]
func (h *OrderHandler) GetImportErrors(c *gin.Context) {
	trackingID := c.Param("trackingId")

	errors, ok := h.batchStore.Get(trackingID)
	if !ok {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Batch not found: "+trackingID))
		return
	}

	csvBytes, err := importer.WriteErrorReport(errors)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.Header("Content-Disposition", `attachment; filename="import-`+trackingID+`-errors.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=UTF-8", csvBytes)
}
