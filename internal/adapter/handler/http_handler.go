package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-settlement/internal/core/domain"
	"github.com/rl1809/pos-settlement/internal/core/service"
	"github.com/rl1809/pos-settlement/internal/port"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
	roleCashier    = "cashier"
)

type HTTPHandler struct {
	sales    *service.SaleService
	products *service.ProductService
	jobs     port.JobQueue
	logger   *zap.Logger
}

type CreateSaleHTTPRequest struct {
	UserID        string            `json:"userId"`
	PaymentMethod string            `json:"paymentMethod"`
	Items         []domain.SaleLine `json:"items"`
}

type RestockHTTPRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type AdjustHTTPRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type CreateProductHTTPRequest struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	SKU         string          `json:"sku"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Category    *string         `json:"category"`
	IsActive    *bool           `json:"is_active"`
}

func NewHTTPHandler(sales *service.SaleService, products *service.ProductService, jobs port.JobQueue, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{sales: sales, products: products, jobs: jobs, logger: logger}
}

// Router builds the gin engine with every route mounted.
func (h *HTTPHandler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/health", h.HealthCheck)

	api := router.Group("/api")
	h.RegisterRoutes(api)
	return router
}

func (h *HTTPHandler) RegisterRoutes(router *gin.RouterGroup) {
	sales := router.Group("/sales")
	{
		sales.POST("", h.CreateSale)
		sales.GET("", h.ListSales)
		sales.GET("/:id", h.GetSale)
	}

	products := router.Group("/products")
	{
		products.GET("", h.ListProducts)
		products.POST("", h.CreateProduct)
		products.GET("/:id", h.GetProduct)
		products.PUT("/:id", h.UpdateProduct)
		products.DELETE("/:id", h.DeleteProduct)
	}

	inventory := router.Group("/inventory")
	{
		inventory.POST("/restock", h.Restock)
		inventory.POST("/adjust", h.AdjustStock)
	}

	router.GET("/jobs/failed", h.ListFailedJobs)
}

func (h *HTTPHandler) CreateSale(c *gin.Context) {
	var req CreateSaleHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	userID := c.GetHeader(headerUserID)
	if userID == "" {
		userID = req.UserID
	}

	sale, err := h.sales.CreateSale(c.Request.Context(), domain.SaleRequest{
		UserID:        userID,
		PaymentMethod: req.PaymentMethod,
		Items:         req.Items,
	})
	if err != nil {
		h.writeError(c, "create sale", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "sale accepted, stock deduction queued",
		"sale":    sale,
	})
}

func (h *HTTPHandler) GetSale(c *gin.Context) {
	sale, err := h.sales.GetSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get sale", err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *HTTPHandler) ListSales(c *gin.Context) {
	filter := domain.SaleFilter{
		UserID: c.Query("userId"),
		Status: domain.SaleStatus(strings.ToUpper(c.Query("status"))),
	}
	var err error
	if filter.Limit, err = queryInt(c, "limit", 0); err != nil {
		h.writeError(c, "list sales", err)
		return
	}
	if filter.Offset, err = queryInt(c, "offset", 0); err != nil {
		h.writeError(c, "list sales", err)
		return
	}

	// Cashiers only ever see their own sales.
	if strings.EqualFold(c.GetHeader(headerUserRole), roleCashier) {
		filter.UserID = c.GetHeader(headerUserID)
		if filter.UserID == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "cashier identity missing"})
			return
		}
	}

	sales, err := h.sales.ListSales(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, "list sales", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales, "count": len(sales)})
}

func (h *HTTPHandler) ListProducts(c *gin.Context) {
	listing, err := h.products.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, "list products", err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *HTTPHandler) GetProduct(c *gin.Context) {
	p, err := h.products.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, "get product", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HTTPHandler) CreateProduct(c *gin.Context) {
	var req CreateProductHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	p := &domain.Product{
		Name:        req.Name,
		Description: req.Description,
		SKU:         req.SKU,
		Price:       req.Price,
		Stock:       req.Stock,
		Category:    req.Category,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if err := h.products.CreateProduct(c.Request.Context(), p); err != nil {
		h.writeError(c, "create product", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *HTTPHandler) UpdateProduct(c *gin.Context) {
	var update domain.ProductUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	p, err := h.products.UpdateProduct(c.Request.Context(), c.Param("id"), update)
	if err != nil {
		h.writeError(c, "update product", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *HTTPHandler) DeleteProduct(c *gin.Context) {
	if err := h.products.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, "delete product", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) Restock(c *gin.Context) {
	var req RestockHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	change, err := h.products.Restock(c.Request.Context(), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(c, "restock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "stock updated", "product": change})
}

func (h *HTTPHandler) AdjustStock(c *gin.Context) {
	var req AdjustHTTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	change, err := h.products.AdjustStock(c.Request.Context(), req.ProductID, req.Quantity, req.Reason)
	if err != nil {
		h.writeError(c, "adjust stock", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "stock adjusted", "product": change})
}

func (h *HTTPHandler) ListFailedJobs(c *gin.Context) {
	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		h.writeError(c, "list failed jobs", err)
		return
	}
	jobs, err := h.jobs.FailedJobs(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, "list failed jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) writeError(c *gin.Context, op string, err error) {
	var ise *domain.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		c.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"productId": ise.ProductID,
			"available": ise.Available,
			"requested": ise.Requested,
		})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrServiceBusy):
		h.logger.Warn(op+" rejected", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": domain.ErrServiceBusy.Error()})
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *HTTPHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Field: key, Reason: "must be an integer"}
	}
	return v, nil
}
