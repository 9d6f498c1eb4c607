package backend

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const tokenTTL = time.Hour

// Server is a fake partner API backed by a Fleet
type Server struct {
	logger *zap.Logger
	fleet  *Fleet
	engine *gin.Engine
	srv    *http.Server

	mu     sync.Mutex
	tokens map[string]time.Time
}

// NewServer builds the router for the fake partner API
func NewServer(logger *zap.Logger, fleet *Fleet) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		logger: logger.Named("mock-partner"),
		fleet:  fleet,
		engine: gin.New(),
		tokens: make(map[string]time.Time),
	}
	s.engine.Use(gin.Recovery())
	s.engine.POST("/oauth/token", s.handleToken)

	v2 := s.engine.Group("/v2", s.requireToken)
	v2.GET("/cities/:id/couriers", s.handleCouriers)
	v2.GET("/cities/:id/starting-points", s.handleStartingPoints)
	v2.GET("/employees", s.handleEmployees)
	v2.GET("/employees/:id/starting-points", s.handleAssignment)
	v2.PUT("/employees/:id/starting-points", s.handleAssign)

	// lets a local run push a rider over or under the cash limit, or off shift
	s.engine.PATCH("/admin/employees/:id", s.handleUpdate)
	return s
}

// Handler exposes the router, mostly for httptest
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr until Stop is called
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.engine}
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleToken(c *gin.Context) {
	if c.PostForm("grant_type") != "client_credentials" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
		return
	}
	if c.PostForm("client_assertion") == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_client"})
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = time.Now().Add(tokenTTL)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(tokenTTL.Seconds()),
	})
}

func (s *Server) requireToken(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	s.mu.Lock()
	expiry, known := s.tokens[token]
	s.mu.Unlock()
	if !ok || !known || time.Now().After(expiry) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.Next()
}

func (s *Server) handleCouriers(c *gin.Context) {
	city, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid city"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	if page < 0 || size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}

	riders := s.fleet.Online(city)
	start := min(page*size, len(riders))
	end := min(start+size, len(riders))
	content := make([]gin.H, 0, end-start)
	for _, r := range riders[start:end] {
		content = append(content, courierJSON(r))
	}
	c.JSON(http.StatusOK, gin.H{"content": content, "is_last": end >= len(riders)})
}

func (s *Server) handleEmployees(c *gin.Context) {
	riders := s.fleet.All()
	out := make([]gin.H, 0, len(riders))
	for _, r := range riders {
		out = append(out, employeeJSON(r))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStartingPoints(c *gin.Context) {
	city, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid city"})
		return
	}
	points, ok := s.fleet.StartingPoints(city)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown city"})
		return
	}
	c.JSON(http.StatusOK, points)
}

type assignRequest struct {
	StartingPointIDs []int64 `json:"starting_point_ids"`
}

func (s *Server) handleAssign(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StartingPointIDs == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "starting_point_ids is required"})
		return
	}
	id := c.Param("id")
	if !s.fleet.Assign(id, req.StartingPointIDs) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown employee"})
		return
	}
	s.logger.Info("starting points assigned", zap.String("employee", id), zap.Int64s("ids", req.StartingPointIDs))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAssignment(c *gin.Context) {
	ids, ok := s.fleet.Assignment(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown employee"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"starting_point_ids": ids})
}

type updateRequest struct {
	Balance *decimal.Decimal `json:"balance"`
	Online  *bool            `json:"online"`
}

func (s *Server) handleUpdate(c *gin.Context) {
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.fleet.Update(c.Param("id"), req.Balance, req.Online) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown employee"})
		return
	}
	c.Status(http.StatusNoContent)
}

func courierJSON(r *Rider) gin.H {
	return gin.H{
		"employee_id":         r.ID,
		"city":                gin.H{"id": r.CityID},
		"name":                r.Name,
		"phone":               r.Phone,
		"email":               r.Email,
		"work_status":         "ONLINE",
		"contract_type":       r.ContractType,
		"is_working":          true,
		"has_active_delivery": r.Delivering,
		"vehicle":             gin.H{"type": r.Vehicle},
		"deliveries":          gin.H{"completed": r.Completed, "cancelled": r.Cancelled},
		"wallet":              gin.H{"balance": r.Balance.StringFixed(2)},
	}
}

func employeeJSON(r *Rider) gin.H {
	status := "INACTIVE"
	if r.Online {
		status = "ACTIVE"
	}
	return gin.H{
		"id":               r.ID,
		"city_id":          r.CityID,
		"full_name":        r.Name,
		"phone_number":     r.Phone,
		"email":            r.Email,
		"status":           status,
		"contract":         gin.H{"type": r.ContractType},
		"vehicle":          gin.H{"type": r.Vehicle},
		"total_deliveries": r.Total,
		"balance":          r.Balance.StringFixed(2),
	}
}
