package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/hazardscan/internal/auth"
	"github.com/example/hazardscan/internal/dispatcher"
	"github.com/example/hazardscan/internal/usecase"
)

// MaxUploadSize caps accepted image payloads.
const MaxUploadSize = 10 << 20

// AnalysisService is the analysis surface consumed by the HTTP layer.
type AnalysisService interface {
	SubmitImage(ctx context.Context, ownerID, originalName string, data []byte) (*usecase.StatusView, error)
	GetStatus(ctx context.Context, ownerID, id string) (*usecase.StatusView, error)
	GetStats(ctx context.Context, ownerID string) (*usecase.Stats, error)
	ListCompleted(ctx context.Context, ownerID string, page, pageSize int) (*usecase.ListPage, error)
	TriggerAnalysis(ctx context.Context, ownerID, id string) error
	RetryFailedAnalyses(ctx context.Context) (dispatcher.BatchReport, error)
}

// AccountService is the account surface consumed by the HTTP layer.
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, analysis AnalysisService, accounts AccountService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/api/auth/register", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		token, err := accounts.Register(c.Request.Context(), req.Username, req.Email, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrUserExists):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, usecase.ErrInvalidCredentials):
				c.JSON(http.StatusBadRequest, gin.H{"error": "username, email, and a password of at least 8 characters are required"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			}
			return
		}
		c.JSON(http.StatusCreated, gin.H{"token": token})
	})

	router.POST("/api/auth/login", func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		token, err := accounts.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	api := router.Group("/api", authMiddleware)

	api.POST("/images", func(c *gin.Context) {
		ownerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		if c.Request.ContentLength > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}
		if contentType := file.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "image/") {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are supported"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}
		if len(data) > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		view, err := analysis.SubmitImage(c.Request.Context(), ownerID, file.Filename, data)
		if err != nil {
			if errors.Is(err, usecase.ErrNotAnImage) {
				c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only image uploads are supported"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":           view.ID,
			"status":       view.Status,
			"submitted_at": view.SubmittedAt,
		})
	})

	api.GET("/analysis/stats", func(c *gin.Context) {
		ownerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		stats, err := analysis.GetStats(c.Request.Context(), ownerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate statistics"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	api.GET("/analysis/completed", func(c *gin.Context) {
		ownerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		page := queryInt(c, "page", 1)
		pageSize := queryInt(c, "page_size", 0)

		listing, err := analysis.ListCompleted(c.Request.Context(), ownerID, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list completed analyses"})
			return
		}
		c.JSON(http.StatusOK, listing)
	})

	api.POST("/analysis/retry", func(c *gin.Context) {
		if _, ok := auth.GetUserID(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		report, err := analysis.RetryFailedAnalyses(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "retry pass failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"attempted": report.Attempted,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		})
	})

	api.GET("/analysis/:id", func(c *gin.Context) {
		ownerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		view, err := analysis.GetStatus(c.Request.Context(), ownerID, c.Param("id"))
		if err != nil {
			respondAnalysisError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	api.POST("/analysis/:id/analyze", func(c *gin.Context) {
		ownerID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		id := c.Param("id")
		if err := analysis.TriggerAnalysis(c.Request.Context(), ownerID, id); err != nil {
			respondAnalysisError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "status": "processing"})
	})
}

func respondAnalysisError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, usecase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
	case errors.Is(err, usecase.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, usecase.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "record is already being processed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
