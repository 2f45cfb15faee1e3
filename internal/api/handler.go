package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/derekatbrim/ranger/internal/models"
	"github.com/derekatbrim/ranger/internal/repository"
)

// Resolver is the dedup entry point the intake endpoint calls after storing
// a report.
type Resolver interface {
	ResolveNow(ctx context.Context, report *models.Report) (*models.MatchResult, error)
}

type Handler struct {
	store    repository.Store
	resolver Resolver
}

func NewHandler(store repository.Store, resolver Resolver) *Handler {
	return &Handler{
		store:    store,
		resolver: resolver,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/api/reports", h.createReport)
	r.GET("/api/incidents", h.getIncidents)
	r.GET("/api/incidents/:id", h.getIncident)
	r.GET("/api/incidents/:id/reports", h.getIncidentReports)
	r.GET("/health", h.health)
}

type reportRequest struct {
	ExternalID  string    `json:"external_id"`
	Type        string    `json:"type" binding:"required"`
	Category    string    `json:"category"`
	Latitude    float64   `json:"latitude" binding:"gte=-90,lte=90"`
	Longitude   float64   `json:"longitude" binding:"gte=-180,lte=180"`
	OccurredAt  time.Time `json:"occurred_at" binding:"required"`
	Source      string    `json:"source" binding:"required"`
	Confidence  float64   `json:"confidence" binding:"gte=0,lte=1"`
	Description string    `json:"description"`
}

type reportResponse struct {
	ReportID string `json:"report_id"`
	models.MatchResult
}

func (h *Handler) createReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report := &models.Report{
		ID:          uuid.NewString(),
		ExternalID:  req.ExternalID,
		Type:        req.Type,
		Category:    req.Category,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		OccurredAt:  req.OccurredAt,
		Source:      models.SourceKind(req.Source),
		Confidence:  req.Confidence,
		Description: req.Description,
		Status:      models.ReportStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := report.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.InsertReport(c.Request.Context(), report); err != nil {
		if errors.Is(err, repository.ErrDuplicateReport) {
			c.JSON(http.StatusConflict, gin.H{"error": "report already ingested"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store report"})
		return
	}

	result, err := h.resolver.ResolveNow(c.Request.Context(), report)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Race lost: the report stays pending and the sweeper will
			// retry it against the freshly updated incident.
			c.JSON(http.StatusAccepted, gin.H{
				"report_id": report.ID,
				"status":    string(models.ReportStatusPending),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve report"})
		return
	}
	if result == nil {
		// The pending sweeper resolved it first
		stored, err := h.store.GetReport(c.Request.Context(), report.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch report"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"report_id":   stored.ID,
			"incident_id": stored.IncidentID,
		})
		return
	}

	c.JSON(http.StatusCreated, reportResponse{
		ReportID:    report.ID,
		MatchResult: *result,
	})
}

func (h *Handler) getIncidents(c *gin.Context) {
	filter := repository.Filter{
		Limit: 50, // Default if limit param not supplied
	}

	if s := c.Query("since"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			filter.Since = &t
		}
	}
	if cat := c.Query("category"); cat != "" {
		filter.Category = &cat
	}
	if t := c.Query("type"); t != "" {
		filter.Type = &t
	}
	if mc := c.Query("min_confidence"); mc != "" {
		if f, err := strconv.ParseFloat(mc, 64); err == nil && f >= 0 && f <= 1 {
			filter.MinConfidence = &f
		}
	}
	if mr := c.Query("min_reports"); mr != "" {
		if n, err := strconv.Atoi(mr); err == nil && n > 0 {
			filter.MinReports = &n
		}
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}

	incidents, err := h.store.ListIncidents(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to fetch incidents",
		})
		return
	}

	fc := toGeoJSON(incidents)
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

func (h *Handler) getIncident(c *gin.Context) {
	incident, err := h.store.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incident"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           incident.ID,
		"type":         incident.Type,
		"category":     incident.Category,
		"latitude":     incident.Latitude,
		"longitude":    incident.Longitude,
		"occurred_at":  incident.OccurredAt,
		"description":  incident.Description,
		"report_count": incident.ReportCount,
		"confidence":   incident.Confidence,
		"sources":      incident.SourceKinds,
		"created_at":   incident.CreatedAt,
	})
}

func (h *Handler) getIncidentReports(c *gin.Context) {
	id := c.Param("id")

	if _, err := h.store.GetIncident(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incident"})
		return
	}

	reports, err := h.store.ListReportsByIncident(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch reports"})
		return
	}

	out := make([]gin.H, 0, len(reports))
	for _, r := range reports {
		out = append(out, gin.H{
			"id":          r.ID,
			"type":        r.Type,
			"latitude":    r.Latitude,
			"longitude":   r.Longitude,
			"occurred_at": r.OccurredAt,
			"source":      r.Source,
			"confidence":  r.Confidence,
			"description": r.Description,
			"status":      r.Status,
		})
	}

	c.JSON(http.StatusOK, gin.H{"incident_id": id, "reports": out})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
