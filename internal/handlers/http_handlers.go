package handlers

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"raffle/internal/apperr"
	"raffle/internal/models"
	"raffle/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/google/uuid"
)

const (
	tenantCookie     = "raffle_tenant"
	tenantContextKey = "tenantID"

	minSpinDuration = time.Second
	maxSpinDuration = 60 * time.Second
)

// HTTPHandler holds the dependencies for the HTTP handlers.
type HTTPHandler struct {
	raffle       *services.RaffleService
	profiles     *services.ProfileService
	defaultSpin  time.Duration
	cookieMaxAge int
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(raffle *services.RaffleService, profiles *services.ProfileService, defaultSpin time.Duration) *HTTPHandler {
	return &HTTPHandler{
		raffle:       raffle,
		profiles:     profiles,
		defaultSpin:  defaultSpin,
		cookieMaxAge: int((24 * time.Hour).Seconds()),
	}
}

// RegisterPublicRoutes registers routes that do not need a tenant.
func (h *HTTPHandler) RegisterPublicRoutes(router gin.IRouter) {
	router.GET("/healthz", h.Health)
	router.GET("/profile/:identifier", h.GetProfile)
	router.POST("/profile/:identifier/refresh", h.RefreshProfile)
	router.GET("/cache/stats", h.CacheStats)
	router.POST("/cache/purge", h.PurgeCache)
}

// RegisterTenantRoutes registers routes scoped to the caller's raffle session.
func (h *HTTPHandler) RegisterTenantRoutes(router gin.IRouter) {
	router.GET("/participants", h.ListParticipants)
	router.POST("/participants", h.ImportParticipants)
	router.DELETE("/participants", h.ClearParticipants)
	router.POST("/upload-participants-csv", h.UploadParticipantsCSV)

	router.GET("/hosts", h.ListHosts)
	router.POST("/hosts", h.AddHosts)
	router.DELETE("/hosts/:index", h.RemoveHost)

	router.GET("/draw", h.DrawStatus)
	router.POST("/draw", h.PerformDraw)
	router.GET("/draw/stream", h.StreamDraw)
	router.POST("/draw/cancel", h.CancelDraw)
	router.POST("/draw/reset", h.ResetDraw)

	router.GET("/results", h.ListResults)
	router.GET("/export-results-csv", h.ExportResultsCSV)
}

// TenantMiddleware identifies the caller's session by cookie, issuing a new
// id on first contact.
func (h *HTTPHandler) TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := c.Cookie(tenantCookie)
		if err != nil || uuid.Validate(tenantID) != nil {
			tenantID = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(tenantCookie, tenantID, h.cookieMaxAge, "/", "", false, true)
		}
		c.Set(tenantContextKey, tenantID)
		c.Next()
	}
}

func tenantID(c *gin.Context) string {
	return c.GetString(tenantContextKey)
}

// respondError writes err as JSON with the status its kind maps to.
func respondError(c *gin.Context, err error) {
	status := apperr.StatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  apperr.Code(err),
	})
}

// Health reports liveness.
func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListParticipants returns the current participant batch, filtered by the
// optional q parameter. total is the size of the unfiltered batch.
func (h *HTTPHandler) ListParticipants(c *gin.Context) {
	participants, total := h.raffle.SearchParticipants(tenantID(c), c.Query("q"))
	c.JSON(http.StatusOK, gin.H{
		"participants": participants,
		"total":        total,
	})
}

// ImportParticipants replaces the participant batch from a JSON array.
func (h *HTTPHandler) ImportParticipants(c *gin.Context) {
	var participants []models.Participant
	if err := c.ShouldBindJSON(&participants); err != nil {
		respondError(c, apperr.NewInvalidArgument("invalid participant list", "body", "").WithCause(err))
		return
	}

	imported, err := h.raffle.ImportParticipants(tenantID(c), participants)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": imported})
}

// ClearParticipants removes the participant batch.
func (h *HTTPHandler) ClearParticipants(c *gin.Context) {
	h.raffle.ClearParticipants(tenantID(c))
	c.Status(http.StatusNoContent)
}

// UploadParticipantsCSV handles the CSV upload for participants.
func (h *HTTPHandler) UploadParticipantsCSV(c *gin.Context) {
	file, _, err := c.Request.FormFile("participantCSV")
	if err != nil {
		respondError(c, apperr.NewInvalidArgument("error retrieving file", "participantCSV", "").WithCause(err))
		return
	}
	defer file.Close()

	participants, err := services.ParseParticipantsCSV(file)
	if err != nil {
		respondError(c, err)
		return
	}

	imported, err := h.raffle.ImportParticipants(tenantID(c), participants)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": imported})
}

// ListHosts returns the raffle hosts.
func (h *HTTPHandler) ListHosts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"hosts": h.raffle.Hosts(tenantID(c))})
}

type addHostsRequest struct {
	Usernames []string `json:"usernames" binding:"required,min=1,max=3"`
}

// AddHosts looks up and appends one or more hosts.
func (h *HTTPHandler) AddHosts(c *gin.Context) {
	var req addHostsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.NewInvalidArgument("usernames must list 1 to 3 names", "usernames", "").WithCause(err))
		return
	}

	hosts, err := h.raffle.AddHosts(c.Request.Context(), tenantID(c), req.Usernames)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hosts": hosts})
}

// RemoveHost deletes the host at the given position.
func (h *HTTPHandler) RemoveHost(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, apperr.NewInvalidArgument("invalid host index", "index", c.Param("index")))
		return
	}

	hosts, err := h.raffle.RemoveHost(tenantID(c), index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hosts": hosts})
}

// DrawStatus reports the draw state and the current winner.
func (h *HTTPHandler) DrawStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.raffle.DrawStatus(tenantID(c)))
}

// PerformDraw draws a winner immediately, without a suspense phase.
func (h *HTTPHandler) PerformDraw(c *gin.Context) {
	result, err := h.raffle.Draw(c.Request.Context(), tenantID(c), 0, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// StreamDraw runs the suspense phase as server-sent events: one "highlight"
// event per tick followed by a "winner" event, or an "error" event if the run
// is cancelled. Draws that cannot start get a plain JSON error instead.
func (h *HTTPHandler) StreamDraw(c *gin.Context) {
	duration, err := h.spinDuration(c.Query("duration"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.raffle.CheckDrawReady(tenantID(c)); err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	result, err := h.raffle.Draw(c.Request.Context(), tenantID(c), duration, func(p models.Participant) {
		c.SSEvent("highlight", p)
		c.Writer.Flush()
	})
	if err != nil {
		c.SSEvent("error", gin.H{"error": err.Error(), "kind": apperr.Code(err)})
		c.Writer.Flush()
		return
	}
	c.SSEvent("winner", result)
	c.Writer.Flush()
}

// spinDuration parses a Go duration ("7s") or a plain number of seconds,
// clamped to 1-60 seconds.
func (h *HTTPHandler) spinDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return clampSpin(h.defaultSpin), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, apperr.NewInvalidArgument("invalid spin duration", "duration", raw)
		}
		d = time.Duration(secs) * time.Second
	}
	return clampSpin(d), nil
}

func clampSpin(d time.Duration) time.Duration {
	return min(max(d, minSpinDuration), maxSpinDuration)
}

// CancelDraw stops a running suspense phase.
func (h *HTTPHandler) CancelDraw(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": h.raffle.CancelDraw(tenantID(c))})
}

// ResetDraw clears the winner and returns the draw to idle.
func (h *HTTPHandler) ResetDraw(c *gin.Context) {
	h.raffle.ResetDraw(tenantID(c))
	c.JSON(http.StatusOK, h.raffle.DrawStatus(tenantID(c)))
}

// ListResults returns the draw history.
func (h *HTTPHandler) ListResults(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": h.raffle.Results(tenantID(c))})
}

// ExportResultsCSV handles the request to download the draw results as a CSV file.
func (h *HTTPHandler) ExportResultsCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment;filename=raffle_results.csv")

	// Add BOM to ensure UTF-8 compatibility in Excel
	c.Writer.Write([]byte("\xef\xbb\xbf"))

	w := csv.NewWriter(c.Writer)

	if err := w.Write([]string{"drawn_at", "id", "name", "username", "display_name", "followers"}); err != nil {
		logger.Infof("Error writing CSV header: %v", err)
		c.String(http.StatusInternalServerError, "Error writing CSV")
		return
	}

	for _, result := range h.raffle.Results(tenantID(c)) {
		row := []string{
			result.DrawnAt.UTC().Format(time.RFC3339),
			result.Winner.ID,
			result.Winner.Name,
			result.Winner.Username,
			"",
			"",
		}
		if result.Profile != nil {
			row[4] = result.Profile.DisplayName
			row[5] = strconv.FormatInt(result.Profile.FollowerCount, 10)
		}
		if err := w.Write(row); err != nil {
			logger.Infof("Error writing CSV row: %v", err)
			c.String(http.StatusInternalServerError, "Error writing CSV")
			return
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		logger.Infof("Error flushing CSV writer: %v", err)
		c.String(http.StatusInternalServerError, "Error writing CSV")
	}
}
