package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gamewatch/internal/models"
	"gamewatch/internal/services"
	"gamewatch/internal/services/itad"
	"gamewatch/internal/store"
)

type APIHandler struct {
	store *store.Store
	itad  *itad.Client
	hub   *services.Hub
}

func SetupRoutes(r *gin.RouterGroup, st *store.Store, itadClient *itad.Client, hub *services.Hub) *APIHandler {
	handler := &APIHandler{
		store: st,
		itad:  itadClient,
		hub:   hub,
	}

	watches := r.Group("/watches")
	{
		watches.POST("", handler.AddWatch)
		watches.GET("", handler.ListWatches)
		watches.GET("/:identifier", handler.GetWatch)
		watches.PUT("/:identifier", handler.UpdateWatch)
		watches.DELETE("/:identifier", handler.DeleteWatch)
		watches.GET("/:identifier/schedule", handler.GetSchedule)
		watches.GET("/:identifier/notifications", handler.ListNotifications)
	}

	games := r.Group("/games")
	{
		games.GET("", handler.ListGames)
		games.GET("/:name", handler.GetGameInfo)
	}

	prices := r.Group("/prices")
	{
		prices.GET("/lowest", handler.GetLowestPrice)
		prices.GET("/best-deal", handler.GetBestDeal)
		prices.GET("/all-time-low", handler.GetAllTimeLow)
	}

	r.GET("/history", handler.GetHistory)
	r.GET("/history/export", handler.ExportHistory)

	return handler
}

// handleError maps the store/provider error taxonomy onto HTTP statuses.
func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrAmbiguousReference):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, itad.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// normalizeCriteria accepts "all time low", "All-Time-Low" etc. and maps
// them onto the stored enum values.
func normalizeCriteria(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

type addWatchRequest struct {
	GameName      string   `json:"game_name" binding:"required"`
	Region        string   `json:"region"`
	Platform      string   `json:"platform"`
	CriteriaType  string   `json:"criteria_type" binding:"required"`
	CriteriaValue *float64 `json:"criteria_value"`
	Schedule      string   `json:"schedule" binding:"required"`
	OwnerRef      string   `json:"owner_ref"`
}

func (h *APIHandler) AddWatch(c *gin.Context) {
	var req addWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Region == "" {
		req.Region = "US"
	}
	if req.Platform == "" {
		req.Platform = models.PlatformWindows
	}

	w := &models.Watch{
		GameName:      req.GameName,
		Region:        strings.ToUpper(req.Region),
		Platform:      req.Platform,
		CriteriaType:  normalizeCriteria(req.CriteriaType),
		CriteriaValue: req.CriteriaValue,
		Schedule:      req.Schedule,
		OwnerRef:      req.OwnerRef,
	}
	if err := h.store.Create(w); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *APIHandler) ListWatches(c *gin.Context) {
	watches, err := h.store.List()
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, watches)
}

func (h *APIHandler) GetWatch(c *gin.Context) {
	w, err := h.store.Resolve(c.Param("identifier"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type updateWatchRequest struct {
	Region        *string  `json:"region"`
	Platform      *string  `json:"platform"`
	CriteriaType  *string  `json:"criteria_type"`
	CriteriaValue *float64 `json:"criteria_value"`
	Schedule      *string  `json:"schedule"`
	OwnerRef      *string  `json:"owner_ref"`
}

func (h *APIHandler) UpdateWatch(c *gin.Context) {
	w, err := h.store.Resolve(c.Param("identifier"))
	if err != nil {
		handleError(c, err)
		return
	}

	var req updateWatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields := store.UpdateFields{
		Platform:      req.Platform,
		CriteriaValue: req.CriteriaValue,
		Schedule:      req.Schedule,
		OwnerRef:      req.OwnerRef,
	}
	if req.Region != nil {
		region := strings.ToUpper(*req.Region)
		fields.Region = &region
	}
	if req.CriteriaType != nil {
		criteria := normalizeCriteria(*req.CriteriaType)
		fields.CriteriaType = &criteria
	}

	updated, err := h.store.Update(w.ID, fields)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *APIHandler) DeleteWatch(c *gin.Context) {
	deleted, err := h.store.Delete(c.Param("identifier"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *APIHandler) GetSchedule(c *gin.Context) {
	w, err := h.store.Resolve(c.Param("identifier"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"watch_id":    w.ID,
		"schedule":    w.Schedule,
		"next_run_at": w.NextRunAt,
	})
}

func (h *APIHandler) ListNotifications(c *gin.Context) {
	w, err := h.store.Resolve(c.Param("identifier"))
	if err != nil {
		handleError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	recs, err := h.store.Notifications(w.ID, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *APIHandler) ListGames(c *gin.Context) {
	names, err := h.store.GameNames()
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": names})
}

// GetGameInfo returns the watches on a game plus a summary of its observed
// price history and, best effort, the provider-side all-time low.
func (h *APIHandler) GetGameInfo(c *gin.Context) {
	name := c.Param("name")
	watches, err := h.store.GetByName(name)
	if err != nil {
		handleError(c, err)
		return
	}
	if len(watches) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	type historySummary struct {
		Region     string                `json:"region"`
		Platform   string                `json:"platform"`
		Snapshots  int                   `json:"snapshots"`
		Latest     *models.PriceSnapshot `json:"latest,omitempty"`
		AllTimeLow *models.PriceSnapshot `json:"all_time_low,omitempty"`
	}

	seen := make(map[models.GameRef]bool)
	var summaries []historySummary
	for _, w := range watches {
		ref := w.Ref()
		if seen[ref] {
			continue
		}
		seen[ref] = true

		snaps, err := h.store.History(ref, 0)
		if err != nil {
			handleError(c, err)
			return
		}
		summary := historySummary{Region: ref.Region, Platform: ref.Platform, Snapshots: len(snaps)}
		if len(snaps) > 0 {
			summary.Latest = &snaps[0]
		}
		if low, err := h.store.AllTimeLow(ref); err == nil {
			summary.AllTimeLow = low
		}
		summaries = append(summaries, summary)
	}

	resp := gin.H{
		"game_name": watches[0].GameName,
		"watches":   watches,
		"history":   summaries,
	}
	if price, currency, err := h.itad.HistoryLow(c.Request.Context(), watches[0].GameName, watches[0].Region); err == nil {
		resp["provider_all_time_low"] = gin.H{"price": price, "currency": currency}
	}
	c.JSON(http.StatusOK, resp)
}

// refFromQuery builds a game reference from query parameters, with the
// same defaults the original watch creation uses.
func refFromQuery(c *gin.Context) (models.GameRef, error) {
	name := c.Query("game")
	if name == "" {
		return models.GameRef{}, fmt.Errorf("%w: query parameter 'game' is required", store.ErrValidation)
	}
	return models.GameRef{
		GameName: name,
		Region:   strings.ToUpper(c.DefaultQuery("region", "US")),
		Platform: c.DefaultQuery("platform", models.PlatformWindows),
	}, nil
}

// GetLowestPrice fetches the current cheapest offer from the provider.
func (h *APIHandler) GetLowestPrice(c *gin.Context) {
	ref, err := refFromQuery(c)
	if err != nil {
		handleError(c, err)
		return
	}
	snap, err := h.itad.Fetch(c.Request.Context(), ref)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetBestDeal returns every store tied at the minimum current price.
func (h *APIHandler) GetBestDeal(c *gin.Context) {
	ref, err := refFromQuery(c)
	if err != nil {
		handleError(c, err)
		return
	}
	deals, err := h.itad.BestDeals(c.Request.Context(), ref)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, deals)
}

// GetAllTimeLow returns the locally observed all-time low when a platform
// is given, otherwise the provider's cross-platform historical low.
func (h *APIHandler) GetAllTimeLow(c *gin.Context) {
	name := c.Query("game")
	if name == "" {
		handleError(c, fmt.Errorf("%w: query parameter 'game' is required", store.ErrValidation))
		return
	}
	region := strings.ToUpper(c.DefaultQuery("region", "US"))

	if platform := c.Query("platform"); platform != "" {
		snap, err := h.store.AllTimeLow(models.GameRef{GameName: name, Region: region, Platform: platform})
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
		return
	}

	price, currency, err := h.itad.HistoryLow(c.Request.Context(), name, region)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"price": price, "currency": currency})
}

func (h *APIHandler) GetHistory(c *gin.Context) {
	ref, err := refFromQuery(c)
	if err != nil {
		handleError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	snaps, err := h.store.History(ref, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, snaps)
}

// ExportHistory streams the snapshot history as an Excel workbook.
func (h *APIHandler) ExportHistory(c *gin.Context) {
	ref, err := refFromQuery(c)
	if err != nil {
		handleError(c, err)
		return
	}
	snaps, err := h.store.History(ref, 0)
	if err != nil {
		handleError(c, err)
		return
	}
	f, err := services.HistoryReport(ref, snaps)
	if err != nil {
		handleError(c, err)
		return
	}

	filename := fmt.Sprintf("%s-%s-%s-history.xlsx", ref.GameName, ref.Region, ref.Platform)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := f.Write(c.Writer); err != nil {
		c.Status(http.StatusInternalServerError)
	}
}

// HandleWS upgrades the connection and registers it with the alert hub.
func (h *APIHandler) HandleWS(c *gin.Context) {
	h.hub.HandleWS(c.Writer, c.Request)
}
