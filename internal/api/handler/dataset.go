package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/service"
)

const defaultFactLimit = 100

// PumpController runs server-side pumps. A nil controller leaves stepping
// to the client.
type PumpController interface {
	Ensure(datasetID string) bool
	Stop(datasetID string)
}

// DatasetHandler handles dataset registry and ingest endpoints.
type DatasetHandler struct {
	datasets          *service.DatasetService
	ingest            *service.IngestService
	pumps             PumpController
	maxDisplayColumns int
}

// DatasetHandlerConfig holds options for NewDatasetHandler.
type DatasetHandlerConfig struct {
	Pumps             PumpController
	MaxDisplayColumns int
}

// NewDatasetHandler creates a new dataset handler.
func NewDatasetHandler(
	datasets *service.DatasetService,
	ingest *service.IngestService,
	cfg *DatasetHandlerConfig,
) *DatasetHandler {
	h := &DatasetHandler{datasets: datasets, ingest: ingest}
	if cfg != nil {
		h.pumps = cfg.Pumps
		h.maxDisplayColumns = cfg.MaxDisplayColumns
	}
	return h
}

// List handles GET /api/datasets
func (h *DatasetHandler) List(c *gin.Context) {
	var (
		datasets []domain.Dataset
		err      error
	)
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		datasets, err = h.datasets.ListByStatus(c.Request.Context(), domain.DatasetStatus(strings.ToUpper(status)))
	} else {
		datasets, err = h.datasets.List(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}
	if datasets == nil {
		datasets = []domain.Dataset{}
	}
	c.JSON(http.StatusOK, gin.H{
		"datasets": datasets,
		"total":    len(datasets),
	})
}

// Get handles GET /api/datasets/:id
func (h *DatasetHandler) Get(c *gin.Context) {
	ds, err := h.datasets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

// Detect handles GET /api/datasets/:id/detect
func (h *DatasetHandler) Detect(c *gin.Context) {
	guess, err := h.datasets.Detect(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	columns := guess.Columns
	if columns == nil {
		columns = []string{}
	}
	resp := domain.DetectView{
		Columns:      columns,
		Guess:        guess.Guess,
		TotalColumns: len(columns),
	}
	if h.maxDisplayColumns > 0 && len(columns) > h.maxDisplayColumns {
		resp.Columns = columns[:h.maxDisplayColumns]
		resp.Truncated = true
	}
	c.JSON(http.StatusOK, resp)
}

// Status handles GET /api/datasets/:id/status
func (h *DatasetHandler) Status(c *gin.Context) {
	view, err := h.ingest.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Start handles POST /api/datasets/:id/ingest
// The body is either the mapping object itself or {"mapping": {...}}.
// Null role values mean unmapped.
func (h *DatasetHandler) Start(c *gin.Context) {
	mapping, err := readMapping(c.Request.Body)
	if err != nil {
		invalidInput(c, err.Error())
		return
	}

	id := c.Param("id")
	job, err := h.ingest.Start(c.Request.Context(), id, mapping)
	if err != nil {
		respondError(c, err)
		return
	}
	h.ensurePump(id)
	c.JSON(http.StatusAccepted, job)
}

// Step handles POST /api/datasets/:id/ingest-step
func (h *DatasetHandler) Step(c *gin.Context) {
	chunkRows := 0
	if raw := c.Query("chunk_rows"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			invalidInput(c, "chunk_rows must be an integer")
			return
		}
		chunkRows = n
	}

	res, err := h.ingest.Step(c.Request.Context(), c.Param("id"), chunkRows)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Cancel handles POST /api/datasets/:id/cancel
func (h *DatasetHandler) Cancel(c *gin.Context) {
	job, err := h.ingest.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Retry handles POST /api/datasets/:id/retry
func (h *DatasetHandler) Retry(c *gin.Context) {
	id := c.Param("id")
	job, err := h.ingest.Retry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	h.ensurePump(id)
	c.JSON(http.StatusAccepted, job)
}

type renameRequest struct {
	Name string `json:"name" form:"name"`
}

// Rename handles POST /api/datasets/:id/rename
// The name comes from the query string or a JSON body.
func (h *DatasetHandler) Rename(c *gin.Context) {
	name := c.Query("name")
	if name == "" && c.Request.ContentLength != 0 {
		var req renameRequest
		if err := c.ShouldBind(&req); err != nil {
			invalidInput(c, err.Error())
			return
		}
		name = req.Name
	}

	ds, err := h.datasets.Rename(c.Request.Context(), c.Param("id"), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

// HardDelete handles DELETE /api/datasets/:id/hard-delete
func (h *DatasetHandler) HardDelete(c *gin.Context) {
	id := c.Param("id")
	if h.pumps != nil {
		h.pumps.Stop(id)
	}
	if err := h.datasets.HardDelete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deleted":    true,
		"dataset_id": id,
	})
}

// Original handles GET /api/datasets/:id/original
func (h *DatasetHandler) Original(c *gin.Context) {
	rc, ds, err := h.datasets.OpenOriginal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	contentType := "application/octet-stream"
	if strings.EqualFold(filepath.Ext(ds.SourceFilename), ".csv") {
		contentType = "text/csv"
	}
	c.DataFromReader(http.StatusOK, ds.SizeBytes, contentType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filepath.Base(ds.SourceFilename)),
	})
}

// Facts handles GET /api/datasets/:id/facts
func (h *DatasetHandler) Facts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultFactLimit)))
	if err != nil || limit < 0 {
		invalidInput(c, "limit must be a non-negative integer")
		return
	}
	facts, err := h.datasets.Facts(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if facts == nil {
		facts = []domain.Fact{}
	}
	c.JSON(http.StatusOK, gin.H{"facts": facts, "count": len(facts)})
}

// Assets handles GET /api/datasets/:id/assets
func (h *DatasetHandler) Assets(c *gin.Context) {
	assets, err := h.datasets.Assets(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if assets == nil {
		assets = []domain.Asset{}
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets, "count": len(assets)})
}

func (h *DatasetHandler) ensurePump(id string) {
	if h.pumps != nil {
		h.pumps.Ensure(id)
	}
}

// readMapping decodes a mapping body. Role values must be strings or null.
func readMapping(body io.Reader) (domain.Mapping, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("mapping body must be a JSON object: %v", err)
	}
	if nested, ok := raw["mapping"]; ok && len(raw) == 1 {
		raw = nil
		if err := json.Unmarshal(nested, &raw); err != nil {
			return nil, fmt.Errorf("mapping must be a JSON object: %v", err)
		}
	}

	mapping := make(domain.Mapping, len(raw))
	for role, value := range raw {
		var col *string
		if err := json.Unmarshal(value, &col); err != nil {
			return nil, fmt.Errorf("%s must be a string or null", role)
		}
		mapping[role] = ""
		if col != nil {
			mapping[role] = *col
		}
	}
	return mapping, nil
}
