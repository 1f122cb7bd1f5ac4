package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/assetingest/internal/service"
)

// UploadHandler handles the chunked upload endpoints.
type UploadHandler struct {
	uploads *service.UploadService
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(uploads *service.UploadService) *UploadHandler {
	return &UploadHandler{uploads: uploads}
}

// InitRequest opens an upload session.
type InitRequest struct {
	Filename  string `json:"filename" form:"filename" binding:"required"`
	SizeBytes int64  `json:"size_bytes" form:"size_bytes"`
}

// FinalizeRequest assembles the parts of an upload session.
type FinalizeRequest struct {
	UploadID  string `json:"upload_id" form:"upload_id" binding:"required"`
	DatasetID string `json:"dataset_id" form:"dataset_id" binding:"required"`
	Filename  string `json:"filename" form:"filename"`
}

// Init handles POST /api/upload/init
func (h *UploadHandler) Init(c *gin.Context) {
	var req InitRequest
	if err := c.ShouldBind(&req); err != nil {
		invalidInput(c, err.Error())
		return
	}

	res, err := h.uploads.Init(c.Request.Context(), req.Filename, req.SizeBytes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Chunk handles POST /api/upload/chunk
// The multipart form carries upload_id, dataset_id, part_number and the
// part bytes in the "chunk" file field.
func (h *UploadHandler) Chunk(c *gin.Context) {
	uploadID := strings.TrimSpace(c.PostForm("upload_id"))
	datasetID := strings.TrimSpace(c.PostForm("dataset_id"))
	if uploadID == "" || datasetID == "" {
		invalidInput(c, "upload_id and dataset_id are required")
		return
	}

	partNumber, err := strconv.Atoi(c.PostForm("part_number"))
	if err != nil {
		invalidInput(c, "part_number must be an integer")
		return
	}

	fh, err := c.FormFile("chunk")
	if err != nil {
		invalidInput(c, "chunk file is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	ack, err := h.uploads.Chunk(c.Request.Context(), uploadID, datasetID, partNumber, f, fh.Size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// Finalize handles POST /api/upload/finalize
func (h *UploadHandler) Finalize(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBind(&req); err != nil {
		invalidInput(c, err.Error())
		return
	}

	res, err := h.uploads.Finalize(c.Request.Context(), req.UploadID, req.DatasetID, req.Filename)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
