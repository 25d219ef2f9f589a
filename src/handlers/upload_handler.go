// src/handlers/upload_handler.go
package handlers

import (
	"fmt"
	"net/http"

	"github.com/username/slips/src/config"
	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/models"
	"github.com/username/slips/src/security/validation"
	"github.com/username/slips/src/services"
	"github.com/username/slips/src/utils"
)

// CodeMappingWriter persists an operator's code-mapping update.
type CodeMappingWriter interface {
	SaveCodeMapping(from, to string) error
}

type SlipHandler struct {
	insertion services.InsertionService
	mappings  CodeMappingWriter
	maxUpload int64
}

func NewSlipHandler(insertion services.InsertionService, mappings CodeMappingWriter) *SlipHandler {
	maxUpload := int64(10 << 20)
	if config.Cfg != nil && config.Cfg.MaxUploadSizeBytes > 0 {
		maxUpload = config.Cfg.MaxUploadSizeBytes
	}
	return &SlipHandler{insertion: insertion, mappings: mappings, maxUpload: maxUpload}
}

type uploadResponse struct {
	FileName     string        `json:"file_name"`
	Direction    string        `json:"direction"`
	Status       models.Status `json:"status"`
	Branches     int           `json:"branches"`
	Transactions int           `json:"transactions"`
}

// HandleUpload ingests a SLIP file sent as the multipart field "file".
func (h *SlipHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	dir, ok := models.ParseDirection(r.PathValue("direction"))
	if !ok {
		utils.SendJSONError(w, fmt.Sprintf("unknown direction %q", r.PathValue("direction")), http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		log.Warn("Failed to parse multipart form or request too large", "error", err, "limit", h.maxUpload)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", h.maxUpload/(1024*1024)), http.StatusBadRequest)
		return
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		log.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if fileHeader.Size > h.maxUpload {
		utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", h.maxUpload/(1024*1024)), http.StatusBadRequest)
		return
	}
	fileName, ok := validation.SanitizeFileName(fileHeader.Filename)
	if !ok {
		utils.SendJSONError(w, fmt.Sprintf("invalid file name %q", fileHeader.Filename), http.StatusBadRequest)
		return
	}
	clientContentType := fileHeader.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := validation.ValidateFileContentByMagicBytes(file); err != nil {
		log.Warn("Server-side file content validation failed", "fileName", fileName, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	slipFile, err := h.insertion.Ingest(r.Context(), dir, file, fileName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, uploadResponse{
		FileName:     slipFile.Name,
		Direction:    string(dir),
		Status:       slipFile.Header.Status,
		Branches:     len(slipFile.Branches),
		Transactions: slipFile.TransactionCount(),
	})
}

func (h *SlipHandler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	dir, ok := models.ParseDirection(r.PathValue("direction"))
	if !ok {
		utils.SendJSONError(w, fmt.Sprintf("unknown direction %q", r.PathValue("direction")), http.StatusNotFound)
		return
	}
	headers, err := h.insertion.ListFiles(r.Context(), dir)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if headers == nil {
		headers = []models.FileHeader{}
	}
	writeJSONWithETag(w, r, headers)
}

func (h *SlipHandler) HandleReconcileInward(w http.ResponseWriter, r *http.Request) {
	fileName, ok := validation.SanitizeFileName(r.PathValue("fileName"))
	if !ok {
		utils.SendJSONError(w, "invalid file name", http.StatusBadRequest)
		return
	}
	result, err := h.insertion.ReconcileInward(r.Context(), fileName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type stageRequest struct {
	InwardFile  string `json:"inward_file"`
	OutwardFile string `json:"outward_file"`
}

// HandleStage copies a stored inward file into the outward tables for recreation.
func (h *SlipHandler) HandleStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	inward, okIn := validation.SanitizeFileName(req.InwardFile)
	outward, okOut := validation.SanitizeFileName(req.OutwardFile)
	if !okIn || !okOut {
		utils.SendJSONError(w, "inward_file and outward_file must be plain file names", http.StatusBadRequest)
		return
	}
	if err := h.insertion.StageFromInward(r.Context(), inward, outward); err != nil {
		writeServiceError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("Outward file staged", "inwardFile", inward, "outwardFile", outward)
	writeJSON(w, r, http.StatusCreated, map[string]string{"outward_file": outward, "status": string(models.StatusPending)})
}

type mappingRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// HandleUpdateCodeMapping adds or replaces a code mapping. Halted runs see it on retry.
func (h *SlipHandler) HandleUpdateCodeMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if len(req.From) != 2 || len(req.To) != 2 || !utils.IsNumeric(req.From) || !utils.IsNumeric(req.To) {
		utils.SendJSONError(w, "from and to must be two-digit transaction codes", http.StatusBadRequest)
		return
	}
	if err := h.mappings.SaveCodeMapping(req.From, req.To); err != nil {
		writeServiceError(w, r, err)
		return
	}
	operator, _ := GetOperatorFromContext(r.Context())
	logger.FromContext(r.Context()).Info("Code mapping updated", "from", req.From, "to", req.To, "operator", operator)
	writeJSON(w, r, http.StatusOK, req)
}
