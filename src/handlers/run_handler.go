package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/username/slips/src/logger"
	"github.com/username/slips/src/models"
	"github.com/username/slips/src/reports"
	"github.com/username/slips/src/security/validation"
	"github.com/username/slips/src/services"
	"github.com/username/slips/src/utils"
)

type RunHandler struct {
	orchestrator services.RecreationOrchestrator
}

func NewRunHandler(orchestrator services.RecreationOrchestrator) *RunHandler {
	return &RunHandler{orchestrator: orchestrator}
}

type startRunRequest struct {
	FileName  string           `json:"file_name"`
	BatchType models.BatchType `json:"batch_type"`
}

// HandleStartRun runs an outward file through recreation. A run that halts is still
// created; the response carries its state and halt reason.
func (h *RunHandler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	fileName, ok := validation.SanitizeFileName(req.FileName)
	if !ok {
		utils.SendJSONError(w, "file_name must be a plain file name", http.StatusBadRequest)
		return
	}
	switch req.BatchType {
	case "", models.BatchNormal, models.BatchSalary:
	default:
		utils.SendJSONError(w, fmt.Sprintf("unknown batch_type %q", req.BatchType), http.StatusBadRequest)
		return
	}

	operator, _ := GetOperatorFromContext(r.Context())
	logger.FromContext(r.Context()).Info("Recreation requested", "fileName", fileName, "batchType", req.BatchType, "operator", operator)
	run, err := h.orchestrator.Start(r.Context(), fileName, req.BatchType)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/runs/"+run.ID)
	writeJSON(w, r, http.StatusCreated, run)
}

func (h *RunHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.orchestrator.List()
	if runs == nil {
		runs = []*services.Run{}
	}
	writeJSON(w, r, http.StatusOK, runs)
}

func (h *RunHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.orchestrator.Get(r.PathValue("runID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONWithETag(w, r, run)
}

func (h *RunHandler) HandleRetryRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.orchestrator.Retry(r.Context(), r.PathValue("runID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, run)
}

func (h *RunHandler) HandleDiscardRun(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Discard(r.Context(), r.PathValue("runID")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetRunFile downloads the released SLIP file of a run.
func (h *RunHandler) HandleGetRunFile(w http.ResponseWriter, r *http.Request) {
	run, err := h.orchestrator.Get(r.PathValue("runID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if run.State != models.RunReleased {
		utils.SendJSONError(w, fmt.Sprintf("run %s is %s, no file was released", run.ID, run.State), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=us-ascii")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.FileName))
	if _, err := w.Write([]byte(strings.Join(run.Lines, "\n") + "\n")); err != nil {
		logger.FromContext(r.Context()).Error("Error writing released file", "runID", run.ID, "error", err)
	}
}

// HandleGetRunReport returns the invalid-transaction and excluded-branch report as JSON.
func (h *RunHandler) HandleGetRunReport(w http.ResponseWriter, r *http.Request) {
	run, err := h.orchestrator.Get(r.PathValue("runID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONWithETag(w, r, reportFor(run))
}

// HandleGetRunReportExcel returns the same report as an .xlsx workbook.
func (h *RunHandler) HandleGetRunReportExcel(w http.ResponseWriter, r *http.Request) {
	run, err := h.orchestrator.Get(r.PathValue("runID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := reports.WriteExcel(&buf, reportFor(run)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ID+"-report.xlsx"))
	if _, err := buf.WriteTo(w); err != nil {
		logger.FromContext(r.Context()).Error("Error writing report", "runID", run.ID, "error", err)
	}
}

func reportFor(run *services.Run) reports.Report {
	return reports.Build(run.ID, run.FileName, run.State, run.InvalidTransactions, run.ExcludedBranches)
}
