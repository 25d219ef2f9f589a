package handlers

import (
	"net/http"

	"github.com/username/slips/src/security"
)

// NewAPIRouter registers the operator API. Everything except login requires a bearer token.
func NewAPIRouter(authService *security.AuthService, authHandler *AuthHandler, slips *SlipHandler, runs *RunHandler) *http.ServeMux {
	apiRouter := http.NewServeMux()
	requireOperator := AuthMiddleware(authService)
	protect := func(handler http.HandlerFunc) http.Handler {
		return requireOperator(handler)
	}

	apiRouter.HandleFunc("POST /api/auth/token", authHandler.HandleLogin)

	apiRouter.Handle("POST /api/slips/{direction}/upload", protect(slips.HandleUpload))
	apiRouter.Handle("GET /api/slips/{direction}", protect(slips.HandleListFiles))
	apiRouter.Handle("POST /api/slips/inward/{fileName}/reconcile", protect(slips.HandleReconcileInward))
	apiRouter.Handle("POST /api/slips/outward/stage", protect(slips.HandleStage))
	apiRouter.Handle("PUT /api/reference/code-mappings", protect(slips.HandleUpdateCodeMapping))

	apiRouter.Handle("POST /api/runs", protect(runs.HandleStartRun))
	apiRouter.Handle("GET /api/runs", protect(runs.HandleListRuns))
	apiRouter.Handle("GET /api/runs/{runID}", protect(runs.HandleGetRun))
	apiRouter.Handle("POST /api/runs/{runID}/retry", protect(runs.HandleRetryRun))
	apiRouter.Handle("DELETE /api/runs/{runID}", protect(runs.HandleDiscardRun))
	apiRouter.Handle("GET /api/runs/{runID}/file", protect(runs.HandleGetRunFile))
	apiRouter.Handle("GET /api/runs/{runID}/report", protect(runs.HandleGetRunReport))
	apiRouter.Handle("GET /api/runs/{runID}/report.xlsx", protect(runs.HandleGetRunReportExcel))

	return apiRouter
}
