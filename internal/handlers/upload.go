package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/utils"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-cloudvault/internal/services/uploader"
	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP statuses and business codes.
func respondError(c *gin.Context, err error) {
	type mapping struct {
		target error
		status int
		code   int
	}
	mappings := []mapping{
		{xerr.ErrInvalidParams, http.StatusBadRequest, xerr.InvalidParamsCode},
		{xerr.ErrFileTooLarge, http.StatusBadRequest, xerr.FileTooLargeCode},
		{xerr.ErrFileNameInvalid, http.StatusBadRequest, xerr.FileNameInvalidCode},
		{xerr.ErrChunkIndexInvalid, http.StatusBadRequest, xerr.ChunkIndexInvalidCode},
		{xerr.ErrChunkTooLarge, http.StatusBadRequest, xerr.ChunkTooLargeCode},
		{xerr.ErrSessionNotAccepting, http.StatusConflict, xerr.SessionNotAcceptingCode},
		{xerr.ErrSessionExpired, http.StatusGone, xerr.SessionExpiredCode},
		{xerr.ErrTooManySessions, http.StatusTooManyRequests, xerr.TooManySessionsCode},
		{xerr.ErrUnauthorized, http.StatusUnauthorized, xerr.UnauthorizedCode},
		{xerr.ErrForbidden, http.StatusForbidden, xerr.ForbiddenCode},
		{xerr.ErrUploadSessionNotFound, http.StatusNotFound, xerr.UploadSessionNotFoundCode},
		{xerr.ErrFileNotFound, http.StatusNotFound, xerr.FileNotFoundCode},
		{xerr.ErrSecurityRejected, http.StatusUnprocessableEntity, xerr.SecurityRejectedCode},
		{xerr.ErrStorageError, http.StatusInternalServerError, xerr.StorageErrorCode},
		{xerr.ErrMQError, http.StatusInternalServerError, xerr.MQErrorCode},
		{xerr.ErrDatabaseError, http.StatusInternalServerError, xerr.DatabaseErrorCode},
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			xerr.Error(c, m.status, m.code, m.target.Error())
			return
		}
	}
	xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, xerr.ErrInternalServer.Error())
}

// InitiateUpload godoc
// @Summary      Start a resumable upload session
// @Description  Creates an upload session and returns the chunk geometry the client must follow.
// @Tags         uploads
// @Accept       json
// @Produce      json
// @Param        request body models.InitiateUploadRequest true "upload parameters"
// @Success      201 {object} xerr.Response{data=models.InitiateUploadResponse}
// @Failure      400 {object} xerr.Response
// @Failure      429 {object} xerr.Response
// @Security     BearerAuth
// @Router       /uploads [post]
func InitiateUpload(svc *uploader.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := utils.GetUserIDFromContext(c)
		if err != nil {
			respondError(c, err)
			return
		}

		var req models.InitiateUploadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.ValidationFailedCode, err.Error())
			return
		}

		resp, err := svc.Initiate(c.Request.Context(), userID, &req)
		if err != nil {
			respondError(c, err)
			return
		}
		xerr.Success(c, http.StatusCreated, "upload session created", resp)
	}
}

// UploadChunk godoc
// @Summary      Submit one chunk of an upload session
// @Description  Stores the chunk payload. Re-sending a received chunk is a no-op success.
// @Tags         uploads
// @Accept       multipart/form-data
// @Produce      json
// @Param        session_id path string true "upload session ID"
// @Param        index path int true "zero-based chunk index"
// @Param        chunk formData file true "chunk payload"
// @Success      200 {object} xerr.Response{data=models.SubmitChunkResponse}
// @Failure      400 {object} xerr.Response
// @Failure      409 {object} xerr.Response
// @Failure      410 {object} xerr.Response
// @Security     BearerAuth
// @Router       /uploads/{session_id}/chunks/{index} [put]
func UploadChunk(svc *uploader.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := utils.GetUserIDFromContext(c)
		if err != nil {
			respondError(c, err)
			return
		}

		sessionID := c.Param("session_id")
		chunkIndex, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			respondError(c, xerr.ErrChunkIndexInvalid)
			return
		}

		fileHeader, err := c.FormFile("chunk")
		if err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "missing chunk payload")
			return
		}
		payload, err := fileHeader.Open()
		if err != nil {
			xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "unreadable chunk payload")
			return
		}
		defer payload.Close()

		resp, err := svc.SubmitChunk(c.Request.Context(), userID, sessionID, chunkIndex, payload, fileHeader.Size)
		if err != nil {
			respondError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "chunk received", resp)
	}
}

// GetUploadStatus godoc
// @Summary      Get the status of an upload session
// @Description  Returns progress and the missing chunk indices so a client can resume.
// @Tags         uploads
// @Produce      json
// @Param        session_id path string true "upload session ID"
// @Success      200 {object} xerr.Response{data=models.SessionStatusResponse}
// @Failure      404 {object} xerr.Response
// @Security     BearerAuth
// @Router       /uploads/{session_id} [get]
func GetUploadStatus(svc *uploader.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := utils.GetUserIDFromContext(c)
		if err != nil {
			respondError(c, err)
			return
		}

		resp, err := svc.Status(c.Request.Context(), userID, c.Param("session_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "ok", resp)
	}
}

// CancelUpload godoc
// @Summary      Cancel an upload session
// @Description  Aborts a session that has not yet entered assembly and frees its staged chunks.
// @Tags         uploads
// @Produce      json
// @Param        session_id path string true "upload session ID"
// @Success      200 {object} xerr.Response
// @Failure      404 {object} xerr.Response
// @Failure      409 {object} xerr.Response
// @Security     BearerAuth
// @Router       /uploads/{session_id} [delete]
func CancelUpload(svc *uploader.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := utils.GetUserIDFromContext(c)
		if err != nil {
			respondError(c, err)
			return
		}

		if err := svc.Cancel(c.Request.Context(), userID, c.Param("session_id")); err != nil {
			respondError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "upload session cancelled", nil)
	}
}

// ListUploads godoc
// @Summary      List the caller's upload sessions
// @Produce      json
// @Tags         uploads
// @Success      200 {object} xerr.Response{data=[]models.SessionSummary}
// @Security     BearerAuth
// @Router       /uploads [get]
func ListUploads(svc *uploader.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := utils.GetUserIDFromContext(c)
		if err != nil {
			respondError(c, err)
			return
		}

		summaries, err := svc.List(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		xerr.Success(c, http.StatusOK, "ok", summaries)
	}
}
