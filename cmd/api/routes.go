package main

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"smartattend/internal/audit"
	"smartattend/internal/auth"
	"smartattend/internal/config"
	"smartattend/internal/facestore"
	"smartattend/internal/mediastore"
	"smartattend/internal/recognize"
	"smartattend/internal/session"
	"smartattend/internal/verify"
)

type handlers struct {
	cfg        config.App
	log        *zap.Logger
	sessions   *session.Manager
	faces      *facestore.Service
	verifier   *verify.Verifier
	recognizer *recognize.Recognizer
	media      *mediastore.Client
	auditRepo  *audit.Repository
}

func (h *handlers) register(r *gin.Engine) {
	// login lives in the wider platform; outside production a dev endpoint
	// mints tokens so the flow can be exercised end to end
	if h.cfg.Env != "production" && h.cfg.Env != "prod" {
		r.POST("/v1/dev/tokens", h.devToken)
	}

	authed := r.Group("/v1", auth.Bearer(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))

	teacher := authed.Group("", auth.RequireRole(auth.RoleTeacher))
	teacher.POST("/sessions", h.openSession)
	teacher.POST("/sessions/:id/token", h.reissueToken)
	teacher.POST("/sessions/:id/photo", h.submitPhoto)
	teacher.POST("/sessions/:id/finalize", h.finalizeSession)
	teacher.POST("/sessions/:id/cancel", h.cancelSession)
	teacher.GET("/sessions/:id/roll", h.sessionRoll)
	teacher.GET("/sessions/:id/audit", h.sessionAudit)

	student := authed.Group("", auth.RequireRole(auth.RoleStudent))
	student.POST("/tokens/validate", h.validateToken)
	student.POST("/sessions/:id/checkins", h.checkIn)
	student.POST("/faces", h.enrollFace)
	student.GET("/faces", h.listFaces)
	student.DELETE("/faces/:id", h.deleteFace)

	authed.GET("/sessions/:id", h.sessionStatus)
	authed.POST("/media", h.uploadMedia)
}

func (h *handlers) devToken(c *gin.Context) {
	var req struct {
		Subject string `json:"subject" binding:"required"`
		Role    string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role != auth.RoleTeacher && req.Role != auth.RoleStudent {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be teacher or student"})
		return
	}
	signed, exp, err := auth.Issue(req.Subject, req.Role, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"access_token": signed, "expires_at": exp.Unix()})
}

func (h *handlers) openSession(c *gin.Context) {
	var req struct {
		ScheduleID string `json:"schedule_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, tok, err := h.sessions.Open(c.Request.Context(), req.ScheduleID, auth.FromContext(c).Subject)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": st.SessionID,
		"state":      st.State,
		"token":      tok.Value,
		"expires_at": tok.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *handlers) reissueToken(c *gin.Context) {
	tok, err := h.sessions.Reissue(c.Request.Context(), c.Param("id"), auth.FromContext(c).Subject)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":      tok.Value,
		"expires_at": tok.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *handlers) validateToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := h.sessions.ValidateToken(c.Request.Context(), req.Token, auth.FromContext(c).Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *handlers) checkIn(c *gin.Context) {
	var req struct {
		Token  string `json:"token" binding:"required"`
		Sample string `json:"sample" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID := c.Param("id")
	studentID := auth.FromContext(c).Subject

	confidence, err := h.verifier.Verify(c.Request.Context(), sessionID, studentID, req.Sample)
	if err != nil {
		if errors.Is(err, verify.ErrNotEnrolled) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "no enrolled face templates; enroll a face first",
			})
			return
		}
		h.log.Warn("live verification failed", zap.String("student_id", studentID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "face verification unavailable"})
		return
	}

	res, err := h.sessions.RecordCheckIn(c.Request.Context(), sessionID, studentID, req.Token, confidence)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":    res.Outcome,
		"confidence": res.Confidence,
	})
}

func (h *handlers) submitPhoto(c *gin.Context) {
	var req struct {
		Photo string `json:"photo" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessionID := c.Param("id")

	dets, err := h.recognizer.Detect(c.Request.Context(), req.Photo)
	if err != nil {
		// prior detections, if any, stay in place
		h.log.Warn("photo processing failed", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "photo processing failed, retry with a new photo"})
		return
	}
	if err := h.sessions.SubmitPhoto(c.Request.Context(), sessionID, auth.FromContext(c).Subject, dets); err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detections": dets})
}

func (h *handlers) finalizeSession(c *gin.Context) {
	roll, err := h.sessions.Finalize(c.Request.Context(), c.Param("id"), auth.FromContext(c).Subject)
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": roll})
}

func (h *handlers) cancelSession(c *gin.Context) {
	if err := h.sessions.Cancel(c.Request.Context(), c.Param("id"), auth.FromContext(c).Subject); err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": session.StateCancelled})
}

func (h *handlers) sessionStatus(c *gin.Context) {
	st, err := h.sessions.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) sessionRoll(c *gin.Context) {
	roll, err := h.sessions.Roll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": roll})
}

func (h *handlers) sessionAudit(c *gin.Context) {
	if h.auditRepo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit store not configured"})
		return
	}
	events, err := h.auditRepo.ListBySession(c.Request.Context(), c.Param("id"), 200)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *handlers) enrollFace(c *gin.Context) {
	var req struct {
		Sample string `json:"sample" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tpl, err := h.faces.Enroll(c.Request.Context(), auth.FromContext(c).Subject, req.Sample)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"template_id": tpl.ID, "quality": tpl.Quality})
}

func (h *handlers) listFaces(c *gin.Context) {
	templates, err := h.faces.List(c.Request.Context(), auth.FromContext(c).Subject)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (h *handlers) deleteFace(c *gin.Context) {
	err := h.faces.Delete(c.Request.Context(), auth.FromContext(c).Subject, c.Param("id"))
	switch {
	case errors.Is(err, facestore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "template not found"})
	case errors.Is(err, facestore.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your template"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}

// uploadMedia accepts a multipart file or a base64 data URL and returns the
// hosted URL to pass as a sample/photo reference.
func (h *handlers) uploadMedia(c *gin.Context) {
	if h.media == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}

	var result *mediastore.UploadResult
	var err error
	switch {
	case strings.Contains(c.ContentType(), "multipart/form-data"):
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		data, ferr := io.ReadAll(file)
		if ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read file failed"})
			return
		}
		result, err = h.media.UploadBytes(data, header.Filename)
	default:
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "provide {\"data\": \"<base64 data URL>\"}"})
			return
		}
		result, err = h.media.UploadBase64(body.Data)
	}
	if err != nil {
		h.log.Warn("media upload failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":       result.SecureURL,
		"public_id": result.PublicID,
		"bytes":     result.Bytes,
	})
}

// sessionError maps core errors onto HTTP statuses.
func (h *handlers) sessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrSessionClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "session is closed"})
	case errors.Is(err, session.ErrNoEvidence):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
	case errors.Is(err, session.ErrNotOnRoster):
		c.JSON(http.StatusForbidden, gin.H{"error": "not enrolled in this class"})
	case errors.Is(err, session.ErrScheduleBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "schedule already has an open session"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
