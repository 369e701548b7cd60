package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/election-backend/internal/mail"
	"github.com/iliyamo/election-backend/internal/service"
)

type broadcastService interface {
	Send(ctx context.Context, req service.BroadcastRequest) (service.BroadcastResult, error)
	PreviewData(ctx context.Context, nim string) (map[string]string, error)
}

// BroadcastHandler queues announcements and renders their previews with
// the same layout the mail worker uses.
type BroadcastHandler struct {
	Broadcast broadcastService
	Brand     mail.Brand
	Audit     auditor
	Log       *slog.Logger
}

func NewBroadcastHandler(b broadcastService, brand mail.Brand, audit auditor, log *slog.Logger) *BroadcastHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BroadcastHandler{Broadcast: b, Brand: brand, Audit: audit, Log: log}
}

type broadcastReq struct {
	Subject  string   `json:"subject"`
	Template string   `json:"template"`
	Target   string   `json:"target"` // all | selection
	Nims     []string `json:"nims"`
	CTAText  string   `json:"ctaText"`
	CTAURL   string   `json:"ctaUrl"`
}

type previewReq struct {
	Template string `json:"template"`
	NIM      string `json:"nim"`
	CTAText  string `json:"ctaText"`
	CTAURL   string `json:"ctaUrl"`
}

// Send: POST /api/broadcast/send
func (h *BroadcastHandler) Send(c echo.Context) error {
	var req broadcastReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	if target != "all" && target != "selection" {
		return badRequest(c, "target must be all or selection")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	res, err := h.Broadcast.Send(ctx, service.BroadcastRequest{
		Subject:  req.Subject,
		Template: req.Template,
		Target:   target,
		Nims:     req.Nims,
		CTAText:  req.CTAText,
		CTAURL:   req.CTAURL,
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Audit.LogAction(ctx, actorOf(c), "BROADCAST", target,
		req.Subject+" ("+strconv.Itoa(res.RecipientCount)+" recipients, "+strconv.Itoa(res.FailedCount)+" failed)")
	body := echo.Map{
		"message":        "broadcast queued",
		"recipientCount": res.RecipientCount,
		"skippedCount":   res.SkippedCount,
		"failedCount":    res.FailedCount,
	}
	if res.FailedCount > 0 {
		body["failed"] = res.Failed
	}
	return c.JSON(http.StatusAccepted, body)
}

// Preview: POST /api/broadcast/preview
func (h *BroadcastHandler) Preview(c echo.Context) error {
	var req previewReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Template) == "" {
		return badRequest(c, "template is required")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	data, err := h.Broadcast.PreviewData(ctx, req.NIM)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"html": h.Brand.BroadcastBody(req.Template, data, req.CTAText, req.CTAURL),
	})
}
