package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vdavid/werkbank/internal/classify"
	"github.com/vdavid/werkbank/internal/db"
	"github.com/vdavid/werkbank/internal/mailsync"
	"github.com/vdavid/werkbank/internal/models"
	"github.com/vdavid/werkbank/internal/parser"
	"github.com/vdavid/werkbank/internal/reply"
	"github.com/vdavid/werkbank/internal/smtp"
	"github.com/vdavid/werkbank/internal/suggest"
)

// MailReader reads stored mails.
type MailReader interface {
	GetMail(ctx context.Context, id string) (*models.Mail, error)
	ListThreadMails(ctx context.Context, threadID string) ([]*models.Mail, error)
	ListAttachments(ctx context.Context, mailID string) ([]models.Attachment, error)
}

// Syncer triggers synchronization passes.
type Syncer interface {
	SyncAll(ctx context.Context) (*mailsync.Report, error)
	SyncFolder(ctx context.Context, accountID, folder string) (*mailsync.FolderReport, error)
}

// Replier sends mail and moves it between folders.
type Replier interface {
	Reply(ctx context.Context, opts reply.Options) (*models.Mail, error)
	Move(ctx context.Context, mailID, target string) error
}

var (
	_ MailReader = (*db.Store)(nil)
	_ Syncer     = (*mailsync.Synchronizer)(nil)
	_ Replier    = (*reply.Engine)(nil)
)

type Handler struct {
	mails       MailReader
	syncer      Syncer
	replier     Replier
	suggestions *suggest.Builder
	logger      *slog.Logger
}

func NewHandler(mails MailReader, syncer Syncer, replier Replier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		mails:       mails,
		syncer:      syncer,
		replier:     replier,
		suggestions: suggest.NewBuilder(),
		logger:      logger,
	}
}

type moveRequest struct {
	Folder string `json:"folder"`
}

type suggestionsResponse struct {
	OrderType   string               `json:"orderType"`
	Suggestions []suggest.Suggestion `json:"suggestions"`
}

func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncer.SyncAll(r.Context())
	if err != nil {
		h.fail(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) SyncFolder(w http.ResponseWriter, r *http.Request) {
	folder, err := url.PathUnescape(chi.URLParam(r, "folder"))
	if err != nil || folder == "" {
		writeError(w, http.StatusBadRequest, "invalid folder")
		return
	}

	accountID := chi.URLParam(r, "accountID")
	if uuid.Validate(accountID) != nil {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}

	report, err := h.syncer.SyncFolder(r.Context(), accountID, folder)
	if err != nil {
		h.fail(w, "sync folder", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) GetMail(w http.ResponseWriter, r *http.Request) {
	mail, ok := h.loadMail(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, mail)
}

func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	threadID, err := url.PathUnescape(chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}

	mails, err := h.mails.ListThreadMails(r.Context(), threadID)
	if err != nil {
		h.fail(w, "list thread", err)
		return
	}
	if len(mails) == 0 {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, mails)
}

// Reply answers the mail in the path.
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	var opts reply.Options
	if !decodeJSON(w, r, &opts) {
		return
	}
	opts.ReplyToMailID = chi.URLParam(r, "mailID")
	if uuid.Validate(opts.ReplyToMailID) != nil {
		writeError(w, http.StatusNotFound, "mail not found")
		return
	}
	h.send(w, r, opts)
}

// Send starts a new conversation, or answers ReplyToMailID when the body names one.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var opts reply.Options
	if !decodeJSON(w, r, &opts) {
		return
	}
	h.send(w, r, opts)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, opts reply.Options) {
	sent, err := h.replier.Reply(r.Context(), opts)
	if err != nil {
		h.fail(w, "send reply", err)
		return
	}
	writeJSON(w, http.StatusCreated, sent)
}

func (h *Handler) Move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Folder = strings.TrimSpace(req.Folder)
	if req.Folder == "" {
		writeError(w, http.StatusBadRequest, "folder is required")
		return
	}

	mailID := chi.URLParam(r, "mailID")
	if uuid.Validate(mailID) != nil {
		writeError(w, http.StatusNotFound, "mail not found")
		return
	}
	if err := h.replier.Move(r.Context(), mailID, req.Folder); err != nil {
		h.fail(w, "move mail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) OrderTypes(w http.ResponseWriter, r *http.Request) {
	mail, ok := h.loadMail(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, classify.Classify(classify.FromMail(mail)))
}

// Suggestions proposes datasheet values for ?orderType=, or for the best classified type.
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	mail, ok := h.loadMail(w, r)
	if !ok {
		return
	}

	orderType := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("orderType")))
	if orderType == "" {
		orderType = classify.Classify(classify.FromMail(mail))[0].OrderType
	}

	fields := parser.Parse(mail.Text).Map()
	suggestions := h.suggestions.Build(orderType, fields, suggest.Source{
		MailID:  mail.ID,
		Subject: mail.Subject,
		Date:    mail.Date,
	})
	if suggestions == nil {
		suggestions = []suggest.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{OrderType: orderType, Suggestions: suggestions})
}

// loadMail reads the mail in the path together with its attachments.
func (h *Handler) loadMail(w http.ResponseWriter, r *http.Request) (*models.Mail, bool) {
	ctx := r.Context()
	mailID := chi.URLParam(r, "mailID")
	if uuid.Validate(mailID) != nil {
		writeError(w, http.StatusNotFound, "mail not found")
		return nil, false
	}
	mail, err := h.mails.GetMail(ctx, mailID)
	if err != nil {
		h.fail(w, "get mail", err)
		return nil, false
	}
	mail.Attachments, err = h.mails.ListAttachments(ctx, mail.ID)
	if err != nil {
		h.fail(w, "list attachments", err)
		return nil, false
	}
	return mail, true
}

// fail maps domain errors to status codes and logs everything unexpected.
func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, db.ErrMailNotFound):
		writeError(w, http.StatusNotFound, "mail not found")
	case errors.Is(err, db.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, db.ErrOrderNotFound):
		writeError(w, http.StatusUnprocessableEntity, "order not found")
	case errors.Is(err, reply.ErrNoRecipients):
		writeError(w, http.StatusBadRequest, "no recipients")
	case errors.Is(err, reply.ErrNotOnServer):
		writeError(w, http.StatusConflict, "mail is not on the server yet")
	case errors.Is(err, smtp.ErrConnection):
		h.logger.Error("failed to "+action, "error", err)
		writeError(w, http.StatusBadGateway, "mail server unavailable")
	default:
		h.logger.Error("failed to "+action, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
