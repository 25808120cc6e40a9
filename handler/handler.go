package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"docchat/internal/domain"
	"docchat/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

var newUUID = func() string { return uuid.NewString() }

type MessageUseCase interface {
	Send(ctx context.Context, in usecase.SendInput) (usecase.SendOutput, error)
	ListSessions(ctx context.Context, accountID string) ([]domain.Session, error)
}

type AccountUseCase interface {
	Profile(ctx context.Context, accountID string) (usecase.Profile, error)
	ChangeTier(ctx context.Context, accountID string, tier domain.Tier) error
	ReplaceMemory(ctx context.Context, accountID, memory string) error
}

type UploadUseCase interface {
	Upload(ctx context.Context, in usecase.UploadInput) (usecase.UploadOutput, error)
	List(ctx context.Context, accountID string) ([]domain.Document, error)
	Delete(ctx context.Context, accountID, name string) error
}

type sendRequest struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Response      string `json:"response"`
	MemoryUpdated bool   `json:"memoryUpdated"`
	SessionID     string `json:"sessionId"`
}

type sessionView struct {
	ID            string           `json:"id"`
	FirstMessage  string           `json:"firstMessage"`
	CreatedAt     time.Time        `json:"createdAt"`
	LastMessageAt time.Time        `json:"lastMessageAt"`
	Messages      []domain.Message `json:"messages"`
}

type sessionsResponse struct {
	Sessions []sessionView `json:"sessions"`
}

type profileResponse struct {
	Tier       domain.Tier `json:"tier"`
	UsageCount int         `json:"usageCount"`
	MaxUsage   *int        `json:"maxUsage"`
	Memory     string      `json:"memory"`
}

type tierRequest struct {
	Tier domain.Tier `json:"tier"`
}

type memoryRequest struct {
	Memory *string `json:"memory"`
}

type uploadRequest struct {
	FileName string `json:"fileName"`
	// Content is the base64 encoded file.
	Content string `json:"content"`
}

type uploadResponse struct {
	Name        string              `json:"name"`
	Outcome     usecase.OutcomeKind `json:"outcome"`
	DerivedName string              `json:"derivedName,omitempty"`
}

type documentView struct {
	Name    string `json:"name"`
	Derived bool   `json:"derived"`
}

type documentsResponse struct {
	Documents []documentView `json:"documents"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Handler adapts API Gateway proxy events to the use cases. The caller is
// the authorizer's principalId; every route acts on that account only.
type Handler struct {
	messages MessageUseCase
	accounts AccountUseCase
	uploads  UploadUseCase
	logger   *slog.Logger
}

func NewHandler(messages MessageUseCase, accounts AccountUseCase, uploads UploadUseCase, logger *slog.Logger) (*Handler, error) {
	if messages == nil {
		return nil, errors.New("handler: message use case must not be nil")
	}
	if accounts == nil {
		return nil, errors.New("handler: account use case must not be nil")
	}
	if uploads == nil {
		return nil, errors.New("handler: upload use case must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{messages: messages, accounts: accounts, uploads: uploads, logger: logger}, nil
}

// request is the per-invocation state shared by the route functions.
type request struct {
	event         events.APIGatewayProxyRequest
	accountID     string
	correlationID string
	logger        *slog.Logger
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	r := &request{
		event:         event,
		correlationID: correlationID,
		logger:        h.logger.With("correlation_id", correlationID, "method", event.HTTPMethod, "path", event.Path),
	}

	accountID, ok := principal(event)
	if !ok {
		return r.json(http.StatusUnauthorized, errorResponse{Error: "UNAUTHORIZED"}), nil
	}
	r.accountID = accountID

	path := strings.TrimRight(event.Path, "/")
	switch {
	case path == "/messages" && event.HTTPMethod == http.MethodPost:
		return h.sendMessage(ctx, r), nil
	case path == "/sessions" && event.HTTPMethod == http.MethodGet:
		return h.listSessions(ctx, r), nil
	case path == "/account" && event.HTTPMethod == http.MethodGet:
		return h.profile(ctx, r), nil
	case path == "/account/tier" && event.HTTPMethod == http.MethodPost:
		return h.changeTier(ctx, r), nil
	case path == "/account/memory" && event.HTTPMethod == http.MethodPost:
		return h.replaceMemory(ctx, r), nil
	case path == "/uploads" && event.HTTPMethod == http.MethodPost:
		return h.upload(ctx, r), nil
	case path == "/uploads" && event.HTTPMethod == http.MethodGet:
		return h.listUploads(ctx, r), nil
	case strings.HasPrefix(path, "/uploads/") && event.HTTPMethod == http.MethodDelete:
		return h.deleteUpload(ctx, r, path), nil
	}
	return r.json(http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Message: "route_not_found"}), nil
}

func (h *Handler) sendMessage(ctx context.Context, r *request) events.APIGatewayProxyResponse {
	var in sendRequest
	if err := r.decode(&in); err != nil {
		return r.invalidBody(err)
	}
	out, err := h.messages.Send(ctx, usecase.SendInput{AccountID: r.accountID, Message: in.Message})
	if err != nil {
		return r.fail(err)
	}
	return r.json(http.StatusOK, sendResponse{
		Response:      out.Response,
		MemoryUpdated: out.MemoryUpdated,
		SessionID:     out.SessionID,
	})
}

func (h *Handler) listSessions(ctx context.Context, r *request) events.APIGatewayProxyResponse {
	sessions, err := h.messages.ListSessions(ctx, r.accountID)
	if err != nil {
		return r.fail(err)
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		msgs := s.Messages
		if msgs == nil {
			msgs = []domain.Message{}
		}
		views = append(views, sessionView{
			ID:            s.ID,
			FirstMessage:  s.FirstMessage(),
			CreatedAt:     s.CreatedAt,
			LastMessageAt: s.LastMessageAt,
			Messages:      msgs,
		})
	}
	return r.json(http.StatusOK, sessionsResponse{Sessions: views})
}

func (h *Handler) profile(ctx context.Context, r *request) events.APIGatewayProxyResponse {
	p, err := h.accounts.Profile(ctx, r.accountID)
	if err != nil {
		return r.fail(err)
	}
	return r.json(http.StatusOK, profileResponse{Tier: p.Tier, UsageCount: p.UsageCount, MaxUsage: p.MaxUsage, Memory: p.Memory})
}

func (h *Handler) changeTier(ctx context.Context, r *request) events.APIGatewayProxyResponse {
	var in tierRequest
	if err := r.decode(&in); err != nil {
		return r.invalidBody(err)
	}
	if err := h.accounts.ChangeTier(ctx, r.accountID, in.Tier); err != nil {
		return r.fail(err)
	}
	return h.profile(ctx, r)
}

func (h *Handler) replaceMemory(ctx context.Context, r *request) events.APIGatewayProxyResponse {
	var in memoryRequest
	if err := r.decode(&in); err != nil {
		return r.invalidBody(err)
	}
	if in.Memory == nil {
		return r.json(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "missing_memory"})
	}
	if err := h.accounts.ReplaceMemory(ctx, r.accountID, *in.Memory); err != nil {
		return r.fail(err)
	}
	return h.profile(ctx, r)
}

func (h *Handler) upload(ctx context.Context, r *request) events.APIGatewayProxyResponse {
	var in uploadRequest
	if err := r.decode(&in); err != nil {
		return r.invalidBody(err)
	}
	content, err := base64.StdEncoding.DecodeString(in.Content)
	if err != nil {
		return r.json(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_content_encoding"})
	}
	out, err := h.uploads.Upload(ctx, usecase.UploadInput{AccountID: r.accountID, FileName: in.FileName, Content: content})
	if err != nil {
		return r.fail(err)
	}
	resp := uploadResponse{Name: out.Name, Outcome: out.Outcome}
	if out.DerivedPath != "" {
		resp.DerivedName = filepath.Base(out.DerivedPath)
	}
	r.logger.InfoContext(ctx, "document ingested", "name", out.Name, "outcome", out.Outcome)
	return r.json(http.StatusCreated, resp)
}

func (h *Handler) listUploads(ctx context.Context, r *request) events.APIGatewayProxyResponse {
	docs, err := h.uploads.List(ctx, r.accountID)
	if err != nil {
		return r.fail(err)
	}
	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, documentView{Name: d.Name, Derived: d.Derived()})
	}
	return r.json(http.StatusOK, documentsResponse{Documents: views})
}

func (h *Handler) deleteUpload(ctx context.Context, r *request, path string) events.APIGatewayProxyResponse {
	name := r.event.PathParameters["name"]
	if name == "" {
		unescaped, err := url.PathUnescape(strings.TrimPrefix(path, "/uploads/"))
		if err != nil {
			return r.json(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_file_name"})
		}
		name = unescaped
	}
	if err := h.uploads.Delete(ctx, r.accountID, name); err != nil {
		return r.fail(err)
	}
	return r.respond(http.StatusNoContent, "")
}

func (r *request) decode(v any) error {
	body := r.event.Body
	if r.event.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return err
		}
		body = string(raw)
	}
	return json.Unmarshal([]byte(body), v)
}

func (r *request) invalidBody(err error) events.APIGatewayProxyResponse {
	r.logger.Info("invalid request body", "err", err)
	return r.json(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Message: "invalid_body"})
}

func (r *request) fail(err error) events.APIGatewayProxyResponse {
	code := usecase.CodeOf(err)
	status := statusFor(code)
	resp := errorResponse{Error: string(code)}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		resp.Message = ue.Reason
	}
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "code", code, "err", err)
	} else {
		r.logger.Info("request rejected", "code", code, "reason", resp.Message)
	}
	return r.json(status, resp)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorQuotaExceeded:
		return http.StatusForbidden
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorEngine, usecase.ErrorIngestion:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (r *request) json(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("failed to encode response", "err", err)
		return r.respond(http.StatusInternalServerError, `{"error":"INTERNAL_ERROR"}`)
	}
	return r.respond(status, string(body))
}

func (r *request) respond(status int, body string) events.APIGatewayProxyResponse {
	headers := map[string]string{correlationHeader: r.correlationID}
	if body != "" {
		headers["Content-Type"] = "application/json"
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: body}
}

// principal returns the account id set by the API Gateway authorizer.
func principal(event events.APIGatewayProxyRequest) (string, bool) {
	id, _ := event.RequestContext.Authorizer["principalId"].(string)
	id = strings.TrimSpace(id)
	return id, id != ""
}

func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
