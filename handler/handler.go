package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	promclient "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"semantic-chat/internal/domain"
	"semantic-chat/internal/metrics"
	"semantic-chat/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// ChatUseCase is the set of operations exposed over HTTP.
type ChatUseCase interface {
	CreateSession(ctx context.Context) (domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)
	GetCompletion(ctx context.Context, sessionID, prompt string) (domain.Message, error)
	RenameSession(ctx context.Context, sessionID, name string) error
	DeleteSession(ctx context.Context, sessionID string) error
	SummarizeSessionName(ctx context.Context, sessionID string) (string, error)
	ClearCache(ctx context.Context) error
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"createdAt"`
}

type messageResponse struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	Timestamp        time.Time `json:"timestamp"`
	Prompt           string    `json:"prompt"`
	PromptTokens     int       `json:"promptTokens"`
	Completion       string    `json:"completion"`
	CompletionTokens int       `json:"completionTokens"`
	Status           string    `json:"status"`
	CacheHit         bool      `json:"cacheHit"`
}

type summarizeResponse struct {
	Name string `json:"name"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type Handler struct {
	chat     ChatUseCase
	gatherer promclient.Gatherer
	logger   *zap.Logger
}

type Option func(*Handler)

// WithGatherer serves the metrics of g on GET /metrics.
func WithGatherer(g promclient.Gatherer) Option {
	return func(h *Handler) { h.gatherer = g }
}

func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(chat ChatUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	h := &Handler{chat: chat, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle routes an API Gateway proxy event to the chat use case.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.logger.With(
		zap.String("correlation_id", correlationID),
		zap.String("method", event.HTTPMethod),
		zap.String("path", event.Path),
	)

	resp := h.route(ctx, log, event)
	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	log.Info("request handled", zap.Int("status", resp.StatusCode))
	return resp, nil
}

func (h *Handler) route(ctx context.Context, log *zap.Logger, event events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	segments := pathSegments(event.Path)
	method := strings.ToUpper(event.HTTPMethod)

	switch {
	case len(segments) == 1 && segments[0] == "sessions":
		switch method {
		case http.MethodPost:
			return h.createSession(ctx, log)
		case http.MethodGet:
			return h.listSessions(ctx, log)
		}
	case len(segments) == 2 && segments[0] == "sessions":
		switch method {
		case http.MethodPatch:
			return h.renameSession(ctx, log, segments[1], event.Body)
		case http.MethodDelete:
			return h.deleteSession(ctx, log, segments[1])
		}
	case len(segments) == 3 && segments[0] == "sessions" && segments[2] == "messages":
		switch method {
		case http.MethodGet:
			return h.listMessages(ctx, log, segments[1])
		case http.MethodPost:
			return h.getCompletion(ctx, log, segments[1], event.Body)
		}
	case len(segments) == 3 && segments[0] == "sessions" && segments[2] == "summarize":
		if method == http.MethodPost {
			return h.summarize(ctx, log, segments[1])
		}
	case len(segments) == 1 && segments[0] == "cache":
		if method == http.MethodDelete {
			return h.clearCache(ctx, log)
		}
	case len(segments) == 1 && segments[0] == "metrics":
		if method == http.MethodGet && h.gatherer != nil {
			return h.metrics(log)
		}
	}
	return jsonResponse(http.StatusNotFound, errorResponse{Error: "ROUTE_NOT_FOUND"})
}

func (h *Handler) createSession(ctx context.Context, log *zap.Logger) events.APIGatewayProxyResponse {
	s, err := h.chat.CreateSession(ctx)
	if err != nil {
		return errorResponseFor(log, err)
	}
	return jsonResponse(http.StatusCreated, toSessionResponse(s))
}

func (h *Handler) listSessions(ctx context.Context, log *zap.Logger) events.APIGatewayProxyResponse {
	sessions, err := h.chat.ListSessions(ctx)
	if err != nil {
		return errorResponseFor(log, err)
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) listMessages(ctx context.Context, log *zap.Logger, sessionID string) events.APIGatewayProxyResponse {
	msgs, err := h.chat.ListMessages(ctx, sessionID)
	if err != nil {
		return errorResponseFor(log, err)
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return jsonResponse(http.StatusOK, out)
}

func (h *Handler) getCompletion(ctx context.Context, log *zap.Logger, sessionID, body string) events.APIGatewayProxyResponse {
	var req promptRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return invalidBody(log, err)
	}
	msg, err := h.chat.GetCompletion(ctx, sessionID, req.Prompt)
	if err != nil {
		return errorResponseFor(log, err)
	}
	return jsonResponse(http.StatusOK, toMessageResponse(msg))
}

func (h *Handler) renameSession(ctx context.Context, log *zap.Logger, sessionID, body string) events.APIGatewayProxyResponse {
	var req renameRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return invalidBody(log, err)
	}
	if err := h.chat.RenameSession(ctx, sessionID, req.Name); err != nil {
		return errorResponseFor(log, err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
}

func (h *Handler) deleteSession(ctx context.Context, log *zap.Logger, sessionID string) events.APIGatewayProxyResponse {
	if err := h.chat.DeleteSession(ctx, sessionID); err != nil {
		return errorResponseFor(log, err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
}

func (h *Handler) summarize(ctx context.Context, log *zap.Logger, sessionID string) events.APIGatewayProxyResponse {
	name, err := h.chat.SummarizeSessionName(ctx, sessionID)
	if err != nil {
		return errorResponseFor(log, err)
	}
	return jsonResponse(http.StatusOK, summarizeResponse{Name: name})
}

func (h *Handler) clearCache(ctx context.Context, log *zap.Logger) events.APIGatewayProxyResponse {
	if err := h.chat.ClearCache(ctx); err != nil {
		return errorResponseFor(log, err)
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}
}

func (h *Handler) metrics(log *zap.Logger) events.APIGatewayProxyResponse {
	body, contentType, err := metrics.Exposition(h.gatherer)
	if err != nil {
		log.Error("metrics exposition failed", zap.Error(err))
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": contentType},
		Body:       body,
	}
}

func invalidBody(log *zap.Logger, err error) events.APIGatewayProxyResponse {
	log.Warn("invalid request body", zap.Error(err))
	return jsonResponse(http.StatusBadRequest, errorResponse{
		Error:  string(usecase.ErrorInvalidArgument),
		Reason: "invalid_body",
	})
}

func errorResponseFor(log *zap.Logger, err error) events.APIGatewayProxyResponse {
	out := errorResponse{Error: string(usecase.ErrorInternal)}
	var ue *usecase.Error
	if errors.As(err, &ue) {
		out = errorResponse{Error: string(ue.Code), Reason: ue.Reason, MessageID: ue.MessageID}
	}
	status := statusFor(usecase.CodeOf(err))
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("code", out.Error), zap.String("reason", out.Reason), zap.Error(err))
	} else {
		log.Info("request rejected", zap.String("code", out.Error), zap.String("reason", out.Reason))
	}
	return jsonResponse(status, out)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidArgument:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorDependency, usecase.ErrorPartialTurn:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"INTERNAL_ERROR"}`,
		}
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func toSessionResponse(s domain.Session) sessionResponse {
	return sessionResponse{ID: s.ID, Name: s.Name, Tokens: s.Tokens, CreatedAt: s.CreatedAt}
}

func toMessageResponse(m domain.Message) messageResponse {
	return messageResponse{
		ID:               m.ID,
		SessionID:        m.SessionID,
		Timestamp:        m.Timestamp,
		Prompt:           m.Prompt,
		PromptTokens:     m.PromptTokens,
		Completion:       m.Completion,
		CompletionTokens: m.CompletionTokens,
		Status:           m.Status,
		CacheHit:         m.CacheHit,
	}
}

// headerValue looks up a header case-insensitively.
func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func pathSegments(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
