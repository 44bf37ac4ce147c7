package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"therapy-service/internal/domain"
	"therapy-service/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	idempotencyHeader = "Idempotency-Key"
	defaultTimeout    = 10 * time.Second
)

// Service is the workflow surface the routes call. *usecase.WorkflowService
// satisfies it.
type Service interface {
	RequestMapping(ctx context.Context, therapistID, clientID, idempotencyKey string) (*domain.MappingRequest, error)
	DecideMapping(ctx context.Context, clientID, therapistID string, in usecase.DecisionInput) (*domain.MappingRequest, error)
	RemoveMapping(ctx context.Context, clientID, therapistID string) error
	ListMappingRequests(ctx context.Context, clientID, status string) ([]domain.Request, error)
	ListMappedTherapists(ctx context.Context, clientID string) ([]domain.Relation, error)
	ListMappedClients(ctx context.Context, therapistID string) ([]domain.Relation, error)

	RequestJournalAccess(ctx context.Context, therapistID, clientID, idempotencyKey string) (*domain.JournalAccessRequest, error)
	DecideJournalAccess(ctx context.Context, clientID, therapistID string, in usecase.DecisionInput) (*domain.JournalAccessRequest, error)
	ListJournalAccessRequests(ctx context.Context, clientID, status string) ([]domain.Request, error)
	UpdateJournalPermissions(ctx context.Context, clientID string, therapistIDs []string) (domain.RelationDelta, error)

	CreateSlot(ctx context.Context, therapistID string, in usecase.SlotInput) (domain.Slot, error)
	ListAvailableSlots(ctx context.Context, therapistID string) ([]domain.Slot, error)
	RequestAppointment(ctx context.Context, therapistID string, in usecase.AppointmentInput) (*domain.AppointmentRequest, error)
	DecideAppointment(ctx context.Context, therapistID, requestID string, in usecase.AppointmentDecisionInput) (usecase.AppointmentDecision, error)
	ListAppointmentRequests(ctx context.Context, therapistID, status string) ([]domain.Request, error)

	GetSession(ctx context.Context, therapistID, sessionID string) (domain.Session, error)
	UpdateSession(ctx context.Context, therapistID, sessionID string, patch domain.SessionPatch) (domain.Session, error)
	DeleteSession(ctx context.Context, therapistID, sessionID string) error
	ListClientSessions(ctx context.Context, clientID string) ([]domain.Session, error)
}

// Observer receives one call per handled event.
type Observer interface {
	ObserveRoute(route string, status int, errorCode string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveRoute(string, int, string, time.Duration) {}

type Handler struct {
	svc      Service
	routes   map[string]routeFunc
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(h *Handler) {
		if o != nil {
			h.observer = o
		}
	}
}

// WithTimeout bounds each invocation. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewHandler(svc Service, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	h := &Handler{
		svc:      svc,
		logger:   slog.Default(),
		observer: nopObserver{},
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.routes = h.routeTable()
	return h, nil
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Handle serves one API Gateway proxy event. Failures are always rendered as
// a response; the returned error is reserved for the Lambda runtime and is
// always nil.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	route := req.HTTPMethod + " " + req.Resource
	logger := h.logger.With("correlation_id", correlationID, "route", route)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		status int
		body   any
		err    error
	)
	if fn, ok := h.routes[route]; ok {
		status, body, err = fn(ctx, req)
	} else {
		err = &usecase.Error{Code: usecase.ErrorNotFound, Reason: "route_not_found"}
	}

	errorCode := ""
	if err != nil {
		var resp errorResponse
		status, resp = toErrorResponse(err)
		body, errorCode = resp, resp.Error
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "request failed", "code", resp.Error, "reason", resp.Message, "err", err)
	}
	h.observer.ObserveRoute(route, status, errorCode, time.Since(start))
	return respond(status, body, correlationID), nil
}

func toErrorResponse(err error) (int, errorResponse) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: "internal_error"}
	}
	resp := errorResponse{Error: string(ue.Code), Message: ue.Reason, Retryable: ue.Retryable()}
	switch ue.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, resp
	case usecase.ErrorNotFound:
		return http.StatusNotFound, resp
	case usecase.ErrorConflict, usecase.ErrorInvalidState:
		return http.StatusConflict, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func respond(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	resp := events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
	}
	if status == http.StatusNoContent || body == nil {
		return resp
	}
	raw, err := json.Marshal(body)
	if err != nil {
		resp.StatusCode = http.StatusInternalServerError
		raw = []byte(`{"error":"INTERNAL_ERROR","message":"encode_response"}`)
	}
	resp.Body = string(raw)
	return resp
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func decodeBody(req events.APIGatewayProxyRequest, out any) error {
	raw := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body_encoding", Err: err}
		}
		raw = decoded
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err}
	}
	return nil
}

func pathParam(req events.APIGatewayProxyRequest, name string) (string, error) {
	v := strings.TrimSpace(req.PathParameters[name])
	if v == "" {
		return "", &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_path_parameter", Err: errors.New(name)}
	}
	return v, nil
}
