package handler

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"therapy-service/internal/domain"
	"therapy-service/internal/usecase"
)

// routeFunc returns the status and body of a successful call.
type routeFunc func(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error)

// Route keys are "METHOD resource" with the API Gateway resource template.
const (
	RouteRequestMapping           = "POST /therapists/{therapistId}/mapping-requests"
	RouteDecideMapping            = "PUT /clients/{clientId}/mapping-requests/{therapistId}"
	RouteListMappingRequests      = "GET /clients/{clientId}/mapping-requests"
	RouteRemoveMapping            = "DELETE /clients/{clientId}/mapped-therapists/{therapistId}"
	RouteListMappedTherapists     = "GET /clients/{clientId}/mapped-therapists"
	RouteListMappedClients        = "GET /therapists/{therapistId}/mapped-clients"
	RouteRequestJournalAccess     = "POST /journal/therapists/{therapistId}/request-access"
	RouteDecideJournalAccess      = "POST /journal/clients/{clientId}/approve"
	RouteListJournalRequests      = "GET /journal/clients/{clientId}/access-requests"
	RouteUpdateJournalPermissions = "PUT /journal/clients/{clientId}/journal-access-permissions"
	RouteCreateSlot               = "POST /therapists/{therapistId}/session-slots"
	RouteListSlots                = "GET /therapists/{therapistId}/session-slots"
	RouteRequestAppointment       = "POST /therapists/{therapistId}/session-slots/appointments"
	RouteListAppointments         = "GET /therapists/{therapistId}/session-slots/appointments"
	RouteDecideAppointment        = "POST /therapists/{therapistId}/appointments/{appointmentRequestId}/decision"
	RouteGetSession               = "GET /sessions/{therapistId}/{sessionId}"
	RouteUpdateSession            = "PUT /sessions/{therapistId}/{sessionId}"
	RouteDeleteSession            = "DELETE /sessions/{therapistId}/{sessionId}"
	RouteListClientSessions       = "GET /clients/{clientId}/sessions"
)

// Routes lists every route key the handler serves.
func (h *Handler) Routes() []string {
	keys := make([]string, 0, len(h.routes))
	for k := range h.routes {
		keys = append(keys, k)
	}
	return keys
}

func (h *Handler) routeTable() map[string]routeFunc {
	return map[string]routeFunc{
		RouteRequestMapping:           h.requestMapping,
		RouteDecideMapping:            h.decideMapping,
		RouteListMappingRequests:      h.listMappingRequests,
		RouteRemoveMapping:            h.removeMapping,
		RouteListMappedTherapists:     h.listMappedTherapists,
		RouteListMappedClients:        h.listMappedClients,
		RouteRequestJournalAccess:     h.requestJournalAccess,
		RouteDecideJournalAccess:      h.decideJournalAccess,
		RouteListJournalRequests:      h.listJournalRequests,
		RouteUpdateJournalPermissions: h.updateJournalPermissions,
		RouteCreateSlot:               h.createSlot,
		RouteListSlots:                h.listSlots,
		RouteRequestAppointment:       h.requestAppointment,
		RouteListAppointments:         h.listAppointments,
		RouteDecideAppointment:        h.decideAppointment,
		RouteGetSession:               h.getSession,
		RouteUpdateSession:            h.updateSession,
		RouteDeleteSession:            h.deleteSession,
		RouteListClientSessions:       h.listClientSessions,
	}
}

// ---- Mapping ----

type counterpartyBody struct {
	ClientID string `json:"clientId"`
}

func (h *Handler) requestMapping(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	var body counterpartyBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	out, err := h.svc.RequestMapping(ctx, therapistID, body.ClientID, headerValue(req.Headers, idempotencyHeader))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, newRequestView(out), nil
}

type decisionBody struct {
	Status      string `json:"status"`
	RequestID   string `json:"requestId"`
	TherapistID string `json:"therapistId"`
}

func (h *Handler) decideMapping(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	clientID, err := pathParam(req, "clientId")
	if err != nil {
		return 0, nil, err
	}
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	var body decisionBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	out, err := h.svc.DecideMapping(ctx, clientID, therapistID, usecase.DecisionInput{Decision: body.Status, RequestID: body.RequestID})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newRequestView(out), nil
}

func (h *Handler) listMappingRequests(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	clientID, err := pathParam(req, "clientId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.ListMappingRequests(ctx, clientID, req.QueryStringParameters["status"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newRequestViews(out), nil
}

func (h *Handler) removeMapping(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	clientID, err := pathParam(req, "clientId")
	if err != nil {
		return 0, nil, err
	}
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	if err := h.svc.RemoveMapping(ctx, clientID, therapistID); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

func (h *Handler) listMappedTherapists(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	clientID, err := pathParam(req, "clientId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.ListMappedTherapists(ctx, clientID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newRelationViews(out), nil
}

func (h *Handler) listMappedClients(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.ListMappedClients(ctx, therapistID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newRelationViews(out), nil
}

// ---- Journal access ----

func (h *Handler) requestJournalAccess(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	var body counterpartyBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	out, err := h.svc.RequestJournalAccess(ctx, therapistID, body.ClientID, headerValue(req.Headers, idempotencyHeader))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, newRequestView(out), nil
}

func (h *Handler) decideJournalAccess(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	clientID, err := pathParam(req, "clientId")
	if err != nil {
		return 0, nil, err
	}
	var body decisionBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	out, err := h.svc.DecideJournalAccess(ctx, clientID, body.TherapistID, usecase.DecisionInput{Decision: body.Status, RequestID: body.RequestID})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newRequestView(out), nil
}

func (h *Handler) listJournalRequests(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	clientID, err := pathParam(req, "clientId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.ListJournalAccessRequests(ctx, clientID, req.QueryStringParameters["status"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newRequestViews(out), nil
}

type permissionsBody struct {
	// Therapists is required; an empty list revokes all access.
	Therapists *[]string `json:"therapists"`
}

func (h *Handler) updateJournalPermissions(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	clientID, err := pathParam(req, "clientId")
	if err != nil {
		return 0, nil, err
	}
	var body permissionsBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	if body.Therapists == nil {
		return 0, nil, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_therapists"}
	}
	delta, err := h.svc.UpdateJournalPermissions(ctx, clientID, *body.Therapists)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newDeltaView(delta), nil
}

// ---- Slots and appointments ----

type slotBody struct {
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (h *Handler) createSlot(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	var body slotBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	slot, err := h.svc.CreateSlot(ctx, therapistID, usecase.SlotInput(body))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, newSlotView(slot), nil
}

func (h *Handler) listSlots(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	slots, err := h.svc.ListAvailableSlots(ctx, therapistID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newSlotViews(slots), nil
}

type appointmentBody struct {
	ClientID string `json:"clientId"`
	SlotID   string `json:"slotId"`
}

func (h *Handler) requestAppointment(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	var body appointmentBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	out, err := h.svc.RequestAppointment(ctx, therapistID, usecase.AppointmentInput{
		ClientID:       body.ClientID,
		SlotID:         body.SlotID,
		IdempotencyKey: headerValue(req.Headers, idempotencyHeader),
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, newRequestView(out), nil
}

func (h *Handler) listAppointments(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	out, err := h.svc.ListAppointmentRequests(ctx, therapistID, req.QueryStringParameters["status"])
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newRequestViews(out), nil
}

type appointmentDecisionBody struct {
	Action string `json:"action"`
	// Status is accepted as an alias of Action.
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

func (h *Handler) decideAppointment(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return 0, nil, err
	}
	requestID, err := pathParam(req, "appointmentRequestId")
	if err != nil {
		return 0, nil, err
	}
	var body appointmentDecisionBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	decision := body.Action
	if decision == "" {
		decision = body.Status
	}
	out, err := h.svc.DecideAppointment(ctx, therapistID, requestID, usecase.AppointmentDecisionInput{Decision: decision, Notes: body.Notes})
	if err != nil {
		return 0, nil, err
	}
	view := appointmentDecisionView{Request: newRequestView(out.Request)}
	if out.Session != nil {
		s := newSessionView(*out.Session)
		view.Session = &s
	}
	return http.StatusOK, view, nil
}

// ---- Sessions ----

func sessionKey(req events.APIGatewayProxyRequest) (string, string, error) {
	therapistID, err := pathParam(req, "therapistId")
	if err != nil {
		return "", "", err
	}
	sessionID, err := pathParam(req, "sessionId")
	if err != nil {
		return "", "", err
	}
	return therapistID, sessionID, nil
}

func (h *Handler) getSession(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, sessionID, err := sessionKey(req)
	if err != nil {
		return 0, nil, err
	}
	s, err := h.svc.GetSession(ctx, therapistID, sessionID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newSessionView(s), nil
}

type sessionPatchBody struct {
	Status       *string `json:"status"`
	SharedNotes  *string `json:"sharedNotes"`
	PrivateNotes *string `json:"privateNotes"`
}

func (h *Handler) updateSession(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, sessionID, err := sessionKey(req)
	if err != nil {
		return 0, nil, err
	}
	var body sessionPatchBody
	if err := decodeBody(req, &body); err != nil {
		return 0, nil, err
	}
	s, err := h.svc.UpdateSession(ctx, therapistID, sessionID, domain.SessionPatch(body))
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newSessionView(s), nil
}

func (h *Handler) deleteSession(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	therapistID, sessionID, err := sessionKey(req)
	if err != nil {
		return 0, nil, err
	}
	if err := h.svc.DeleteSession(ctx, therapistID, sessionID); err != nil {
		return 0, nil, err
	}
	return http.StatusNoContent, nil, nil
}

func (h *Handler) listClientSessions(ctx context.Context, req events.APIGatewayProxyRequest) (int, any, error) {
	clientID, err := pathParam(req, "clientId")
	if err != nil {
		return 0, nil, err
	}
	sessions, err := h.svc.ListClientSessions(ctx, clientID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newSessionViews(sessions), nil
}
