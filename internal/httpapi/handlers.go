package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/resolver"
)

const (
	// stateCookie binds the OAuth state to the browser that started the flow.
	stateCookie = "ticketbridge_oauth_state"
	stateMaxAge = 10 * 60

	// maxBodyBytes bounds update request bodies.
	maxBodyBytes = 1 << 20

	defaultSearchMax = 50
	maxSearchMax     = 100
)

// UpdateBody is the request body of PUT /issues/{key}.
type UpdateBody struct {
	Fields   map[string]any `json:"fields"`
	Action   string         `json:"action,omitempty"`
	Template string         `json:"template,omitempty"`
}

// SearchResponse is the response body of GET /issues.
type SearchResponse struct {
	Issues []fields.Snapshot `json:"issues"`
}

type handlers struct {
	svc Service
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, map[string]string{"status": "ok"}, http.StatusOK)
}

// authorize redirects to the provider consent page, remembering the state in a cookie.
func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := h.svc.AuthorizationURL("")
	if err != nil {
		slog.ErrorContext(r.Context(), "building authorization url failed", "error", err)
		writeJSONError(r.Context(), w, "authorization unavailable", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/oauth",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// callback verifies the state and stores the credential for the code.
func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	// The state cookie is single use.
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/oauth", MaxAge: -1, HttpOnly: true})

	if providerErr := q.Get("error"); providerErr != "" {
		writeJSONError(ctx, w, "authorization denied: "+providerErr, http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	state := q.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		writeJSONError(ctx, w, "invalid oauth state", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		writeJSONError(ctx, w, "missing authorization code", http.StatusBadRequest)
		return
	}

	if err := h.svc.CompleteAuthorization(ctx, code); err != nil {
		slog.ErrorContext(ctx, "authorization failed", "error", err)
		status := http.StatusBadGateway
		if failure.Classify(err) == failure.ClassAuth {
			status = http.StatusUnauthorized
		}
		writeJSONError(ctx, w, "authorization failed", status)
		return
	}

	writeJSON(ctx, w, map[string]string{"status": "authorized"}, http.StatusOK)
}

func (h *handlers) getIssue(w http.ResponseWriter, r *http.Request) {
	out := h.svc.Read(r.Context(), r.PathValue("key"))
	writeJSON(r.Context(), w, out, outcomeStatus(out))
}

func (h *handlers) updateIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body UpdateBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		msg := "invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "request body required"
		}
		writeJSONError(ctx, w, msg, http.StatusBadRequest)
		return
	}

	out := h.svc.Write(ctx, resolver.UpdateRequest{
		TicketKey:       r.PathValue("key"),
		FieldMap:        body.Fields,
		RequestedAction: body.Action,
	}, body.Template)
	writeJSON(ctx, w, out, outcomeStatus(out))
}

func (h *handlers) searchIssues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	jql := q.Get("jql")
	if jql == "" {
		writeJSONError(ctx, w, "jql parameter required", http.StatusBadRequest)
		return
	}

	maxResults := defaultSearchMax
	if raw := q.Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchMax {
			writeJSONError(ctx, w, "max must be between 1 and 100", http.StatusBadRequest)
			return
		}
		maxResults = n
	}

	snaps, err := h.svc.Search(ctx, jql, maxResults)
	if err != nil {
		status := http.StatusServiceUnavailable
		if !failure.Classify(err).Unavailable() {
			status = http.StatusUnprocessableEntity
		}
		writeJSONError(ctx, w, err.Error(), status)
		return
	}
	if snaps == nil {
		snaps = []fields.Snapshot{}
	}
	writeJSON(ctx, w, SearchResponse{Issues: snaps}, http.StatusOK)
}

// outcomeStatus maps an outcome onto an HTTP status.
func outcomeStatus(out resolver.Outcome) int {
	switch out.Kind {
	case resolver.KindSuccess:
		return http.StatusOK
	case resolver.KindRequiresRemoteBridge:
		return http.StatusAccepted
	}

	if out.RequiresManualUpdate || out.Class.Unavailable() {
		return http.StatusServiceUnavailable
	}
	if out.ProviderStatus >= 400 && out.ProviderStatus < 500 {
		return out.ProviderStatus
	}
	if out.Class == failure.ClassRejection {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
