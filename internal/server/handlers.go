package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hublink/hublink/internal/flow"
	"github.com/hublink/hublink/internal/integrations/hubspot"
	"github.com/hublink/hublink/internal/logger"
	"github.com/hublink/hublink/internal/notify"
	"github.com/hublink/hublink/internal/requester"
	"github.com/hublink/hublink/internal/session"
	"github.com/hublink/hublink/internal/utils"
	"go.uber.org/zap"
)

// popupCloseHTML is what the authorization popup renders after the
// callback completes. No credential data crosses this response.
const popupCloseHTML = `<html><script>window.close();</script></html>`

// maxStatusWait caps how long a status request may block waiting for
// flow completion.
const maxStatusWait = 25 * time.Second

// Handler handles the integration HTTP endpoints.
type Handler struct {
	provider *hubspot.Provider
	states   *flow.StateManager
	vault    *flow.CredentialVault
	sessions *session.Manager
	notifier *notify.Notifier
}

// NewHandler creates a new Handler instance
func NewHandler(provider *hubspot.Provider, states *flow.StateManager, vault *flow.CredentialVault, sessions *session.Manager, notifier *notify.Notifier) *Handler {
	return &Handler{
		provider: provider,
		states:   states,
		vault:    vault,
		sessions: sessions,
		notifier: notifier,
	}
}

// HandleHealth handles the health check endpoint
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, map[string]string{"ping": "pong"})
}

// HandleSession mints a signed session token for an explicit user/org
// pair and sets it as a cookie for the popup flow. The embedding
// application is the trust boundary for this route.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := identityFromBody(r)
	if !ok {
		utils.WriteError(w, "invalid_request", "user_id and org_id are required", http.StatusBadRequest)
		return
	}

	token, err := h.sessions.Issue(identity)
	if err != nil {
		logger.Error("failed to issue session", zap.Error(err))
		utils.WriteError(w, "session_error", "Failed to issue session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	utils.WriteJSON(w, map[string]string{"token": token})
}

// HandleAuthorize issues a fresh state token for the session's identity
// and returns the provider authorization URL for the popup to open.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.WriteError(w, "unauthorized", "Session required", http.StatusUnauthorized)
		return
	}

	state, err := h.states.Issue(r.Context(), identity)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	// A fresh flow invalidates any leftover completion mark from a
	// prior attempt whose credential was never claimed.
	h.notifier.Reset(identity.String())

	utils.WriteJSON(w, h.provider.AuthCodeURL(state))
}

// HandleCallback receives the provider redirect: it validates and
// consumes the state token, exchanges the code, and parks the credential
// for the one-shot fetch.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()

	// User denied the consent screen, or the provider reported an error.
	// No state was consumed; the flow simply never completes.
	if errCode := query.Get("error"); errCode != "" {
		logger.Warn("authorization denied by provider", zap.String("error", errCode))
		utils.WriteError(w, "token_exchange_failed", "Authorization was not granted", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	encodedState := query.Get("state")
	if code == "" || encodedState == "" {
		utils.WriteError(w, "invalid_request", "Missing code or state from provider callback", http.StatusBadRequest)
		return
	}

	payload, err := flow.DecodeState(encodedState)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}

	// The decoded state is the source of truth for identity. If the
	// browser also carries a session, the two must agree.
	identity := payload.Identity()
	if token := extractSessionToken(r); token != "" {
		sessionIdentity, err := h.sessions.Verify(token)
		if err != nil || sessionIdentity != identity {
			utils.WriteError(w, "invalid_state", "State is invalid or expired", http.StatusBadRequest)
			return
		}
	}

	if err := h.states.Validate(r.Context(), identity, encodedState); err != nil {
		// Fail fast: no token exchange on any validation failure
		h.writeFlowError(w, err)
		return
	}

	credential, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.writeExchangeError(w, err)
		return
	}

	if err := h.vault.Put(r.Context(), identity, credential); err != nil {
		h.writeFlowError(w, err)
		return
	}

	h.notifier.Done(identity.String())

	logger.Info("authorization flow completed",
		zap.String("user_id", identity.UserID),
		zap.String("org_id", identity.OrgID),
	)

	utils.WriteHTML(w, popupCloseHTML)
}

// HandleCredentials returns the stored credential for the session's
// identity exactly once. A null body means the flow has not finished,
// the credential was already consumed, or it expired.
func (h *Handler) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.WriteError(w, "unauthorized", "Session required", http.StatusUnauthorized)
		return
	}

	payload, err := h.vault.Take(r.Context(), identity)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	if payload == nil {
		utils.WriteJSON(w, nil)
		return
	}

	h.notifier.Reset(identity.String())

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil {
		logger.Error("failed to write credential response", zap.Error(err))
	}
}

// HandleStatus reports whether the session's flow has completed. An
// optional wait parameter blocks the request until completion or the
// wait elapses, replacing fixed-interval polling as the only mechanism.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		utils.WriteError(w, "unauthorized", "Session required", http.StatusUnauthorized)
		return
	}

	ready, err := h.vault.Ready(r.Context(), identity)
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	if ready {
		utils.WriteJSON(w, map[string]bool{"completed": true})
		return
	}

	wait := parseWait(r.URL.Query().Get("wait"))
	if wait <= 0 {
		utils.WriteJSON(w, map[string]bool{"completed": false})
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	ch, release := h.notifier.Wait(identity.String())
	defer release()

	select {
	case <-ch:
		utils.WriteJSON(w, map[string]bool{"completed": true})
	case <-timer.C:
		utils.WriteJSON(w, map[string]bool{"completed": false})
	case <-r.Context().Done():
	}
}

// HandleLoad fetches CRM contacts with a previously retrieved credential
// payload and returns them as normalized items.
func (h *Handler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, ok := IdentityFromContext(r.Context()); !ok {
		utils.WriteError(w, "unauthorized", "Session required", http.StatusUnauthorized)
		return
	}

	if err := r.ParseForm(); err != nil {
		utils.WriteError(w, "invalid_request", "Failed to parse form", http.StatusBadRequest)
		return
	}

	raw := r.FormValue("credentials")
	if raw == "" {
		utils.WriteError(w, "invalid_request", "Credentials are required", http.StatusBadRequest)
		return
	}

	var credential hubspot.Credential
	if err := json.Unmarshal([]byte(raw), &credential); err != nil || credential.AccessToken == "" {
		utils.WriteError(w, "invalid_request", "Access token is missing from credentials", http.StatusBadRequest)
		return
	}

	items, err := h.provider.ListContacts(r.Context(), credential.AccessToken)
	if err != nil {
		var upstreamErr *requester.UpstreamError
		if errors.As(err, &upstreamErr) {
			utils.WriteError(w, "crm_request_failed", "CRM API request failed", upstreamErr.StatusCode)
			return
		}
		logger.Error("contact load failed", zap.Error(err))
		utils.WriteError(w, "crm_request_failed", "Could not reach the CRM API", http.StatusServiceUnavailable)
		return
	}

	utils.WriteJSON(w, items)
}

// writeFlowError maps the flow error taxonomy onto HTTP responses. The
// two state validation failures collapse into one response body so a
// caller cannot distinguish them.
func (h *Handler) writeFlowError(w http.ResponseWriter, err error) {
	switch {
	case flow.IsInvalidState(err):
		logger.Warn("state validation failed", zap.Error(err))
		utils.WriteError(w, "invalid_state", "State is invalid or expired", http.StatusBadRequest)
	case errors.Is(err, flow.ErrStorageUnavailable):
		logger.Error("ephemeral store unavailable", zap.Error(err))
		utils.WriteError(w, "storage_unavailable", "Temporary storage is unavailable", http.StatusServiceUnavailable)
	default:
		logger.Error("flow error", zap.Error(err))
		utils.WriteError(w, "internal_error", "Internal server error", http.StatusInternalServerError)
	}
}

// writeExchangeError surfaces a failed code exchange, mirroring a 4xx
// from the provider and mapping everything else to a gateway failure.
// The exchange is never retried: authorization codes are single-use.
func (h *Handler) writeExchangeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway

	var exchangeErr *hubspot.ExchangeError
	if errors.As(err, &exchangeErr) && exchangeErr.StatusCode >= 400 && exchangeErr.StatusCode < 500 {
		status = http.StatusBadRequest
	}

	logger.Error("token exchange failed", zap.Error(err))
	utils.WriteError(w, "token_exchange_failed", "Could not exchange authorization code", status)
}

func identityFromBody(r *http.Request) (flow.Identity, bool) {
	if err := r.ParseForm(); err != nil {
		return flow.Identity{}, false
	}

	identity := flow.Identity{
		UserID: r.FormValue("user_id"),
		OrgID:  r.FormValue("org_id"),
	}
	return identity, identity.Valid()
}

func parseWait(raw string) time.Duration {
	if raw == "" {
		return 0
	}

	wait, err := time.ParseDuration(raw)
	if err != nil || wait < 0 {
		return 0
	}
	if wait > maxStatusWait {
		return maxStatusWait
	}
	return wait
}
