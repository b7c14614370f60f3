package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// AdminHandler serves health and operator endpoints next to the conversation API.
// Operator endpoints need a bearer token; without one configured they stay disabled.
type AdminHandler struct {
	svc   Conversations
	token string
}

func NewAdminHandler(svc Conversations, token string) *AdminHandler {
	return &AdminHandler{svc: svc, token: strings.TrimSpace(token)}
}

// OperatorEnabled reports whether the adapter and state endpoints should be mounted.
func (h *AdminHandler) OperatorEnabled() bool {
	return h.token != ""
}

// RequireToken rejects requests whose Authorization header does not carry the admin token.
func (h *AdminHandler) RequireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !h.OperatorEnabled() || !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(h.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="goalcoach-admin"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (h *AdminHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// HandleAdapters lists adapters on GET and switches the active one on POST
// with {"adapter": "<name>"}.
func (h *AdminHandler) HandleAdapters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var in struct {
			Adapter string `json:"adapter"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&in); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		name := strings.TrimSpace(in.Adapter)
		if name == "" {
			http.Error(w, "adapter is required", http.StatusBadRequest)
			return
		}
		h.svc.SetAdapter(name)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     h.svc.ActiveAdapter(),
		"registered": h.svc.Adapters(),
	})
}

// HandleState returns the stored state for ?user= (anonymous when blank).
func (h *AdminHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user := firstNonEmpty(r.URL.Query().Get("user"), r.Header.Get(headerUserID))
	writeJSON(w, http.StatusOK, h.svc.State(user))
}
