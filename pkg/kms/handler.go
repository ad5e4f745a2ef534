package kms

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tendant/simple-kms/pkg/auth"
	"github.com/tendant/simple-kms/pkg/keystore"
)

var statusOK = map[string]string{"status": "OK"}

// Handler handles HTTP requests for per-user key records. It binds token
// verification to the key store and enforces that a caller may only write
// their own record and may only read private material for themselves.
type Handler struct {
	verifier *auth.Verifier
	store    *keystore.Store
}

// NewHandler creates a new key-record handler
func NewHandler(verifier *auth.Verifier, store *keystore.Store) *Handler {
	return &Handler{
		verifier: verifier,
		store:    store,
	}
}

// RegisterRoutes registers the key-record routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/kms", func(r chi.Router) {
		r.Get("/{uid}", h.GetKeys)
		r.Put("/{uid}", h.PutKeys)
	})
}

// PutKeysRequest is the PUT /kms/{uid} body.
type PutKeysRequest struct {
	Keys    *KeysData `json:"keys"`
	Replace bool      `json:"replace"`
}

// KeysData carries the record sections of a write request. An absent section
// decodes to a nil map and is left untouched on a merge update.
type KeysData struct {
	Public  map[string]any `json:"public"`
	Private map[string]any `json:"private"`
}

// GetKeys returns the full record to its owner, or only the public section
// to any other authenticated caller.
func (h *Handler) GetKeys(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	rid := middleware.GetReqID(r.Context())
	slog.Info("Handling request", "rid", rid, "method", "GET", "path", "/kms/"+uid)

	claims, err := h.authenticate(r)
	if err != nil {
		slog.Warn("Failed to authenticate request", "rid", rid, "err", err)
		writeError(w, r, http.StatusUnauthorized, err)
		return
	}

	if claims.ObjectID == uid {
		record, err := h.store.Get(r.Context(), uid)
		if err != nil {
			slog.Warn("Failed to get record", "rid", rid, "u", claims.ObjectID, "err", err)
			writeError(w, r, storeStatus(err), err)
			return
		}
		slog.Info("Returned private and public keys", "rid", rid, "u", claims.ObjectID)
		render.JSON(w, r, record)
		return
	}

	publics, err := h.store.PublicKeys(r.Context(), []string{uid})
	if err != nil {
		slog.Warn("Failed to get public keys", "rid", rid, "u", claims.ObjectID, "err", err)
		writeError(w, r, storeStatus(err), err)
		return
	}
	slog.Info("Returned public keys", "rid", rid, "u", claims.ObjectID)
	render.JSON(w, r, map[string]any{"public": publics[uid]})
}

// PutKeys stores key material for the caller's own record, either replacing
// it wholesale or applying a field-level merge.
func (h *Handler) PutKeys(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	rid := middleware.GetReqID(r.Context())
	slog.Info("Handling request", "rid", rid, "method", "PUT", "path", "/kms/"+uid)

	claims, err := h.authenticate(r)
	if err != nil {
		slog.Warn("Failed to authenticate request", "rid", rid, "err", err)
		writeError(w, r, http.StatusUnauthorized, err)
		return
	}

	if claims.ObjectID != uid {
		err := &InvalidUidError{UID: uid, CallerID: claims.ObjectID}
		slog.Warn("Rejected write", "rid", rid, "u", claims.ObjectID, "err", err)
		writeError(w, r, http.StatusForbidden, err)
		return
	}

	var req PutKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		incomplete := &IncompleteDataError{Message: "failed to parse request body"}
		slog.Warn("Failed to save keys", "rid", rid, "u", claims.ObjectID, "err", err)
		writeError(w, r, http.StatusBadRequest, incomplete)
		return
	}
	if req.Keys == nil {
		incomplete := &IncompleteDataError{Message: "keys data was not provided in the request body"}
		slog.Warn("Failed to save keys", "rid", rid, "u", claims.ObjectID, "err", incomplete)
		writeError(w, r, http.StatusBadRequest, incomplete)
		return
	}

	if req.Replace {
		if req.Keys.Public == nil || req.Keys.Private == nil {
			incomplete := &IncompleteDataError{Message: "new data must have public and private keys for replacement"}
			slog.Warn("Failed to save keys", "rid", rid, "u", claims.ObjectID, "err", incomplete)
			writeError(w, r, http.StatusBadRequest, incomplete)
			return
		}
		record := keystore.Record{Public: req.Keys.Public, Private: req.Keys.Private}
		if err := h.store.Set(r.Context(), uid, record); err != nil {
			slog.Warn("Failed to replace record", "rid", rid, "u", claims.ObjectID, "err", err)
			writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		slog.Info("Replaced private and public keys", "rid", rid, "u", claims.ObjectID)
		render.JSON(w, r, statusOK)
		return
	}

	if err := h.store.MergeUpdate(r.Context(), uid, req.Keys.Public, req.Keys.Private); err != nil {
		slog.Warn("Failed to update record", "rid", rid, "u", claims.ObjectID, "err", err)
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	slog.Info("Updated record", "rid", rid, "u", claims.ObjectID)
	render.JSON(w, r, statusOK)
}

// authenticate extracts and verifies the bearer token.
func (h *Handler) authenticate(r *http.Request) (*auth.Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, &auth.TokenInvalidError{Message: "missing authorization header"}
	}
	token := strings.TrimPrefix(header, "Bearer ")
	return h.verifier.Verify(r.Context(), token)
}

// storeStatus maps a store error to a response status.
func storeStatus(err error) int {
	var notFound *keystore.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// writeError renders a typed error as {"error": {...}}. Only the error's
// name, message, and backend code are exposed; internal detail stays in the
// logs.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := errorBody{Name: "Error", Message: err.Error()}

	var (
		tokenInvalid   *auth.TokenInvalidError
		tokenExpired   *auth.TokenExpiredError
		tokenOpenId    *auth.TokenOpenIdError
		invalidAppId   *auth.InvalidAppIdError
		invalidUid     *InvalidUidError
		incompleteData *IncompleteDataError
		notFound       *keystore.NotFoundError
		dataAccess     *keystore.DataAccessError
	)
	switch {
	case errors.As(err, &tokenInvalid):
		body.Name = "TokenInvalidError"
	case errors.As(err, &tokenExpired):
		body.Name = "TokenExpiredError"
	case errors.As(err, &tokenOpenId):
		body.Name = "TokenOpenIdError"
	case errors.As(err, &invalidAppId):
		body.Name = "InvalidAppIdError"
	case errors.As(err, &invalidUid):
		body.Name = "InvalidUidError"
	case errors.As(err, &incompleteData):
		body.Name = "IncompleteDataError"
	case errors.As(err, &notFound):
		body.Name = "DataAccessError"
		body.Code = notFound.Code()
	case errors.As(err, &dataAccess):
		body.Name = "DataAccessError"
		body.Code = dataAccess.Code()
	}

	render.Status(r, status)
	render.JSON(w, r, map[string]errorBody{"error": body})
}
