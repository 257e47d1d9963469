package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/taskledger-ai/taskledger/internal/auth"
	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/storage"
)

// HandleCreateKey handles POST /v1/keys (admin-only).
// Mints a new API key and returns the raw key exactly once. After this
// response, only the prefix is available.
func (h *Handlers) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req model.CreateKeyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateKeyLabel(req.Label); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = model.RoleEditor
	}
	if err := model.ValidateRole(req.Role); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid expires_at format (expected RFC3339)")
			return
		}
		if t.Before(time.Now()) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "expires_at must be in the future")
			return
		}
		expiresAt = &t
	}

	rawKey, prefix, err := model.GenerateRawKey()
	if err != nil {
		h.writeInternalError(w, r, "failed to generate api key", err)
		return
	}

	hash, err := auth.HashAPIKey(rawKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	created, err := h.db.CreateAPIKey(r.Context(), model.APIKey{
		Prefix:    prefix,
		KeyHash:   hash,
		Label:     req.Label,
		Role:      req.Role,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		h.writeInternalError(w, r, "failed to create api key", err)
		return
	}

	h.logger.Info("api key created", "key_id", created.ID, "label", created.Label, "role", created.Role)

	writeJSON(w, r, http.StatusCreated, model.APIKeyWithRawKey{
		APIKey: created,
		RawKey: rawKey,
	})
}

// HandleListKeys handles GET /v1/keys (admin-only).
// Key hashes are never exposed.
func (h *Handlers) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	keys, total, err := h.db.ListAPIKeys(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list api keys", err)
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}

	writeList(w, r, keys, total, limit, offset, len(keys))
}

// HandleRevokeKey handles DELETE /v1/keys/{id} (admin-only).
// Revokes a key by setting revoked_at. The key immediately stops working;
// JWTs already exchanged from it live until they expire.
func (h *Handlers) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.db.RevokeAPIKey(r.Context(), keyID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "api key not found")
			return
		}
		h.writeInternalError(w, r, "failed to revoke api key", err)
		return
	}

	h.logger.Info("api key revoked", "key_id", keyID)
	w.WriteHeader(http.StatusNoContent)
}
