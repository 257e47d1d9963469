package server

import (
	"errors"
	"net/http"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/storage"
)

// HandleCreateMeeting handles POST /v1/meetings (editor+).
// Runs the extraction pipeline over the raw notes and persists the result.
// Honors the Idempotency-Key header: retries with the same key and payload
// replay the original response instead of re-running the pipeline.
func (h *Handlers) HandleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req model.CreateMeetingRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateMeetingInput(req.Title, req.RawText, req.Participants); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	idem, proceed := h.beginIdempotentWrite(w, r, createMeetingEndpoint, req)
	if !proceed {
		return
	}

	m, err := h.meetingSvc.ProcessMeeting(r.Context(), req)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		h.writeInternalError(w, r, "failed to process meeting", err)
		return
	}

	h.completeIdempotentWriteBestEffort(r, idem, http.StatusCreated, m)
	writeJSON(w, r, http.StatusCreated, m)
}

// HandleListMeetings handles GET /v1/meetings (reader+).
func (h *Handlers) HandleListMeetings(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 20)
	offset := queryOffset(r)

	summaries, total, err := h.meetingSvc.ListMeetings(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list meetings", err)
		return
	}
	if summaries == nil {
		summaries = []model.MeetingSummary{}
	}

	writeList(w, r, summaries, total, limit, offset, len(summaries))
}

// HandleGetMeeting handles GET /v1/meetings/{id} (reader+).
func (h *Handlers) HandleGetMeeting(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	m, err := h.meetingSvc.GetMeeting(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "meeting not found")
			return
		}
		h.writeInternalError(w, r, "failed to get meeting", err)
		return
	}

	writeJSON(w, r, http.StatusOK, m)
}

// HandleDeleteMeeting handles DELETE /v1/meetings/{id} (editor+).
func (h *Handlers) HandleDeleteMeeting(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.meetingSvc.DeleteMeeting(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "meeting not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete meeting", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListMeetingItems handles GET /v1/meetings/{id}/action-items (reader+).
func (h *Handlers) HandleListMeetingItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	m, err := h.meetingSvc.GetMeeting(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "meeting not found")
			return
		}
		h.writeInternalError(w, r, "failed to get meeting", err)
		return
	}

	items := m.ActionItems
	if items == nil {
		items = []model.ActionItem{}
	}
	writeJSON(w, r, http.StatusOK, items)
}

// HandleGetActionItem handles GET /v1/action-items/{id} (reader+).
func (h *Handlers) HandleGetActionItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	it, _, err := h.meetingSvc.GetActionItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "action item not found")
			return
		}
		h.writeInternalError(w, r, "failed to get action item", err)
		return
	}

	writeJSON(w, r, http.StatusOK, it)
}

// HandleUpdateActionItem handles PATCH /v1/action-items/{id} (editor+).
// Nil fields are left unchanged; providing an owner or deadline clears the
// corresponding risk flag and recomputes the confidence score.
func (h *Handlers) HandleUpdateActionItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.UpdateActionItemRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Description != nil && *req.Description == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "description must not be empty")
		return
	}
	if req.Priority != nil {
		if err := model.ValidatePriority(*req.Priority); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	it, err := h.meetingSvc.UpdateActionItem(r.Context(), id, req)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "action item not found")
			return
		}
		h.writeInternalError(w, r, "failed to update action item", err)
		return
	}

	writeJSON(w, r, http.StatusOK, it)
}

// HandleClarifyItem handles POST /v1/action-items/{id}/clarify (editor+).
// Applies answers to the open clarification questions that target this item.
func (h *Handlers) HandleClarifyItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.ClarifyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Responses) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "responses is required")
		return
	}

	it, err := h.meetingSvc.ClarifyItem(r.Context(), id, req.Responses)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "action item not found")
			return
		}
		h.writeInternalError(w, r, "failed to clarify action item", err)
		return
	}

	writeJSON(w, r, http.StatusOK, it)
}

// HandleRefineMeeting handles POST /v1/meetings/{id}/refine (editor+).
// One refinement round: with responses it applies them to the open question
// batch; without responses it (re)generates the batch. Honors Idempotency-Key
// so a retried round does not double-apply answers.
func (h *Handlers) HandleRefineMeeting(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.RefineRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	idem, proceed := h.beginIdempotentWrite(w, r, refineEndpoint(id), req)
	if !proceed {
		return
	}

	resp, err := h.meetingSvc.Refine(r.Context(), id, req.Responses)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "meeting not found")
			return
		}
		h.writeInternalError(w, r, "failed to refine meeting", err)
		return
	}

	h.completeIdempotentWriteBestEffort(r, idem, http.StatusOK, resp)
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleSearch handles POST /v1/search (reader+).
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "query is required")
		return
	}
	if req.PriorityMin != nil {
		if err := model.ValidatePriority(*req.PriorityMin); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	hits, err := h.meetingSvc.Search(r.Context(), req)
	if err != nil {
		h.writeInternalError(w, r, "search failed", err)
		return
	}
	if hits == nil {
		hits = []model.SearchHit{}
	}

	writeJSON(w, r, http.StatusOK, hits)
}
