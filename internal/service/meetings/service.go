// Package meetings provides the shared business logic for meeting and action
// item operations.
//
// Both the HTTP API and MCP server delegate to this service, eliminating
// duplicated logic and ensuring consistent behavior (pipeline runs, refinement
// rounds, embedding generation, search) across all interfaces.
package meetings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"

	"github.com/taskledger-ai/taskledger/internal/model"
	"github.com/taskledger-ai/taskledger/internal/pipeline"
	"github.com/taskledger-ai/taskledger/internal/refine"
	"github.com/taskledger-ai/taskledger/internal/scoring"
	"github.com/taskledger-ai/taskledger/internal/search"
	"github.com/taskledger-ai/taskledger/internal/service/embedding"
	"github.com/taskledger-ai/taskledger/internal/storage"
	"github.com/taskledger-ai/taskledger/internal/telemetry"
)

// Service encapsulates meeting business logic shared by HTTP and MCP handlers.
type Service struct {
	db       *storage.DB
	pipe     *pipeline.Orchestrator
	refiner  *refine.Controller
	embedder embedding.Provider
	searcher search.Searcher
	logger   *slog.Logger

	pipelineDuration  metric.Float64Histogram
	embeddingDuration metric.Float64Histogram
	searchDuration    metric.Float64Histogram
}

// New creates a meeting Service.
// searcher may be nil if Qdrant is not configured (falls back to pgvector).
func New(db *storage.DB, pipe *pipeline.Orchestrator, refiner *refine.Controller, embedder embedding.Provider, searcher search.Searcher, logger *slog.Logger) *Service {
	meter := telemetry.Meter("taskledger/meetings")
	pipeDur, _ := meter.Float64Histogram("taskledger.pipeline.duration",
		metric.WithDescription("End-to-end pipeline run time (ms)"),
		metric.WithUnit("ms"),
	)
	embDur, _ := meter.Float64Histogram("taskledger.embedding.duration",
		metric.WithDescription("Time to generate embeddings (ms)"),
		metric.WithUnit("ms"),
	)
	searchDur, _ := meter.Float64Histogram("taskledger.search.duration",
		metric.WithDescription("Time to execute search queries (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		db:                db,
		pipe:              pipe,
		refiner:           refiner,
		embedder:          embedder,
		searcher:          searcher,
		logger:            logger,
		pipelineDuration:  pipeDur,
		embeddingDuration: embDur,
		searchDuration:    searchDur,
	}
}

// BackendName reports the active stage backend, for health endpoints.
func (s *Service) BackendName() string { return s.pipe.BackendName() }

// ProcessMeeting runs the full pipeline over raw meeting notes and persists
// the result. Indexing for similarity search happens after commit and is
// best-effort; a failed index never fails the request.
func (s *Service) ProcessMeeting(ctx context.Context, req model.CreateMeetingRequest) (model.Meeting, error) {
	if err := model.ValidateMeetingInput(req.Title, req.RawText, req.Participants); err != nil {
		return model.Meeting{}, fmt.Errorf("meetings: %w", err)
	}

	start := time.Now()
	result, err := s.pipe.Run(ctx, req.RawText, req.Participants)
	s.pipelineDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return model.Meeting{}, fmt.Errorf("meetings: process: %w", err)
	}

	m := model.Meeting{
		ID:                uuid.New(),
		Title:             req.Title,
		RawText:           req.RawText,
		Participants:      req.Participants,
		OverallConfidence: result.OverallConfidence,
		Summary:           result.Summary,
		ActionItems:       result.ValidatedItems,
		CreatedAt:         time.Now().UTC(),
	}
	if m.Participants == nil {
		m.Participants = []string{}
	}

	if err := s.db.CreateMeeting(ctx, m); err != nil {
		return model.Meeting{}, fmt.Errorf("meetings: %w", err)
	}

	s.indexItems(ctx, m.ID, m.ActionItems)

	s.logger.Info("meeting processed",
		"meeting_id", m.ID,
		"items", len(m.ActionItems),
		"overall_confidence", m.OverallConfidence,
	)
	return m, nil
}

// GetMeeting loads a meeting with its items.
func (s *Service) GetMeeting(ctx context.Context, id uuid.UUID) (model.Meeting, error) {
	return s.db.GetMeeting(ctx, id)
}

// ListMeetings returns meeting summaries, newest first, plus the total count.
func (s *Service) ListMeetings(ctx context.Context, limit, offset int) ([]model.MeetingSummary, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.db.ListMeetings(ctx, limit, offset)
}

// DeleteMeeting removes a meeting and its search index entries.
func (s *Service) DeleteMeeting(ctx context.Context, id uuid.UUID) error {
	if err := s.db.DeleteMeeting(ctx, id); err != nil {
		return err
	}
	if idx, ok := s.searcher.(*search.QdrantIndex); ok && idx != nil {
		if err := idx.DeleteByMeeting(ctx, id); err != nil {
			s.logger.Warn("meetings: qdrant delete by meeting failed", "meeting_id", id, "error", err)
		}
	}
	return nil
}

// GetActionItem loads one item plus the meeting that owns it.
func (s *Service) GetActionItem(ctx context.Context, id uuid.UUID) (model.ActionItem, uuid.UUID, error) {
	return s.db.GetActionItem(ctx, id)
}

// UpdateActionItem applies a partial update to an item. Setting an owner or
// deadline clears the corresponding risk flag, and the confidence score is
// recomputed from the updated fields.
func (s *Service) UpdateActionItem(ctx context.Context, id uuid.UUID, req model.UpdateActionItemRequest) (model.ActionItem, error) {
	it, meetingID, err := s.db.GetActionItem(ctx, id)
	if err != nil {
		return model.ActionItem{}, err
	}

	if req.Description != nil {
		if *req.Description == "" {
			return model.ActionItem{}, fmt.Errorf("meetings: description must not be empty")
		}
		it.Description = *req.Description
		it.RemoveRiskFlags(model.RiskVagueDescription)
	}
	if req.Owner != nil {
		it.Owner = req.Owner
		it.RemoveRiskFlags(model.RiskMissingOwner)
	}
	if req.Deadline != nil {
		it.Deadline = req.Deadline
		it.RemoveRiskFlags(model.RiskMissingDeadline)
	}
	if req.Priority != nil {
		if err := model.ValidatePriority(*req.Priority); err != nil {
			return model.ActionItem{}, fmt.Errorf("meetings: %w", err)
		}
		it.Priority = *req.Priority
	}
	if req.IsComplete != nil {
		it.IsComplete = *req.IsComplete
	}

	scoring.Rescore(&it)

	if err := s.db.UpdateActionItem(ctx, it); err != nil {
		return model.ActionItem{}, err
	}

	s.indexItems(ctx, meetingID, []model.ActionItem{it})
	return it, nil
}

// Refine executes one clarification round for a meeting.
//
// With no responses it (re)generates the open question batch without touching
// the items. With responses it applies them against the currently open batch,
// persists the updated item set, records the answers, and installs the next
// batch.
func (s *Service) Refine(ctx context.Context, meetingID uuid.UUID, responses map[int]string) (model.RefineResponse, error) {
	m, err := s.db.GetMeeting(ctx, meetingID)
	if err != nil {
		return model.RefineResponse{}, err
	}

	open, err := s.db.OpenQuestions(ctx, meetingID)
	if err != nil {
		return model.RefineResponse{}, err
	}

	result, err := s.refiner.Run(ctx, m.ActionItems, m.RawText, open, responses)
	if err != nil {
		return model.RefineResponse{}, fmt.Errorf("meetings: refine: %w", err)
	}

	if len(result.Answered) > 0 {
		if err := s.db.MarkQuestionsAnswered(ctx, meetingID, result.Answered); err != nil {
			return model.RefineResponse{}, err
		}
		overall := scoring.OverallConfidence(result.Items)
		if err := s.db.ReplaceMeetingItems(ctx, meetingID, result.Items, overall); err != nil {
			return model.RefineResponse{}, err
		}
		s.indexItems(ctx, meetingID, result.Items)
	}

	if err := s.db.ReplaceQuestionBatch(ctx, meetingID, result.Remaining); err != nil {
		return model.RefineResponse{}, err
	}

	return model.RefineResponse{
		ActionItems:        result.Items,
		RemainingQuestions: result.Remaining,
		Resolved:           result.Resolved,
	}, nil
}

// ClarifyItem answers open questions that target a single action item. It is
// a narrowed refinement round: answers to questions belonging to other items
// are ignored.
func (s *Service) ClarifyItem(ctx context.Context, itemID uuid.UUID, responses map[int]string) (model.ActionItem, error) {
	_, meetingID, err := s.db.GetActionItem(ctx, itemID)
	if err != nil {
		return model.ActionItem{}, err
	}

	open, err := s.db.OpenQuestions(ctx, meetingID)
	if err != nil {
		return model.ActionItem{}, err
	}

	// Drop answers that address other items so one item's clarify call cannot
	// mutate its siblings.
	scoped := make(map[int]string, len(responses))
	for _, q := range open {
		if q.ActionItemID != itemID {
			continue
		}
		if answer, ok := responses[q.QuestionID]; ok {
			scoped[q.QuestionID] = answer
		}
	}

	resp, err := s.Refine(ctx, meetingID, scoped)
	if err != nil {
		return model.ActionItem{}, err
	}

	for _, it := range resp.ActionItems {
		if it.ID == itemID {
			return it, nil
		}
	}
	return model.ActionItem{}, storage.ErrNotFound
}

// Search performs semantic search over action items.
// Fallback chain: Qdrant (when configured and healthy), then pgvector in
// Postgres, then ILIKE text search when no usable embedding exists.
func (s *Service) Search(ctx context.Context, req model.SearchRequest) ([]model.SearchHit, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("meetings: search query must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	embStart := time.Now()
	queryEmb, err := s.embedder.Embed(ctx, req.Query)
	s.embeddingDuration.Record(ctx, float64(time.Since(embStart).Milliseconds()))
	if err != nil {
		s.logger.Warn("search: embedding failed, falling back to text", "error", err)
		return s.searchByText(ctx, req, limit)
	}
	if isZeroVector(queryEmb) {
		return s.searchByText(ctx, req, limit)
	}

	if s.searcher != nil {
		if err := s.searcher.Healthy(ctx); err == nil {
			searchStart := time.Now()
			results, err := s.searcher.Search(ctx, queryEmb.Slice(), search.Filter{
				MeetingID:   req.MeetingID,
				PriorityMin: req.PriorityMin,
			}, limit)
			s.searchDuration.Record(ctx, float64(time.Since(searchStart).Milliseconds()))
			if err != nil {
				s.logger.Warn("search: qdrant query failed, falling back to pgvector", "error", err)
			} else {
				return s.hydrateAndReScore(ctx, results, limit)
			}
		} else {
			s.logger.Debug("search: qdrant unhealthy, using pgvector", "error", err)
		}
	}

	hits, err := s.db.SearchSimilarItems(ctx, queryEmb, limit, storage.SimilarItemsFilter{
		MeetingID:   req.MeetingID,
		PriorityMin: req.PriorityMin,
	})
	if err != nil {
		return nil, fmt.Errorf("meetings: search: %w", err)
	}
	out := make([]model.SearchHit, len(hits))
	for i, h := range hits {
		out[i] = model.SearchHit{Item: h.Item, Score: h.Score}
	}
	return out, nil
}

func (s *Service) searchByText(ctx context.Context, req model.SearchRequest, limit int) ([]model.SearchHit, error) {
	hits, err := s.db.SearchItemsByText(ctx, req.Query, limit, storage.SimilarItemsFilter{
		MeetingID:   req.MeetingID,
		PriorityMin: req.PriorityMin,
	})
	if err != nil {
		return nil, fmt.Errorf("meetings: text search: %w", err)
	}
	out := make([]model.SearchHit, len(hits))
	for i, h := range hits {
		out[i] = model.SearchHit{Item: h.Item, Score: h.Score}
	}
	return out, nil
}

// hydrateAndReScore fetches full items from Postgres and applies confidence
// re-scoring.
func (s *Service) hydrateAndReScore(ctx context.Context, results []search.Result, limit int) ([]model.SearchHit, error) {
	if len(results) == 0 {
		return []model.SearchHit{}, nil
	}

	items := make(map[uuid.UUID]model.ActionItem, len(results))
	for _, r := range results {
		it, _, err := s.db.GetActionItem(ctx, r.ItemID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // deleted between index search and hydration
			}
			return nil, fmt.Errorf("meetings: hydrate item: %w", err)
		}
		items[it.ID] = it
	}

	return search.ReScore(results, items, limit), nil
}

// indexItems writes embeddings to Postgres and, when configured, upserts the
// items into Qdrant. Failures are logged and swallowed; the items remain
// findable via the text fallback.
func (s *Service) indexItems(ctx context.Context, meetingID uuid.UUID, items []model.ActionItem) {
	if len(items) == 0 {
		return
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = embedding.ItemText(it)
	}

	embStart := time.Now()
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	s.embeddingDuration.Record(ctx, float64(time.Since(embStart).Milliseconds()))
	if err != nil {
		s.logger.Warn("index: embedding batch failed", "meeting_id", meetingID, "error", err)
		return
	}
	if len(vecs) != len(items) || (len(vecs) > 0 && isZeroVector(vecs[0])) {
		return // noop provider or short response, nothing to index
	}

	points := make([]search.Point, 0, len(items))
	for i, it := range items {
		if err := s.db.SetItemEmbedding(ctx, it.ID, vecs[i]); err != nil {
			s.logger.Warn("index: store embedding failed", "item_id", it.ID, "error", err)
			continue
		}
		owner := ""
		if it.Owner != nil {
			owner = *it.Owner
		}
		points = append(points, search.Point{
			ID:              it.ID,
			MeetingID:       meetingID,
			Owner:           owner,
			Priority:        it.Priority,
			ConfidenceScore: it.ConfidenceScore,
			IsComplete:      it.IsComplete,
			Embedding:       vecs[i].Slice(),
		})
	}

	if idx, ok := s.searcher.(*search.QdrantIndex); ok && idx != nil && len(points) > 0 {
		if err := idx.Upsert(ctx, points); err != nil {
			s.logger.Warn("index: qdrant upsert failed", "meeting_id", meetingID, "error", err)
		}
	}
}

// isZeroVector returns true if all elements of the vector are zero (noop provider).
func isZeroVector(v pgvector.Vector) bool {
	for _, val := range v.Slice() {
		if val != 0 {
			return false
		}
	}
	return true
}
