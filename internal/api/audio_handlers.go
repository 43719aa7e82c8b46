package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/listenupapp/audiocache/internal/domain"
	"github.com/listenupapp/audiocache/internal/http/response"
)

func (s *Server) registerAudioRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "addAudio",
		Method:      http.MethodPost,
		Path:        "/api/v1/audio",
		Summary:     "Add audio",
		Description: "Acquires a source into the cache. Returns 201 for a new record and 200 when the source or its fingerprint is already cached.",
		Tags:        []string{"Audio"},
		Middlewares: s.rateLimited(),
	}, s.handleAddAudio)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchAudio",
		Method:      http.MethodGet,
		Path:        "/api/v1/audio",
		Summary:     "Search audio",
		Description: "Searches the catalog by free text, sender, artist and duration range",
		Tags:        []string{"Audio"},
	}, s.handleSearchAudio)

	huma.Register(s.api, huma.Operation{
		OperationID: "getAudio",
		Method:      http.MethodGet,
		Path:        "/api/v1/audio/{id}",
		Summary:     "Get audio",
		Description: "Returns a catalog record by ID",
		Tags:        []string{"Audio"},
	}, s.handleGetAudio)

	huma.Register(s.api, huma.Operation{
		OperationID:   "deleteAudio",
		Method:        http.MethodDelete,
		Path:          "/api/v1/audio/{id}",
		Summary:       "Delete audio",
		Description:   "Removes a record and its cached file. Unknown IDs succeed.",
		Tags:          []string{"Audio"},
		DefaultStatus: http.StatusNoContent,
	}, s.handleDeleteAudio)
}

// === DTOs ===

// AddAudioRequest is the request body for adding audio.
type AddAudioRequest struct {
	Sender string     `json:"sender,omitempty" validate:"max=256" doc:"Who asked for the audio"`
	Source string     `json:"source" validate:"required,max=4096,sourceref" doc:"Source reference: a URL, a platform id, or a local path"`
	Hints  HintFields `json:"hints,omitempty" doc:"Metadata overriding what the source reports"`
}

// HintFields are caller-supplied metadata overriding what the source reports.
type HintFields struct {
	Title    *string `json:"title,omitempty" validate:"omitempty,max=512" doc:"Title"`
	Artist   *string `json:"artist,omitempty" validate:"omitempty,max=512" doc:"Artist"`
	Duration *int    `json:"duration,omitempty" minimum:"0" validate:"omitempty,gte=0" doc:"Duration in seconds; 0 means unknown"`
	Size     *int64  `json:"size,omitempty" minimum:"0" validate:"omitempty,gte=0" doc:"Source size in bytes"`
}

func (h HintFields) metadata() domain.SourceMetadata {
	return domain.SourceMetadata{
		Title:    h.Title,
		Artist:   h.Artist,
		Duration: h.Duration,
		Size:     h.Size,
	}
}

// AddAudioInput wraps the add audio request for Huma.
type AddAudioInput struct {
	Body AddAudioRequest
}

// AudioOutput wraps a catalog record for Huma. Status overrides the
// operation's default when set.
type AudioOutput struct {
	Status int
	Body   *domain.AudioRecord
}

// SearchAudioInput contains search query parameters.
type SearchAudioInput struct {
	Query       string `query:"q" maxLength:"512" doc:"Free text matched against title and artist"`
	Sender      string `query:"sender" doc:"Exact sender"`
	Artist      string `query:"artist" doc:"Exact artist, case-insensitive"`
	MinDuration int    `query:"min_duration" minimum:"0" doc:"Minimum duration in seconds"`
	MaxDuration int    `query:"max_duration" minimum:"0" doc:"Maximum duration in seconds"`
	Limit       int    `query:"limit" minimum:"0" maximum:"500" doc:"Page size (default 50)"`
	Offset      int    `query:"offset" minimum:"0" doc:"Records to skip"`
}

// SearchResponse is a page of records.
type SearchResponse struct {
	Items []*domain.AudioRecord `json:"items" doc:"Matching records"`
	Count int                   `json:"count" doc:"Number of records in this page"`
}

// SearchAudioOutput wraps the search response for Huma.
type SearchAudioOutput struct {
	Body SearchResponse
}

// AudioIDInput addresses a record by ID.
type AudioIDInput struct {
	ID string `path:"id" doc:"Audio ID"`
}

// === Handlers ===

func (s *Server) handleAddAudio(ctx context.Context, input *AddAudioInput) (*AudioOutput, error) {
	if err := s.validator.Validate(input.Body); err != nil {
		return nil, s.statusError(err)
	}

	started := time.Now()
	rec, err := s.catalog.Add(ctx, input.Body.Sender, input.Body.Source, input.Body.Hints.metadata())
	if err != nil {
		return nil, s.statusError(err)
	}

	status := http.StatusCreated
	if rec.CreatedAt.Before(started) {
		status = http.StatusOK
	}
	return &AudioOutput{Status: status, Body: rec}, nil
}

func (s *Server) handleSearchAudio(ctx context.Context, input *SearchAudioInput) (*SearchAudioOutput, error) {
	filter := domain.SearchFilter{
		Query:       input.Query,
		Sender:      input.Sender,
		Artist:      input.Artist,
		MinDuration: input.MinDuration,
		MaxDuration: input.MaxDuration,
		Limit:       input.Limit,
		Offset:      input.Offset,
	}

	items := []*domain.AudioRecord{}
	for rec, err := range s.catalog.Search(ctx, filter) {
		if err != nil {
			return nil, s.statusError(err)
		}
		items = append(items, rec)
	}

	return &SearchAudioOutput{Body: SearchResponse{Items: items, Count: len(items)}}, nil
}

func (s *Server) handleGetAudio(ctx context.Context, input *AudioIDInput) (*AudioOutput, error) {
	rec, err := s.catalog.Get(ctx, input.ID)
	if err != nil {
		return nil, s.statusError(err)
	}
	return &AudioOutput{Body: rec}, nil
}

func (s *Server) handleDeleteAudio(ctx context.Context, input *AudioIDInput) (*struct{}, error) {
	if err := s.catalog.Delete(ctx, input.ID); err != nil {
		return nil, s.statusError(err)
	}
	return nil, nil
}

// handleGetAudioFile streams the cached file. A record whose file is missing
// answers 404 until the sweep repairs it.
// GET /api/v1/audio/{id}/file
func (s *Server) handleGetAudioFile(w http.ResponseWriter, r *http.Request) {
	rec, err := s.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	path, ok := s.catalog.GetFile(rec)
	if !ok {
		response.NotFound(w, "Audio file not available", s.logger)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	http.ServeFile(w, r, path)
}
