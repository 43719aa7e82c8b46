package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/audiocache/internal/workpool"
)

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server status and worker pool occupancy",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

func (s *Server) registerSourceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listSources",
		Method:      http.MethodGet,
		Path:        "/api/v1/sources",
		Summary:     "List source handlers",
		Description: "Returns registered source handlers in match order",
		Tags:        []string{"Sources"},
	}, s.handleListSources)
}

// PoolStatus reports one worker pool's occupancy.
type PoolStatus struct {
	Size    int `json:"size" doc:"Concurrency limit"`
	Active  int `json:"active" doc:"Jobs running"`
	Waiting int `json:"waiting" doc:"Jobs queued for a slot"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status string                `json:"status" doc:"Overall status"`
	Pools  map[string]PoolStatus `json:"pools" doc:"Worker pools by name"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	health := HealthResponse{Status: "healthy", Pools: map[string]PoolStatus{}}

	probes, transcodes := s.catalog.Pools()
	for _, p := range []*workpool.Pool{probes, transcodes} {
		if p == nil {
			continue
		}
		health.Pools[p.Name()] = PoolStatus{Size: p.Size(), Active: p.Active(), Waiting: p.Waiting()}
	}

	return &HealthOutput{Body: health}, nil
}

// SourcesResponse lists source handler names.
type SourcesResponse struct {
	Handlers []string `json:"handlers" doc:"Handler names in match order"`
}

// SourcesOutput wraps the sources response for Huma.
type SourcesOutput struct {
	Body SourcesResponse
}

func (s *Server) handleListSources(_ context.Context, _ *struct{}) (*SourcesOutput, error) {
	return &SourcesOutput{Body: SourcesResponse{Handlers: s.sources.Handlers()}}, nil
}
