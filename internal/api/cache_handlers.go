package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/audiocache/internal/catalog"
	domainerrors "github.com/listenupapp/audiocache/internal/errors"
)

func (s *Server) registerCacheRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "checkCache",
		Method:      http.MethodPost,
		Path:        "/api/v1/cache/check",
		Summary:     "Check cache",
		Description: "Runs an integrity sweep inline and returns its report. Deep sweeps also probe each file's duration.",
		Tags:        []string{"Cache"},
	}, s.handleCheckCache)
}

// CheckCacheInput contains sweep options.
type CheckCacheInput struct {
	Deep bool `query:"deep" doc:"Probe durations as well as file presence"`
}

// CheckCacheOutput wraps the sweep report for Huma.
type CheckCacheOutput struct {
	Body catalog.SweepReport
}

func (s *Server) handleCheckCache(ctx context.Context, input *CheckCacheInput) (*CheckCacheOutput, error) {
	report, err := s.catalog.CheckCache(ctx, input.Deep)
	if errors.Is(err, catalog.ErrSweepRunning) {
		return nil, s.statusError(domainerrors.Conflict("cache sweep already running"))
	}
	if err != nil {
		return nil, s.statusError(err)
	}
	return &CheckCacheOutput{Body: report}, nil
}
