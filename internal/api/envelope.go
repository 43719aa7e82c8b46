package api

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/listenupapp/audiocache/internal/http/response"
)

// EnvelopeTransformer wraps every huma response body in response.Envelope so
// huma operations and plain chi handlers answer in the same shape.
func EnvelopeTransformer(_ huma.Context, _ string, v any) (any, error) {
	switch body := v.(type) {
	case *APIError:
		return response.Envelope{Error: body.Message, Code: body.Code, Details: body.Details}, nil
	case response.Envelope, *response.Envelope:
		return v, nil
	default:
		return response.Envelope{Success: true, Data: v}, nil
	}
}
