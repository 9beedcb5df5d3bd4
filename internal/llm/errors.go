package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	ollama "github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/docrag/internal/apperr"
)

var (
	errEmptyResponse     = errors.New("empty response")
	errMalformedResponse = errors.New("malformed response")
	errNoEmbeddings      = errors.New("provider does not support embeddings")
)

// classify maps a provider failure onto the error taxonomy.
// Authentication failures become credential errors, throttling, timeouts and
// 5xx become transient provider errors, anything else is a terminal
// provider error.
func classify(provider string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, errNoEmbeddings):
		return apperr.Credential("%s keys cannot produce embeddings; activate an openai or ollama key", provider)
	case errors.Is(err, errEmptyResponse), errors.Is(err, errMalformedResponse):
		return apperr.Provider(err, false, "%s returned an unusable response", provider)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Provider(err, true, "%s timed out", provider)
	}

	if code := statusCode(err); code != 0 {
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return apperr.Credential("%s rejected the API key (%d)", provider, code)
		case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
			return apperr.Provider(err, true, "%s unavailable (%d)", provider, code)
		default:
			return apperr.Provider(err, false, "%s rejected the request (%d)", provider, code)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperr.Provider(err, true, "%s unreachable", provider)
	}
	return apperr.Provider(err, false, "%s request failed", provider)
}

func statusCode(err error) int {
	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return oaiAPI.HTTPStatusCode
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return oaiReq.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	var olErr ollama.StatusError
	if errors.As(err, &olErr) {
		return olErr.StatusCode
	}
	return 0
}
