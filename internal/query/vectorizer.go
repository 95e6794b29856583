package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dtsim/ivfshard/internal/ivferrors"
)

// Vectorizer turns query text into an embedding of the dimension the
// serving index was built with. The embedding model itself is an
// external collaborator; this module only owns the transport to
// reach it.
type Vectorizer interface {
	Vectorize(ctx context.Context, text string) ([]float32, error)
}

// HTTPVectorizer calls a model server shaped like TensorFlow Serving's
// predict endpoint: POST {BaseURL}/v1/models/{Model}:predict with
// body {"inputs":{"text":[text]}}, expecting
// {"outputs":[[...float...]]} back.
type HTTPVectorizer struct {
	BaseURL string
	Model   string
	Client  *http.Client // caller-owned; timeouts/transport are the caller's concern
}

type predictRequest struct {
	Inputs struct {
		Text []string `json:"text"`
	} `json:"inputs"`
}

type predictResponse struct {
	Outputs [][]float32 `json:"outputs"`
}

// Vectorize sends text as a single-element batch and returns the first
// (and only) output vector.
func (v *HTTPVectorizer) Vectorize(ctx context.Context, text string) ([]float32, error) {
	var req predictRequest
	req.Inputs.Text = []string{text}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ivferrors.ErrVectorizerError, err)
	}

	url := fmt.Sprintf("%s/v1/models/%s:predict", v.BaseURL, v.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ivferrors.ErrVectorizerError, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ivferrors.ErrVectorizerError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ivferrors.ErrVectorizerError, resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ivferrors.ErrVectorizerError, err)
	}
	if len(out.Outputs) == 0 {
		return nil, fmt.Errorf("%w: empty outputs", ivferrors.ErrVectorizerError)
	}

	return out.Outputs[0], nil
}
