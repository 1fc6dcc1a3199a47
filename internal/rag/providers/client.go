package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/advanced-rag/vector-gateway/internal/rag"
)

// maxErrorBody caps how much of an upstream error body is carried into
// the error message.
const maxErrorBody = 512

// postJSON sends payload to url as a JSON POST and returns the parsed
// body. A bearer token is attached when non-empty. Transport failures
// and non-2xx statuses come back as remote errors.
func postJSON(ctx context.Context, client *http.Client, url, bearer string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, rag.Wrap(rag.KindFormat, "encoding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, rag.Wrap(rag.KindRemote, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return gjson.Result{}, rag.Wrap(rag.KindRemote, "calling "+url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, rag.Wrap(rag.KindRemote, "reading response from "+url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, rag.Errorf(rag.KindRemote, "%s returned status %d: %s",
			url, resp.StatusCode, errorExcerpt(data))
	}
	return gjson.ParseBytes(data), nil
}

func errorExcerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}

// joinURL appends a path to a base URL without doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

// floatVector converts a gjson array into a float32 vector.
func floatVector(arr gjson.Result) []float32 {
	values := arr.Array()
	vec := make([]float32, 0, len(values))
	for _, v := range values {
		vec = append(vec, float32(v.Float()))
	}
	return vec
}
