package dataservice

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/openrules/openrules/pkg/engine"
)

// bodyBearing reports whether the method carries a request body.
func bodyBearing(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// executeREST substitutes {name} placeholders in the endpoint from
// variables, sends the remaining variables as query parameters for
// idempotent methods or as the JSON body for body-bearing methods, and
// decodes the JSON response.
func (c *Client) executeREST(ctx context.Context, config *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error) {
	method := strings.ToUpper(config.Method)
	if method == "" {
		method = http.MethodGet
	}

	endpoint, remaining, err := substitutePlaceholders(config.Endpoint, variables)
	if err != nil {
		return nil, engine.NewPermanentError(err.Error(), nil).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint).
			WithSuggestion("supply every placeholder variable the endpoint names")
	}

	var body []byte
	if bodyBearing(method) {
		payload := make(map[string]interface{})
		if len(config.Body) > 0 {
			if err := json.Unmarshal(config.Body, &payload); err != nil {
				return nil, engine.NewPermanentError("configured body template is not a JSON object", err).
					WithCode(engine.ErrCodeDataService).
					WithEndpoint(config.Endpoint)
			}
		}
		for name, value := range remaining {
			payload[name] = value
		}
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, engine.NewPermanentError("failed to marshal request body", err).
				WithCode(engine.ErrCodeDataService).
				WithEndpoint(config.Endpoint)
		}
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, engine.NewPermanentError("invalid REST endpoint", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint)
	}
	query := parsed.Query()
	for name, value := range config.QueryParams {
		query.Set(name, value)
	}
	if !bodyBearing(method) {
		for name, value := range remaining {
			query.Set(name, fmt.Sprintf("%v", value))
		}
	}
	parsed.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), bytes.NewReader(body))
	if err != nil {
		return nil, engine.NewPermanentError("failed to build REST request", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for name, value := range config.Headers {
		req.Header.Set(name, value)
	}
	if err := applyAuth(req, config.Auth); err != nil {
		return nil, err
	}

	_, raw, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		// Non-JSON payloads surface as raw text.
		return string(raw), nil
	}
	return decoded, nil
}

// substitutePlaceholders replaces every {name} in the endpoint and
// returns the variables left over.
func substitutePlaceholders(endpoint string, variables map[string]interface{}) (string, map[string]interface{}, error) {
	remaining := make(map[string]interface{}, len(variables))
	for name, value := range variables {
		remaining[name] = value
	}

	var sb strings.Builder
	for i := 0; i < len(endpoint); {
		ch := endpoint[i]
		if ch != '{' {
			sb.WriteByte(ch)
			i++
			continue
		}
		close := strings.IndexByte(endpoint[i:], '}')
		if close < 0 {
			return "", nil, fmt.Errorf("unterminated placeholder in endpoint %q", endpoint)
		}
		name := endpoint[i+1 : i+close]
		value, ok := variables[name]
		if !ok {
			return "", nil, fmt.Errorf("endpoint placeholder {%s} has no variable", name)
		}
		sb.WriteString(url.PathEscape(fmt.Sprintf("%v", value)))
		delete(remaining, name)
		i += close + 1
	}
	return sb.String(), remaining, nil
}
