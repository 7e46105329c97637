package dataservice

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/openrules/openrules/pkg/engine"
)

// graphqlRequest is the standard POST payload.
type graphqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   interface{}    `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// executeGraphQL posts the configured query and returns the response's
// data object. Any entry in the errors array fails the call.
func (c *Client) executeGraphQL(ctx context.Context, config *engine.DataServiceConfig, variables map[string]interface{}) (interface{}, error) {
	payload := graphqlRequest{
		Query:         config.Query,
		OperationName: config.OperationName,
		Variables:     variables,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, engine.NewPermanentError("failed to marshal GraphQL request", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, engine.NewPermanentError("invalid GraphQL endpoint", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
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

	var decoded graphqlResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, engine.NewPermanentError("GraphQL response is not valid JSON", err).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint)
	}

	if len(decoded.Errors) > 0 {
		messages := make([]string, 0, len(decoded.Errors))
		for _, e := range decoded.Errors {
			messages = append(messages, e.Message)
		}
		return nil, engine.NewPermanentError(
			"GraphQL errors: "+strings.Join(messages, "; "), nil).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint)
	}
	if decoded.Data == nil {
		return nil, engine.NewPermanentError("GraphQL response has no data object", nil).
			WithCode(engine.ErrCodeDataService).
			WithEndpoint(config.Endpoint)
	}
	return decoded.Data, nil
}
