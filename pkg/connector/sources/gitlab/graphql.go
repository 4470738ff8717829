package gitlab

import (
	"regexp"
	"strings"

	"github.com/ajitpratap0/tap-gitlab/pkg/errors"
	"github.com/ajitpratap0/tap-gitlab/pkg/json"
)

var graphQLVariablePattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLErrors struct {
	Errors []graphQLError `json:"errors"`
}

// GraphQLVariables binds the variables a query declares from config values
// overlaid by the partition context. Undeclared keys are not sent.
func GraphQLVariables(query string, cfg, partition map[string]any) map[string]any {
	vars := map[string]any{}
	for _, m := range graphQLVariablePattern.FindAllStringSubmatch(query, -1) {
		name := m[1]
		if v, ok := partition[name]; ok {
			vars[name] = v
		} else if v, ok := cfg[name]; ok {
			vars[name] = v
		}
	}
	return vars
}

// GraphQLBody encodes the POST body of a GraphQL request
func GraphQLBody(query string, cfg, partition map[string]any) ([]byte, error) {
	body, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: GraphQLVariables(query, cfg, partition),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode GraphQL request")
	}
	return body, nil
}

// CheckGraphQLErrors turns an "errors" member of a 200 response into an
// error. GitLab reports query failures this way instead of with a status.
func CheckGraphQLErrors(body []byte) error {
	var resp graphQLErrors
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "GraphQL response is not valid JSON")
	}
	if len(resp.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		msgs = append(msgs, e.Message)
	}
	return errors.New(errors.ErrorTypeData, "GraphQL query failed: "+strings.Join(msgs, "; ")).
		WithDetail("errors", len(resp.Errors))
}
