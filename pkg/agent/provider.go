package agent

import "context"

// Provider is a model backend the loop can query. Query receives the
// full conversation so far plus a monotonically increasing query index
// the provider may use for key rotation. Providers return either a
// native tool call or free text; free text is run through the reply
// interpreter by the caller.
type Provider interface {
	Name() string
	Query(ctx context.Context, history []Turn, queryIndex int) (*Reply, error)
}
