// Package llm defines the model-capability surface consumed by the agent
// execution core: conversation message types, the provider-agnostic Client,
// a typed provider error taxonomy, and the error classification / retry
// engine that decides whether and when a failed model call is retried.
//
// # Architecture
//
// The package follows a three-layer structure:
//
//   - Provider specification: ProviderAdapter interface and shared types
//   - Provider utilities: error classification, retry policies, stream
//     accumulation
//   - Core client: Client with provider routing and middleware
//
// The turn loop lives in the agent package; this package only knows how to
// send one request and report what happened.
//
// # Quick Start
//
//	adapter, _ := llm.NewGollmAdapter("anthropic", os.Getenv("ANTHROPIC_API_KEY"))
//	client := llm.NewClient(llm.WithProvider("anthropic", adapter))
//
//	resp, err := client.Complete(ctx, llm.Request{
//	    Model:    "claude-opus-4-6",
//	    Messages: []llm.Message{llm.UserMessage("Hello")},
//	})
//
// # Retry
//
// Failed calls are classified into categories (auth, rate limit, context
// overflow, server, network, ...) and retried according to a RetryPolicy.
// A provider-supplied Retry-After hint always wins over computed backoff:
//
//	resp, err := llm.Retry(ctx, llm.DefaultRetryPolicy(), func(ctx context.Context) (*llm.Response, error) {
//	    return client.Complete(ctx, req)
//	})
package llm
