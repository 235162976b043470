// Package agent implements the execution core of an LLM agent: the turn
// iteration loop, tool call scheduling, human-in-the-loop coordination,
// history reduction, and the glue between them.
//
// # Architecture
//
// The package is organized around these core concepts:
//
//   - Runner: The turn orchestrator. Iterates call-model, execute-tools,
//     append-results until the model stops requesting tools or a cap is hit.
//   - Coordinator: A correlated request/response bus that lets arbitrarily
//     nested calls pause mid-turn for permission or clarification without
//     plumbing callbacks through every signature.
//   - Scheduler: Executes tool call batches with admission checks, per-call
//     timeout and retry, and positional call-id correspondence.
//   - Registry: Explicit name-to-invoker map with container expansion and
//     JSON-Schema argument validation.
//   - HistoryManager: Decides when the context window must shrink and
//     applies the truncate or summarize strategy.
//
// # Quick Start
//
//	registry := agent.NewRegistry()
//	registry.MustRegister(agent.RegisteredFunction{
//	    Descriptor: agent.Descriptor{Name: "read_file", Description: "Read a file"},
//	    Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
//	        ...
//	    },
//	})
//
//	runner := agent.NewRunner(client, registry,
//	    agent.WithModel("claude-opus-4-6"),
//	    agent.WithMaxIterations(25),
//	)
//	result, err := runner.Run(ctx, history, []llm.Message{llm.UserMessage("fix the bug")})
package agent
