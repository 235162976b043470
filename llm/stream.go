package llm

import "sync"

// StreamResult wraps a streaming response with convenience accessors.
type StreamResult struct {
	events   <-chan StreamEvent
	response *Response
	mu       sync.Mutex
}

// Events returns the channel of stream events.
func (sr *StreamResult) Events() <-chan StreamEvent {
	return sr.events
}

// Response returns the accumulated response after the stream ends.
// Returns nil if the stream has not finished yet.
func (sr *StreamResult) Response() *Response {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.response
}

// CollectStream wraps an event channel and captures the final response.
func CollectStream(events <-chan StreamEvent) *StreamResult {
	outCh := make(chan StreamEvent, 64)
	sr := &StreamResult{events: outCh}

	go func() {
		defer close(outCh)
		for event := range events {
			outCh <- event
			if event.Type == StreamFinish && event.Response != nil {
				sr.mu.Lock()
				sr.response = event.Response
				sr.mu.Unlock()
			}
		}
	}()

	return sr
}

// StreamAccumulator collects stream events into a complete Response.
type StreamAccumulator struct {
	textParts    map[string]string
	textOrder    []string
	toolCalls    []ToolCall
	finishReason *FinishReason
	usage        *Usage
	response     *Response
	err          error
}

// NewStreamAccumulator creates a new StreamAccumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{
		textParts: make(map[string]string),
	}
}

// Process ingests a single stream event.
func (sa *StreamAccumulator) Process(event StreamEvent) {
	switch event.Type {
	case TextDelta:
		id := event.TextID
		if id == "" {
			id = "default"
		}
		if _, seen := sa.textParts[id]; !seen {
			sa.textOrder = append(sa.textOrder, id)
		}
		sa.textParts[id] += event.Delta
	case ToolCallEnd:
		if event.ToolCall != nil {
			sa.toolCalls = append(sa.toolCalls, *event.ToolCall)
		}
	case StreamFinish:
		sa.finishReason = event.FinishReason
		sa.usage = event.Usage
		sa.response = event.Response
	case StreamError:
		sa.err = event.Error
	}
}

// Err returns the stream error, if one was emitted.
func (sa *StreamAccumulator) Err() error {
	return sa.err
}

// Response returns the accumulated response.
func (sa *StreamAccumulator) Response() *Response {
	if sa.response != nil {
		return sa.response
	}
	// Build a response from accumulated parts.
	var content []ContentPart
	for _, id := range sa.textOrder {
		content = append(content, TextPart(sa.textParts[id]))
	}
	for _, tc := range sa.toolCalls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	fr := FinishReason{Reason: "stop"}
	if sa.finishReason != nil {
		fr = *sa.finishReason
	}

	usage := Usage{}
	if sa.usage != nil {
		usage = *sa.usage
	}

	return &Response{
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: fr,
		Usage:        usage,
	}
}
