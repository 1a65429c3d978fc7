package llm

// Message represents a single message in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatParams holds parameters for chat completion requests.
type ChatParams struct {
	// Model specifies the model to use. If empty, the client's default model is used.
	Model string

	// MaxTokens specifies the maximum number of tokens to generate.
	// If 0, no limit is applied.
	MaxTokens int

	// Temperature controls the randomness of the output.
	Temperature float32
}

// StreamEvent is one event of a streaming generation. It is a closed union:
// exactly the types in this file implement it. Consumers switch on the
// concrete type and ignore anything they do not recognize.
type StreamEvent interface {
	streamEvent()
}

// TextDelta carries an incremental piece of the answer text.
type TextDelta struct {
	Content string
}

// Annotation is an inline citation attached by the generation service,
// pointing back at a source by its identifier.
type Annotation struct {
	SourceID    string
	Quote       string
	DisplayName string
}

// StreamError reports a failure emitted inside the stream. It terminates
// the stream.
type StreamError struct {
	Message string
}

// StreamDone marks normal end of stream and carries final usage counts.
type StreamDone struct {
	CompletionTokens int
}

func (TextDelta) streamEvent()   {}
func (Annotation) streamEvent()  {}
func (StreamError) streamEvent() {}
func (StreamDone) streamEvent()  {}
