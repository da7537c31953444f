package models

const (
	DefaultNamespace    = "documents"
	DefaultChunkSize    = 500 // words
	DefaultChunkOverlap = 100 // words
	DefaultDimension    = 768
	MaxPreviewChars     = 1000
	ChunkIDFormat       = "%s_chunk_%d"
	TitleSeparator      = " - "
)

// TaskType tells the embedding provider how the text will be used.
type TaskType string

const (
	TaskRetrievalDocument TaskType = "retrieval_document"
	TaskRetrievalQuery    TaskType = "retrieval_query"
)

var (
	SystemPromptTemplate = `You are the learning assistant of an online course platform.

Answer questions about the course, programming and related study topics.
Explain concepts simply and give practical examples.
Check the CONTEXT first and prefer it when it contains the answer.
If the CONTEXT does not cover the question, answer from general knowledge and say so.
Format answers with markdown.`

	ContextEnvelope = "\n\n=== CONTEXT ===\n%s\n=== END CONTEXT ==="
)
