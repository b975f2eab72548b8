package task

import "time"

// Descriptor is what flows through the queue. uuid is a fresh identifier per
// enqueue; Key is the dedup handle used to detect duplicate enqueues of the
// same underlying item.
type Descriptor struct {
	UUID        string    `json:"uuid"`
	Key         Key       `json:"task_key"`
	User        string    `json:"user"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Comment is a single review or issue comment, normalized across forges.
type CommentKind string

const (
	CommentKindInlineReview CommentKind = "inline_review"
	CommentKindIssueComment CommentKind = "issue_comment"
)

type Comment struct {
	ID        string      `json:"id"`
	Author    string      `json:"author"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"created_at"`
	Kind      CommentKind `json:"kind"`
}

// TurnRecord is one entry in a dialogue's rolling conversation history.
// Kept provider-agnostic (no dependency on pkg/llm) so the task package has
// no upward import; the dialogue driver converts these to llm.Message.
type TurnRecord struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DialogueState is the checkpointable state of an in-flight dialogue turn
// sequence. It is serialized at turn boundaries by the checkpoint store.
type DialogueState struct {
	TurnIndex          int          `json:"turn_index"`
	History            []TurnRecord `json:"history,omitempty"`
	PreviousOutput     string       `json:"previous_output"`
	CompressionCount   int          `json:"compression_count"`
	TotalTokens        int64        `json:"total_tokens"`
	ToolCallCount      int64        `json:"tool_call_count"`
	PendingToolResult  string       `json:"pending_tool_result,omitempty"`
	DetectedCommentIDs []string     `json:"detected_comment_ids"`
}

// ConversionResult is the outcome of an issue→change-request conversion.
type ConversionResult struct {
	Success    bool   `json:"success"`
	CRNumber   int    `json:"cr_number,omitempty"`
	CRURL      string `json:"cr_url,omitempty"`
	BranchName string `json:"branch_name,omitempty"`
	Error      string `json:"error,omitempty"`
}
