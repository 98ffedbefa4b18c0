package models

// DraftAction is what the outbox draft asks the daemon to do.
type DraftAction string

const (
	ActionCompose DraftAction = "compose"
	ActionReply   DraftAction = "reply"
)

// DraftStatus is the outbox state machine position of a draft.
type DraftStatus string

const (
	StatusPendingReview DraftStatus = "pending_review"
	StatusReadyToSend   DraftStatus = "ready_to_send"
	StatusSending       DraftStatus = "sending"
	StatusSent          DraftStatus = "sent"
	StatusFailed        DraftStatus = "failed"
)

type DraftAttachment struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Mime     string `json:"mime"`
}

// Draft is a JSON file in outbox/, produced by external writers and advanced
// by the outbox state machine. Terminal fields are filled on sent/failed.
type Draft struct {
	Action      DraftAction       `json:"action"`
	ThreadID    string            `json:"thread_id,omitempty"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments []DraftAttachment `json:"attachments,omitempty"`
	CreatedAt   string            `json:"created_at,omitempty"`
	CreatedBy   string            `json:"created_by,omitempty"`
	Status      DraftStatus       `json:"status"`

	SentAt            string `json:"sent_at,omitempty"`
	FailedAt          string `json:"failed_at,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}
