package lifecycle

import (
	"github.com/dkoval/atelier/internal/conversation"
	"github.com/dkoval/atelier/internal/inference"
	"github.com/dkoval/atelier/internal/stylize"
)

// EventType identifies inbound conversation events.
type EventType string

const (
	EventBegin       EventType = "begin_request"
	EventSelect      EventType = "select_job_type"
	EventUpload      EventType = "upload_asset"
	EventSubmit      EventType = "submit"
	EventCancel      EventType = "cancel"
	EventOther       EventType = "other_message"
)

// Event is one inbound conversation event for a user.
type Event struct {
	UserID string
	Type   EventType

	// Select
	JobTypeCode string

	// Upload
	AssetData []byte
	AssetMIME string

	// Submit: deliver results as original files instead of compressed photos.
	AsFiles bool
}

// OutcomeKind identifies the outcome values delivered to the conversation
// channel. The core never formats user-facing copy; Code is a stable
// identifier the transport renders.
type OutcomeKind string

const (
	OutcomePrompt      OutcomeKind = "prompt"
	OutcomeRejected    OutcomeKind = "rejected"
	OutcomeAccepted    OutcomeKind = "accepted"
	OutcomeResultReady OutcomeKind = "result_ready"
	OutcomeFailed      OutcomeKind = "failed"
)

// Outcome codes. Guidance codes name the expected next step for the state
// the event arrived in.
const (
	CodeChooseJobType    = "choose_job_type"
	CodeSendImages       = "send_images"
	CodeAssetBuffered    = "asset_buffered"
	CodeProcessingQueued = "processing_queued"
	CodeRequestCancelled = "request_cancelled"
	CodeNothingToCancel  = "nothing_to_cancel"

	CodeConversationExpired = "conversation_expired"

	CodeUnknownJobType    = "unknown_job_type"
	CodeUnsupportedFormat = "unsupported_format"
	CodeNotEnoughImages   = "not_enough_images"
	CodeBufferFull        = "buffer_full"

	CodeStartRequestFirst  = "start_request_first"
	CodeChooseJobTypeFirst = "choose_job_type_first"
	CodeProcessingBusy     = "processing_wait_or_cancel"
	CodeUnknownCommand     = "unknown_command"
)

// Outcome is one reply to the conversation channel.
type Outcome struct {
	UserID string
	Kind   OutcomeKind
	Code   string

	State      conversation.State
	JobType    stylize.JobType
	HasJobType bool

	// Prompt
	Choices  []stylize.JobType
	Capacity int

	// Accepted(asset_buffered): buffer length; Accepted(processing_queued)
	// and ResultReady: trailing assets trimmed at submit.
	AssetCount int
	Discarded  int

	// ResultReady
	Results []stylize.ResultAsset
	AsFiles bool

	// Failed
	ErrorKind inference.Kind
}
