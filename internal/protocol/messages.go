// Package protocol defines the websocket chat payloads exchanged with
// clients. Client messages carry lifecycle events; server messages carry
// lifecycle outcomes.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeBeginRequest  MessageType = "begin_request"
	TypeSelectJobType MessageType = "select_job_type"
	TypeUploadAsset   MessageType = "upload_asset"
	TypeSubmitRequest MessageType = "submit_request"
	TypeCancelRequest MessageType = "cancel_request"
	TypeClientText    MessageType = "client_text"

	TypePrompt   MessageType = "prompt"
	TypeRejected MessageType = "rejected"
	TypeAccepted MessageType = "accepted"
	TypeResult   MessageType = "result"
	TypeFailed   MessageType = "failed"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type BeginRequest struct {
	Type MessageType `json:"type"`
}

type SelectJobType struct {
	Type        MessageType `json:"type"`
	JobTypeCode string      `json:"job_type_code"`
}

type UploadAsset struct {
	Type       MessageType `json:"type"`
	DataBase64 string      `json:"data_base64"`
	MIME       string      `json:"mime"`
}

type SubmitRequest struct {
	Type MessageType `json:"type"`
	// AsFiles asks for results as downloadable files instead of inline
	// previews.
	AsFiles bool `json:"as_files,omitempty"`
}

type CancelRequest struct {
	Type MessageType `json:"type"`
}

type ClientText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// JobTypeChoice is one selectable stylization in a prompt.
type JobTypeChoice struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// ServerMessage is the single server-to-client payload shape. Fields beyond
// Type and Code are populated per outcome kind.
type ServerMessage struct {
	Type  MessageType `json:"type"`
	Code  string      `json:"code"`
	State string      `json:"state"`

	JobTypeCode string          `json:"job_type_code,omitempty"`
	Choices     []JobTypeChoice `json:"choices,omitempty"`
	Capacity    int             `json:"capacity,omitempty"`

	AssetCount int `json:"asset_count,omitempty"`
	Discarded  int `json:"discarded,omitempty"`

	Results []ResultPayload `json:"results,omitempty"`
	AsFiles bool            `json:"as_files,omitempty"`

	ErrorKind string `json:"error_kind,omitempty"`
}

// ResultPayload is one produced image, inlined as base64.
type ResultPayload struct {
	Name       string `json:"name"`
	MIME       string `json:"mime"`
	DataBase64 string `json:"data_base64"`
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeBeginRequest:
		var msg BeginRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeSelectJobType:
		var msg SelectJobType
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.JobTypeCode == "" {
			return nil, errors.New("invalid select_job_type")
		}
		return msg, nil
	case TypeUploadAsset:
		var msg UploadAsset
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.DataBase64 == "" || msg.MIME == "" {
			return nil, errors.New("invalid upload_asset")
		}
		return msg, nil
	case TypeSubmitRequest:
		var msg SubmitRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeCancelRequest:
		var msg CancelRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
