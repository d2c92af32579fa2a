package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrWong99/vigil/internal/detector"
)

// Message types carried in the "type" field.
const (
	TypeParticipantFrame = "participant_frame"
	TypeCommand          = "command"
	TypeError            = "error"
)

// Commands accepted in a [Command] message.
const (
	CommandStartInterview = "start_interview"
	CommandStopInterview  = "stop_interview"
)

// legacyMinLen is the length above which a non-JSON text frame is taken to be
// a bare base64 image.
const legacyMinLen = 1000

// DecodeError reports a client message that could not be decoded. It is sent
// back to the client as an [ErrorReply]; the connection stays open.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ParticipantFrame delivers one encoded video frame. The routing identifiers
// are kept as raw JSON and echoed back unchanged, whatever their type; nil
// means the client omitted them.
type ParticipantFrame struct {
	Type      string          `json:"type"`
	Image     string          `json:"image"`
	RoomID    json.RawMessage `json:"roomId"`
	UserID    json.RawMessage `json:"userId"`
	SessionID json.RawMessage `json:"sessionId"`
}

// Command starts or stops the interview session.
type Command struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// LegacyFrame is a bare data URL or base64 image sent without a JSON envelope.
type LegacyFrame struct {
	Image string
}

// FrameReply is the snapshot sent in answer to a [ParticipantFrame].
type FrameReply struct {
	detector.Snapshot
	RoomID    json.RawMessage `json:"room_id"`
	UserID    json.RawMessage `json:"user_id"`
	SessionID json.RawMessage `json:"session_id"`
}

// ErrorReply is sent when a client message is rejected.
type ErrorReply struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func errorReply(err *DecodeError) ErrorReply {
	return ErrorReply{Type: TypeError, Code: err.Code, Message: err.Message, Param: err.Param}
}

// DecodeClientMessage decodes one text frame into a [ParticipantFrame],
// [Command] or [LegacyFrame]. Any other input yields a *[DecodeError].
func DecodeClientMessage(data []byte) (any, error) {
	if !json.Valid(data) {
		text := string(data)
		if strings.HasPrefix(text, "data:image/") || len(text) > legacyMinLen {
			return LegacyFrame{Image: text}, nil
		}
		return nil, badRequest("invalid json frame", "")
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("message must be a json object", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeParticipantFrame:
		var msg ParticipantFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid participant_frame", "")
		}
		return msg, nil
	case TypeCommand:
		var msg Command
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid command", "")
		}
		switch msg.Command {
		case CommandStartInterview, CommandStopInterview:
			return msg, nil
		case "":
			return nil, badRequest("command is required", "command")
		default:
			return nil, unsupported("unsupported command", "command")
		}
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}
