package protocol

import "encoding/json"

const Version = "1.0"

// Message types carried by transports.
const (
	TypeCall     = "CALL"
	TypeBatch    = "BATCH"
	TypeAssemble = "ASSEMBLE"
	TypeResult   = "RESULT"
	TypeStatus   = "STATUS"
)

// BaseMessage lets transports route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
