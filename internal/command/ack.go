package command

import "encoding/json"

// AckStatus is the outcome reported for a mutating command.
type AckStatus string

const (
	AckOK    AckStatus = "ok"
	AckError AckStatus = "error"
)

// Ack is the acknowledgment published after a mutating command completes or
// is rejected. Commands without a correlationId get no ack.
type Ack struct {
	CorrelationID string    `json:"correlationId"`
	Cmd           string    `json:"cmd"`
	Status        AckStatus `json:"status"`
	Detail        string    `json:"detail,omitempty"`
	Path          string    `json:"path,omitempty"`
	TaskID        string    `json:"taskId,omitempty"`
}

// NewAck builds a success ack for the given command.
func NewAck(cmd Command) Ack {
	return Ack{CorrelationID: cmd.CorrelationID, Cmd: string(cmd.Name), Status: AckOK}
}

// NewErrorAck builds a failure ack carrying a short operator-readable detail.
func NewErrorAck(cmd Command, detail string) Ack {
	return Ack{CorrelationID: cmd.CorrelationID, Cmd: string(cmd.Name), Status: AckError, Detail: detail}
}

// Encode renders the ack as the wire payload.
func (a Ack) Encode() ([]byte, error) {
	return json.Marshal(a)
}
