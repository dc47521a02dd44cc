// Package command defines the closed set of typed control commands accepted
// by the device, plus the envelope parsing that guards the channel boundary.
// Remote payloads never reach the pipeline or the scheduler until they have
// been validated into one of these variants.
package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"kiosk/internal/faults"
)

// Name identifies a command verb.
type Name string

const (
	Play       Name = "play"
	Pause      Name = "pause"
	Stop       Name = "stop"
	SetVolume  Name = "setVolume"
	Distribute Name = "distribute"
	SetLoop    Name = "setLoop"
	Query      Name = "query"
)

var allNames = []Name{Play, Pause, Stop, SetVolume, Distribute, SetLoop, Query}

var nameSet = func() map[Name]struct{} {
	set := make(map[Name]struct{}, len(allNames))
	for _, name := range allNames {
		set[name] = struct{}{}
	}
	return set
}()

// ParseName validates a raw verb against the closed command set.
func ParseName(value string) (Name, bool) {
	name := Name(strings.TrimSpace(value))
	_, ok := nameSet[name]
	return name, ok
}

// TaskSpec carries the distribution request embedded in a distribute command.
type TaskSpec struct {
	ID       string
	URI      string
	Checksum string
	DestName string
	Priority int
	ExpireAt time.Time
	// Extract is nil when the task defers to the configured default.
	Extract *bool
}

// Normalize validates a locally built spec under the same rules remote
// payloads pass through: the URI must be absolute, destName reduces to a
// bare file name, and a missing id gets a fresh uuid.
func (s TaskSpec) Normalize() (TaskSpec, error) {
	uri := strings.TrimSpace(s.URI)
	if uri == "" {
		return TaskSpec{}, faults.Wrap(faults.ErrProtocol, "command", "parse", "distribute requires a uri field", nil)
	}
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" {
		return TaskSpec{}, faults.Wrap(faults.ErrProtocol, "command", "parse", fmt.Sprintf("uri %q is not an absolute URI", uri), err)
	}

	out := s
	out.URI = uri
	out.ID = strings.TrimSpace(s.ID)
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	out.Checksum = strings.TrimSpace(s.Checksum)

	destName, err := sanitizeDestName(s.DestName, parsed)
	if err != nil {
		return TaskSpec{}, err
	}
	out.DestName = destName
	return out, nil
}

// Command is one validated control request.
type Command struct {
	Name          Name
	CorrelationID string
	Volume        int
	Loop          bool
	Task          TaskSpec
}

// Mutating reports whether the command changes pipeline or scheduler state
// and therefore requires an ack.
func (c Command) Mutating() bool {
	return c.Name != Query
}

type envelope struct {
	Cmd           string          `json:"cmd"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId"`
}

type volumePayload struct {
	Volume *int `json:"volume"`
}

type loopPayload struct {
	Loop *bool `json:"loop"`
}

type distributePayload struct {
	ID       string          `json:"id"`
	URI      string          `json:"uri"`
	Checksum string          `json:"checksum"`
	DestName string          `json:"destName"`
	Priority int             `json:"priority"`
	ExpireAt json.RawMessage `json:"expireAt"`
	Extract  *bool           `json:"extract"`
}

// Parse validates a raw message payload into a Command. Every rejection is a
// protocol error; callers drop the message and record it for the next state
// report.
func Parse(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, faults.Wrap(faults.ErrProtocol, "command", "parse", "envelope is not a JSON object", err)
	}

	name, ok := ParseName(env.Cmd)
	if !ok {
		return Command{}, faults.Wrap(faults.ErrProtocol, "command", "parse", fmt.Sprintf("unknown verb %q", env.Cmd), nil)
	}

	cmd := Command{Name: name, CorrelationID: strings.TrimSpace(env.CorrelationID)}

	switch name {
	case Play, Pause, Stop, Query:
		return cmd, nil
	case SetVolume:
		var payload volumePayload
		if err := unmarshalPayload(env.Payload, &payload); err != nil {
			return Command{}, err
		}
		if payload.Volume == nil {
			return Command{}, faults.Wrap(faults.ErrProtocol, "command", "parse", "setVolume requires a volume field", nil)
		}
		if *payload.Volume < 0 || *payload.Volume > 100 {
			return Command{}, faults.Wrap(faults.ErrProtocol, "command", "parse", fmt.Sprintf("volume %d out of range 0-100", *payload.Volume), nil)
		}
		cmd.Volume = *payload.Volume
		return cmd, nil
	case SetLoop:
		var payload loopPayload
		if err := unmarshalPayload(env.Payload, &payload); err != nil {
			return Command{}, err
		}
		if payload.Loop == nil {
			return Command{}, faults.Wrap(faults.ErrProtocol, "command", "parse", "setLoop requires a loop field", nil)
		}
		cmd.Loop = *payload.Loop
		return cmd, nil
	case Distribute:
		task, err := parseTaskSpec(env.Payload)
		if err != nil {
			return Command{}, err
		}
		cmd.Task = task
		return cmd, nil
	default:
		return Command{}, faults.Wrap(faults.ErrProtocol, "command", "parse", fmt.Sprintf("unhandled verb %q", env.Cmd), nil)
	}
}

func unmarshalPayload(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return faults.Wrap(faults.ErrProtocol, "command", "parse", "payload is required", nil)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return faults.Wrap(faults.ErrProtocol, "command", "parse", "payload is not a JSON object", err)
	}
	return nil
}

func parseTaskSpec(raw json.RawMessage) (TaskSpec, error) {
	var payload distributePayload
	if err := unmarshalPayload(raw, &payload); err != nil {
		return TaskSpec{}, err
	}

	spec := TaskSpec{
		ID:       payload.ID,
		URI:      payload.URI,
		Checksum: payload.Checksum,
		DestName: payload.DestName,
		Priority: payload.Priority,
		Extract:  payload.Extract,
	}
	if len(payload.ExpireAt) > 0 {
		expireAt, err := parseExpireAt(payload.ExpireAt)
		if err != nil {
			return TaskSpec{}, err
		}
		spec.ExpireAt = expireAt
	}
	return spec.Normalize()
}

// sanitizeDestName reduces the requested name to a bare file name so a
// hostile payload can never place content outside the media root.
func sanitizeDestName(requested string, uri *url.URL) (string, error) {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = path.Base(uri.Path)
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", faults.Wrap(faults.ErrProtocol, "command", "parse", fmt.Sprintf("destName %q does not resolve to a file name", requested), nil)
	}
	return name, nil
}

func parseExpireAt(raw json.RawMessage) (time.Time, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return time.Time{}, nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, faults.Wrap(faults.ErrProtocol, "command", "parse", "expireAt is not a string", err)
		}
		parsed, err := time.Parse(time.RFC3339, text)
		if err != nil {
			return time.Time{}, faults.Wrap(faults.ErrProtocol, "command", "parse", fmt.Sprintf("expireAt %q is not RFC3339", text), err)
		}
		return parsed, nil
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err != nil {
		return time.Time{}, faults.Wrap(faults.ErrProtocol, "command", "parse", "expireAt must be RFC3339 or epoch seconds", err)
	}
	seconds := int64(epoch)
	nanos := int64((epoch - float64(seconds)) * float64(time.Second))
	return time.Unix(seconds, nanos).UTC(), nil
}
