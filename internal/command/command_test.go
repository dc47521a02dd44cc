package command

import (
	"errors"
	"strings"
	"testing"
	"time"

	"kiosk/internal/faults"
)

func TestParseSimpleVerbs(t *testing.T) {
	for _, verb := range []string{"play", "pause", "stop", "query"} {
		cmd, err := Parse([]byte(`{"cmd":"` + verb + `","correlationId":"abc-1"}`))
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", verb, err)
		}
		if string(cmd.Name) != verb {
			t.Errorf("Parse(%q) name = %q", verb, cmd.Name)
		}
		if cmd.CorrelationID != "abc-1" {
			t.Errorf("Parse(%q) correlationId = %q, want abc-1", verb, cmd.CorrelationID)
		}
	}
}

func TestParseUnknownVerb(t *testing.T) {
	_, err := Parse([]byte(`{"cmd":"reboot"}`))
	if !errors.Is(err, faults.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
	if !strings.Contains(err.Error(), "reboot") {
		t.Errorf("error should name the rejected verb, got %q", err.Error())
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"cmd":`))
	if !errors.Is(err, faults.ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}

func TestParseSetVolume(t *testing.T) {
	cmd, err := Parse([]byte(`{"cmd":"setVolume","payload":{"volume":45}}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if cmd.Volume != 45 {
		t.Errorf("volume = %d, want 45", cmd.Volume)
	}
}

func TestParseSetVolumeRejectsOutOfRange(t *testing.T) {
	for _, raw := range []string{
		`{"cmd":"setVolume","payload":{"volume":101}}`,
		`{"cmd":"setVolume","payload":{"volume":-1}}`,
		`{"cmd":"setVolume","payload":{}}`,
		`{"cmd":"setVolume"}`,
	} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, faults.ErrProtocol) {
			t.Errorf("Parse(%s) err = %v, want protocol error", raw, err)
		}
	}
}

func TestParseSetLoop(t *testing.T) {
	cmd, err := Parse([]byte(`{"cmd":"setLoop","payload":{"loop":true}}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !cmd.Loop {
		t.Error("loop = false, want true")
	}
	if _, err := Parse([]byte(`{"cmd":"setLoop","payload":{}}`)); !errors.Is(err, faults.ErrProtocol) {
		t.Errorf("missing loop field should be a protocol error, got %v", err)
	}
}

func TestParseDistribute(t *testing.T) {
	raw := `{"cmd":"distribute","correlationId":"c-9","payload":{
		"id":"task-1",
		"uri":"https://cdn.example.com/media/loop.mp4",
		"checksum":"sha256:ab12",
		"destName":"loop.mp4",
		"priority":5,
		"expireAt":"2026-09-01T10:00:00Z",
		"extract":false}}`
	cmd, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	task := cmd.Task
	if task.ID != "task-1" {
		t.Errorf("id = %q", task.ID)
	}
	if task.URI != "https://cdn.example.com/media/loop.mp4" {
		t.Errorf("uri = %q", task.URI)
	}
	if task.DestName != "loop.mp4" {
		t.Errorf("destName = %q", task.DestName)
	}
	if task.Priority != 5 {
		t.Errorf("priority = %d", task.Priority)
	}
	want := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	if !task.ExpireAt.Equal(want) {
		t.Errorf("expireAt = %v, want %v", task.ExpireAt, want)
	}
	if task.Extract == nil || *task.Extract {
		t.Errorf("extract = %v, want false", task.Extract)
	}
}

func TestParseDistributeDefaults(t *testing.T) {
	cmd, err := Parse([]byte(`{"cmd":"distribute","payload":{"uri":"https://cdn.example.com/a/b/promo.mp4"}}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	task := cmd.Task
	if task.ID == "" {
		t.Error("id should default to a generated value")
	}
	if task.DestName != "promo.mp4" {
		t.Errorf("destName = %q, want promo.mp4 from the URI path", task.DestName)
	}
	if task.Priority != 0 {
		t.Errorf("priority = %d, want 0", task.Priority)
	}
	if !task.ExpireAt.IsZero() {
		t.Errorf("expireAt = %v, want zero", task.ExpireAt)
	}
	if task.Extract != nil {
		t.Errorf("extract = %v, want nil", task.Extract)
	}
}

func TestParseDistributeEpochExpireAt(t *testing.T) {
	cmd, err := Parse([]byte(`{"cmd":"distribute","payload":{"uri":"https://x.test/v.mp4","expireAt":1756720800}}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := time.Unix(1756720800, 0).UTC()
	if !cmd.Task.ExpireAt.Equal(want) {
		t.Errorf("expireAt = %v, want %v", cmd.Task.ExpireAt, want)
	}
}

func TestParseDistributeRejectsBadRequests(t *testing.T) {
	for _, raw := range []string{
		`{"cmd":"distribute"}`,
		`{"cmd":"distribute","payload":{}}`,
		`{"cmd":"distribute","payload":{"uri":"not a uri"}}`,
		`{"cmd":"distribute","payload":{"uri":"https://x.test/v.mp4","expireAt":"tomorrow"}}`,
	} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, faults.ErrProtocol) {
			t.Errorf("Parse(%s) err = %v, want protocol error", raw, err)
		}
	}
}

func TestParseDistributeSanitizesDestName(t *testing.T) {
	cmd, err := Parse([]byte(`{"cmd":"distribute","payload":{"uri":"https://x.test/v.mp4","destName":"../../etc/passwd"}}`))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if cmd.Task.DestName != "passwd" {
		t.Errorf("destName = %q, want passwd", cmd.Task.DestName)
	}

	if _, err := Parse([]byte(`{"cmd":"distribute","payload":{"uri":"https://x.test/v.mp4","destName":".."}}`)); !errors.Is(err, faults.ErrProtocol) {
		t.Errorf("destName .. should be a protocol error, got %v", err)
	}
}

func TestMutating(t *testing.T) {
	query := Command{Name: Query}
	if query.Mutating() {
		t.Error("query should not be mutating")
	}
	play := Command{Name: Play}
	if !play.Mutating() {
		t.Error("play should be mutating")
	}
}

func TestAckEncode(t *testing.T) {
	ack := NewErrorAck(Command{Name: SetVolume, CorrelationID: "c-1"}, "volume 120 out of range 0-100")
	data, err := ack.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	text := string(data)
	for _, want := range []string{`"correlationId":"c-1"`, `"cmd":"setVolume"`, `"status":"error"`, `"detail":"volume 120 out of range 0-100"`} {
		if !strings.Contains(text, want) {
			t.Errorf("encoded ack missing %s: %s", want, text)
		}
	}
	if strings.Contains(text, `"path"`) || strings.Contains(text, `"taskId"`) {
		t.Errorf("empty optional fields should be omitted: %s", text)
	}
}
