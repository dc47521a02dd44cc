package player

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeMPVSocket accepts one connection and answers each command with the
// configured error string and data payload, emitting an unsolicited event
// line first to exercise the skip path.
func fakeMPVSocket(t *testing.T, socketPath, errorValue, dataJSON string) (requests chan ipcRequest) {
	t.Helper()
	requests = make(chan ipcRequest, 8)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen on %s: %v", socketPath, err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var request ipcRequest
			if err := json.Unmarshal(line, &request); err != nil {
				continue
			}
			requests <- request

			event, _ := json.Marshal(map[string]any{"event": "property-change"})
			conn.Write(append(event, '\n'))
			reply := ipcResponse{Error: errorValue, RequestID: request.RequestID}
			if dataJSON != "" {
				reply.Data = json.RawMessage(dataJSON)
			}
			response, _ := json.Marshal(reply)
			conn.Write(append(response, '\n'))
		}
	}()
	return requests
}

func TestIPCSetPropertySkipsEvents(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "mpv.sock")
	requests := fakeMPVSocket(t, socketPath, "success", "")

	client, err := dialIPC(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("dialIPC failed: %v", err)
	}
	defer client.Close()

	if err := client.SetProperty(context.Background(), "volume", 55); err != nil {
		t.Fatalf("SetProperty returned error: %v", err)
	}

	select {
	case request := <-requests:
		if len(request.Command) != 3 || request.Command[0] != "set_property" || request.Command[1] != "volume" {
			t.Fatalf("unexpected command: %#v", request.Command)
		}
	case <-time.After(time.Second):
		t.Fatal("server saw no request")
	}
}

func TestIPCGetFloat(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "mpv.sock")
	fakeMPVSocket(t, socketPath, "success", "12.5")

	client, err := dialIPC(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("dialIPC failed: %v", err)
	}
	defer client.Close()

	value, err := client.GetFloat(context.Background(), "time-pos")
	if err != nil {
		t.Fatalf("GetFloat returned error: %v", err)
	}
	if value != 12.5 {
		t.Fatalf("GetFloat = %v, want 12.5", value)
	}
}

func TestIPCGetFloatNonNumeric(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "mpv.sock")
	fakeMPVSocket(t, socketPath, "success", `"yes"`)

	client, err := dialIPC(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("dialIPC failed: %v", err)
	}
	defer client.Close()

	if _, err := client.GetFloat(context.Background(), "pause"); err == nil {
		t.Fatal("expected error for non-numeric property")
	}
}

func TestIPCCommandRejected(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "mpv.sock")
	fakeMPVSocket(t, socketPath, "property not found", "")

	client, err := dialIPC(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("dialIPC failed: %v", err)
	}
	defer client.Close()

	err = client.SetProperty(context.Background(), "bogus", 1)
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "property not found") {
		t.Fatalf("error should carry mpv detail, got %v", err)
	}
}

func TestIPCCommandAfterClose(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "mpv.sock")
	fakeMPVSocket(t, socketPath, "success", "")

	client, err := dialIPC(context.Background(), socketPath)
	if err != nil {
		t.Fatalf("dialIPC failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := client.SetProperty(context.Background(), "pause", true); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestDialIPCTimesOutWithoutSocket(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := dialIPC(ctx, filepath.Join(t.TempDir(), "never.sock"))
	if err == nil {
		t.Fatal("expected dial failure")
	}
}
