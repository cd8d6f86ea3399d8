package common

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func TestMessageTypeJSON(t *testing.T) {
	for msgType := MsgTSuccess; msgType <= MsgTIndexStatus; msgType++ {
		data, err := json.Marshal(msgType)
		if err != nil {
			t.Fatalf("marshal %d: %v", msgType, err)
		}
		if strings.Contains(string(data), "unknown") {
			t.Errorf("message type %d has no name", msgType)
		}

		var got MessageType
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got != msgType {
			t.Errorf("expected %s, got %s", msgType, got)
		}
	}

	var bad MessageType
	if err := json.Unmarshal([]byte(`"set"`), &bad); err == nil {
		t.Errorf("expected an error for an unknown message type")
	}
}

func TestFactoriesSetError(t *testing.T) {
	msg := NewAckResponse(MsgTStartService, nil)
	if msg.Err != "" || msg.MsgType != MsgTStartService {
		t.Errorf("unexpected ack: %+v", msg)
	}

	msg = NewIndexStatusResponse("", errString("no such table"))
	if msg.Err != "no such table" {
		t.Errorf("expected error to be copied, got %q", msg.Err)
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"verbose", logger.INFO, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactDSN(t *testing.T) {
	tests := map[string]string{
		"postgres://admin:secret@db:5432/dkv": "postgres://admin:***@db:5432/dkv",
		"postgres://admin@db/dkv":             "postgres://admin@db/dkv",
		"file:admin.db?_fk=1":                 "file:admin.db?_fk=1",
	}
	for in, want := range tests {
		if got := redactDSN(in); got != want {
			t.Errorf("redactDSN(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAdminConfigString(t *testing.T) {
	c := AdminConfig{
		Store:    StoreRaft,
		Raft:     RaftConfig{ShardID: 7, ReplicaID: 1, ClusterMembers: map[uint64]string{1: "a:63001", 2: "b:63001"}},
		LogLevel: "info",
	}
	out := c.String()
	for _, want := range []string{"STORE", "PLAN ENGINE", "a:63001", "b:63001", "(disabled)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}
