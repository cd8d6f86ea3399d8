package util

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ValentinKolb/dkv-admin/rpc/common"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line exceeds %d characters: %q", Wrap, line)
		}
	}
	if got := WrapString("short text"); got != "short text" {
		t.Errorf("WrapString = %q", got)
	}
}

func TestParseRaftMembers(t *testing.T) {
	tests := []struct {
		name      string
		replicaID string
		members   string
		wantErr   bool
	}{
		{name: "valid", replicaID: "admin-1", members: "admin-1=localhost:63001, admin-2=localhost:63002"},
		{name: "missing replica", members: "admin-1=localhost:63001", wantErr: true},
		{name: "missing members", replicaID: "admin-1", wantErr: true},
		{name: "bad member", replicaID: "admin-1", members: "admin-1", wantErr: true},
		{name: "replica not a member", replicaID: "admin-3", members: "admin-1=localhost:63001", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := &common.RaftConfig{}
			err := parseRaftMembers(conf, tt.replicaID, tt.members)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(conf.ClusterMembers) != 2 {
				t.Errorf("expected 2 members, got %v", conf.ClusterMembers)
			}
			if conf.ClusterMembers[conf.ReplicaID] != "localhost:63001" {
				t.Errorf("own address = %q", conf.ClusterMembers[conf.ReplicaID])
			}
		})
	}
}

func TestReplicaIDOf(t *testing.T) {
	if ReplicaIDOf("Admin-1") != ReplicaIDOf("admin-1") {
		t.Error("replica ids must ignore case")
	}
	if ReplicaIDOf("admin-1") == ReplicaIDOf("admin-2") {
		t.Error("different names should hash differently")
	}
}

func TestMemoryStoreSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin.snapshot")

	s, closer, err := openMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set("plan/seq", []byte("3")); err != nil {
		t.Fatal(err)
	}
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	s, closer, err = openMemoryStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	v, ok, err := s.Get("plan/seq")
	if err != nil || !ok || string(v) != "3" {
		t.Errorf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}
