package server

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/rpc/common"
	"github.com/ValentinKolb/dkv-admin/rpc/serializer"
)

func tableCatalog(t *testing.T, seq uint64, state metadata.IndexState) []byte {
	t.Helper()
	c := metadata.NewTableCatalog()
	c.Seq = seq
	tbl := &metadata.Table{
		ID:         "t1",
		Namespace:  metadata.DefaultNamespace,
		Name:       "users",
		PrimaryKey: []string{"id"},
		Fields:     map[string]string{"id": "string", "email": "string"},
	}
	tbl.PutIndex(&metadata.Index{ID: "i1", Name: "byEmail", Fields: []string{"email"}, State: state})
	c.PutTable(tbl)
	data, err := metadata.Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	a := NewAgent("sn1", 0)

	if err := a.StartService(ctx, "rg1-rn1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.StopService(ctx, "rg1-rn2"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	status, _ := a.Ping(ctx)
	if status.StorageNode != "sn1" {
		t.Errorf("expected sn1, got %s", status.StorageNode)
	}
	if status.Services["rg1-rn1"] != cluster.ServiceRunning || status.Services["rg1-rn2"] != cluster.ServiceStopped {
		t.Errorf("unexpected services %v", status.Services)
	}

	if err := a.DestroyService(ctx, "rg1-rn1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	status, _ = a.Ping(ctx)
	if _, ok := status.Services["rg1-rn1"]; ok {
		t.Errorf("destroyed service still reported")
	}

	if err := a.StartService(ctx, ""); err == nil {
		t.Errorf("expected an error for an empty service id")
	}
}

func TestPushMetadataIgnoresStaleVersions(t *testing.T) {
	ctx := context.Background()
	a := NewAgent("sn1", 0)

	if err := a.PushMetadata(ctx, "table", 3, tableCatalog(t, 3, metadata.IndexReady)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := a.PushMetadata(ctx, "table", 2, tableCatalog(t, 2, metadata.IndexReady)); err != nil {
		t.Fatalf("stale push must be acknowledged: %v", err)
	}
	if seq, _ := a.MetadataSeq(ctx, "table"); seq != 3 {
		t.Errorf("expected seq 3, got %d", seq)
	}
	if seq, _ := a.MetadataSeq(ctx, "region"); seq != 0 {
		t.Errorf("expected seq 0 for a kind never pushed, got %d", seq)
	}
}

func TestPushMetadataRejectsBadPayloads(t *testing.T) {
	ctx := context.Background()
	a := NewAgent("sn1", 0)

	if err := a.PushMetadata(ctx, "table", 1, []byte("{")); err == nil {
		t.Errorf("expected an error for a corrupt payload")
	}
	if err := a.PushMetadata(ctx, "bogus", 1, []byte("{}")); err == nil {
		t.Errorf("expected an error for an unknown kind")
	}
	if err := a.PushMetadata(ctx, "table", 5, tableCatalog(t, 4, metadata.IndexReady)); err == nil {
		t.Errorf("expected an error for a sequence mismatch")
	}
}

func TestIndexPopulation(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	a := NewAgent("sn1", time.Minute)
	a.now = func() time.Time { return now }

	status, _ := a.IndexStatus(ctx, metadata.DefaultNamespace, "users", "byEmail")
	if status != cluster.IndexStatusUnknown {
		t.Errorf("expected UNKNOWN before the catalog arrives, got %s", status)
	}

	if err := a.PushMetadata(ctx, "table", 1, tableCatalog(t, 1, metadata.IndexPopulating)); err != nil {
		t.Fatalf("push: %v", err)
	}
	status, _ = a.IndexStatus(ctx, metadata.DefaultNamespace, "USERS", "byemail")
	if status != cluster.IndexStatusPopulating {
		t.Errorf("expected POPULATING, got %s", status)
	}

	// a re-broadcast does not restart the population
	now = now.Add(30 * time.Second)
	_ = a.PushMetadata(ctx, "table", 1, tableCatalog(t, 1, metadata.IndexPopulating))
	now = now.Add(31 * time.Second)
	status, _ = a.IndexStatus(ctx, metadata.DefaultNamespace, "users", "byEmail")
	if status != cluster.IndexStatusReady {
		t.Errorf("expected READY after the populate delay, got %s", status)
	}

	// dropping the table forgets the index
	empty := metadata.NewTableCatalog()
	empty.Seq = 2
	data, _ := metadata.Encode(empty)
	if err := a.PushMetadata(ctx, "table", 2, data); err != nil {
		t.Fatalf("push: %v", err)
	}
	status, _ = a.IndexStatus(ctx, metadata.DefaultNamespace, "users", "byEmail")
	if status != cluster.IndexStatusUnknown {
		t.Errorf("expected UNKNOWN after the drop, got %s", status)
	}
}

func TestSecurityPushInstallsCredentialHash(t *testing.T) {
	ctx := context.Background()
	a := NewAgent("sn1", 0)

	sec := metadata.NewSecurityCatalog()
	sec.Seq = 1
	sec.CredentialHash = "c0ffee"
	data, _ := metadata.Encode(sec)
	if err := a.PushMetadata(ctx, "security", 1, data); err != nil {
		t.Fatalf("push: %v", err)
	}

	hashes, _ := a.CredentialHashes(ctx)
	if hashes[cluster.CredentialTLS] != "c0ffee" {
		t.Errorf("expected the pushed hash, got %v", hashes)
	}
}

func TestServerHandle(t *testing.T) {
	s := &RPCServer{
		serializer: serializer.NewJSONSerializer(),
		adapter:    NewNodeAPIServerAdapter(),
		api:        NewAgent("sn1", 0),
	}

	roundTrip := func(req *common.Message) common.Message {
		data, err := s.serializer.Serialize(*req)
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		var resp common.Message
		if err := s.serializer.Deserialize(s.handle(data), &resp); err != nil {
			t.Fatalf("deserialize: %v", err)
		}
		return resp
	}

	resp := roundTrip(common.NewServiceRequest(common.MsgTStartService, "rg1-rn1"))
	if resp.MsgType != common.MsgTStartService || resp.Err != "" {
		t.Errorf("unexpected response %+v", resp)
	}

	resp = roundTrip(common.NewPingRequest())
	if resp.Node != "sn1" || resp.Services["rg1-rn1"] != string(cluster.ServiceRunning) {
		t.Errorf("unexpected ping response %+v", resp)
	}

	resp = roundTrip(&common.Message{MsgType: common.MsgTSuccess})
	if resp.MsgType != common.MsgTError || resp.Err == "" {
		t.Errorf("expected an error response, got %+v", resp)
	}

	var garbage common.Message
	if err := s.serializer.Deserialize(s.handle([]byte("garbage")), &garbage); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if garbage.MsgType != common.MsgTError {
		t.Errorf("expected an error response for garbage, got %+v", garbage)
	}
}
