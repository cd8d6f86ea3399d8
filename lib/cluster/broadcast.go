package cluster

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetLogger("cluster")

// Broadcaster pushes metadata versions to every storage node of the current topology.
// It implements metadata.Broadcaster.
type Broadcaster struct {
	md       *metadata.Store
	dialer   IDialer
	parallel int
}

// NewBroadcaster creates a broadcaster contacting at most parallel nodes at a time.
func NewBroadcaster(md *metadata.Store, dialer IDialer, parallel int) *Broadcaster {
	if parallel < 1 {
		parallel = 1
	}
	return &Broadcaster{md: md, dialer: dialer, parallel: parallel}
}

// Broadcast delivers md to all storage nodes. It tries every node and returns a
// multierror naming the nodes that did not accept the version.
func (b *Broadcaster) Broadcast(ctx context.Context, md metadata.Metadata) error {
	topo, err := b.md.ReadTopology()
	if err != nil {
		return err
	}
	payload, err := metadata.Encode(md)
	if err != nil {
		return errors.Wrapf(err, "encode %s metadata", md.Kind())
	}

	var (
		mu     sync.Mutex
		result *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallel)
	for _, sn := range topo.SortedStorageNodes() {
		sn := sn
		g.Go(func() error {
			err := b.push(gctx, sn, md, payload)
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, err)
				mu.Unlock()
			}
			// keep going, delivery is best-effort per node
			return nil
		})
	}
	_ = g.Wait()

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	log.Debugf("broadcast %s metadata seq %d to %d storage nodes", md.Kind(), md.Sequence(), len(topo.StorageNodes))
	return nil
}

func (b *Broadcaster) push(ctx context.Context, sn *metadata.StorageNode, md metadata.Metadata, payload []byte) error {
	api, err := b.dialer.Dial(sn.ID, sn.Endpoint)
	if err != nil {
		return &NetworkError{Node: sn.ID, Err: err}
	}
	if err := api.PushMetadata(ctx, string(md.Kind()), md.Sequence(), payload); err != nil {
		return errors.Wrapf(err, "push %s metadata to %s", md.Kind(), sn.ID)
	}
	return nil
}
