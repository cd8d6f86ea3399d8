package tasks

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dkv-admin/lib/cluster"
	"github.com/ValentinKolb/dkv-admin/lib/lockmgr"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/ValentinKolb/dkv-admin/lib/task"
)

const (
	KindUpdateCredentialHash = "update-credential-hash"
	KindVerifyCredentials    = "verify-credentials"
)

// CredentialName is the name under which agents report the TLS credential hash.
const CredentialName = cluster.CredentialTLS

// UpdateCredentialHash records the hash of the credentials every node must install.
type UpdateCredentialHash struct {
	task.Base
	Hash string `json:"hash"`
}

func (t *UpdateCredentialHash) Kind() string { return KindUpdateCredentialHash }
func (t *UpdateCredentialHash) Name() string { return "set credential hash " + short(t.Hash) }

func (t *UpdateCredentialHash) Locks(*task.Env) ([]lockmgr.Request, error) { return nil, nil }

func (t *UpdateCredentialHash) FirstJob(*task.Env) task.Job {
	return task.SingleJob(func(ctx context.Context, env *task.Env) error {
		return updateSecurity(ctx, env, func(c *metadata.SecurityCatalog) error {
			if t.Hash == "" {
				return metadata.Invalid("empty credential hash")
			}
			if c.CredentialHash == t.Hash {
				return metadata.ErrNoChange
			}
			c.CredentialHash = t.Hash
			c.CredentialVersion++
			return nil
		})
	})
}

func (t *UpdateCredentialHash) LogicalCompare(other task.Task) bool {
	o, ok := other.(*UpdateCredentialHash)
	return ok && t.Hash == o.Hash
}

// VerifyCredentials waits until every storage node reports the expected credential hash.
type VerifyCredentials struct {
	task.Base
}

func (t *VerifyCredentials) Kind() string { return KindVerifyCredentials }
func (t *VerifyCredentials) Name() string { return "verify credentials on all storage nodes" }

func (t *VerifyCredentials) Locks(*task.Env) ([]lockmgr.Request, error) { return nil, nil }

func (t *VerifyCredentials) FirstJob(*task.Env) task.Job {
	return task.PollJob("credential installation", func(ctx context.Context, env *task.Env) (task.PollStatus, error) {
		sec, err := env.Metadata.ReadSecurity()
		if err != nil {
			return task.PollPending, err
		}
		if sec.CredentialHash == "" {
			return task.PollPending, metadata.Invalid("no credential hash recorded")
		}
		return pollNodes(ctx, env, func(ctx context.Context, api cluster.INodeAPI) (bool, error) {
			hashes, err := api.CredentialHashes(ctx)
			return hashes[CredentialName] == sec.CredentialHash, err
		})
	})
}

// LogicalCompare always reports true, verifying again is always safe.
func (t *VerifyCredentials) LogicalCompare(task.Task) bool { return true }

func short(hash string) string {
	if len(hash) > 12 {
		return fmt.Sprintf("%s...", hash[:12])
	}
	return hash
}
