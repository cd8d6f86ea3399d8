package plan

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ValentinKolb/dkv-admin/lib/store"
	"github.com/cockroachdb/errors"
)

const (
	planPrefix  = "plan/rec/"
	claimPrefix = "plan/id/"
	stopPrefix  = "plan/stop/"
	seqKey      = "plan/seq"
)

// ErrNotFound is returned for unknown plan ids.
var ErrNotFound = errors.New("plan not found")

func planKey(id uint64) string {
	return fmt.Sprintf("%s%020d", planPrefix, id)
}

// Store persists plans in an IStore.
type Store struct {
	st store.IStore
	mu sync.Mutex
}

// NewStore creates a plan store on top of st.
func NewStore(st store.IStore) *Store {
	return &Store{st: st}
}

// NextID allocates a new plan id. Ids are claimed with SetIfUnset, so admin
// processes sharing a replicated store never hand out the same id.
func (s *Store) NextID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := make([]byte, 8)
	if _, err := rand.Read(token); err != nil {
		return 0, err
	}
	token = []byte(hex.EncodeToString(token))

	id, err := s.readSeq()
	if err != nil {
		return 0, err
	}
	for {
		id++
		key := claimPrefix + strconv.FormatUint(id, 10)
		if err := s.st.SetIfUnset(key, token, 0); err != nil {
			return 0, err
		}
		owner, _, err := s.st.Get(key)
		if err != nil {
			return 0, err
		}
		if string(owner) != string(token) {
			continue
		}
		if err := s.st.Set(seqKey, []byte(strconv.FormatUint(id, 10))); err != nil {
			return 0, err
		}
		return id, nil
	}
}

func (s *Store) readSeq() (uint64, error) {
	data, ok, err := s.st.Get(seqKey)
	if err != nil || !ok {
		return 0, err
	}
	seq, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "corrupt plan sequence")
	}
	return seq, nil
}

// Save writes the plan.
func (s *Store) Save(p *Plan) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	return s.st.Set(planKey(p.ID), data)
}

// Load reads a plan.
func (s *Store) Load(id uint64) (*Plan, error) {
	data, ok, err := s.st.Get(planKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "plan %d", id)
	}
	return Decode(data)
}

// List returns all plans ordered by id. Records that fail to decode are skipped
// and logged.
func (s *Store) List() ([]*Plan, error) {
	keys, err := s.st.Keys(planPrefix)
	if err != nil {
		return nil, err
	}
	plans := make([]*Plan, 0, len(keys))
	for _, key := range keys {
		id, err := strconv.ParseUint(strings.TrimPrefix(key, planPrefix), 10, 64)
		if err != nil {
			log.Warningf("ignoring plan key %q", key)
			continue
		}
		p, err := s.Load(id)
		if err != nil {
			log.Errorf("failed to load plan %d: %v", id, err)
			continue
		}
		plans = append(plans, p)
	}
	sortPlans(plans)
	return plans, nil
}

// RequestStop records that the process driving the plan should interrupt it.
func (s *Store) RequestStop(id uint64) error {
	return s.st.Set(stopPrefix+strconv.FormatUint(id, 10), []byte("1"))
}

// StopRequested reports whether a stop was requested for the plan.
func (s *Store) StopRequested(id uint64) (bool, error) {
	_, ok, err := s.st.Get(stopPrefix + strconv.FormatUint(id, 10))
	return ok, err
}

// ClearStop removes a stop request.
func (s *Store) ClearStop(id uint64) error {
	return s.st.Delete(stopPrefix + strconv.FormatUint(id, 10))
}
