package plan

import (
	"encoding/json"
	"time"

	"github.com/ValentinKolb/dkv-admin/lib/task"
	"github.com/cockroachdb/errors"
)

// SchemaVersion is the version of the plan record written by this code.
//
//	v1: flat serial task list ("taskList"), no lock record
//	v2: nested task lists ("tasks") and held locks
//	v3: execution attempts
const SchemaVersion = 3

// Record is the persisted form of a plan. Fields added in later versions are
// optional and filled in by migrate when an older record is read.
type Record struct {
	Version  int               `json:"version"`
	ID       uint64            `json:"id"`
	Name     string            `json:"name"`
	State    State             `json:"state"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
	Tasks    *task.ListRecord  `json:"tasks,omitempty"`
	TaskList []task.NodeRecord `json:"taskList,omitempty"`
	Runs     []*TaskRun        `json:"runs,omitempty"`
	Locks    []string          `json:"locks,omitempty"`
	Attempts []*Attempt        `json:"attempts,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// Encode serializes a plan as a current version record.
func Encode(p *Plan) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tasks, err := p.List.Record()
	if err != nil {
		return nil, err
	}
	rec := Record{
		Version:  SchemaVersion,
		ID:       p.ID,
		Name:     p.Name,
		State:    p.State,
		Created:  p.Created,
		Updated:  p.Updated,
		Tasks:    tasks,
		Runs:     p.Runs,
		Locks:    p.Locks,
		Attempts: p.Attempts,
		Error:    p.Error,
	}
	return json.Marshal(&rec)
}

// Decode reads a plan record of any known version.
func Decode(data []byte) (*Plan, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode plan record")
	}
	if err := migrate(&rec); err != nil {
		return nil, errors.Wrapf(err, "plan %d", rec.ID)
	}
	list, err := task.DecodeList(rec.Tasks)
	if err != nil {
		return nil, errors.Wrapf(err, "plan %d", rec.ID)
	}
	p := &Plan{
		ID:       rec.ID,
		Name:     rec.Name,
		State:    rec.State,
		Created:  rec.Created,
		Updated:  rec.Updated,
		List:     list,
		Runs:     rec.Runs,
		Locks:    rec.Locks,
		Attempts: rec.Attempts,
		Error:    rec.Error,
	}
	reconcileRuns(p)
	return p, nil
}

// migrate upgrades rec in place to SchemaVersion.
func migrate(rec *Record) error {
	if rec.Version > SchemaVersion {
		return errors.Newf("record version %d is newer than supported version %d", rec.Version, SchemaVersion)
	}
	if rec.Version <= 1 {
		if rec.Tasks == nil {
			rec.Tasks = &task.ListRecord{Strategy: task.Serial, Nodes: rec.TaskList}
		}
		rec.TaskList = nil
		rec.Locks = nil
		rec.Version = 2
	}
	if rec.Version == 2 {
		// older records only know the outcome of the last run
		if rec.State != StateCreated && rec.State != StateApproved {
			rec.Attempts = []*Attempt{{
				ID:    "legacy",
				Start: rec.Created,
				End:   rec.Updated,
				State: rec.State,
				Error: rec.Error,
			}}
		}
		rec.Version = 3
	}
	return nil
}

// reconcileRuns makes sure there is exactly one run record per leaf task.
func reconcileRuns(p *Plan) {
	leaves := p.Leaves()
	runs := make([]*TaskRun, len(leaves))
	for _, r := range p.Runs {
		if r != nil && r.Index >= 0 && r.Index < len(runs) {
			runs[r.Index] = r
		}
	}
	for i, t := range leaves {
		if runs[i] == nil {
			runs[i] = &TaskRun{Index: i, State: task.StatePending}
		}
		runs[i].Kind, runs[i].Name = t.Kind(), t.Name()
	}
	p.Runs = runs
}
