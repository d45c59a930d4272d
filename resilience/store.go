package resilience

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/arclabs561/runctl/types"
)

var bucketJobs = []byte("jobs")

// Store persists jobs in a bbolt database keyed by job ID.
// Writes are synchronous: a successful Put means the step record
// survives a crash that happens one instruction later.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (or creates) the job database at path.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &types.FatalError{Err: fmt.Errorf("opening job store %s: %w", path, err)}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, &types.FatalError{Err: fmt.Errorf("initializing job store: %w", err)}
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put writes a job record, replacing any prior version.
func (s *Store) Put(job *Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job %s: %w", job.ID, err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), value)
	})
	if err != nil {
		return &types.FatalError{Err: fmt.Errorf("persisting job %s: %w", job.ID, err)}
	}
	return nil
}

// Get loads one job by ID.
func (s *Store) Get(id string) (*Job, error) {
	var job *Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		value := tx.Bucket(bucketJobs).Get([]byte(id))
		if value == nil {
			return nil
		}
		job = &Job{}
		return json.Unmarshal(value, job)
	})
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	if job == nil {
		return nil, types.NewValidationError("job_id", "job "+id+" not found")
	}
	return job, nil
}

// List returns all jobs, newest first.
func (s *Store) List() ([]*Job, error) {
	var jobs []*Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(_, value []byte) error {
			job := &Job{}
			if err := json.Unmarshal(value, job); err != nil {
				return err
			}
			jobs = append(jobs, job)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// Active returns the jobs that still claim resources.
func (s *Store) Active() ([]*Job, error) {
	jobs, err := s.List()
	if err != nil {
		return nil, err
	}
	active := jobs[:0]
	for _, job := range jobs {
		if job.Active() {
			active = append(active, job)
		}
	}
	return active, nil
}

// ClaimedResources returns the resource keys held by active jobs.
// Cleanup planning excludes these outright.
func (s *Store) ClaimedResources() (map[types.ResourceKey]bool, error) {
	active, err := s.Active()
	if err != nil {
		return nil, err
	}
	claimed := make(map[types.ResourceKey]bool)
	for _, job := range active {
		for _, id := range job.ResourceIDs() {
			claimed[types.ResourceKey{Provider: job.Provider, ID: id}] = true
		}
	}
	return claimed, nil
}

// Delete removes a job record. Only terminal jobs may be deleted.
func (s *Store) Delete(id string) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	if job.Active() {
		return &types.StateConflictError{
			ResourceID: id,
			Msg:        "job is still active",
		}
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketJobs).Delete([]byte(id))
	})
}
