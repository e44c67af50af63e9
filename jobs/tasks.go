package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-bi/backoffice/internal/softdelete"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCountersReconcile repairs denormalised company counters.
	TaskCountersReconcile = "counters:reconcile"
)

// CountersReconcilePayload selects what the reconcile task repairs. An empty Counter means
// every maintained counter; a zero CompanyID means every company.
type CountersReconcilePayload struct {
	Counter   string `json:"counter,omitempty"`
	CompanyID int64  `json:"company_id,omitempty"`
}

// Counters resolves the payload into the counters to repair.
func (p CountersReconcilePayload) Counters() ([]softdelete.Counter, error) {
	if p.Counter == "" {
		return softdelete.AllCounters(), nil
	}
	c, ok := softdelete.CounterByName(p.Counter)
	if !ok {
		return nil, fmt.Errorf("jobs: unknown counter %q", p.Counter)
	}
	return []softdelete.Counter{c}, nil
}

// NewCountersReconcileTask constructs an Asynq task.
func NewCountersReconcileTask(payload CountersReconcilePayload) (*asynq.Task, error) {
	if _, err := payload.Counters(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCountersReconcile, data), nil
}
