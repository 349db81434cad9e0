package state

import "time"

// Pool is a named set of worker nodes tasks are scheduled onto.
type Pool struct {
	ID          string
	VMSize      string
	TargetNodes int
	CreatedAt   time.Time
}
