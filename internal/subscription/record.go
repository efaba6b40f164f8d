// Package subscription persists the premium subscription record.
package subscription

import (
	"context"
	"errors"
	"time"
)

// TimestampLayout is ISO 8601 UTC with microseconds and a trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.999999Z"

// ErrWriteFailed wraps every failure to persist a Record.
var ErrWriteFailed = errors.New("subscription record write failed")

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("subscription record not found")

// Record is the on-disk subscription document.
type Record struct {
	SubscriptionID string `json:"subscription_id"`
	Timestamp      string `json:"timestamp"`
}

// NewRecord stamps id with at in UTC.
func NewRecord(id string, at time.Time) Record {
	return Record{SubscriptionID: id, Timestamp: at.UTC().Format(TimestampLayout)}
}

// Time parses the record timestamp.
func (r Record) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.Timestamp)
}

// Saver persists a Record, replacing any previous one.
type Saver interface {
	Save(ctx context.Context, rec Record) error
}

// Multi saves to every store and joins the failures.
type Multi []Saver

func (m Multi) Save(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
