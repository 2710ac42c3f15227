package repository

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// RedisPersister stores records and markers as JSON in two redis hashes keyed by fingerprint.
type RedisPersister struct {
	db           redis.UniversalClient
	recordsKey   string
	completedKey string
}

// NewRedisPersister returns a persister whose keys are namespaced by project, so several projects may share one
// redis database.
func NewRedisPersister(db redis.UniversalClient, project string) *RedisPersister {
	return &RedisPersister{
		db:           db,
		recordsKey:   "jobflow:" + project + ":records",
		completedKey: "jobflow:" + project + ":completed",
	}
}

func (p *RedisPersister) HealthCheck(_ context.Context) error {
	return HealthCheck(p.db)
}

func (p *RedisPersister) Load(_ context.Context) ([]*schedulerobjects.SubmissionRecord, error) {
	values, err := p.loadHash(p.recordsKey)
	if err != nil {
		return nil, err
	}
	records := make([]*schedulerobjects.SubmissionRecord, 0, len(values))
	for _, value := range values {
		record := &schedulerobjects.SubmissionRecord{}
		if err := json.Unmarshal([]byte(value), record); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling submission record from %s", p.recordsKey)
		}
		records = append(records, record)
	}
	return records, nil
}

func (p *RedisPersister) Save(_ context.Context, records ...*schedulerobjects.SubmissionRecord) error {
	if len(records) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(records))
	for _, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return errors.WithStack(err)
		}
		fields[record.Fingerprint] = data
	}
	return errors.WithStack(p.db.HMSet(p.recordsKey, fields).Err())
}

func (p *RedisPersister) Delete(_ context.Context, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	return errors.WithStack(p.db.HDel(p.recordsKey, fingerprints...).Err())
}

func (p *RedisPersister) LoadCompleted(_ context.Context) ([]*schedulerobjects.CompletionMarker, error) {
	values, err := p.loadHash(p.completedKey)
	if err != nil {
		return nil, err
	}
	markers := make([]*schedulerobjects.CompletionMarker, 0, len(values))
	for _, value := range values {
		marker := &schedulerobjects.CompletionMarker{}
		if err := json.Unmarshal([]byte(value), marker); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling completion marker from %s", p.completedKey)
		}
		markers = append(markers, marker)
	}
	return markers, nil
}

// MarkCompleted stores markers and removes the records they complete in one transaction.
func (p *RedisPersister) MarkCompleted(_ context.Context, markers ...*schedulerobjects.CompletionMarker) error {
	if len(markers) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(markers))
	fingerprints := make([]string, 0, len(markers))
	for _, marker := range markers {
		data, err := json.Marshal(marker)
		if err != nil {
			return errors.WithStack(err)
		}
		fields[marker.Fingerprint] = data
		fingerprints = append(fingerprints, marker.Fingerprint)
	}
	pipe := p.db.TxPipeline()
	pipe.HMSet(p.completedKey, fields)
	pipe.HDel(p.recordsKey, fingerprints...)
	_, err := pipe.Exec()
	return errors.WithStack(err)
}

func (p *RedisPersister) ClearCompleted(_ context.Context, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		return errors.WithStack(p.db.Del(p.completedKey).Err())
	}
	return errors.WithStack(p.db.HDel(p.completedKey, fingerprints...).Err())
}

// loadHash returns the values of a hash ordered by field.
func (p *RedisPersister) loadHash(key string) ([]string, error) {
	values, err := p.db.HGetAll(key).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	slices.Sort(fields)
	result := make([]string, len(fields))
	for i, field := range fields {
		result[i] = values[field]
	}
	return result, nil
}
