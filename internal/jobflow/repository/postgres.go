package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

const (
	recordKind    = "record"
	completedKind = "completed"
)

// PostgresPersister stores records and markers as JSON documents in a single postgres table.
// The table is created automatically the first time it is written to.
type PostgresPersister struct {
	db *pgxpool.Pool
	// Name of the postgres table used for storage.
	tableName string
}

func NewPostgresPersister(db *pgxpool.Pool, tableName string) (*PostgresPersister, error) {
	if db == nil {
		return nil, errors.WithStack(&flowerrors.ErrConfiguration{
			Name:    "db",
			Value:   db,
			Message: "db must be non-nil",
		})
	}
	if tableName == "" {
		return nil, errors.WithStack(&flowerrors.ErrConfiguration{
			Name:    "tableName",
			Value:   tableName,
			Message: "tableName must be non-empty",
		})
	}
	return &PostgresPersister{db: db, tableName: tableName}, nil
}

func (p *PostgresPersister) HealthCheck(ctx context.Context) error {
	return errors.WithStack(p.db.Ping(ctx))
}

func (p *PostgresPersister) Load(ctx context.Context) ([]*schedulerobjects.SubmissionRecord, error) {
	var records []*schedulerobjects.SubmissionRecord
	err := p.load(ctx, recordKind, func(value []byte) error {
		record := &schedulerobjects.SubmissionRecord{}
		if err := json.Unmarshal(value, record); err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

func (p *PostgresPersister) Save(ctx context.Context, records ...*schedulerobjects.SubmissionRecord) error {
	values := make(map[string]interface{}, len(records))
	for _, record := range records {
		values[record.Fingerprint] = record
	}
	return p.withTable(ctx, func() error {
		return p.upsert(ctx, recordKind, values, nil)
	})
}

func (p *PostgresPersister) Delete(ctx context.Context, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		return nil
	}
	return p.withTable(ctx, func() error {
		return p.delete(ctx, p.db, recordKind, fingerprints)
	})
}

func (p *PostgresPersister) LoadCompleted(ctx context.Context) ([]*schedulerobjects.CompletionMarker, error) {
	var markers []*schedulerobjects.CompletionMarker
	err := p.load(ctx, completedKind, func(value []byte) error {
		marker := &schedulerobjects.CompletionMarker{}
		if err := json.Unmarshal(value, marker); err != nil {
			return err
		}
		markers = append(markers, marker)
		return nil
	})
	return markers, err
}

// MarkCompleted stores markers and removes the records they complete in one transaction.
func (p *PostgresPersister) MarkCompleted(ctx context.Context, markers ...*schedulerobjects.CompletionMarker) error {
	values := make(map[string]interface{}, len(markers))
	fingerprints := make([]string, 0, len(markers))
	for _, marker := range markers {
		values[marker.Fingerprint] = marker
		fingerprints = append(fingerprints, marker.Fingerprint)
	}
	return p.withTable(ctx, func() error {
		return p.upsert(ctx, completedKind, values, fingerprints)
	})
}

func (p *PostgresPersister) ClearCompleted(ctx context.Context, fingerprints ...string) error {
	return p.withTable(ctx, func() error {
		if len(fingerprints) == 0 {
			_, err := p.db.Exec(ctx, fmt.Sprintf("delete from %s where kind = $1;", p.tableName), completedKind)
			return err
		}
		return p.delete(ctx, p.db, completedKind, fingerprints)
	})
}

// withTable runs f, creating the table and trying again if it doesn't exist yet.
func (p *PostgresPersister) withTable(ctx context.Context, f func() error) error {
	err := f()
	if isUndefinedTable(err) {
		if err := p.createTable(ctx); err != nil {
			return errors.WithStack(err)
		}
		err = f()
	}
	return errors.WithStack(err)
}

func (p *PostgresPersister) createTable(ctx context.Context) error {
	var pgErr *pgconn.PgError
	_, err := p.db.Exec(ctx, fmt.Sprintf(
		"create table %s (kind text not null, fingerprint text not null, value jsonb not null, updated timestamp not null, primary key (kind, fingerprint));",
		p.tableName,
	))
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateTable { // Someone else just created it, which is fine.
		return nil
	}
	return err
}

// upsert writes values of the given kind and, in the same transaction, deletes the records listed in
// deleteRecords.
func (p *PostgresPersister) upsert(ctx context.Context, kind string, values map[string]interface{}, deleteRecords []string) error {
	if len(values) == 0 {
		return nil
	}
	sql := fmt.Sprintf(
		"insert into %s (kind, fingerprint, value, updated) values ($1, $2, $3, now()) "+
			"on conflict (kind, fingerprint) do update set value = excluded.value, updated = excluded.updated;",
		p.tableName,
	)
	return p.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for fingerprint, value := range values {
			data, err := json.Marshal(value)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, sql, kind, fingerprint, data); err != nil {
				return err
			}
		}
		if len(deleteRecords) > 0 {
			return p.delete(ctx, tx, recordKind, deleteRecords)
		}
		return nil
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

func (p *PostgresPersister) delete(ctx context.Context, db execer, kind string, fingerprints []string) error {
	sql := fmt.Sprintf("delete from %s where kind = $1 and fingerprint = any($2);", p.tableName)
	_, err := db.Exec(ctx, sql, kind, fingerprints)
	return err
}

func (p *PostgresPersister) load(ctx context.Context, kind string, f func(value []byte) error) error {
	sql := fmt.Sprintf("select value from %s where kind = $1 order by fingerprint;", p.tableName)
	rows, err := p.db.Query(ctx, sql, kind)
	if isUndefinedTable(err) {
		// Nothing has been persisted yet.
		return nil
	} else if err != nil {
		return errors.WithStack(err)
	}
	defer rows.Close()
	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return errors.WithStack(err)
		}
		if err := f(value); err != nil {
			return errors.Wrapf(err, "error unmarshalling %s from %s", kind, p.tableName)
		}
	}
	if err := rows.Err(); err != nil && !isUndefinedTable(err) {
		return errors.WithStack(err)
	}
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable
}
