package tracker

import (
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

const (
	recordsTable   = "records"
	completedTable = "completed"
	idIndex        = "id"         // lookup by fingerprint
	externalIndex  = "externalId" // lookup live records by scheduler job id
	labelIndex     = "label"      // lookup completion markers by bundle label
)

// RecordDb stores submission records and completion markers.
// It is implemented on top of https://github.com/hashicorp/go-memdb, so readers holding a read transaction see a
// consistent snapshot while a single writer applies a refresh or submission atomically.
type RecordDb struct {
	Db *memdb.MemDB
}

func NewRecordDb() (*RecordDb, error) {
	db, err := memdb.NewMemDB(recordDbSchema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &RecordDb{Db: db}, nil
}

// Upsert inserts or replaces records. Records passed to this function must not be modified afterwards.
func (recordDb *RecordDb) Upsert(txn *memdb.Txn, records ...*schedulerobjects.SubmissionRecord) error {
	for _, record := range records {
		if err := txn.Insert(recordsTable, record); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// GetByFingerprint returns the live record for fingerprint or nil if there is none.
// The record returned must not be modified.
func (recordDb *RecordDb) GetByFingerprint(txn *memdb.Txn, fingerprint string) (*schedulerobjects.SubmissionRecord, error) {
	obj, err := txn.First(recordsTable, idIndex, fingerprint)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*schedulerobjects.SubmissionRecord), nil
}

// GetByExternalId returns every record submitted under externalId, i.e. all instances of one bundle.
func (recordDb *RecordDb) GetByExternalId(txn *memdb.Txn, externalId string) ([]*schedulerobjects.SubmissionRecord, error) {
	return recordDb.getAll(txn, externalIndex, externalId)
}

// GetAll returns every live record ordered by fingerprint.
func (recordDb *RecordDb) GetAll(txn *memdb.Txn) ([]*schedulerobjects.SubmissionRecord, error) {
	return recordDb.getAll(txn, idIndex)
}

func (recordDb *RecordDb) getAll(txn *memdb.Txn, index string, args ...interface{}) ([]*schedulerobjects.SubmissionRecord, error) {
	iter, err := txn.Get(recordsTable, index, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*schedulerobjects.SubmissionRecord, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		result = append(result, obj.(*schedulerobjects.SubmissionRecord))
	}
	return result, nil
}

// BatchDelete removes the records with the given fingerprints. Unknown fingerprints are ignored.
func (recordDb *RecordDb) BatchDelete(txn *memdb.Txn, fingerprints ...string) error {
	for _, fingerprint := range fingerprints {
		if _, err := txn.DeleteAll(recordsTable, idIndex, fingerprint); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (recordDb *RecordDb) MarkCompleted(txn *memdb.Txn, markers ...*schedulerobjects.CompletionMarker) error {
	for _, marker := range markers {
		if err := txn.Insert(completedTable, marker); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (recordDb *RecordDb) GetCompleted(txn *memdb.Txn, fingerprint string) (*schedulerobjects.CompletionMarker, error) {
	obj, err := txn.First(completedTable, idIndex, fingerprint)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*schedulerobjects.CompletionMarker), nil
}

// GetCompletedByLabel returns the markers of every instance that completed in the bundle named label.
func (recordDb *RecordDb) GetCompletedByLabel(txn *memdb.Txn, label string) ([]*schedulerobjects.CompletionMarker, error) {
	return recordDb.getCompleted(txn, labelIndex, label)
}

func (recordDb *RecordDb) GetAllCompleted(txn *memdb.Txn) ([]*schedulerobjects.CompletionMarker, error) {
	return recordDb.getCompleted(txn, idIndex)
}

func (recordDb *RecordDb) getCompleted(txn *memdb.Txn, index string, args ...interface{}) ([]*schedulerobjects.CompletionMarker, error) {
	iter, err := txn.Get(completedTable, index, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*schedulerobjects.CompletionMarker, 0)
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		result = append(result, obj.(*schedulerobjects.CompletionMarker))
	}
	return result, nil
}

// ClearCompleted removes the completion markers of the given fingerprints, or all markers if none are given.
func (recordDb *RecordDb) ClearCompleted(txn *memdb.Txn, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		_, err := txn.DeleteAll(completedTable, idIndex)
		return errors.WithStack(err)
	}
	for _, fingerprint := range fingerprints {
		if _, err := txn.DeleteAll(completedTable, idIndex, fingerprint); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// ReadTxn returns a read-only transaction.
// Multiple read-only transactions can access the db concurrently
func (recordDb *RecordDb) ReadTxn() *memdb.Txn {
	return recordDb.Db.Txn(false)
}

// WriteTxn returns a writeable transaction.
// Only a single write transaction may access the db at any given time
func (recordDb *RecordDb) WriteTxn() *memdb.Txn {
	return recordDb.Db.Txn(true)
}

// recordDbSchema creates the database schema: a table of live records and a table of completion markers,
// both keyed by fingerprint.
func recordDbSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			recordsTable: {
				Name: recordsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Fingerprint"},
					},
					externalIndex: {
						Name:         externalIndex,
						AllowMissing: true, // pending reservations have no external id yet
						Indexer:      &memdb.StringFieldIndex{Field: "ExternalId"},
					},
				},
			},
			completedTable: {
				Name: completedTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Fingerprint"},
					},
					labelIndex: {
						Name:         labelIndex,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Label"},
					},
				},
			},
		},
	}
}
