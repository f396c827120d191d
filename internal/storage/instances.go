package storage

import (
	"bytes"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Instance operations
//
// Records live in InstancesBucket keyed by id. InstanceNamesBucket and
// InstanceEndpointsBucket map the unique name and endpoint to the owning id.
// All three are maintained in the same write transaction, so bbolt's single
// writer decides which of two racing saves wins.

// SaveInstance inserts or updates an instance record.
//
// A record whose ID is unknown is inserted. For an existing record the
// caller's Version must equal the stored one; on success Version is
// incremented and Created/Updated are maintained. Name or endpoint
// collisions with another record return ErrDuplicate. Saving a record with a
// non-zero Version that is no longer stored returns ErrNotFound.
func (b *BoltDB) SaveInstance(record *InstanceRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidKey)
	}

	toSave := *record
	now := time.Now().UTC()

	err := b.db.Update(func(tx *bbolt.Tx) error {
		instances := tx.Bucket([]byte(InstancesBucket))
		names := tx.Bucket([]byte(InstanceNamesBucket))
		endpoints := tx.Bucket([]byte(InstanceEndpointsBucket))

		var existing *InstanceRecord
		if data := instances.Get([]byte(toSave.ID)); data != nil {
			existing = &InstanceRecord{}
			if err := existing.UnmarshalBinary(data); err != nil {
				return fmt.Errorf("failed to decode instance %s: %w", toSave.ID, err)
			}
			if existing.Version != toSave.Version {
				return fmt.Errorf("%w: instance %s is at version %d, not %d",
					ErrVersionConflict, toSave.ID, existing.Version, toSave.Version)
			}
		} else if toSave.Version != 0 {
			// a versioned record was saved before; do not resurrect it
			return fmt.Errorf("%w: instance %s", ErrNotFound, toSave.ID)
		}

		if owner := names.Get([]byte(toSave.Name)); owner != nil && string(owner) != toSave.ID {
			return fmt.Errorf("%w: name %q", ErrDuplicate, toSave.Name)
		}
		if owner := endpoints.Get([]byte(toSave.Endpoint)); owner != nil && string(owner) != toSave.ID {
			return fmt.Errorf("%w: endpoint %q", ErrDuplicate, toSave.Endpoint)
		}

		if existing != nil {
			if existing.Name != toSave.Name {
				if err := names.Delete([]byte(existing.Name)); err != nil {
					return err
				}
			}
			if existing.Endpoint != toSave.Endpoint {
				if err := endpoints.Delete([]byte(existing.Endpoint)); err != nil {
					return err
				}
			}
			toSave.Created = existing.Created
		} else if toSave.Created.IsZero() {
			toSave.Created = now
		}

		toSave.Version++
		toSave.Updated = now

		if err := names.Put([]byte(toSave.Name), []byte(toSave.ID)); err != nil {
			return err
		}
		if err := endpoints.Put([]byte(toSave.Endpoint), []byte(toSave.ID)); err != nil {
			return err
		}

		data, err := toSave.MarshalBinary()
		if err != nil {
			return err
		}
		return instances.Put([]byte(toSave.ID), data)
	})
	if err != nil {
		return err
	}

	*record = toSave
	return nil
}

// GetInstance retrieves an instance record by ID
func (b *BoltDB) GetInstance(id string) (*InstanceRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidKey)
	}

	var record *InstanceRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = getInstance(tx, []byte(id))
		return err
	})
	return record, err
}

// GetInstanceByName retrieves an instance record by its exact name
func (b *BoltDB) GetInstanceByName(name string) (*InstanceRecord, error) {
	var record *InstanceRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(InstanceNamesBucket)).Get([]byte(name))
		if id == nil {
			return fmt.Errorf("%w: instance named %q", ErrNotFound, name)
		}
		var err error
		record, err = getInstance(tx, id)
		return err
	})
	return record, err
}

// FindInstancesByEndpointPrefix returns every record whose endpoint starts
// with prefix, in endpoint order
func (b *BoltDB) FindInstancesByEndpointPrefix(prefix string) ([]*InstanceRecord, error) {
	var records []*InstanceRecord
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(InstanceEndpointsBucket)).Cursor()
		p := []byte(prefix)
		for k, id := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, id = c.Next() {
			record, err := getInstance(tx, id)
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// ListInstances returns all instance records
func (b *BoltDB) ListInstances() ([]*InstanceRecord, error) {
	var records []*InstanceRecord

	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(InstancesBucket))
		return bucket.ForEach(func(_, v []byte) error {
			record := &InstanceRecord{}
			if err := record.UnmarshalBinary(v); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})

	return records, err
}

// CountInstances returns the number of stored instance records
func (b *BoltDB) CountInstances() (int, error) {
	var count int
	err := b.db.View(func(tx *bbolt.Tx) error {
		count = tx.Bucket([]byte(InstancesBucket)).Stats().KeyN
		return nil
	})
	return count, err
}

// DeleteInstance deletes an instance record and its index entries
func (b *BoltDB) DeleteInstance(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		record, err := getInstance(tx, []byte(id))
		if err != nil {
			return err
		}

		if err := tx.Bucket([]byte(InstanceNamesBucket)).Delete([]byte(record.Name)); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(InstanceEndpointsBucket)).Delete([]byte(record.Endpoint)); err != nil {
			return err
		}
		return tx.Bucket([]byte(InstancesBucket)).Delete([]byte(id))
	})
}

func getInstance(tx *bbolt.Tx, id []byte) (*InstanceRecord, error) {
	data := tx.Bucket([]byte(InstancesBucket)).Get(id)
	if data == nil {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}

	record := &InstanceRecord{}
	if err := record.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to decode instance %s: %w", id, err)
	}
	return record, nil
}
