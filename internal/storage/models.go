package storage

import (
	"encoding/json"
	"errors"
	"time"
)

// Bucket names for bbolt database
const (
	InstancesBucket         = "instances"
	InstanceNamesBucket     = "instance_names"
	InstanceEndpointsBucket = "instance_endpoints"
	MetaBucket              = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
)

// Current schema version
const CurrentSchemaVersion = 1

// Storage errors. Callers map them to their own error kinds.
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("unique constraint violated")
	ErrVersionConflict = errors.New("record was modified concurrently")
	ErrInvalidKey      = errors.New("invalid record key")
	ErrDatabaseLocked  = errors.New("database is locked by another process")
)

// InstanceRecord represents a registered remote instance in storage
type InstanceRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Endpoint     string    `json:"endpoint"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expires      time.Time `json:"expires,omitempty"`
	Version      uint64    `json:"version"`
	Created      time.Time `json:"created"`
	Updated      time.Time `json:"updated"`
}

// MarshalBinary implements encoding.BinaryMarshaler
func (r *InstanceRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (r *InstanceRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}
