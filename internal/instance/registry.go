package instance

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fedsearch/fedsearch-go/internal/storage"
)

// Store is the persistence surface the registry needs. *storage.BoltDB
// implements it.
type Store interface {
	SaveInstance(record *storage.InstanceRecord) error
	GetInstance(id string) (*storage.InstanceRecord, error)
	GetInstanceByName(name string) (*storage.InstanceRecord, error)
	FindInstancesByEndpointPrefix(prefix string) ([]*storage.InstanceRecord, error)
	ListInstances() ([]*storage.InstanceRecord, error)
	DeleteInstance(id string) error
}

// Registry is the only component that writes instance records.
type Registry struct {
	store        Store
	reservedName string
	logger       *zap.Logger
}

// NewRegistry creates a registry over store.
func NewRegistry(store Store, reservedName string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:        store,
		reservedName: reservedName,
		logger:       logger.Named("registry"),
	}
}

// ReservedName returns the name no remote instance may take.
func (r *Registry) ReservedName() string {
	return r.reservedName
}

// GetAll returns every record in storage order.
func (r *Registry) GetAll() ([]*Instance, error) {
	records, err := r.store.ListInstances()
	if err != nil {
		return nil, modelError("Unable to list instances.", err)
	}
	instances := make([]*Instance, 0, len(records))
	for _, record := range records {
		instances = append(instances, fromRecord(record))
	}
	return instances, nil
}

// GetByID looks an instance up by id. A malformed id is a ModelError.
func (r *Registry) GetByID(id string) (*Instance, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, modelError("Malformed instance identifier.", err)
	}
	record, err := r.store.GetInstance(id)
	if err != nil {
		return nil, lookupError(err, "No instance with id %q.", id)
	}
	return fromRecord(record), nil
}

// GetByName looks an instance up by its exact name.
func (r *Registry) GetByName(name string) (*Instance, error) {
	record, err := r.store.GetInstanceByName(name)
	if err != nil {
		return nil, lookupError(err, "No instance named %q.", name)
	}
	return fromRecord(record), nil
}

// GetByEndpointStartingWith returns the single instance whose endpoint
// starts with prefix. Several matches are a ModelError.
func (r *Registry) GetByEndpointStartingWith(prefix string) (*Instance, error) {
	records, err := r.store.FindInstancesByEndpointPrefix(prefix)
	if err != nil {
		return nil, modelError("Unable to look up the instance endpoint.", err)
	}
	switch len(records) {
	case 0:
		return nil, doesNotExist("No instance with an endpoint starting with %q.", prefix)
	case 1:
		return fromRecord(records[0]), nil
	default:
		return nil, modelError("Several instances match the endpoint.", nil)
	}
}

// Delete removes the record. Deleting a missing record is DoesNotExist.
func (r *Registry) Delete(inst *Instance) error {
	if err := r.store.DeleteInstance(inst.ID); err != nil {
		return lookupError(err, "No instance with id %q.", inst.ID)
	}
	r.logger.Info("Instance deleted", zap.String("id", inst.ID), zap.String("name", inst.Name))
	return nil
}

// Upsert normalizes, validates and persists inst, inserting when it has no
// id yet. inst is updated in place only on success.
func (r *Registry) Upsert(inst *Instance) (*Instance, error) {
	candidate := *inst
	candidate.Normalize()
	if err := candidate.Validate(r.reservedName); err != nil {
		return nil, err
	}

	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	endpoint, err := NormalizeEndpoint(candidate.Endpoint)
	if err != nil {
		return nil, modelError("Endpoint is not a well formed URL.", err)
	}
	candidate.Endpoint = endpoint

	record := toRecord(&candidate)
	if err := r.store.SaveInstance(record); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return nil, notUniqueError(err)
		case errors.Is(err, storage.ErrNotFound):
			return nil, doesNotExist("No instance with id %q.", candidate.ID)
		default:
			return nil, modelError("Unable to save the instance.", err)
		}
	}

	saved := fromRecord(record)
	*inst = *saved
	return saved, nil
}

func lookupError(err error, format string, args ...any) error {
	if errors.Is(err, storage.ErrNotFound) {
		return doesNotExist(format, args...)
	}
	return modelError("Unable to read the instance.", err)
}

func toRecord(inst *Instance) *storage.InstanceRecord {
	record := &storage.InstanceRecord{
		ID:           inst.ID,
		Name:         inst.Name,
		Endpoint:     inst.Endpoint,
		AccessToken:  inst.AccessToken,
		RefreshToken: inst.RefreshToken,
		Version:      inst.Version,
		Created:      inst.Created,
		Updated:      inst.Updated,
	}
	if inst.Expires != nil {
		record.Expires = inst.Expires.UTC()
	}
	return record
}

func fromRecord(record *storage.InstanceRecord) *Instance {
	inst := &Instance{
		ID:           record.ID,
		Name:         record.Name,
		Endpoint:     record.Endpoint,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		Version:      record.Version,
		Created:      record.Created,
		Updated:      record.Updated,
	}
	if !record.Expires.IsZero() {
		expires := record.Expires
		inst.Expires = &expires
	}
	return inst
}

var _ Store = (*storage.BoltDB)(nil)

// expiry computes the absolute expiry of a token granted at now.
func expiry(now time.Time, expiresIn time.Duration) *time.Time {
	t := now.Add(expiresIn).UTC()
	return &t
}
