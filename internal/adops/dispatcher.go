package adops

import "fmt"

// Mode selects the mutation path an operation is being dispatched for.
type Mode string

const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

// Dispatcher turns generic operations into remote envelopes. It owns the
// temporary-id counter and the removal bookkeeping for one submission, so one
// dispatcher serves exactly one account and is not safe for concurrent use.
type Dispatcher struct {
	lastTempID       int64
	removedCampaigns map[int64]struct{}
	removedAdGroups  map[int64]struct{}
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		removedCampaigns: make(map[int64]struct{}),
		removedAdGroups:  make(map[int64]struct{}),
	}
}

// NextTempID mints a fresh negative placeholder id. Ids are strictly
// decreasing within one dispatcher so two minted ids never collide.
func (d *Dispatcher) NextTempID() int64 {
	d.lastTempID--
	return d.lastTempID
}

// Dispatch converts one generic operation into zero or more remote envelopes.
// A nil slice with a nil error means the operation was suppressed because its
// parent entity was removed earlier in the same submission.
func (d *Dispatcher) Dispatch(op Operation, mode Mode) ([]Envelope, error) {
	spec, ok := entitySpecs[op.ObjectType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEntity, op.ObjectType)
	}
	if spec.syncOnly && mode != ModeSync {
		return nil, fmt.Errorf("%w: %s is only mutated synchronously", ErrInvalidOperation, op.ObjectType)
	}
	if spec.asyncOnly && mode != ModeAsync {
		return nil, fmt.Errorf("%w: %s is only mutated through bulk jobs", ErrInvalidOperation, op.ObjectType)
	}
	switch op.Verb {
	case VerbAdd, VerbSet, VerbRemove:
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidOperation, op.Verb)
	}

	values, err := coerceFields(op, spec)
	if err != nil {
		return nil, err
	}

	if d.suppressed(values) {
		return nil, nil
	}
	if err := d.registerRemoval(op, values); err != nil {
		return nil, err
	}

	return spec.build(d, op, values)
}

// coerceFields converts every supplied field to its remote encoding. A
// coercion failure on a required field fails the operation; optional fields
// are dropped so a single bad annotation does not sink the record.
func coerceFields(op Operation, spec entitySpec) (fieldValues, error) {
	values := make(fieldValues, len(op.Fields))
	for field, raw := range op.Fields {
		coerced, err := ToRemote(KindOf(field), raw)
		if err != nil {
			if spec.required[field] {
				return nil, &FieldError{ObjectType: op.ObjectType, Field: field, Reason: err.Error()}
			}
			continue
		}
		if coerced != nil {
			values[field] = coerced
		}
	}
	return values, nil
}

// suppressed reports whether the operation targets an entity hierarchy that a
// prior operation in this submission already removed. Removing the parent
// removes all children remotely, so follow-up mutations would only fail.
func (d *Dispatcher) suppressed(values fieldValues) bool {
	if campaignID, ok := values.int64Of("campaign_id"); ok {
		if _, removed := d.removedCampaigns[campaignID]; removed {
			return true
		}
	}
	if adgroupID, ok := values.int64Of("adgroup_id"); ok {
		if _, removed := d.removedAdGroups[adgroupID]; removed {
			return true
		}
	}
	return false
}

func (d *Dispatcher) registerRemoval(op Operation, values fieldValues) error {
	if op.Verb != VerbRemove && values.stringOr("status", "") != "REMOVED" {
		return nil
	}
	switch op.ObjectType {
	case "campaign":
		campaignID, ok := values.int64Of("campaign_id")
		if !ok {
			return &FieldError{ObjectType: op.ObjectType, Field: "campaign_id", Reason: "removal requires an id"}
		}
		d.removedCampaigns[campaignID] = struct{}{}
	case "adgroup":
		adgroupID, ok := values.int64Of("adgroup_id")
		if !ok {
			return &FieldError{ObjectType: op.ObjectType, Field: "adgroup_id", Reason: "removal requires an id"}
		}
		d.removedAdGroups[adgroupID] = struct{}{}
	}
	return nil
}
