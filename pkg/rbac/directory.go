package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/platinummonkey/acesso/pkg/audit"
	"github.com/platinummonkey/acesso/pkg/observability"
	"github.com/platinummonkey/acesso/pkg/storage"
)

// EmployeeLookup finds an employee by id
type EmployeeLookup interface {
	Get(ctx context.Context, id string) (*Employee, error)
}

// Directory manages employee records in the employees collection
type Directory struct {
	docs     storage.DocumentStore
	recorder audit.Recorder
	validate *validator.Validate
	logger   *observability.Logger
	now      func() time.Time
}

// NewDirectory creates an employee directory
func NewDirectory(docs storage.DocumentStore, recorder audit.Recorder, logger *observability.Logger) *Directory {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Directory{
		docs:     docs,
		recorder: recorder,
		validate: NewValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the employee with id
func (d *Directory) Get(ctx context.Context, id string) (*Employee, error) {
	doc, err := d.docs.Get(ctx, storage.CollectionEmployees, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrCollectionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrEmployeeNotFound, id)
		}
		return nil, fmt.Errorf("%w: failed to get employee %s: %w", ErrStoreUnavailable, id, err)
	}
	return decodeEmployee(doc)
}

// List returns every employee ordered by name
func (d *Directory) List(ctx context.Context) ([]*Employee, error) {
	docs, err := d.docs.List(ctx, storage.CollectionEmployees)
	return d.collect(docs, err)
}

// ListByRole returns the employees holding role
func (d *Directory) ListByRole(ctx context.Context, role Role) ([]*Employee, error) {
	docs, err := d.docs.Query(ctx, storage.CollectionEmployees, storage.Eq("role", role.normalize()))
	return d.collect(docs, err)
}

func (d *Directory) collect(docs []*storage.Document, err error) ([]*Employee, error) {
	if err != nil {
		if errors.Is(err, storage.ErrCollectionNotFound) {
			return []*Employee{}, nil
		}
		return nil, fmt.Errorf("%w: failed to list employees: %w", ErrStoreUnavailable, err)
	}

	employees := make([]*Employee, 0, len(docs))
	for _, doc := range docs {
		emp, err := decodeEmployee(doc)
		if err != nil {
			d.logger.WithError(err).WithField("employee_id", doc.ID).Warn("skipping undecodable employee")
			continue
		}
		employees = append(employees, emp)
	}
	sort.SliceStable(employees, func(i, j int) bool {
		return strings.ToLower(employees[i].Name) < strings.ToLower(employees[j].Name)
	})
	return employees, nil
}

func decodeEmployee(doc *storage.Document) (*Employee, error) {
	var emp Employee
	if err := doc.Decode(&emp); err != nil {
		return nil, err
	}
	if emp.ID == "" {
		emp.ID = doc.ID
	}
	return &emp, nil
}

// Create onboards an employee. An empty status defaults to pending_invite.
// The record is kept when only the audit append fails; the error then
// matches audit.ErrRecordFailed.
func (d *Directory) Create(ctx context.Context, emp *Employee, actor audit.Actor) error {
	emp.ID = strings.TrimSpace(emp.ID)
	emp.Role = emp.Role.normalize()
	if emp.Status == "" {
		emp.Status = StatusPendingInvite
	}
	if err := d.validate.Struct(emp); err != nil {
		return err
	}

	if _, err := d.Get(ctx, emp.ID); err == nil {
		return fmt.Errorf("%w: %s", ErrEmployeeExists, emp.ID)
	} else if !errors.Is(err, ErrEmployeeNotFound) {
		return err
	}

	now := d.now().UTC()
	emp.CreatedAt = now
	emp.UpdatedAt = now

	data, err := json.Marshal(emp)
	if err != nil {
		return fmt.Errorf("failed to encode employee: %w", err)
	}
	if err := d.docs.Set(ctx, storage.CollectionEmployees, emp.ID, data); err != nil {
		return fmt.Errorf("%w: failed to create employee %s: %w", ErrStoreUnavailable, emp.ID, err)
	}

	entry := audit.NewEntry(actor, string(ModuleFuncionarios), audit.ActionCreate).
		Target("employee", emp.ID).
		WithDetails("employee %s onboarded as %s", emp.Name, emp.Role).
		WithDiff(nil, emp)
	return d.record(ctx, entry)
}

// SetStatus changes the lifecycle status. Suspending or blocking is
// audited as suspend, any other change as update.
func (d *Directory) SetStatus(ctx context.Context, id string, status Status, actor audit.Actor) (*Employee, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	action := audit.ActionUpdate
	if status == StatusSuspended || status == StatusBlocked {
		action = audit.ActionSuspend
	}
	return d.patch(ctx, id, actor, action, map[string]interface{}{"status": status}, func(before *Employee) string {
		return fmt.Sprintf("status %s -> %s", before.Status, status)
	})
}

// SetRole assigns a new role
func (d *Directory) SetRole(ctx context.Context, id string, role Role, actor audit.Actor) (*Employee, error) {
	role = role.normalize()
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	return d.patch(ctx, id, actor, audit.ActionUpdate, map[string]interface{}{"role": role}, func(before *Employee) string {
		return fmt.Sprintf("role %s -> %s", before.Role, role)
	})
}

// patch merges fields into the employee document and audits the change
func (d *Directory) patch(ctx context.Context, id string, actor audit.Actor, action audit.Action, fields map[string]interface{}, describe func(*Employee) string) (*Employee, error) {
	before, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fields["updatedAt"] = d.now().UTC()
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode employee patch: %w", err)
	}
	if err := d.docs.Merge(ctx, storage.CollectionEmployees, id, data); err != nil {
		return nil, fmt.Errorf("%w: failed to update employee %s: %w", ErrStoreUnavailable, id, err)
	}

	// the merge stands, so a failed re-read must not skip the audit entry
	after, err := d.Get(ctx, id)
	if err != nil {
		d.logger.WithError(err).WithField("employee_id", id).Warn("failed to re-read employee after update")
		if after, err = applyPatch(before, data); err != nil {
			return nil, err
		}
	}

	entry := audit.NewEntry(actor, string(ModuleFuncionarios), action).
		Target("employee", id).
		WithDetails("%s", describe(before)).
		WithDiff(before, after)
	return after, d.record(ctx, entry)
}

// applyPatch overlays merged fields on a copy of emp
func applyPatch(emp *Employee, data json.RawMessage) (*Employee, error) {
	patched := *emp
	if err := json.Unmarshal(data, &patched); err != nil {
		return nil, fmt.Errorf("failed to apply employee patch: %w", err)
	}
	return &patched, nil
}

func (d *Directory) record(ctx context.Context, entry *audit.Entry) error {
	if err := d.recorder.Record(ctx, entry); err != nil {
		d.logger.WithError(err).WithFields(map[string]interface{}{
			"employee_id": entry.TargetID,
			"action":      entry.Action,
		}).Error("employee change not audited")
		return fmt.Errorf("employee %s changed but not audited: %w", entry.TargetID, err)
	}
	return nil
}

// ActorOf returns the audit identity of an employee
func ActorOf(emp *Employee) audit.Actor {
	if emp == nil {
		return audit.Actor{}
	}
	return audit.Actor{ID: emp.ID, Name: emp.Name, Role: string(emp.Role)}
}
