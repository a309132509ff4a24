package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/mschirtzinger/exposure-tracker/internal/remote"
	"github.com/mschirtzinger/exposure-tracker/internal/state"
	"github.com/mschirtzinger/exposure-tracker/internal/types"
)

// Op names a client operation in a Result.
type Op string

const (
	OpSaveGoals      Op = "save_goals"
	OpSaveExposure   Op = "save_exposure"
	OpDeleteExposure Op = "delete_exposure"
	OpSaveSummary    Op = "save_summary"
	OpDeleteSummary  Op = "delete_summary"
)

// Result describes a completed operation.
type Result struct {
	Op      Op
	Path    string
	ID      string // record key; empty for goals
	Created bool   // true when a new key was allocated
}

// UserSource reports the signed-in user. An empty string means nobody.
type UserSource interface {
	UserID() string
}

// Client performs the user's writes against the remote store.
type Client interface {
	// SaveGoals overwrites the user's goals slot.
	SaveGoals(ctx context.Context, goals types.Goals) (Result, error)

	// SaveExposure creates (empty ID) or overwrites (ID set) an exposure.
	// On create, e.ID and, when empty, e.ReferenceNumber are assigned.
	// On overwrite, e.ReferenceNumber is reset to the stored record's.
	SaveExposure(ctx context.Context, e *types.Exposure) (Result, error)

	// DeleteExposure removes an exposure. Missing ids succeed.
	DeleteExposure(ctx context.Context, id string) (Result, error)

	// SaveSummary always creates a new summary and assigns s.ID.
	SaveSummary(ctx context.Context, s *types.WeeklySummary) (Result, error)

	// DeleteSummary removes a summary. Missing ids succeed.
	DeleteSummary(ctx context.Context, id string) (Result, error)
}

// client implements the Client interface.
type client struct {
	store  remote.Store
	user   UserSource
	local  *state.Store
	logger *log.Logger
}

// New creates a Client.
//
// local is the mirror used to number new exposures and to find the stored
// reference number of an edited one; it may be nil, in which case the
// remote store is read instead.
//
// If logger is nil, a default logger writing to stderr is used.
func New(store remote.Store, user UserSource, local *state.Store, logger *log.Logger) Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &client{
		store:  store,
		user:   user,
		local:  local,
		logger: logger,
	}
}

func (c *client) uid() (string, error) {
	if c.user == nil {
		return "", ErrAuthenticationRequired
	}
	uid := c.user.UserID()
	if uid == "" {
		return "", ErrAuthenticationRequired
	}
	return uid, nil
}

// write marshals v and writes it at path, wrapping failures.
func (c *client) write(ctx context.Context, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := c.store.Write(ctx, path, data); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRemoteWrite, path, err)
	}
	return nil
}

// SaveGoals implements Client.SaveGoals.
func (c *client) SaveGoals(ctx context.Context, goals types.Goals) (Result, error) {
	uid, err := c.uid()
	if err != nil {
		return Result{Op: OpSaveGoals}, err
	}

	path := remote.GoalsPath(uid)
	res := Result{Op: OpSaveGoals, Path: path}
	if err := c.write(ctx, path, goals); err != nil {
		c.logger.Printf("Error saving goals: %v", err)
		return res, err
	}

	c.logger.Printf("Saved goals (%d set)", goals.Count())
	return res, nil
}

// SaveExposure implements Client.SaveExposure.
func (c *client) SaveExposure(ctx context.Context, e *types.Exposure) (Result, error) {
	res := Result{Op: OpSaveExposure}
	uid, err := c.uid()
	if err != nil {
		return res, err
	}
	if err := e.Validate(); err != nil {
		return res, err
	}

	if e.ID != "" {
		return c.overwriteExposure(ctx, uid, e)
	}

	if e.ReferenceNumber == "" {
		existing, err := c.exposures(ctx, uid)
		if err != nil {
			return res, err
		}
		ref, err := types.NextReferenceNumber(e.Date, existing)
		if err != nil {
			return res, err
		}
		e.ReferenceNumber = ref
	}

	key, err := c.store.Append(ctx, remote.ExposuresPath(uid))
	if err != nil {
		err = fmt.Errorf("%w: allocate exposure key: %w", ErrRemoteWrite, err)
		c.logger.Printf("Error saving exposure: %v", err)
		return res, err
	}
	e.ID = key

	res.ID, res.Path, res.Created = key, remote.ExposurePath(uid, key), true
	if err := c.write(ctx, res.Path, e); err != nil {
		c.logger.Printf("Error saving exposure: %v", err)
		return res, err
	}

	c.logger.Printf("Created exposure %s (%s)", key, e.ReferenceNumber)
	return res, nil
}

func (c *client) overwriteExposure(ctx context.Context, uid string, e *types.Exposure) (Result, error) {
	res := Result{Op: OpSaveExposure, ID: e.ID, Path: remote.ExposurePath(uid, e.ID)}

	prev, found, err := c.storedExposure(ctx, uid, e.ID)
	if err != nil {
		return res, err
	}
	if found && prev.ReferenceNumber != "" {
		e.ReferenceNumber = prev.ReferenceNumber
	}

	if err := c.write(ctx, res.Path, e); err != nil {
		c.logger.Printf("Error saving exposure: %v", err)
		return res, err
	}

	c.logger.Printf("Updated exposure %s (%s)", e.ID, e.ReferenceNumber)
	return res, nil
}

// storedExposure finds the stored version of an exposure, preferring the
// local mirror.
func (c *client) storedExposure(ctx context.Context, uid, id string) (types.Exposure, bool, error) {
	if c.local != nil && c.local.Loaded(state.KindExposures) {
		e, ok := c.local.Exposure(id)
		return e, ok, nil
	}

	raw, err := c.store.Read(ctx, remote.ExposurePath(uid, id))
	if err != nil {
		return types.Exposure{}, false, fmt.Errorf("failed to read exposure %s: %w", id, err)
	}
	if raw == nil {
		return types.Exposure{}, false, nil
	}
	var e types.Exposure
	if err := json.Unmarshal(raw, &e); err != nil {
		return types.Exposure{}, false, fmt.Errorf("failed to decode exposure %s: %w", id, err)
	}
	return e, true, nil
}

// exposures returns the user's exposures for reference numbering.
func (c *client) exposures(ctx context.Context, uid string) ([]types.Exposure, error) {
	if c.local != nil && c.local.Loaded(state.KindExposures) {
		return c.local.Exposures(), nil
	}
	raw, err := c.store.Read(ctx, remote.ExposuresPath(uid))
	if err != nil {
		return nil, fmt.Errorf("failed to read exposures: %w", err)
	}
	return DecodeExposures(raw, c.logger)
}

// DeleteExposure implements Client.DeleteExposure.
func (c *client) DeleteExposure(ctx context.Context, id string) (Result, error) {
	return c.delete(ctx, OpDeleteExposure, id, remote.ExposurePath)
}

// SaveSummary implements Client.SaveSummary.
func (c *client) SaveSummary(ctx context.Context, s *types.WeeklySummary) (Result, error) {
	res := Result{Op: OpSaveSummary}
	uid, err := c.uid()
	if err != nil {
		return res, err
	}
	if err := s.Validate(); err != nil {
		return res, err
	}

	key, err := c.store.Append(ctx, remote.SummariesPath(uid))
	if err != nil {
		err = fmt.Errorf("%w: allocate summary key: %w", ErrRemoteWrite, err)
		c.logger.Printf("Error saving summary: %v", err)
		return res, err
	}
	s.ID = key

	res.ID, res.Path, res.Created = key, remote.SummaryPath(uid, key), true
	if err := c.write(ctx, res.Path, s); err != nil {
		c.logger.Printf("Error saving summary: %v", err)
		return res, err
	}

	c.logger.Printf("Created summary %s (week of %s)", key, s.WeekOf)
	return res, nil
}

// DeleteSummary implements Client.DeleteSummary.
func (c *client) DeleteSummary(ctx context.Context, id string) (Result, error) {
	return c.delete(ctx, OpDeleteSummary, id, remote.SummaryPath)
}

func (c *client) delete(ctx context.Context, op Op, id string, pathFn func(uid, id string) string) (Result, error) {
	res := Result{Op: op, ID: id}
	uid, err := c.uid()
	if err != nil {
		return res, err
	}
	if id == "" {
		return res, fmt.Errorf("%w: id is required", types.ErrInvalid)
	}

	res.Path = pathFn(uid, id)
	if err := c.store.Delete(ctx, res.Path); err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrRemoteWrite, res.Path, err)
		c.logger.Printf("Error deleting %s: %v", id, err)
		return res, err
	}

	c.logger.Printf("Deleted %s", res.Path)
	return res, nil
}
