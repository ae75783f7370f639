package changelog

import "context"

// Tracked binds an owner entity to the state captured when it was loaded.
// It is not safe for concurrent use.
type Tracked struct {
	recorder *Recorder
	owner    Entity
	state    *State
}

// Track wraps an entity that was not loaded from storage, typically one about to be inserted.
func (r *Recorder) Track(owner Entity) *Tracked {
	return &Tracked{recorder: r, owner: owner}
}

// Load wraps an entity that was just fetched from storage and captures its state.
func (r *Recorder) Load(ctx context.Context, owner Entity) (*Tracked, error) {
	t := &Tracked{recorder: r, owner: owner}
	err := t.Reload(ctx)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracked) Owner() Entity {
	return t.owner
}

// State returns the state captured at load time, nil when the owner was never loaded.
func (t *Tracked) State() *State {
	return t.state
}

// Reload captures the owner state again, dropping the previous one.
func (t *Tracked) Reload(ctx context.Context) error {
	state, err := t.recorder.AfterFind(ctx, t.owner)
	if err != nil {
		return err
	}
	t.state = state
	return nil
}

func (t *Tracked) Inserted(ctx context.Context) error {
	return t.recorder.AfterInsert(ctx, t.owner)
}

func (t *Tracked) Updated(ctx context.Context) error {
	return t.recorder.AfterUpdate(ctx, t.owner, t.state)
}

func (t *Tracked) Deleted(ctx context.Context) error {
	return t.recorder.AfterDelete(ctx, t.owner, t.state)
}
