package batch

import "context"

// CancelToken is checked by the worker at each row boundary
type CancelToken interface {
	Canceled(ctx context.Context) (bool, error)
}

// storeToken re-reads the job's cancel flag from the store on every check
type storeToken struct {
	store JobStore
	id    string
}

// NewCancelToken returns a token backed by the job's persisted cancel flag
func NewCancelToken(store JobStore, id string) CancelToken {
	return &storeToken{store: store, id: id}
}

func (t *storeToken) Canceled(ctx context.Context) (bool, error) {
	return t.store.CancelRequested(ctx, t.id)
}
