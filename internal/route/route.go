// Package route matches leads to buyers. The policy is deliberately
// simple: active buyers are scanned in registration order and the first
// whose coverage accepts the lead wins. A wildcard buyer registered before
// a ZIP-specific one takes the lead even for that ZIP.
package route

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/store"
)

// Router selects the buyer for a lead.
type Router struct {
	store store.Store
}

// New creates a Router.
func New(st store.Store) *Router {
	return &Router{store: st}
}

// Match returns the first eligible active buyer for the lead, or nil when
// no buyer covers it. A nil match is a normal business outcome, not an
// error.
func (r *Router) Match(ctx context.Context, lead *model.Lead) (*model.Buyer, error) {
	buyers, err := r.store.ListBuyers(ctx, store.BuyerFilter{ActiveOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "route: list buyers")
	}

	for i := range buyers {
		if buyers[i].Covers(lead.Zip, lead.State) {
			return &buyers[i], nil
		}
	}
	return nil, nil
}
