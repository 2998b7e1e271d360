// Package dedupe suppresses repeat submissions. A lead is a duplicate when
// the same phone and zip produced a qualifying lead within a trailing
// window; pending or failed leads never count, so a visitor whose earlier
// attempt went nowhere can legitimately resubmit.
package dedupe

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgate/internal/model"
	"github.com/sells-group/leadgate/internal/store"
)

// DefaultWindow is the trailing period in which a repeat submission counts
// as a duplicate.
const DefaultWindow = 30 * 24 * time.Hour

// maxChainDepth bounds the root walk; chains are flattened on write, so
// anything deeper than a few links indicates corrupt data.
const maxChainDepth = 10

// qualifyingStatuses are lead states that represent a real, reachable
// contact. Only these can anchor a duplicate.
var qualifyingStatuses = []model.LeadStatus{
	model.LeadStatusVerified,
	model.LeadStatusDelivered,
	model.LeadStatusQualifiedCall,
}

// Detector finds prior qualifying leads for a submission.
type Detector struct {
	store  store.Store
	window time.Duration
	now    func() time.Time
}

// New creates a Detector. A non-positive window selects DefaultWindow.
func New(st store.Store, window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{store: st, window: window, now: time.Now}
}

// SetNow overrides the clock. Tests only.
func (d *Detector) SetNow(now func() time.Time) { d.now = now }

// FindDuplicate returns a reference to the canonical prior lead for
// phone+zip, or nil when the submission is fresh. The returned lead is
// never itself a duplicate: if the matched row points at an original, the
// chain is resolved to its root.
func (d *Detector) FindDuplicate(ctx context.Context, phone, zip string) (*model.LeadRef, error) {
	match, err := d.store.FindQualifiedLead(ctx, store.QualifiedLeadQuery{
		Phone:    phone,
		Zip:      zip,
		Since:    d.now().UTC().Add(-d.window),
		Statuses: qualifyingStatuses,
	})
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: find qualified lead")
	}
	if match == nil {
		return nil, nil
	}

	root, err := d.resolveRoot(ctx, match)
	if err != nil {
		return nil, err
	}
	return &model.LeadRef{ID: root.ID, Status: root.Status, CreatedAt: root.CreatedAt}, nil
}

// resolveRoot walks duplicate_of references until it reaches a
// non-duplicate lead. This keeps the invariant intact even if a matched
// lead was later reclassified as a duplicate of something older.
func (d *Detector) resolveRoot(ctx context.Context, lead *model.Lead) (*model.Lead, error) {
	current := lead
	for depth := 0; depth < maxChainDepth; depth++ {
		if current.Status != model.LeadStatusDuplicate || current.DuplicateOfLeadID == "" {
			return current, nil
		}
		next, err := d.store.GetLead(ctx, current.DuplicateOfLeadID)
		if err != nil {
			return nil, eris.Wrapf(err, "dedupe: resolve duplicate chain from %s", lead.ID)
		}
		current = next
	}
	return nil, eris.Errorf("dedupe: duplicate chain too deep starting at %s", lead.ID)
}
