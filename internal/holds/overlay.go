package holds

import (
	"context"

	"github.com/wolfman30/clinic-booking-core/internal/slots"
	"github.com/wolfman30/clinic-booking-core/pkg/logging"
)

// HeldSlotChecker reports active holds for slot ids.
type HeldSlotChecker interface {
	HeldSlots(ctx context.Context, slotIDs []string) (map[string]bool, error)
}

// OverlaySource marks available slots that carry a sandbox hold as locked so
// windows reflect holds the upstream scheduler has not seen yet.
type OverlaySource struct {
	next   slots.Source
	held   HeldSlotChecker
	logger *logging.Logger
}

// NewOverlaySource decorates next with hold state from held.
func NewOverlaySource(next slots.Source, held HeldSlotChecker, logger *logging.Logger) *OverlaySource {
	if logger == nil {
		logger = logging.Default()
	}
	return &OverlaySource{next: next, held: held, logger: logger}
}

// Slots implements slots.Source. Overlay failures are logged and the upstream
// snapshot is returned unchanged; the hold request stays the final arbiter.
func (o *OverlaySource) Slots(ctx context.Context, q slots.Query) ([]slots.AtomicSlot, error) {
	base, err := o.next.Slots(ctx, q)
	if err != nil || len(base) == 0 || o.held == nil {
		return base, err
	}
	ids := make([]string, 0, len(base))
	for _, s := range base {
		ids = append(ids, s.ID)
	}
	held, err := o.held.HeldSlots(ctx, ids)
	if err != nil {
		o.logger.Warn("hold overlay unavailable", "error", err, "resource_id", q.ResourceID)
		return base, nil
	}
	out := make([]slots.AtomicSlot, len(base))
	for i, s := range base {
		if held[s.ID] && s.Status == slots.StatusAvailable {
			s.Status = slots.StatusLocked
		}
		out[i] = s
	}
	return out, nil
}
