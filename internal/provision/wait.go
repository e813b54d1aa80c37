package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docpilot/docpilot/internal/target"
)

// WaitForAttributes polls each collection in order until every attribute in
// pending[collection] reports StatusAvailable. A failed, stuck or deleting
// attribute is fatal, as is exceeding the readiness timeout.
func (p *Provisioner) WaitForAttributes(ctx context.Context, order []string, pending map[string][]string) error {
	remaining := make(map[string]map[string]bool)
	total := 0
	for _, id := range order {
		keys := pending[id]
		if len(keys) == 0 {
			continue
		}
		set := make(map[string]bool, len(keys))
		for _, k := range keys {
			set[k] = true
		}
		remaining[id] = set
		total += len(keys)
	}
	if total == 0 {
		return nil
	}

	p.reporter.StepStarted(StepReadiness, fmt.Sprintf("%d attributes", total))
	start := time.Now()
	deadline := start.Add(p.waitTimeout)
	dbID := p.decl.Database.ID

	for {
		for _, id := range order {
			set := remaining[id]
			if len(set) == 0 {
				continue
			}
			attrs, err := p.op.ListAttributes(ctx, dbID, id)
			if err != nil {
				return &StepError{Step: StepReadiness, Subject: id, Err: err}
			}
			for _, a := range attrs {
				if !set[a.Key] {
					continue
				}
				switch a.Status {
				case target.StatusAvailable, "":
					delete(set, a.Key)
				case target.StatusFailed, target.StatusStuck, target.StatusDeleting:
					msg := a.Status
					if a.Error != "" {
						msg += ": " + a.Error
					}
					return &StepError{Step: StepReadiness, Subject: id + "." + a.Key, Err: fmt.Errorf("attribute is %s", msg)}
				}
			}
		}

		left := outstanding(order, remaining)
		if len(left) == 0 {
			p.logger.Debug("attributes available", "count", total, "elapsed", time.Since(start))
			return nil
		}
		if time.Now().After(deadline) {
			return &StepError{Step: StepReadiness, Err: fmt.Errorf("timed out after %s waiting for %s", p.waitTimeout, strings.Join(left, ", "))}
		}
		p.reporter.Waiting(left, time.Since(start))

		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &StepError{Step: StepReadiness, Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func outstanding(order []string, remaining map[string]map[string]bool) []string {
	var out []string
	for _, id := range order {
		keys := make([]string, 0, len(remaining[id]))
		for k := range remaining[id] {
			keys = append(keys, id+"."+k)
		}
		sort.Strings(keys)
		out = append(out, keys...)
	}
	return out
}
