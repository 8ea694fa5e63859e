package dnsdisc

import "context"

// TXTRecord is a single name -> TXT-chunks pair as seen by a DNS provider.
type TXTRecord struct {
	Name   string
	Values []string
	TTL    int
}

// Provider abstracts the DNS API surface spec.md §6 calls out: list, upsert,
// delete, and await propagation. Route53-like and Cloudflare-like adapters
// implement this (see dnsprovider subpackage).
type Provider interface {
	ListTXT(ctx context.Context, domain string) ([]TXTRecord, error)
	UpsertTXT(ctx context.Context, name string, values []string, ttl int) error
	DeleteTXT(ctx context.Context, name string) error
	AwaitPropagation(ctx context.Context, requestID string) error
}

// PlanOp is one step of a publish plan.
type PlanOp struct {
	Kind   PlanKind
	Name   string
	Values []string
	TTL    int
}

type PlanKind int

const (
	OpCreate PlanKind = iota
	OpUpsert
	OpDelete
)

// Plan is the set of changes needed to move the server-side TXT set to the
// newly computed tree, already ordered creates -> upserts -> deletes
// (spec.md §4.3 step 3).
type Plan []PlanOp

// BuildPlan diffs current against desired (both name -> values) and returns
// the ordered plan, or ok=false if the plan would be skipped under
// changeThreshold (spec.md §4.3 step 3, scenarios S4/S5).
func BuildPlan(current, desired map[string][]string, changeThreshold float64) (plan Plan, ok bool) {
	var creates, upserts, deletes []PlanOp
	for name, vals := range desired {
		if _, exists := current[name]; !exists {
			creates = append(creates, PlanOp{Kind: OpCreate, Name: name, Values: vals})
		} else if !sameValues(current[name], vals) {
			upserts = append(upserts, PlanOp{Kind: OpUpsert, Name: name, Values: vals})
		}
	}
	for name := range current {
		if _, exists := desired[name]; !exists {
			deletes = append(deletes, PlanOp{Kind: OpDelete, Name: name})
		}
	}

	changed := len(creates) + len(deletes)
	base := len(current)
	if base == 0 {
		base = 1
	}
	if float64(changed)/float64(base) < changeThreshold {
		return nil, false
	}

	plan = append(plan, creates...)
	plan = append(plan, upserts...)
	plan = append(plan, deletes...)
	return plan, true
}

func sameValues(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Batch splits a plan into provider-sized batches, respecting a maximum
// number of ops per request (spec.md §4.3 step 4).
func Batch(plan Plan, maxOpsPerBatch int) []Plan {
	if maxOpsPerBatch <= 0 {
		maxOpsPerBatch = len(plan)
		if maxOpsPerBatch == 0 {
			return nil
		}
	}
	var batches []Plan
	for i := 0; i < len(plan); i += maxOpsPerBatch {
		end := i + maxOpsPerBatch
		if end > len(plan) {
			end = len(plan)
		}
		batches = append(batches, plan[i:end])
	}
	return batches
}
