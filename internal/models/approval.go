// internal/models/approval.go
package models

import (
	"encoding/json"
	"strconv"
	"time"
)

const defaultPaymentFrequency = "weekly"

// ApprovalEntry is one lender offer attached to a decision, in the canonical
// multi-approval shape. Monetary fields stay decimal strings so display never
// picks up float rounding. Exactly one entry in a non-empty list carries
// IsPrimary after reconciliation.
type ApprovalEntry struct {
	ID               string    `json:"id"`
	Lender           string    `json:"lender"`
	AdvanceAmount    string    `json:"advanceAmount"`
	Term             string    `json:"term"`
	PaymentFrequency string    `json:"paymentFrequency"`
	FactorRate       string    `json:"factorRate"`
	MaxUpsell        string    `json:"maxUpsell"`
	TotalPayback     string    `json:"totalPayback"`
	NetAfterFees     string    `json:"netAfterFees"`
	Notes            string    `json:"notes"`
	ApprovalDate     string    `json:"approvalDate"`
	IsPrimary        bool      `json:"isPrimary"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ReconcileApprovals normalizes the stored approval data into the canonical
// ordered list. Records written before the multi-approval feature carry their
// primary offer in the decision's top-level fields and, sometimes, extra
// offers as loose objects in the stored list; both get migrated here. Lists
// already in canonical shape pass through untouched.
//
// The function is total: malformed blobs and missing fields degrade to empty
// strings, never to an error. Repeated calls over the same raw input yield
// the same entries except for the synthesized CreatedAt of migrated extras,
// which is "now" until the canonical list is persisted back.
func (d *UnderwritingDecision) ReconcileApprovals() []ApprovalEntry {
	raw := parseRawList(d.AdditionalApprovals)

	// Canonical detection: a non-empty list whose first element defines
	// isPrimary was written by this service already.
	if len(raw) > 0 {
		if _, defined := raw[0]["isPrimary"]; defined {
			return decodeCanonical(d.AdditionalApprovals, raw)
		}
	}

	var entries []ApprovalEntry

	if d.AdvanceAmount != "" || d.Lender != "" {
		primary := ApprovalEntry{
			ID:               "primary-" + d.ID.String(),
			Lender:           d.Lender,
			AdvanceAmount:    d.AdvanceAmount,
			Term:             d.Term,
			PaymentFrequency: d.PaymentFrequency,
			FactorRate:       d.FactorRate,
			MaxUpsell:        d.MaxUpsell,
			TotalPayback:     d.TotalPayback,
			NetAfterFees:     d.NetAfterFees,
			Notes:            d.Notes,
			IsPrimary:        true,
			CreatedAt:        d.CreatedAt,
		}
		if d.ApprovalDate != nil {
			primary.ApprovalDate = d.ApprovalDate.Format("2006-01-02")
		}
		if primary.CreatedAt.IsZero() {
			primary.CreatedAt = time.Now()
		}
		entries = append(entries, primary)
	}

	now := time.Now()
	for i, obj := range raw {
		amount := stringField(obj, "amount")
		if amount == "" {
			amount = stringField(obj, "advanceAmount")
		}
		frequency := stringField(obj, "paymentFrequency")
		if frequency == "" {
			frequency = defaultPaymentFrequency
		}
		entries = append(entries, ApprovalEntry{
			ID:               "migrated-" + strconv.Itoa(i),
			Lender:           stringField(obj, "lender"),
			AdvanceAmount:    amount,
			Term:             stringField(obj, "term"),
			PaymentFrequency: frequency,
			FactorRate:       stringField(obj, "factorRate"),
			MaxUpsell:        stringField(obj, "maxUpsell"),
			TotalPayback:     stringField(obj, "totalPayback"),
			NetAfterFees:     stringField(obj, "netAfterFees"),
			Notes:            stringField(obj, "notes"),
			ApprovalDate:     stringField(obj, "approvalDate"),
			IsPrimary:        false,
			CreatedAt:        now,
		})
	}

	return entries
}

// PrimaryApproval returns the reconciled primary entry, or nil when the
// decision has no approvals yet.
func (d *UnderwritingDecision) PrimaryApproval() *ApprovalEntry {
	for _, entry := range d.ReconcileApprovals() {
		if entry.IsPrimary {
			e := entry
			return &e
		}
	}
	return nil
}

func parseRawList(raw RawApprovals) []map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var list []map[string]interface{}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	return list
}

func decodeCanonical(raw RawApprovals, parsed []map[string]interface{}) []ApprovalEntry {
	var entries []ApprovalEntry
	if err := json.Unmarshal(raw, &entries); err == nil && len(entries) == len(parsed) {
		return entries
	}

	// Strict decode failed on at least one element; extract field by field so
	// one malformed entry never drops the rest.
	entries = make([]ApprovalEntry, 0, len(parsed))
	for _, obj := range parsed {
		entry := ApprovalEntry{
			ID:               stringField(obj, "id"),
			Lender:           stringField(obj, "lender"),
			AdvanceAmount:    stringField(obj, "advanceAmount"),
			Term:             stringField(obj, "term"),
			PaymentFrequency: stringField(obj, "paymentFrequency"),
			FactorRate:       stringField(obj, "factorRate"),
			MaxUpsell:        stringField(obj, "maxUpsell"),
			TotalPayback:     stringField(obj, "totalPayback"),
			NetAfterFees:     stringField(obj, "netAfterFees"),
			Notes:            stringField(obj, "notes"),
			ApprovalDate:     stringField(obj, "approvalDate"),
		}
		if b, ok := obj["isPrimary"].(bool); ok {
			entry.IsPrimary = b
		}
		if s, ok := obj["createdAt"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				entry.CreatedAt = t
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func stringField(obj map[string]interface{}, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		// Legacy rows occasionally stored amounts as JSON numbers.
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
