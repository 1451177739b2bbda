package stripe

import (
	"context"
	"errors"

	"github.com/mihaimyh/payrecon/pkg/billing"
)

// ownerResolution is what the user/plan resolver learned about an invoice.
// Zero ids mean unresolved.
type ownerResolution struct {
	CustomerID string
	Status     string
	UserID     int64
	PlanID     int64
	UserSource string
	PlanSource string
}

// resolveOwner derives the local user and plan behind a subscription invoice:
// live subscription metadata first, then the invoice line metadata, and for
// the user finally the customer's latest transaction row.
func (p *Provider) resolveOwner(ctx context.Context, inv *invoiceView) ownerResolution {
	res := ownerResolution{CustomerID: inv.CustomerID}

	sub, err := p.api.RetrieveSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		p.logger.Warn("subscription lookup failed; continuing with invoice data",
			billing.Err(err), billing.F("subscription", inv.SubscriptionID))
	} else {
		res.Status = string(sub.Status)
		if res.CustomerID == "" && sub.Customer != nil {
			res.CustomerID = sub.Customer.ID
		}
		if id := parseID(sub.Metadata[metadataUserID]); id > 0 {
			res.UserID, res.UserSource = id, "subscription.metadata"
		}
		if id := parseID(sub.Metadata[metadataPlanID]); id > 0 {
			res.PlanID, res.PlanSource = id, "subscription.metadata"
		}
	}

	if res.UserID == 0 {
		if id := parseID(inv.LineMetadata[metadataUserID]); id > 0 {
			res.UserID, res.UserSource = id, "line.metadata"
		}
	}
	if res.PlanID == 0 {
		if id := parseID(inv.LineMetadata[metadataPlanID]); id > 0 {
			res.PlanID, res.PlanSource = id, "line.metadata"
		}
	}

	if res.UserID == 0 && res.CustomerID != "" {
		if id := p.userFromTransactions(ctx, res.CustomerID); id > 0 {
			res.UserID, res.UserSource = id, "transaction"
		}
	}

	return res
}

// userFromTransactions returns the user id on the customer's latest
// transaction, or 0.
func (p *Provider) userFromTransactions(ctx context.Context, customerID string) int64 {
	tx, err := p.store.LatestTransactionByCustomer(ctx, customerID)
	if err != nil {
		if !errors.Is(err, billing.ErrTransactionNotFound) {
			p.logger.Warn("transaction lookup failed", billing.Err(err), billing.F("customer", customerID))
		}
		return 0
	}
	if tx.UserID == nil {
		return 0
	}
	return *tx.UserID
}

// userFromMetadata prefers an explicit user_id on the event and falls back
// to the customer's latest transaction.
func (p *Provider) userFromMetadata(ctx context.Context, metadata map[string]string, customerID string) int64 {
	if id := parseID(metadata[metadataUserID]); id > 0 {
		return id
	}
	if customerID == "" {
		return 0
	}
	return p.userFromTransactions(ctx, customerID)
}
