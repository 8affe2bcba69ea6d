package rpc

import (
	"slices"

	"github.com/nimasrn/anchor-platform/internal/model"
)

const (
	CustomerAccepted   = "accepted"
	CustomerProcessing = "processing"
	CustomerNeedsInfo  = "needs_info"
	CustomerRejected   = "rejected"
)

func applyCustomerInfoUpdate(c *Change, p *CustomerInfoUpdateParams) (model.Status, error) {
	c.Txn.RequiredCustomerInfoMessage = p.RequiredCustomerInfoMessage
	c.Txn.RequiredCustomerInfoUpdates = slices.Clone(p.RequiredCustomerInfoUpdates)
	return "", nil
}

// applyCustomerInfoUpdated resumes the flow according to the customer's KYC status.
func applyCustomerInfoUpdated(c *Change, p *CustomerInfoUpdatedParams) (model.Status, error) {
	switch p.CustomerStatus {
	case CustomerNeedsInfo:
		return model.StatusPendingCustomerInfoUpdate, nil
	case CustomerRejected:
		if p.Message == "" {
			p.Message = "customer rejected"
		}
		return model.StatusError, nil
	}
	c.Txn.RequiredCustomerInfoMessage = ""
	c.Txn.RequiredCustomerInfoUpdates = nil
	return c.Targets[0], nil
}
