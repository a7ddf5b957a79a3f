// Package quota enforces an organization's billing plan limits on uploads.
package quota

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/testforge/backend/internal/models"
)

// Denial codes, checked in this order.
const (
	CodeInactive         = "billing_inactive"
	CodeFileTooLarge     = "file_too_large"
	CodeStorageExceeded  = "storage_limit_exceeded"
	CodeUploadsExhausted = "upload_limit_exceeded"
)

// Decision is the outcome of a quota check. A denial is a normal result, not an error.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Required  int64  `json:"required,omitempty"`
	Available int64  `json:"available,omitempty"`
}

// Allow is the decision for an accepted upload.
var Allow = Decision{Allowed: true}

// CheckUpload decides whether an upload of size bytes fits the organization's plan.
// Unlike storage accounts, a zero plan limit means nothing is allowed.
func CheckUpload(billing *models.OrganizationBilling, size int64) Decision {
	if billing.Status != models.BillingStatusActive {
		return Decision{
			Code:   CodeInactive,
			Reason: fmt.Sprintf("organization billing is %s", billing.Status),
		}
	}

	if size > billing.MaxFileSize {
		return Decision{
			Code: CodeFileTooLarge,
			Reason: fmt.Sprintf("file size %s exceeds the %s limit of the %s plan",
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(billing.MaxFileSize)), billing.Plan),
			Required:  size,
			Available: billing.MaxFileSize,
		}
	}

	if left := billing.RemainingStorage(); left < size {
		return Decision{
			Code: CodeStorageExceeded,
			Reason: fmt.Sprintf("storage limit exceeded: %s required, %s available of %s",
				humanize.IBytes(uint64(size)), humanize.IBytes(uint64(max(left, 0))), humanize.IBytes(uint64(billing.StorageLimit))),
			Required:  size,
			Available: max(left, 0),
		}
	}

	if left := billing.RemainingUploads(); left <= 0 {
		return Decision{
			Code: CodeUploadsExhausted,
			Reason: fmt.Sprintf("monthly upload limit of %s reached",
				humanize.Comma(billing.UploadsLimit)),
			Required:  1,
			Available: 0,
		}
	}

	return Allow
}
