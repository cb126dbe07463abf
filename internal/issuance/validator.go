package issuance

import (
	"fmt"

	"github.com/pitabwire/cylinder-portal/model"
)

// IsValid reports whether the form describes an acceptable exchange for the
// request. Departments must hand back one empty cylinder for every full one
// issued, and must take at least one. Vendors only need to take at least
// one full cylinder.
func IsValid(req model.CylinderRequest, form model.IssuanceForm) bool {
	full, empty := form.FullCylindersIssued, form.EmptyCylindersReceived
	if req.IsVendor() {
		return full > 0
	}
	return full == empty && full > 0
}

// Verdict returns the exchange validity together with the banner text shown
// next to the issue action.
func Verdict(req model.CylinderRequest, form model.IssuanceForm) model.ExchangeVerdict {
	full, empty := form.FullCylindersIssued, form.EmptyCylindersReceived
	v := model.ExchangeVerdict{Valid: IsValid(req, form)}

	switch {
	case full <= 0:
		v.Message = "Enter the number of full cylinders to issue"
	case req.IsVendor():
		v.Message = fmt.Sprintf("Vendor issue: %d full cylinder(s), no exchange required", full)
	case v.Valid:
		v.Message = fmt.Sprintf("Exchange balanced: %d full for %d empty", full, empty)
	default:
		v.Message = fmt.Sprintf("Full cylinders issued (%d) must equal empty cylinders received (%d)", full, empty)
	}
	return v
}
