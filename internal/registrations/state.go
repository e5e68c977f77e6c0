package registrations

import "github.com/aura-conference/backend/internal/models"

var transitions = map[models.RegistrationStatus][]models.RegistrationStatus{
	models.StatusPendingPayment:    {models.StatusPaid, models.StatusWaitingForDeposit, models.StatusCanceled},
	models.StatusWaitingForDeposit: {models.StatusPaid, models.StatusCanceled, models.StatusExpired},
	models.StatusPaid:              {models.StatusCanceled, models.StatusRefunded, models.StatusRefundRequested},
	models.StatusRefundRequested:   {models.StatusRefunded},
}

// CanTransition reports whether from → to is an allowed lifecycle step.
func CanTransition(from, to models.RegistrationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may move to `to`; it is the guard set of the
// conditional update.
func sourcesOf(to models.RegistrationStatus) []models.RegistrationStatus {
	var out []models.RegistrationStatus
	for from, targets := range transitions {
		for _, t := range targets {
			if t == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// settled registrations have been paid at some point; a Confirm snapshot must not
// overwrite them.
func settled(s models.RegistrationStatus) bool {
	return s == models.StatusPaid || s == models.StatusRefundRequested || s == models.StatusRefunded
}
