package integrity

import (
	"fmt"
	"strings"

	"github.com/aura-conference/backend/internal/models"
)

// Rule names.
const (
	RuleNegativeAmount       = "NEGATIVE_AMOUNT"
	RulePaidWithoutAmount    = "PAID_WITHOUT_AMOUNT"
	RuleInvalidEmail         = "INVALID_EMAIL"
	RuleUnknownPaymentStatus = "UNKNOWN_PAYMENT_STATUS"
	RuleBadgeWithoutCheckIn  = "BADGE_WITHOUT_CHECKIN"
	RuleStatusRegression     = "STATUS_REGRESSION"

	RuleUsedWithoutOwner   = "USED_WITHOUT_OWNER"
	RuleEmptyCode          = "EMPTY_CODE"
	RuleUsedFlagRegression = "USED_FLAG_REGRESSION"

	// Raised by the reconciler rather than by a document rule.
	RuleInvalidTransition    = "INVALID_TRANSITION"
	RuleMemberCodeLockFailed = "MEMBER_CODE_LOCK_FAILED"
	RuleWebhookStateConflict = "WEBHOOK_STATE_CONFLICT"
)

// Violation is one failed rule.
type Violation struct {
	Rule        string
	Severity    models.AlertSeverity
	Description string
}

// settled statuses may never fall back to an unpaid state.
var settled = map[models.RegistrationStatus]bool{
	models.StatusPaid:            true,
	models.StatusRefundRequested: true,
	models.StatusRefunded:        true,
}

// CheckRegistration runs the registration rules against the written state. before is
// nil for inserts.
func CheckRegistration(before, after *models.Registration) []Violation {
	var out []Violation
	if after.Amount < 0 {
		out = append(out, Violation{RuleNegativeAmount, models.SeverityCritical,
			fmt.Sprintf("amount is %d", after.Amount)})
	}
	if after.PaymentStatus == models.StatusPaid && after.Amount <= 0 {
		out = append(out, Violation{RulePaidWithoutAmount, models.SeverityCritical,
			fmt.Sprintf("payment status PAID with amount %d", after.Amount)})
	}
	if !strings.Contains(after.Email, "@") {
		out = append(out, Violation{RuleInvalidEmail, models.SeverityMedium,
			fmt.Sprintf("email %q has no @", after.Email)})
	}
	if !after.PaymentStatus.Known() || !after.Status.Known() {
		out = append(out, Violation{RuleUnknownPaymentStatus, models.SeverityHigh,
			fmt.Sprintf("status %q / payment status %q", after.Status, after.PaymentStatus)})
	}
	if after.BadgeIssued && !after.IsCheckedIn {
		out = append(out, Violation{RuleBadgeWithoutCheckIn, models.SeverityMedium,
			"badge issued but attendee not checked in"})
	}
	if before != nil && settled[before.Status] &&
		(after.Status == models.StatusPendingPayment || after.Status == models.StatusWaitingForDeposit) {
		out = append(out, Violation{RuleStatusRegression, models.SeverityCritical,
			fmt.Sprintf("status regressed %s -> %s", before.Status, after.Status)})
	}
	return out
}

// CheckMemberCode runs the member-code rules. A used→unused flip is legitimate only
// when the same write stamps a new reset_at.
func CheckMemberCode(before, after *models.MemberCode) []Violation {
	var out []Violation
	if after.Used && (after.UsedBy == nil || *after.UsedBy == "" || after.UsedAt == nil) {
		out = append(out, Violation{RuleUsedWithoutOwner, models.SeverityHigh,
			"code marked used without used_by/used_at"})
	}
	if strings.TrimSpace(after.Code) == "" {
		out = append(out, Violation{RuleEmptyCode, models.SeverityHigh, "code is empty"})
	}
	if before != nil && before.Used && !after.Used && !resetStamped(before, after) {
		out = append(out, Violation{RuleUsedFlagRegression, models.SeverityCritical,
			"used flag cleared outside an administrative reset"})
	}
	return out
}

func resetStamped(before, after *models.MemberCode) bool {
	if after.ResetAt == nil {
		return false
	}
	return before.ResetAt == nil || !before.ResetAt.Equal(*after.ResetAt)
}
