// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthTokenExpired       = "auth.token_expired"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthUserNotFound       = "auth.user_not_found"
	KeyAuthUserExists         = "auth.user_exists"
	KeyAuthLoginSuccess       = "auth.login_success"
	KeyAdminAccessDenied      = "admin.access_denied"

	// Applications
	KeyApplicationReceived  = "application.received"
	KeyApplicationCompleted = "application.completed"
	KeyApplicationNotFound  = "application.not_found"
	KeyApplicationUpdated   = "application.updated"

	// Underwriting decisions
	KeyDecisionNotFound    = "decision.not_found"
	KeyDecisionConflict    = "decision.conflict"
	KeyDecisionReset       = "decision.reset"
	KeyDecisionFunded      = "decision.funded"
	KeyDecisionDeclined    = "decision.declined"
	KeyDecisionUnqualified = "decision.unqualified"
	KeyApprovalRecorded    = "approval.recorded"
	KeyApprovalDeleted     = "approval.deleted"
	KeyApprovalNotFound    = "approval.not_found"
	KeyApprovalPrimarySet  = "approval.primary_set"
	KeyLetterNotFound      = "letter.not_found"

	// Banking
	KeyConnectionRecorded = "connection.recorded"
	KeyStatementUploaded  = "statement.uploaded"
	KeyStatementReviewed  = "statement.reviewed"
	KeyStatementNotFound  = "statement.not_found"

	// Validation
	KeyValidationInvalid  = "validation.invalid"
	KeyValidationRequired = "validation.required"
)
