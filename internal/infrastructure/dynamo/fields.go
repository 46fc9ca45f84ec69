package dynamo

// DynamoDB attribute names used in keys, conditions and update expressions.
const (
	fieldUserID       = "user_id"
	fieldEmail        = "email"
	fieldPasswordHash = "password_hash"
	fieldVerified     = "verified"
	fieldUpdatedAt    = "updated_at"

	fieldPurpose      = "purpose"
	fieldTokenID      = "token_id"
	fieldExpiresAt    = "expires_at"
	fieldClaimID      = "claim_id"
	fieldClaimedUntil = "claimed_until"

	indexEmail = "email-index"
)
