package repositories

import "fmt"

// PromotionUsageErrorCode enumerates failure reasons for promotion usage updates.
type PromotionUsageErrorCode string

const (
	PromotionUsageErrorUnknown PromotionUsageErrorCode = "promotion_usage_unknown"
	// PromotionUsageErrorExhausted indicates the promotion reached its redemption cap.
	PromotionUsageErrorExhausted PromotionUsageErrorCode = "promotion_usage_exhausted"
	// PromotionUsageErrorInactive indicates the promotion was deactivated before use was recorded.
	PromotionUsageErrorInactive PromotionUsageErrorCode = "promotion_usage_inactive"
)

// PromotionUsageError reports why a redemption could not be recorded.
type PromotionUsageError struct {
	PromotionID string
	Code        PromotionUsageErrorCode
	Message     string
	Err         error
}

func (e *PromotionUsageError) Error() string {
	if e == nil {
		return ""
	}
	if e.PromotionID != "" {
		return fmt.Sprintf("promotion %s: %s", e.PromotionID, e.Message)
	}
	return e.Message
}

func (e *PromotionUsageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *PromotionUsageError) IsNotFound() bool { return false }

// IsConflict implements RepositoryError; every usage failure is a state conflict.
func (e *PromotionUsageError) IsConflict() bool { return e != nil }

// IsUnavailable implements RepositoryError.
func (e *PromotionUsageError) IsUnavailable() bool { return false }

// NewPromotionUsageError constructs a typed usage error.
func NewPromotionUsageError(promotionID string, code PromotionUsageErrorCode, message string) *PromotionUsageError {
	if message == "" {
		message = string(code)
	}
	return &PromotionUsageError{
		PromotionID: promotionID,
		Code:        code,
		Message:     message,
	}
}
