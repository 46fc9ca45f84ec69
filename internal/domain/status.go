package domain

// Status is the caller-visible outcome tag.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusPending Status = "PENDING"
	StatusFailed  Status = "FAILED"
)

// Result is what the account gate hands back to request handlers.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Bearer  string `json:"bearer,omitempty"`
}

func Success(msg string) Result { return Result{Status: StatusSuccess, Message: msg} }
func Pending(msg string) Result { return Result{Status: StatusPending, Message: msg} }
func Failed(msg string) Result  { return Result{Status: StatusFailed, Message: msg} }
