package agent

import "errors"

var (
	ErrQuotaExceeded     = errors.New("concurrency quota exceeded")
	ErrNotFound          = errors.New("not found")
	ErrOwnershipConflict = errors.New("ownership conflict")
	ErrParseAmbiguous    = errors.New("unparseable block")
	ErrCompileFailed     = errors.New("compile failed")
	ErrReviewRejected    = errors.New("review rejected")
	ErrDeployFailed      = errors.New("deploy failed")
	ErrTimeout           = errors.New("timed out")
	ErrCancelled         = errors.New("cancelled")

	ErrAgentBusy        = errors.New("agent is working")
	ErrDeleteRejected   = errors.New("delete requires confirmation")
	ErrGenerationFailed = errors.New("all generation backends failed")
)
