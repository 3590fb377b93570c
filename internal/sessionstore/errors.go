package sessionstore

import (
	"errors"
	"io/fs"

	"github.com/localrivet/codebridge/internal/errortypes"
)

// Stage names the step of an operation that failed.
type Stage string

// Stages reported on errors returned by this package.
const (
	StageValidate           Stage = "validate"
	StageLock               Stage = "lock"
	StageDirCreate          Stage = "dir creation"
	StageOpen               Stage = "open"
	StageCreate             Stage = "create"
	StageEnableLex          Stage = "enable_lex"
	StageCommitAfterEnable  Stage = "commit after enable"
	StageEnableBeforePut    Stage = "enable_lex before put"
	StagePut                Stage = "put"
	StageCommit             Stage = "commit"
	StageEnableBeforeSearch Stage = "enable_lex before search"
	StageSearch             Stage = "search"
)

const stageField = "stage"

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("session store is closed")

	// ErrEmptySessionID is returned when a session id is required but empty.
	ErrEmptySessionID = errors.New("session id is empty")
)

// stageError wraps err with the stage that produced it. The message is the
// stage name, so Error() reads "stage: cause".
func stageError(stage Stage, err error) *errortypes.AppError {
	var appErr *errortypes.AppError
	switch stage {
	case StageValidate:
		appErr = errortypes.ValidationError(err, string(stage))
	case StageLock:
		appErr = errortypes.InternalError(err, string(stage))
	case StageDirCreate:
		if errors.Is(err, fs.ErrPermission) {
			appErr = errortypes.PermissionError(err, string(stage))
		} else {
			appErr = errortypes.InternalError(err, string(stage))
		}
	default:
		appErr = errortypes.DatabaseError(err, string(stage))
	}
	return appErr.WithField(stageField, string(stage))
}

// StageOf returns the stage recorded on an error from this package, or ""
// if err did not come from a stage failure.
func StageOf(err error) Stage {
	v, ok := errortypes.FieldOf(err, stageField)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return Stage(s)
}
