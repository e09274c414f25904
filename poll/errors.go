package poll

import (
	"context"
	"errors"
	"fmt"

	"github.com/onnwee/matchpoll/backend/capture"
	"github.com/onnwee/matchpoll/backend/db"
	"github.com/onnwee/matchpoll/backend/valorant"
	"github.com/onnwee/matchpoll/backend/vision"
)

// SkipReason explains why a tick ended without acting. It is the metrics label.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipOverlap          SkipReason = "overlap"
	SkipChatDisconnected SkipReason = "chat_disconnected"
	SkipOffline          SkipReason = "offline"
	SkipTimeout          SkipReason = "timeout"
	SkipLiveCheck        SkipReason = "live_check_failed"
	SkipNoVideo          SkipReason = "no_video"
	SkipCapture          SkipReason = "capture_failed"
	SkipMalformed        SkipReason = "classification_malformed"
	SkipClassify         SkipReason = "classification_failed"
	SkipStats            SkipReason = "stats_failed"
	SkipPersist          SkipReason = "persist_failed"
	SkipUnknown          SkipReason = "unknown"
)

// Stage is the step of a tick an error came from.
type Stage string

const (
	StageLive     Stage = "live"
	StageLoad     Stage = "load"
	StageCapture  Stage = "capture"
	StageClassify Stage = "classify"
	StageStats    Stage = "stats"
	StageSave     Stage = "save"
)

// StageError tags a collaborator error with the tick step that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// ClassifyTickError maps a tick error to its skip reason.
//
// Timeouts win over everything else, since any step can hit the tick
// deadline. Then the typed errors of each collaborator, then the stage the
// error was tagged with. Anything left is unknown.
func ClassifyTickError(err error) SkipReason {
	if err == nil {
		return SkipNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return SkipTimeout
	}
	if errors.Is(err, capture.ErrNoVideo) {
		return SkipNoVideo
	}
	var (
		ce *vision.ClassificationError
		fe *valorant.StatsFetchError
		pe *db.PersistenceError
		ke *capture.CaptureError
	)
	switch {
	case errors.As(err, &ce):
		return SkipMalformed
	case errors.As(err, &fe):
		return SkipStats
	case errors.As(err, &pe):
		return SkipPersist
	case errors.As(err, &ke):
		return SkipCapture
	}
	var se *StageError
	if errors.As(err, &se) {
		switch se.Stage {
		case StageLive:
			return SkipLiveCheck
		case StageLoad, StageSave:
			return SkipPersist
		case StageCapture:
			return SkipCapture
		case StageClassify:
			return SkipClassify
		case StageStats:
			return SkipStats
		}
	}
	return SkipUnknown
}
