package recorder

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"lottery/internal/logging"
	"lottery/raffle"
)

// Recorder persists raffle events for later inspection.
type Recorder interface {
	Record(ctx context.Context, e raffle.Event) error
	History(ctx context.Context, raffleAddr common.Address, limit int) ([]raffle.Event, error)
	Close() error
}

// Sink adapts a Recorder to raffle.EventSink. Write failures are logged and
// never fail the raffle operation.
func Sink(rec Recorder, logger *zap.Logger) raffle.EventSink {
	logger = logging.OrNop(logger)
	return raffle.EventSinkFunc(func(ctx context.Context, e raffle.Event) {
		if err := rec.Record(ctx, e); err != nil {
			logger.Error("Failed to record event",
				zap.String("kind", e.Kind),
				zap.Error(err))
		}
	})
}
