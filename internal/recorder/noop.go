package recorder

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"lottery/raffle"
)

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) Record(context.Context, raffle.Event) error { return nil }
func (n *NoopRecorder) History(context.Context, common.Address, int) ([]raffle.Event, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }
