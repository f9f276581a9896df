package realtime

import (
	"context"
	"fmt"
	"time"
)

// step runs one main tick at simulation time t through the barrier.
func (rt *Runtime) step(ctx context.Context, coord *Coordinator, main Job, workers []*workerSlot, t time.Duration) error {
	// a worker starting a cycle must have left the previous one, which ends
	// when it observes the main thread ready to send
	var started []*workerSlot
	for _, w := range workers {
		if !rt.onReceive(coord, w, t) {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.idle:
		}
		started = append(started, w)
	}

	if coord != nil {
		coord.AnnounceDataAvailable()
	}
	for _, w := range started {
		w.start <- t
	}
	for _, w := range started {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.received:
		}
	}

	if coord != nil {
		if err := coord.WaitToReceiveData(ctx); err != nil {
			return err
		}
	}
	if main != nil {
		if err := main(ctx, t); err != nil {
			return fmt.Errorf("main job: %w", err)
		}
	}
	if coord != nil {
		if err := coord.WaitToSendData(ctx); err != nil {
			return err
		}
		coord.AnnounceDataSent()
	}
	return nil
}

func (rt *Runtime) onReceive(coord *Coordinator, w *workerSlot, t time.Duration) bool {
	if coord != nil && coord.AnyWorker() {
		return coord.OnReceiveBoundary(w.ID, t)
	}
	return t%w.Cycle == 0
}
