package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
	"github.com/99minutos/reservation-system/internal/pkg/metrics"
)

const (
	defaultWorkers = 8
	channelBuffer  = 256
)

// Dispatcher routes lifecycle events to a fixed set of workers using
// consistent hashing on the reservation id, guaranteeing per-reservation
// event ordering.
type Dispatcher struct {
	workers []chan domain.ReservationEvent
	service ports.EventService
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ ports.EventPublisher = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, service ports.EventService, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan domain.ReservationEvent, numWorkers),
		service: service,
		log:     log,
	}
	for i := range d.workers {
		d.workers[i] = make(chan domain.ReservationEvent, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled
// or after Close has drained their channel.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Publish hands an event to the worker responsible for its reservation.
// It never blocks: when the worker's buffer is full the event is dropped
// and counted.
func (d *Dispatcher) Publish(event domain.ReservationEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn().Str("event_id", event.ID).Msg("dispatcher closed, event dropped")
		return
	}

	idx := d.shardIndex(event.ReservationID)
	select {
	case d.workers[idx] <- event:
		metrics.EventsQueueDepth.WithLabelValues(strconv.Itoa(idx)).Inc()
	default:
		metrics.EventsErrorsTotal.WithLabelValues("queue_full").Inc()
		d.log.Warn().
			Str("event_id", event.ID).
			Str("reservation_id", event.ReservationID).
			Int("worker_id", idx).
			Msg("event queue full, event dropped")
	}
}

// Close stops accepting events and waits for queued ones to be processed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, ch := range d.workers {
			close(ch)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// shardIndex maps a reservation id deterministically to a worker index.
func (d *Dispatcher) shardIndex(reservationID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(reservationID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan domain.ReservationEvent) {
	defer d.wg.Done()
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			metrics.EventsQueueDepth.WithLabelValues(label).Dec()
			if err := d.service.Process(ctx, event); err != nil {
				d.log.Error().Err(err).
					Str("event_id", event.ID).
					Str("reservation_id", event.ReservationID).
					Int("worker_id", id).
					Msg("event processing failed")
			}
		}
	}
}
