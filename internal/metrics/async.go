package metrics

import (
	"context"
	"log/slog"

	"github.com/eternity-ar/arcoord/internal/dispatcher"
)

// JobRecord is the dispatcher job name used by Async.
const JobRecord = "metrics.record"

// Async is a Recorder that queues increments on a buffered dispatcher job,
// so a slow sink never stalls the event loop. A full queue drops the event.
type Async struct {
	d      *dispatcher.Dispatcher
	logger *slog.Logger
}

// NewAsync registers the record job on d and returns a recorder feeding it.
func NewAsync(d *dispatcher.Dispatcher, sink Sink, bufferSize int, logger *slog.Logger) *Async {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	d.Register(JobRecord, func(j dispatcher.Job) error {
		k, err := ParseKind(j.Arg(0))
		if err != nil {
			return err
		}
		return sink.Record(context.Background(), Event{Kind: k, Key: j.Arg(1)})
	}, dispatcher.Buffered(bufferSize), dispatcher.Logged())

	return &Async{d: d, logger: logger}
}

func (a *Async) RecordVisit(pageKey string)     { a.enqueue(Visits, pageKey) }
func (a *Async) RecordAttractionView(id string) { a.enqueue(AttractionViews, id) }
func (a *Async) RecordVideoPlay(id string)      { a.enqueue(VideoPlays, id) }

func (a *Async) enqueue(k Kind, key string) {
	if err := a.d.Dispatch(dispatcher.Job{Name: JobRecord, Args: []string{string(k), key}}); err != nil {
		a.logger.Warn("metric dropped", "metric", k, "key", key, "error", err)
	}
}
