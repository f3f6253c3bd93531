// Package worker runs the per-module service task: one sandbox instance,
// one inbox, invocations served strictly in arrival order.
package worker

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rvmlabs/rvm/internal/engine"
	"github.com/rvmlabs/rvm/internal/logging"
	"github.com/rvmlabs/rvm/internal/metrics"
)

// ErrStopped is returned when the worker has terminated: either the
// invocation could not be enqueued, or the worker exited before replying.
var ErrStopped = errors.New("worker: stopped")

// Fuel accounting headers appended to every successful response.
const (
	HeaderFuelRemaining = "x-rvm-fuel-remaining"
	HeaderFuelConsumed  = "x-rvm-fuel-consumed"
)

// Result is what an invocation's one-shot channel carries.
type Result struct {
	Response *http.Response
	Err      error
}

// Invocation pairs a request with its one-shot response channel.
type Invocation struct {
	Request  *http.Request
	Response chan Result
}

// instance is the slice of engine.Instance the worker consumes.
type instance interface {
	HandleHTTP(ctx context.Context, req *http.Request) (*http.Response, error)
	Fuel() uint64
	Close(ctx context.Context) error
}

// Worker owns one instance and serializes all invocations against it.
type Worker struct {
	key   string
	inbox *inbox
	inst  instance
	stop  chan struct{}
	done  chan struct{}
}

// Start compiles and instantiates the artifact, then spawns the service
// goroutine. On return the worker is live and accepting invocations.
func Start(ctx context.Context, key string, eng *engine.Engine, artifact []byte) (*Worker, error) {
	inst, err := eng.NewInstance(ctx, key, artifact)
	if err != nil {
		return nil, err
	}
	return start(key, inst), nil
}

func start(key string, inst instance) *Worker {
	w := &Worker{
		key:   key,
		inbox: newInbox(),
		inst:  inst,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	if m := metrics.Global(); m != nil {
		m.WorkerStarted()
	}
	go w.serve()
	return w
}

// Invoke enqueues the request and awaits the guest's response.
func (w *Worker) Invoke(ctx context.Context, req *http.Request) (*http.Response, error) {
	inv := &Invocation{Request: req, Response: make(chan Result, 1)}
	if !w.inbox.push(inv) {
		return nil, ErrStopped
	}

	select {
	case res := <-inv.Response:
		return res.Response, res.Err
	case <-w.done:
		// The worker may have replied just before exiting.
		select {
		case res := <-inv.Response:
			return res.Response, res.Err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop asks the worker to exit. It completes at most the invocation it is
// currently serving; everything still queued fails with ErrStopped.
func (w *Worker) Stop() {
	w.inbox.close()
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

// Done is closed once the worker has exited and released its instance.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) serve() {
	defer func() {
		w.inst.Close(context.Background())
		if m := metrics.Global(); m != nil {
			m.WorkerStopped()
		}
		close(w.done)
	}()

	for {
		inv, ok := w.inbox.pop(w.stop)
		if !ok {
			return
		}
		w.serveOne(inv)
	}
}

func (w *Worker) serveOne(inv *Invocation) {
	log := logging.ForModule(w.key)
	log.Info("invoking", "uri", inv.Request.URL.RequestURI())

	fuelBefore := w.inst.Fuel()
	started := time.Now()

	// Deliberately not the caller's context: a dropped client must not
	// damage the instance for later invocations.
	resp, err := w.inst.HandleHTTP(context.Background(), inv.Request)

	fuelAfter := w.inst.Fuel()
	consumed := fuelBefore - min(fuelBefore, fuelAfter)

	if err != nil {
		status := "error"
		if errors.Is(err, engine.ErrOutOfFuel) {
			status = "fuel_exhausted"
			log.Warn("fuel exhausted")
		} else {
			log.Error("guest handler failed", "error", err)
		}
		if m := metrics.Global(); m != nil {
			m.RecordInvocation(w.key, status, time.Since(started), consumed)
		}
		inv.Response <- Result{Err: err}
		return
	}

	resp.Header.Set(HeaderFuelRemaining, strconv.FormatUint(fuelAfter, 10))
	resp.Header.Set(HeaderFuelConsumed, strconv.FormatUint(consumed, 10))

	if m := metrics.Global(); m != nil {
		m.RecordInvocation(w.key, "success", time.Since(started), consumed)
	}
	inv.Response <- Result{Response: resp}
}
