// Package store owns the single writable handle to the durable row store
// and serialises every read/write against it through one dedicated
// goroutine — the Persistence Actor.
//
// The underlying SQLite connection is not safe for concurrent writers, and
// centralising access here also makes write ordering explicit for the sync
// path: every mutation the rest of the system performs, whether it
// originates from a local CLI command or from an inbound sync batch, goes
// through the same FIFO queue.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Job is a unit of work submitted to the actor. It receives the sole
// transaction for this turn and returns a result plus an error.
type Job func(tx *sql.Tx) (any, error)

type request struct {
	ctx    context.Context
	job    Job
	result chan response
}

type response struct {
	value any
	err   error
}

// Actor serialises all access to the durable store on one goroutine.
type Actor struct {
	db     *sql.DB
	queue  chan request
	done   chan struct{}
	log    *logrus.Entry
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and starts the actor goroutine.
func Open(path string, log *logrus.Logger) (*Actor, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.Open: %w", err)
	}
	// A single writer goroutine owns this handle; one connection avoids
	// SQLITE_BUSY churn from the driver's own pool trying to write
	// concurrently with itself.
	db.SetMaxOpenConns(1)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.Open: apply schema: %w", err)
	}

	a := &Actor{
		db:    db,
		queue: make(chan request, 64),
		done:  make(chan struct{}),
		log:   log.WithField("component", "persistence"),
	}
	go a.run()
	return a, nil
}

func (a *Actor) run() {
	defer close(a.done)
	for req := range a.queue {
		a.runJob(req)
	}
	a.db.Close()
}

func (a *Actor) runJob(req request) {
	tx, err := a.db.BeginTx(req.ctx, nil)
	if err != nil {
		a.deliver(req, response{err: fmt.Errorf("begin tx: %w", err)})
		return
	}

	value, jobErr := req.job(tx)
	if jobErr != nil {
		tx.Rollback()
		a.log.WithError(jobErr).Warn("job failed")
		a.deliver(req, response{err: jobErr})
		return
	}

	if err := tx.Commit(); err != nil {
		a.log.WithError(err).Warn("commit failed")
		a.deliver(req, response{err: fmt.Errorf("commit: %w", err)})
		return
	}

	a.deliver(req, response{value: value})
}

func (a *Actor) deliver(req request, resp response) {
	if req.result != nil {
		req.result <- resp
	} else if resp.err != nil {
		a.log.WithError(resp.err).Warn("unwaited job failed")
	}
}

// Submit enqueues job for execution on the actor goroutine. When wait is
// true, Submit blocks until the job has run and returns its result or
// error. When wait is false, Submit enqueues the job and returns
// immediately (nil, nil); any failure is logged and swallowed.
func (a *Actor) Submit(ctx context.Context, job Job, wait bool) (any, error) {
	req := request{ctx: ctx, job: job}
	if wait {
		req.result = make(chan response, 1)
	}

	select {
	case a.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !wait {
		return nil, nil
	}

	select {
	case resp := <-req.result:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drains the queue and closes the store. It blocks until every
// already-submitted job has finished running.
func (a *Actor) Close() error {
	close(a.queue)
	<-a.done
	return nil
}
