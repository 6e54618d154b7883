package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var errDispatcherClosed = errors.New("ledger dispatcher is closed")

type submission struct {
	ctx    context.Context
	method string
	data   []byte
	reply  chan submitResult
}

type submitResult struct {
	txHash common.Hash
	nonce  uint64
	err    error
}

// dispatcher is the only goroutine that reads nonces and sends transactions for
// the signing account, so nonce acquisition and submission never interleave.
// It returns as soon as the node accepts a transaction and never waits for confirmation.
type dispatcher struct {
	backend     Backend
	logger      ectologger.Logger
	sendTimeout time.Duration

	requests chan submission
	done     chan struct{}

	mu     sync.RWMutex
	closed bool

	// owned by run
	lastNonce uint64
	used      bool
}

func newDispatcher(backend Backend, queueSize int, sendTimeout time.Duration, logger ectologger.Logger) *dispatcher {
	d := &dispatcher{
		backend:     backend,
		logger:      logger,
		sendTimeout: sendTimeout,
		requests:    make(chan submission, queueSize),
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for req := range d.requests {
		req.reply <- d.handle(req)
	}
}

func (d *dispatcher) handle(req submission) submitResult {
	// once queued, a submission runs to completion even if its caller gave up
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.ctx), d.sendTimeout)
	defer cancel()

	account := d.backend.Account()
	remote, err := d.backend.NonceAt(ctx, account)
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).WithField("account", account.Hex()).Error("Failed to read account nonce")
		return submitResult{err: errors.Wrap(err, "failed to read account nonce")}
	}

	nonce := remote
	if d.used && d.lastNonce+1 > nonce {
		// the node has not caught up with our previous submission yet
		nonce = d.lastNonce + 1
	}

	txHash, err := d.backend.Send(ctx, nonce, req.data)
	if err != nil {
		d.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"method": req.method,
			"nonce":  nonce,
		}).Error("Ledger rejected transaction")
		return submitResult{nonce: nonce, err: errors.Wrap(err, "ledger rejected transaction")}
	}

	d.lastNonce = nonce
	d.used = true
	metrics.SetLedgerNonce(account.Hex(), nonce)

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"method":  req.method,
		"nonce":   nonce,
		"tx_hash": txHash.Hex(),
	}).Debug("Transaction submitted")

	return submitResult{txHash: txHash, nonce: nonce}
}

// submit enqueues calldata and waits for the dispatcher's answer. The caller's
// context only bounds the wait for a queue slot.
func (d *dispatcher) submit(ctx context.Context, method string, data []byte) submitResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return submitResult{err: errDispatcherClosed}
	}

	req := submission{ctx: ctx, method: method, data: data, reply: make(chan submitResult, 1)}
	select {
	case d.requests <- req:
	case <-ctx.Done():
		return submitResult{err: errors.Wrap(ctx.Err(), "gave up waiting for ledger dispatcher")}
	}
	return <-req.reply
}

// close stops accepting submissions and waits for queued ones to finish.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.requests)
	}
	d.mu.Unlock()
	<-d.done
}
