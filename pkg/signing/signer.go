// Package signing produces detached compact signatures over canonical
// fiscal documents. The CPU-heavy PKCS#12 parsing and RSA signing runs on a
// fixed pool of dedicated goroutines; callers communicate with the pool
// through request/response messages only, never shared mutable state.
package signing

import (
	"context"
	"errors"
	"sync"

	"github.com/dteflow/dteflow/pkg/observability/logger"
)

const defaultPoolSize = 2

// Request describes one signing computation. The pool treats it as a pure
// function input: (canonical document, key bundle, passphrase).
type Request struct {
	Document   any
	KeyBundle  []byte
	Passphrase string
}

// Result is the serializable outcome returned across the isolation
// boundary. Either Success with token fields, or an error kind + message.
type Result struct {
	Success        bool   `json:"success"`
	Token          string `json:"token,omitempty"`
	SignatureValue string `json:"signatureValue,omitempty"`
	ErrorKind      string `json:"errorKind,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Err reconstructs the sentinel error for a failed result.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	switch r.ErrorKind {
	case KindKeyBundleInvalid:
		return signingError(ErrKeyBundleInvalid, r.Message)
	case KindKeyExtractionFailed:
		return signingError(ErrKeyExtractionFailed, r.Message)
	default:
		return signingError(ErrSigningFailed, r.Message)
	}
}

// PoolConfig configures the signer pool.
type PoolConfig struct {
	// Size is the number of signing goroutines. Defaults to 2.
	Size int
}

func (c *PoolConfig) normalize() {
	if c.Size <= 0 {
		c.Size = defaultPoolSize
	}
}

type poolRequest struct {
	request  Request
	response chan Result
}

// Pool runs signing computations on isolated goroutines.
type Pool struct {
	log      logger.Logger
	requests chan *poolRequest
	quit     chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewPool creates and starts a signer pool.
func NewPool(cfg PoolConfig, log logger.Logger) (*Pool, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()

	p := &Pool{
		log:      log,
		requests: make(chan *poolRequest),
		quit:     make(chan struct{}),
	}
	for idx := 0; idx < cfg.Size; idx++ {
		p.wg.Add(1)
		go p.runSigner()
	}
	return p, nil
}

// Sign submits a request and waits for its result. The calling goroutine
// is suspended while a pool goroutine performs the computation. The error
// return covers pool lifecycle and context cancellation only; signing
// failures come back inside the Result.
func (p *Pool) Sign(ctx context.Context, request Request) (Result, error) {
	if p == nil {
		return Result{}, ErrPoolClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pending := &poolRequest{
		request:  request,
		response: make(chan Result, 1),
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.quit:
		return Result{}, ErrPoolClosed
	case p.requests <- pending:
	}

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-p.quit:
		return Result{}, ErrPoolClosed
	case result := <-pending.response:
		return result, nil
	}
}

// Close stops the pool and waits for in-flight computations to finish.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	p.closeOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
	return nil
}

func (p *Pool) runSigner() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case pending := <-p.requests:
			pending.response <- execute(pending.request)
		}
	}
}

// execute is the pure signing computation: parse the bundle, canonicalize,
// sign, assemble the compact token.
func execute(request Request) Result {
	material, err := ParseKeyBundle(request.KeyBundle, request.Passphrase)
	if err != nil {
		return failure(err)
	}
	token, err := SignDocument(request.Document, material.PrivateKey)
	if err != nil {
		return failure(err)
	}
	return Result{
		Success:        true,
		Token:          token.Token,
		SignatureValue: token.SignatureValue,
	}
}

func failure(err error) Result {
	return Result{
		Success:   false,
		ErrorKind: KindOf(err),
		Message:   err.Error(),
	}
}
