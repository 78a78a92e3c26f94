// Package queue provides the unbounded FIFO pair connecting the stream
// ingestor to its two consumers. Producers never block on slow consumers:
// items buffer in memory between an input and an output channel, and the
// closed output channel is the consumers' termination sentinel.
package queue

import (
	"sync"

	"github.com/flitsinc/go-chatbridge/internal/schema"
)

// Unbounded is a FIFO channel with an unbounded buffer between Push and Out.
type Unbounded[T any] struct {
	in   chan T
	out  chan T
	once sync.Once
}

func NewUnbounded[T any]() *Unbounded[T] {
	q := &Unbounded[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.pump()
	return q
}

// Push enqueues an item. It must not be called after Close.
func (q *Unbounded[T]) Push(item T) {
	q.in <- item
}

// Out returns the receive side. It is closed once Close has been called and
// every buffered item has been delivered.
func (q *Unbounded[T]) Out() <-chan T {
	return q.out
}

// Close marks the end of input. Safe to call more than once; only the first
// call has effect.
func (q *Unbounded[T]) Close() {
	q.once.Do(func() { close(q.in) })
}

func (q *Unbounded[T]) pump() {
	var buf []T
	in := q.in
	for {
		if len(buf) == 0 {
			if in == nil {
				close(q.out)
				return
			}
			item, ok := <-in
			if !ok {
				close(q.out)
				return
			}
			buf = append(buf, item)
			continue
		}
		select {
		case item, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, item)
		case q.out <- buf[0]:
			buf = buf[1:]
		}
	}
}

// Pair bundles the two channels of one pipeline run: text chunks for the
// renderer and actions for the dispatcher.
type Pair struct {
	Chunks  *Unbounded[schema.TextChunk]
	Actions *Unbounded[schema.Action]
}

func NewPair() *Pair {
	return &Pair{
		Chunks:  NewUnbounded[schema.TextChunk](),
		Actions: NewUnbounded[schema.Action](),
	}
}

// Close ends input on both channels. Consumers drain what is buffered and
// then see closed channels.
func (p *Pair) Close() {
	p.Chunks.Close()
	p.Actions.Close()
}
