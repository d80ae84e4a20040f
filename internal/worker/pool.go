package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type TaskFunc func(context.Context)

// Pool 固定数量的派发 goroutine；缓冲区满时 Submit 阻塞，消费者随之停止搬运
type Pool struct {
	size   int
	jobs   chan TaskFunc
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func NewPool(parent context.Context, size int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &Pool{
		size:   size,
		jobs:   make(chan TaskFunc, size),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop()
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case fn := <-p.jobs:
			p.run(fn)
		}
	}
}

// run 单个派发 panic 不影响其它 goroutine；条目留在 inflight 中由 reaper 回收
func (p *Pool) run(fn TaskFunc) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("dispatch panicked")
		}
	}()
	fn(p.ctx)
}

// Submit 返回 false 表示池已停止，任务未被接收
func (p *Pool) Submit(fn TaskFunc) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- fn:
		return true
	}
}

// Stop 取消上下文并等待进行中的派发返回
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
