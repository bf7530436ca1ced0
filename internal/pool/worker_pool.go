package pool

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPoolSaturated 队列已满，任务未能入队
	ErrPoolSaturated = errors.New("worker pool saturated")
)

// WorkerPool 协程池
//
// 用于限制并发协程数量，避免创建过多协程导致资源耗尽。
// 口令校验与转码派发等 CPU 密集任务经由这里执行，不占用请求协程。
type WorkerPool struct {
	maxWorkers int
	taskQueue  chan func()
	wg         sync.WaitGroup
}

// NewWorkerPool 创建协程池
//
// 参数:
//   - maxWorkers: 最大协程数
//   - queueSize: 任务队列大小
func NewWorkerPool(maxWorkers, queueSize int) *WorkerPool {
	pool := &WorkerPool{
		maxWorkers: maxWorkers,
		taskQueue:  make(chan func(), queueSize),
	}

	return pool
}

// Start 启动协程池
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit 提交任务
//
// 如果队列已满，会阻塞直到有空位
func (p *WorkerPool) Submit(task func()) {
	p.taskQueue <- task
}

// TrySubmit 尝试提交任务
//
// 如果队列已满，立即返回 false
func (p *WorkerPool) TrySubmit(task func()) bool {
	select {
	case p.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Do 提交任务并等待其执行完成
//
// 入队失败（队列满）立即返回 ErrPoolSaturated，不阻塞请求协程；
// 入队成功后等待任务结束或 ctx 到期。ctx 到期时任务可能仍在
// 池内执行，但调用方不再等待其结果。
func (p *WorkerPool) Do(ctx context.Context, task func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		task()
	}

	select {
	case p.taskQueue <- wrapped:
	default:
		return ErrPoolSaturated
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth 当前排队任务数（用于指标上报）
func (p *WorkerPool) QueueDepth() int {
	return len(p.taskQueue)
}

// Stop 停止协程池
func (p *WorkerPool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}

// worker 工作协程
func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}

			// 执行任务（捕获 panic）
			func() {
				defer func() {
					if r := recover(); r != nil {
						// 记录错误
					}
				}()
				task()
			}()
		}
	}
}
