package callkit

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

// ErrDispatcherStopped is returned when a task is submitted to a stopped dispatcher.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Dispatcher runs the attempts of enqueued calls off the caller's goroutine. Dispatch must not
// block: retried attempts are dispatched from within the callback of the previous one, which may
// itself be running on the dispatcher.
type Dispatcher interface {
	Dispatch(task func()) error
}

// GoDispatcher runs every task on a new goroutine. It is the default Dispatcher of a Client.
type GoDispatcher struct{}

// Dispatch starts task on its own goroutine.
func (GoDispatcher) Dispatch(task func()) error {
	go task()
	return nil
}

// WorkerPool runs tasks on a fixed number of workers. Tasks that do not fit in the queue are
// handed over by a helper goroutine, so Dispatch never blocks. Every accepted task runs, also
// when the pool is stopped meanwhile.
type WorkerPool struct {
	workerCount   int          // Total number of workers in the pool
	activeWorkers atomic.Int32 // Number of workers running a task
	overflow      atomic.Int32 // Number of tasks waiting for queue space

	taskChan chan func()

	mu        sync.RWMutex // guards stopped against in-flight Dispatch calls
	stopped   bool
	startOnce sync.Once
	stopOnce  sync.Once
	helpers   sync.WaitGroup
	wg        sync.WaitGroup
}

// NewWorkerPool creates a worker pool. Call Start before dispatching to it.
func NewWorkerPool(workerCount, queueSize int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		workerCount: workerCount,
		taskChan:    make(chan func(), queueSize),
	}
}

// worker executes tasks from the task channel until it is closed and drained.
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for task := range wp.taskChan {
		log.Trace().Msgf("Worker %d executing task", id)
		wp.activeWorkers.Inc()
		wp.run(task)
		wp.activeWorkers.Dec()
		log.Trace().Msgf("Worker %d finished task", id)
	}
	log.Trace().Msgf("Worker %d stopped", id)
}

// run executes task, keeping a panicking task from taking the worker down with it.
func (*WorkerPool) run(task func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Dispatched task panicked")
		}
	}()
	task()
}

// Dispatch queues task. It fails only if the pool has been stopped.
func (wp *WorkerPool) Dispatch(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return ErrDispatcherStopped
	}

	select {
	case wp.taskChan <- task:
	default:
		wp.overflow.Inc()
		wp.helpers.Add(1)
		go func() {
			defer wp.helpers.Done()
			wp.taskChan <- task
			wp.overflow.Dec()
		}()
	}
	return nil
}

// ActiveWorkers returns the number of workers currently running a task.
func (wp *WorkerPool) ActiveWorkers() int32 {
	return wp.activeWorkers.Load()
}

// Pending returns the number of tasks waiting for queue space.
func (wp *WorkerPool) Pending() int32 {
	return wp.overflow.Load()
}

// Start starts the worker pool, creating workers according to the worker count.
func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		log.Debug().Int("workers", wp.workerCount).Msg("Starting worker pool")
		wp.wg.Add(wp.workerCount)
		for i := 0; i < wp.workerCount; i++ {
			go wp.worker(i)
		}
	})
}

// Stop rejects new tasks, runs the accepted ones and waits for the workers to exit. It must not
// be called from a dispatched task.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		log.Debug().Msg("Attempting worker pool stop")
		wp.mu.Lock()
		wp.stopped = true
		wp.mu.Unlock()

		// a pool stopped before Start still owes the accepted tasks a worker
		wp.Start()
		wp.helpers.Wait()
		close(wp.taskChan)
		wp.wg.Wait()
	})
}
