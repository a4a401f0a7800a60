// Package logger implements the ingestion and persistence stage of the
// pipeline. A DataLogger owns the shared input queue, the termination
// signal, and a pool of saver workers that drain the queue and persist
// each record as an individually named file.
//
// Data flow: producers → input queue → saver workers → per-record files.
// The per-record files are later folded into archives by the archive
// package.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axiolab/bytelog/internal/errors"
	"github.com/axiolab/bytelog/internal/logging"
	"github.com/axiolab/bytelog/internal/queue"
	"github.com/axiolab/bytelog/internal/record"
	"github.com/axiolab/bytelog/internal/shm"
)

// Config configures a DataLogger instance.
type Config struct {
	// OutputDirectory is the directory under which the instance creates
	// its log folder ("<InstanceName>_data_log").
	OutputDirectory string

	// InstanceName names the instance. It namespaces the termination
	// signal buffer, so it has to be unique across concurrently running
	// instances. Default: "data_logger".
	InstanceName string

	// WorkerCount is the number of saver workers. Default: 1.
	WorkerCount int

	// SleepInterval is how long an idle worker sleeps between queue
	// polls. Default: 5ms. Zero disables idling entirely.
	SleepInterval time.Duration

	// ExistOK allows the instance to replace a leftover termination
	// signal buffer with the same name. A leftover buffer normally means
	// the previous runtime crashed before cleanup.
	ExistOK bool
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.InstanceName == "" {
		c.InstanceName = "data_logger"
	}
	if c.WorkerCount < 1 {
		c.WorkerCount = 1
	}
	if c.SleepInterval < 0 {
		c.SleepInterval = 0
	} else if c.SleepInterval == 0 {
		c.SleepInterval = 5 * time.Millisecond
	}
	return c
}

// Lifecycle states. A stopped instance cannot be restarted.
type state int

const (
	stateNotStarted state = iota
	stateRunning
	stateStopped
)

// terminator buffer values
const (
	signalRun  uint8 = 0
	signalStop uint8 = 1
)

// watchdogInterval is how often the watchdog verifies worker liveness.
const watchdogInterval = 20 * time.Millisecond

// DataLogger persists producer-submitted log packages to disk.
//
// Correctness contract: all producer Put calls must have returned before
// Stop is invoked. The logger does not enforce producer quiescence; under
// that contract Stop never loses a record, because a worker only exits
// once the termination signal is set and the queue is observed empty.
type DataLogger struct {
	mu  sync.Mutex
	cfg Config

	outputDir  string
	inputQueue *queue.Queue
	terminator *shm.Buffer

	state        state
	workerWG     sync.WaitGroup
	workerExited []atomic.Bool
	watchdogWG   sync.WaitGroup
	failed       atomic.Bool

	// workerFault, when set, injects an unrecoverable error into workers
	// at startup. Test seam for the watchdog path.
	workerFault func(id int) error

	stats Stats
	log   *slog.Logger
}

// New creates a DataLogger. The instance does not persist anything until
// Start is called.
func New(cfg Config) *DataLogger {
	cfg = cfg.withDefaults()
	return &DataLogger{
		cfg:        cfg,
		outputDir:  filepath.Join(cfg.OutputDirectory, cfg.InstanceName+"_data_log"),
		inputQueue: queue.New(),
		log:        logging.Component("logger").With("instance", cfg.InstanceName),
	}
}

// Start creates the output directory and the termination signal, then
// spawns the saver workers and the watchdog. Packages submitted to the
// input queue are persisted from this point on.
func (d *DataLogger) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateRunning:
		return errors.Wrapf(errors.ErrAlreadyRunning, "logger %q", d.cfg.InstanceName)
	case stateStopped:
		// Restarting a stopped instance is unsupported.
		return errors.Wrapf(errors.ErrStopped, "logger %q", d.cfg.InstanceName)
	}

	if err := os.MkdirAll(d.outputDir, 0755); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	term, err := shm.Create(d.cfg.InstanceName+"_terminator", 1, d.cfg.ExistOK)
	if err != nil {
		return errors.Wrap(err, "create termination signal")
	}
	if err := term.Write(0, signalRun); err != nil {
		term.Destroy()
		return errors.Wrap(err, "arm termination signal")
	}
	d.terminator = term

	d.workerExited = make([]atomic.Bool, d.cfg.WorkerCount)
	for i := 0; i < d.cfg.WorkerCount; i++ {
		d.workerWG.Add(1)
		go d.logCycle(i)
	}

	d.watchdogWG.Add(1)
	go d.watchdog()

	d.state = stateRunning
	d.log.Info("logger started",
		"output_dir", d.outputDir,
		"workers", d.cfg.WorkerCount,
		"sleep_interval", d.cfg.SleepInterval)
	return nil
}

// Stop flips the termination signal and blocks until every worker has
// drained the queue and exited. All packages enqueued before Stop are on
// disk when it returns. Stop is a no-op on an instance that is not
// running.
func (d *DataLogger) Stop() error {
	d.mu.Lock()
	if d.state != stateRunning {
		d.mu.Unlock()
		return nil
	}
	// Flipping the state first soft-deactivates the watchdog, so worker
	// exits during the drain are not reported as failures.
	d.state = stateStopped
	d.mu.Unlock()

	if err := d.terminator.Write(0, signalStop); err != nil {
		return errors.Wrap(err, "signal termination")
	}

	d.workerWG.Wait()
	d.watchdogWG.Wait()

	d.terminator.Disconnect()
	d.terminator.Destroy()

	d.log.Info("logger stopped",
		"records_saved", d.stats.RecordsSaved.Load(),
		"bytes_written", d.stats.BytesWritten.Load(),
		"save_errors", d.stats.SaveErrors.Load())
	return nil
}

// InputQueue returns the queue producers submit packages to. Share this
// handle with every producer that needs to log data.
func (d *DataLogger) InputQueue() *queue.Queue {
	return d.inputQueue
}

// Name returns the instance name.
func (d *DataLogger) Name() string {
	return d.cfg.InstanceName
}

// OutputDirectory returns the directory the instance writes records to.
func (d *DataLogger) OutputDirectory() string {
	return d.outputDir
}

// Started reports whether the logger is currently running.
func (d *DataLogger) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateRunning
}

// Failed reports whether a saver worker exited prematurely during the
// runtime. A failed instance has already been drained and should be
// stopped and discarded.
func (d *DataLogger) Failed() bool {
	return d.failed.Load()
}

// String implements fmt.Stringer.
func (d *DataLogger) String() string {
	return fmt.Sprintf("DataLogger(name=%s, output_directory=%s, workers=%d, started=%t)",
		d.cfg.InstanceName, d.outputDir, d.cfg.WorkerCount, d.Started())
}

// logCycle is the per-worker loop. It runs until the termination signal is
// set and the queue is observed empty. Reading the signal and checking the
// queue are separate lock acquisitions; the race is benign because
// producers quiesce before Stop, so a worker may loop once more than
// necessary but can never miss a pending package.
func (d *DataLogger) logCycle(id int) {
	defer d.workerWG.Done()
	defer d.workerExited[id].Store(true)

	ctx := logging.ContextWithInstance(context.Background(), d.cfg.InstanceName)
	ctx = logging.ContextWithWorker(ctx, id)
	log := logging.WithContext(ctx)

	term, err := shm.Connect(d.cfg.InstanceName + "_terminator")
	if err != nil {
		log.Error("worker failed to attach termination signal", "error", err)
		return
	}
	defer term.Disconnect()

	if d.workerFault != nil {
		if err := d.workerFault(id); err != nil {
			log.Error("worker failed", "error", err)
			return
		}
	}

	for {
		stop, err := term.Read(0)
		if err != nil {
			log.Error("worker lost termination signal", "error", err)
			return
		}

		if pkg, ok := d.inputQueue.TryPop(); ok {
			d.saveRecord(log, pkg)
			continue
		}

		if stop == signalStop {
			return
		}

		if d.cfg.SleepInterval > 0 {
			time.Sleep(d.cfg.SleepInterval)
		}
	}
}

// saveRecord writes one package as one whole file. A failed write affects
// only this record; the worker keeps draining.
func (d *DataLogger) saveRecord(log *slog.Logger, pkg record.LogPackage) {
	frame := pkg.EncodeFrame()
	path := filepath.Join(d.outputDir, record.FileName(pkg.Key()))

	start := time.Now()
	if err := os.WriteFile(path, frame, 0644); err != nil {
		d.stats.SaveErrors.Add(1)
		log.Error("record write failed",
			"key", pkg.Key(),
			"error", err)
		return
	}

	d.stats.observeSave(len(frame), time.Since(start))
}

// watchdog verifies worker liveness until the termination signal is set.
// A worker that exits while the logger is still running has hit an
// unrecoverable error; the watchdog reports it and initiates the drain so
// the remaining workers shut down cleanly.
func (d *DataLogger) watchdog() {
	defer d.watchdogWG.Done()

	for {
		stop, err := d.terminator.Read(0)
		if err != nil {
			// The signal buffer is gone. Past Stop that is cleanup; while
			// still running it means every worker is about to exit.
			d.mu.Lock()
			running := d.state == stateRunning
			d.mu.Unlock()
			if running {
				d.failed.Store(true)
				d.log.Error("termination signal lost while running", "error", err)
			}
			return
		}
		if stop == signalStop {
			return
		}

		time.Sleep(watchdogInterval)

		d.mu.Lock()
		running := d.state == stateRunning
		d.mu.Unlock()
		if !running {
			continue
		}

		for i := range d.workerExited {
			if d.workerExited[i].Load() {
				d.failed.Store(true)
				d.log.Error("saver worker exited prematurely",
					"worker", i+1,
					"total", len(d.workerExited))
				// Drain the rest so the instance can be stopped.
				d.terminator.Write(0, signalStop)
				return
			}
		}
	}
}
