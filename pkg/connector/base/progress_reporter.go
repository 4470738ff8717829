package base

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ProgressReporter periodically logs how many records a sync has emitted
type ProgressReporter struct {
	logger *zap.Logger

	processedRecords int64
	startTime        time.Time
	lastReportTime   time.Time
	lastProcessed    int64
	reportInterval   time.Duration

	streamMu sync.Mutex
	stream   string

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(logger *zap.Logger) *ProgressReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressReporter{
		logger:         logger,
		startTime:      time.Now(),
		lastReportTime: time.Now(),
		reportInterval: 30 * time.Second,
		stopCh:         make(chan struct{}),
	}
}

// Start begins periodic progress reporting
func (pr *ProgressReporter) Start() {
	pr.wg.Add(1)
	go func() {
		defer pr.wg.Done()
		ticker := time.NewTicker(pr.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pr.stopCh:
				return
			case <-ticker.C:
				pr.reportCurrentProgress()
			}
		}
	}()
}

// Stop stops progress reporting and logs a summary
func (pr *ProgressReporter) Stop() {
	pr.once.Do(func() {
		close(pr.stopCh)
		pr.wg.Wait()
		pr.reportFinalProgress()
	})
}

// SetStream records the stream currently being synced
func (pr *ProgressReporter) SetStream(stream string) {
	pr.streamMu.Lock()
	pr.stream = stream
	pr.streamMu.Unlock()
}

// IncrementProcessed increments the processed count
func (pr *ProgressReporter) IncrementProcessed(count int64) {
	atomic.AddInt64(&pr.processedRecords, count)
}

// Processed returns the number of records processed so far
func (pr *ProgressReporter) Processed() int64 {
	return atomic.LoadInt64(&pr.processedRecords)
}

// GetElapsedTime returns time since start
func (pr *ProgressReporter) GetElapsedTime() time.Duration {
	return time.Since(pr.startTime)
}

// GetAverageThroughput returns records per second since start
func (pr *ProgressReporter) GetAverageThroughput() float64 {
	elapsed := time.Since(pr.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(pr.Processed()) / elapsed
}

// SetReportInterval sets the progress reporting interval. Call before Start.
func (pr *ProgressReporter) SetReportInterval(interval time.Duration) {
	pr.reportInterval = interval
}

func (pr *ProgressReporter) reportCurrentProgress() {
	processed := pr.Processed()
	intervalElapsed := time.Since(pr.lastReportTime)

	var intervalRate float64
	if s := intervalElapsed.Seconds(); s > 0 {
		intervalRate = float64(processed-pr.lastProcessed) / s
	}

	pr.streamMu.Lock()
	stream := pr.stream
	pr.streamMu.Unlock()

	pr.logger.Info("progress update",
		zap.String("stream", stream),
		zap.Int64("processed", processed),
		zap.Float64("records_per_second", intervalRate),
		zap.Duration("elapsed", time.Since(pr.startTime)))

	pr.lastReportTime = time.Now()
	pr.lastProcessed = processed
}

func (pr *ProgressReporter) reportFinalProgress() {
	pr.logger.Info("sync completed",
		zap.Int64("total_processed", pr.Processed()),
		zap.Duration("total_time", time.Since(pr.startTime)),
		zap.Float64("avg_throughput", pr.GetAverageThroughput()))
}
