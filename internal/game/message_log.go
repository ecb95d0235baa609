package game

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"ironfront/internal/protocol"
)

const (
	// LogBufferSize is the circular buffer size between the dispatch path
	// and the async writer.
	LogBufferSize = 2048

	// MaxLogRecordsPerSec is the global rate limit; past it, records drop
	// rather than stall the dispatch path.
	MaxLogRecordsPerSec = 20000

	LogFlushSize     = 64
	LogFlushInterval = 100 * time.Millisecond
)

// LogRecord is one dispatched network message as remembered for crash
// diagnostics and replay: the raw message plus its arrival-order stamp and
// the advance-call counter at arrival.
type LogRecord struct {
	Seq          uint64             `json:"seq"`
	Timestamp    int64              `json:"timestamp"`
	ArrivalOrder uint64             `json:"arrivalOrder"`
	CallCount    uint32             `json:"callCount"`
	ID           protocol.MessageID `json:"id"`
	Sender       uint32             `json:"sender"`
	Receiver     uint32             `json:"receiver"`
	Payload      []byte             `json:"payload,omitempty"`
}

// MessageLog is the session's append-only message log: a bounded circular
// buffer drained by an async writer into newline-delimited JSON. Recording
// never blocks or fails the dispatch path; under overload the oldest records
// roll off and a counter says how many.
type MessageLog struct {
	buffer    [LogBufferSize]LogRecord
	writeHead uint64 // atomic, producer position
	readHead  uint64 // atomic, consumer position

	limiter *rate.Limiter

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	filePath string
	file     *os.File
	fileMu   sync.Mutex

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

// NewMessageLog creates a log that only counts until Start opens a file.
func NewMessageLog() *MessageLog {
	return &MessageLog{
		limiter:  rate.NewLimiter(MaxLogRecordsPerSec, MaxLogRecordsPerSec/10),
		stopChan: make(chan struct{}),
	}
}

// Start opens the output file and begins the async writer.
func (ml *MessageLog) Start(filePath string) error {
	if ml.running.Load() {
		return nil
	}
	ml.filePath = filePath
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrap(err, "open message log")
		}
		ml.file = file
	}
	ml.running.Store(true)
	ml.writerWg.Add(1)
	go ml.writerLoop()
	return nil
}

// Stop flushes and closes the log.
func (ml *MessageLog) Stop() {
	ml.stopOnce.Do(func() {
		if !ml.running.Load() {
			return
		}
		ml.running.Store(false)
		close(ml.stopChan)
		ml.writerWg.Wait()

		ml.fileMu.Lock()
		if ml.file != nil {
			ml.file.Close()
		}
		ml.fileMu.Unlock()
	})
}

// Record appends one dispatched message. Returns false when rate limited or
// not running.
func (ml *MessageLog) Record(rec LogRecord) bool {
	atomic.AddUint64(&ml.totalCount, 1)
	if !ml.running.Load() {
		return false
	}
	if !ml.limiter.Allow() {
		atomic.AddUint64(&ml.droppedCount, 1)
		return false
	}

	// writeHead counts records written; the new record's slot index is one
	// less, matching the 0-based positions the reader walks.
	head := atomic.AddUint64(&ml.writeHead, 1) - 1
	tail := atomic.LoadUint64(&ml.readHead)
	if head-tail >= LogBufferSize {
		// Rolling window: drop the oldest rather than block dispatch.
		atomic.AddUint64(&ml.readHead, 1)
		atomic.AddUint64(&ml.droppedCount, 1)
	}

	rec.Seq = head
	rec.Timestamp = time.Now().UnixNano()
	ml.buffer[head%LogBufferSize] = rec
	return true
}

func (ml *MessageLog) writerLoop() {
	defer ml.writerWg.Done()

	ticker := time.NewTicker(LogFlushInterval)
	defer ticker.Stop()

	batch := make([]LogRecord, 0, LogFlushSize)
	for {
		select {
		case <-ml.stopChan:
			for {
				batch = ml.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				ml.flushBatch(batch)
			}
		case <-ticker.C:
			batch = ml.collectBatch(batch[:0])
			if len(batch) > 0 {
				ml.flushBatch(batch)
			}
		}
	}
}

func (ml *MessageLog) collectBatch(batch []LogRecord) []LogRecord {
	head := atomic.LoadUint64(&ml.writeHead)
	tail := atomic.LoadUint64(&ml.readHead)
	for i := tail; i < head && len(batch) < LogFlushSize; i++ {
		batch = append(batch, ml.buffer[i%LogBufferSize])
	}
	if len(batch) > 0 {
		atomic.AddUint64(&ml.readHead, uint64(len(batch)))
	}
	return batch
}

func (ml *MessageLog) flushBatch(batch []LogRecord) {
	ml.fileMu.Lock()
	defer ml.fileMu.Unlock()
	if ml.file == nil {
		return
	}
	for _, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		ml.file.Write(data)
		ml.file.Write([]byte("\n"))
	}
}

// Stats returns counters for the operator API.
func (ml *MessageLog) Stats() map[string]interface{} {
	head := atomic.LoadUint64(&ml.writeHead)
	tail := atomic.LoadUint64(&ml.readHead)
	return map[string]interface{}{
		"total":   atomic.LoadUint64(&ml.totalCount),
		"dropped": atomic.LoadUint64(&ml.droppedCount),
		"pending": head - tail,
		"running": ml.running.Load(),
	}
}

// TotalCount returns the number of messages seen by the log.
func (ml *MessageLog) TotalCount() uint64 {
	return atomic.LoadUint64(&ml.totalCount)
}

// ReadLogFile loads a recorded message log for replay. Unparseable lines are
// skipped with a warning so a log truncated by a crash still replays up to
// the crash point.
func ReadLogFile(path string) ([]LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open message log")
	}
	defer f.Close()

	var records []LogRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var rec LogRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			log.Warnf("message log: skipping unparseable line %d: %v", line, err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, errors.Wrap(err, "scan message log")
	}
	return records, nil
}
