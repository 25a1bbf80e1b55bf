package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// JournalEvent is one audit record of an order transition
type JournalEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	Event         string            `json:"event"` // "placed", "acknowledged", "filled", ...
	OrderID       string            `json:"order_id"`
	UserID        int64             `json:"user_id"`
	Status        types.OrderStatus `json:"status"`
	Broker        types.Broker      `json:"broker,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Detail        string            `json:"detail,omitempty"`
}

// Journal appends order lifecycle events as JSON lines with size-based file
// rotation. Write failures are logged, never surfaced: the journal is an
// audit trail, not part of the transaction.
type Journal struct {
	mu          sync.Mutex
	dir         string
	maxFileSize int64

	file   *os.File
	writer *bufio.Writer
	size   int64

	logger *logrus.Entry
}

// NewJournal opens a journal under dir, creating it if needed
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}

	j := &Journal{
		dir:         dir,
		maxFileSize: 50 * 1024 * 1024,
		logger:      logrus.WithField("component", "order-journal"),
	}
	if err := j.rotate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Append records one event. Safe for concurrent use.
func (j *Journal) Append(event JournalEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		j.logger.WithError(err).Warn("failed to marshal journal event")
		return
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.size >= j.maxFileSize {
		if err := j.rotate(); err != nil {
			j.logger.WithError(err).Warn("journal rotation failed")
		}
	}

	n, err := j.writer.Write(data)
	if err != nil {
		j.logger.WithError(err).Warn("failed to append journal event")
		return
	}
	j.size += int64(n)
}

// Flush forces buffered events to disk
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writer.Flush()
}

// Close flushes and closes the current journal file
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		j.writer.Flush()
	}
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

func (j *Journal) rotate() error {
	if j.writer != nil {
		j.writer.Flush()
	}
	if j.file != nil {
		j.file.Close()
	}

	filename := filepath.Join(j.dir,
		fmt.Sprintf("orders_%s.jsonl", time.Now().Format("20060102_150405")))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create journal file: %w", err)
	}

	j.file = file
	j.writer = bufio.NewWriter(file)
	j.size = 0
	return nil
}
