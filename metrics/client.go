package metrics

import (
	"bytes"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pushprof/agent-go/profiler/logger"
)

var ErrClosed = errors.New("metrics client closed")

// Client batches items in memory and ships them from a background sender.
// Emitting never blocks on I/O: when the send queue is full the batch is
// dropped and counted.
type Client struct {
	stats *clientStats

	config  Config
	dataBuf chan *batch

	batchBuf  *batch
	batchLock sync.Mutex
	closed    bool

	flusherStop chan struct{}
	flusherWg   sync.WaitGroup
	senderWg    sync.WaitGroup
}

// NewClient builds a client for the unix datagram socket given by WithAddress
// or the PUSHPROF_METRICS_SOCK environment variable.
func NewClient(options ...ClientOption) *Client {
	config := Config{
		address:       os.Getenv(EnvAddress),
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range options {
		opt(&config)
	}
	if config.logger == nil {
		config.logger = &logger.NoopLogger{}
	}
	return &Client{
		stats:       &clientStats{},
		config:      config,
		dataBuf:     make(chan *batch, asyncChannelSize),
		batchBuf:    getBatch(),
		flusherStop: make(chan struct{}),
	}
}

func (c *Client) Start() {
	c.flusherWg.Add(1)
	go func() {
		defer c.flusherWg.Done()
		c.batchFlushLoop()
	}()
	for i := 0; i < asyncWorkerNumber; i++ {
		c.senderWg.Add(1)
		go func() {
			defer c.senderWg.Done()
			c.sendLoop()
		}()
	}
}

// Close flushes what is batched and waits for it to be written.
func (c *Client) Close() {
	c.batchLock.Lock()
	if c.closed {
		c.batchLock.Unlock()
		return
	}
	c.closed = true
	c.batchLock.Unlock()

	close(c.flusherStop)
	c.flusherWg.Wait()

	close(c.dataBuf)
	c.senderWg.Wait()

	c.stats.report(c.config.logger)
}

func (c *Client) EmitCounter(name string, value float64, tags map[string]string) error {
	return c.emitMetric(mtCounter, name, value, tags)
}

func (c *Client) EmitTimer(name string, value float64, tags map[string]string) error {
	return c.emitMetric(mtTimer, name, value, tags)
}

func (c *Client) EmitGauge(name string, value float64, tags map[string]string) error {
	return c.emitMetric(mtGauge, name, value, tags)
}

func (c *Client) emitMetric(mt metricType, name string, value float64, tags map[string]string) error {
	it := newItem(mt, name, value, c.config.commonTags, tags)

	c.batchLock.Lock()
	defer c.batchLock.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.batchBuf.items = append(c.batchBuf.items, it)
	if c.batchBuf.full() {
		select {
		case c.dataBuf <- c.batchBuf:
		default:
			atomic.AddInt64(&c.stats.bufferFull, 1)
			c.batchBuf.release()
		}
		c.batchBuf = getBatch()
	}
	return nil
}

func (c *Client) batchFlushLoop() {
	ticker := time.NewTicker(c.config.flushInterval)
	defer ticker.Stop()
	for ticks := 1; ; ticks++ {
		select {
		case <-ticker.C:
			c.batchFlush()
			if ticks%reportEvery == 0 {
				c.stats.report(c.config.logger)
			}
		case <-c.flusherStop:
			c.batchFlush()
			return
		}
	}
}

func (c *Client) batchFlush() {
	var flushBatch *batch
	c.batchLock.Lock()
	if len(c.batchBuf.items) != 0 {
		flushBatch = c.batchBuf
		c.batchBuf = getBatch()
	}
	c.batchLock.Unlock()
	if flushBatch != nil {
		c.dataBuf <- flushBatch
	}
}

func (c *Client) sendLoop() {
	s := newSender(c.config.address, c.stats)
	defer s.Close()
	packetBuf := make([]byte, 0, maxPacketSize)
	itemBuf := bytes.NewBuffer(nil)

	prefix := c.config.prefix
	for b := range c.dataBuf {
		for _, it := range b.items {
			itemBuf.Reset()
			if err := formatItem(itemBuf, prefix, it); err != nil {
				atomic.AddInt64(&c.stats.formatError, 1)
				continue
			}
			data := itemBuf.Bytes()
			if len(packetBuf)+len(data) > maxPacketSize {
				s.SendPacket(packetBuf)
				packetBuf = packetBuf[:0]
			}
			packetBuf = append(packetBuf, data...)
		}
		b.release()
		// one datagram per batch at most, so nothing lingers between flushes
		s.SendPacket(packetBuf)
		packetBuf = packetBuf[:0]
	}
}
