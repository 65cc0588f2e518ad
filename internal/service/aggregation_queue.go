package service

import (
	"log"
	"sort"
	"sync"
	"time"
)

const (
	defaultFlushInterval    = 30 * time.Second
	defaultFlushBatchSize   = 50
	defaultFlushConcurrency = 5
)

// AggregationQueue 是一个去重的延迟批处理队列：同一篇文章在一次冲刷前
// 被多次投递只产生一个工作单元。重算失败不在本轮重试，等待文章的
// 下一次自然投递。
type AggregationQueue struct {
	mu        sync.Mutex
	dirty     map[uint]struct{}
	flushing  bool
	started   bool
	recompute func(postID uint) error

	interval    time.Duration
	batchSize   int
	concurrency int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewAggregationQueue 创建队列。recompute 为每篇文章的聚合重算入口。
func NewAggregationQueue(recompute func(postID uint) error) *AggregationQueue {
	return &AggregationQueue{
		dirty:       make(map[uint]struct{}),
		recompute:   recompute,
		interval:    defaultFlushInterval,
		batchSize:   defaultFlushBatchSize,
		concurrency: defaultFlushConcurrency,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// WithInterval 调整批处理间隔，非正值忽略。
func (q *AggregationQueue) WithInterval(d time.Duration) *AggregationQueue {
	if d > 0 {
		q.interval = d
	}
	return q
}

// WithBatchSize 调整单次冲刷的最大文章数，非正值忽略。
func (q *AggregationQueue) WithBatchSize(n int) *AggregationQueue {
	if n > 0 {
		q.batchSize = n
	}
	return q
}

// WithConcurrency 调整冲刷时的并发上限，非正值忽略。
func (q *AggregationQueue) WithConcurrency(n int) *AggregationQueue {
	if n > 0 {
		q.concurrency = n
	}
	return q
}

// Enqueue 把文章标记为待聚合。非阻塞，可在请求路径上随意调用。
func (q *AggregationQueue) Enqueue(postID uint) {
	if postID == 0 {
		return
	}
	q.mu.Lock()
	q.dirty[postID] = struct{}{}
	q.mu.Unlock()
}

// Pending 返回当前脏集快照（升序），供测试与诊断使用。
func (q *AggregationQueue) Pending() []uint {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := make([]uint, 0, len(q.dirty))
	for id := range q.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Start 启动后台定时冲刷。重复调用只生效一次。
func (q *AggregationQueue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		defer close(q.doneCh)
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				q.Flush()
			case <-q.stopCh:
				return
			}
		}
	}()
}

// Stop 停止定时器并同步冲刷剩余脏集，保证优雅退出不丢工作。
// 对未 Start 的队列调用也安全，不会阻塞等待后台协程。
func (q *AggregationQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)

		q.mu.Lock()
		started := q.started
		q.mu.Unlock()
		if started {
			<-q.doneCh
		}

		for len(q.Pending()) > 0 {
			q.Flush()
		}
	})
}

// Flush 取出至多一个批次的脏文章并以受限并发重算。
// 上一轮冲刷未结束时直接返回，避免重叠执行。
func (q *AggregationQueue) Flush() {
	q.mu.Lock()
	if q.flushing || len(q.dirty) == 0 {
		q.mu.Unlock()
		return
	}
	q.flushing = true

	batch := make([]uint, 0, q.batchSize)
	for id := range q.dirty {
		batch = append(batch, id)
		delete(q.dirty, id)
		if len(batch) >= q.batchSize {
			break
		}
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	// 分块推进，限制同时运行的重算数量
	for start := 0; start < len(batch); start += q.concurrency {
		end := start + q.concurrency
		if end > len(batch) {
			end = len(batch)
		}

		var wg sync.WaitGroup
		for _, postID := range batch[start:end] {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				if err := q.recompute(id); err != nil {
					log.Printf("aggregation failed for post %d: %v", id, err)
				}
			}(postID)
		}
		wg.Wait()
	}
}
