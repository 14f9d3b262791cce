package metrics

import "sync"

type metricType uint8

const (
	mtCounter metricType = 1
	mtTimer   metricType = 2
	mtGauge   metricType = 3
)

type tag struct {
	key   string
	value string
}

type item struct {
	mt    metricType
	name  string
	value float64
	tags  []tag
}

// newItem merges common and emit-time tags; emit-time tags win on conflict.
func newItem(mt metricType, name string, value float64, common, tags map[string]string) item {
	it := item{mt: mt, name: name, value: value}
	if n := len(tags) + len(common); n != 0 {
		it.tags = make([]tag, 0, n)
		for k, v := range common {
			if _, override := tags[k]; !override {
				it.tags = append(it.tags, tag{key: k, value: v})
			}
		}
		for k, v := range tags {
			it.tags = append(it.tags, tag{key: k, value: v})
		}
	}
	return it
}

// batch is the unit handed from emitters to the sender goroutine. Batches are
// pooled; a batch must not be used after release.
type batch struct {
	items []item
}

var batchPool = sync.Pool{
	New: func() interface{} {
		return &batch{items: make([]item, 0, batchSize)}
	},
}

func getBatch() *batch {
	return batchPool.Get().(*batch)
}

func (b *batch) full() bool {
	return len(b.items) >= batchSize
}

func (b *batch) release() {
	for i := range b.items {
		b.items[i] = item{}
	}
	b.items = b.items[:0]
	batchPool.Put(b)
}
