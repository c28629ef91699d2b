package memory

import (
	"hash/fnv"
	"slices"
	"strconv"
	"sync"
)

// Commit is one checkpoint the hub accepted.
type Commit struct {
	Group     string
	Partition string
	Offset    int64
}

// Hub is a partitioned append-only log.
type Hub struct {
	name string

	mu         sync.Mutex
	partitions [][]Event
	next       int
	changed    chan struct{}
	committed  map[string]map[string]int64
	commits    []Commit
	commitErr  error
}

func NewHub(name string, partitions int) *Hub {
	if partitions < 1 {
		partitions = 1
	}
	return &Hub{
		name:       name,
		partitions: make([][]Event, partitions),
		changed:    make(chan struct{}),
		committed:  make(map[string]map[string]int64),
	}
}

func (h *Hub) Name() string { return h.name }

// Partitions returns the partition ids "0".."n-1".
func (h *Hub) Partitions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, len(h.partitions))
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	return ids
}

func (h *Hub) index(partition string) (int, error) {
	i, err := strconv.Atoi(partition)
	if err != nil || i < 0 || i >= len(h.partitions) {
		return 0, ErrUnknownPartition
	}
	return i, nil
}

// Append stores e. The partition is partitionID when set, else the hash
// of key, else round robin.
func (h *Hub) Append(partitionID, key string, e Event) (Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var i int
	switch {
	case partitionID != "":
		var err error
		if i, err = h.index(partitionID); err != nil {
			return Event{}, err
		}
	case key != "":
		f := fnv.New32a()
		_, _ = f.Write([]byte(key))
		i = int(f.Sum32() % uint32(len(h.partitions)))
	default:
		i = h.next % len(h.partitions)
		h.next++
	}

	e.Partition = strconv.Itoa(i)
	e.Offset = int64(len(h.partitions[i]))
	h.partitions[i] = append(h.partitions[i], e)

	close(h.changed)
	h.changed = make(chan struct{})
	return e, nil
}

// Changed is closed on the next append.
func (h *Hub) Changed() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.changed
}

// Read returns up to max events of partition starting at offset from.
func (h *Hub) Read(partition string, from int64, max int) ([]Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, err := h.index(partition)
	if err != nil {
		return nil, err
	}
	p := h.partitions[i]
	if from >= int64(len(p)) {
		return nil, nil
	}
	end := min(int(from)+max, len(p))
	return slices.Clone(p[from:end]), nil
}

// Len returns the number of events in partition.
func (h *Hub) Len(partition string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, err := h.index(partition)
	if err != nil {
		return 0
	}
	return len(h.partitions[i])
}

// Commit records offset as the last processed event of partition for group.
func (h *Hub) Commit(group, partition string, offset int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.commitErr != nil {
		return h.commitErr
	}
	if _, err := h.index(partition); err != nil {
		return err
	}
	if h.committed[group] == nil {
		h.committed[group] = make(map[string]int64)
	}
	h.committed[group][partition] = offset
	h.commits = append(h.commits, Commit{Group: group, Partition: partition, Offset: offset})
	return nil
}

// Committed returns the checkpoint of group on partition.
func (h *Hub) Committed(group, partition string) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	off, ok := h.committed[group][partition]
	return off, ok
}

// Commits returns every accepted checkpoint in order.
func (h *Hub) Commits() []Commit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.commits)
}

// FailCommits makes later commits fail with err; nil restores them.
func (h *Hub) FailCommits(err error) {
	h.mu.Lock()
	h.commitErr = err
	h.mu.Unlock()
}
