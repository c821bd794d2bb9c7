package store

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/taskvault/taskvault/errors"
	"github.com/taskvault/taskvault/task"
)

// logDocument is the indexed representation of one log entry.
type logDocument struct {
	TaskID    string    `json:"task_id"`
	Seq       uint64    `json:"seq"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogIndex is a Bleve-backed full-text index over task log messages.
// It is an optional diagnostic aid: the logs.jsonl stream stays the
// forensic record, and index failures never fail an append.
type LogIndex struct {
	mu    sync.Mutex
	index bleve.Index
	seq   map[string]uint64 // per-task doc counter
}

// OpenLogIndex opens or creates a Bleve index at path.
func OpenLogIndex(path string) (*LogIndex, error) {
	var index bleve.Index
	var err error

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		index, err = bleve.New(path, buildLogMapping())
		if err != nil {
			return nil, errors.Storage("failed to create log index", errors.WithCause(err), errors.WithResource(path))
		}
	} else {
		index, err = bleve.Open(path)
		if err != nil {
			return nil, errors.Storage("failed to open log index", errors.WithCause(err), errors.WithResource(path))
		}
	}

	return &LogIndex{
		index: index,
		seq:   make(map[string]uint64),
	}, nil
}

// buildLogMapping creates the Bleve index mapping for log documents.
func buildLogMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()
	numericFieldMapping := bleve.NewNumericFieldMapping()

	docMapping.AddFieldMappingsAt("message", textFieldMapping)
	docMapping.AddFieldMappingsAt("task_id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("level", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("timestamp", dateFieldMapping)
	docMapping.AddFieldMappingsAt("seq", numericFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Add indexes one log entry for a task.
func (li *LogIndex) Add(taskID string, entry task.LogEntry) error {
	li.mu.Lock()
	defer li.mu.Unlock()

	li.seq[taskID]++
	seq := li.seq[taskID]

	doc := logDocument{
		TaskID:    taskID,
		Seq:       seq,
		Level:     string(entry.Level),
		Message:   entry.Message,
		Timestamp: entry.Timestamp,
	}
	if err := li.index.Index(docID(taskID, seq), doc); err != nil {
		return errors.Storage("failed to index log entry", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	return nil
}

// Search returns log entries for a task whose messages match the query,
// in log order.
func (li *LogIndex) Search(taskID, queryText string) ([]task.LogEntry, error) {
	messageQuery := bleve.NewMatchQuery(queryText)
	messageQuery.SetField("message")

	taskQuery := bleve.NewTermQuery(taskID)
	taskQuery.SetField("task_id")

	boolQuery := bleve.NewBooleanQuery()
	boolQuery.AddMust(messageQuery)
	boolQuery.AddMust(taskQuery)

	searchReq := bleve.NewSearchRequest(boolQuery)
	searchReq.Size = 1000
	searchReq.Fields = []string{"message", "level", "timestamp", "seq"}

	results, err := li.index.Search(searchReq)
	if err != nil {
		return nil, errors.Storage("log search failed", errors.WithCause(err), errors.WithTaskID(taskID))
	}

	type hitEntry struct {
		seq   float64
		entry task.LogEntry
	}
	var hits []hitEntry
	for _, hit := range results.Hits {
		var e task.LogEntry
		if v, ok := hit.Fields["message"].(string); ok {
			e.Message = v
		}
		if v, ok := hit.Fields["level"].(string); ok {
			e.Level = task.LogLevel(v)
		}
		if v, ok := hit.Fields["timestamp"].(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				e.Timestamp = ts
			}
		}
		seq, _ := hit.Fields["seq"].(float64)
		hits = append(hits, hitEntry{seq: seq, entry: e})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })

	out := make([]task.LogEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out, nil
}

// DeleteTask removes every indexed entry for a task.
func (li *LogIndex) DeleteTask(taskID string) error {
	li.mu.Lock()
	defer li.mu.Unlock()

	seq := li.seq[taskID]
	batch := li.index.NewBatch()
	for i := uint64(1); i <= seq; i++ {
		batch.Delete(docID(taskID, i))
	}
	delete(li.seq, taskID)

	if err := li.index.Batch(batch); err != nil {
		return errors.Storage("failed to delete indexed entries", errors.WithCause(err), errors.WithTaskID(taskID))
	}
	return nil
}

// Close closes the underlying index.
func (li *LogIndex) Close() error {
	return li.index.Close()
}

func docID(taskID string, seq uint64) string {
	return fmt.Sprintf("%s:%d", taskID, seq)
}
