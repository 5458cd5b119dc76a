package messages

import (
	"encoding/json"
	"testing"
)

func TestRoutingTableBijective(t *testing.T) {
	seen := map[string]MessageType{}
	for mt, q := range routingTable {
		if prev, dup := seen[q]; dup {
			t.Errorf("queue %s mapped by both %s and %s", q, prev, mt)
		}
		seen[q] = mt

		back, ok := TypeForQueue(q)
		if !ok || back != mt {
			t.Errorf("TypeForQueue(%s) = %s, want %s", q, back, mt)
		}
	}
}

func TestWorkQueuesCoverRoutingTable(t *testing.T) {
	queues := map[string]bool{}
	for _, q := range WorkQueues() {
		queues[q] = true
	}
	for mt, q := range routingTable {
		if !queues[q] {
			t.Errorf("queue %s (type %s) missing from WorkQueues", q, mt)
		}
	}
	if queues[QueueDLQ] {
		t.Error("DLQ must not be a work queue")
	}
}

func TestQueueForUnknownType(t *testing.T) {
	if _, ok := QueueFor(MessageType("Bogus")); ok {
		t.Error("unknown message type should not route")
	}
}

func TestEnvelopeCamelCase(t *testing.T) {
	msg := CollectionScanMessage{
		CollectionID:        "c1",
		CollectionPath:      "/media/c1",
		CollectionType:      "Folder",
		ForceRescan:         true,
		UseDirectFileAccess: false,
		JobID:               "j1",
		Origin:              Origin{CreatedBy: "operator", CreatedBySystem: "api"},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	for _, key := range []string{"collectionId", "collectionPath", "collectionType",
		"forceRescan", "useDirectFileAccess", "jobId", "createdBy", "createdBySystem"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("missing camelCase key %q in %s", key, data)
		}
	}
}

func TestCacheMessageOmitsEmptyCachePath(t *testing.T) {
	data, err := json.Marshal(CacheGenerationMessage{ImageID: "i1", CollectionID: "c1"})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if _, ok := fields["cachePath"]; ok {
		t.Error("empty cachePath should be omitted")
	}
}
