package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestComponentAttr(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "INFO").Component("pool")

	log.Info("reconciled", "agentType", "chatbot", "desired", 3)

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["component"] != "pool" {
		t.Errorf("expected component pool, got %v", record["component"])
	}
	if record["agentType"] != "chatbot" {
		t.Errorf("expected agentType chatbot, got %v", record["agentType"])
	}
	if record["msg"] != "reconciled" {
		t.Errorf("expected msg reconciled, got %v", record["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "WARN")

	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("INFO record should be filtered at WARN level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("WARN record missing")
	}
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "bogus")

	log.Debug("dropped")
	log.Info("kept")

	if strings.Contains(buf.String(), "dropped") {
		t.Error("DEBUG record should be filtered at default level")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Error("INFO record missing")
	}
}
