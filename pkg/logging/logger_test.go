package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
		level   logrus.Level
	}{
		{name: "defaults", opts: Options{}, level: logrus.InfoLevel},
		{name: "debug text", opts: Options{Level: "debug", Format: "text"}, level: logrus.DebugLevel},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: true},
		{name: "bad format", opts: Options{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if log.GetLevel() != tt.level {
				t.Errorf("level = %v, want %v", log.GetLevel(), tt.level)
			}
		})
	}
}

func TestRedactHook(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Output: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	For(log, CategoryBridge).WithFields(logrus.Fields{
		"api_key":       "nvapi-secret",
		"Authorization": "Bearer nvapi-secret",
		"task":          "search for cats",
	}).Info("run started")

	out := buf.String()
	if strings.Contains(out, "nvapi-secret") {
		t.Fatalf("credential leaked into log: %s", out)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["api_key"] != redacted {
		t.Errorf("api_key = %v, want %q", entry["api_key"], redacted)
	}
	if entry["task"] != "search for cats" {
		t.Errorf("task = %v", entry["task"])
	}
	if entry[FieldCategory] != string(CategoryBridge) {
		t.Errorf("category = %v", entry[FieldCategory])
	}
}

func TestRedactHookLeavesEmptyValues(t *testing.T) {
	hook := NewRedactHook("session_secret")
	entry := &logrus.Entry{Data: logrus.Fields{
		"api_key":        "",
		"session_secret": "x",
	}}
	if err := hook.Fire(entry); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if entry.Data["api_key"] != "" {
		t.Errorf("empty api_key should stay empty, got %v", entry.Data["api_key"])
	}
	if entry.Data["session_secret"] != redacted {
		t.Errorf("extra key not redacted: %v", entry.Data["session_secret"])
	}
}

func TestForNilLogger(t *testing.T) {
	entry := For(nil, CategoryHTTP)
	if entry == nil {
		t.Fatal("For(nil) should return a usable entry")
	}
	entry.Info("discarded")
}
