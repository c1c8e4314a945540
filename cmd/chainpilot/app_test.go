package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ChainPilot/internal/config"
	"ChainPilot/internal/plan"
	"ChainPilot/internal/stream"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	cfg, err := loadConfig(bootstrapOptions{configPath: filepath.Join(t.TempDir(), "missing.json")})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Execution.ReceiptPoll.MaxAttempts != 60 || cfg.Conversation.HistoryLimit != 30 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestPollConfigConversion(t *testing.T) {
	got := pollConfig(config.ReceiptPollConfig{InitialDelayMS: 1200, Factor: 1.15, MaxDelayMS: 2000, MaxAttempts: 60})
	if got.InitialDelay != 1200*time.Millisecond || got.MaxDelay != 2*time.Second || got.MaxAttempts != 60 {
		t.Fatalf("unexpected poll config %+v", got)
	}
}

func TestPrintPlan(t *testing.T) {
	var buf bytes.Buffer
	printPlan(&buf, &plan.Plan{
		ActionType: plan.ActionStake,
		Warnings:   []string{"gas is high"},
		LegacyTx:   &plan.TxPreview{ChainID: 1, To: "0xabc"},
	})
	out := buf.String()
	if !strings.Contains(out, "STAKE: 1 transaction(s)") || !strings.Contains(out, "value 0") || !strings.Contains(out, "gas is high") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"chat", "history", "chains"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s missing: %v", name, err)
		}
	}
}

func TestEventPrinterDropsDeltasAfterPlan(t *testing.T) {
	var buf bytes.Buffer
	sink := newEventPrinter(&buf)
	sink(stream.DeltaEvent{Text: "Thinking"})
	sink(stream.PlanEvent{Plan: plan.Plan{UserMessage: "Ready to stake"}})
	sink(stream.DeltaEvent{Text: " stale"})
	sink(stream.DoneEvent{})

	if got := buf.String(); got != "Thinking\nReady to stake" {
		t.Fatalf("unexpected output %q", got)
	}
}
