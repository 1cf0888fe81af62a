package main

// Manual integration check for the NATS reporter path: subscribe to
// the run-event subject and print whatever a benchmark leader
// publishes there.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"

	"github.com/shardbench/harness/api"
	"github.com/shardbench/harness/internal/environment"
)

func main() {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: "15:04:05",
		}),
	))

	env := environment.ReadEnvConfig()
	if env.NatsUrl == "" {
		slog.Error("SHARDBENCH_NATS_URL is not set")
		os.Exit(1)
	}

	nc, err := nats.Connect(env.NatsUrl)
	if err != nil {
		slog.Error("failed to connect to NATS", "url", env.NatsUrl, "err", err)
		os.Exit(1)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync(env.NatsSubject)
	if err != nil {
		slog.Error("failed to subscribe", "subject", env.NatsSubject, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	slog.Info("watching run events", "subject", env.NatsSubject)
	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to receive message", "err", err)
			os.Exit(1)
		}
		printEvent(msg.Data)
	}
}

func printEvent(data []byte) {
	var head api.Header
	if err := json.Unmarshal(data, &head); err != nil {
		slog.Warn("skipping malformed message", "err", err)
		return
	}

	switch head.MsgType {
	case api.StartRunMsg:
		var m api.StartRun
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("skipping malformed run_start", "err", err)
			return
		}
		fmt.Printf("[%s] run started: optim=%s world=%d epochs=%d batch=%d data=%d at %s\n",
			m.RunUuid, m.Optim, m.WorldSize, m.Epochs, m.BatchSize, m.DataSize, m.StartedTime)
	case api.EpochEndMsg:
		var m api.EpochEnd
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("skipping malformed epoch_end", "err", err)
			return
		}
		fmt.Printf("[%s] epoch %d: %.2f samples/sec, cost %.4f\n", m.RunUuid, m.Epoch, m.Rate, m.Cost)
	case api.StateCollectMsg:
		var m api.StateCollect
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("skipping malformed state_collect", "err", err)
			return
		}
		fmt.Printf("[%s] epoch %d: collected %d state elems\n", m.RunUuid, m.Epoch, m.StateElems)
	case api.FinishRunMsg:
		var m api.FinishRun
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("skipping malformed run_finish", "err", err)
			return
		}
		if m.ErrorMessage != nil {
			fmt.Printf("[%s] run failed: %s\n", m.RunUuid, *m.ErrorMessage)
			return
		}
		if m.Summary != nil {
			fmt.Printf("[%s] run finished: overall %.2f samples/sec, peak %.1f MiB, mean %.2f +/- %.2f\n",
				m.RunUuid, m.Summary.OverallRate, m.Summary.PeakMemoryMiB, m.Summary.Mean, m.Summary.SampleStd)
		}
	case api.VerdictMsg:
		var m api.Verdict
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("skipping malformed verdict", "err", err)
			return
		}
		outcome := "PASS"
		if !m.Pass {
			outcome = "FAIL"
		}
		fmt.Printf("[%s] regression gate: %s\n", m.RunUuid, outcome)
		for _, c := range m.Checks {
			mark := "ok"
			if !c.Passed {
				mark = "REGRESSED"
			}
			fmt.Printf("    %-7s observed %.2f threshold %.2f %s\n", c.Dimension, c.Observed, c.Threshold, mark)
		}
	default:
		fmt.Printf("%s\n", data)
	}
}
