package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eqtylab/cupcake-go/internal/rulebook"
)

// WriteDebugFile renders ctx as human-readable text under dir, one
// file per evaluation, named by timestamp and trace ID.
func WriteDebugFile(ctx *Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := fmt.Sprintf("%s_%s.txt", ctx.Ingest.Timestamp.Format("2006-01-02_15-04-05"), ctx.Ingest.TraceID)
	content, err := formatHumanReadable(ctx)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644)
}

// WriteTelemetry renders ctx in format under destination, one file per
// evaluation, named by timestamp and trace ID.
func WriteTelemetry(ctx *Context, format rulebook.TelemetryFormat, destination string) error {
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return err
	}

	extension := "txt"
	if format == rulebook.TelemetryFormatJSON {
		extension = "json"
	}
	filename := fmt.Sprintf("%s_%s.%s", ctx.Ingest.Timestamp.Format("2006-01-02_15-04-05"), ctx.Ingest.TraceID, extension)

	var content string
	if format == rulebook.TelemetryFormatJSON {
		b, err := json.Marshal(ctx)
		if err != nil {
			return err
		}
		content = string(b) + "\n"
	} else {
		rendered, err := formatHumanReadable(ctx)
		if err != nil {
			return err
		}
		content = rendered
	}

	return os.WriteFile(filepath.Join(destination, filename), []byte(content), 0o644)
}

func formatHumanReadable(ctx *Context) (string, error) {
	var out strings.Builder

	fmt.Fprintf(&out, "===== Cupcake Telemetry [%s] [%s] =====\n", ctx.Ingest.Timestamp.Format("2006-01-02 15:04:05"), ctx.Ingest.TraceID)
	fmt.Fprintf(&out, "Harness: %s\n", ctx.Ingest.Harness)
	fmt.Fprintf(&out, "Total Duration: %dms\n\n", ctx.TotalDurationMs)

	out.WriteString("----- STAGE: Ingest (Raw Event) -----\n")
	rawEvent, err := json.MarshalIndent(ctx.Ingest.RawEvent, "", "  ")
	if err != nil {
		return "", err
	}
	out.Write(rawEvent)
	out.WriteString("\n\n")

	out.WriteString("----- STAGE: Enrich (Preprocessed) -----\n")
	if ctx.Enrich != nil {
		fmt.Fprintf(&out, "Operations: %s\n", strings.Join(ctx.Enrich.PreprocessingOperations, ", "))
		fmt.Fprintf(&out, "Duration: %dus\n", ctx.Enrich.DurationUs)
		out.WriteString("Enriched Event:\n")
		enriched, err := json.MarshalIndent(ctx.Enrich.EnrichedEvent, "", "  ")
		if err != nil {
			return "", err
		}
		out.Write(enriched)
		out.WriteString("\n\n")
	} else {
		out.WriteString("(No enrichment recorded)\n\n")
	}

	out.WriteString("----- STAGE: Evaluate (Policy Evaluation) -----\n")
	if len(ctx.Evaluations) == 0 {
		out.WriteString("(No evaluation performed - early exit before engine)\n\n")
	} else {
		for i, eval := range ctx.Evaluations {
			fmt.Fprintf(&out, "\n[Phase %d: %s]\n", i+1, eval.Phase)
			fmt.Fprintf(&out, "  Routed: %t\n", eval.Routed)

			if len(eval.MatchedPolicies) > 0 {
				fmt.Fprintf(&out, "  Matched Policies: %s\n", strings.Join(eval.MatchedPolicies, ", "))
			}
			if eval.ExitReason != nil {
				fmt.Fprintf(&out, "  Exit Reason: %s\n", *eval.ExitReason)
			}
			if eval.WasmDecisionSet != nil {
				ds := eval.WasmDecisionSet
				out.WriteString("  WASM Decision Set:\n")
				fmt.Fprintf(&out, "    Halts: %d\n", len(ds.Halts))
				fmt.Fprintf(&out, "    Denials: %d\n", len(ds.Denials))
				fmt.Fprintf(&out, "    Blocks: %d\n", len(ds.Blocks))
				fmt.Fprintf(&out, "    Asks: %d\n", len(ds.Asks))
				fmt.Fprintf(&out, "    AllowOverrides: %d\n", len(ds.AllowOverrides))
				for _, d := range ds.Halts {
					fmt.Fprintf(&out, "      - [HALT] %s: %s\n", d.RuleID, d.Reason)
				}
				for _, d := range ds.Denials {
					fmt.Fprintf(&out, "      - [DENY] %s: %s\n", d.RuleID, d.Reason)
				}
				for _, d := range ds.Blocks {
					fmt.Fprintf(&out, "      - [BLOCK] %s: %s\n", d.RuleID, d.Reason)
				}
				for _, d := range ds.Asks {
					fmt.Fprintf(&out, "      - [ASK] %s: %s\n", d.RuleID, d.Reason)
				}
			}
			if eval.FinalDecision != nil {
				fmt.Fprintf(&out, "  Final Decision: %s\n", eval.FinalDecision.Verb)
			}
			if len(eval.SignalsExecuted) > 0 {
				fmt.Fprintf(&out, "  Signals Executed: %d\n", len(eval.SignalsExecuted))
				for _, s := range eval.SignalsExecuted {
					fmt.Fprintf(&out, "    - %s: %s\n", s.Name, s.Command)
				}
			}
			fmt.Fprintf(&out, "  Duration: %dms\n", eval.DurationMs)
		}
		out.WriteString("\n")
	}

	out.WriteString("----- Response to Agent -----\n")
	if len(ctx.ResponseToAgent) > 0 {
		pretty, err := json.MarshalIndent(json.RawMessage(ctx.ResponseToAgent), "", "  ")
		if err != nil {
			return "", err
		}
		out.Write(pretty)
		out.WriteString("\n")
	} else {
		out.WriteString("(No response recorded)\n")
	}
	out.WriteString("\n")

	if len(ctx.Errors) > 0 {
		out.WriteString("----- Errors -----\n")
		for i, e := range ctx.Errors {
			fmt.Fprintf(&out, "%d. %s\n", i+1, e)
		}
		out.WriteString("\n")
	}

	fmt.Fprintf(&out, "===== End Telemetry [%dms] =====\n", ctx.TotalDurationMs)

	return out.String(), nil
}
