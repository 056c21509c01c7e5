package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/aristath/tradeinbox/internal/domain"
	"github.com/aristath/tradeinbox/internal/modules/ingest"
	"github.com/aristath/tradeinbox/internal/modules/parsing"
	"github.com/aristath/tradeinbox/internal/spool"
)

type ProcessCmd struct {
	Files   []string `help:"Email files (.eml) to process." arg:"" type:"existingfile"`
	Source  string   `help:"Source key to use instead of the sender domain."`
	DryRun  bool     `help:"Only parse. Nothing is resolved, stored or published." name:"dry-run"`
	Workers int      `help:"Emails processed concurrently." default:"1"`
	JSON    bool     `help:"Print results as JSON." name:"json"`
}

func (cmd *ProcessCmd) Run(ctx *kong.Context, globals *Globals) error {
	runCtx := context.Background()
	container, _, err := globals.open(runCtx)
	if err != nil {
		return err
	}
	defer container.Close()

	return cmd.run(runCtx, container, ctx.Stdout)
}

type decodedFile struct {
	path string
	raw  domain.RawEmail
}

func (cmd *ProcessCmd) run(ctx context.Context, c *di.Container, w io.Writer) error {
	var files []decodedFile
	failed := 0
	for _, path := range cmd.Files {
		raw, err := decodeFile(path)
		if err != nil {
			printError(w, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			failed++
			continue
		}
		if cmd.Source != "" {
			raw.Source = cmd.Source
		}
		files = append(files, decodedFile{path: path, raw: raw})
	}

	if cmd.DryRun {
		failed += cmd.preview(ctx, c, files, w)
	} else {
		failed += cmd.process(ctx, c, files, w)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d emails failed", failed, len(cmd.Files))
	}
	return nil
}

func decodeFile(path string) (domain.RawEmail, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.RawEmail{}, err
	}
	defer f.Close()
	return spool.Decode(f)
}

func (cmd *ProcessCmd) preview(ctx context.Context, c *di.Container, files []decodedFile, w io.Writer) int {
	failed := 0
	results := make([]*parsing.ParseResult, 0, len(files))
	for _, f := range files {
		res := c.Orchestrator.Preview(ctx, f.raw)
		results = append(results, res)
		if !res.Success {
			failed++
		}
		if !cmd.JSON {
			renderPreview(w, filepath.Base(f.path), res)
		}
	}
	if cmd.JSON {
		writeJSON(w, results)
	}
	return failed
}

func (cmd *ProcessCmd) process(ctx context.Context, c *di.Container, files []decodedFile, w io.Writer) int {
	raws := make([]domain.RawEmail, len(files))
	for i, f := range files {
		raws[i] = f.raw
	}

	batch := c.Orchestrator.ProcessBatch(ctx, raws, ingest.BatchOptions{Delay: -1, Workers: cmd.Workers})
	if cmd.JSON {
		writeJSON(w, batch)
		return batch.Stats.Failed
	}

	for i, res := range batch.Results {
		renderResult(w, filepath.Base(files[i].path), res)
	}
	if len(batch.Results) > 1 {
		s := batch.Stats
		printInfof(w, "%d emails: %d created, %d queued, %d skipped, %d failed",
			s.Total, s.Created, s.Queued, s.Skipped, s.Failed)
	}
	return batch.Stats.Failed
}

func renderResult(w io.Writer, name string, res *ingest.EmailProcessingResult) {
	file := pathStyle.Render(name)
	switch res.Outcome() {
	case "created":
		printSuccess(w, fmt.Sprintf("%s created transaction %s", file, res.TransactionID))
	case "queued":
		printInfof(w, "%s queued for review as %s", file, res.ReviewQueueID)
	case "skipped":
		reason := "skipped"
		if n := len(res.Warnings); n > 0 {
			reason = res.Warnings[n-1]
		}
		printInfof(w, "%s skipped: %s", file, reason)
	default:
		msg := "failed"
		if len(res.Errors) > 0 {
			msg = res.Errors[0].Error()
		}
		printError(w, fmt.Sprintf("%s: %s", name, msg))
	}
	if res.Candidate != nil {
		renderCandidate(w, *res.Candidate)
	}
}

func renderPreview(w io.Writer, name string, res *parsing.ParseResult) {
	file := pathStyle.Render(name)
	if !res.Success || res.Data == nil {
		msg := "no template matched"
		if res.Error != nil {
			msg = res.Error.Error()
		}
		printError(w, fmt.Sprintf("%s: %s", name, msg))
		return
	}
	printSuccess(w, fmt.Sprintf("%s parsed with %s", file, res.Template))
	renderCandidate(w, *res.Data)
	for _, warning := range res.Warnings {
		printInfof(w, "warning: %s", warning)
	}
}

func renderCandidate(w io.Writer, c domain.EmailCandidate) {
	printField(w, "type", c.TransactionType)
	printField(w, "symbol", c.Symbol)
	printField(w, "quantity", c.Quantity.String())
	printField(w, "price", fmt.Sprintf("%s %s", c.Price.String(), c.Currency))
	printField(w, "total", fmt.Sprintf("%s %s", c.TotalAmount.StringFixed(2), c.Currency))
	if !c.TransactionDate.IsZero() {
		printField(w, "date", c.TransactionDate.Format("2006-01-02 15:04"))
	}
	if c.AccountTypeLabel != "" {
		printField(w, "account", c.AccountTypeLabel)
	}
	printField(w, "confidence", fmt.Sprintf("%.2f", c.Confidence))
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
