package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fabio-bix/json-transcribe/internal/config"
	"github.com/fabio-bix/json-transcribe/internal/output"
	"github.com/fabio-bix/json-transcribe/internal/service"
	"github.com/fabio-bix/json-transcribe/internal/translator"
	"github.com/fabio-bix/json-transcribe/internal/tree"
	"github.com/fabio-bix/json-transcribe/pkg/file"
	"github.com/fabio-bix/json-transcribe/pkg/log"
	"github.com/spf13/cobra"
)

type runFlags struct {
	batch    int
	parallel int
	model    string
	dry      bool
}

func newTranslateCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "translate <input> [lang] [output]",
		Short: "Translate one JSON file",
		Long: `Translate one JSON file into the target language.

When the output file already exists it is used as the base of the run:
keys that already hold a translation are kept and only new, untranslated or
failed keys are sent to the provider. The previous output is copied to
<output>.bak before it is overwritten.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTranslate(ctx, cmd, args, flags)
		},
	}
	cmd.Flags().IntVar(&flags.batch, "batch", 0, "Strings per request (default from BATCH_SIZE)")
	cmd.Flags().IntVar(&flags.parallel, "parallel", 0, "Concurrent requests (default from PARALLEL)")
	cmd.Flags().StringVar(&flags.model, "model", "", "Model name (default from LLM_MODEL)")
	cmd.Flags().BoolVar(&flags.dry, "dry", false, "Only print the estimate")
	return cmd
}

func newEstimateCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "estimate <input> [lang]",
		Short: "Estimate size, cost and duration of a translation",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.dry = true
			return runTranslate(cmd.Context(), cmd, args, flags)
		},
	}
	cmd.Flags().IntVar(&flags.batch, "batch", 0, "Strings per request (default from BATCH_SIZE)")
	cmd.Flags().IntVar(&flags.parallel, "parallel", 0, "Concurrent requests (default from PARALLEL)")
	cmd.Flags().StringVar(&flags.model, "model", "", "Model name (default from LLM_MODEL)")
	return cmd
}

func runTranslate(ctx context.Context, cmd *cobra.Command, args []string, flags runFlags) error {
	var opts []config.Option
	if flags.dry && os.Getenv("LLM_API_KEY") == "" {
		// Estimating never reaches the provider.
		opts = append(opts, config.WithLLMAPIKey("unused"))
	}
	cfg, err := loadConfig(opts...)
	if err != nil {
		return err
	}

	input := args[0]
	doc, err := readDocument(input)
	if err != nil {
		return err
	}

	lang := cfg.Translate.TargetLanguage.String()
	if len(args) > 1 && args[1] != "" {
		lang = args[1]
	}

	out := outputPath(input, lang, args)
	w := cmd.OutOrStdout()

	deps, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	est, err := deps.pipeline.Estimate(doc, service.EstimateOptions{
		TargetLanguage: lang,
		Model:          flags.model,
		BatchSize:      flags.batch,
		Parallel:       flags.parallel,
	})
	if err != nil {
		return err
	}
	printEstimate(w, input, est)
	if flags.dry {
		return nil
	}

	existing, err := readExisting(out)
	if err != nil {
		return err
	}

	res, err := deps.pipeline.Run(ctx, service.Request{
		Document:       doc,
		Existing:       existing,
		TargetLanguage: est.TargetLanguage,
		Model:          est.Model,
		BatchSize:      est.BatchSize,
		Parallel:       est.Parallel,
	}, func(p translator.Progress, cost float64) {
		log.Info("Batch %d/%d done, %d/%d strings, $%.4f",
			p.CurrentBatch, p.TotalBatches, p.TranslatedStrings, p.TotalStrings, cost)
	})
	if err != nil {
		return err
	}

	if existing != nil {
		if err := backup(out); err != nil {
			return err
		}
	}
	if err := writeDocument(out, res.Result); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nSaved %s\n", out)
	fmt.Fprintf(w, "  strings:    %d (%d translated, %d cached, %d kept)\n",
		res.TotalStrings, res.TranslatedStrings, res.CachedStrings, res.KeptStrings)
	fmt.Fprintf(w, "  api calls:  %d, tokens %d\n", res.Stats.APICalls, res.Stats.TotalTokens)
	fmt.Fprintf(w, "  cost:       $%.6f\n", res.ActualCost)
	if res.Report.Warning != "" {
		fmt.Fprintf(w, "  warning:    %s\n", res.Report.Warning)
	}
	return nil
}

func outputPath(input, lang string, args []string) string {
	if len(args) > 2 && args[2] != "" {
		out := args[2]
		if filepath.Ext(out) == "" {
			out = file.ReplaceExt(out, ".json")
		}
		return out
	}
	return filepath.Join(filepath.Dir(input), output.FileName(input, lang))
}

func readDocument(path string) (*tree.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, service.WrapError(err, service.ErrFileRead, "read input").WithContext("path", path)
	}
	doc, err := tree.ParseDocument(data)
	if err != nil {
		return nil, service.WrapError(err, service.ErrInvalidDocument, "parse input").WithContext("path", path)
	}
	return doc, nil
}

// readExisting returns the previous output, or nil when there is none or it
// cannot be used as a base.
func readExisting(path string) (*tree.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, service.WrapError(err, service.ErrFileRead, "read existing output").WithContext("path", path)
	}
	doc, err := tree.ParseDocument(data)
	if err != nil {
		log.Warn("Existing output %s is not a valid document, translating from scratch: %v", path, err)
		return nil, nil
	}
	log.Info("Using existing output %s as base", path)
	return doc, nil
}

func backup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return service.WrapError(err, service.ErrFileRead, "read output for backup").WithContext("path", path)
	}
	bak := file.BackupPath(path)
	if err := os.WriteFile(bak, data, 0o644); err != nil {
		return service.WrapError(err, service.ErrFileWrite, "write backup").WithContext("path", bak)
	}
	return nil
}

func writeDocument(path string, doc *tree.Node) error {
	data, err := tree.MarshalIndent(doc)
	if err != nil {
		return service.WrapError(err, service.ErrFileWrite, "encode output")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return service.WrapError(err, service.ErrFileWrite, "create output dir").WithContext("path", dir)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return service.WrapError(err, service.ErrFileWrite, "write output").WithContext("path", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return service.WrapError(err, service.ErrFileWrite, "write output").WithContext("path", path)
	}
	return nil
}

func printEstimate(w io.Writer, input string, est *service.Estimate) {
	fmt.Fprintf(w, "%s: %d strings in %d entries\n", input, est.TotalStrings, est.TotalEntries)
	fmt.Fprintf(w, "  languages:  %s -> %s\n", est.SourceLanguage, est.TargetLanguage)
	fmt.Fprintf(w, "  model:      %s (batch %d, parallel %d)\n", est.Model, est.BatchSize, est.Parallel)
	fmt.Fprintf(w, "  batches:    %d\n", est.EstimatedBatches)
	fmt.Fprintf(w, "  tokens:     ~%d in, ~%d out\n", est.EstimatedTokensInput, est.EstimatedTokensOutput)
	fmt.Fprintf(w, "  cost:       ~$%.6f\n", est.EstimatedCostUSD)
	fmt.Fprintf(w, "  time:       ~%ds\n", est.EstimatedTimeSeconds)
}
