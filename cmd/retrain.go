package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/faceinbox/internal/embedding"
	"github.com/kozaktomas/faceinbox/internal/retrain"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Recompute every gallery embedding",
	Long: `Recompute the embedding of every enrolled image with the given model tier.

Without --tier the active tier is used. With another tier the active tier
switches once the run completes; an interrupted run keeps the old tier.
Stop "serve" first: a running server keeps its loaded tier until restarted.

Example:
  faceinbox retrain
  faceinbox retrain --tier antelopev2`,
	Args: cobra.NoArgs,
	RunE: runRetrain,
}

func init() {
	rootCmd.AddCommand(retrainCmd)
	retrainCmd.Flags().String("tier", "", "Model tier: buffalo_s, buffalo_l or antelopev2 (default: active tier)")
	retrainCmd.Flags().Bool("json", false, "Output the result as JSON")
}

type retrainOutcome struct {
	result retrain.Result
	err    error
}

func runRetrain(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	tier := a.settings.Get().Tier
	if name := mustGetString(cmd, "tier"); name != "" {
		if tier, err = embedding.ParseTier(name); err != nil {
			return err
		}
	}

	updates, unsubscribe := a.retrain.Subscribe()
	defer unsubscribe()

	done := make(chan retrainOutcome, 1)
	go func() {
		res, err := a.retrain.Run(ctx, tier)
		done <- retrainOutcome{result: res, err: err}
	}()

	var bar *progressbar.ProgressBar
	for {
		select {
		case p := <-updates:
			if jsonOutput || p.Total == 0 {
				continue
			}
			if bar == nil {
				bar = progressbar.NewOptions(p.Total,
					progressbar.OptionSetDescription("Retraining "+tier.String()),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("images"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			bar.Set(p.Current)
		case out := <-done:
			if bar != nil {
				bar.Finish()
				fmt.Println()
			}
			if out.err != nil {
				return out.err
			}
			return printRetrainResult(out.result, jsonOutput)
		}
	}
}

func printRetrainResult(res retrain.Result, jsonOutput bool) error {
	if jsonOutput {
		return outputJSON(res)
	}
	status := "completed"
	if res.Cancelled {
		status = "cancelled, model tier unchanged"
	}
	fmt.Printf("Retrain %s (%s)\n", status, res.Tier)
	fmt.Printf("  Images:    %d\n", res.Total)
	fmt.Printf("  Succeeded: %d\n", res.Succeeded)
	fmt.Printf("  Failed:    %d\n", res.Failed)
	fmt.Printf("  Duration:  %s\n", res.Duration.Round(time.Millisecond))
	return nil
}
