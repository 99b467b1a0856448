package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/kozaktomas/faceinbox/internal/database"
	"github.com/kozaktomas/faceinbox/internal/recognition"
	"github.com/spf13/cobra"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Match one image against the gallery",
	Long: `Detect the single face in an image and match it against the gallery.

Nothing is recorded, enrolled or published.

Example:
  faceinbox recognize snapshot.jpg
  faceinbox recognize --json snapshot.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

// RecognizeOutput is the JSON form of a recognition.
type RecognizeOutput struct {
	Matched  bool    `json:"matched"`
	Name     string  `json:"name"`
	Nickname string  `json:"nickname,omitempty"`
	Score    float64 `json:"score"`
	Votes    int     `json:"votes"`
	Age      int     `json:"age,omitempty"`
	Gender   string  `json:"gender,omitempty"`
	Tier     string  `json:"tier"`
	TotalMS  int64   `json:"total_ms"`
}

func runRecognize(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := openApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Recognize(ctx, recognition.Request{Image: data, Source: database.SourceManual})
	if err != nil {
		return err
	}

	out := RecognizeOutput{
		Matched: res.Verdict.Matched,
		Name:    res.Label(),
		Score:   res.Verdict.Score,
		Votes:   res.Verdict.Votes,
		Age:     res.Face.Age,
		Gender:  res.Face.Gender,
		Tier:    res.Tier.String(),
		TotalMS: res.Timing.Total.Milliseconds(),
	}
	if res.Verdict.Matched {
		out.Nickname = res.Person.DisplayName()
	}
	if jsonOutput {
		return outputJSON(out)
	}

	if out.Matched {
		fmt.Printf("Match: %s (%s)\n", out.Nickname, out.Name)
	} else {
		fmt.Println("No match: unknown")
	}
	fmt.Printf("  Score: %.1f%%\n", out.Score*100)
	fmt.Printf("  Votes: %d\n", out.Votes)
	if out.Age > 0 {
		fmt.Printf("  Age:   %d\n", out.Age)
	}
	if out.Gender != "" {
		fmt.Printf("  Gender: %s\n", out.Gender)
	}
	fmt.Printf("  Model: %s, %d ms\n", out.Tier, out.TotalMS)
	return nil
}
