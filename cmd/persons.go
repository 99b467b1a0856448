package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var personsCmd = &cobra.Command{
	Use:   "persons",
	Short: "Manage enrolled persons",
}

var personsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persons with their image counts",
	Args:  cobra.NoArgs,
	RunE:  runPersonsList,
}

var personsAddCmd = &cobra.Command{
	Use:   "add <nickname> [image...]",
	Short: "Create a person and enroll images",
	Long: `Create a person named after the nickname and enroll each image.

Every image must contain exactly one face. Images that fail are reported
and skipped.

Example:
  faceinbox persons add "Jana Nováková" jana1.jpg jana2.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPersonsAdd,
}

func init() {
	rootCmd.AddCommand(personsCmd)
	personsCmd.AddCommand(personsListCmd, personsAddCmd)
	personsListCmd.Flags().Bool("json", false, "Output as JSON")
}

// PersonOutput is the JSON form of a listed person.
type PersonOutput struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Nickname   string `json:"nickname"`
	ImageCount int    `json:"image_count"`
}

func runPersonsList(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	a, err := openCLIApp()
	if err != nil {
		return err
	}
	defer a.Close()

	persons, err := a.gallery.ListPersons(context.Background())
	if err != nil {
		return err
	}
	out := make([]PersonOutput, len(persons))
	for i, p := range persons {
		out[i] = PersonOutput{ID: p.ID, Name: p.Name, Nickname: p.Nickname, ImageCount: p.ImageCount}
	}
	if jsonOutput {
		return outputJSON(out)
	}
	if len(out) == 0 {
		fmt.Println("No persons enrolled.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tNICKNAME\tIMAGES")
	for _, p := range out {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", p.ID, p.Name, p.Nickname, p.ImageCount)
	}
	return tw.Flush()
}

func runPersonsAdd(cmd *cobra.Command, args []string) error {
	a, err := openCLIApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	p, err := a.gallery.CreatePerson(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Created %s (id %d)\n", p.Name, p.ID)

	enrolled := 0
	for _, path := range args[1:] {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("  %s: %v\n", path, err)
			continue
		}
		res, err := a.engine.Enroll(ctx, p.ID, data)
		if err != nil {
			a.logger.Warn("enrollment failed", zap.String("path", path), zap.Error(err))
			fmt.Printf("  %s: %v\n", path, err)
			continue
		}
		enrolled++
		fmt.Printf("  %s: image %d\n", path, res.Image.ID)
	}
	if len(args) > 1 {
		fmt.Printf("Enrolled %d of %d images\n", enrolled, len(args)-1)
	}
	return nil
}

// openCLIApp opens the services for a short-lived command.
func openCLIApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return openApp(context.Background(), cfg, logger, nil)
}
