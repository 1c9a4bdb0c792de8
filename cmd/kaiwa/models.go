package main

import (
	"fmt"
	"time"

	"github.com/kaiwa-cli/kaiwa/internal/model"
	ollamaProvider "github.com/kaiwa-cli/kaiwa/internal/model/providers/ollama"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect models on the local Ollama server",
}

func init() {
	modelsCmd.AddCommand(modelsListCmd, modelsShowCmd)
	rootCmd.AddCommand(modelsCmd)
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available local models",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := localClient(cmd)
		if err != nil {
			return err
		}

		tags, err := client.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		if len(tags.Models) == 0 {
			fmt.Println("No models found")
			return nil
		}

		purple := lipgloss.Color("99")
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(purple)).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			}).
			Headers("NAME", "SIZE", "MODIFIED")

		for _, m := range tags.Models {
			t.Row(m.Name, formatSize(m.Size), m.ModifiedAt.Format(time.DateOnly))
		}

		fmt.Println(t)
		return nil
	},
}

var modelsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show details for one local model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := localClient(cmd)
		if err != nil {
			return err
		}

		detail, err := client.ShowModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if detail.Details.Family != "" {
			fmt.Printf("family: %s\n", detail.Details.Family)
		}
		if detail.Details.ParameterSize != "" {
			fmt.Printf("parameters: %s\n", detail.Details.ParameterSize)
		}
		if detail.Details.QuantizationLevel != "" {
			fmt.Printf("quantization: %s\n", detail.Details.QuantizationLevel)
		}
		if detail.Template != "" {
			fmt.Printf("template:\n%s\n", detail.Template)
		}
		if detail.License != "" {
			fmt.Printf("license:\n%s\n", detail.License)
		}
		return nil
	},
}

func localClient(cmd *cobra.Command) (*ollamaProvider.Client, error) {
	gc, err := model.ResolveGeneratorConfig(cmd.Context(), cfg.Chat.Model, model.AuthModeOllama, cfg, nil)
	if err != nil {
		return nil, err
	}
	return ollamaProvider.NewClient(gc.BaseURL, gc.RequestTimeout, nil, gc.Debug), nil
}

func formatSize(bytes int64) string {
	const gib = 1 << 30
	const mib = 1 << 20
	switch {
	case bytes >= gib:
		return fmt.Sprintf("%.1f GiB", float64(bytes)/gib)
	case bytes >= mib:
		return fmt.Sprintf("%.0f MiB", float64(bytes)/mib)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
