package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/cropai-api/internal/model"
)

var (
	predictArch    string
	predictBackend string
)

var predictCmd = &cobra.Command{
	Use:   "predict <image>",
	Short: "Classify a leaf image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		arch, err := model.ParseArchitecture(predictArch)
		if err != nil {
			return err
		}
		prefer, err := model.ParseBackendKind(predictBackend)
		if err != nil {
			return err
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Images.PredictImage(cmd.Context(), data, arch, prefer, cfg.Inference.ConfidenceThreshold)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	predictCmd.Flags().StringVar(&predictArch, "arch", string(model.ResNet9), "model architecture (resnet9, resnet18, resnet50)")
	predictCmd.Flags().StringVar(&predictBackend, "backend", string(model.BackendGraph), "preferred backend (graph, eager)")
	rootCmd.AddCommand(predictCmd)
}
