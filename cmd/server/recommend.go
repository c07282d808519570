package main

import (
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/cropai-api/internal/crop"
)

var recommendReq crop.Request

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend a crop for soil readings at a location",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		pred, err := env.Crops.Recommend(cmd.Context(), recommendReq)
		if err != nil {
			return err
		}
		return printJSON(pred)
	},
}

func init() {
	f := recommendCmd.Flags()
	f.Float64Var(&recommendReq.Nitrogen, "nitrogen", 0, "soil nitrogen")
	f.Float64Var(&recommendReq.Phosphorous, "phosphorous", 0, "soil phosphorous")
	f.Float64Var(&recommendReq.Potassium, "potassium", 0, "soil potassium")
	f.Float64Var(&recommendReq.PH, "ph", 7, "soil pH")
	f.Float64Var(&recommendReq.Rainfall, "rainfall", 0, "rainfall in mm")
	f.Float64Var(&recommendReq.Lat, "lat", 0, "latitude")
	f.Float64Var(&recommendReq.Lon, "lon", 0, "longitude")
	for _, name := range []string{"nitrogen", "phosphorous", "potassium", "rainfall", "lat", "lon"} {
		_ = recommendCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(recommendCmd)
}
