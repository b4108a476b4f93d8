package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/services"
)

func purgeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <dataset>",
		Short: "Delete the mixes of a dataset so it can be imported again",
		Long: `Purge deletes every mix of the named dataset together with its components
and performance results. Materials are shared between datasets and are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			db, err := a.database(ctx)
			if err != nil {
				return err
			}
			gate, err := a.gate(ctx)
			if err != nil {
				return err
			}

			svc := services.NewDatasetPurgeService(db, gate, repositories.NewDatasetRepository(), a.logger)
			counts, err := svc.PurgeDataset(ctx, name)
			if err != nil {
				a.logger.Error("Purge failed", zap.String("dataset", name), zap.Error(err))
				return err
			}

			a.metrics.RecordPurge(name, counts)
			a.writeMetrics()

			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), counts)
			}
			return printPurgeCounts(cmd.OutOrStdout(), name, counts)
		},
	}
}
