package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/audit"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/mapping"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/services"
)

type importFlags struct {
	descriptor string
	csv        string
	mapping    string
}

func importCommand(a *app) *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import one dataset CSV using its column mapping",
		Long: `Import reads a dataset descriptor (YAML), the source CSV and the column
mapping CSV, then loads every row into the database. Rows that fail are
skipped and listed in the report; the rest commit together.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, a, flags)
		},
	}

	cmd.Flags().StringVar(&flags.descriptor, "descriptor", "", "Path to the dataset descriptor YAML")
	cmd.Flags().StringVar(&flags.csv, "csv", "", "Path to the source data CSV")
	cmd.Flags().StringVar(&flags.mapping, "mapping", "", "Path to the column mapping CSV")
	_ = cmd.MarkFlagRequired("descriptor")
	_ = cmd.MarkFlagRequired("csv")
	_ = cmd.MarkFlagRequired("mapping")

	return cmd
}

func runImport(cmd *cobra.Command, a *app, flags importFlags) error {
	ctx := cmd.Context()

	desc, err := mapping.LoadDescriptor(flags.descriptor)
	if err != nil {
		return err
	}

	db, err := a.database(ctx)
	if err != nil {
		return err
	}
	gate, err := a.gate(ctx)
	if err != nil {
		return err
	}

	svc := services.NewImportService(db, gate,
		repositories.NewDatasetRepository(),
		repositories.NewMaterialRepository(),
		repositories.NewMixRepository(),
		repositories.NewReferenceRepository(),
		audit.NewContentAuditor(a.logger),
		services.ImportOptions{
			Bounds:          services.NewRatioBounds(a.cfg.Import.WarnWCMin, a.cfg.Import.WarnWCMax),
			ScreenTextCells: a.cfg.Import.ScreenTextCells,
		},
		a.logger)

	report, err := svc.ImportDataset(ctx, desc, flags.csv, flags.mapping)
	if err != nil {
		a.metrics.RecordImportFailure(desc.Name)
		a.writeMetrics()
		a.logger.Error("Import failed", zap.String("dataset", desc.Name), zap.Error(err))
		return err
	}

	a.metrics.RecordImport(report)
	a.writeMetrics()

	if a.jsonOutput {
		return printJSON(cmd.OutOrStdout(), report)
	}
	return printImportReport(cmd.OutOrStdout(), report)
}
