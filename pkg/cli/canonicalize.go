package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/audit"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/catalog"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/repositories"
	"github.com/ekaya-inc/ekaya-mixdb/pkg/services"
)

func canonicalizeCommand(a *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "canonicalize",
		Short: "Merge duplicate materials and rewrite every reference to them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCanonicalize(cmd, a, dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Compute the merge plan without changing the database")

	return cmd
}

func runCanonicalize(cmd *cobra.Command, a *app, dryRun bool) error {
	ctx := cmd.Context()
	cfg := a.cfg.Canonicalize

	synonyms := services.DefaultSynonyms()
	if cfg.SynonymsFile != "" {
		loaded, err := services.LoadSynonyms(cfg.SynonymsFile)
		if err != nil {
			return err
		}
		synonyms = loaded
	}

	db, err := a.database(ctx)
	if err != nil {
		return err
	}
	gate, err := a.gate(ctx)
	if err != nil {
		return err
	}

	svc := services.NewCanonicalizationService(db, gate,
		repositories.NewMaterialRepository(),
		repositories.NewMaterialMergeRepository(),
		catalog.NewInspector(a.logger),
		services.NewMaterialNormalizer(synonyms),
		audit.NewCSVExporter(cfg.AuditDir),
		services.CanonicalizationConfig{
			Schema:      a.cfg.Database.Schema,
			LockTimeout: cfg.LockTimeout,
			MaxAttempts: cfg.MaxAttempts,
		},
		a.logger)

	report, err := svc.Canonicalize(ctx, services.CanonicalizeOptions{DryRun: dryRun})
	if err != nil {
		a.metrics.RecordCanonicalizationFailure()
		a.writeMetrics()
		a.logger.Error("Canonicalization failed", zap.Bool("dry_run", dryRun), zap.Error(err))
		return err
	}

	a.metrics.RecordCanonicalization(report)
	a.writeMetrics()
	if report.AuditError != "" {
		a.logger.Warn("Canonicalization committed without audit files", zap.String("error", report.AuditError))
	}

	if a.jsonOutput {
		return printJSON(cmd.OutOrStdout(), report)
	}
	return printCanonicalizationReport(cmd.OutOrStdout(), report)
}
