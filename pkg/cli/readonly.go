package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-mixdb/pkg/readonly"
)

var errRedisNotConfigured = errors.New("redis is not configured: set redis.host to use the shared read-only flag")

func readOnlyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read-only",
		Short: "Inspect or flip the shared read-only flag",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "on",
			Short: "Refuse all writes from every mixdb process",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return setReadOnly(cmd, a, true)
			},
		},
		&cobra.Command{
			Use:   "off",
			Short: "Allow writes again",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return setReadOnly(cmd, a, false)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show whether writes are currently refused",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return readOnlyStatus(cmd, a)
			},
		},
	)

	return cmd
}

func requireRedisGate(cmd *cobra.Command, a *app) (*readonly.RedisGate, error) {
	rg, err := a.redisGate(cmd.Context())
	if err != nil {
		return nil, err
	}
	if rg == nil {
		return nil, errRedisNotConfigured
	}
	return rg, nil
}

func setReadOnly(cmd *cobra.Command, a *app, on bool) error {
	rg, err := requireRedisGate(cmd, a)
	if err != nil {
		return err
	}
	if err := rg.Set(cmd.Context(), on); err != nil {
		return fmt.Errorf("failed to set read-only flag: %w", err)
	}
	a.logger.Info("Read-only flag updated", zap.String("key", rg.Key()), zap.Bool("read_only", on))
	return readOnlyStatus(cmd, a)
}

func readOnlyStatus(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	rg, err := requireRedisGate(cmd, a)
	if err != nil {
		return err
	}
	shared, err := rg.IsReadOnly(ctx)
	if err != nil {
		return fmt.Errorf("failed to read read-only flag: %w", err)
	}
	static := a.cfg.ReadOnly.Enabled

	status := map[string]any{
		"read_only": shared || static,
		"shared":    shared,
		"static":    static,
		"key":       rg.Key(),
	}
	if a.jsonOutput {
		return printJSON(cmd.OutOrStdout(), status)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "read-only: %v (shared flag %s=%v, config=%v)\n",
		shared || static, rg.Key(), shared, static)
	return err
}
