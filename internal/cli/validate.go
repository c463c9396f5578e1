package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"restock/internal/config"
	"restock/internal/product"
	"restock/internal/scheduler"
	logx "restock/pkg/logx"
)

type validateOptions struct {
	Strict bool
}

// ValidationReport is printed by the validate command.
type ValidationReport struct {
	Config      string   `json:"config,omitempty"`
	Products    int      `json:"products"`
	Stores      []string `json:"stores"`
	Unsupported []string `json:"unsupported,omitempty"`
	Schedule    string   `json:"schedule"`
	Storage     string   `json:"storage"`
	DryRun      bool     `json:"dry_run"`
}

// NewValidateCommand checks config and product file without fetching.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check configuration and the product file without fetching anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := validate(rootOpts)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "config ok (%d products, stores: %s)\n", rep.Products, strings.Join(rep.Stores, ", "))
				fmt.Fprintf(w, "schedule: %s, storage: %s, dry run: %t\n", rep.Schedule, rep.Storage, rep.DryRun)
				for _, u := range rep.Unsupported {
					fmt.Fprintf(w, "no classifier: %s\n", u)
				}
			}
			if opts.Strict && len(rep.Unsupported) > 0 {
				return fmt.Errorf("%d product(s) have no registered classifier", len(rep.Unsupported))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when a product has no registered classifier")
	return cmd
}

func validate(rootOpts *RootOptions) (ValidationReport, error) {
	path := config.ConfigPath(rootOpts.ConfigPath, nil)
	cfg, err := config.NewManager(path, logx.Nop()).Load()
	if err != nil {
		return ValidationReport{}, err
	}
	products, err := product.LoadFile(cfg.Products.File)
	if err != nil {
		return ValidationReport{}, err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return ValidationReport{}, err
	}
	spec, err := scheduler.ParseSchedule(cfg.Scheduler.Schedule)
	if err != nil {
		return ValidationReport{}, err
	}
	st, err := cfg.StorageOptions()
	if err != nil {
		return ValidationReport{}, err
	}
	nc, err := cfg.NotifierOptions()
	if err != nil {
		return ValidationReport{}, err
	}

	rep := ValidationReport{
		Config:   path,
		Products: len(products),
		Stores:   reg.Domains(),
		Schedule: spec.String(),
		Storage:  st.Driver,
		DryRun:   nc.DryRun,
	}
	for _, p := range products {
		if _, err := reg.Resolve(p.Domain()); err != nil {
			rep.Unsupported = append(rep.Unsupported, p.Label()+" ("+p.Domain()+")")
		}
	}
	return rep, nil
}
