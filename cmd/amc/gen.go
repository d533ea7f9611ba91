package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/robert-at-pretension-io/amc/internal/design"
	"github.com/robert-at-pretension-io/amc/internal/library"
)

var (
	genFormat string
	genOutput string
)

var genCmd = &cobra.Command{
	Use:   "gen <generator> [key=value...]",
	Short: "Run one generator and print its netlist or abstract",
	Long: `Runs a cell generator against the technology library.

Generators: ` + strings.Join(design.Generators(), ", ") + `

Example:
  amc gen write_driver_array size=8 --format abstract`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		lib, err := loadLibrary(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		d, err := design.Build(lib, design.Names(cfg.Cells), args[0], params)
		if err != nil {
			return err
		}

		var data []byte
		switch genFormat {
		case "netlist":
			data = []byte(design.Netlist(d))
		case "abstract":
			if data, err = design.MarshalAbstract(d); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown format %q (netlist or abstract)", genFormat)
		}

		if genOutput == "" || genOutput == "-" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := library.WriteFileAtomic(genOutput, data); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, %d instances, cells: %s)\n",
			genOutput, d.Name, len(d.Instances), strings.Join(d.Cells(), " "))
		return nil
	},
}

// parseParams turns key=value arguments into generator parameters. Integer
// values are kept as ints.
func parseParams(args []string) (design.Params, error) {
	params := design.Params{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		if n, err := strconv.Atoi(value); err == nil {
			params[key] = n
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func init() {
	genCmd.Flags().StringVarP(&genFormat, "format", "f", "netlist", "output format: netlist or abstract")
	genCmd.Flags().StringVarP(&genOutput, "output", "o", "", "write to a file instead of stdout")
}
