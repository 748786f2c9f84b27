package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/psantana5/hpoprun/internal/scene"
)

func newSceneCmd(a *app) *cobra.Command {
	var printOnly, jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Build a typed scene and run the propagator with it",
		Long: `Scene builds the propagator's positional arguments from named, validated
values instead of a raw argument list.

Example:
  hpoprun scene walker --planes 6 --per-plane 8 --phasing 2
  hpoprun scene constellation beidou
  hpoprun scene perturbation --epoch 2024-01-02T04:00:30.5Z --degree 20 --order 20`,
	}

	cmd.PersistentFlags().BoolVar(&printOnly, "print", false, "print the argument vector instead of running it")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print the run result as JSON after the child exits")

	run := func(c *cobra.Command, b scene.Builder) error {
		argv, err := b.Args()
		if err != nil {
			return err
		}
		if printOnly {
			_, err := fmt.Fprintln(c.OutOrStdout(), strings.Join(argv, " "))
			return err
		}
		return a.launch(c, argv, jsonOutput)
	}

	cmd.AddCommand(
		newWalkerCmd(run),
		newConstellationCmd(run),
		newPerturbationCmd(run),
	)
	return cmd
}

type sceneRunner func(*cobra.Command, scene.Builder) error

func elementFlags(fs *pflag.FlagSet, e *scene.Elements) {
	fs.Float64Var(&e.A, "a", e.A, "semi-major axis (km)")
	fs.Float64Var(&e.E, "e", e.E, "eccentricity")
	fs.Float64Var(&e.I, "i", e.I, "inclination (deg)")
	fs.Float64Var(&e.RAAN, "raan", e.RAAN, "right ascension of the ascending node (deg)")
	fs.Float64Var(&e.ArgPerigee, "argp", e.ArgPerigee, "argument of perigee (deg)")
	fs.Float64Var(&e.TrueAnomaly, "nu", e.TrueAnomaly, "true anomaly (deg)")
}

func newWalkerCmd(run sceneRunner) *cobra.Command {
	w := scene.DefaultWalker()

	cmd := &cobra.Command{
		Use:   "walker",
		Short: "Walker-delta constellation from one seed satellite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, w)
		},
	}

	elementFlags(cmd.Flags(), &w.Seed)
	cmd.Flags().IntVar(&w.Planes, "planes", w.Planes, "number of orbital planes (T)")
	cmd.Flags().IntVar(&w.PerPlane, "per-plane", w.PerPlane, "satellites per plane (S)")
	cmd.Flags().IntVar(&w.Phasing, "phasing", w.Phasing, "phasing factor (F)")
	return cmd
}

func newConstellationCmd(run sceneRunner) *cobra.Command {
	names := make([]string, 0, 4)
	for _, c := range scene.Constellations() {
		names = append(names, strings.ToLower(string(c)))
	}

	return &cobra.Command{
		Use:       "constellation <" + strings.Join(names, "|") + ">",
		Short:     "Built-in GNSS constellation scene",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := scene.ParseConstellation(args[0])
			if err != nil {
				return err
			}
			return run(cmd, c)
		},
	}
}

func newPerturbationCmd(run sceneRunner) *cobra.Command {
	p := scene.DefaultPerturbation(time.Time{})
	var epoch string

	cmd := &cobra.Command{
		Use:   "perturbation",
		Short: "Single satellite with drag and solar radiation pressure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339Nano, epoch)
			if err != nil {
				return fmt.Errorf("%w: --epoch must be RFC 3339, e.g. 2024-01-02T04:00:30Z", scene.ErrInvalid)
			}
			p.Epoch = t
			return run(cmd, p)
		},
	}

	cmd.Flags().StringVar(&epoch, "epoch", "", "UTC start epoch, RFC 3339")
	cmd.MarkFlagRequired("epoch")
	elementFlags(cmd.Flags(), &p.Orbit)
	cmd.Flags().IntVar(&p.Degree, "degree", p.Degree, "gravity field degree (n)")
	cmd.Flags().IntVar(&p.Order, "order", p.Order, "gravity field order (m)")
	cmd.Flags().Float64Var(&p.AreaDrag, "area-drag", p.AreaDrag, "drag cross-section (m^2)")
	cmd.Flags().Float64Var(&p.Mass, "mass", p.Mass, "spacecraft mass (kg)")
	cmd.Flags().Float64Var(&p.CD, "cd", p.CD, "drag coefficient")
	cmd.Flags().Float64Var(&p.CR, "cr", p.CR, "radiation pressure coefficient")
	cmd.Flags().Float64Var(&p.AreaSolar, "area-solar", p.AreaSolar, "solar radiation cross-section (m^2)")
	return cmd
}
