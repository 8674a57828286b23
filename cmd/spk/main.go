package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maximd/spk/api"
	"github.com/maximd/spk/solve"
	"github.com/maximd/spk/storage"
)

const (
	exitSolverFailure = 1
	exitInvalidInput  = 2
)

var (
	repoDirs []string
	options  []string
	verbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spk",
		Short: "Package manager for a content-addressed filesystem",
	}

	solveCmd := &cobra.Command{
		Use:   "solve REQUEST...",
		Short: "Resolve a consistent environment for the given package requests",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSolve,
	}
	solveCmd.Flags().StringArrayVarP(&repoDirs, "local-repo", "r", nil, "Path to a local package repository (repeatable)")
	solveCmd.Flags().StringArrayVarP(&options, "opt", "o", nil, "Build option (name=value, repeatable)")
	solveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose solver output")
	rootCmd.AddCommand(solveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitInvalidInput)
	}
}

func runSolve(cmd *cobra.Command, args []string) {
	log := logrus.New()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	solver := solve.New(log)

	if len(repoDirs) == 0 {
		repoDirs = []string{"."}
	}
	for _, dir := range repoDirs {
		repo, err := storage.NewFSRepository(dir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(exitInvalidInput)
		}
		solver.AddRepository(repo)
	}

	opts := api.HostOptions()
	for _, o := range options {
		req, err := api.ParseRequest(o)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(exitInvalidInput)
		}
		vr, ok := req.(api.VarRequest)
		if !ok {
			fmt.Fprintf(os.Stderr, "error: option %q must be of the form name=value\n", o)
			os.Exit(exitInvalidInput)
		}
		opts.Set(vr.Var, vr.Value)
	}
	solver.UpdateOptions(opts)

	for _, arg := range args {
		req, err := api.ParseRequest(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(exitInvalidInput)
		}
		solver.AddRequest(req)
	}

	solution, err := solver.Solve()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitSolverFailure)
	}

	for _, resolved := range solution.Items() {
		fmt.Printf("%s  (from %s)\n", resolved.Spec.Pkg.String(), resolved.Source.String())
	}
	for _, entry := range solution.ToEnvironment(nil) {
		fmt.Println(entry)
	}
}
