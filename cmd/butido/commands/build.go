// Command build runs the full Job Graph for a root package: builds the
// graph from the configured repository manifest, then hands it to the
// orchestrator. Grounded on original_source/src/commands/build.rs (resolve
// root, build tree, orchestrate, print result) and bb/cmd/bb/commands/run's
// cobra shape.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/primeos-work/butido/internal/app"
	"github.com/primeos-work/butido/internal/graph"
	"github.com/primeos-work/butido/internal/models"
)

type buildFlags struct {
	db dbFlags

	manifest string
	image    string
	gitHash  string
	env      []string

	noVerify     bool
	scriptFilter bool
}

func init() {
	f := &buildFlags{}

	cmd := &cobra.Command{
		Use:   "build <package> <version>",
		Short: "Build a package and its dependency closure",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), f, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&f.manifest, "manifest", "", "path to the package repository manifest (YAML)")
	cmd.Flags().StringVar(&f.image, "image", "", "container image to build with")
	cmd.Flags().StringVar(&f.gitHash, "git-hash", "", "git hash to record against this submit")
	cmd.Flags().StringArrayVar(&f.env, "env", nil, "environment overlay entry KEY=VALUE, repeatable")
	cmd.Flags().BoolVar(&f.noVerify, "no-verify", false, "skip source hash verification before building")
	cmd.Flags().BoolVar(&f.scriptFilter, "script-filter", false, "restrict artifact reuse candidates to matching script text")
	f.db.register(cmd)
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("image")

	RootCmd.AddCommand(cmd)
}

func runBuild(ctx context.Context, f *buildFlags, packageName, packageVersion string) error {
	repo, err := loadRepository(f.manifest)
	if err != nil {
		return err
	}
	env, err := parseEnvOverlay(f.env)
	if err != nil {
		return err
	}

	a, cleanup, err := buildApp(ctx, &f.db, repo, app.Options{
		ScriptFilter:     f.scriptFilter,
		SkipVerification: f.noVerify,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	g, err := graph.Build(repo,
		models.PackageName(packageName),
		models.PackageVersion(packageVersion),
		models.ImageName(f.image),
		env,
	)
	if err != nil {
		return err
	}

	submit := models.Submit{
		ID:          models.NewSubmitID(),
		Timestamp:   time.Now().Unix(),
		RootPackage: models.PackageName(packageName),
		Image:       models.ImageName(f.image),
		GitHash:     f.gitHash,
	}

	result, err := a.Orchestrator.Run(ctx, g, submit)
	if err != nil {
		return err
	}

	if len(result.Errors) > 0 {
		for _, nodeErr := range result.Errors {
			if node, ok := g.Node(nodeErr.NodeID); ok {
				fmt.Printf("FAILED %s-%s: %v\n", node.Package.Name, node.Package.Version, nodeErr.Err)
			} else {
				fmt.Printf("FAILED %s: %v\n", nodeErr.NodeID, nodeErr.Err)
			}
		}
		return fmt.Errorf("build failed for submit %s", submit.ID)
	}

	for _, path := range result.Artifacts {
		fmt.Println(path)
	}
	return nil
}
