// Command tree-of prints a Job Graph without running it: a dry-run over
// internal/graph.Build, grounded on original_source/src/commands/tree_of.rs.
package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/primeos-work/butido/internal/graph"
	"github.com/primeos-work/butido/internal/models"
)

type treeFlags struct {
	manifest string
	image    string
	env      []string
}

func init() {
	f := &treeFlags{}

	cmd := &cobra.Command{
		Use:   "tree-of <package> <version>",
		Short: "Print the Job Graph for a package without building it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(f, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&f.manifest, "manifest", "", "path to the package repository manifest (YAML)")
	cmd.Flags().StringVar(&f.image, "image", "", "container image the graph would build with")
	cmd.Flags().StringArrayVar(&f.env, "env", nil, "environment overlay entry KEY=VALUE, repeatable")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("image")

	RootCmd.AddCommand(cmd)
}

func runTree(f *treeFlags, packageName, packageVersion string) error {
	repo, err := loadRepository(f.manifest)
	if err != nil {
		return err
	}
	env, err := parseEnvOverlay(f.env)
	if err != nil {
		return err
	}

	g, err := graph.Build(repo,
		models.PackageName(packageName),
		models.PackageVersion(packageVersion),
		models.ImageName(f.image),
		env,
	)
	if err != nil {
		return err
	}

	printNode(g, g.Root, 0, map[models.JobID]bool{})
	return nil
}

func printNode(g *graph.Graph, id models.JobID, depth int, seen map[models.JobID]bool) {
	node, ok := g.Node(id)
	if !ok || seen[id] {
		return
	}
	seen[id] = true

	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	fmt.Printf("%s%s-%s\n", indent, node.Package.Name, node.Package.Version)

	deps := append([]models.JobID(nil), node.Dependencies...)
	sort.Slice(deps, func(i, j int) bool {
		di, _ := g.Node(deps[i])
		dj, _ := g.Node(deps[j])
		return di.Package.Name < dj.Package.Name
	})
	for _, dep := range deps {
		printNode(g, dep, depth+1, seen)
	}
}
