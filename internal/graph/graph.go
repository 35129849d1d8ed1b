// Package graph builds the Job Graph spec.md §4.1 describes: a walk of a
// root package's build- and runtime-dependency closure against a
// repository, assigning each resolved package a fresh job UUID and
// recording its direct dependency UUIDs. Grounded in idiom on the
// teacher's store-layer dependency listing (server/store/jobs/jobs.go's
// ListDependencies/CreateDependency pair) but the construction algorithm
// itself is original_source/src/orchestrator/orchestrator.rs's wiring
// precondition rather than anything transport- or storage-shaped.
package graph

import (
	"fmt"

	"github.com/primeos-work/butido/internal/gerror"
	"github.com/primeos-work/butido/internal/models"
	"github.com/primeos-work/butido/internal/repository"
)

// Graph is a built, validated Job Graph: acyclic, every dependency UUID
// resolves within the same graph, and every non-root node has exactly one
// parent (invariants 1 and 2 of spec.md §8).
type Graph struct {
	Root  models.JobID
	Nodes map[models.JobID]models.JobDefinition

	// parentOf maps a node's id to the single node that depends on it.
	// The root is absent from this map.
	parentOf map[models.JobID]models.JobID
}

// Node returns the JobDefinition for id.
func (g *Graph) Node(id models.JobID) (models.JobDefinition, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Parent returns the unique node that depends on id, or the zero value and
// false if id is the root.
func (g *Graph) Parent(id models.JobID) (models.JobID, bool) {
	p, ok := g.parentOf[id]
	return p, ok
}

// Len reports the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.Nodes) }

// Build resolves rootName/rootVersion against repo, walks its dependency
// closure, and assembles a Graph. Env and image are attached to every node
// (spec.md does not distinguish per-node image/env overlays at graph-build
// time; the orchestrator may still override these before scheduling).
func Build(repo repository.Repository, rootName models.PackageName, rootVersion models.PackageVersion, image models.ImageName, env models.EnvSet) (*Graph, error) {
	root, err := resolveRoot(repo, rootName, rootVersion)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*buildNode) // keyed by package name+version
	order := []*buildNode{}

	var walk func(pkg models.Package) (*buildNode, error)
	walk = func(pkg models.Package) (*buildNode, error) {
		key := nodeKey(pkg.Name, pkg.Version)
		if existing, ok := nodes[key]; ok {
			return existing, nil
		}
		n := &buildNode{
			id:  models.NewJobID(),
			pkg: pkg,
		}
		// Insert before recursing into dependencies so a cycle back to
		// this node is detected rather than looping forever.
		nodes[key] = n
		n.state = visiting
		order = append(order, n)

		for _, dep := range pkg.AllDependencies() {
			depPkg, err := repository.ResolveExactlyOne(repo, dep.Name, dep.Constraint)
			if err != nil {
				return nil, err
			}
			depKey := nodeKey(depPkg.Name, depPkg.Version)
			if existing, ok := nodes[depKey]; ok && existing.state == visiting {
				return nil, gerror.NewErrRepositoryResolution(
					fmt.Sprintf("dependency cycle detected at package %s %s", depPkg.Name, depPkg.Version))
			}
			child, err := walk(depPkg)
			if err != nil {
				return nil, err
			}
			n.dependencies = append(n.dependencies, child)
		}

		n.state = done
		return n, nil
	}

	rootNode, err := walk(root)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		Root:     rootNode.id,
		Nodes:    make(map[models.JobID]models.JobDefinition, len(order)),
		parentOf: make(map[models.JobID]models.JobID, len(order)),
	}
	for _, n := range order {
		deps := make([]models.JobID, 0, len(n.dependencies))
		for _, child := range n.dependencies {
			deps = append(deps, child.id)
			if existingParent, ok := g.parentOf[child.id]; ok && existingParent != n.id {
				return nil, gerror.NewErrRepositoryResolution(
					fmt.Sprintf("package %s %s has more than one dependent; parent uniqueness required for task wiring",
						child.pkg.Name, child.pkg.Version))
			}
			g.parentOf[child.id] = n.id
		}
		g.Nodes[n.id] = models.JobDefinition{
			ID:           n.id,
			Package:      n.pkg,
			Image:        image,
			Env:          n.pkg.Env.Merge(env),
			Dependencies: deps,
		}
	}

	if err := validate(g); err != nil {
		return nil, err
	}
	return g, nil
}

type nodeState int

const (
	unvisited nodeState = iota
	visiting
	done
)

type buildNode struct {
	id           models.JobID
	pkg          models.Package
	dependencies []*buildNode
	state        nodeState
}

func nodeKey(name models.PackageName, version models.PackageVersion) string {
	return string(name) + "@" + string(version)
}

func resolveRoot(repo repository.Repository, name models.PackageName, version models.PackageVersion) (models.Package, error) {
	if version != "" {
		return repository.ResolveExactlyOne(repo, name, models.ExactVersion(version))
	}
	matches := repo.FindByName(name)
	switch len(matches) {
	case 0:
		return models.Package{}, gerror.NewErrRepositoryResolution(fmt.Sprintf("no package named %s", name))
	case 1:
		return matches[0], nil
	default:
		return models.Package{}, gerror.NewErrRepositoryResolution(
			fmt.Sprintf("%d packages named %s, an explicit version is required", len(matches), name))
	}
}

// validate checks invariants 1 and 2 of spec.md §8: every dependency UUID
// resolves within the graph and the graph is acyclic, and every non-root
// node has exactly one parent.
func validate(g *Graph) error {
	for id, node := range g.Nodes {
		for _, dep := range node.Dependencies {
			if _, ok := g.Nodes[dep]; !ok {
				return gerror.NewErrRepositoryResolution(
					fmt.Sprintf("job %s depends on unknown job %s", id, dep))
			}
		}
	}
	if err := checkAcyclic(g); err != nil {
		return err
	}
	for id := range g.Nodes {
		if id == g.Root {
			if _, ok := g.parentOf[id]; ok {
				return gerror.NewErrRepositoryResolution("root node must not have a parent")
			}
			continue
		}
		if _, ok := g.parentOf[id]; !ok {
			return gerror.NewErrRepositoryResolution(fmt.Sprintf("non-root job %s has no parent", id))
		}
	}
	return nil
}

func checkAcyclic(g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[models.JobID]int, len(g.Nodes))

	var visit func(id models.JobID) error
	visit = func(id models.JobID) error {
		color[id] = gray
		for _, dep := range g.Nodes[id].Dependencies {
			switch color[dep] {
			case gray:
				return gerror.NewErrRepositoryResolution(fmt.Sprintf("dependency cycle through job %s", dep))
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
