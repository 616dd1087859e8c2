package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/formulas"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/log"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

var ErrInvalidGraph = errors.New("invalid graph")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check node types, edges, cycles and formula references of a graph file",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level")).With("module", "playground", "action", "validate")

			graph, err := LoadGraphFile(command.Args().First())
			if err != nil {
				return err
			}

			if err := ValidateGraph(graph, formulas.NewDefaultRepository(logger)); err != nil {
				logger.ErrorContext(ctx, "Graph is invalid", "graph_id", graph.ID, "error", err)

				return err
			}

			logger.InfoContext(ctx, "Graph is valid", "graph_id", graph.ID, "nodes", len(graph.Nodes), "edges", len(graph.Edges))
			_, err = fmt.Fprintf(command.Root().Writer, "%s: %d nodes, %d edges, ok\n", graph.ID, len(graph.Nodes), len(graph.Edges))

			return err
		},
	}
}

// ValidateGraph reports every problem found in graph: invalid nodes, unknown formulas, and
// edges the topology would reject or silently replace.
func ValidateGraph(graph *models.GraphSnapshot, catalog topology.FormulaLookup) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(graph); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	store := topology.NewStore(catalog)
	if _, err := store.SetNodes(graph.Nodes); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	var problems []error

	for _, node := range graph.Nodes {
		data, ok := node.Data.(models.FormulaData)
		if !ok {
			continue
		}

		if _, found := catalog.Lookup(data.FormulaID); !found {
			problems = append(problems, fmt.Errorf("node %s: %w %q", node.ID, topology.ErrUnknownFormula, data.FormulaID))
		}
	}

	for _, edge := range graph.Edges {
		result, err := store.Connect(edge)
		if err != nil {
			problems = append(problems, fmt.Errorf("edge %s: %w", edge.ID, err))

			continue
		}

		for _, replaced := range result.Replaced {
			problems = append(problems, fmt.Errorf("edge %s: conflicts with edge %s on %s", edge.ID, replaced.ID, edge.Target))
		}
	}

	for _, id := range graph.AutoRun {
		node, ok := store.Node(id)
		if !ok || node.Type != models.NodeTypeFormula {
			problems = append(problems, fmt.Errorf("auto_run %s: not a formula node", id))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(problems...))
	}

	return nil
}
