package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/engine"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/formulas"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/log"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/models"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/propagation"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/runtime"
	"github.com/OrderlyNetwork/formula-playground-sub001/pkg/topology"
	cli "github.com/urfave/cli/v3"
)

var ErrExecutionFailed = errors.New("formula execution failed")

func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Aliases:   []string{"r"},
		Usage:     "Execute every formula node of a graph file once and print the resulting states",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Per-formula execution timeout",
				Value: runtime.DefaultExecutionTimeout,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.Setup(command.String("log-level")).With("module", "playground", "action", "run")

			graph, err := LoadGraphFile(command.Args().First())
			if err != nil {
				return err
			}

			states, err := RunGraph(ctx, logger, graph, command.Duration("timeout"))
			if err != nil && !errors.Is(err, ErrExecutionFailed) {
				return err
			}

			encoder := json.NewEncoder(command.Root().Writer)
			encoder.SetIndent("", "  ")

			if encodeErr := encoder.Encode(states); encodeErr != nil {
				return encodeErr
			}

			return err
		},
	}
}

// RunGraph loads graph into a fresh runtime and executes its formula nodes in dependency
// order, waiting for each to settle so downstream nodes see upstream results.
func RunGraph(ctx context.Context, logger *slog.Logger, graph *models.GraphSnapshot, timeout time.Duration) ([]models.NodeState, error) {
	order, err := topology.TopologicalOrder(graph.Nodes, graph.Edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	repo := formulas.NewDefaultRepository(logger)
	manager := runtime.NewManager(logger, engine.NewFuncEvaluator(), runtime.NewStateStore(), runtime.Config{ExecutionTimeout: timeout})

	if err := manager.Initialize(ctx); err != nil {
		return nil, err
	}

	defer func() {
		if err := manager.Dispose(context.WithoutCancel(ctx)); err != nil {
			logger.WarnContext(ctx, "Failed to dispose execution manager", "error", err)
		}
	}()

	propagator := propagation.NewPropagator(logger, topology.NewStore(repo), manager, repo)
	if err := propagator.Load(ctx, graph); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}

	var failed []error

	for _, id := range order {
		if !manager.HasContext(id) {
			continue
		}

		if err := manager.ExecuteNode(ctx, id); err != nil {
			return nil, err
		}

		state, err := manager.Await(ctx, id)
		if err != nil {
			return nil, err
		}

		if state.Status == models.ExecutionStatusError {
			failed = append(failed, fmt.Errorf("node %s: %s", id, state.ErrorMessage))
		}
	}

	states := manager.States().All()

	if len(failed) > 0 {
		return states, fmt.Errorf("%w: %w", ErrExecutionFailed, errors.Join(failed...))
	}

	return states, nil
}
