package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/antlion/agentmq/internal/api"
	"github.com/antlion/agentmq/internal/config"
)

var apiAddr string

func main() {
	cfg, _ := config.Load(config.ConfigPath())

	root := &cobra.Command{
		Use:   "agentmqctl",
		Short: "Control the agentmq worker orchestration daemon",
	}
	root.PersistentFlags().StringVar(&apiAddr, "addr", cfg.Control.APIAddr, "daemon API address")

	root.AddCommand(
		statusCmd(),
		startCmd(),
		stopCmd(),
		scaleCmd(),
		registerCmd(),
		removeCmd(),
		publishCmd(),
		clearCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func client() *api.Client {
	return api.NewClient(apiAddr)
}

// --- status ---

func statusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent types, workers, and queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().Status()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			names := make([]string, 0, len(resp.Types))
			for name := range resp.Types {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "TYPE\tQUEUE\tDEPTH\tDESIRED\tRUNNING\tHEALTH\n")
			for _, name := range names {
				ts := resp.Types[name]
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					ts.AgentType, ts.Queue, ts.QueueDepth, ts.Desired, ts.Running, ts.Health)
			}
			w.Flush()
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// --- start / stop / scale ---

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <agent-type>",
		Short: "Activate an agent type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().SubmitCommand(api.CommandRequest{Kind: "START", AgentType: args[0]}); err != nil {
				return err
			}
			fmt.Printf("Agent type %s started\n", args[0])
			return nil
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <agent-type>",
		Short: "Drain all workers of an agent type and hold at zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().SubmitCommand(api.CommandRequest{Kind: "STOP", AgentType: args[0]}); err != nil {
				return err
			}
			fmt.Printf("Agent type %s stopping\n", args[0])
			return nil
		},
	}
}

func scaleCmd() *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "scale <agent-type>",
		Short: "Set the worker count for an agent type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().SubmitCommand(api.CommandRequest{
				Kind: "SCALE_TO", AgentType: args[0], Target: target,
			}); err != nil {
				return err
			}
			fmt.Printf("Agent type %s scaling to %d\n", args[0], target)
			return nil
		},
	}
	cmd.Flags().IntVar(&target, "workers", 0, "Target worker count")
	cmd.MarkFlagRequired("workers")
	return cmd
}

// --- register / remove ---

func registerCmd() *cobra.Command {
	var req api.RegisterTypeRequest
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new agent type at runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.AgentType == "" || req.Queue == "" || req.Command == "" {
				return fmt.Errorf("--type, --queue, and --command are required")
			}
			if err := client().RegisterType(req); err != nil {
				return fmt.Errorf("register failed: %w", err)
			}
			fmt.Printf("Agent type registered:\n")
			fmt.Printf("  Type:    %s\n", req.AgentType)
			fmt.Printf("  Queue:   %s\n", req.Queue)
			fmt.Printf("  Workers: %d-%d\n", req.Scaling.MinWorkers, req.Scaling.MaxWorkers)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.AgentType, "type", "", "Agent type name")
	cmd.Flags().StringVar(&req.Queue, "queue", "", "Queue the workers consume")
	cmd.Flags().StringVar(&req.Command, "command", "", "Worker command")
	cmd.Flags().StringArrayVar(&req.Args, "arg", nil, "Worker argument (repeatable)")
	cmd.Flags().StringArrayVar(&req.Env, "env", nil, "Worker environment entry KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&req.Dir, "dir", "", "Worker working directory")
	cmd.Flags().IntVar(&req.Scaling.MinWorkers, "min", 0, "Minimum workers")
	cmd.Flags().IntVar(&req.Scaling.MaxWorkers, "max", 1, "Maximum workers")
	cmd.Flags().Float64Var(&req.Scaling.ScaleUpThreshold, "threshold", 10, "Backlog per worker that triggers scale-up")
	cmd.Flags().IntVar(&req.Scaling.StepUp, "step-up", 1, "Workers added per scale-up")
	cmd.Flags().IntVar(&req.Scaling.StepDown, "step-down", 1, "Workers removed per scale-down")
	cmd.Flags().StringVar(&req.Scaling.Cooldown, "cooldown", "30s", "Minimum time between scaling actions")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <agent-type>",
		Short: "Unregister an agent type (must have no live workers)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().RemoveType(args[0]); err != nil {
				return err
			}
			fmt.Printf("Agent type %s removed\n", args[0])
			return nil
		},
	}
}

// --- publish ---

func publishCmd() *cobra.Command {
	var req api.PublishRequest
	var payload string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Enqueue a task payload ('-' reads stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.Queue == "" && req.AgentType == "" {
				return fmt.Errorf("--queue or --type is required")
			}

			raw := []byte(payload)
			if payload == "-" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				raw = data
			}
			if !json.Valid(raw) {
				return fmt.Errorf("payload must be valid JSON")
			}
			req.Payload = raw

			if err := client().Publish(req); err != nil {
				return fmt.Errorf("publish failed: %w", err)
			}
			fmt.Println("Task published")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Queue, "queue", "", "Destination queue")
	cmd.Flags().StringVar(&req.AgentType, "type", "", "Agent type whose queue receives the task")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON task payload, or '-' for stdin")
	cmd.MarkFlagRequired("payload")
	return cmd
}

// --- clear-unhealthy ---

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-unhealthy <agent-type>",
		Short: "Resume spawning for an agent type suspended after startup failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().ClearUnhealthy(args[0]); err != nil {
				return err
			}
			fmt.Printf("Agent type %s cleared\n", args[0])
			return nil
		},
	}
}
