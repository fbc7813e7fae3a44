package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/rollout"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/router"
	"github.com/Mobizinc/ai-sdk-slackbot-sub003/internal/ticket"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect rollout policy files",
	}
	cmd.AddCommand(newPolicyCheckCmd(), newPolicyBucketCmd())
	return cmd
}

func newPolicyCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Parse a policy file and print the state of every operation",
		Long: `Parse a policy file (YAML, JSON or TOML) and print the effective state of
every routed operation. Operations the file does not name are off.

Names that are not routed operations are reported and fail the check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := rollout.NewFileSource(args[0]).Load(cmd.Context())
			if err != nil {
				return err
			}
			return printPolicy(cmd.OutOrStdout(), snap)
		},
	}
}

func printPolicy(out io.Writer, snap rollout.Snapshot) error {
	policy := rollout.NewPolicy(snap)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tSTATE")
	for _, op := range ticket.Operations() {
		fmt.Fprintf(tw, "%s\t%s\n", op.Name, policy.Get(op.Name))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var unknown []string
	for _, name := range snap.Names() {
		if _, ok := ticket.LookupOperation(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown operations in policy: %v", unknown)
	}
	return nil
}

func newPolicyBucketCmd() *cobra.Command {
	var policyFile string
	cmd := &cobra.Command{
		Use:   "bucket <identity>",
		Short: "Show the bucket of an identity and the path it takes per operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := rollout.NewSnapshot(nil)
			if policyFile != "" {
				var err error
				if snap, err = rollout.NewFileSource(policyFile).Load(cmd.Context()); err != nil {
					return err
				}
			}
			return printBucket(cmd.OutOrStdout(), args[0], snap)
		},
	}
	cmd.Flags().StringVar(&policyFile, "policy", "", "policy file; without it every operation is off")
	return cmd
}

func printBucket(out io.Writer, identity string, snap rollout.Snapshot) error {
	policy := rollout.NewPolicy(snap)
	rc := router.RoutingContext{CallerID: identity}
	gate := router.BucketGate{}

	fmt.Fprintf(out, "identity %s is in bucket %d\n", rc.Identity(), router.Bucket(rc.Identity()))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tSTATE\tPATH")
	for _, op := range ticket.Operations() {
		state := policy.Get(op.Name)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", op.Name, state, gate.Decide(op, rc, state))
	}
	return tw.Flush()
}
