package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/cuemby/burrow/pkg/directory"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Inspect hosts",
}

var hostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List hosts in the inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := newStack(cfg, cluster{})
		if err != nil {
			return err
		}
		defer s.close()

		q := directory.Query{}
		q.ClusterID, _ = cmd.Flags().GetString("cluster")
		q.Tags, _ = cmd.Flags().GetStringSlice("tag")
		if state, _ := cmd.Flags().GetString("state"); state != "" {
			q.ResourceStates = []types.ResourceState{types.ResourceState(state)}
		}
		if status, _ := cmd.Flags().GetString("status"); status != "" {
			q.Statuses = []types.HostStatus{types.HostStatus(status)}
		}

		hosts, err := s.dir.ListHosts(q)
		if err != nil {
			return fmt.Errorf("failed to list hosts: %v", err)
		}
		printHosts(cmd.OutOrStdout(), hosts)
		return nil
	},
}

func init() {
	hostsCmd.AddCommand(hostsListCmd)

	hostsListCmd.Flags().String("cluster", "", "Only hosts of this cluster id")
	hostsListCmd.Flags().String("state", "", "Only hosts in this resource state")
	hostsListCmd.Flags().String("status", "", "Only hosts with this agent status")
	hostsListCmd.Flags().StringSlice("tag", nil, "Only hosts carrying every tag")
}

func printHosts(out io.Writer, hosts []*types.Host) {
	if len(hosts) == 0 {
		fmt.Fprintln(out, "No hosts found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tHYPERVISOR\tSTATUS\tSTATE\tCLUSTER\tOWNER")
	for _, h := range hosts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			h.ID, h.Name, h.Hypervisor, h.Status, h.ResourceState, h.ClusterID, h.ManagementServerID)
	}
	w.Flush()
	fmt.Fprintf(out, "\nTotal: %d hosts\n", len(hosts))
}
