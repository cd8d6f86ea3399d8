package topology

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	cmdUtil "github.com/ValentinKolb/dkv-admin/cmd/util"
	"github.com/ValentinKolb/dkv-admin/lib/metadata"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	TopologyCommands = &cobra.Command{
		Use:   "topology",
		Short: "Inspect and bootstrap the cluster topology",
		Long: `Inspect and bootstrap the cluster topology. Storage nodes and replication groups
registered here are the targets of every plan. Changes are committed as a new topology
version and broadcast to the node agents.`,
	}

	showCmd = &cobra.Command{
		Use:   "show",
		Short: "Show storage nodes and replication groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, _ := cmd.Flags().GetString("output")
			return cmdUtil.RunWithAdmin(cmd, func(_ context.Context, a *cmdUtil.Admin) error {
				topo, err := a.Metadata.ReadTopology()
				if err != nil {
					return err
				}
				if output == "yaml" {
					return yaml.NewEncoder(cmd.OutOrStdout()).Encode(topo)
				}
				return writeTopology(cmd.OutOrStdout(), topo)
			})
		},
	}

	addStorageNodeCmd = &cobra.Command{
		Use:   "add-sn <id> <endpoint>",
		Short: "Register a storage node or change its endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sn := &metadata.StorageNode{ID: args[0], Endpoint: args[1]}
			return update(cmd, func(t *metadata.Topology) error {
				return putStorageNode(t, sn)
			})
		},
	}

	addGroupCmd = &cobra.Command{
		Use:   "add-group <group> <node=storage-node>...",
		Short: "Register a replication group and the placement of its nodes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			arbiters, _ := cmd.Flags().GetStringSlice("arbiter")
			g, err := parseGroup(args[0], args[1:], arbiters)
			if err != nil {
				return err
			}
			return update(cmd, func(t *metadata.Topology) error {
				return putGroup(t, g)
			})
		},
	}
)

func init() {
	cmdUtil.SetupAdminFlags(TopologyCommands, "warn")
	showCmd.Flags().StringP("output", "o", "text", cmdUtil.WrapString("Output format (text, yaml)"))
	addGroupCmd.Flags().StringSlice("arbiter", nil, cmdUtil.WrapString("Arbiter nodes of the group as node=storage-node"))

	TopologyCommands.AddCommand(showCmd, addStorageNodeCmd, addGroupCmd)
}

// update commits a topology change and reports the new version
func update(cmd *cobra.Command, mutate func(t *metadata.Topology) error) error {
	return cmdUtil.RunWithAdmin(cmd, func(ctx context.Context, a *cmdUtil.Admin) error {
		topo, changed, err := metadata.Update(ctx, a.Metadata, a.Broadcaster, metadata.KindTopology, mutate)
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintf(cmd.OutOrStdout(), "topology updated to version %d\n", topo.Seq)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "topology version %d already contains the change\n", topo.Seq)
		}
		return nil
	})
}

func putStorageNode(t *metadata.Topology, sn *metadata.StorageNode) error {
	if old := t.StorageNode(sn.ID); old != nil && old.Endpoint == sn.Endpoint {
		return metadata.ErrNoChange
	}
	t.PutStorageNode(sn)
	return nil
}

func putGroup(t *metadata.Topology, g *metadata.RepGroup) error {
	if old := t.Group(g.ID); old != nil && sameGroup(old, g) {
		return metadata.ErrNoChange
	}
	t.PutGroup(g)
	return nil
}

func sameGroup(a, b *metadata.RepGroup) bool {
	if len(a.Nodes) != len(b.Nodes) {
		return false
	}
	for key, n := range a.Nodes {
		o, ok := b.Nodes[key]
		if !ok || o.Type != n.Type || !strings.EqualFold(o.StorageNode, n.StorageNode) {
			return false
		}
	}
	return true
}

// parseGroup builds a group from node=storage-node placements
func parseGroup(id string, replicas, arbiters []string) (*metadata.RepGroup, error) {
	g := &metadata.RepGroup{ID: id, Nodes: make(map[string]*metadata.RepNode)}
	add := func(spec string, typ metadata.NodeType) error {
		node, sn, ok := strings.Cut(spec, "=")
		if !ok || node == "" || sn == "" {
			return fmt.Errorf("invalid node placement %q (expected node=storage-node)", spec)
		}
		key := strings.ToLower(node)
		if _, dup := g.Nodes[key]; dup {
			return fmt.Errorf("node %s is placed twice", node)
		}
		g.Nodes[key] = &metadata.RepNode{ID: node, Type: typ, StorageNode: sn}
		return nil
	}
	for _, spec := range replicas {
		if err := add(spec, metadata.ReplicationNode); err != nil {
			return nil, err
		}
	}
	for _, spec := range arbiters {
		if err := add(spec, metadata.ArbiterNode); err != nil {
			return nil, err
		}
	}
	return g, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// writeTopology renders one box per storage node listing the services placed on it
func writeTopology(w io.Writer, t *metadata.Topology) error {
	header := titleStyle.Render(fmt.Sprintf("Topology v%d", t.Seq)) +
		dimStyle.Render(fmt.Sprintf("  replication factor %d, %d storage nodes, %d groups", t.ReplicationFactor, len(t.StorageNodes), len(t.Groups)))

	var boxes []string
	for _, sn := range t.SortedStorageNodes() {
		lines := []string{titleStyle.Render(sn.ID), dimStyle.Render(sn.Endpoint)}
		for _, n := range t.ServicesOn(sn.ID) {
			lines = append(lines, fmt.Sprintf("%s (%s)", n.ID, n.Type))
		}
		boxes = append(boxes, boxStyle.Render(strings.Join(lines, "\n")))
	}

	var params []string
	for k, v := range t.Params {
		params = append(params, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(params)

	out := header + "\n" + lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
	if len(params) > 0 {
		out += "\n" + dimStyle.Render("params: "+strings.Join(params, " "))
	}
	_, err := fmt.Fprintln(w, out)
	return err
}
