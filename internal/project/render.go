package project

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ddddddO/gtree"
	"gopkg.in/yaml.v3"
)

// Output formats understood by Render.
const (
	FormatTree = "tree"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render writes the chain to w in the given format.
func Render(w io.Writer, c *Chain, format string) error {
	switch format {
	case FormatTree:
		return renderTree(w, c)
	case FormatJSON:
		data, err := json.MarshalIndent(c.Map(), "", "  ")
		if err != nil {
			return fmt.Errorf("encoding chain: %w", err)
		}

		_, err = fmt.Fprintln(w, string(data))

		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(c.Map()); err != nil {
			return fmt.Errorf("encoding chain: %w", err)
		}

		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q: must be one of tree, json, yaml", format)
	}
}

func renderTree(w io.Writer, c *Chain) error {
	root := gtree.NewRoot("workspace")

	for _, r := range c.Roots {
		label := r.Dir
		if r.Name != "" && r.Name != r.Dir {
			label = fmt.Sprintf("%s (%s)", r.Dir, r.Name)
		}

		addNodes(root.Add(label), r.Deps)
	}

	return gtree.OutputFromRoot(w, root)
}

func addNodes(parent *gtree.Node, nodes []*Node) {
	for _, n := range nodes {
		addNodes(parent.Add(n.Name), n.Deps)
	}
}
