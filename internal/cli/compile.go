package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/catalog/internal/registry"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledRegistry is the resolved view of a registry: every declaration
// after relation merging, plus the event routing table.
type CompiledRegistry struct {
	Entities  []CompiledEntity   `json:"entities"`
	Links     []CompiledLink     `json:"links"`
	Relations []CompiledRelation `json:"relations"`
	Events    []CompiledEvent    `json:"events"`
}

// CompiledEntity is one entity declaration.
type CompiledEntity struct {
	Name       string   `json:"name"`
	Alias      string   `json:"alias"`
	Fields     []string `json:"fields,omitempty"`
	SoftDelete bool     `json:"soft_delete,omitempty"`
	Listeners  []string `json:"listeners"`
}

// CompiledLink is one link declaration.
type CompiledLink struct {
	Name      string   `json:"name"`
	Alias     string   `json:"alias"`
	Parent    string   `json:"parent"`
	Child     string   `json:"child"`
	Relation  string   `json:"relation"`
	Listeners []string `json:"listeners"`
}

// CompiledRelation is one merged parent -> child relation.
type CompiledRelation struct {
	Name      string `json:"name"`
	Parent    string `json:"parent"`
	Child     string `json:"child"`
	ChildRef  string `json:"child_ref,omitempty"`
	ParentRef string `json:"parent_ref,omitempty"`
	Link      string `json:"link,omitempty"`
}

// CompiledEvent is the classification of one event name.
type CompiledEvent struct {
	Name   string `json:"name"`
	Action string `json:"action"`
	Target string `json:"target"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <registry-dir>",
		Short: "Compile declarations into the resolved registry",
		Long: `Compile and validate the CUE declarations of a registry directory and
print the resolved registry: entities, links, merged relations and the
event routing table. Use --output to write it as JSON.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	reg, err := LoadRegistry(dir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return formatter.fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	result := compileView(reg)

	if opts.Output != "" {
		if err := writeJSONFile(opts.Output, result); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeWriteFailed, "writing output file", err)
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d entities, %d links, %d relations\n\n",
		len(result.Entities), len(result.Links), len(result.Relations))

	if len(result.Relations) > 0 {
		fmt.Fprintln(w, "Relations:")
		for _, rel := range result.Relations {
			via := rel.ChildRef
			if rel.Link != "" {
				via = "link " + rel.Link
			}
			fmt.Fprintf(w, "  %s.%s → %s (%s)\n", rel.Parent, rel.Name, rel.Child, via)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Events:")
	for _, ev := range result.Events {
		fmt.Fprintf(w, "  %s → %s %s\n", ev.Name, ev.Target, ev.Action)
	}

	if opts.Output != "" {
		fmt.Fprintf(w, "\nWrote registry to %s\n", opts.Output)
	}
	return nil
}

func compileView(reg *registry.Registry) CompiledRegistry {
	out := CompiledRegistry{
		Entities:  []CompiledEntity{},
		Links:     []CompiledLink{},
		Relations: []CompiledRelation{},
		Events:    []CompiledEvent{},
	}

	for _, ent := range reg.Entities() {
		out.Entities = append(out.Entities, CompiledEntity{
			Name:       ent.Name,
			Alias:      ent.Alias,
			Fields:     ent.Fields,
			SoftDelete: ent.SoftDelete,
			Listeners:  ent.Listeners,
		})
	}
	for _, lnk := range reg.Links() {
		out.Links = append(out.Links, CompiledLink{
			Name:      lnk.Name,
			Alias:     lnk.Alias,
			Parent:    lnk.Parent.Entity,
			Child:     lnk.Child.Entity,
			Relation:  lnk.Relation().Name,
			Listeners: lnk.Listeners,
		})
	}
	for _, rel := range reg.AllRelations() {
		out.Relations = append(out.Relations, CompiledRelation{
			Name:      rel.Name,
			Parent:    rel.Parent,
			Child:     rel.Child,
			ChildRef:  rel.ChildRef,
			ParentRef: rel.ParentRef,
			Link:      rel.Link,
		})
	}
	for _, name := range reg.Events() {
		b, _ := reg.Classify(name)
		out.Events = append(out.Events, CompiledEvent{
			Name:   name,
			Action: string(b.Action),
			Target: b.Type(),
		})
	}
	return out
}

// writeJSONFile writes v as indented JSON.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
