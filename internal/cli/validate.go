package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/catalog/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Entities int                        `json:"entities"`
	Links    int                        `json:"links"`
	Events   int                        `json:"events"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <registry-dir>",
		Short: "Validate entity and link declarations",
		Long: `Validate the CUE entity and link declarations of a registry directory.

Reports unknown relation endpoints, duplicate listeners and relation
names, missing aliases and invalid identifiers. Cycles in the relation
graph are reported as warnings.

Exit codes:
  0 - Registry valid (warnings allowed)
  1 - Validation errors
  2 - Registry could not be loaded`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	src, schema, err := loadSchema(dir)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			if loadErr.Code == ErrCodeCompileFailed {
				return outputValidationErrors(formatter, []compiler.ValidationError{{
					Field:   "cue",
					Message: loadErr.Message,
					Code:    loadErr.Code,
					Line:    loadErr.Line(),
				}})
			}
			return formatter.fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", len(src.Files), dir)
	for _, ent := range schema.Entities {
		formatter.VerboseLog("Validating entity: %s", ent.Name)
	}
	for _, lnk := range schema.Links {
		formatter.VerboseLog("Validating link: %s", lnk.Name)
	}

	if verrs := compiler.Validate(schema); len(verrs) > 0 {
		return outputValidationErrors(formatter, verrs)
	}

	reg, err := schema.Registry()
	if err != nil {
		return outputValidationErrors(formatter, []compiler.ValidationError{{
			Field:   "registry",
			Message: err.Error(),
			Code:    ErrCodeGeneric,
		}})
	}

	return outputValidateSuccess(formatter, ValidationResult{
		Valid:    true,
		Entities: len(schema.Entities),
		Links:    len(schema.Links),
		Events:   len(reg.Events()),
		Warnings: compiler.AnalyzeCycles(reg),
	})
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Registry valid: %d entities, %d links, %d events\n",
		result.Entities, result.Links, result.Events)
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn.Message)
	}
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		result := ValidationResult{Valid: false, Errors: errs}
		if err := formatter.Failure(errs[0].Code, errs[0].Message, result); err != nil {
			return err
		}
		return exitErr
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(w, "line %d\n", err.Line)
		}
		fmt.Fprintf(w, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return exitErr
}
