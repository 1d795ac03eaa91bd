package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewHeadersCommand creates the headers command.
func NewHeadersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "headers",
		Short: "Resolve the headers a program must include",
		Long: `Trace the includes of every header under the configured header directory
and print the minimal set of library headers a program needs, the system
headers they pull in and any include cycles found.

Example:
  apifuzz headers --config zlib.cue
  apifuzz headers --config zlib.cue --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeaders(rootOpts, cmd)
		},
	}
}

func runHeaders(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	p, err := loadProject(opts)
	if err != nil {
		return stepError(formatter, "headers", err)
	}

	res, err := p.resolver.Resolve(commandContext(cmd))
	if err != nil {
		return stepError(formatter, "headers", err)
	}

	return formatter.Text(res, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Resolved headers in %s\n\n", p.resolver.Dir())
		fmt.Fprintln(w, "Required includes:")
		for _, h := range res.RequiredIncludes {
			fmt.Fprintf(w, "  #include %q\n", h)
		}
		if len(res.SystemHeaders) > 0 {
			fmt.Fprintln(w, "\nSystem headers:")
			for _, h := range res.SystemHeaders {
				fmt.Fprintf(w, "  #include <%s>\n", h)
			}
		}
		if len(res.Cycles) > 0 {
			fmt.Fprintln(w, "\nInclude cycles:")
			for _, c := range res.Cycles {
				fmt.Fprintf(w, "  %s\n", strings.Join(c.Path, " -> "))
			}
		}
	})
}
