package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maauso/speakerscribe/internal/timecode"
)

func newParseTimeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse-time <time> [end]",
		Short: "Check a timestamp or time range the way speaker files are read",
		Long: `Parse a timestamp written as mm:ss or h:mm:ss and print it in seconds.

With two arguments the pair is read as a speaker sample range, which must
end after it starts.`,
		Example: `  speakerscribe parse-time 01:30
  speakerscribe parse-time 0:59:30 1:00:10`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				sec, err := timecode.Parse(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%g\n", sec)
				return nil
			}

			r, err := timecode.ParseRange(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%g-%g (%gs)\n", r.Start, r.End, r.Duration())
			return nil
		},
	}
}
