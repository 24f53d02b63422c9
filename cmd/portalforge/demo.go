package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/portalforge/pkg/fn"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Call one of the bundled demo pure functions",
}

func init() {
	factorialCmd := &cobra.Command{
		Use:   "factorial",
		Short: "Compute n! through the memoized pure pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("n")
			return runDemo(cmd, func(fns *demoFns) (any, error) {
				return fns.Factorial.Execute(fn.KwArgs{"n": n})
			})
		},
	}
	factorialCmd.Flags().Int("n", 5, "input to factorial")

	fibCmd := &cobra.Command{
		Use:   "fib",
		Short: "Compute the nth Fibonacci number through the memoized pure pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("n")
			return runDemo(cmd, func(fns *demoFns) (any, error) {
				return fns.Fib.Execute(fn.KwArgs{"n": n})
			})
		},
	}
	fibCmd.Flags().Int("n", 10, "input to fib")

	parityCmd := &cobra.Command{
		Use:   "parity",
		Short: "Report isEven/isOdd for n through mutually-recursive pure functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("n")
			return runDemo(cmd, func(fns *demoFns) (any, error) {
				even, err := fns.IsEven.Execute(fn.KwArgs{"n": n})
				if err != nil {
					return nil, err
				}
				odd, err := fns.IsOdd.Execute(fn.KwArgs{"n": n})
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("isEven(%d)=%v isOdd(%d)=%v", n, even, n, odd), nil
			})
		},
	}
	parityCmd.Flags().Int("n", 24, "input to isEven/isOdd")

	demoCmd.AddCommand(factorialCmd, fibCmd, parityCmd)
}

// runDemo opens the portal named by --data-dir, runs call against the
// resulting demoFns, and prints the result.
func runDemo(cmd *cobra.Command, call func(*demoFns) (any, error)) error {
	dir, _ := cmd.Flags().GetString("data-dir")
	p, _, _, fns, err := setupPortal(dir)
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := call(fns)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}
