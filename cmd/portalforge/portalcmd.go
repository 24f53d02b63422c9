package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var portalCmd = &cobra.Command{
	Use:   "portal",
	Short: "Inspect a portal's on-disk state",
}

func init() {
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the portal's fingerprint and the size of each substore",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("data-dir")

			p, _, stores, _, err := setupPortal(dir)
			if err != nil {
				return err
			}
			defer p.Close()

			fmt.Printf("dir:         %s\n", p.Dir())
			fmt.Printf("fingerprint: %s\n", p.Fingerprint())

			results, err := stores.Results.Len()
			if err != nil {
				return err
			}
			requests, err := stores.Requests.Len()
			if err != nil {
				return err
			}
			callSigs, err := stores.CallSignatures.Len()
			if err != nil {
				return err
			}
			fmt.Printf("results:         %d\n", results)
			fmt.Printf("pending requests: %d\n", requests)
			fmt.Printf("call signatures: %d\n", callSigs)
			fmt.Println("registered demo functions: factorial, fib, isEven, isOdd")

			return nil
		},
	}

	portalCmd.AddCommand(inspectCmd)
}
