package cli

import (
	"github.com/spf13/cobra"

	"github.com/Bing-dwendwen/fuzzyhnsw/internal/hashenc"
)

var encodeOrder string

var encodeCmd = &cobra.Command{
	Use:   "encode [hash...]",
	Short: "Print the integer vector of a hash",
	Long: `Pads each hash with '0' to a multiple of 8 characters and prints one
unsigned 32-bit word per 8-character group. In little-endian order (the
default) the byte pairs of every group are reversed before parsing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncode,
}

func init() {
	encodeCmd.Flags().StringVar(&encodeOrder, "order", "", "byte order: little or big (default: data.byte_order)")
	rootCmd.AddCommand(encodeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	order, err := appConfig.ByteOrder()
	if err != nil {
		return err
	}
	if encodeOrder != "" {
		if order, err = hashenc.ParseByteOrder(encodeOrder); err != nil {
			return err
		}
	}

	for _, hash := range args {
		words, err := hashenc.Encode(hash, order)
		if err != nil {
			return err
		}
		cmd.Printf("%s", hash)
		for _, w := range words {
			cmd.Printf(" %d", w)
		}
		cmd.Println()
	}
	return nil
}
