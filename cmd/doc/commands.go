package doc

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/document"
	"github.com/spf13/cobra"
)

var (
	insertCmd = &cobra.Command{
		Use:   "insert [collection] [document]",
		Short: "Inserts a document and prints its _id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := util.ParseObjectArg("document", args[1])
			if err != nil {
				return err
			}
			id, err := rpcStore.Insert(args[0], doc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [collection] [query] [update]",
		Short: "Merges the fields of update into all documents matching query",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := util.ParseObjectArg("query", args[1])
			if err != nil {
				return err
			}
			patch, err := util.ParseObjectArg("update", args[2])
			if err != nil {
				return err
			}
			n, err := rpcStore.Update(args[0], query, patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "modified %d\n", n)
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [collection] [query]",
		Short: "Deletes all documents matching query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := util.ParseObjectArg("query", args[1])
			if err != nil {
				return err
			}
			n, err := rpcStore.Delete(args[0], query)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", n)
			return nil
		},
	}
	findCmd = &cobra.Command{
		Use:   "find [collection] [query]",
		Short: "Prints all documents matching query, one per line (query defaults to {})",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := optionalQuery(args)
			if err != nil {
				return err
			}
			docs, err := rpcStore.Find(args[0], query)
			if err != nil {
				return err
			}
			printDocuments(cmd.OutOrStdout(), docs...)
			return nil
		},
	}
	findOneCmd = &cobra.Command{
		Use:   "find-one [collection] [query]",
		Short: "Prints the first document matching query or null (query defaults to {})",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := optionalQuery(args)
			if err != nil {
				return err
			}
			doc, found, err := rpcStore.FindOne(args[0], query)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "null")
				return nil
			}
			printDocuments(cmd.OutOrStdout(), doc)
			return nil
		},
	}
	collectionsCmd = &cobra.Command{
		Use:   "collections",
		Short: "Lists all collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := rpcStore.ListCollections()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
)

func optionalQuery(args []string) (*document.Object, error) {
	if len(args) < 2 {
		return document.NewObject(), nil
	}
	return util.ParseObjectArg("query", args[1])
}

func printDocuments(w io.Writer, docs ...*document.Object) {
	for _, doc := range docs {
		fmt.Fprintln(w, doc.String())
	}
}
